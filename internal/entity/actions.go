package entity

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"worldsync.dev/internal/wire"
)

// Action is a constraint or motor attached to an entity. Implementations
// live outside this package; the ledger only frames and replicates them.
type Action interface {
	ID() uuid.UUID
	Type() uint32
	// Encode returns the action payload as replicated inside the action blob.
	Encode() []byte
	// Update applies a replicated payload to the live action.
	Update(payload []byte) error
	// SuppressesLocationEdits reports whether the action is authoritative
	// over the entity transform while attached.
	SuppressesLocationEdits() bool
}

// ActionFactory builds actions from replicated blobs. Unknown types return
// an error; the ledger drops that one action and keeps the rest.
type ActionFactory interface {
	Build(e *Entity, id uuid.UUID, typ uint32, payload []byte) (Action, error)
}

var (
	ErrActionExists   = errors.New("entity: action id already attached")
	ErrActionUnknown  = errors.New("entity: no action with that id")
	ErrActionDataSize = errors.New("entity: action data exceeds limit")
)

// HasActions reports whether any action is attached.
func (e *Entity) HasActions() bool {
	e.actionsMu.RLock()
	defer e.actionsMu.RUnlock()
	return len(e.actions) > 0
}

// Action returns the attached action with the given id.
func (e *Entity) Action(id uuid.UUID) (Action, bool) {
	e.actionsMu.RLock()
	defer e.actionsMu.RUnlock()
	a, ok := e.actions[id]
	return a, ok
}

// ActionIDs lists the attached action ids.
func (e *Entity) ActionIDs() []uuid.UUID {
	e.actionsMu.RLock()
	defer e.actionsMu.RUnlock()
	ids := make([]uuid.UUID, 0, len(e.actions))
	for id := range e.actions {
		ids = append(ids, id)
	}
	return ids
}

// ActionData returns the framed blob for the wire.
func (e *Entity) ActionData() []byte {
	e.actionsMu.RLock()
	defer e.actionsMu.RUnlock()
	return e.actionDataCache
}

// ActionsNeedTransmit reports a local ledger change not yet broadcast.
func (e *Entity) ActionsNeedTransmit() bool {
	e.actionsMu.RLock()
	defer e.actionsMu.RUnlock()
	return e.actionsNeedTx
}

func (e *Entity) ClearActionsNeedTransmit() {
	e.actionsMu.Lock()
	e.actionsNeedTx = false
	e.actionsMu.Unlock()
}

func (e *Entity) shouldSuppressLocationEdits() bool {
	e.actionsMu.RLock()
	defer e.actionsMu.RUnlock()
	for _, a := range e.actions {
		if a.SuppressesLocationEdits() {
			return true
		}
	}
	return false
}

// AddAction attaches a locally-created action. The commit fails without
// side effects if the resulting blob would exceed the size limit.
func (e *Entity) AddAction(a Action) error {
	e.actionsMu.Lock()
	defer e.actionsMu.Unlock()
	e.checkWaitingToRemove()
	id := a.ID()
	if _, ok := e.actions[id]; ok {
		return fmt.Errorf("%w: %s", ErrActionExists, id)
	}
	e.actions[id] = a
	cache, err := e.encodeActions()
	if err != nil {
		delete(e.actions, id)
		return err
	}
	e.actionDataCache = cache
	e.actionsLocallyNew[id] = struct{}{}
	delete(e.actionTombstones, id)
	e.actionsNeedTx = true
	e.actionDataDirty = true
	e.dirty |= DirtyPhysicsActivation
	return nil
}

// UpdateAction re-parameterizes an attached action.
func (e *Entity) UpdateAction(id uuid.UUID, payload []byte) error {
	e.actionsMu.Lock()
	defer e.actionsMu.Unlock()
	e.checkWaitingToRemove()
	a, ok := e.actions[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrActionUnknown, id)
	}
	if err := a.Update(payload); err != nil {
		return err
	}
	cache, err := e.encodeActions()
	if err != nil {
		return err
	}
	e.actionDataCache = cache
	e.actionsNeedTx = true
	e.actionDataDirty = true
	e.dirty |= DirtyPhysicsActivation
	return nil
}

// RemoveAction detaches an action and tombstones its id so a stale packet
// cannot resurrect it.
func (e *Entity) RemoveAction(id uuid.UUID) error {
	e.actionsMu.Lock()
	defer e.actionsMu.Unlock()
	e.checkWaitingToRemove()
	if _, ok := e.actions[id]; !ok {
		return fmt.Errorf("%w: %s", ErrActionUnknown, id)
	}
	e.removeActionLocked(id)
	e.actionsNeedTx = true
	e.actionDataDirty = true
	return nil
}

// ClearActions detaches everything, tombstoning each id.
func (e *Entity) ClearActions() {
	e.actionsMu.Lock()
	defer e.actionsMu.Unlock()
	for id := range e.actions {
		e.removeActionLocked(id)
	}
	e.actionsNeedTx = true
	e.actionDataDirty = true
}

// removeActionLocked assumes the write lock is held and the cache is
// rebuilt by the caller or within; removal never fails on size.
func (e *Entity) removeActionLocked(id uuid.UUID) {
	e.actionTombstones[id] = e.cfg.Clock()
	delete(e.actions, id)
	delete(e.actionsLocallyNew, id)
	cache, err := e.encodeActions()
	if err == nil {
		e.actionDataCache = cache
	}
	e.dirty |= DirtyPhysicsActivation
}

// ScheduleActionRemoval queues a removal for the next ledger operation.
func (e *Entity) ScheduleActionRemoval(id uuid.UUID) {
	e.actionsMu.Lock()
	e.actionsToRemove[id] = struct{}{}
	e.actionsMu.Unlock()
}

func (e *Entity) checkWaitingToRemove() {
	for id := range e.actionsToRemove {
		if _, ok := e.actions[id]; ok {
			e.removeActionLocked(id)
		}
		delete(e.actionsToRemove, id)
	}
}

// SetActionData ingests a replicated blob. A blob identical to the current
// cache skips decoding, but still counts as an echo: the cache is the exact
// encoding of the attached set, so every attached id is present in the blob
// and its locally-new mark is cleared.
func (e *Entity) SetActionData(data []byte, factory ActionFactory) error {
	e.actionsMu.Lock()
	defer e.actionsMu.Unlock()
	if bytes.Equal(e.actionDataCache, data) {
		for id := range e.actions {
			delete(e.actionsLocallyNew, id)
		}
		return nil
	}
	return e.decodeActionsLocked(data, factory)
}

func (e *Entity) pruneTombstonesLocked(now uint64) {
	ttl := e.cfg.ActionTombstoneTTL
	for id, at := range e.actionTombstones {
		if now-at > ttl {
			delete(e.actionTombstones, id)
		}
	}
}

// decodeActionsLocked applies a replicated blob: tombstoned ids are skipped,
// known ids are updated, unknown ids are built through the factory, and
// local ids absent from the blob are removed unless they were added here and
// have not yet echoed back from the authority.
func (e *Entity) decodeActionsLocked(data []byte, factory ActionFactory) error {
	now := e.cfg.Clock()
	e.pruneTombstonesLocked(now)

	seen := make(map[uuid.UUID]struct{})
	if len(data) > 0 {
		r := wire.NewReader(data)
		count, err := r.Uvarint()
		if err != nil {
			return fmt.Errorf("action blob: %w", err)
		}
		for i := uint64(0); i < count; i++ {
			blob, err := r.Bytes()
			if err != nil {
				return fmt.Errorf("action blob: %w", err)
			}
			br := wire.NewReader(blob)
			typ, err := br.Uvarint()
			if err != nil {
				return fmt.Errorf("action blob: %w", err)
			}
			id, err := br.UUID()
			if err != nil {
				return fmt.Errorf("action blob: %w", err)
			}
			payload := blob[br.Offset():]

			if _, dead := e.actionTombstones[id]; dead {
				continue
			}
			if a, ok := e.actions[id]; ok {
				if err := a.Update(payload); err == nil {
					seen[id] = struct{}{}
					delete(e.actionsLocallyNew, id)
				}
				continue
			}
			a, err := factory.Build(e, id, uint32(typ), payload)
			if err != nil {
				// unknown or malformed type: drop this one, keep the rest
				continue
			}
			e.actions[id] = a
			seen[id] = struct{}{}
		}
	}

	for id := range e.actions {
		if _, ok := seen[id]; ok {
			continue
		}
		if _, mine := e.actionsLocallyNew[id]; mine {
			continue
		}
		e.actionsToRemove[id] = struct{}{}
		e.actionTombstones[id] = now
	}
	e.checkWaitingToRemove()

	cache, err := e.encodeActions()
	if err != nil {
		return err
	}
	e.actionDataCache = cache
	e.actionDataDirty = true
	return nil
}

// encodeActions frames the attached actions in id order so equal ledgers
// always produce equal blobs. Each record is a length-prefixed blob of
// uvarint type, raw id, then the payload.
func (e *Entity) encodeActions() ([]byte, error) {
	if len(e.actions) == 0 {
		return nil, nil
	}
	ids := make([]uuid.UUID, 0, len(e.actions))
	for id := range e.actions {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		return bytes.Compare(ids[i][:], ids[j][:]) < 0
	})
	out := binary.AppendUvarint(nil, uint64(len(e.actions)))
	for _, id := range ids {
		a := e.actions[id]
		blob := binary.AppendUvarint(nil, uint64(a.Type()))
		blob = append(blob, id[:]...)
		blob = append(blob, a.Encode()...)
		out = binary.AppendUvarint(out, uint64(len(blob)))
		out = append(out, blob...)
	}
	if len(out) >= e.cfg.MaxActionDataSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrActionDataSize, len(out))
	}
	return out, nil
}
