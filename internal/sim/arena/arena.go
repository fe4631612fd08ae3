// Package arena holds the live entity set: lookup, replication ingest and
// egress, lifetime expiry, and the deletion tombstones that keep removed ids
// from coming back on stale packets.
package arena

import (
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"worldsync.dev/internal/entity"
	"worldsync.dev/internal/wire"
)

var (
	ErrEntityExists  = errors.New("arena: entity id already present")
	ErrEntityUnknown = errors.New("arena: no entity with that id")
	ErrEntityDeleted = errors.New("arena: entity id is tombstoned")
	ErrEntityLocked  = errors.New("arena: entity is locked")
)

// EditLogger records accepted edits. Implemented in internal/persistence/log.
type EditLogger interface {
	WriteEdit(e EditLogEntry) error
}

// EditIndexer records per-edit stats. Implemented in internal/persistence/indexdb.
type EditIndexer interface {
	IndexEdit(e EditLogEntry)
}

// EditLogEntry is one accepted replication record.
type EditLogEntry struct {
	EntityID uuid.UUID `json:"entity_id"`
	EditedAt uint64    `json:"edited_at"`
	Source   uuid.UUID `json:"source"`
	Bytes    int       `json:"bytes"`
}

// Config tunes a new arena.
type Config struct {
	Entity entity.Config
	// DeletedTTL is how long (µs) a deleted id stays tombstoned.
	DeletedTTL uint64
	// LocalNode identifies this peer for ownership arbitration.
	LocalNode uuid.UUID
	// Actions builds replicated actions; nil drops action ledgers on ingest.
	Actions entity.ActionFactory
}

// Arena is the entity container. It serializes structural mutation behind
// one lock and implements the spatial-index collaborator for its entities.
type Arena struct {
	cfg Config
	sim *Simulation

	mu         sync.RWMutex
	entities   map[uuid.UUID]*entity.Entity
	tombstones map[uuid.UUID]uint64

	cont *wire.ContinuationState

	// optional sinks (may be nil)
	editLogger  EditLogger
	editIndexer EditIndexer
}

func New(cfg Config) *Arena {
	if cfg.DeletedTTL == 0 {
		cfg.DeletedTTL = 60_000_000
	}
	if cfg.Entity.Clock == nil {
		cfg.Entity.Clock = entity.SystemClock
	}
	return &Arena{
		cfg:        cfg,
		sim:        NewSimulation(),
		entities:   make(map[uuid.UUID]*entity.Entity),
		tombstones: make(map[uuid.UUID]uint64),
		cont:       wire.NewContinuationState(),
	}
}

func (a *Arena) SetEditLogger(l EditLogger)   { a.editLogger = l }
func (a *Arena) SetEditIndexer(i EditIndexer) { a.editIndexer = i }

// Simulation exposes the kinematic stepper sharing this arena's entities.
func (a *Arena) Simulation() *Simulation { return a.sim }

func (a *Arena) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.entities)
}

func (a *Arena) Get(id uuid.UUID) (*entity.Entity, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	e, ok := a.entities[id]
	return e, ok
}

// Add creates and registers a new entity. A tombstoned id is refused until
// its tombstone expires.
func (a *Arena) Add(id uuid.UUID, typ entity.EntityType) (*entity.Entity, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.addLocked(id, typ)
}

func (a *Arena) addLocked(id uuid.UUID, typ entity.EntityType) (*entity.Entity, error) {
	if _, ok := a.entities[id]; ok {
		return nil, fmt.Errorf("%w: %s", ErrEntityExists, id)
	}
	if _, dead := a.tombstones[id]; dead {
		return nil, fmt.Errorf("%w: %s", ErrEntityDeleted, id)
	}
	e := entity.New(id, typ, a.cfg.Entity)
	e.SetIndexed(true)
	a.entities[id] = e
	a.sim.Track(e)
	return e, nil
}

// Remove deletes an entity, honoring its destruction contract: the ledger
// is cleared and both backreferences dropped before release, and the id is
// tombstoned. A locked entity cannot be removed over the wire.
func (a *Arena) Remove(id uuid.UUID, force bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	e, ok := a.entities[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrEntityUnknown, id)
	}
	if e.Locked() && !force {
		return fmt.Errorf("%w: %s", ErrEntityLocked, id)
	}
	e.ClearActions()
	a.sim.Untrack(e)
	e.SetIndexed(false)
	if err := e.Release(); err != nil {
		return err
	}
	delete(a.entities, id)
	a.tombstones[id] = a.cfg.Entity.Clock()
	a.cont.Update(id, 0)
	return nil
}

// IsDeleted reports whether id carries a live tombstone.
func (a *Arena) IsDeleted(id uuid.UUID) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	_, dead := a.tombstones[id]
	return dead
}

// PruneDeleted drops tombstones older than the configured TTL.
func (a *Arena) PruneDeleted(now uint64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for id, at := range a.tombstones {
		if now-at > a.cfg.DeletedTTL {
			delete(a.tombstones, id)
		}
	}
}

// PruneExpired removes entities whose lifetime ran out and returns their ids.
func (a *Arena) PruneExpired() []uuid.UUID {
	a.mu.Lock()
	defer a.mu.Unlock()
	var expired []uuid.UUID
	for id, e := range a.entities {
		if e.LifetimeExpired() {
			expired = append(expired, id)
		}
	}
	for _, id := range expired {
		e := a.entities[id]
		e.ClearActions()
		a.sim.Untrack(e)
		e.SetIndexed(false)
		if err := e.Release(); err != nil {
			continue
		}
		delete(a.entities, id)
		a.tombstones[id] = a.cfg.Entity.Clock()
	}
	return expired
}

// BoundsChanged implements the entity spatial-index hook.
func (a *Arena) BoundsChanged(e *entity.Entity) {
	// bounds are recomputed lazily from the entity caches; nothing to do
	// here until a partitioned index needs rebucketing
}

// TrackIncomingEdit implements the entity edit-stats hook by fanning out to
// the configured sinks.
type editTracker struct {
	a   *Arena
	id  uuid.UUID
	src uuid.UUID
}

func (t editTracker) TrackIncomingEdit(editedAt uint64, bytes int) {
	entry := EditLogEntry{
		EntityID: t.id,
		EditedAt: editedAt,
		Source:   t.src,
		Bytes:    bytes,
	}
	if t.a.editLogger != nil {
		_ = t.a.editLogger.WriteEdit(entry)
	}
	if t.a.editIndexer != nil {
		t.a.editIndexer.IndexEdit(entry)
	}
}

// IngestResult summarizes one ReadPacket call.
type IngestResult struct {
	Records int
	Created int
	Skipped int
	Bytes   int
}

// ReadPacket decodes every record in buf. Records for tombstoned ids are
// parsed into a scratch entity so the cursor stays aligned but nothing is
// applied. Unknown ids are created on the fly.
func (a *Arena) ReadPacket(buf []byte, version uint16, skew int64, source uuid.UUID) (IngestResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	var res IngestResult
	r := wire.NewReader(buf)
	for r.Remaining() > 0 {
		id, typ, err := entity.ReadRecordHeader(r)
		if err != nil {
			return res, err
		}

		e, ok := a.entities[id]
		_, dead := a.tombstones[id]
		discard := false
		switch {
		case dead:
			e = entity.New(id, typ, a.cfg.Entity)
			discard = true
		case !ok:
			e, err = a.addLocked(id, typ)
			if err != nil {
				return res, err
			}
			res.Created++
		}

		params := entity.ReadParams{
			Version:    version,
			ClockSkew:  skew,
			SourceNode: source,
			LocalNode:  a.cfg.LocalNode,
		}
		if !discard {
			params.Index = a
			params.Simulation = a.sim
			params.Actions = a.cfg.Actions
			params.Tracker = editTracker{a: a, id: id, src: source}
		}
		n, err := e.ReadEntityData(r, params)
		if err != nil {
			return res, fmt.Errorf("record %s: %w", id, err)
		}
		res.Records++
		res.Bytes += n
		if discard {
			res.Skipped++
		}
	}
	return res, nil
}

// AppendUpdates encodes entity records into p until the budget runs out,
// resuming any partial records from earlier packets first. It returns the
// number of complete or partial records written.
func (a *Arena) AppendUpdates(p *wire.Packet, version uint16) int {
	a.mu.Lock()
	defer a.mu.Unlock()

	written := 0
	emit := func(e *entity.Entity) bool {
		requested := a.cont.Requested(e.ID(), e.EntityProperties())
		state, residual := e.AppendEntityData(p, requested, version)
		a.cont.Update(e.ID(), residual)
		if state == wire.AppendNone {
			return false
		}
		written++
		return state != wire.AppendPartial
	}

	resumed := make(map[uuid.UUID]struct{})
	for _, id := range a.cont.PendingIDs() {
		e, ok := a.entities[id]
		if !ok {
			a.cont.Update(id, 0)
			continue
		}
		resumed[id] = struct{}{}
		if !emit(e) {
			return written
		}
	}
	for id, e := range a.entities {
		if _, ok := resumed[id]; ok {
			continue
		}
		if !emit(e) {
			return written
		}
	}
	return written
}

// EncodeAll writes a complete record for every entity, ignoring the
// continuation state. Snapshots use it to capture a restorable stream.
func (a *Arena) EncodeAll(version uint16) ([]byte, int) {
	a.mu.Lock()
	defer a.mu.Unlock()

	var out []byte
	count := 0
	for _, e := range a.entities {
		p := wire.NewPacket(1 << 20)
		state, _ := e.AppendEntityData(p, e.EntityProperties(), version)
		if state != wire.AppendCompleted {
			continue
		}
		out = append(out, p.Bytes()...)
		count++
	}
	return out, count
}

// QueryCube returns the entities whose advertised query cube intersects the
// given cube.
// The write lock is held because querying refreshes lazy bound caches.
func (a *Arena) QueryCube(c entity.AACube) []*entity.Entity {
	a.mu.Lock()
	defer a.mu.Unlock()
	var hits []*entity.Entity
	for _, e := range a.entities {
		q := e.QueryCube()
		if cubesIntersect(c, q) {
			hits = append(hits, e)
		}
	}
	return hits
}

func cubesIntersect(a, b entity.AACube) bool {
	return a.Corner.X <= b.Corner.X+b.Scale && b.Corner.X <= a.Corner.X+a.Scale &&
		a.Corner.Y <= b.Corner.Y+b.Scale && b.Corner.Y <= a.Corner.Y+a.Scale &&
		a.Corner.Z <= b.Corner.Z+b.Scale && b.Corner.Z <= a.Corner.Z+a.Scale
}
