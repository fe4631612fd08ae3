package entity

import (
	"fmt"

	"github.com/google/uuid"

	"worldsync.dev/internal/wire"
)

// Simulation is notified when a replicated change touched physics state.
type Simulation interface {
	Changed(e *Entity)
}

// SpatialIndex is notified when a replicated change moved or resized an
// entity's bounds.
type SpatialIndex interface {
	BoundsChanged(e *Entity)
}

// EditTracker observes every parsed incoming record, stale ones included,
// for stats and the edit index.
type EditTracker interface {
	TrackIncomingEdit(editedAt uint64, bytes int)
}

// ReadParams carries the per-packet decode context.
type ReadParams struct {
	Version    uint16
	ClockSkew  int64 // sender clock minus local clock, in µs
	SourceNode uuid.UUID
	LocalNode  uuid.UUID
	Index      SpatialIndex
	Simulation Simulation
	Actions    ActionFactory
	Tracker    EditTracker
	Now        uint64 // 0 means read the entity clock
}

// ReadRecordHeader reads the record identity, which the arena needs before
// it can route the rest of the record to an entity.
func ReadRecordHeader(r *wire.Reader) (uuid.UUID, EntityType, error) {
	id, err := r.UUID()
	if err != nil {
		return uuid.Nil, TypeUnknown, err
	}
	typ, err := r.Uvarint()
	if err != nil {
		return uuid.Nil, TypeUnknown, err
	}
	return id, EntityType(typ), nil
}

// adjustRemoteStamp converts a remote µs stamp to the local clock and
// refuses to let it land in the future.
func adjustRemoteStamp(raw uint64, skew int64, now uint64) uint64 {
	adjusted := int64(raw) - skew
	if adjusted < 0 {
		adjusted = 0
	}
	if uint64(adjusted) > now {
		return now
	}
	return uint64(adjusted)
}

// ReadEntityData decodes one record body (everything after the identity
// header) and reconciles it against local state.
//
// The arbiter: an incoming edit is rejected as stale when the local record
// is newer, comparing in remote time when the packet echoes the same remote
// edit we already hold and in adjusted local time otherwise. A rejected
// record is still fully parsed so the cursor lands on the next record, and
// simulation ownership is applied either way.
func (e *Entity) ReadEntityData(r *wire.Reader, params ReadParams) (int, error) {
	start := r.Offset()
	now := params.Now
	if now == 0 {
		now = e.cfg.Clock()
	}

	createdRaw, err := r.U64()
	if err != nil {
		return 0, err
	}
	if e.created == UnknownCreatedTime && createdRaw != UnknownCreatedTime {
		e.created = adjustRemoteStamp(createdRaw, params.ClockSkew, now)
	}

	lastEditedRaw, err := r.U64()
	if err != nil {
		return 0, err
	}
	adjusted := adjustRemoteStamp(lastEditedRaw, params.ClockSkew, now)

	fromSameServerEdit := lastEditedRaw == e.lastEditedFromRemoteInRemoteTime
	overwrite := true
	if fromSameServerEdit {
		// matching remote stamps compare in remote time, immune to skew drift
		if e.lastEdited > e.lastEditedFromRemote {
			overwrite = false
		}
	} else if e.lastEdited > adjusted {
		overwrite = false
	}
	if overwrite {
		e.lastEdited = adjusted
		e.lastEditedFromRemote = now
		e.lastEditedFromRemoteInRemoteTime = lastEditedRaw
		if adjusted > e.changedOnServer {
			e.changedOnServer = adjusted
		}
	}

	updateDelta, err := r.Uvarint()
	if err != nil {
		return 0, err
	}
	if overwrite {
		e.lastUpdated = adjusted + updateDelta
	}

	lastSimulatedFromBuffer := adjusted
	if params.Version >= wire.VersionHasLastSimulated {
		simulatedDelta, err := r.Uvarint()
		if err != nil {
			return 0, err
		}
		if overwrite {
			lastSimulatedFromBuffer = adjusted + simulatedDelta
			if lastSimulatedFromBuffer > now {
				lastSimulatedFromBuffer = now
			}
		}
	}

	flags, err := r.Flags()
	if err != nil {
		return 0, err
	}
	if flags >= wire.PropertyFlags(1)<<wire.NumProperties {
		return 0, fmt.Errorf("%w: unknown property flags %#x", wire.ErrBadCount, uint64(flags))
	}

	weOwnSim := e.owner.Matches(params.LocalNode)
	ctx := &readContext{params: params, weOwnSim: weOwnSim}

	var dirtyBefore = e.dirty
	for i := range propertyTable {
		pc := &propertyTable[i]
		if !flags.Has(pc.flag) {
			continue
		}
		apply := overwrite
		if pc.terse && weOwnSim {
			apply = false
		}
		if pc.always {
			apply = true
		}
		if err := pc.read(e, r, apply, ctx); err != nil {
			return 0, fmt.Errorf("property %d: %w", pc.flag, err)
		}
	}

	// the buffer's motion state is stamped in the past; step it forward to
	// now without re-flagging what the packet itself changed
	if overwrite && e.dirty&(DirtyTransform|DirtyVelocities) != 0 {
		dt := float32(0)
		if now > lastSimulatedFromBuffer {
			dt = float32(now-lastSimulatedFromBuffer) / usecsPerSecond
		}
		if dt > maxKinematicStep {
			dt = maxKinematicStep
		}
		e.SimulateKinematicMotion(dt, false)
	}
	if overwrite && !weOwnSim {
		e.lastSimulated = now
	}

	bytesRead := r.Offset() - start
	// stats count every parsed record, stale rejects included
	if params.Tracker != nil {
		params.Tracker.TrackIncomingEdit(adjusted, bytesRead)
	}
	if overwrite {
		e.sourceNode = params.SourceNode
		changed := e.dirty &^ dirtyBefore
		if params.Index != nil && changed&(DirtyTransform|DirtyShape) != 0 {
			params.Index.BoundsChanged(e)
		}
		if params.Simulation != nil && e.dirty != dirtyBefore {
			params.Simulation.Changed(e)
		}
	}
	return bytesRead, nil
}
