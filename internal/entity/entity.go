package entity

import (
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"worldsync.dev/internal/mathx"
)

// Config carries the per-module limits that used to be process-wide
// globals. It is injected at construction; defaults apply for zero fields.
type Config struct {
	// MaxActionDataSize caps the serialized action cache (bytes).
	MaxActionDataSize int

	// ActionTombstoneTTL is how long (µs) a removed action id is remembered
	// to keep a stale packet from resurrecting it.
	ActionTombstoneTTL uint64

	// Clock supplies the µs timestamp source.
	Clock Clock
}

func (c Config) withDefaults() Config {
	if c.MaxActionDataSize == 0 {
		c.MaxActionDataSize = 800
	}
	if c.ActionTombstoneTTL == 0 {
		c.ActionTombstoneTTL = 20 * usecsPerSecond
	}
	if c.Clock == nil {
		c.Clock = SystemClock
	}
	return c
}

// Entity is one networked object record. It is mutated from the network
// ingest path and read from the simulation step; except for the published
// pose and the action ledger (which carry their own locks), callers
// serialize access through the owning arena.
type Entity struct {
	cfg Config

	id  uuid.UUID
	typ EntityType

	created       uint64
	lastEdited    uint64 // last official local or remote edit
	lastUpdated   uint64 // non-physical changes (animation, script state)
	lastSimulated uint64 // physical integration clock
	lastBroadcast uint64 // last time we sent an edit packet for this entity

	lastEditedFromRemote             uint64 // local receipt time of the last accepted remote edit
	lastEditedFromRemoteInRemoteTime uint64 // the same edit, in the sender's clock
	changedOnServer                  uint64

	position          mathx.Vec3
	rotation          mathx.Quat
	dimensions        mathx.Vec3
	registrationPoint mathx.Vec3 // ratio of dimensions, each axis in [0,1]

	velocity        mathx.Vec3
	gravity         mathx.Vec3
	acceleration    mathx.Vec3
	angularVelocity mathx.Vec3
	damping         float32
	angularDamping  float32
	restitution     float32
	friction        float32
	density         float32

	script            string
	scriptTimestamp   uint64
	collisionSoundURL string
	lifetime          float32
	visible           bool
	collisionless     bool
	collisionMask     uint8
	dynamic           bool
	locked            bool
	userData          string
	marketplaceID     string
	name              string
	href              string
	description       string

	parentID         uuid.UUID
	parentJointIndex uint16

	queryCube    AACube
	queryCubeSet bool
	cachedAABox  AABox
	maxCube      AACube
	minCube      AACube
	recalcAABox  bool
	recalcMax    bool
	recalcMin    bool

	owner      SimulationOwner
	dirty      uint32
	sourceNode uuid.UUID

	// Backreference markers, set/cleared only by the collaborators that own
	// them. Release refuses to proceed while any is still set.
	simulated bool
	indexed   bool

	poseMu sync.RWMutex
	pose   Pose

	actionsMu         sync.RWMutex
	actions           map[uuid.UUID]Action
	actionDataCache   []byte
	actionDataDirty   bool
	actionsNeedTx     bool
	actionsToRemove   map[uuid.UUID]struct{}
	actionTombstones  map[uuid.UUID]uint64 // id → removal time
	actionsLocallyNew map[uuid.UUID]struct{}
}

// New creates a record with an unknown creation time; timestamps are
// populated on the first commit (RecordCreationTime or an accepted packet).
func New(id uuid.UUID, typ EntityType, cfg Config) *Entity {
	cfg = cfg.withDefaults()
	now := cfg.Clock()
	return &Entity{
		cfg:               cfg,
		id:                id,
		typ:               typ,
		created:           UnknownCreatedTime,
		lastSimulated:     now,
		lastUpdated:       now,
		rotation:          mathx.IdentityQuat,
		dimensions:        defaultDimensions,
		registrationPoint: defaultRegistrationPoint,
		damping:           defaultDamping,
		angularDamping:    defaultAngularDamping,
		restitution:       0.5,
		friction:          0.5,
		density:           DefaultDensity,
		lifetime:          ImmortalLifetime,
		visible:           true,
		collisionMask:     0x1f,
		recalcAABox:       true,
		recalcMax:         true,
		recalcMin:         true,
		actions:           make(map[uuid.UUID]Action),
		actionsToRemove:   make(map[uuid.UUID]struct{}),
		actionTombstones:  make(map[uuid.UUID]uint64),
		actionsLocallyNew: make(map[uuid.UUID]struct{}),
	}
}

func (e *Entity) ID() uuid.UUID    { return e.id }
func (e *Entity) Type() EntityType { return e.typ }

func (e *Entity) Created() uint64       { return e.created }
func (e *Entity) LastEdited() uint64    { return e.lastEdited }
func (e *Entity) LastUpdated() uint64   { return e.lastUpdated }
func (e *Entity) LastSimulated() uint64 { return e.lastSimulated }
func (e *Entity) LastBroadcast() uint64 { return e.lastBroadcast }

func (e *Entity) LastEditedFromRemote() uint64 { return e.lastEditedFromRemote }

func (e *Entity) SetLastBroadcast(at uint64)  { e.lastBroadcast = at }
func (e *Entity) SetLastSimulated(at uint64)  { e.lastSimulated = at }

// SetLastEdited stamps an official edit; the update clock follows and the
// server-change watermark never moves backward.
func (e *Entity) SetLastEdited(at uint64) {
	e.lastEdited = at
	e.lastUpdated = at
	if at > e.changedOnServer {
		e.changedOnServer = at
	}
}

// MarkChangedOnServer notes a server-side change at the current time.
func (e *Entity) MarkChangedOnServer() {
	e.changedOnServer = e.cfg.Clock()
}

func (e *Entity) LastChangedOnServer() uint64 { return e.changedOnServer }

// RecordCreationTime commits the creation clock for a locally-created
// record. A record that already has one keeps it.
func (e *Entity) RecordCreationTime() {
	now := e.cfg.Clock()
	if e.created == UnknownCreatedTime {
		e.created = now
	}
	e.lastEdited = e.created
	e.lastUpdated = now
	e.lastSimulated = now
}

// Age is the seconds elapsed since creation.
func (e *Entity) Age() float32 {
	return float32(e.cfg.Clock()-e.created) / usecsPerSecond
}

// IsImmortal reports whether the record has no lifetime set.
func (e *Entity) IsImmortal() bool { return e.lifetime == ImmortalLifetime }

func (e *Entity) IsMortal() bool { return !e.IsImmortal() }

// LifetimeExpired reports whether a mortal record has outlived its lifetime.
func (e *Entity) LifetimeExpired() bool {
	return e.IsMortal() && e.Age() > e.lifetime
}

// Expiry is the absolute µs time at which a mortal record expires.
func (e *Entity) Expiry() uint64 {
	return e.created + uint64(e.lifetime*usecsPerSecond)
}

func (e *Entity) DirtyFlags() uint32 { return e.dirty }

func (e *Entity) ClearDirtyFlags(mask uint32) { e.dirty &^= mask }

// FlagForOwnership marks a pending ownership bid for the scheduler to pick up.
func (e *Entity) FlagForOwnership() { e.dirty |= DirtySimulatorOwnership }

// FlagForMotionTypeChange marks a motion-type transition (e.g. came to rest).
func (e *Entity) FlagForMotionTypeChange() { e.dirty |= DirtyMotionType }

func (e *Entity) SourceNode() uuid.UUID       { return e.sourceNode }
func (e *Entity) SetSourceNode(id uuid.UUID)  { e.sourceNode = id }
func (e *Entity) MatchesSource(id uuid.UUID) bool { return e.sourceNode == id }

// SetSimulated and SetIndexed are called only by the simulation and spatial
// index collaborators when they take or drop their backreference.
func (e *Entity) SetSimulated(v bool) { e.simulated = v }
func (e *Entity) IsSimulated() bool   { return e.simulated }
func (e *Entity) SetIndexed(v bool)   { e.indexed = v }
func (e *Entity) IsIndexed() bool     { return e.indexed }

var errStillReferenced = errors.New("entity: release with live backreference")

// Release verifies the destruction contract: every attached action must be
// detached and the simulation/spatial-index backreferences cleared first.
func (e *Entity) Release() error {
	e.actionsMu.RLock()
	n := len(e.actions)
	e.actionsMu.RUnlock()
	if n > 0 {
		return fmt.Errorf("%w: %d attached actions", errStillReferenced, n)
	}
	if e.simulated {
		return fmt.Errorf("%w: simulation", errStillReferenced)
	}
	if e.indexed {
		return fmt.Errorf("%w: spatial index", errStillReferenced)
	}
	return nil
}

func (e *Entity) SimulationOwner() SimulationOwner { return e.owner }

func (e *Entity) SimulatorID() uuid.UUID    { return e.owner.ID() }
func (e *Entity) SimulationPriority() uint8 { return e.owner.Priority() }

// SetSimulationOwner overwrites ownership without flagging (server side).
func (e *Entity) SetSimulationOwner(id uuid.UUID, priority uint8) {
	e.owner.Set(NewSimulationOwner(id, priority))
}

// UpdateSimulationOwner applies an observed ownership record; a change is
// flagged so the simulation scheduler can poll and react.
func (e *Entity) UpdateSimulationOwner(owner SimulationOwner) {
	if e.owner.Set(owner) {
		e.dirty |= DirtySimulatorID
	}
}

// ClearSimulationOwnership drops ownership without flagging: it is only
// called authoritative-side, where the dirty flags are unused.
func (e *Entity) ClearSimulationOwnership() {
	e.owner.Clear()
}

// PromoteSimulationPriority raises the local bid priority.
func (e *Entity) PromoteSimulationPriority(priority uint8) {
	e.owner.PromotePriority(priority)
}

// IsMoving reports whether the record carries any velocity.
func (e *Entity) IsMoving() bool {
	return !e.velocity.IsZero() || !e.angularVelocity.IsZero()
}
