// Package entity implements the networked entity record: its wire codec,
// the timestamp reconciliation and simulation-ownership rules applied on
// ingest, kinematic extrapolation, and the attached-action ledger.
package entity

import "worldsync.dev/internal/mathx"

// EntityType tags the concrete kind of an entity. The numeric values are
// part of the wire format.
type EntityType uint32

const (
	TypeUnknown EntityType = iota
	TypeModel
	TypeBox
	TypeSphere
	TypeLight
	TypeText
	TypeParticleEffect
	TypeZone
	TypeWeb
	TypeLine
	TypePolyVox
)

// Dirty flags accumulate external changes (packet or script) the simulation
// collaborator needs to know about. They are never set by the simulation
// itself.
const (
	DirtyPosition uint32 = 1 << iota
	DirtyRotation
	DirtyLinearVelocity
	DirtyAngularVelocity
	DirtyMass
	DirtyShape
	DirtyMaterial
	DirtyCollisionGroup
	DirtyMotionType
	DirtyLifetime
	DirtySimulatorID
	DirtySimulatorOwnership
	DirtyPhysicsActivation

	DirtyTransform  = DirtyPosition | DirtyRotation
	DirtyVelocities = DirtyLinearVelocity | DirtyAngularVelocity
)

const (
	// UnknownCreatedTime marks a record whose creation time has not been
	// committed yet.
	UnknownCreatedTime uint64 = 0

	usecsPerSecond = 1_000_000

	// ImmortalLifetime disables lifetime expiry.
	ImmortalLifetime float32 = -1
)

// Physical property bounds. Density is clamped to keep the physics
// simulation stable; mass-setting back-solves density inside these bounds.
const (
	MinDensity     float32 = 100
	DefaultDensity float32 = 1000
	MaxDensity     float32 = 10000

	MinRestitution float32 = 0
	MaxRestitution float32 = 0.99

	MinFriction float32 = 0
	MaxFriction float32 = 10

	// minVolume guards the mass→density division (0.001 mm³).
	minVolume float32 = 1.0e-6
)

// Kinematic integration constants.
const (
	// maxKinematicStep bounds a single extrapolation step (seconds) to limit
	// numerical error on large gaps.
	maxKinematicStep float32 = 1.0

	// physicsFixedSubstep matches the deterministic physics step size so
	// rotation integration agrees with the engine.
	physicsFixedSubstep float32 = 1.0 / 90.0

	// minAngularSpeed: 0.0017453 rad/s ≈ 0.1 degrees/sec. Below this the
	// angular velocity snaps to zero.
	minAngularSpeed float32 = 0.0017453

	// minLinearSpeed: 1 mm/s. Below this the velocity snaps to zero.
	minLinearSpeed float32 = 0.001

	// minAngularVelocitySet is the smallest angular speed a mutator accepts
	// before zeroing (0.0002 rad/s).
	minAngularVelocitySet float32 = 0.0002
)

var (
	defaultDimensions        = mathx.Vec3{X: 0.1, Y: 0.1, Z: 0.1}
	defaultRegistrationPoint = mathx.Vec3{X: 0.5, Y: 0.5, Z: 0.5}

	// defaultDamping ≈ 1 - exp(-0.5): a 2-second exponential decay timescale.
	defaultDamping        float32 = 0.39347
	defaultAngularDamping float32 = 0.39347
)
