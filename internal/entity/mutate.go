package entity

import (
	"github.com/google/uuid"

	"worldsync.dev/internal/mathx"
)

// Plain accessors. The Update* forms below are the ones the ingest path and
// scripts use: they accumulate dirty flags and enforce clamps.

func (e *Entity) Position() mathx.Vec3 { return e.position }

func (e *Entity) SetPosition(v mathx.Vec3) {
	e.position = v
	e.invalidateBounds()
}

func (e *Entity) Rotation() mathx.Quat { return e.rotation }

func (e *Entity) SetRotation(q mathx.Quat) {
	e.rotation = q
	e.invalidateBounds()
}

func (e *Entity) Dimensions() mathx.Vec3 { return e.dimensions }

func (e *Entity) SetDimensions(v mathx.Vec3) {
	if v.X <= 0 || v.Y <= 0 || v.Z <= 0 {
		return
	}
	e.dimensions = v
	e.invalidateBounds()
}

func (e *Entity) RegistrationPoint() mathx.Vec3 { return e.registrationPoint }

// SetRegistrationPoint clamps each axis ratio into [0,1].
func (e *Entity) SetRegistrationPoint(v mathx.Vec3) {
	e.registrationPoint = v.Clamp01()
	e.invalidateBounds()
}

func (e *Entity) Velocity() mathx.Vec3        { return e.velocity }
func (e *Entity) SetVelocity(v mathx.Vec3)    { e.velocity = v }
func (e *Entity) AngularVelocity() mathx.Vec3 { return e.angularVelocity }
func (e *Entity) SetAngularVelocity(v mathx.Vec3) { e.angularVelocity = v }
func (e *Entity) Gravity() mathx.Vec3         { return e.gravity }
func (e *Entity) Acceleration() mathx.Vec3    { return e.acceleration }
func (e *Entity) SetAcceleration(v mathx.Vec3) { e.acceleration = v }
func (e *Entity) Damping() float32            { return e.damping }
func (e *Entity) AngularDamping() float32     { return e.angularDamping }
func (e *Entity) Restitution() float32        { return e.restitution }
func (e *Entity) Friction() float32           { return e.friction }
func (e *Entity) Density() float32            { return e.density }
func (e *Entity) Lifetime() float32           { return e.lifetime }

func (e *Entity) HasVelocity() bool        { return !e.velocity.IsZero() }
func (e *Entity) HasAngularVelocity() bool { return !e.angularVelocity.IsZero() }
func (e *Entity) HasGravity() bool         { return !e.gravity.IsZero() }
func (e *Entity) HasAcceleration() bool    { return !e.acceleration.IsZero() }

func (e *Entity) Script() string             { return e.script }
func (e *Entity) SetScript(s string)         { e.script = s }
func (e *Entity) ScriptTimestamp() uint64    { return e.scriptTimestamp }
func (e *Entity) SetScriptTimestamp(v uint64) { e.scriptTimestamp = v }
func (e *Entity) CollisionSoundURL() string  { return e.collisionSoundURL }
func (e *Entity) SetCollisionSoundURL(s string) { e.collisionSoundURL = s }
func (e *Entity) Visible() bool              { return e.visible }
func (e *Entity) SetVisible(v bool)          { e.visible = v }
func (e *Entity) Collisionless() bool        { return e.collisionless }
func (e *Entity) CollisionMask() uint8       { return e.collisionMask }
func (e *Entity) Dynamic() bool              { return e.dynamic }
func (e *Entity) Locked() bool               { return e.locked }
func (e *Entity) SetLocked(v bool)           { e.locked = v }
func (e *Entity) UserData() string           { return e.userData }
func (e *Entity) SetUserData(s string)       { e.userData = s }
func (e *Entity) MarketplaceID() string      { return e.marketplaceID }
func (e *Entity) SetMarketplaceID(s string)  { e.marketplaceID = s }
func (e *Entity) Name() string               { return e.name }
func (e *Entity) SetName(s string)           { e.name = s }
func (e *Entity) Href() string               { return e.href }
func (e *Entity) Description() string        { return e.description }
func (e *Entity) SetDescription(s string)    { e.description = s }

func (e *Entity) ParentID() uuid.UUID          { return e.parentID }
func (e *Entity) SetParentID(id uuid.UUID)     { e.parentID = id }
func (e *Entity) ParentJointIndex() uint16     { return e.parentJointIndex }
func (e *Entity) SetParentJointIndex(v uint16) { e.parentJointIndex = v }

// SetHref only accepts world links.
func (e *Entity) SetHref(value string) {
	if len(value) < 8 || value[:8] != "world://" {
		return
	}
	e.href = value
}

// UpdatePosition applies a position change unless an attached action owns
// location (its motion is authoritative, not free-body edits).
func (e *Entity) UpdatePosition(v mathx.Vec3) {
	if e.shouldSuppressLocationEdits() {
		return
	}
	if e.position != v {
		e.SetPosition(v)
		e.dirty |= DirtyPosition
	}
}

func (e *Entity) UpdateRotation(q mathx.Quat) {
	if e.shouldSuppressLocationEdits() {
		return
	}
	if e.rotation != q {
		e.SetRotation(q)
		e.dirty |= DirtyRotation
	}
}

func (e *Entity) UpdateDimensions(v mathx.Vec3) {
	if e.dimensions != v {
		e.SetDimensions(v)
		e.dirty |= DirtyShape | DirtyMass
	}
}

func (e *Entity) UpdateVelocity(v mathx.Vec3) {
	if e.shouldSuppressLocationEdits() {
		return
	}
	if e.velocity != v {
		if v.Length() < minLinearSpeed {
			e.velocity = mathx.Zero3
		} else {
			e.velocity = v
		}
		e.dirty |= DirtyLinearVelocity
	}
}

func (e *Entity) UpdateAngularVelocity(v mathx.Vec3) {
	if e.shouldSuppressLocationEdits() {
		return
	}
	if e.angularVelocity != v {
		if v.Length() < minAngularVelocitySet {
			e.angularVelocity = mathx.Zero3
		} else {
			e.angularVelocity = v
		}
		e.dirty |= DirtyAngularVelocity
	}
}

func (e *Entity) UpdateGravity(v mathx.Vec3) {
	if e.gravity != v {
		e.gravity = v
		e.dirty |= DirtyLinearVelocity
	}
}

func (e *Entity) UpdateDamping(v float32) {
	clamped := mathx.Clamp(v, 0, 1)
	if e.damping != clamped {
		e.damping = clamped
		e.dirty |= DirtyMaterial
	}
}

func (e *Entity) UpdateAngularDamping(v float32) {
	clamped := mathx.Clamp(v, 0, 1)
	if e.angularDamping != clamped {
		e.angularDamping = clamped
		e.dirty |= DirtyMaterial
	}
}

func (e *Entity) UpdateRestitution(v float32) {
	clamped := mathx.Clamp(v, MinRestitution, MaxRestitution)
	if e.restitution != clamped {
		e.restitution = clamped
		e.dirty |= DirtyMaterial
	}
}

func (e *Entity) UpdateFriction(v float32) {
	clamped := mathx.Clamp(v, MinFriction, MaxFriction)
	if e.friction != clamped {
		e.friction = clamped
		e.dirty |= DirtyMaterial
	}
}

func (e *Entity) UpdateCollisionless(v bool) {
	if e.collisionless != v {
		e.collisionless = v
		e.dirty |= DirtyCollisionGroup
	}
}

func (e *Entity) UpdateCollisionMask(v uint8) {
	if e.collisionMask != v {
		e.collisionMask = v
		e.dirty |= DirtyCollisionGroup
	}
}

func (e *Entity) UpdateDynamic(v bool) {
	if e.dynamic != v {
		e.dynamic = v
		e.dirty |= DirtyMotionType
	}
}

func (e *Entity) UpdateLifetime(v float32) {
	if e.lifetime != v {
		e.lifetime = v
		e.dirty |= DirtyLifetime
	}
}

func (e *Entity) UpdateCreated(v uint64) {
	if e.created != v {
		e.created = v
		e.dirty |= DirtyLifetime
	}
}

// SetDensity clamps into the legal range without flagging.
func (e *Entity) SetDensity(v float32) {
	e.density = mathx.Clamp(v, MinDensity, MaxDensity)
}

func (e *Entity) UpdateDensity(v float32) {
	clamped := mathx.Clamp(v, MinDensity, MaxDensity)
	if e.density != clamped {
		e.density = clamped
		e.dirty |= DirtyMass
	}
}

// Volume is the dimension-box volume in m³.
func (e *Entity) Volume() float32 {
	return e.dimensions.X * e.dimensions.Y * e.dimensions.Z
}

// Mass is derived from density and volume.
func (e *Entity) Mass() float32 {
	return e.density * e.Volume()
}

// UpdateMass back-solves density at fixed volume. The density clamp means
// the supplied mass may not be honored exactly; a near-zero volume falls
// back to the minimum guard volume to avoid dividing by zero.
func (e *Entity) UpdateMass(mass float32) {
	volume := e.Volume()
	var newDensity float32
	if volume < minVolume {
		newDensity = mathx.Clamp(mass/minVolume, MinDensity, MaxDensity)
	} else {
		newDensity = mathx.Clamp(mass/volume, MinDensity, MaxDensity)
	}
	if e.density != newDensity {
		e.density = newDensity
		e.dirty |= DirtyMass
	}
}
