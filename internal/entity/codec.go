package entity

import (
	"worldsync.dev/internal/wire"
)

// readContext carries the per-record decode state the property readers need.
type readContext struct {
	params   ReadParams
	weOwnSim bool
}

// propertyCodec binds one wire flag to its encode and decode behavior.
// terse properties carry motion state: when the local node owns the
// simulation they are parsed (the cursor must advance) but never applied.
// always properties are applied even on rejected records.
type propertyCodec struct {
	flag       wire.PropertyFlag
	minVersion uint16
	terse      bool
	always     bool
	append     func(e *Entity, p *wire.Packet) bool
	read       func(e *Entity, r *wire.Reader, apply bool, ctx *readContext) error
}

// propertyTable is ordered by flag; payloads appear on the wire in exactly
// this order.
var propertyTable = []propertyCodec{
	{flag: wire.PropSimulationOwner, always: true,
		append: func(e *Entity, p *wire.Packet) bool { return e.owner.appendTo(p) },
		read: func(e *Entity, r *wire.Reader, apply bool, ctx *readContext) error {
			owner, err := readSimulationOwner(r)
			if err != nil {
				return err
			}
			if apply {
				e.UpdateSimulationOwner(owner)
			}
			return nil
		}},
	{flag: wire.PropPosition, terse: true,
		append: func(e *Entity, p *wire.Packet) bool { return p.AppendVec3(e.position) },
		read: func(e *Entity, r *wire.Reader, apply bool, _ *readContext) error {
			v, err := r.Vec3()
			if err != nil {
				return err
			}
			if apply {
				e.UpdatePosition(v)
			}
			return nil
		}},
	{flag: wire.PropRotation, terse: true,
		append: func(e *Entity, p *wire.Packet) bool { return p.AppendQuat(e.rotation) },
		read: func(e *Entity, r *wire.Reader, apply bool, _ *readContext) error {
			q, err := r.Quat()
			if err != nil {
				return err
			}
			if apply {
				e.UpdateRotation(q)
			}
			return nil
		}},
	{flag: wire.PropVelocity, terse: true,
		append: func(e *Entity, p *wire.Packet) bool { return p.AppendVec3(e.velocity) },
		read: func(e *Entity, r *wire.Reader, apply bool, _ *readContext) error {
			v, err := r.Vec3()
			if err != nil {
				return err
			}
			if apply {
				e.UpdateVelocity(v)
			}
			return nil
		}},
	{flag: wire.PropAngularVelocity, terse: true,
		append: func(e *Entity, p *wire.Packet) bool { return p.AppendVec3(e.angularVelocity) },
		read: func(e *Entity, r *wire.Reader, apply bool, _ *readContext) error {
			v, err := r.Vec3()
			if err != nil {
				return err
			}
			if apply {
				e.UpdateAngularVelocity(v)
			}
			return nil
		}},
	{flag: wire.PropAcceleration, terse: true,
		append: func(e *Entity, p *wire.Packet) bool { return p.AppendVec3(e.acceleration) },
		read: func(e *Entity, r *wire.Reader, apply bool, _ *readContext) error {
			v, err := r.Vec3()
			if err != nil {
				return err
			}
			if apply {
				e.SetAcceleration(v)
			}
			return nil
		}},
	{flag: wire.PropDimensions,
		append: func(e *Entity, p *wire.Packet) bool { return p.AppendVec3(e.dimensions) },
		read: func(e *Entity, r *wire.Reader, apply bool, _ *readContext) error {
			v, err := r.Vec3()
			if err != nil {
				return err
			}
			if apply {
				e.UpdateDimensions(v)
			}
			return nil
		}},
	{flag: wire.PropDensity,
		append: func(e *Entity, p *wire.Packet) bool { return p.AppendFloat32(e.density) },
		read: readFloat(func(e *Entity, v float32) { e.UpdateDensity(v) })},
	{flag: wire.PropGravity,
		append: func(e *Entity, p *wire.Packet) bool { return p.AppendVec3(e.gravity) },
		read: func(e *Entity, r *wire.Reader, apply bool, _ *readContext) error {
			v, err := r.Vec3()
			if err != nil {
				return err
			}
			if apply {
				e.UpdateGravity(v)
			}
			return nil
		}},
	{flag: wire.PropDamping,
		append: func(e *Entity, p *wire.Packet) bool { return p.AppendFloat32(e.damping) },
		read: readFloat(func(e *Entity, v float32) { e.UpdateDamping(v) })},
	{flag: wire.PropRestitution,
		append: func(e *Entity, p *wire.Packet) bool { return p.AppendFloat32(e.restitution) },
		read: readFloat(func(e *Entity, v float32) { e.UpdateRestitution(v) })},
	{flag: wire.PropFriction,
		append: func(e *Entity, p *wire.Packet) bool { return p.AppendFloat32(e.friction) },
		read: readFloat(func(e *Entity, v float32) { e.UpdateFriction(v) })},
	{flag: wire.PropLifetime,
		append: func(e *Entity, p *wire.Packet) bool { return p.AppendFloat32(e.lifetime) },
		read: readFloat(func(e *Entity, v float32) { e.UpdateLifetime(v) })},
	{flag: wire.PropScript,
		append: func(e *Entity, p *wire.Packet) bool { return p.AppendString(e.script) },
		read: readString(func(e *Entity, s string) { e.SetScript(s) })},
	{flag: wire.PropScriptTimestamp,
		append: func(e *Entity, p *wire.Packet) bool { return p.AppendU64(e.scriptTimestamp) },
		read: func(e *Entity, r *wire.Reader, apply bool, _ *readContext) error {
			v, err := r.U64()
			if err != nil {
				return err
			}
			if apply {
				e.SetScriptTimestamp(v)
			}
			return nil
		}},
	{flag: wire.PropRegistrationPoint,
		append: func(e *Entity, p *wire.Packet) bool { return p.AppendVec3(e.registrationPoint) },
		read: func(e *Entity, r *wire.Reader, apply bool, _ *readContext) error {
			v, err := r.Vec3()
			if err != nil {
				return err
			}
			if apply {
				e.SetRegistrationPoint(v)
			}
			return nil
		}},
	{flag: wire.PropAngularDamping,
		append: func(e *Entity, p *wire.Packet) bool { return p.AppendFloat32(e.angularDamping) },
		read: readFloat(func(e *Entity, v float32) { e.UpdateAngularDamping(v) })},
	{flag: wire.PropVisible,
		append: func(e *Entity, p *wire.Packet) bool { return p.AppendBool(e.visible) },
		read: readBool(func(e *Entity, v bool) { e.SetVisible(v) })},
	{flag: wire.PropCollisionless,
		append: func(e *Entity, p *wire.Packet) bool { return p.AppendBool(e.collisionless) },
		read: readBool(func(e *Entity, v bool) { e.UpdateCollisionless(v) })},
	{flag: wire.PropCollisionMask,
		append: func(e *Entity, p *wire.Packet) bool { return p.AppendU8(e.collisionMask) },
		read: func(e *Entity, r *wire.Reader, apply bool, _ *readContext) error {
			v, err := r.U8()
			if err != nil {
				return err
			}
			if apply {
				e.UpdateCollisionMask(v)
			}
			return nil
		}},
	{flag: wire.PropDynamic,
		append: func(e *Entity, p *wire.Packet) bool { return p.AppendBool(e.dynamic) },
		read: readBool(func(e *Entity, v bool) { e.UpdateDynamic(v) })},
	{flag: wire.PropLocked,
		append: func(e *Entity, p *wire.Packet) bool { return p.AppendBool(e.locked) },
		read: readBool(func(e *Entity, v bool) { e.SetLocked(v) })},
	{flag: wire.PropUserData,
		append: func(e *Entity, p *wire.Packet) bool { return p.AppendString(e.userData) },
		read: readString(func(e *Entity, s string) { e.SetUserData(s) })},
	{flag: wire.PropMarketplaceID, minVersion: wire.VersionHasMarketplaceID,
		append: func(e *Entity, p *wire.Packet) bool { return p.AppendString(e.marketplaceID) },
		read: readString(func(e *Entity, s string) { e.SetMarketplaceID(s) })},
	{flag: wire.PropName,
		append: func(e *Entity, p *wire.Packet) bool { return p.AppendString(e.name) },
		read: readString(func(e *Entity, s string) { e.SetName(s) })},
	{flag: wire.PropCollisionSoundURL,
		append: func(e *Entity, p *wire.Packet) bool { return p.AppendString(e.collisionSoundURL) },
		read: readString(func(e *Entity, s string) { e.SetCollisionSoundURL(s) })},
	{flag: wire.PropHref,
		append: func(e *Entity, p *wire.Packet) bool { return p.AppendString(e.href) },
		read: readString(func(e *Entity, s string) { e.SetHref(s) })},
	{flag: wire.PropDescription,
		append: func(e *Entity, p *wire.Packet) bool { return p.AppendString(e.description) },
		read: readString(func(e *Entity, s string) { e.SetDescription(s) })},
	{flag: wire.PropActionData,
		append: func(e *Entity, p *wire.Packet) bool { return p.AppendBytes(e.ActionData()) },
		read: func(e *Entity, r *wire.Reader, apply bool, ctx *readContext) error {
			b, err := r.Bytes()
			if err != nil {
				return err
			}
			if apply && ctx.params.Actions != nil {
				// a malformed ledger blob loses only the ledger, not the record
				_ = e.SetActionData(b, ctx.params.Actions)
			}
			return nil
		}},
	{flag: wire.PropParentID,
		append: func(e *Entity, p *wire.Packet) bool { return p.AppendUUID(e.parentID) },
		read: func(e *Entity, r *wire.Reader, apply bool, _ *readContext) error {
			id, err := r.UUID()
			if err != nil {
				return err
			}
			if apply {
				e.SetParentID(id)
			}
			return nil
		}},
	{flag: wire.PropParentJointIndex,
		append: func(e *Entity, p *wire.Packet) bool { return p.AppendU16(e.parentJointIndex) },
		read: func(e *Entity, r *wire.Reader, apply bool, _ *readContext) error {
			v, err := r.U16()
			if err != nil {
				return err
			}
			if apply {
				e.SetParentJointIndex(v)
			}
			return nil
		}},
	{flag: wire.PropQueryCube,
		append: func(e *Entity, p *wire.Packet) bool {
			c := e.QueryCube()
			return p.AppendVec3(c.Corner) && p.AppendFloat32(c.Scale)
		},
		read: func(e *Entity, r *wire.Reader, apply bool, _ *readContext) error {
			corner, err := r.Vec3()
			if err != nil {
				return err
			}
			scale, err := r.Float32()
			if err != nil {
				return err
			}
			if apply {
				e.SetQueryCube(AACube{Corner: corner, Scale: scale})
			}
			return nil
		}},
}

func readFloat(set func(*Entity, float32)) func(*Entity, *wire.Reader, bool, *readContext) error {
	return func(e *Entity, r *wire.Reader, apply bool, _ *readContext) error {
		v, err := r.Float32()
		if err != nil {
			return err
		}
		if apply {
			set(e, v)
		}
		return nil
	}
}

func readBool(set func(*Entity, bool)) func(*Entity, *wire.Reader, bool, *readContext) error {
	return func(e *Entity, r *wire.Reader, apply bool, _ *readContext) error {
		v, err := r.Bool()
		if err != nil {
			return err
		}
		if apply {
			set(e, v)
		}
		return nil
	}
}

func readString(set func(*Entity, string)) func(*Entity, *wire.Reader, bool, *readContext) error {
	return func(e *Entity, r *wire.Reader, apply bool, _ *readContext) error {
		s, err := r.String()
		if err != nil {
			return err
		}
		if apply {
			set(e, s)
		}
		return nil
	}
}

// versionProperties filters a property set down to what version knows about.
func versionProperties(requested wire.PropertyFlags, version uint16) wire.PropertyFlags {
	for _, pc := range propertyTable {
		if pc.minVersion > version {
			requested.Remove(pc.flag)
		}
	}
	return requested
}
