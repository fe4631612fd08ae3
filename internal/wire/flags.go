package wire

import "encoding/binary"

// PropertyFlag identifies one encodable entity property. The order is part
// of the wire format: payloads appear in flag order, and new flags are only
// ever appended, never inserted.
type PropertyFlag uint

const (
	PropSimulationOwner PropertyFlag = iota
	PropPosition
	PropRotation
	PropVelocity
	PropAngularVelocity
	PropAcceleration
	PropDimensions
	PropDensity
	PropGravity
	PropDamping
	PropRestitution
	PropFriction
	PropLifetime
	PropScript
	PropScriptTimestamp
	PropRegistrationPoint
	PropAngularDamping
	PropVisible
	PropCollisionless
	PropCollisionMask
	PropDynamic
	PropLocked
	PropUserData
	PropMarketplaceID
	PropName
	PropCollisionSoundURL
	PropHref
	PropDescription
	PropActionData
	PropParentID
	PropParentJointIndex
	PropQueryCube

	NumProperties
)

// PropertyFlags is the presence bitmask signaling which optional property
// payloads follow the record header. It is encoded as a uvarint, so a mask
// whose highest set bit is lower encodes to fewer bytes.
type PropertyFlags uint64

// AllProperties returns the full current property set.
func AllProperties() PropertyFlags {
	return PropertyFlags(1)<<NumProperties - 1
}

func (f PropertyFlags) Has(p PropertyFlag) bool {
	return f&(1<<p) != 0
}

func (f *PropertyFlags) Add(p PropertyFlag) {
	*f |= 1 << p
}

func (f *PropertyFlags) Remove(p PropertyFlag) {
	*f &^= 1 << p
}

func (f PropertyFlags) Empty() bool {
	return f == 0
}

// Encoded returns the wire encoding of the flag set.
func (f PropertyFlags) Encoded() []byte {
	var tmp [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(tmp[:], uint64(f))
	return tmp[:n]
}

// EncodedLen is the byte length Encoded would produce.
func (f PropertyFlags) EncodedLen() int {
	var tmp [binary.MaxVarintLen64]byte
	return binary.PutUvarint(tmp[:], uint64(f))
}
