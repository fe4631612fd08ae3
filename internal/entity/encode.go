package entity

import (
	"encoding/binary"

	"worldsync.dev/internal/wire"
)

// EntityProperties is the default broadcast set: everything the record can
// carry. The version filter in AppendEntityData trims what the peer cannot
// decode.
func (e *Entity) EntityProperties() wire.PropertyFlags {
	return wire.AllProperties()
}

// AppendEntityData encodes the record header and as many of the requested
// properties as fit into p, in flag order, for a peer speaking version.
//
// The returned residual is the property set that must go in a later packet.
// Header-only framing is never emitted: if the header or every requested
// property fails to fit, the packet is rolled back and the whole request is
// the residual.
func (e *Entity) AppendEntityData(p *wire.Packet, requested wire.PropertyFlags, version uint16) (wire.AppendState, wire.PropertyFlags) {
	requested = versionProperties(requested, version)
	if requested.Empty() {
		return wire.AppendNone, 0
	}

	mark := p.Mark()
	updateDelta := uint64(0)
	if e.lastUpdated > e.lastEdited {
		updateDelta = e.lastUpdated - e.lastEdited
	}

	ok := p.AppendUUID(e.id) &&
		p.AppendUvarint(uint64(e.typ)) &&
		p.AppendU64(e.created) &&
		p.AppendU64(e.lastEdited) &&
		p.AppendUvarint(updateDelta)
	if ok && version >= wire.VersionHasLastSimulated {
		simulatedDelta := uint64(0)
		if e.lastSimulated > e.lastEdited {
			simulatedDelta = e.lastSimulated - e.lastEdited
		}
		ok = p.AppendUvarint(simulatedDelta)
	}
	if !ok {
		p.Truncate(mark)
		return wire.AppendNone, requested
	}

	// reserve the flags field at its requested-set width; it is rewritten
	// (and the tail shifted down) once the included set is known
	flagsOff := p.Len()
	placeholder := requested.Encoded()
	if !p.AppendRaw(placeholder) {
		p.Truncate(mark)
		return wire.AppendNone, requested
	}

	var included wire.PropertyFlags
	for _, pc := range propertyTable {
		if !requested.Has(pc.flag) {
			continue
		}
		pm := p.Mark()
		if pc.append(e, p) {
			included.Add(pc.flag)
		} else {
			p.Truncate(pm)
		}
	}

	if included.Empty() {
		p.Truncate(mark)
		return wire.AppendNone, requested
	}

	p.RewriteShrink(flagsOff, len(placeholder), included.Encoded())
	e.lastBroadcast = e.cfg.Clock()

	residual := requested &^ included
	if residual.Empty() {
		return wire.AppendCompleted, 0
	}
	return wire.AppendPartial, residual
}

// AdjustEditPacketForClockSkew rewrites the embedded lastEdited stamp of an
// outbound edit record in place, converting it from the editor's clock to
// the recipient's by adding skew.
func AdjustEditPacketForClockSkew(buf []byte, skew int64) error {
	r := wire.NewReader(buf)
	if _, err := r.UUID(); err != nil {
		return err
	}
	if _, err := r.Uvarint(); err != nil {
		return err
	}
	if _, err := r.U64(); err != nil { // created
		return err
	}
	off := r.Offset()
	lastEdited, err := r.U64()
	if err != nil {
		return err
	}
	adjusted := int64(lastEdited) + skew
	if adjusted < 0 {
		adjusted = 0
	}
	binary.LittleEndian.PutUint64(buf[off:], uint64(adjusted))
	return nil
}
