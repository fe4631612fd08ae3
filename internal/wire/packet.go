package wire

import (
	"encoding/binary"
	"math"

	"github.com/google/uuid"

	"worldsync.dev/internal/mathx"
)

// Packet accumulates encoded records against a fixed byte budget. Append
// methods report whether the value fit; on false the packet is unchanged, so
// callers can fall back to the continuation mechanism.
type Packet struct {
	buf    []byte
	budget int
}

// NewPacket returns a packet that will hold at most budget bytes.
func NewPacket(budget int) *Packet {
	return &Packet{buf: make([]byte, 0, budget), budget: budget}
}

func (p *Packet) Len() int      { return len(p.buf) }
func (p *Packet) Room() int     { return p.budget - len(p.buf) }
func (p *Packet) Bytes() []byte { return p.buf }

// Mark returns a position Truncate can roll back to, discarding a record
// that could not be completed.
func (p *Packet) Mark() int { return len(p.buf) }

func (p *Packet) Truncate(mark int) { p.buf = p.buf[:mark] }

func (p *Packet) AppendRaw(b []byte) bool {
	if len(b) > p.Room() {
		return false
	}
	p.buf = append(p.buf, b...)
	return true
}

func (p *Packet) AppendUvarint(v uint64) bool {
	var tmp [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(tmp[:], v)
	return p.AppendRaw(tmp[:n])
}

func (p *Packet) AppendU64(v uint64) bool {
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], v)
	return p.AppendRaw(tmp[:])
}

func (p *Packet) AppendU16(v uint16) bool {
	var tmp [2]byte
	binary.LittleEndian.PutUint16(tmp[:], v)
	return p.AppendRaw(tmp[:])
}

func (p *Packet) AppendU8(v uint8) bool {
	return p.AppendRaw([]byte{v})
}

func (p *Packet) AppendBool(v bool) bool {
	if v {
		return p.AppendU8(1)
	}
	return p.AppendU8(0)
}

func (p *Packet) AppendFloat32(v float32) bool {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], math.Float32bits(v))
	return p.AppendRaw(tmp[:])
}

func (p *Packet) AppendVec3(v mathx.Vec3) bool {
	var tmp [12]byte
	binary.LittleEndian.PutUint32(tmp[0:], math.Float32bits(v.X))
	binary.LittleEndian.PutUint32(tmp[4:], math.Float32bits(v.Y))
	binary.LittleEndian.PutUint32(tmp[8:], math.Float32bits(v.Z))
	return p.AppendRaw(tmp[:])
}

func (p *Packet) AppendQuat(q mathx.Quat) bool {
	var tmp [16]byte
	binary.LittleEndian.PutUint32(tmp[0:], math.Float32bits(q.W))
	binary.LittleEndian.PutUint32(tmp[4:], math.Float32bits(q.X))
	binary.LittleEndian.PutUint32(tmp[8:], math.Float32bits(q.Y))
	binary.LittleEndian.PutUint32(tmp[12:], math.Float32bits(q.Z))
	return p.AppendRaw(tmp[:])
}

func (p *Packet) AppendUUID(id uuid.UUID) bool {
	return p.AppendRaw(id[:])
}

// AppendBytes writes a uvarint length prefix followed by the bytes.
func (p *Packet) AppendBytes(b []byte) bool {
	var tmp [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(tmp[:], uint64(len(b)))
	if n+len(b) > p.Room() {
		return false
	}
	p.buf = append(p.buf, tmp[:n]...)
	p.buf = append(p.buf, b...)
	return true
}

func (p *Packet) AppendString(s string) bool {
	return p.AppendBytes([]byte(s))
}

// RewriteShrink replaces the oldLen bytes at off with repl, which must not be
// longer than oldLen. If repl is shorter the tail of the packet is shifted
// down. Used to rewrite the reserved property-flags field after the encoder
// learns which properties actually fit.
func (p *Packet) RewriteShrink(off, oldLen int, repl []byte) {
	if len(repl) > oldLen {
		panic("wire: rewrite grew")
	}
	copy(p.buf[off:], repl)
	if len(repl) < oldLen {
		copy(p.buf[off+len(repl):], p.buf[off+oldLen:])
		p.buf = p.buf[:len(p.buf)-(oldLen-len(repl))]
	}
}
