package entity

import (
	"github.com/google/uuid"

	"worldsync.dev/internal/wire"
)

// SimulationOwner records which peer is authoritative for an entity's
// physical simulation, and at what priority. The source of truth for
// ownership is whichever peer most recently asserted it, so ownership
// changes are applied even when the surrounding update is rejected.
type SimulationOwner struct {
	id       uuid.UUID
	priority uint8
}

func NewSimulationOwner(id uuid.UUID, priority uint8) SimulationOwner {
	return SimulationOwner{id: id, priority: priority}
}

func (s SimulationOwner) ID() uuid.UUID   { return s.id }
func (s SimulationOwner) Priority() uint8 { return s.priority }

func (s SimulationOwner) IsNull() bool {
	return s.id == uuid.Nil
}

// Matches reports whether id holds valid ownership (nil never matches).
func (s SimulationOwner) Matches(id uuid.UUID) bool {
	return s.id != uuid.Nil && s.id == id
}

// Set overwrites the record if it differs and reports whether it changed.
func (s *SimulationOwner) Set(o SimulationOwner) bool {
	if *s == o {
		return false
	}
	*s = o
	return true
}

func (s *SimulationOwner) Clear() {
	*s = SimulationOwner{}
}

// PromotePriority raises the priority, never lowers it.
func (s *SimulationOwner) PromotePriority(priority uint8) {
	if priority > s.priority {
		s.priority = priority
	}
}

const simulationOwnerBytes = 17 // 16-byte id + 1-byte priority

// appendTo writes the ownership payload (a length-prefixed blob, so older
// decoders can skip unknown growth).
func (s SimulationOwner) appendTo(p *wire.Packet) bool {
	var b [simulationOwnerBytes]byte
	copy(b[:16], s.id[:])
	b[16] = s.priority
	return p.AppendBytes(b[:])
}

func readSimulationOwner(r *wire.Reader) (SimulationOwner, error) {
	blob, err := r.Bytes()
	if err != nil {
		return SimulationOwner{}, err
	}
	if len(blob) < simulationOwnerBytes {
		return SimulationOwner{}, wire.ErrTruncated
	}
	var o SimulationOwner
	copy(o.id[:], blob[:16])
	o.priority = blob[16]
	return o, nil
}
