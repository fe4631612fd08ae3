package arena

import (
	"sync"

	"github.com/google/uuid"

	"worldsync.dev/internal/entity"
)

// Simulation steps kinematic motion for the entities that need it. Idle
// entities fall out of the moving set until a change wakes them.
type Simulation struct {
	mu      sync.Mutex
	tracked map[uuid.UUID]*entity.Entity
	moving  map[uuid.UUID]*entity.Entity
}

func NewSimulation() *Simulation {
	return &Simulation{
		tracked: make(map[uuid.UUID]*entity.Entity),
		moving:  make(map[uuid.UUID]*entity.Entity),
	}
}

// Track registers an entity and takes the simulation backreference.
func (s *Simulation) Track(e *entity.Entity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tracked[e.ID()] = e
	e.SetSimulated(true)
	if e.IsMoving() {
		s.moving[e.ID()] = e
	}
}

// Untrack drops the entity and its backreference.
func (s *Simulation) Untrack(e *entity.Entity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tracked, e.ID())
	delete(s.moving, e.ID())
	e.SetSimulated(false)
}

// Changed implements the entity simulation hook: a replicated change that
// touched physics state wakes the entity.
func (s *Simulation) Changed(e *entity.Entity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tracked[e.ID()]; !ok {
		return
	}
	if e.IsMoving() {
		s.moving[e.ID()] = e
	}
	e.ClearDirtyFlags(entity.DirtyTransform | entity.DirtyVelocities)
}

// Step advances every moving entity to now and retires the ones that came
// to rest. It returns how many entities moved.
func (s *Simulation) Step(now uint64) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	stepped := 0
	for id, e := range s.moving {
		e.Simulate(now)
		stepped++
		if !e.IsMoving() {
			delete(s.moving, id)
		}
	}
	return stepped
}

// Moving reports the size of the active set.
func (s *Simulation) Moving() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.moving)
}
