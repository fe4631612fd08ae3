package entity

import "worldsync.dev/internal/mathx"

// Pose is the published motion snapshot readers outside the arena lock may
// take. The simulation publishes one per step; broadcast and query paths read
// it without contending on the full entity.
type Pose struct {
	Position        mathx.Vec3
	Rotation        mathx.Quat
	Velocity        mathx.Vec3
	AngularVelocity mathx.Vec3
	At              uint64
}

// PublishPose copies the current motion state into the shared snapshot.
func (e *Entity) PublishPose() {
	p := Pose{
		Position:        e.position,
		Rotation:        e.rotation,
		Velocity:        e.velocity,
		AngularVelocity: e.angularVelocity,
		At:              e.cfg.Clock(),
	}
	e.poseMu.Lock()
	e.pose = p
	e.poseMu.Unlock()
}

// CurrentPose returns the last published snapshot.
func (e *Entity) CurrentPose() Pose {
	e.poseMu.RLock()
	defer e.poseMu.RUnlock()
	return e.pose
}
