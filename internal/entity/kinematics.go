package entity

import (
	"math"

	"worldsync.dev/internal/mathx"
)

// Simulate advances the entity to now using damped kinematic integration
// and publishes the resulting pose. Entities with attached actions are
// left alone; their motion belongs to the action.
func (e *Entity) Simulate(now uint64) {
	dt := float32(0)
	if now > e.lastSimulated {
		dt = float32(now-e.lastSimulated) / usecsPerSecond
	}
	e.SimulateKinematicMotion(dt, true)
	e.lastSimulated = now
	e.PublishPose()
}

// SimulateKinematicMotion integrates velocity and angular velocity over dt
// seconds, clamped to at most one second so a stale clock cannot launch an
// entity across the world. With setFlags, a body that damps to rest gets a
// motion-type dirty flag; the network ingest path passes false so remote
// extrapolation stays silent.
func (e *Entity) SimulateKinematicMotion(dt float32, setFlags bool) {
	if e.HasActions() {
		return
	}
	if dt < 0 {
		dt = 0
	}
	if dt > maxKinematicStep {
		dt = maxKinematicStep
	}

	if e.HasAngularVelocity() {
		omega := e.angularVelocity
		if e.angularDamping > 0 {
			omega = omega.Scale(powf(1-e.angularDamping, dt))
		}
		speed := omega.Length()
		if speed < minAngularSpeed {
			if setFlags && speed > 0 {
				e.dirty |= DirtyMotionType
			}
			omega = mathx.Zero3
		} else {
			rotation := e.rotation
			remaining := dt
			for remaining > physicsFixedSubstep {
				rotation = mathx.RotationStep(omega, physicsFixedSubstep).Mul(rotation).Normalize()
				remaining -= physicsFixedSubstep
			}
			rotation = mathx.RotationStep(omega, remaining).Mul(rotation).Normalize()
			e.SetRotation(rotation)
		}
		e.angularVelocity = omega
	}

	if e.HasVelocity() {
		velocity := e.velocity
		if e.damping > 0 {
			velocity = velocity.Scale(powf(1-e.damping, dt))
		}
		position := e.position.Add(velocity.Scale(dt))
		if e.HasAcceleration() {
			velocity = velocity.Add(e.acceleration.Scale(dt))
		}
		speed := velocity.Length()
		if speed < minLinearSpeed {
			e.velocity = mathx.Zero3
			if setFlags && speed > 0 {
				e.dirty |= DirtyMotionType
			}
		} else {
			e.SetPosition(position)
			e.velocity = velocity
		}
	}
}

func powf(base, exp float32) float32 {
	return float32(math.Pow(float64(base), float64(exp)))
}
