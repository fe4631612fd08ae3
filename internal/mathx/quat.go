package mathx

import "math"

// Quat is a rotation quaternion (W + Xi + Yj + Zk), float32 like the wire.
type Quat struct {
	W, X, Y, Z float32
}

var IdentityQuat = Quat{W: 1}

func (q Quat) Mul(o Quat) Quat {
	return Quat{
		W: q.W*o.W - q.X*o.X - q.Y*o.Y - q.Z*o.Z,
		X: q.W*o.X + q.X*o.W + q.Y*o.Z - q.Z*o.Y,
		Y: q.W*o.Y - q.X*o.Z + q.Y*o.W + q.Z*o.X,
		Z: q.W*o.Z + q.X*o.Y - q.Y*o.X + q.Z*o.W,
	}
}

func (q Quat) Normalize() Quat {
	n := float32(math.Sqrt(float64(q.W*q.W + q.X*q.X + q.Y*q.Y + q.Z*q.Z)))
	if n == 0 {
		return IdentityQuat
	}
	inv := 1 / n
	return Quat{q.W * inv, q.X * inv, q.Y * inv, q.Z * inv}
}

// Conjugate is the inverse rotation for a unit quaternion.
func (q Quat) Conjugate() Quat {
	return Quat{W: q.W, X: -q.X, Y: -q.Y, Z: -q.Z}
}

// Rotate applies the rotation to v.
func (q Quat) Rotate(v Vec3) Vec3 {
	// v' = q * (0,v) * q^-1, expanded.
	u := Vec3{q.X, q.Y, q.Z}
	s := q.W
	uv := cross(u, v)
	uuv := cross(u, uv)
	return v.Add(uv.Scale(2 * s)).Add(uuv.Scale(2))
}

func cross(a, b Vec3) Vec3 {
	return Vec3{
		a.Y*b.Z - a.Z*b.Y,
		a.Z*b.X - a.X*b.Z,
		a.X*b.Y - a.Y*b.X,
	}
}

// RotationStep computes the incremental rotation produced by an angular
// velocity over a small time step, using the exponential-map approximation
// the physics engine uses, so kinematic integration agrees with it.
func RotationStep(angularVelocity Vec3, dt float32) Quat {
	speed := angularVelocity.Length()
	axis := angularVelocity
	if speed < 0.001 {
		// Taylor expansion of sin(x)/x near zero.
		axis = axis.Scale(0.5*dt - dt*dt*dt*0.020833333333*speed*speed)
	} else {
		axis = axis.Scale(float32(math.Sin(float64(0.5*speed*dt))) / speed)
	}
	return Quat{
		W: float32(math.Cos(float64(0.5 * speed * dt))),
		X: axis.X,
		Y: axis.Y,
		Z: axis.Z,
	}
}
