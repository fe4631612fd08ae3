package entity

import (
	"worldsync.dev/internal/mathx"
)

// AACube is an axis-aligned cube given by its minimum corner and edge length.
type AACube struct {
	Corner mathx.Vec3
	Scale  float32
}

func (c AACube) Center() mathx.Vec3 {
	half := c.Scale * 0.5
	return c.Corner.Add(mathx.Vec3{X: half, Y: half, Z: half})
}

func (c AACube) ContainsPoint(p mathx.Vec3) bool {
	return p.X >= c.Corner.X && p.X <= c.Corner.X+c.Scale &&
		p.Y >= c.Corner.Y && p.Y <= c.Corner.Y+c.Scale &&
		p.Z >= c.Corner.Z && p.Z <= c.Corner.Z+c.Scale
}

// AABox is an axis-aligned box given by its minimum corner and dimensions.
type AABox struct {
	Corner     mathx.Vec3
	Dimensions mathx.Vec3
}

func (b AABox) Center() mathx.Vec3 {
	return b.Corner.Add(b.Dimensions.Scale(0.5))
}

func (b AABox) LargestDimension() float32 {
	d := b.Dimensions
	largest := d.X
	if d.Y > largest {
		largest = d.Y
	}
	if d.Z > largest {
		largest = d.Z
	}
	return largest
}

// extents is a running min/max accumulator over rotated corners.
type extents struct {
	min, max mathx.Vec3
}

func (e *extents) add(p mathx.Vec3) {
	if p.X < e.min.X {
		e.min.X = p.X
	}
	if p.Y < e.min.Y {
		e.min.Y = p.Y
	}
	if p.Z < e.min.Z {
		e.min.Z = p.Z
	}
	if p.X > e.max.X {
		e.max.X = p.X
	}
	if p.Y > e.max.Y {
		e.max.Y = p.Y
	}
	if p.Z > e.max.Z {
		e.max.Z = p.Z
	}
}

func (e *Entity) invalidateBounds() {
	e.recalcAABox = true
	e.recalcMax = true
	e.recalcMin = true
}

// rotatedExtents rotates the registration-relative box through the entity
// rotation and shifts it to world space.
func (e *Entity) rotatedExtents() extents {
	lo := e.registrationPoint.Mul(e.dimensions).Scale(-1)
	hi := e.dimensions.Mul(mathx.Vec3{X: 1, Y: 1, Z: 1}.Sub(e.registrationPoint))

	corners := [8]mathx.Vec3{
		{X: lo.X, Y: lo.Y, Z: lo.Z},
		{X: lo.X, Y: lo.Y, Z: hi.Z},
		{X: lo.X, Y: hi.Y, Z: lo.Z},
		{X: lo.X, Y: hi.Y, Z: hi.Z},
		{X: hi.X, Y: lo.Y, Z: lo.Z},
		{X: hi.X, Y: lo.Y, Z: hi.Z},
		{X: hi.X, Y: hi.Y, Z: lo.Z},
		{X: hi.X, Y: hi.Y, Z: hi.Z},
	}

	first := e.rotation.Rotate(corners[0])
	ext := extents{min: first, max: first}
	for _, c := range corners[1:] {
		ext.add(e.rotation.Rotate(c))
	}
	ext.min = ext.min.Add(e.position)
	ext.max = ext.max.Add(e.position)
	return ext
}

// MaximumAACube is the rotation-independent bound: a cube centered on the
// registration point whose radius reaches the furthest corner under any
// rotation. It only changes when position, dimensions or registration move.
func (e *Entity) MaximumAACube() AACube {
	if e.recalcMax {
		furthest := e.registrationPoint.Max(mathx.Vec3{X: 1, Y: 1, Z: 1}.Sub(e.registrationPoint))
		radius := e.dimensions.Mul(furthest).Length()
		e.maxCube = AACube{
			Corner: e.position.Sub(mathx.Vec3{X: radius, Y: radius, Z: radius}),
			Scale:  radius * 2,
		}
		e.recalcMax = false
	}
	return e.maxCube
}

// MinimumAACube is the smallest cube that encloses the rotated box.
func (e *Entity) MinimumAACube() AACube {
	if e.recalcMin {
		ext := e.rotatedExtents()
		box := AABox{Corner: ext.min, Dimensions: ext.max.Sub(ext.min)}
		side := box.LargestDimension()
		half := side * 0.5
		e.minCube = AACube{
			Corner: box.Center().Sub(mathx.Vec3{X: half, Y: half, Z: half}),
			Scale:  side,
		}
		e.recalcMin = false
	}
	return e.minCube
}

// AABox is the tight axis-aligned bound of the rotated box.
func (e *Entity) AABox() AABox {
	if e.recalcAABox {
		ext := e.rotatedExtents()
		e.cachedAABox = AABox{Corner: ext.min, Dimensions: ext.max.Sub(ext.min)}
		e.recalcAABox = false
	}
	return e.cachedAABox
}

// QueryCube is the bound advertised on the wire. Unless explicitly set it
// falls back to the maximum cube so viewers never cull a rotating entity.
func (e *Entity) QueryCube() AACube {
	if e.queryCubeSet {
		return e.queryCube
	}
	return e.MaximumAACube()
}

func (e *Entity) SetQueryCube(c AACube) {
	e.queryCube = c
	e.queryCubeSet = true
}

func (e *Entity) HasExplicitQueryCube() bool { return e.queryCubeSet }

// LocalToWorld maps a point in the entity frame (origin at the registration
// point, unrotated axes) to world space.
func (e *Entity) LocalToWorld(p mathx.Vec3) mathx.Vec3 {
	return e.rotation.Rotate(p).Add(e.position)
}

// WorldToLocal is the inverse of LocalToWorld.
func (e *Entity) WorldToLocal(p mathx.Vec3) mathx.Vec3 {
	return e.rotation.Conjugate().Rotate(p.Sub(e.position))
}

// CenterInWorld is the geometric center of the unrotated box, in world
// space. For a centered registration point it equals the position.
func (e *Entity) CenterInWorld() mathx.Vec3 {
	offset := mathx.Vec3{X: 0.5, Y: 0.5, Z: 0.5}.Sub(e.registrationPoint).Mul(e.dimensions)
	return e.LocalToWorld(offset)
}
