package entity

import (
	"math"
	"testing"

	"worldsync.dev/internal/mathx"
)

func TestDensityClamped(t *testing.T) {
	clk := &fakeClock{now: 1}
	e := testEntity(clk)

	e.UpdateDensity(5)
	if e.Density() != MinDensity {
		t.Fatalf("density = %v, want clamp to %v", e.Density(), MinDensity)
	}
	e.UpdateDensity(50_000)
	if e.Density() != MaxDensity {
		t.Fatalf("density = %v, want clamp to %v", e.Density(), MaxDensity)
	}
	if e.DirtyFlags()&DirtyMass == 0 {
		t.Fatalf("density change did not flag mass")
	}
}

func TestMassBackSolvesDensity(t *testing.T) {
	clk := &fakeClock{now: 1}
	e := testEntity(clk)
	e.SetDimensions(mathx.Vec3{X: 1, Y: 1, Z: 2})

	e.UpdateMass(4000)
	if e.Density() != 2000 {
		t.Fatalf("density = %v, want 2000", e.Density())
	}
	if got := e.Mass(); math.Abs(float64(got-4000)) > 0.01 {
		t.Fatalf("mass = %v, want 4000", got)
	}

	// an unachievable mass clamps through density
	e.UpdateMass(1)
	if e.Density() != MinDensity {
		t.Fatalf("density = %v, want floor %v", e.Density(), MinDensity)
	}
}

func TestMaterialClamps(t *testing.T) {
	clk := &fakeClock{now: 1}
	e := testEntity(clk)

	e.UpdateRestitution(2)
	if e.Restitution() != MaxRestitution {
		t.Fatalf("restitution = %v, want %v", e.Restitution(), MaxRestitution)
	}
	e.UpdateFriction(50)
	if e.Friction() != MaxFriction {
		t.Fatalf("friction = %v, want %v", e.Friction(), MaxFriction)
	}
	e.UpdateDamping(-1)
	if e.Damping() != 0 {
		t.Fatalf("damping = %v, want 0", e.Damping())
	}
}

func TestVelocitySnapBelowThreshold(t *testing.T) {
	clk := &fakeClock{now: 1}
	e := testEntity(clk)

	e.UpdateVelocity(mathx.Vec3{X: 0.0005})
	if !e.Velocity().IsZero() {
		t.Fatalf("tiny velocity not snapped: %+v", e.Velocity())
	}
	if e.DirtyFlags()&DirtyLinearVelocity == 0 {
		t.Fatalf("velocity change did not flag")
	}

	e.UpdateAngularVelocity(mathx.Vec3{Y: 0.0001})
	if !e.AngularVelocity().IsZero() {
		t.Fatalf("tiny spin not snapped: %+v", e.AngularVelocity())
	}
}

func TestRegistrationPointClamped(t *testing.T) {
	clk := &fakeClock{now: 1}
	e := testEntity(clk)

	e.SetRegistrationPoint(mathx.Vec3{X: -1, Y: 0.5, Z: 2})
	want := mathx.Vec3{X: 0, Y: 0.5, Z: 1}
	if e.RegistrationPoint() != want {
		t.Fatalf("registration = %+v, want %+v", e.RegistrationPoint(), want)
	}
}

func TestHrefRequiresWorldScheme(t *testing.T) {
	clk := &fakeClock{now: 1}
	e := testEntity(clk)

	e.SetHref("https://example.com")
	if e.Href() != "" {
		t.Fatalf("non-world href accepted: %q", e.Href())
	}
	e.SetHref("world://welcome/0,0,0")
	if e.Href() == "" {
		t.Fatalf("world href rejected")
	}
}

func TestWorldLocalRoundTrip(t *testing.T) {
	clk := &fakeClock{now: 1}
	e := testEntity(clk)
	e.SetPosition(mathx.Vec3{X: 5, Y: -2, Z: 1})
	e.SetRotation(mathx.RotationStep(mathx.Vec3{Y: 1}, 0.7).Normalize())

	p := mathx.Vec3{X: 1, Y: 2, Z: 3}
	got := e.WorldToLocal(e.LocalToWorld(p))
	if got.Sub(p).Length() > 1e-5 {
		t.Fatalf("round trip drifted: %+v", got)
	}
}

func TestCenterInWorldCenteredRegistration(t *testing.T) {
	clk := &fakeClock{now: 1}
	e := testEntity(clk)
	e.SetDimensions(mathx.Vec3{X: 2, Y: 4, Z: 6})
	e.SetPosition(mathx.Vec3{X: 7, Y: 8, Z: 9})

	// Default registration is the center, so center == position.
	c := e.CenterInWorld()
	if c.Sub(e.Position()).Length() > 1e-5 {
		t.Fatalf("center = %+v, want %+v", c, e.Position())
	}
}

func TestBoundsFollowTransform(t *testing.T) {
	clk := &fakeClock{now: 1}
	e := testEntity(clk)
	e.SetDimensions(mathx.Vec3{X: 2, Y: 2, Z: 2})
	e.SetPosition(mathx.Vec3{X: 10, Y: 0, Z: 0})

	cube := e.MaximumAACube()
	wantRadius := float32(math.Sqrt(3)) // corner distance of a unit half-extent box
	if math.Abs(float64(cube.Scale-2*wantRadius)) > 1e-5 {
		t.Fatalf("max cube scale = %v, want %v", cube.Scale, 2*wantRadius)
	}
	if c := cube.Center(); c != e.Position() {
		t.Fatalf("max cube center = %+v, want %+v", c, e.Position())
	}

	box := e.AABox()
	if box.Dimensions != e.Dimensions() {
		t.Fatalf("unrotated box dimensions = %+v", box.Dimensions)
	}

	// the cache must refresh when the transform moves
	e.SetPosition(mathx.Vec3{X: -10, Y: 0, Z: 0})
	if c := e.MaximumAACube().Center(); c != e.Position() {
		t.Fatalf("stale max cube center %+v after move", c)
	}
	if c := e.AABox().Center(); c != e.Position() {
		t.Fatalf("stale AABox center %+v after move", c)
	}
}

func TestMinimumCubeTracksRotation(t *testing.T) {
	clk := &fakeClock{now: 1}
	e := testEntity(clk)
	e.SetDimensions(mathx.Vec3{X: 1, Y: 1, Z: 1})

	minSide := e.MinimumAACube().Scale
	maxSide := e.MaximumAACube().Scale
	if minSide >= maxSide {
		t.Fatalf("min cube %v not tighter than max cube %v", minSide, maxSide)
	}

	// rotate 45° about Y: the tight cube grows, the rotation-proof one doesn't
	s := float32(math.Sin(math.Pi / 8))
	c := float32(math.Cos(math.Pi / 8))
	e.SetRotation(mathx.Quat{W: c, Y: s}.Normalize())
	rotated := e.MinimumAACube().Scale
	if rotated <= minSide {
		t.Fatalf("rotated min cube %v did not grow from %v", rotated, minSide)
	}
	if got := e.MaximumAACube().Scale; got != maxSide {
		t.Fatalf("max cube changed under rotation: %v -> %v", maxSide, got)
	}
}

func TestQueryCubeFallsBackToMaxCube(t *testing.T) {
	clk := &fakeClock{now: 1}
	e := testEntity(clk)

	if e.QueryCube() != e.MaximumAACube() {
		t.Fatalf("query cube fallback mismatch")
	}
	explicit := AACube{Corner: mathx.Vec3{X: -5, Y: -5, Z: -5}, Scale: 10}
	e.SetQueryCube(explicit)
	if e.QueryCube() != explicit {
		t.Fatalf("explicit query cube not returned")
	}
}
