package entity

import (
	"math"
	"testing"

	"github.com/google/uuid"

	"worldsync.dev/internal/mathx"
)

func TestSimulateIntegratesPosition(t *testing.T) {
	clk := &fakeClock{now: 1_000_000}
	e := testEntity(clk)
	e.SetVelocity(mathx.Vec3{X: 2})
	e.UpdateDamping(0)

	clk.advance(500_000) // 0.5s
	e.Simulate(clk.now)

	want := float32(1.0)
	if got := e.Position().X; math.Abs(float64(got-want)) > 1e-5 {
		t.Fatalf("position.x = %v, want %v", got, want)
	}
	if e.LastSimulated() != clk.now {
		t.Fatalf("lastSimulated = %d, want %d", e.LastSimulated(), clk.now)
	}
	pose := e.CurrentPose()
	if pose.Position != e.Position() || pose.At != clk.now {
		t.Fatalf("published pose %+v out of step", pose)
	}
}

func TestSimulateClampsLongGaps(t *testing.T) {
	clk := &fakeClock{now: 1_000_000}
	e := testEntity(clk)
	e.SetVelocity(mathx.Vec3{X: 1})
	e.UpdateDamping(0)

	clk.advance(5_000_000) // 5s gap integrates as at most 1s
	e.Simulate(clk.now)

	if got := e.Position().X; math.Abs(float64(got-1.0)) > 1e-5 {
		t.Fatalf("position.x = %v, want clamp at 1.0", got)
	}
}

func TestKinematicStepClampsDirectCalls(t *testing.T) {
	clk := &fakeClock{now: 1_000_000}
	e := testEntity(clk)
	e.SetVelocity(mathx.Vec3{X: 1})
	e.UpdateDamping(0)

	e.SimulateKinematicMotion(5.0, true)

	if got := e.Position().X; math.Abs(float64(got-1.0)) > 1e-5 {
		t.Fatalf("position.x = %v, want clamp at 1.0", got)
	}

	e.SetPosition(mathx.Vec3{})
	e.SimulateKinematicMotion(-1.0, true)
	if got := e.Position().X; got != 0 {
		t.Fatalf("negative dt moved the entity to %v", got)
	}
}

func TestSlowLinearMotionComesToRest(t *testing.T) {
	clk := &fakeClock{now: 1_000_000}
	e := testEntity(clk)
	e.SetVelocity(mathx.Vec3{X: 0.0011})
	e.UpdateDamping(0.9)
	e.ClearDirtyFlags(^uint32(0))

	e.SimulateKinematicMotion(1.0, true)

	if !e.Velocity().IsZero() {
		t.Fatalf("velocity = %+v, want rest", e.Velocity())
	}
	if e.DirtyFlags()&DirtyMotionType == 0 {
		t.Fatalf("coming to rest did not flag motion type")
	}
}

func TestSilentExtrapolationSetsNoFlags(t *testing.T) {
	clk := &fakeClock{now: 1_000_000}
	e := testEntity(clk)
	e.SetVelocity(mathx.Vec3{X: 0.0011})
	e.UpdateDamping(0.9)
	e.ClearDirtyFlags(^uint32(0))

	e.SimulateKinematicMotion(1.0, false)

	if !e.Velocity().IsZero() {
		t.Fatalf("velocity = %+v, want rest", e.Velocity())
	}
	if e.DirtyFlags() != 0 {
		t.Fatalf("silent step raised flags %#x", e.DirtyFlags())
	}
}

func TestAngularMotionSpinsAndDamps(t *testing.T) {
	clk := &fakeClock{now: 1_000_000}
	e := testEntity(clk)
	e.SetAngularVelocity(mathx.Vec3{Y: float32(math.Pi)})
	e.UpdateAngularDamping(0)
	before := e.Rotation()

	e.SimulateKinematicMotion(1.0, true)

	after := e.Rotation()
	if after == before {
		t.Fatalf("rotation did not advance")
	}
	norm := after.W*after.W + after.X*after.X + after.Y*after.Y + after.Z*after.Z
	if math.Abs(float64(norm-1)) > 1e-4 {
		t.Fatalf("rotation drifted off unit length: %v", norm)
	}

	// π rad/s about Y for 1s is a half turn
	v := after.Rotate(mathx.Vec3{X: 1})
	if math.Abs(float64(v.X+1)) > 0.01 || math.Abs(float64(v.Z)) > 0.01 {
		t.Fatalf("half turn landed at %+v", v)
	}
}

func TestSlowSpinSnapsToRest(t *testing.T) {
	clk := &fakeClock{now: 1_000_000}
	e := testEntity(clk)
	e.SetAngularVelocity(mathx.Vec3{Y: 0.0015})
	e.UpdateAngularDamping(0)
	e.ClearDirtyFlags(^uint32(0))
	before := e.Rotation()

	e.SimulateKinematicMotion(0.5, true)

	if !e.AngularVelocity().IsZero() {
		t.Fatalf("angular velocity = %+v, want rest", e.AngularVelocity())
	}
	if e.Rotation() != before {
		t.Fatalf("sub-threshold spin still rotated the entity")
	}
	if e.DirtyFlags()&DirtyMotionType == 0 {
		t.Fatalf("spin-down did not flag motion type")
	}
}

type nullAction struct {
	id uuid.UUID
}

func (a nullAction) ID() uuid.UUID                { return a.id }
func (a nullAction) Type() uint32                 { return 1 }
func (a nullAction) Encode() []byte               { return []byte{0xab} }
func (a nullAction) Update(payload []byte) error  { return nil }
func (a nullAction) SuppressesLocationEdits() bool { return true }

func TestActionsSuspendKinematics(t *testing.T) {
	clk := &fakeClock{now: 1_000_000}
	e := testEntity(clk)
	e.SetVelocity(mathx.Vec3{X: 2})
	if err := e.AddAction(nullAction{id: uuid.New()}); err != nil {
		t.Fatalf("add action: %v", err)
	}

	e.SimulateKinematicMotion(1.0, true)

	if e.Position().X != 0 {
		t.Fatalf("kinematics ran with an action attached: %+v", e.Position())
	}
}
