package entity

import (
	"testing"

	"github.com/google/uuid"

	"worldsync.dev/internal/mathx"
	"worldsync.dev/internal/wire"
)

type fakeClock struct {
	now uint64
}

func (c *fakeClock) fn() Clock {
	return func() uint64 { return c.now }
}

func (c *fakeClock) advance(usecs uint64) { c.now += usecs }

func testEntity(clk *fakeClock) *Entity {
	return New(uuid.New(), TypeBox, Config{Clock: clk.fn()})
}

func populated(clk *fakeClock) *Entity {
	e := testEntity(clk)
	e.RecordCreationTime()
	e.SetPosition(mathx.Vec3{X: 1.5, Y: -2.25, Z: 10})
	e.SetRotation(mathx.Quat{W: 0.9238795, X: 0, Y: 0.3826834, Z: 0}.Normalize())
	e.SetDimensions(mathx.Vec3{X: 1, Y: 2, Z: 3})
	e.SetVelocity(mathx.Vec3{X: 0.5, Y: 0, Z: -0.25})
	e.SetAngularVelocity(mathx.Vec3{X: 0, Y: 1.25, Z: 0})
	e.SetAcceleration(mathx.Vec3{Y: -9.8})
	e.UpdateDensity(750)
	e.UpdateDamping(0.2)
	e.UpdateFriction(0.7)
	e.UpdateRestitution(0.4)
	e.UpdateLifetime(300)
	e.SetName("crate")
	e.SetScript("https://example.com/crate.js")
	e.SetUserData(`{"grabbable":true}`)
	e.SetDescription("a wooden crate")
	e.SetMarketplaceID("mk-0001")
	e.SetParentID(uuid.New())
	e.SetParentJointIndex(3)
	e.SetSimulationOwner(uuid.New(), 64)
	e.SetLastEdited(clk.now)
	return e
}

func encodeFull(t *testing.T, e *Entity) []byte {
	t.Helper()
	p := wire.NewPacket(4096)
	state, residual := e.AppendEntityData(p, e.EntityProperties(), wire.CurrentVersion)
	if state != wire.AppendCompleted {
		t.Fatalf("append state = %v, want completed", state)
	}
	if !residual.Empty() {
		t.Fatalf("residual = %#x, want empty", uint64(residual))
	}
	return p.Bytes()
}

func decodeInto(t *testing.T, e *Entity, buf []byte, params ReadParams) {
	t.Helper()
	r := wire.NewReader(buf)
	id, typ, err := ReadRecordHeader(r)
	if err != nil {
		t.Fatalf("read header: %v", err)
	}
	if id != e.ID() || typ != e.Type() {
		t.Fatalf("header %s/%d does not match entity %s/%d", id, typ, e.ID(), e.Type())
	}
	n, err := e.ReadEntityData(r, params)
	if err != nil {
		t.Fatalf("read entity data: %v", err)
	}
	if n != r.Offset()-16-1 {
		t.Fatalf("bytes read = %d, cursor moved %d", n, r.Offset()-17)
	}
	if r.Remaining() != 0 {
		t.Fatalf("%d bytes left after record", r.Remaining())
	}
}

func TestRoundTripBitExact(t *testing.T) {
	clk := &fakeClock{now: 1_700_000_000_000_000}
	src := populated(clk)
	buf := encodeFull(t, src)

	dst := New(src.ID(), src.Type(), Config{Clock: clk.fn()})
	decodeInto(t, dst, buf, ReadParams{Version: wire.CurrentVersion})

	if dst.Position() != src.Position() {
		t.Fatalf("position = %+v, want %+v", dst.Position(), src.Position())
	}
	if dst.Velocity() != src.Velocity() {
		t.Fatalf("velocity = %+v, want %+v", dst.Velocity(), src.Velocity())
	}
	if dst.Rotation() != src.Rotation() {
		t.Fatalf("rotation = %+v, want %+v", dst.Rotation(), src.Rotation())
	}
	if dst.Dimensions() != src.Dimensions() {
		t.Fatalf("dimensions = %+v, want %+v", dst.Dimensions(), src.Dimensions())
	}
	if dst.Density() != src.Density() {
		t.Fatalf("density = %v, want %v", dst.Density(), src.Density())
	}
	if dst.Name() != src.Name() || dst.Script() != src.Script() || dst.UserData() != src.UserData() {
		t.Fatalf("string properties did not survive the round trip")
	}
	if dst.MarketplaceID() != src.MarketplaceID() {
		t.Fatalf("marketplaceID = %q, want %q", dst.MarketplaceID(), src.MarketplaceID())
	}
	if dst.ParentID() != src.ParentID() || dst.ParentJointIndex() != src.ParentJointIndex() {
		t.Fatalf("parent link did not survive the round trip")
	}
	if dst.SimulatorID() != src.SimulatorID() || dst.SimulationPriority() != src.SimulationPriority() {
		t.Fatalf("ownership did not survive the round trip")
	}
	if dst.Created() != src.Created() {
		t.Fatalf("created = %d, want %d", dst.Created(), src.Created())
	}
	if dst.LastEdited() != src.LastEdited() {
		t.Fatalf("lastEdited = %d, want %d", dst.LastEdited(), src.LastEdited())
	}
}

func TestDuplicatePacketIsIdempotent(t *testing.T) {
	clk := &fakeClock{now: 1_700_000_000_000_000}
	src := populated(clk)
	buf := encodeFull(t, src)

	clk.advance(10_000)
	dst := New(src.ID(), src.Type(), Config{Clock: clk.fn()})
	decodeInto(t, dst, buf, ReadParams{Version: wire.CurrentVersion})
	posAfterFirst := dst.Position()
	editedAfterFirst := dst.LastEdited()

	// locally mutate, then replay the identical packet: the echo carries the
	// same remote stamp, and the local edit is newer, so nothing reverts
	clk.advance(10_000)
	dst.UpdatePosition(mathx.Vec3{X: 99, Y: 99, Z: 99})
	dst.SetLastEdited(clk.now)
	decodeInto(t, dst, buf, ReadParams{Version: wire.CurrentVersion})

	if dst.Position() == posAfterFirst {
		t.Fatalf("replayed packet reverted the local edit")
	}
	if dst.LastEdited() <= editedAfterFirst {
		t.Fatalf("lastEdited regressed to %d", dst.LastEdited())
	}
}

func TestStalePacketRejectedButOwnershipApplies(t *testing.T) {
	clk := &fakeClock{now: 1_700_000_000_000_000}
	src := populated(clk)
	newOwner := uuid.New()
	src.SetSimulationOwner(newOwner, 128)
	buf := encodeFull(t, src)

	clk.advance(1_000_000)
	dst := New(src.ID(), src.Type(), Config{Clock: clk.fn()})
	dst.SetPosition(mathx.Vec3{X: 7, Y: 7, Z: 7})
	dst.SetLastEdited(clk.now) // local record is newer than the packet

	decodeInto(t, dst, buf, ReadParams{Version: wire.CurrentVersion})

	if got := dst.Position(); got != (mathx.Vec3{X: 7, Y: 7, Z: 7}) {
		t.Fatalf("stale packet overwrote position: %+v", got)
	}
	if dst.SimulatorID() != newOwner {
		t.Fatalf("ownership from rejected packet not applied: %s", dst.SimulatorID())
	}
	if dst.DirtyFlags()&DirtySimulatorID == 0 {
		t.Fatalf("ownership change did not flag DirtySimulatorID")
	}
}

type countingTracker struct {
	records int
	bytes   int
}

func (c *countingTracker) TrackIncomingEdit(editedAt uint64, bytes int) {
	c.records++
	c.bytes += bytes
}

func TestStalePacketStillCountedByTracker(t *testing.T) {
	clk := &fakeClock{now: 1_700_000_000_000_000}
	src := populated(clk)
	buf := encodeFull(t, src)

	clk.advance(1_000_000)
	dst := New(src.ID(), src.Type(), Config{Clock: clk.fn()})
	dst.SetLastEdited(clk.now) // local record is newer than the packet

	tracker := &countingTracker{}
	decodeInto(t, dst, buf, ReadParams{Version: wire.CurrentVersion, Tracker: tracker})

	if tracker.records != 1 {
		t.Fatalf("rejected record not counted: %d", tracker.records)
	}
	if tracker.bytes != len(buf)-17 {
		t.Fatalf("tracked %d bytes, record body is %d", tracker.bytes, len(buf)-17)
	}
}

func TestClockSkewAdjustsStamps(t *testing.T) {
	clk := &fakeClock{now: 1_700_000_000_000_000}
	src := populated(clk)
	buf := encodeFull(t, src)

	// receiver clock runs 5s behind the sender
	const skew = int64(5_000_000)
	rclk := &fakeClock{now: clk.now - uint64(skew) + 1000}
	dst := New(src.ID(), src.Type(), Config{Clock: rclk.fn()})
	decodeInto(t, dst, buf, ReadParams{Version: wire.CurrentVersion, ClockSkew: skew})

	want := src.LastEdited() - uint64(skew)
	if dst.LastEdited() != want {
		t.Fatalf("lastEdited = %d, want %d", dst.LastEdited(), want)
	}
	if dst.Created() > rclk.now {
		t.Fatalf("created %d landed in the future (now %d)", dst.Created(), rclk.now)
	}
}

func TestFutureStampClampedToNow(t *testing.T) {
	clk := &fakeClock{now: 1_700_000_000_000_000}
	src := populated(clk)
	buf := encodeFull(t, src)

	rclk := &fakeClock{now: clk.now - 30_000_000} // receiver far behind, no skew known
	dst := New(src.ID(), src.Type(), Config{Clock: rclk.fn()})
	decodeInto(t, dst, buf, ReadParams{Version: wire.CurrentVersion})

	if dst.LastEdited() > rclk.now {
		t.Fatalf("lastEdited %d not clamped to now %d", dst.LastEdited(), rclk.now)
	}
}

func TestTersePropertiesSkippedWhenLocalOwnsSimulation(t *testing.T) {
	clk := &fakeClock{now: 1_700_000_000_000_000}
	localNode := uuid.New()

	src := populated(clk)
	src.SetSimulationOwner(localNode, 200) // sender echoes our own ownership
	src.SetName("renamed")
	buf := encodeFull(t, src)

	clk.advance(10_000)
	dst := New(src.ID(), src.Type(), Config{Clock: clk.fn()})
	dst.SetSimulationOwner(localNode, 200)
	dst.SetPosition(mathx.Vec3{X: 42, Y: 0, Z: 0})
	dst.SetVelocity(mathx.Vec3{X: 3, Y: 0, Z: 0})

	decodeInto(t, dst, buf, ReadParams{Version: wire.CurrentVersion, LocalNode: localNode})

	if got := dst.Position(); got != (mathx.Vec3{X: 42, Y: 0, Z: 0}) {
		t.Fatalf("terse position applied against local simulation authority: %+v", got)
	}
	if got := dst.Velocity(); got != (mathx.Vec3{X: 3, Y: 0, Z: 0}) {
		t.Fatalf("terse velocity applied against local simulation authority: %+v", got)
	}
	if dst.Name() != "renamed" {
		t.Fatalf("non-terse property not applied: %q", dst.Name())
	}
}

func TestVersionGatesMarketplaceID(t *testing.T) {
	clk := &fakeClock{now: 1_700_000_000_000_000}
	src := populated(clk)

	p := wire.NewPacket(4096)
	state, _ := src.AppendEntityData(p, src.EntityProperties(), wire.VersionHasLastSimulated)
	if state != wire.AppendCompleted {
		t.Fatalf("append state = %v", state)
	}

	dst := New(src.ID(), src.Type(), Config{Clock: clk.fn()})
	decodeInto(t, dst, p.Bytes(), ReadParams{Version: wire.VersionHasLastSimulated})
	if dst.MarketplaceID() != "" {
		t.Fatalf("marketplaceID leaked into a pre-marketplace stream: %q", dst.MarketplaceID())
	}
	if dst.Name() != src.Name() {
		t.Fatalf("older version lost unrelated properties")
	}
}

func TestAppendNoneWhenHeaderDoesNotFit(t *testing.T) {
	clk := &fakeClock{now: 1_700_000_000_000_000}
	src := populated(clk)

	p := wire.NewPacket(10)
	state, residual := src.AppendEntityData(p, src.EntityProperties(), wire.CurrentVersion)
	if state != wire.AppendNone {
		t.Fatalf("append state = %v, want none", state)
	}
	if p.Len() != 0 {
		t.Fatalf("packet holds %d bytes after a refused append", p.Len())
	}
	if residual.Empty() {
		t.Fatalf("residual lost the refused request")
	}
}

func TestBudgetSpilloverContinuation(t *testing.T) {
	clk := &fakeClock{now: 1_700_000_000_000_000}
	src := populated(clk)

	cont := wire.NewContinuationState()
	requested := cont.Requested(src.ID(), src.EntityProperties())

	first := wire.NewPacket(80)
	state, residual := src.AppendEntityData(first, requested, wire.CurrentVersion)
	if state != wire.AppendPartial {
		t.Fatalf("first append state = %v, want partial", state)
	}
	if residual.Empty() {
		t.Fatalf("partial append with empty residual")
	}
	cont.Update(src.ID(), residual)

	dst := New(src.ID(), src.Type(), Config{Clock: clk.fn()})
	decodeInto(t, dst, first.Bytes(), ReadParams{Version: wire.CurrentVersion})

	for i := 0; i < 8; i++ {
		requested = cont.Requested(src.ID(), src.EntityProperties())
		p := wire.NewPacket(80)
		state, residual = src.AppendEntityData(p, requested, wire.CurrentVersion)
		if state == wire.AppendNone {
			t.Fatalf("pass %d wrote nothing with %#x requested", i, uint64(requested))
		}
		cont.Update(src.ID(), residual)
		decodeInto(t, dst, p.Bytes(), ReadParams{Version: wire.CurrentVersion})
		if state == wire.AppendCompleted {
			break
		}
	}
	if _, pending := cont.Pending(src.ID()); pending {
		t.Fatalf("continuation never drained")
	}

	if dst.Position() != src.Position() || dst.Name() != src.Name() ||
		dst.UserData() != src.UserData() || dst.Description() != src.Description() {
		t.Fatalf("spilled record did not reassemble")
	}
}

func TestAdjustEditPacketForClockSkew(t *testing.T) {
	clk := &fakeClock{now: 1_700_000_000_000_000}
	src := populated(clk)
	buf := encodeFull(t, src)

	const skew = int64(-2_500_000)
	if err := AdjustEditPacketForClockSkew(buf, skew); err != nil {
		t.Fatalf("adjust: %v", err)
	}

	r := wire.NewReader(buf)
	if _, _, err := ReadRecordHeader(r); err != nil {
		t.Fatalf("header: %v", err)
	}
	if _, err := r.U64(); err != nil {
		t.Fatalf("created: %v", err)
	}
	lastEdited, err := r.U64()
	if err != nil {
		t.Fatalf("lastEdited: %v", err)
	}
	want := uint64(int64(src.LastEdited()) + skew)
	if lastEdited != want {
		t.Fatalf("rewritten lastEdited = %d, want %d", lastEdited, want)
	}
}
