package arena

import (
	"errors"
	"testing"

	"github.com/google/uuid"

	"worldsync.dev/internal/entity"
	"worldsync.dev/internal/mathx"
	"worldsync.dev/internal/wire"
)

type fakeClock struct {
	now uint64
}

func (c *fakeClock) fn() entity.Clock { return func() uint64 { return c.now } }

func (c *fakeClock) advanceTo(now uint64) { c.now = now }

func newTestArena(clk *fakeClock) *Arena {
	return New(Config{
		Entity:    entity.Config{Clock: clk.fn()},
		LocalNode: uuid.New(),
	})
}

func addEntity(t *testing.T, a *Arena, clk *fakeClock) *entity.Entity {
	t.Helper()
	e, err := a.Add(uuid.New(), entity.TypeBox)
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	e.RecordCreationTime()
	e.SetPosition(mathx.Vec3{X: 1, Y: 2, Z: 3})
	e.SetName("crate")
	e.SetLastEdited(clk.now)
	return e
}

func TestAddRemoveTombstone(t *testing.T) {
	clk := &fakeClock{now: 1_000_000}
	a := newTestArena(clk)
	e := addEntity(t, a, clk)

	if _, err := a.Add(e.ID(), entity.TypeBox); !errors.Is(err, ErrEntityExists) {
		t.Fatalf("duplicate add error = %v", err)
	}
	if err := a.Remove(e.ID(), false); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if !a.IsDeleted(e.ID()) {
		t.Fatalf("removed id not tombstoned")
	}
	if _, err := a.Add(e.ID(), entity.TypeBox); !errors.Is(err, ErrEntityDeleted) {
		t.Fatalf("tombstoned add error = %v", err)
	}

	clk.advanceTo(clk.now + 61_000_000)
	a.PruneDeleted(clk.now)
	if a.IsDeleted(e.ID()) {
		t.Fatalf("tombstone survived its TTL")
	}
	if _, err := a.Add(e.ID(), entity.TypeBox); err != nil {
		t.Fatalf("re-add after prune: %v", err)
	}
}

func TestLockedEntityRefusesRemoval(t *testing.T) {
	clk := &fakeClock{now: 1_000_000}
	a := newTestArena(clk)
	e := addEntity(t, a, clk)
	e.SetLocked(true)

	if err := a.Remove(e.ID(), false); !errors.Is(err, ErrEntityLocked) {
		t.Fatalf("locked remove error = %v", err)
	}
	if err := a.Remove(e.ID(), true); err != nil {
		t.Fatalf("forced remove: %v", err)
	}
}

func TestReplicationBetweenArenas(t *testing.T) {
	clk := &fakeClock{now: 1_000_000_000}
	src := newTestArena(clk)
	e := addEntity(t, src, clk)

	p := wire.NewPacket(4096)
	if n := src.AppendUpdates(p, wire.CurrentVersion); n != 1 {
		t.Fatalf("appended %d records, want 1", n)
	}

	dst := newTestArena(clk)
	res, err := dst.ReadPacket(p.Bytes(), wire.CurrentVersion, 0, uuid.New())
	if err != nil {
		t.Fatalf("read packet: %v", err)
	}
	if res.Records != 1 || res.Created != 1 {
		t.Fatalf("ingest result %+v", res)
	}

	got, ok := dst.Get(e.ID())
	if !ok {
		t.Fatalf("replicated entity missing")
	}
	if got.Position() != e.Position() || got.Name() != e.Name() {
		t.Fatalf("replicated state mismatch: %+v %q", got.Position(), got.Name())
	}
}

func TestTombstonedRecordParsedButDiscarded(t *testing.T) {
	clk := &fakeClock{now: 1_000_000_000}
	src := newTestArena(clk)
	e := addEntity(t, src, clk)
	second, err := src.Add(uuid.New(), entity.TypeSphere)
	if err != nil {
		t.Fatalf("add second: %v", err)
	}
	second.RecordCreationTime()
	second.SetName("keeper")
	second.SetLastEdited(clk.now)

	p := wire.NewPacket(4096)
	if n := src.AppendUpdates(p, wire.CurrentVersion); n != 2 {
		t.Fatalf("appended %d records, want 2", n)
	}

	dst := newTestArena(clk)
	if _, err := dst.Add(e.ID(), entity.TypeBox); err != nil {
		t.Fatalf("pre-add: %v", err)
	}
	if err := dst.Remove(e.ID(), false); err != nil {
		t.Fatalf("pre-remove: %v", err)
	}

	res, err := dst.ReadPacket(p.Bytes(), wire.CurrentVersion, 0, uuid.New())
	if err != nil {
		t.Fatalf("read packet: %v", err)
	}
	if res.Skipped != 1 {
		t.Fatalf("skipped %d records, want 1", res.Skipped)
	}
	if _, ok := dst.Get(e.ID()); ok {
		t.Fatalf("tombstoned record resurrected the entity")
	}
	if _, ok := dst.Get(second.ID()); !ok {
		t.Fatalf("record after the discarded one was lost")
	}
}

func TestPartialRecordsDrainAcrossPackets(t *testing.T) {
	clk := &fakeClock{now: 1_000_000_000}
	src := newTestArena(clk)
	e := addEntity(t, src, clk)
	e.SetUserData(`{"k":"a longer payload to force spillover over tiny packets"}`)
	e.SetLastEdited(clk.now)

	dst := newTestArena(clk)
	for i := 0; i < 16; i++ {
		p := wire.NewPacket(128)
		if n := src.AppendUpdates(p, wire.CurrentVersion); n == 0 {
			t.Fatalf("pass %d wrote nothing", i)
		}
		if _, err := dst.ReadPacket(p.Bytes(), wire.CurrentVersion, 0, uuid.New()); err != nil {
			t.Fatalf("pass %d read: %v", i, err)
		}
		if _, pending := src.cont.Pending(e.ID()); !pending {
			break
		}
	}
	if _, pending := src.cont.Pending(e.ID()); pending {
		t.Fatalf("continuation never drained")
	}
	got, _ := dst.Get(e.ID())
	if got.UserData() != e.UserData() {
		t.Fatalf("spilled userData mismatch: %q", got.UserData())
	}
}

func TestPendingRecordResumesBeforeNewOnes(t *testing.T) {
	clk := &fakeClock{now: 1_000_000_000}
	src := newTestArena(clk)
	spilled := addEntity(t, src, clk)
	spilled.SetUserData(`{"k":"a longer payload to force spillover over tiny packets"}`)
	spilled.SetLastEdited(clk.now)

	p := wire.NewPacket(128)
	if n := src.AppendUpdates(p, wire.CurrentVersion); n != 1 {
		t.Fatalf("appended %d records, want 1 partial", n)
	}
	if _, pending := src.cont.Pending(spilled.ID()); !pending {
		t.Fatalf("tiny packet did not spill")
	}

	// entities added after the spill must not jump the queue
	for i := 0; i < 4; i++ {
		addEntity(t, src, clk)
	}
	next := wire.NewPacket(4096)
	if n := src.AppendUpdates(next, wire.CurrentVersion); n != 5 {
		t.Fatalf("appended %d records, want 5", n)
	}
	r := wire.NewReader(next.Bytes())
	id, _, err := entity.ReadRecordHeader(r)
	if err != nil {
		t.Fatalf("first record header: %v", err)
	}
	if id != spilled.ID() {
		t.Fatalf("first record is %s, want the spilled %s", id, spilled.ID())
	}
}

func TestSimulationStepRetiresRestingEntities(t *testing.T) {
	clk := &fakeClock{now: 1_000_000}
	a := newTestArena(clk)
	e := addEntity(t, a, clk)
	e.UpdateDamping(0)
	e.UpdateVelocity(mathx.Vec3{X: 1})
	a.Simulation().Changed(e)

	if a.Simulation().Moving() != 1 {
		t.Fatalf("moving set = %d, want 1", a.Simulation().Moving())
	}
	clk.advanceTo(clk.now + 500_000)
	if n := a.Simulation().Step(clk.now); n != 1 {
		t.Fatalf("stepped %d, want 1", n)
	}
	if e.Position().X == 1 {
		t.Fatalf("step did not integrate position")
	}

	e.UpdateVelocity(mathx.Vec3{})
	a.Simulation().Changed(e)
	clk.advanceTo(clk.now + 100_000)
	a.Simulation().Step(clk.now)
	if a.Simulation().Moving() != 0 {
		t.Fatalf("resting entity still in the moving set")
	}
}

func TestPruneExpired(t *testing.T) {
	clk := &fakeClock{now: 1_000_000}
	a := newTestArena(clk)
	e := addEntity(t, a, clk)
	e.UpdateLifetime(2)

	clk.advanceTo(clk.now + 1_000_000)
	if got := a.PruneExpired(); len(got) != 0 {
		t.Fatalf("pruned %v before expiry", got)
	}
	clk.advanceTo(clk.now + 2_000_000)
	got := a.PruneExpired()
	if len(got) != 1 || got[0] != e.ID() {
		t.Fatalf("pruned %v, want [%s]", got, e.ID())
	}
	if !a.IsDeleted(e.ID()) {
		t.Fatalf("expired entity not tombstoned")
	}
}

func TestQueryCubeIntersection(t *testing.T) {
	clk := &fakeClock{now: 1_000_000}
	a := newTestArena(clk)
	near := addEntity(t, a, clk)
	near.SetPosition(mathx.Vec3{X: 1, Y: 1, Z: 1})
	far, err := a.Add(uuid.New(), entity.TypeBox)
	if err != nil {
		t.Fatalf("add far: %v", err)
	}
	far.SetPosition(mathx.Vec3{X: 500, Y: 0, Z: 0})

	hits := a.QueryCube(entity.AACube{Corner: mathx.Vec3{X: -5, Y: -5, Z: -5}, Scale: 10})
	if len(hits) != 1 || hits[0].ID() != near.ID() {
		t.Fatalf("query hit %d entities", len(hits))
	}
}
