package psvm

import (
	"context"
	"testing"

	"github.com/ripforge/mm/internal/apportioner"
	"github.com/ripforge/mm/internal/mmalloc"
	"github.com/ripforge/mm/internal/mmarena"
	"github.com/ripforge/mm/internal/mmpool"
	"github.com/ripforge/mm/internal/mmreserve"
)

func newTestManager(t *testing.T, gcThreshold int64) *Manager {
	t.Helper()
	arena := mmarena.New(64<<20, 64<<20)
	registry, err := mmpool.NewRegistry(arena, mmpool.SACConfig{})
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	reserve := mmreserve.NewManager(arena, mmreserve.Config{})
	ap := apportioner.NewManager()
	alloc := mmalloc.NewAllocator(registry, reserve, ap, 4096)

	m, err := New(registry, alloc, Config{
		GCThreshold: gcThreshold,
		Cost:        mmreserve.Cost{Tier: mmreserve.TierRAM, Value: 0},
	})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	return m
}

func TestSaveRestoreZeroesOnlyPoppedLevels(t *testing.T) {
	m := newTestManager(t, 0)
	ctx := context.Background()

	if _, err := m.AllocObject(ctx, VMLocal, 64); err != nil {
		t.Fatalf("alloc at level 0: %v", err)
	}
	if got := m.AllocsSinceGCAt(0); got != 64 {
		t.Fatalf("level 0 counter = %d, want 64", got)
	}

	lvl1 := m.Save()
	if lvl1 != 1 {
		t.Fatalf("Save() = %d, want 1", lvl1)
	}
	if _, err := m.AllocObject(ctx, VMLocal, 128); err != nil {
		t.Fatalf("alloc at level 1: %v", err)
	}

	lvl2 := m.Save()
	if lvl2 != 2 {
		t.Fatalf("Save() = %d, want 2", lvl2)
	}
	if _, err := m.AllocObject(ctx, VMLocal, 256); err != nil {
		t.Fatalf("alloc at level 2: %v", err)
	}

	if got := m.AllocsSinceGCAt(1); got != 128 {
		t.Fatalf("level 1 counter before restore = %d, want 128", got)
	}
	if got := m.AllocsSinceGCAt(2); got != 256 {
		t.Fatalf("level 2 counter before restore = %d, want 256", got)
	}

	if err := m.Restore(1); err != nil {
		t.Fatalf("restore to 1: %v", err)
	}
	if m.SaveLevel() != 1 {
		t.Fatalf("SaveLevel() after restore = %d, want 1", m.SaveLevel())
	}
	// Level 1's own counter survives restore-to-1; only levels above it
	// are popped and zeroed.
	if got := m.AllocsSinceGCAt(1); got != 128 {
		t.Fatalf("level 1 counter after restore = %d, want 128 (untouched)", got)
	}
	if got := m.AllocsSinceGCAt(0); got != 64 {
		t.Fatalf("level 0 counter after restore = %d, want 64 (untouched)", got)
	}
}

func TestRestoreAboveCurrentLevelFails(t *testing.T) {
	m := newTestManager(t, 0)
	if err := m.Restore(5); err != ErrRestoreAboveCurrent {
		t.Fatalf("Restore(5) from level 0 = %v, want ErrRestoreAboveCurrent", err)
	}
}

func TestGlobalSaveLevelCapsBelowLocal(t *testing.T) {
	m := newTestManager(t, 0)
	// MaxGlobalSaveLevel == 1, so globals stop advancing past level 2
	// while locals keep climbing.
	for i := 0; i < MaxSaveLevels; i++ {
		m.Save()
	}
	if m.SaveLevel() != MaxSaveLevels {
		t.Fatalf("SaveLevel() = %d, want %d", m.SaveLevel(), MaxSaveLevels)
	}
	if m.globalLevel > MaxGlobalSaveLevel+1 {
		t.Fatalf("globalLevel = %d, exceeded cap %d", m.globalLevel, MaxGlobalSaveLevel+1)
	}
}

func TestCheckPointerSafety(t *testing.T) {
	cases := []struct {
		level, ptrLevel int32
		want            bool
	}{
		{level: 2, ptrLevel: 2, want: true},
		{level: 2, ptrLevel: 1, want: true},
		{level: 1, ptrLevel: 2, want: false},
	}
	for _, c := range cases {
		if got := Check(c.level, c.ptrLevel); got != c.want {
			t.Errorf("Check(%d, %d) = %v, want %v", c.level, c.ptrLevel, got, c.want)
		}
	}
}

// fakeCollector simulates the arena's reclaim pass: it always reports the
// full AllocSinceGC figure passed in at construction as reclaimed, plus a
// fixed set of finalization refs.
type fakeCollector struct {
	reclaim    int64
	finalizers []FinalizeRef
	sawLocal   bool
}

func (c *fakeCollector) Collect(ctx context.Context, localOnly bool) (int64, []FinalizeRef, error) {
	c.sawLocal = localOnly
	return c.reclaim, c.finalizers, nil
}

func TestGCSolicitRefusesBelowHysteresis(t *testing.T) {
	m := newTestManager(t, 1<<30)
	m.SetBetweenOperators(true)
	ctx := context.Background()

	if _, err := m.AllocObject(ctx, VMLocal, hysteresisBytes-1); err != nil {
		t.Fatalf("alloc: %v", err)
	}

	offer, err := m.gcSolicit(ctx, mmreserve.TierRAM)
	if err != nil {
		t.Fatalf("gcSolicit: %v", err)
	}
	if offer != nil {
		t.Fatalf("expected no offer below hysteresis threshold, got %+v", offer)
	}
}

func TestGCSolicitRefusesMidOperator(t *testing.T) {
	m := newTestManager(t, 1<<30)
	m.SetBetweenOperators(false)
	ctx := context.Background()

	if _, err := m.AllocObject(ctx, VMLocal, hysteresisBytes*2); err != nil {
		t.Fatalf("alloc: %v", err)
	}

	offer, err := m.gcSolicit(ctx, mmreserve.TierRAM)
	if err != nil {
		t.Fatalf("gcSolicit: %v", err)
	}
	if offer != nil {
		t.Fatalf("expected no offer mid-operator, got %+v", offer)
	}
}

func TestGCSolicitRefusesWhenDisabled(t *testing.T) {
	m := newTestManager(t, 1<<30)
	m.SetBetweenOperators(true)
	m.SetGCMode(-2)
	ctx := context.Background()

	if _, err := m.AllocObject(ctx, VMLocal, hysteresisBytes*2); err != nil {
		t.Fatalf("alloc: %v", err)
	}

	offer, err := m.gcSolicit(ctx, mmreserve.TierRAM)
	if err != nil {
		t.Fatalf("gcSolicit: %v", err)
	}
	if offer != nil {
		t.Fatalf("expected no offer with GC disabled, got %+v", offer)
	}
}

// TestGCCadenceResetsCountersAfterCollection exercises the scenario from
// spec.md's worked examples: crossing gc_threshold sets the alert, a
// collection resets alloc_since_gc to zero and clears the alert, and the
// alert does not return until further allocation crosses the threshold
// again.
func TestGCCadenceResetsCountersAfterCollection(t *testing.T) {
	const threshold = 10 << 20 // 10MB
	m := newTestManager(t, threshold)
	m.SetBetweenOperators(true)
	collector := &fakeCollector{reclaim: 20 << 20}
	m.SetCollector(collector)

	finalized := 0
	m.SetFinalizeFunc(func(ctx context.Context, ref FinalizeRef) { finalized++ })

	ap := apportioner.NewManager()
	m.RegisterGCHandlers(ap)

	ctx := context.Background()
	if _, err := m.AllocObject(ctx, VMLocal, 20<<20); err != nil {
		t.Fatalf("alloc: %v", err)
	}
	if !m.GCAlert() {
		t.Fatalf("expected gc_alert after crossing threshold")
	}

	offer, err := m.gcSolicit(ctx, mmreserve.TierRAM)
	if err != nil || offer == nil {
		t.Fatalf("gcSolicit = %+v, %v; want a non-nil offer", offer, err)
	}

	if err := m.gcRelease(ctx, offer); err != nil {
		t.Fatalf("gcRelease: %v", err)
	}

	if m.AllocSinceGC() != 0 {
		t.Fatalf("AllocSinceGC() after collection = %d, want 0", m.AllocSinceGC())
	}
	if m.GCAlert() {
		t.Fatalf("expected gc_alert cleared after collection")
	}
	if collector.sawLocal {
		t.Fatalf("expected whole-arena collection with gc_mode >= 0, got local-only")
	}

	// No new allocation yet: soliciting again should refuse.
	offer, err = m.gcSolicit(ctx, mmreserve.TierRAM)
	if err != nil {
		t.Fatalf("gcSolicit: %v", err)
	}
	if offer != nil {
		t.Fatalf("expected no offer immediately after a fresh collection, got %+v", offer)
	}
}

func TestGCLocalOnlyMode(t *testing.T) {
	m := newTestManager(t, 0)
	m.SetGCMode(-1)
	collector := &fakeCollector{}
	m.SetCollector(collector)

	if err := m.gcRelease(context.Background(), &apportioner.Offer{}); err != nil {
		t.Fatalf("gcRelease: %v", err)
	}
	if !collector.sawLocal {
		t.Fatalf("expected local-only collection with gc_mode == -1")
	}
}
