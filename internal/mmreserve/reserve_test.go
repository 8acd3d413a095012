package mmreserve

import (
	"testing"

	"github.com/ripforge/mm/internal/mmarena"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	arena := mmarena.New(64<<20, 8<<20)
	cfg := Config{
		Levels: []Level{
			{Size: 8 * 64 << 10, Cost: Cost{Tier: TierReservePool, Value: 1}},
			{Size: 4 * 64 << 10, Cost: Cost{Tier: TierReservePool, Value: 1}},
			{Size: 8 * 64 << 10, Cost: Cost{Tier: TierReservePool, Value: 1000}},
		},
		Arena:  ExtensionConfig{Base: 8 << 20, Limit: 16 << 20, Delta: 1 << 20},
		UseAll: ExtensionConfig{Base: 16 << 20, Limit: 32 << 20, Delta: 2 << 20},
	}
	return NewManager(arena, cfg)
}

// TestReserveHandlerScenario mirrors scenario 4: three reserve levels of
// sizes {8*64K, 4*64K, 8*64K} with costs {(reserve_pool,1),
// (reserve_pool,1), (reserve_pool,1000)}; reserve_get below the final
// reserve's cost releases the first two (cheap) levels and leaves the
// third (the final reserve) held, dropping the level to 1.
func TestReserveHandlerScenario(t *testing.T) {
	m := newTestManager(t)
	if m.Level() != 3 {
		t.Fatalf("expected all 3 levels initially held, got %d", m.Level())
	}

	m.ReserveGet(Cost{Tier: TierReservePool, Value: 500})

	if m.Level() != 1 {
		t.Fatalf("expected 1 level (the final reserve) still held after releasing below cost 500, got %d", m.Level())
	}
}

func TestReserveGetIdempotent(t *testing.T) {
	m := newTestManager(t)
	cost := Cost{Tier: TierReservePool, Value: 500}
	m.ReserveGet(cost)
	levelAfterFirst := m.Level()
	m.ReserveGet(cost)
	if m.Level() != levelAfterFirst {
		t.Fatalf("expected reserve_get to be a no-op on repeat, got level %d then %d", levelAfterFirst, m.Level())
	}
}

func TestReserveReleaseSolicitAndRelease(t *testing.T) {
	m := newTestManager(t)
	size, ok := m.ReserveReleaseSolicit()
	if !ok || size != 8*64<<10 {
		t.Fatalf("expected solicit to offer the top level's size, got %d ok=%v", size, ok)
	}

	freed, ok := m.ReserveReleaseRelease()
	if !ok || freed != 8*64<<10 {
		t.Fatalf("expected release to free the top level, got %d ok=%v", freed, ok)
	}
	if m.Level() != 2 {
		t.Fatalf("expected level to drop to 2 after one release, got %d", m.Level())
	}
	if !m.MemoryIsLow() {
		t.Fatalf("expected memory_is_low to be set after a release")
	}
}

func TestShouldRegainReservesAndRegain(t *testing.T) {
	m := newTestManager(t)
	m.ReserveReleaseRelease()

	if !m.ShouldRegainReserves(Cost{Tier: TierReservePool, Value: 500}) {
		t.Fatalf("expected should-regain to be true after a level was released")
	}

	regained := m.RegainReserves()
	if regained != 1 {
		t.Fatalf("expected to regain exactly 1 level, got %d", regained)
	}
	if m.Level() != 3 {
		t.Fatalf("expected level back to 3 after regain, got %d", m.Level())
	}
}

func TestCommitExtensionLadder(t *testing.T) {
	ext := NewCommitExtension(ExtensionConfig{Base: 8 << 20, Limit: 16 << 20, Delta: 1 << 20})

	offer, ok := ext.Solicit(8 << 20)
	if !ok || offer != 8<<20 {
		t.Fatalf("expected full headroom offered, got %d ok=%v", offer, ok)
	}

	next := ext.Release(8<<20, 512<<10)
	if next != 9<<20 {
		t.Fatalf("expected release to step by at least delta (1MB), got %d", next)
	}

	shrunk := ext.Shrink(next)
	if shrunk != 8<<20 {
		t.Fatalf("expected shrink to return toward base, got %d", shrunk)
	}
}
