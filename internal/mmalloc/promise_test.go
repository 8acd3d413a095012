package mmalloc

import (
	"context"
	"testing"

	"github.com/ripforge/mm/internal/apportioner"
	"github.com/ripforge/mm/internal/mmarena"
	"github.com/ripforge/mm/internal/mmpool"
	"github.com/ripforge/mm/internal/mmreserve"
)

func newTestAllocator(t *testing.T) (*Allocator, *mmpool.Pool) {
	t.Helper()
	arena := mmarena.New(64<<20, 64<<20)
	registry, err := mmpool.NewRegistry(arena, mmpool.SACConfig{})
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	pool, err := registry.Create(mmpool.TypeDL)
	if err != nil {
		t.Fatalf("create DL pool: %v", err)
	}
	reserve := mmreserve.NewManager(arena, mmreserve.Config{})
	ap := apportioner.NewManager()
	alloc := NewAllocator(registry, reserve, ap, 4096)
	return alloc, pool
}

var testCost = mmreserve.Cost{Tier: mmreserve.TierRAM, Value: 0}

func TestPromiseNextBumpsSequentialSubAllocations(t *testing.T) {
	ctx := context.Background()
	alloc, pool := newTestAllocator(t)

	p, err := PromiseAlloc(ctx, alloc, pool, 64, testCost)
	if err != nil {
		t.Fatalf("PromiseAlloc failed: %v", err)
	}

	a, ok := p.PromiseNext(8)
	if !ok || len(a) != 8 {
		t.Fatalf("expected an 8-byte sub-allocation, got %v ok=%v", a, ok)
	}
	b, ok := p.PromiseNext(8)
	if !ok || len(b) != 8 {
		t.Fatalf("expected another 8-byte sub-allocation, got %v ok=%v", b, ok)
	}

	copy(a, []byte{1, 2, 3, 4, 5, 6, 7, 8})
	copy(b, []byte{9, 9, 9, 9, 9, 9, 9, 9})
	if a[0] != 1 || b[0] != 9 {
		t.Fatalf("sub-allocations must not alias each other")
	}
}

func TestPromiseNextFailsWhenExhausted(t *testing.T) {
	ctx := context.Background()
	alloc, pool := newTestAllocator(t)

	p, err := PromiseAlloc(ctx, alloc, pool, 16, testCost)
	if err != nil {
		t.Fatalf("PromiseAlloc failed: %v", err)
	}
	if _, ok := p.PromiseNext(16); !ok {
		t.Fatalf("expected the first 16-byte sub-allocation to succeed")
	}
	if _, ok := p.PromiseNext(1); ok {
		t.Fatalf("expected PromiseNext to fail once the reservation is exhausted")
	}
}

func TestPromiseEndWithNoSubAllocationsFreesEverything(t *testing.T) {
	ctx := context.Background()
	alloc, pool := newTestAllocator(t)

	before := pool.AllocedSize()
	p, err := PromiseAlloc(ctx, alloc, pool, 128, testCost)
	if err != nil {
		t.Fatalf("PromiseAlloc failed: %v", err)
	}

	out, err := p.PromiseEnd()
	if err != nil {
		t.Fatalf("PromiseEnd failed: %v", err)
	}
	if len(out) != 0 {
		t.Fatalf("expected an empty payload when nothing was sub-allocated, got %d bytes", len(out))
	}
	if pool.AllocedSize() != before {
		t.Fatalf("expected promise_end with no promise_next calls to free the entire reservation: before=%d after=%d", before, pool.AllocedSize())
	}
}

func TestPromiseEndTruncatesToUsedSize(t *testing.T) {
	ctx := context.Background()
	alloc, pool := newTestAllocator(t)

	p, err := PromiseAlloc(ctx, alloc, pool, 128, testCost)
	if err != nil {
		t.Fatalf("PromiseAlloc failed: %v", err)
	}
	if _, ok := p.PromiseNext(24); !ok {
		t.Fatalf("expected sub-allocation to succeed")
	}

	out, err := p.PromiseEnd()
	if err != nil {
		t.Fatalf("PromiseEnd failed: %v", err)
	}
	if len(out) != 24 {
		t.Fatalf("expected truncated payload of 24 bytes, got %d", len(out))
	}
}

func TestPromiseShrinkMovesCursorBack(t *testing.T) {
	ctx := context.Background()
	alloc, pool := newTestAllocator(t)

	p, err := PromiseAlloc(ctx, alloc, pool, 64, testCost)
	if err != nil {
		t.Fatalf("PromiseAlloc failed: %v", err)
	}
	if _, ok := p.PromiseNext(32); !ok {
		t.Fatalf("expected sub-allocation to succeed")
	}
	p.PromiseShrink(16)

	out, err := p.PromiseEnd()
	if err != nil {
		t.Fatalf("PromiseEnd failed: %v", err)
	}
	if len(out) != 16 {
		t.Fatalf("expected shrink to move the cursor back by 16 bytes, got payload of %d bytes", len(out))
	}
}

func TestPromiseOperationsFailAfterEnd(t *testing.T) {
	ctx := context.Background()
	alloc, pool := newTestAllocator(t)

	p, err := PromiseAlloc(ctx, alloc, pool, 32, testCost)
	if err != nil {
		t.Fatalf("PromiseAlloc failed: %v", err)
	}
	if _, err := p.PromiseEnd(); err != nil {
		t.Fatalf("PromiseEnd failed: %v", err)
	}
	if _, err := p.PromiseEnd(); err != ErrPromiseEnded {
		t.Fatalf("expected ErrPromiseEnded on double-end, got %v", err)
	}
	if err := p.PromiseFree(); err != ErrPromiseEnded {
		t.Fatalf("expected ErrPromiseEnded on free-after-end, got %v", err)
	}
}

func TestPromiseFreeAbandonsReservation(t *testing.T) {
	ctx := context.Background()
	alloc, pool := newTestAllocator(t)

	before := pool.AllocedSize()
	p, err := PromiseAlloc(ctx, alloc, pool, 48, testCost)
	if err != nil {
		t.Fatalf("PromiseAlloc failed: %v", err)
	}
	if _, ok := p.PromiseNext(16); !ok {
		t.Fatalf("expected sub-allocation to succeed")
	}
	if err := p.PromiseFree(); err != nil {
		t.Fatalf("PromiseFree failed: %v", err)
	}
	if pool.AllocedSize() != before {
		t.Fatalf("expected PromiseFree to release the whole reservation: before=%d after=%d", before, pool.AllocedSize())
	}
}
