// Package mmalloc is the allocation front-end: it tries a fast path
// first (segregated-cache hit or a direct pool allocation when reserves
// are healthy), falls back to a slow path that drives the apportioner's
// low-memory handling loop and retries, and offers a deferred,
// all-or-nothing transactional allocation mode on top of both.
package mmalloc

import (
	"context"
	"errors"

	"github.com/ripforge/mm/internal/apportioner"
	"github.com/ripforge/mm/internal/logging"
	"github.com/ripforge/mm/internal/metrics"
	"github.com/ripforge/mm/internal/mmpool"
	"github.com/ripforge/mm/internal/mmreserve"
)

// ErrOutOfMemory is returned when the slow path exhausts its retries
// without the apportioner freeing enough memory.
var ErrOutOfMemory = errors.New("mmalloc: out of memory")

const maxSlowPathRetries = 8

// Allocator ties a pool registry, the reserve manager, and the
// apportioner together behind a single Alloc/Free entry point.
type Allocator struct {
	registry    *mmpool.Registry
	reserve     *mmreserve.Manager
	apportioner *apportioner.Manager
	tags        *TagTable
	segmentSize int64
}

// NewAllocator constructs an allocation front-end.
func NewAllocator(registry *mmpool.Registry, reserve *mmreserve.Manager, ap *apportioner.Manager, segmentSize int64) *Allocator {
	return &Allocator{
		registry:    registry,
		reserve:     reserve,
		apportioner: ap,
		tags:        NewTagTable(),
		segmentSize: segmentSize,
	}
}

// Tags exposes the live-allocation tag table (see tagtable.go).
func (a *Allocator) Tags() *TagTable { return a.tags }

// Alloc allocates size bytes from pool at the given cost, bracketed by
// fenceposts. On the fast path (SAC hit, or a direct grow when reserves
// are not under pressure) it never touches the apportioner; otherwise it
// enters low-memory handling and retries.
func (a *Allocator) Alloc(ctx context.Context, pool *mmpool.Pool, size int64, cost mmreserve.Cost) ([]byte, error) {
	if sac := pool.SACStats(); sac != nil {
		if block, ok := sac.Get(size); ok {
			a.tagBlock(pool, block, size)
			metrics.Global().RecordAlloc(pool.Type.String(), true)
			return block, nil
		}
	}

	if !a.reserve.ShouldRegainReserves(cost) {
		if pool.Alloc(size + 2*fenceWidth) {
			block := wrapFenceposts(size)
			a.tagBlock(pool, block, size)
			metrics.Global().RecordAlloc(pool.Type.String(), true)
			return block, nil
		}
	}

	return a.allocSlow(ctx, pool, size, cost)
}

func (a *Allocator) allocSlow(ctx context.Context, pool *mmpool.Pool, size int64, cost mmreserve.Cost) ([]byte, error) {
	for attempt := 0; attempt < maxSlowPathRetries; attempt++ {
		if a.reserve.RegainReservesForAlloc(cost) {
			if pool.Alloc(size + 2*fenceWidth) {
				block := wrapFenceposts(size)
				a.tagBlock(pool, block, size)
				metrics.Global().RecordAlloc(pool.Type.String(), true)
				return block, nil
			}
		}

		ok, retry := a.apportioner.HandleLowMem(ctx, []apportioner.Request{
			{Pool: pool.Type.String(), Size: size, Cost: cost},
		}, a.segmentSize)
		if !ok {
			break
		}
		if pool.Alloc(size + 2*fenceWidth) {
			block := wrapFenceposts(size)
			a.tagBlock(pool, block, size)
			metrics.Global().RecordAlloc(pool.Type.String(), true)
			return block, nil
		}
		if !retry {
			break
		}
	}

	logging.Op().Warn("allocation failed after exhausting low-mem handling", "pool", pool.Type.String(), "size", size)
	metrics.Global().RecordAlloc(pool.Type.String(), false)
	return nil, ErrOutOfMemory
}

// Free returns block to pool, verifying its fenceposts are intact first.
func (a *Allocator) Free(pool *mmpool.Pool, block []byte) error {
	if err := checkFenceposts(block); err != nil {
		logging.Op().Error("fencepost check failed on free", "pool", pool.Type.String(), "err", err)
		return err
	}
	size := int64(len(payload(block)))
	a.untagBlock(block)
	pool.Free(size + 2*fenceWidth)
	metrics.Global().RecordFree(pool.Type.String())

	if sac := pool.SACStats(); sac != nil {
		sac.Put(size, block)
	}
	return nil
}

func (a *Allocator) tagBlock(pool *mmpool.Pool, block []byte, size int64) {
	if len(block) == 0 {
		return
	}
	addr := blockAddr(block)
	a.tags.Set(addr, Tag{Pool: pool.Type.String(), Size: size})
}

func (a *Allocator) untagBlock(block []byte) {
	if len(block) == 0 {
		return
	}
	a.tags.Delete(blockAddr(block))
}

// retagTruncated updates a live tag's recorded size after a promise end
// truncates its block in place. The block's backing array (and so its
// address-table key) is unchanged; only the declared size shrinks.
func (a *Allocator) retagTruncated(pool *mmpool.Pool, block []byte, newSize int64) {
	addr := blockAddr(block)
	if addr == 0 {
		return
	}
	a.tags.Set(addr, Tag{Pool: pool.Type.String(), Size: newSize})
}
