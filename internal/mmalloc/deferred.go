package mmalloc

import (
	"context"

	"github.com/ripforge/mm/internal/metrics"
	"github.com/ripforge/mm/internal/mmpool"
	"github.com/ripforge/mm/internal/mmreserve"
)

// deferredRequest is one line item in a DeferredAlloc before merging.
type deferredRequest struct {
	pool *mmpool.Pool
	size int64
	cost mmreserve.Cost
}

// DeferredAlloc batches several allocation requests and realizes them
// all-or-nothing: requests against the same (pool, cost) are merged into
// a single request before the batch is realized, and if any merged
// request fails, every block already allocated in this batch is freed
// before Realize returns its error.
type DeferredAlloc struct {
	requests []deferredRequest
}

// NewDeferredAlloc constructs an empty deferred-allocation batch.
func NewDeferredAlloc() *DeferredAlloc {
	return &DeferredAlloc{}
}

// Add queues a request in the batch.
func (d *DeferredAlloc) Add(pool *mmpool.Pool, size int64, cost mmreserve.Cost) {
	d.requests = append(d.requests, deferredRequest{pool: pool, size: size, cost: cost})
}

type mergedKey struct {
	poolID string
	cost   mmreserve.Cost
}

type mergedRequest struct {
	pool  *mmpool.Pool
	size  int64
	cost  mmreserve.Cost
	order int
}

// Realize merges requests sharing a (pool, cost) key, then allocates
// each merged request in turn. If any merged request's allocation
// fails, every block already handed out in this call is freed and the
// failing error is returned; the caller sees either every original
// request satisfied or none.
func (d *DeferredAlloc) Realize(ctx context.Context, a *Allocator) (map[int][]byte, error) {
	merged := make(map[mergedKey]*mergedRequest)
	order := 0
	originalToMerged := make([]mergedKey, len(d.requests))

	for i, r := range d.requests {
		key := mergedKey{poolID: r.pool.ID, cost: r.cost}
		originalToMerged[i] = key
		if mr, ok := merged[key]; ok {
			mr.size += r.size
		} else {
			merged[key] = &mergedRequest{pool: r.pool, size: r.size, cost: r.cost, order: order}
			order++
		}
	}

	mergedBlocks := make(map[mergedKey][]byte, len(merged))
	var allocErr error
	var failedKey mergedKey
	for key, mr := range merged {
		block, err := a.Alloc(ctx, mr.pool, mr.size, mr.cost)
		if err != nil {
			allocErr = err
			failedKey = key
			break
		}
		mergedBlocks[key] = block
	}

	if allocErr != nil {
		for key, block := range mergedBlocks {
			a.Free(merged[key].pool, block)
		}
		metrics.Global().RecordDeferred(false)
		_ = failedKey
		return nil, allocErr
	}

	results := make(map[int][]byte, len(d.requests))
	offsets := make(map[mergedKey]int64)
	for i, key := range originalToMerged {
		mr := merged[key]
		block := mergedBlocks[key]
		off := offsets[key]
		sz := d.requests[i].size
		results[i] = payload(block)[off : off+sz]
		offsets[key] = off + sz
		_ = mr
	}

	metrics.Global().RecordDeferred(true)
	return results, nil
}
