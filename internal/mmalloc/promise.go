package mmalloc

import (
	"context"
	"errors"

	"github.com/ripforge/mm/internal/mmpool"
	"github.com/ripforge/mm/internal/mmreserve"
)

// ErrPromiseEnded is returned by any operation on a Promise after
// PromiseEnd or PromiseFree has already been called.
var ErrPromiseEnded = errors.New("mmalloc: promise already ended")

// promiseAlign is the sub-allocation alignment PromiseNext rounds up
// to, matching the word alignment the spec requires of promise
// sub-blocks.
const promiseAlign = 8

// Promise is a single contiguous reservation {base, next, top} from
// which PromiseNext hands out sequential, word-aligned sub-allocations
// by bumping next. Sub-allocations are never individually freed; only
// the promise as a whole is ended (truncated to its used size) or freed
// (abandoned outright). A DL pool holds at most one live promise at a
// time — enforced by the caller, not this type.
type Promise struct {
	alloc *Allocator
	pool  *mmpool.Pool
	cost  mmreserve.Cost

	block []byte // the full fenced reservation
	base  int64  // always 0: payload start
	next  int64  // bump cursor
	top   int64  // payload capacity
	ended bool
}

// PromiseAlloc stakes out a single size-byte contiguous reservation in
// pool. The reservation is bump-sub-allocated by PromiseNext until
// PromiseEnd or PromiseFree releases it.
func PromiseAlloc(ctx context.Context, alloc *Allocator, pool *mmpool.Pool, size int64, cost mmreserve.Cost) (*Promise, error) {
	block, err := alloc.Alloc(ctx, pool, size, cost)
	if err != nil {
		return nil, err
	}
	return &Promise{
		alloc: alloc,
		pool:  pool,
		cost:  cost,
		block: block,
		top:   int64(len(payload(block))),
	}, nil
}

func alignUp(n, align int64) int64 {
	if rem := n % align; rem != 0 {
		n += align - rem
	}
	return n
}

// PromiseNext hands out a word-aligned size-byte sub-block from the
// promise by bumping the cursor, or (nil, false) if the reservation is
// exhausted. The returned slice aliases the promise's backing array —
// callers must not free it individually.
func (p *Promise) PromiseNext(size int64) ([]byte, bool) {
	if p.ended {
		return nil, false
	}
	aligned := alignUp(size, promiseAlign)
	if p.next+aligned > p.top {
		return nil, false
	}
	start := fenceWidth + p.next
	sub := p.block[start : start+size]
	p.next += aligned
	return sub, true
}

// PromiseShrink moves the bump cursor back by bytes, un-doing the most
// recent sub-allocations' worth of space without touching any content.
// It clamps at base so it can never move before the start of the
// reservation.
func (p *Promise) PromiseShrink(bytes int64) {
	if p.ended {
		return
	}
	p.next -= bytes
	if p.next < p.base {
		p.next = p.base
	}
}

// PromiseEnd truncates the promise down to its used size (next),
// rewriting the trailing fencepost at the new end and freeing the
// unused tail back to the pool's accounting. It returns the final
// payload. Calling PromiseEnd with zero PromiseNext calls frees the
// entire reservation and returns an empty slice.
func (p *Promise) PromiseEnd() ([]byte, error) {
	if p.ended {
		return nil, ErrPromiseEnded
	}
	p.ended = true

	if p.next == 0 {
		p.alloc.untagBlock(p.block)
		p.pool.Free(p.top + 2*fenceWidth)
		return []byte{}, nil
	}

	unused := p.top - p.next
	final := truncateFence(p.block, p.next)
	if unused > 0 {
		p.pool.Free(unused)
	}
	p.alloc.retagTruncated(p.pool, p.block, p.next)
	return payload(final), nil
}

// PromiseFree abandons the promise outright, freeing whatever part of
// it is still owned (the entire reservation, since sub-allocations are
// never individually freed).
func (p *Promise) PromiseFree() error {
	if p.ended {
		return ErrPromiseEnded
	}
	p.ended = true
	return p.alloc.Free(p.pool, p.block)
}
