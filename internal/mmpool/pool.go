package mmpool

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/ripforge/mm/internal/logging"
	"github.com/ripforge/mm/internal/metrics"
	"github.com/ripforge/mm/internal/mmarena"
)

var (
	// ErrArenaAllocFailed is returned when the underlying arena could not
	// grow enough to back a new pool's first segment.
	ErrArenaAllocFailed = errors.New("mmpool: arena allocation failed")
	// ErrFixedPoolBusy is returned when a caller attempts to destroy the
	// fixed pool while other pools are still registered.
	ErrFixedPoolBusy = errors.New("mmpool: fixed pool has live dependents")
)

// Stats holds per-pool aggregate statistics.
type Stats struct {
	CurrentAlloc  int64
	HighestAlloc  int64
	OverallAlloc  int64
	OverallObj    int64
	HighestFrag   int64
}

// Pool is a typed allocation container layered over the arena.
type Pool struct {
	ID       string
	Type     PoolType
	Class    PoolClass
	Params   TypeParams
	Label    mmarena.SymbolID
	SaveLvl  atomic.Int32

	registry *Registry

	mu       sync.Mutex
	stats    Stats
	managed  int64
	free     int64

	sac *SAC

	destroyed atomic.Bool
}

// Alloc accounts for a size-byte allocation, growing the pool's segment
// (and, transitively, the arena) if the pool's free space is
// insufficient. It returns false if the arena could not grow enough to
// satisfy the request.
func (p *Pool) Alloc(size int64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.free < size {
		need := size - p.free
		segBytes := need
		if p.Params.SegmentSize > segBytes {
			segBytes = p.Params.SegmentSize
		}
		if !p.registry.arena.Grow(segBytes) {
			return false
		}
		p.recordGrowLocked(segBytes)
	}
	p.recordAllocLocked(size)
	return true
}

// Free accounts for returning a size-byte allocation to the pool.
func (p *Pool) Free(size int64) {
	p.mu.Lock()
	p.recordFreeLocked(size)
	p.mu.Unlock()
}

// Size returns the pool's managed and free byte counts.
func (p *Pool) Size() (managed, free int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.managed, p.free
}

// AllocedSize returns managed - free.
func (p *Pool) AllocedSize() int64 {
	managed, free := p.Size()
	return managed - free
}

// FreeSize returns the pool's current free byte count.
func (p *Pool) FreeSize() int64 {
	_, free := p.Size()
	return free
}

// SACStats returns the pool's segregated-allocation-cache, or nil if
// this pool type was created without one.
func (p *Pool) SACStats() *SAC { return p.sac }

func (p *Pool) recordGrowLocked(bytes int64) {
	p.managed += bytes
	p.free += bytes
}

func (p *Pool) recordAllocLocked(bytes int64) {
	p.free -= bytes
	p.stats.CurrentAlloc += bytes
	p.stats.OverallAlloc += bytes
	p.stats.OverallObj++
	if p.stats.CurrentAlloc > p.stats.HighestAlloc {
		p.stats.HighestAlloc = p.stats.CurrentAlloc
	}
	if p.free < 0 {
		p.free = 0
	}
}

func (p *Pool) recordFreeLocked(bytes int64) {
	p.stats.CurrentAlloc -= bytes
	if p.stats.CurrentAlloc < 0 {
		p.stats.CurrentAlloc = 0
	}
	p.free += bytes
}

// Registry owns the process-wide pool list. The fixed pool (which holds
// every other pool's descriptor in the original design; here it is simply
// the first pool created and the last destroyed) must be created before
// any other pool and destroyed after every other pool.
type Registry struct {
	arena *mmarena.Arena

	mu        sync.Mutex // stands in for the pool list's spinlock
	pools     map[string]*Pool
	order     []string
	fixed     *Pool
	cacheCfg  SACConfig
}

// SACConfig controls segregated-allocation-cache sizing for newly
// created pools.
type SACConfig struct {
	Classes     int // up to MPS_SAC_CLASS_LIMIT (32)
	CachedCount int
}

const sacClassLimit = 32

// NewRegistry creates a pool registry and bootstraps the fixed pool.
func NewRegistry(arena *mmarena.Arena, cacheCfg SACConfig) (*Registry, error) {
	if cacheCfg.Classes > sacClassLimit {
		cacheCfg.Classes = sacClassLimit
	}
	r := &Registry{
		arena:    arena,
		pools:    make(map[string]*Pool),
		cacheCfg: cacheCfg,
	}

	fixed, err := r.createLocked(TypeTABLE)
	if err != nil {
		return nil, err
	}
	r.fixed = fixed
	return r, nil
}

// Create makes a new pool of the given type, allocating its descriptor
// "from the fixed pool" conceptually (tracked here by registering it
// under the same registry the fixed pool lives in) and linking it into
// the pool list under the registry mutex.
func (r *Registry) Create(t PoolType) (*Pool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.createLocked(t)
}

func (r *Registry) createLocked(t PoolType) (*Pool, error) {
	params, ok := ParamsFor(t)
	if !ok {
		return nil, errors.New("mmpool: unknown pool type")
	}

	if !r.arena.Grow(params.SegmentSize) {
		return nil, ErrArenaAllocFailed
	}

	p := &Pool{
		ID:       mmarena.NewInstanceID(),
		Type:     t,
		Class:    params.Class,
		Params:   params,
		Label:    r.arena.InternSymbol(t.String()),
		registry: r,
	}
	p.mu.Lock()
	p.recordGrowLocked(params.SegmentSize)
	p.mu.Unlock()

	if r.cacheCfg.Classes > 0 {
		p.sac = NewSAC(r.cacheCfg.Classes, r.cacheCfg.CachedCount)
	}

	r.pools[p.ID] = p
	r.order = append(r.order, p.ID)

	managed, free := p.Size()
	metrics.Global().SetPoolSize(t.String(), managed, free)
	logging.Op().Debug("pool created", "type", t.String(), "id", p.ID, "class", params.Class.String())
	return p, nil
}

// Destroy flushes and removes p from the registry. The fixed pool may
// only be destroyed once every other pool has already been destroyed.
func (r *Registry) Destroy(p *Pool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.destroyLocked(p)
}

func (r *Registry) destroyLocked(p *Pool) error {
	if p == r.fixed && len(r.pools) > 1 {
		return ErrFixedPoolBusy
	}
	if p.destroyed.Swap(true) {
		return nil
	}

	managed, _ := p.Size()
	r.arena.Shrink(managed)
	delete(r.pools, p.ID)
	for i, id := range r.order {
		if id == p.ID {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	logging.Op().Debug("pool destroyed", "type", p.Type.String(), "id", p.ID)
	return nil
}

// Walk iterates every live pool under the registry mutex. fn must not
// destroy pools; the fixed pool's descriptor must still resolve for
// every entry in the list while Walk is in progress.
func (r *Registry) Walk(fn func(*Pool) bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range r.order {
		p, ok := r.pools[id]
		if !ok {
			continue
		}
		if !fn(p) {
			return
		}
	}
}

// Finish destroys every pool except the fixed pool, then the fixed pool
// last. When abort is true, failures to destroy individual pools are
// tolerated and the finish proceeds regardless.
func (r *Registry) Finish(abort bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var firstErr error
	for _, id := range append([]string(nil), r.order...) {
		p, ok := r.pools[id]
		if !ok || p == r.fixed {
			continue
		}
		if err := r.destroyLocked(p); err != nil && !abort {
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	if firstErr != nil {
		return firstErr
	}
	if r.fixed != nil {
		return r.destroyLocked(r.fixed)
	}
	return nil
}

// Fixed returns the registry's fixed pool.
func (r *Registry) Fixed() *Pool { return r.fixed }

// Len returns the number of live pools, including the fixed pool.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pools)
}
