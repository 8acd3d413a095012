package callcache

import (
	"context"
	"sync"

	"github.com/ripforge/mm/internal/logging"
	"github.com/ripforge/mm/internal/metrics"
	"github.com/ripforge/mm/internal/pkg/crypto"
)

// Registry tracks live CallPSCache entries by unique ID so that repeated
// requests for the same sampled function reuse the existing table
// instead of resampling it. All operations are safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*CallPSCache
	mirror  Mirror
}

// Mirror is an optional secondary store used to share serialized sample
// tables across processes. A Redis-backed implementation is provided in
// redis.go; nil disables mirroring entirely.
type Mirror interface {
	Fetch(ctx context.Context, id string) (*CallPSCache, error)
	Store(ctx context.Context, c *CallPSCache) error
	Forget(ctx context.Context, id string) error
	Close() error
}

// NewRegistry creates a registry. mirror may be nil.
func NewRegistry(mirror Mirror) *Registry {
	return &Registry{
		entries: make(map[string]*CallPSCache),
		mirror:  mirror,
	}
}

// Lookup returns a live cache for id if one is registered locally, else
// falls back to the mirror tier (if configured) and backfills the local
// map on a mirror hit, mirroring the local-first/remote-fallback
// composition used for other hot-path metadata lookups in this codebase.
func (r *Registry) Lookup(ctx context.Context, id string) (*CallPSCache, bool) {
	r.mu.RLock()
	c, ok := r.entries[id]
	r.mu.RUnlock()
	if ok && c.Live() {
		metrics.Global().RecordCallCacheLookup(true)
		return c, true
	}

	if r.mirror == nil {
		metrics.Global().RecordCallCacheLookup(false)
		return nil, false
	}

	remote, err := r.mirror.Fetch(ctx, id)
	if err != nil || remote == nil {
		metrics.Global().RecordCallCacheLookup(false)
		return nil, false
	}

	r.mu.Lock()
	r.entries[id] = remote
	r.mu.Unlock()
	metrics.Global().RecordCallCacheLookup(true)
	return remote, true
}

// Register inserts c into the registry under its ID, replacing any
// previous entry, and mirrors it to the remote tier when configured.
func (r *Registry) Register(ctx context.Context, c *CallPSCache) {
	r.mu.Lock()
	r.entries[c.id] = c
	r.mu.Unlock()

	if r.mirror != nil {
		if err := r.mirror.Store(ctx, c); err != nil {
			logging.Op().Warn("callcache mirror store failed", "id", c.id, "error", err)
		}
	}
}

// Release decrements c's reference count and removes it from the
// registry (and mirror) once it has no remaining references.
func (r *Registry) Release(ctx context.Context, c *CallPSCache) {
	DestroyCallPSCache(c)
	if c.Live() {
		return
	}

	r.mu.Lock()
	if existing, ok := r.entries[c.id]; ok && existing == c {
		delete(r.entries, c.id)
	}
	r.mu.Unlock()

	if r.mirror != nil {
		if err := r.mirror.Forget(ctx, c.id); err != nil {
			logging.Op().Warn("callcache mirror forget failed", "id", c.id, "error", err)
		}
	}
}

// KeyFromSource derives a stable cache ID from a PS procedure's textual
// source, for callers that have a CustomConversions source string but no
// externally assigned uniqueID to pass to CreateCallPSCache.
func KeyFromSource(source string) string {
	return crypto.HashString(source)
}

// Len returns the number of locally registered entries.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}
