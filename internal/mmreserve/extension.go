package mmreserve

import "sync"

// CommitExtension models one of the two contiguous commit-limit
// extensions above a base commit limit: the arena extension
// (partial-paint tier) or the use-all extension (trash-VM tier). Each
// extension raises the limit in steps of at least Delta so cheaper
// handlers are retried between trashing events, and shrinks back toward
// Base in the same step size.
type CommitExtension struct {
	mu  sync.Mutex
	cfg ExtensionConfig
}

// NewCommitExtension constructs a commit extension with the given
// ladder configuration.
func NewCommitExtension(cfg ExtensionConfig) CommitExtension {
	return CommitExtension{cfg: cfg}
}

// Solicit returns the bytes available for this extension to offer (the
// gap between the extension's limit and the current commit level) and
// whether any headroom remains.
func (e *CommitExtension) Solicit(currentLimit int64) (offer int64, ok bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if currentLimit >= e.cfg.Limit {
		return 0, false
	}
	return e.cfg.Limit - currentLimit, true
}

// Release raises currentLimit by max(taken, Delta), never above the
// extension's configured Limit.
func (e *CommitExtension) Release(currentLimit, taken int64) int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	step := taken
	if step < e.cfg.Delta {
		step = e.cfg.Delta
	}
	next := currentLimit + step
	if next > e.cfg.Limit {
		next = e.cfg.Limit
	}
	return next
}

// Shrink returns currentLimit lowered by one Delta step, clamped at
// Base. Whether to give memory back at all is the caller's judgment
// call; Shrink itself only computes the candidate.
func (e *CommitExtension) Shrink(currentLimit int64) int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	next := currentLimit - e.cfg.Delta
	if next < e.cfg.Base {
		next = e.cfg.Base
	}
	return next
}

// Base returns the extension's floor.
func (e *CommitExtension) Base() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cfg.Base
}

// Limit returns the extension's ceiling.
func (e *CommitExtension) Limit() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cfg.Limit
}
