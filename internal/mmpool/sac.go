package mmpool

import "sync"

// sizeClass holds cached blocks of one size, plus hit/miss counters
// reported through HitRate.
type sizeClass struct {
	size       int64
	cached     [][]byte
	cachedCap  int
	allocHits  int64
	allocMiss  int64
}

// SAC is a segregated-allocation-cache: up to MPS_SAC_CLASS_LIMIT (32)
// size classes, each with a small LIFO of pre-freed blocks, checked
// before a pool-level allocation is attempted.
type SAC struct {
	mu      sync.Mutex
	classes []sizeClass
}

// NewSAC creates a SAC with up to `classes` size classes (clamped to 32),
// each caching up to cachedCount blocks before overflowing to the pool.
func NewSAC(classes, cachedCount int) *SAC {
	if classes > sacClassLimit {
		classes = sacClassLimit
	}
	if classes < 0 {
		classes = 0
	}
	if cachedCount <= 0 {
		cachedCount = 1
	}
	s := &SAC{classes: make([]sizeClass, classes)}
	for i := range s.classes {
		// Geometric size-class ladder starting at 16 bytes, matching the
		// common pattern of small-object caches biased toward the
		// average allocation size pools report.
		s.classes[i] = sizeClass{size: int64(16) << uint(i), cachedCap: cachedCount}
	}
	return s
}

// classIndex finds the smallest size class that can satisfy size, or -1.
func (s *SAC) classIndex(size int64) int {
	for i := range s.classes {
		if s.classes[i].size >= size {
			return i
		}
	}
	return -1
}

// Get attempts to satisfy size from the cache, reporting whether it was
// a cache hit.
func (s *SAC) Get(size int64) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.classIndex(size)
	if idx < 0 {
		return nil, false
	}
	c := &s.classes[idx]
	if len(c.cached) == 0 {
		c.allocMiss++
		return nil, false
	}
	n := len(c.cached) - 1
	block := c.cached[n]
	c.cached = c.cached[:n]
	c.allocHits++
	return block, true
}

// Put returns a block to its size class's cache, dropping it instead
// (letting the pool reclaim it) if the class's cache is already full.
func (s *SAC) Put(size int64, block []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.classIndex(size)
	if idx < 0 {
		return false
	}
	c := &s.classes[idx]
	if len(c.cached) >= c.cachedCap {
		return false
	}
	c.cached = append(c.cached, block)
	return true
}

// HitRate returns the fraction of Get calls against size's class that
// were satisfied from the cache, for diagnostics.
func (s *SAC) HitRate(size int64) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.classIndex(size)
	if idx < 0 {
		return 0
	}
	c := &s.classes[idx]
	total := c.allocHits + c.allocMiss
	if total == 0 {
		return 0
	}
	return float64(c.allocHits) / float64(total)
}
