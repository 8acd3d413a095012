// Package callcache implements a sampled lookup-table cache for
// PostScript call-outs (Function-type 0 sampled functions built from an
// arbitrary 1-input PS procedure). Building the table means evaluating the
// procedure hundreds of times; once built, repeated evaluation at nearby
// inputs is answered by linear interpolation instead of re-invoking the
// procedure.
package callcache

import (
	"errors"
	"math"
	"sync/atomic"
)

// ErrDestroyed is returned by operations on a cache entry after its
// reference count has dropped to zero and it has been torn down.
var ErrDestroyed = errors.New("callcache: entry destroyed")

// Epsilon below which two domain values are treated as identical, so a
// cache built over an effectively zero-width range degenerates to a
// constant rather than dividing by zero.
const defaultEpsilon = 1e-6

// FnBlackGen is the fn_type that requests every sample be clamped to
// [0, 1] at creation time, matching the black-generation transfer
// function's output contract.
const FnBlackGen = "black_gen"

// PSFunc evaluates a single-input PostScript procedure at x, returning
// nOut output values.
type PSFunc func(x float64) ([]float64, error)

// CallPSCache is a sampled lookup table standing in for repeated
// evaluation of a single-input PS procedure.
type CallPSCache struct {
	id      string
	fnType  string
	nOut    int
	lo, hi  float64
	epsilon float64
	samples [][]float64 // len == sampleCount, each of length nOut
	identity bool        // fn == nil: output equals clamped input, nOut == 1

	refCount atomic.Int32
}

// CreateCallPSCache builds a sampled cache for fn over [rng[0], rng[1]].
// When fn is nil the cache degenerates to the identity function (used by
// callers that only need domain clamping, e.g. an unset transfer
// function). uniqueID identifies this cache across ReserveCallPSCache /
// DestroyCallPSCache calls and, when a remote mirror tier is configured,
// across processes sharing the same backing store.
func CreateCallPSCache(fnType string, nOut int, uniqueID string, rng *[2]float64, fn PSFunc) (*CallPSCache, error) {
	if nOut <= 0 {
		return nil, errors.New("callcache: nOut must be positive")
	}
	lo, hi := 0.0, 1.0
	if rng != nil {
		lo, hi = rng[0], rng[1]
		if hi < lo {
			lo, hi = hi, lo
		}
	}

	c := &CallPSCache{
		id:      uniqueID,
		fnType:  fnType,
		nOut:    nOut,
		lo:      lo,
		hi:      hi,
		epsilon: defaultEpsilon,
	}
	c.refCount.Store(1)

	if fn == nil {
		c.identity = true
		return c, nil
	}

	n := sampleCount(lo, hi)
	c.samples = make([][]float64, n)
	span := hi - lo
	for i := 0; i < n; i++ {
		var x float64
		if n == 1 {
			x = lo
		} else {
			x = lo + span*float64(i)/float64(n-1)
		}
		out, err := fn(x)
		if err != nil {
			return nil, err
		}
		if len(out) != nOut {
			return nil, errors.New("callcache: procedure returned wrong output arity")
		}
		row := make([]float64, nOut)
		copy(row, out)
		if fnType == FnBlackGen {
			row = ClampUnit(row)
		}
		c.samples[i] = row
	}
	return c, nil
}

// sampleCount mirrors the original sampled-function density: 256 samples
// per unit of domain width, with at least one sample.
func sampleCount(lo, hi float64) int {
	width := hi - lo
	if width < 1 {
		width = 1
	}
	n := int(256 * width)
	if n < 2 {
		n = 2
	}
	return n
}

// IDCallPSCache returns the unique identifier the cache was created with.
func IDCallPSCache(c *CallPSCache) string {
	return c.id
}

// ReserveCallPSCache increments the cache's reference count, returning
// the cache itself for call chaining.
func ReserveCallPSCache(c *CallPSCache) *CallPSCache {
	c.refCount.Add(1)
	return c
}

// DestroyCallPSCache decrements the cache's reference count. The caller
// must not use c again if the count reaches zero; the entry is gone.
func DestroyCallPSCache(c *CallPSCache) {
	c.refCount.Add(-1)
}

// Live reports whether the cache still has outstanding references.
func (c *CallPSCache) Live() bool {
	return c.refCount.Load() > 0
}

// Lookup evaluates the cached function at x, clamping to the cache's
// domain and interpolating linearly between the nearest two samples.
// FN_BLACK_GEN-style consumers additionally clamp the result into
// [0, 1] via ClampUnit.
func (c *CallPSCache) Lookup(x float64) ([]float64, error) {
	if !c.Live() {
		return nil, ErrDestroyed
	}

	if x < c.lo {
		x = c.lo
	} else if x > c.hi {
		x = c.hi
	}

	if c.identity {
		return []float64{x}, nil
	}

	n := len(c.samples)
	if n == 0 {
		return nil, errors.New("callcache: empty sample table")
	}
	if n == 1 || math.Abs(c.hi-c.lo) < c.epsilon {
		return cloneRow(c.samples[0]), nil
	}

	span := c.hi - c.lo
	pos := (x - c.lo) / span * float64(n-1)
	i0 := int(math.Floor(pos))
	if i0 < 0 {
		i0 = 0
	}
	if i0 >= n-1 {
		return cloneRow(c.samples[n-1]), nil
	}
	frac := pos - float64(i0)
	if frac < c.epsilon {
		return cloneRow(c.samples[i0]), nil
	}

	lo, hi := c.samples[i0], c.samples[i0+1]
	out := make([]float64, c.nOut)
	for k := range out {
		out[k] = lo[k] + (hi[k]-lo[k])*frac
	}
	return out, nil
}

func cloneRow(row []float64) []float64 {
	out := make([]float64, len(row))
	copy(out, row)
	return out
}

// ClampUnit clamps every element of v into [0, 1], matching the black
// generation function's output contract.
func ClampUnit(v []float64) []float64 {
	out := make([]float64, len(v))
	for i, x := range v {
		switch {
		case x < 0:
			out[i] = 0
		case x > 1:
			out[i] = 1
		default:
			out[i] = x
		}
	}
	return out
}
