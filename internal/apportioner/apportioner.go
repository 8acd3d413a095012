// Package apportioner serializes low-memory handling: it solicits
// registered handlers tier by tier, picks the cheapest offer, invokes
// release, and decides whether the caller should retry its allocation.
package apportioner

import (
	"context"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/ripforge/mm/internal/logging"
	"github.com/ripforge/mm/internal/metrics"
	"github.com/ripforge/mm/internal/mmreserve"
)

// Request is the unit the apportioner tries to satisfy: a pool, a size,
// and a cost ceiling.
type Request struct {
	Pool string
	Size int64
	Cost mmreserve.Cost
}

// OfferPart is one pool's contribution to a handler's offer.
type OfferPart struct {
	Pool      string
	OfferSize int64
	OfferCost int64
	TakenSize int64
}

// Offer is the chain of parts a handler's Solicit returns.
type Offer struct {
	Parts []OfferPart
}

// Handler is a registered low-memory handler.
type Handler struct {
	Name            string
	Tier            mmreserve.Tier
	MultiThreadSafe bool

	Solicit func(ctx context.Context, tier mmreserve.Tier) (*Offer, error)
	Release func(ctx context.Context, offer *Offer) error

	running atomic.Bool
}

const maxHandlerCachePerTier = 60
const invocationWarnThreshold = 1000

type ctxKey struct{}

// EnterLowMemHandling marks ctx as inside the low-memory handler. Nested
// entry by a call chain that already carries the marker is a no-op
// beyond incrementing a depth counter; the returned exit function must
// always be called, typically via defer.
func (m *Manager) EnterLowMemHandling(ctx context.Context) (context.Context, func()) {
	if d, ok := ctx.Value(ctxKey{}).(*int); ok {
		*d++
		return ctx, func() { *d-- }
	}

	m.mu.Lock()
	for m.handling {
		m.cond.Wait()
	}
	m.handling = true
	m.mu.Unlock()

	depth := new(int)
	*depth = 1
	next := context.WithValue(ctx, ctxKey{}, depth)
	return next, func() {
		m.mu.Lock()
		m.handling = false
		m.cond.Broadcast()
		m.mu.Unlock()
	}
}

// Manager drives low-memory handling: a single mutex + condition
// variable serializes entry; only one call chain handles low memory at a
// time (nested entry from the same chain is a no-op depth increment).
type Manager struct {
	mu       sync.Mutex
	cond     *sync.Cond
	handling bool

	tiersMu  sync.RWMutex
	handlers map[mmreserve.Tier][]*Handler
	cache    map[mmreserve.Tier][]*Handler

	invocations     atomic.Int64
	diagnosticTrace atomic.Bool
}

// NewManager constructs an apportioner manager.
func NewManager() *Manager {
	m := &Manager{
		handlers: make(map[mmreserve.Tier][]*Handler),
		cache:    make(map[mmreserve.Tier][]*Handler),
	}
	m.cond = sync.NewCond(&m.mu)
	return m
}

// Register adds h under its tier, invalidating that tier's handler
// cache.
func (m *Manager) Register(h *Handler) {
	m.tiersMu.Lock()
	defer m.tiersMu.Unlock()
	m.handlers[h.Tier] = append(m.handlers[h.Tier], h)
	delete(m.cache, h.Tier)
}

// Deregister removes h from its tier, invalidating that tier's cache.
func (m *Manager) Deregister(h *Handler) {
	m.tiersMu.Lock()
	defer m.tiersMu.Unlock()
	list := m.handlers[h.Tier]
	for i, candidate := range list {
		if candidate == h {
			m.handlers[h.Tier] = append(list[:i], list[i+1:]...)
			break
		}
	}
	delete(m.cache, h.Tier)
}

func (m *Manager) handlersAt(tier mmreserve.Tier) []*Handler {
	m.tiersMu.RLock()
	if cached, ok := m.cache[tier]; ok {
		m.tiersMu.RUnlock()
		return cached
	}
	m.tiersMu.RUnlock()

	m.tiersMu.Lock()
	defer m.tiersMu.Unlock()
	if cached, ok := m.cache[tier]; ok {
		return cached
	}
	list := append([]*Handler(nil), m.handlers[tier]...)
	if len(list) > maxHandlerCachePerTier {
		list = list[:maxHandlerCachePerTier]
	}
	m.cache[tier] = list
	return list
}

func averageCost(o *Offer) (avg float64, total int64) {
	var costSum, sizeSum int64
	for _, part := range o.Parts {
		costSum += part.OfferCost * part.OfferSize
		sizeSum += part.OfferSize
	}
	if sizeSum == 0 {
		return 0, 0
	}
	return float64(costSum) / float64(sizeSum), sizeSum
}

func evaluateOffer(reqs []Request, offer *Offer, segmentSize int64) *Offer {
	taken := &Offer{}
	remaining := make(map[string]int64, len(reqs))
	for _, r := range reqs {
		remaining[r.Pool] += r.Size
	}

	// Pass 1: satisfy each requirement from offer parts whose pool matches.
	for _, part := range offer.Parts {
		need := remaining[part.Pool]
		if need <= 0 {
			continue
		}
		give := part.OfferSize
		if give > need {
			give = need
		}
		if give <= 0 {
			continue
		}
		remaining[part.Pool] -= give
		taken.Parts = append(taken.Parts, OfferPart{Pool: part.Pool, OfferCost: part.OfferCost, TakenSize: give})
	}

	// Pass 2: round remaining need up to segment size, satisfy from any pool.
	for pool, need := range remaining {
		if need <= 0 {
			continue
		}
		rounded := roundUp(need, segmentSize)
		for _, part := range offer.Parts {
			if rounded <= 0 {
				break
			}
			avail := part.OfferSize
			give := avail
			if give > rounded {
				give = rounded
			}
			if give <= 0 {
				continue
			}
			rounded -= give
			taken.Parts = append(taken.Parts, OfferPart{Pool: pool, OfferCost: part.OfferCost, TakenSize: give})
		}
	}

	return taken
}

func roundUp(n, unit int64) int64 {
	if unit <= 0 {
		return n
	}
	if n%unit == 0 {
		return n
	}
	return (n/unit + 1) * unit
}

// HandleLowMem runs the handling loop for a requirements list: for each
// tier from min up to the maximum requirement's tier, it solicits
// handlers, evaluates offers, releases the cheapest, and decides whether
// to retry the same tier or advance. ok is false only if a handler
// reported an error; retry is true if the caller should attempt its
// allocation again.
func (m *Manager) HandleLowMem(ctx context.Context, reqs []Request, segmentSize int64) (ok bool, retry bool) {
	if len(reqs) == 0 {
		return true, false
	}

	maxCost := reqs[0].Cost
	for _, r := range reqs[1:] {
		maxCost = maxCost.Max(r.Cost)
	}

	ctx, exit := m.EnterLowMemHandling(ctx)
	defer exit()

	anyHandlerInvoked := false
	for tier := mmreserve.TierMin; tier <= maxCost.Tier; tier++ {
		handlers := m.handlersAt(tier)
		if len(handlers) == 0 {
			continue
		}

		for {
			offer, chosen, invoked, err := m.solicitTier(ctx, handlers, tier)
			if err != nil {
				return false, false
			}
			if !invoked {
				break
			}
			anyHandlerInvoked = true

			if offer == nil || len(offer.Parts) == 0 {
				break
			}

			taken := evaluateOffer(reqs, offer, segmentSize)
			if len(taken.Parts) == 0 {
				break
			}

			if err := m.release(ctx, chosen, taken); err != nil {
				return false, false
			}

			if m.sufficient(reqs, taken) {
				return true, true
			}
			// insufficient: re-solicit the same tier
		}
	}

	if anyHandlerInvoked {
		return true, true // best-effort last try
	}
	return true, false
}

func (m *Manager) solicitTier(ctx context.Context, handlers []*Handler, tier mmreserve.Tier) (*Offer, *Handler, bool, error) {
	type result struct {
		offer *Offer
		h     *Handler
	}
	var (
		mu      sync.Mutex
		results []result
		invoked bool
	)

	g, gctx := errgroup.WithContext(ctx)
	for _, h := range handlers {
		h := h
		if h.running.Load() {
			continue
		}
		if !h.MultiThreadSafe {
			// serialize non-thread-safe handlers inline, outside the
			// errgroup fan-out
			invoked = true
			h.running.Store(true)
			offer, err := h.Solicit(gctx, tier)
			h.running.Store(false)
			m.countInvocation()
			if err != nil {
				return nil, nil, true, err
			}
			mu.Lock()
			results = append(results, result{offer, h})
			mu.Unlock()
			continue
		}
		invoked = true
		g.Go(func() error {
			h.running.Store(true)
			defer h.running.Store(false)
			offer, err := h.Solicit(gctx, tier)
			m.countInvocation()
			if err != nil {
				return err
			}
			mu.Lock()
			results = append(results, result{offer, h})
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, invoked, err
	}

	var best *Offer
	var bestHandler *Handler
	bestAvg := -1.0
	for _, r := range results {
		if r.offer == nil || len(r.offer.Parts) == 0 {
			continue
		}
		avg, size := averageCost(r.offer)
		if size == 0 {
			continue
		}
		if bestAvg < 0 || avg < bestAvg {
			bestAvg = avg
			best = r.offer
			bestHandler = r.h
		}
	}
	return best, bestHandler, invoked, nil
}

// release invokes Release on the single handler whose offer was chosen
// by evaluate_offer — never an arbitrary non-running handler from the
// tier's cache.
func (m *Manager) release(ctx context.Context, chosen *Handler, taken *Offer) error {
	if chosen == nil {
		return nil
	}
	chosen.running.Store(true)
	err := chosen.Release(ctx, taken)
	chosen.running.Store(false)
	if err != nil {
		return err
	}
	logging.Op().Debug("low-mem handler released", "handler", chosen.Name, "tier", chosen.Tier.String())
	metrics.Global().RecordLowMemRound(chosen.Tier.String(), true, false)
	return nil
}

func (m *Manager) sufficient(reqs []Request, taken *Offer) bool {
	var takenTotal int64
	for _, p := range taken.Parts {
		takenTotal += p.TakenSize
	}
	var need int64
	for _, r := range reqs {
		need += r.Size
	}
	return takenTotal >= need
}

func (m *Manager) countInvocation() {
	n := m.invocations.Add(1)
	if n == invocationWarnThreshold {
		m.diagnosticTrace.Store(true)
		logging.Op().Warn("apportioner invocation count crossed diagnostic threshold, forcing low-mem tracing",
			"invocations", n)
	}
}

// DiagnosticTraceEnabled reports whether the 1000-invocation counter has
// forced diagnostic tracing on.
func (m *Manager) DiagnosticTraceEnabled() bool {
	return m.diagnosticTrace.Load()
}

// Invocations returns the total number of handler solicitations made.
func (m *Manager) Invocations() int64 {
	return m.invocations.Load()
}
