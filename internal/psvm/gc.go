package psvm

import (
	"context"

	"github.com/ripforge/mm/internal/apportioner"
	"github.com/ripforge/mm/internal/logging"
	"github.com/ripforge/mm/internal/mmreserve"
)

// hysteresisBytes is the floor on alloc_since_gc below which a
// collection is never worth offering — a GC cycle this soon after the
// last one would reclaim too little to pay for itself.
const hysteresisBytes = 100000

// gcOfferScale sets the rough magnitude of a full-price collection
// offer; the actual offer cost is scaled down as alloc_since_gc grows,
// so a VM sitting on a lot of garbage looks cheap to collect.
const gcOfferScale = 1_000_000_000

// FinalizeRef identifies one object a collection pass decided needs
// finalizing. The PS VM layer never looks inside it — it is opaque
// state owned by the interpreter's object layer and is only ever
// handed back to FinalizeFunc.
type FinalizeRef interface{}

// FinalizeFunc runs a PostScript finalize procedure for one collected
// object. Installed by the interpreter; the psvm package never invokes
// it except while draining a Collector's finalization list.
type FinalizeFunc func(ctx context.Context, ref FinalizeRef)

// Collector is the arena's side of garbage collection: given whether to
// restrict the pass to the local VM or sweep the whole arena, it
// reclaims unreachable memory and reports how much came back plus which
// objects need finalizing. The psvm package only ever calls this
// interface — it has no collector of its own.
type Collector interface {
	Collect(ctx context.Context, localOnly bool) (reclaimed int64, finalizations []FinalizeRef, err error)
}

// SetCollector installs the arena collector the GC handlers drive.
func (m *Manager) SetCollector(c Collector) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.collector = c
}

// SetFinalizeFunc installs the callback run for each object a
// collection pass reports as needing finalization.
func (m *Manager) SetFinalizeFunc(fn FinalizeFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.finalizeFn = fn
}

// SetGCMode sets the interpreter's gcmode: mode <= -2 disables GC
// entirely (Solicit always refuses), mode == -1 restricts collection to
// the current VM, mode >= 0 sweeps the whole arena.
func (m *Manager) SetGCMode(mode int32) {
	m.gcMode.Store(mode)
}

// GCMode returns the current gcmode value.
func (m *Manager) GCMode() int32 {
	return m.gcMode.Load()
}

// SetBetweenOperators records whether the interpreter is currently
// between PostScript operators — Solicit refuses to offer a collection
// mid-operator, since the operator's own locals are not yet in a
// GC-safe state.
func (m *Manager) SetBetweenOperators(between bool) {
	m.betweenOps.Store(between)
}

// RegisterGCHandlers registers the three GC low-mem handlers — RAM,
// disk and trash-VM tier — with mgr. All three share the same
// Solicit/Release logic; only the tier (and therefore how urgently the
// apportioner reaches for them) differs.
func (m *Manager) RegisterGCHandlers(mgr *apportioner.Manager) []*apportioner.Handler {
	tiers := []mmreserve.Tier{mmreserve.TierRAM, mmreserve.TierDisk, mmreserve.TierTrashVM}
	handlers := make([]*apportioner.Handler, 0, len(tiers))
	for _, tier := range tiers {
		h := &apportioner.Handler{
			Name:            "psvm-gc-" + tier.String(),
			Tier:            tier,
			MultiThreadSafe: false,
			Solicit:         m.gcSolicit,
			Release:         m.gcRelease,
		}
		mgr.Register(h)
		handlers = append(handlers, h)
	}
	return handlers
}

func (m *Manager) gcSolicit(ctx context.Context, tier mmreserve.Tier) (*apportioner.Offer, error) {
	m.solicitCount.Add(1)

	if m.gcMode.Load() <= -2 {
		return nil, nil
	}
	if !m.betweenOps.Load() {
		return nil, nil
	}

	recent := m.AllocSinceGC()
	if recent < hysteresisBytes {
		return nil, nil
	}

	age := m.solicitCount.Load() - m.lastCollectSolicit.Load()
	drift := age // the "tiny long-term drift" term: cost creeps down by
	// one for every solicitation since the last collection, so a
	// handler passed over repeatedly grows cheaper within its tier; no
	// offer is made below the hysteresis floor above.

	cost := gcOfferScale/(recent+1) - drift
	if cost < 1 {
		cost = 1
	}

	return &apportioner.Offer{
		Parts: []apportioner.OfferPart{{
			Pool:      "psvm-gc",
			OfferSize: recent,
			OfferCost: cost,
		}},
	}, nil
}

func (m *Manager) gcRelease(ctx context.Context, offer *apportioner.Offer) error {
	m.mu.Lock()
	collector := m.collector
	finalize := m.finalizeFn
	localOnly := m.gcMode.Load() == -1
	m.mu.Unlock()

	if collector == nil {
		return nil
	}

	reclaimed, finalizations, err := collector.Collect(ctx, localOnly)
	if err != nil {
		return err
	}

	for _, ref := range finalizations {
		if finalize != nil {
			finalize(ctx, ref)
		}
	}

	m.mu.Lock()
	m.allocSinceGC = 0
	for i := range m.allocsSinceGCLevel {
		m.allocsSinceGCLevel[i] = 0
	}
	m.lowestSaveLvlSinceGC = m.saveLevel
	m.gcAlert = false
	if m.gcAlertPtr != nil {
		*m.gcAlertPtr = false
	}
	m.lastCollectSolicit.Store(m.solicitCount.Load())
	m.mu.Unlock()

	logging.Op().Debug("psvm gc collected", "reclaimed", reclaimed, "finalized", len(finalizations), "local_only", localOnly)
	return nil
}
