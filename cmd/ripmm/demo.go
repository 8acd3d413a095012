package main

import (
	"context"
	"fmt"

	"github.com/ripforge/mm/internal/apportioner"
	"github.com/ripforge/mm/internal/callcache"
	"github.com/ripforge/mm/internal/logging"
	"github.com/ripforge/mm/internal/mmreserve"
	"github.com/ripforge/mm/internal/psvm"
	"github.com/ripforge/mm/internal/pscalc"
)

// rgbToGraySource is the textual form of the procedure compiled below,
// kept alongside the tokens so it can be hashed into a call-cache key
// the way a DeviceN CustomConversions entry's source string would be.
const rgbToGraySource = "{.11 mul exch .59 mul add exch .3 mul add}"

func rgbToGrayTokens() []pscalc.Token {
	num := func(v float64) pscalc.Token { return pscalc.Token{Kind: pscalc.TokReal, Real: v} }
	name := func(n string) pscalc.Token { return pscalc.Token{Kind: pscalc.TokName, Name: n} }
	return []pscalc.Token{
		num(0.11), name("mul"), name("exch"),
		num(0.59), name("mul"), name("add"), name("exch"),
		num(0.3), name("mul"), name("add"),
	}
}

// runDemo exercises every component of mm against one arena: PS VM
// object allocation under nested save/restore, a PS-calculator
// compile-and-run, and a call-cache lookup backed by the compiled
// function, finishing with a RAM-tier round through the low-memory
// apportioner. The GC handlers offer a collection in that round only
// once alloc_since_gc has reached 100000 bytes; one demo pass allocates
// 11520 bytes.
func runDemo(ctx context.Context, mm *MemoryManager) error {
	log := logging.Op()

	lvl1 := mm.PSVM.Save()
	log.Info("demo: saved", "level", lvl1)

	for i := 0; i < 50; i++ {
		if _, err := mm.PSVM.AllocObject(ctx, psvm.VMLocal, 128); err != nil {
			return fmt.Errorf("alloc object %d: %w", i, err)
		}
	}

	lvl2 := mm.PSVM.Save()
	for i := 0; i < 20; i++ {
		if _, err := mm.PSVM.AllocTyped(ctx, psvm.VMLocal, 256); err != nil {
			return fmt.Errorf("alloc typed %d: %w", i, err)
		}
	}
	log.Info("demo: nested save", "level", lvl2, "alloc_since_gc", mm.PSVM.AllocSinceGC())

	if err := mm.PSVM.Restore(lvl1); err != nil {
		return fmt.Errorf("restore to %d: %w", lvl1, err)
	}
	log.Info("demo: restored", "level", mm.PSVM.SaveLevel())

	fn, ok := pscalc.Compile(rgbToGrayTokens())
	if !ok {
		return fmt.Errorf("compile rgb-to-gray: unexpected failure")
	}

	key := callcache.KeyFromSource(rgbToGraySource)
	psFn := func(x float64) ([]float64, error) {
		out, errCode := pscalc.Exec(fn, 3, 1, []float64{x, x, x})
		if errCode != pscalc.ErrNone {
			return nil, errCode
		}
		return out, nil
	}

	cache, err := callcache.CreateCallPSCache("rgb_to_gray", 1, key, &[2]float64{0, 1}, psFn)
	if err != nil {
		return fmt.Errorf("create call cache: %w", err)
	}
	mm.CallCache.Register(ctx, cache)

	for _, x := range []float64{0.0, 0.25, 0.5, 0.75, 1.0} {
		out, err := cache.Lookup(x)
		if err != nil {
			return fmt.Errorf("cache lookup %v: %w", x, err)
		}
		log.Info("demo: call cache", "x", x, "gray", out[0])
	}
	mm.CallCache.Release(ctx, cache)

	mm.PSVM.SetBetweenOperators(true)
	mm.PSVM.SetCollector(demoCollector{})
	mm.PSVM.SetFinalizeFunc(func(ctx context.Context, ref psvm.FinalizeRef) {
		log.Debug("demo: finalize", "ref", ref)
	})

	handled, retry := mm.Apportioner.HandleLowMem(ctx, []apportioner.Request{
		{Pool: "psvm-gc", Size: 1, Cost: mmreserve.Cost{Tier: mmreserve.TierRAM, Value: 1 << 30}},
	}, 4096)
	log.Info("demo: forced low-mem round", "handled", handled, "retry", retry)

	log.Info("demo: finished", "alloc_since_gc", mm.PSVM.AllocSinceGC(), "gc_alert", mm.PSVM.GCAlert())
	return nil
}

// demoCollector is a trivial stand-in for the interpreter's real
// garbage collector: it reports zero bytes reclaimed and never
// finalizes anything. Real finalization is the interpreter's job,
// not this package's.
type demoCollector struct{}

func (demoCollector) Collect(ctx context.Context, localOnly bool) (int64, []psvm.FinalizeRef, error) {
	return 0, nil, nil
}
