package main

import (
	"fmt"

	"github.com/ripforge/mm/internal/apportioner"
	"github.com/ripforge/mm/internal/callcache"
	"github.com/ripforge/mm/internal/config"
	"github.com/ripforge/mm/internal/logging"
	"github.com/ripforge/mm/internal/mmalloc"
	"github.com/ripforge/mm/internal/mmarena"
	"github.com/ripforge/mm/internal/mmpool"
	"github.com/ripforge/mm/internal/mmreserve"
	"github.com/ripforge/mm/internal/psvm"
)

// MemoryManager wires every component the page-description interpreter
// needs from a single arena: the pool registry, the reserve ladder, the
// low-memory apportioner, the allocation front-end, the PS VM, and the
// call-output cache. cmd/ripmm's subcommands all operate on one of
// these.
type MemoryManager struct {
	Arena       *mmarena.Arena
	Registry    *mmpool.Registry
	Reserve     *mmreserve.Manager
	Apportioner *apportioner.Manager
	Alloc       *mmalloc.Allocator
	PSVM        *psvm.Manager
	CallCache   *callcache.Registry

	scratch *mmpool.Pool // TypeTABLE pool for non-PS allocations; the demo workload does not allocate from it
}

// NewMemoryManager builds the full component graph from cfg, registers
// the PS VM's three GC low-memory handlers with the apportioner, and
// creates the optional Redis call-cache mirror when configured.
func NewMemoryManager(cfg *config.Config) (*MemoryManager, error) {
	arena := mmarena.New(cfg.Arena.AddressSpace, cfg.Arena.CommitLimit)

	registry, err := mmpool.NewRegistry(arena, mmpool.SACConfig{
		Classes:     cfg.Pool.SACClasses,
		CachedCount: cfg.Pool.SACCachedCount,
	})
	if err != nil {
		return nil, fmt.Errorf("new pool registry: %w", err)
	}

	levels := make([]mmreserve.Level, len(cfg.Reserve.Levels))
	for i, size := range cfg.Reserve.Levels {
		levels[i] = mmreserve.Level{Size: size, Cost: mmreserve.Cost{Tier: mmreserve.TierReservePool, Value: int64(i)}}
	}
	reserve := mmreserve.NewManager(arena, mmreserve.Config{
		Levels: levels,
		Arena: mmreserve.ExtensionConfig{
			Base:  cfg.Arena.CommitLimit,
			Limit: cfg.Arena.CommitLimit + cfg.Extension.MaxExtension,
			Delta: cfg.Extension.DeltaStep,
		},
		UseAll: mmreserve.ExtensionConfig{
			Base:  cfg.Arena.CommitLimit,
			Limit: cfg.Arena.AddressSpace,
			Delta: cfg.Extension.DeltaStep,
		},
	})

	ap := apportioner.NewManager()
	alloc := mmalloc.NewAllocator(registry, reserve, ap, cfg.Pool.SegmentSize)

	vm, err := psvm.New(registry, alloc, psvm.Config{
		GCThreshold: cfg.GC.Hysteresis,
		Cost:        mmreserve.Cost{Tier: mmreserve.TierRAM, Value: 0},
	})
	if err != nil {
		return nil, fmt.Errorf("new psvm manager: %w", err)
	}
	vm.RegisterGCHandlers(ap)

	scratch, err := registry.Create(mmpool.TypeTABLE)
	if err != nil {
		return nil, fmt.Errorf("new scratch pool: %w", err)
	}

	var mirror callcache.Mirror
	if cfg.CallCache.Redis.Enabled {
		mirror = callcache.NewRedisMirror(callcache.RedisMirrorConfig{
			Addr:     cfg.CallCache.Redis.Addr,
			Password: cfg.CallCache.Redis.Password,
			DB:       cfg.CallCache.Redis.DB,
		})
		logging.Op().Info("call cache mirror enabled", "addr", cfg.CallCache.Redis.Addr)
	}
	cache := callcache.NewRegistry(mirror)

	return &MemoryManager{
		Arena:       arena,
		Registry:    registry,
		Reserve:     reserve,
		Apportioner: ap,
		Alloc:       alloc,
		PSVM:        vm,
		CallCache:   cache,
		scratch:     scratch,
	}, nil
}
