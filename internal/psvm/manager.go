package psvm

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/ripforge/mm/internal/logging"
	"github.com/ripforge/mm/internal/mmalloc"
	"github.com/ripforge/mm/internal/mmpool"
	"github.com/ripforge/mm/internal/mmreserve"
)

// ErrRestoreAboveCurrent is returned when Restore is asked to roll
// forward instead of back.
var ErrRestoreAboveCurrent = errors.New("psvm: restore level above current save level")

// blockRef remembers which pool a save-frame's block came from, since
// a single frame may mix the typed and untyped pools of the same VM
// half (object/string allocations share frames with typed ones for
// accounting purposes even though they land in different pools).
type blockRef struct {
	pool  *mmpool.Pool
	block []byte
}

// saveFrame is every allocation made at one save level, kept so Restore
// can free each block back through the allocator (fencepost check,
// untagging, SAC return) rather than just bookkeeping a byte count.
type saveFrame struct {
	blocks []blockRef
}

// Manager is the PS VM layer: four allocation pools, the current save
// level, and the per-level allocation counters GC scheduling reads.
type Manager struct {
	alloc *mmalloc.Allocator
	cost  mmreserve.Cost

	local       *mmpool.Pool // ps_local
	global      *mmpool.Pool // ps_global
	typedLocal  *mmpool.Pool // ps_typed_local
	typedGlobal *mmpool.Pool // ps_typed_global

	mu                   sync.Mutex
	saveLevel            int32
	localFrames          []saveFrame
	globalLevel          int32
	globalFrames         []saveFrame
	allocSinceGC         int64
	allocsSinceGCLevel   []int64
	lowestSaveLvlSinceGC int32
	gcThreshold          int64
	gcAlert              bool
	gcAlertPtr           *bool // installed by the interpreter; nil means no alert wanted

	collector  Collector
	finalizeFn FinalizeFunc

	gcMode             atomic.Int32 // -2: GC disabled; -1: local-only; >=0: whole-arena
	betweenOps         atomic.Bool
	solicitCount       atomic.Int64
	lastCollectSolicit atomic.Int64
}

// Config configures a new Manager.
type Config struct {
	GCThreshold int64
	Cost        mmreserve.Cost
}

// New creates the four PS VM pools and an empty save stack at level 0.
func New(registry *mmpool.Registry, alloc *mmalloc.Allocator, cfg Config) (*Manager, error) {
	local, err := registry.Create(mmpool.TypePSVM)
	if err != nil {
		return nil, err
	}
	global, err := registry.Create(mmpool.TypePSVM)
	if err != nil {
		return nil, err
	}
	typedLocal, err := registry.Create(mmpool.TypePSVMFN)
	if err != nil {
		return nil, err
	}
	typedGlobal, err := registry.Create(mmpool.TypePSVMFN)
	if err != nil {
		return nil, err
	}

	m := &Manager{
		alloc:              alloc,
		cost:               cfg.Cost,
		local:              local,
		global:             global,
		typedLocal:         typedLocal,
		typedGlobal:        typedGlobal,
		localFrames:        make([]saveFrame, 1, MaxSaveLevels+2),
		globalFrames:       make([]saveFrame, 1, MaxGlobalSaveLevel+2),
		allocsSinceGCLevel: make([]int64, 1, MaxSaveLevels+2),
		gcThreshold:        cfg.GCThreshold,
	}
	return m, nil
}

// SetGCAlert installs the interpreter's alert flag: AllocSinceGC
// crossing gcThreshold sets *ptr to true.
func (m *Manager) SetGCAlert(ptr *bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gcAlertPtr = ptr
}

// SaveLevel returns the current save level.
func (m *Manager) SaveLevel() int32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saveLevel
}

// AllocSinceGC returns bytes allocated since the last collection.
func (m *Manager) AllocSinceGC() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.allocSinceGC
}

// GCAlert reports whether allocation has crossed the GC threshold since
// the last reset.
func (m *Manager) GCAlert() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.gcAlert
}

func (m *Manager) poolFor(vm VMKind, typed bool) *mmpool.Pool {
	switch {
	case typed && vm == VMLocal:
		return m.typedLocal
	case typed && vm == VMGlobal:
		return m.typedGlobal
	case vm == VMGlobal:
		return m.global
	default:
		return m.local
	}
}

// allocSlot reserves size bytes from the allocation point for vm/typed
// and bumps the allocation counters. No Slot header is written into the
// block and kind is not recorded; the block is returned as the
// allocator produced it.
func (m *Manager) allocSlot(ctx context.Context, vm VMKind, typed bool, kind ObjectKind, size int64) ([]byte, error) {
	pool := m.poolFor(vm, typed)

	block, err := m.alloc.Alloc(ctx, pool, size, m.cost)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	level := m.saveLevel
	ref := blockRef{pool: pool, block: block}
	if vm == VMGlobal {
		m.globalFrames[m.globalLevel].blocks = append(m.globalFrames[m.globalLevel].blocks, ref)
	} else {
		m.localFrames[level].blocks = append(m.localFrames[level].blocks, ref)
	}
	m.allocSinceGC += size
	m.allocsSinceGCLevel[level] += size
	if m.gcThreshold > 0 && m.allocSinceGC > m.gcThreshold {
		m.gcAlert = true
		if m.gcAlertPtr != nil {
			*m.gcAlertPtr = true
		}
	}
	m.mu.Unlock()

	_ = kind
	return block, nil
}

// AllocObject allocates a single PS object from the object allocation
// point.
func (m *Manager) AllocObject(ctx context.Context, vm VMKind, size int64) ([]byte, error) {
	return m.allocSlot(ctx, vm, false, ONull, size)
}

// AllocString allocates from the string allocation point. In this
// layer strings share the object pool's allocation point; only the
// accounting differs in the original, which this simplification
// collapses.
func (m *Manager) AllocString(ctx context.Context, vm VMKind, size int64) ([]byte, error) {
	return m.allocSlot(ctx, vm, false, ONull, size)
}

// AllocTyped allocates from the typed pool's exact allocation point.
func (m *Manager) AllocTyped(ctx context.Context, vm VMKind, size int64) ([]byte, error) {
	return m.allocSlot(ctx, vm, true, OExactTyped, size)
}

// AllocWeak allocates from the typed pool's weak allocation point.
func (m *Manager) AllocWeak(ctx context.Context, vm VMKind, size int64) ([]byte, error) {
	return m.allocSlot(ctx, vm, true, OWeakTyped, size)
}

// Save increments the current save level, pushing a new frame in the
// local pools always, and in the global pools only if the new level is
// still within MaxGlobalSaveLevel+1 — beyond that, globals simply stop
// gaining new generations while locals keep saving.
func (m *Manager) Save() int32 {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.saveLevel++
	m.localFrames = append(m.localFrames, saveFrame{})
	m.allocsSinceGCLevel = append(m.allocsSinceGCLevel, 0)

	if m.saveLevel <= MaxGlobalSaveLevel+1 {
		m.globalLevel++
		m.globalFrames = append(m.globalFrames, saveFrame{})
	}

	logging.Op().Debug("psvm save", "level", m.saveLevel)
	return m.saveLevel
}

// Restore pops every local frame above level, freeing the bytes each
// frame accumulated back to the local pool, zeroing allocsSinceGCLevel
// at every popped level, then lowering the current save level to
// level. Global frames are popped too, but only down to
// min(level, MaxGlobalSaveLevel+1) — restoring to a level still above
// the global ceiling leaves globals untouched.
func (m *Manager) Restore(level int32) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if level > m.saveLevel {
		return ErrRestoreAboveCurrent
	}

	for m.saveLevel > level {
		frame := m.localFrames[m.saveLevel]
		for _, ref := range frame.blocks {
			if err := m.alloc.Free(ref.pool, ref.block); err != nil {
				logging.Op().Error("psvm restore: free failed", "err", err)
			}
		}
		m.allocsSinceGCLevel[m.saveLevel] = 0
		m.localFrames = m.localFrames[:m.saveLevel]
		m.allocsSinceGCLevel = m.allocsSinceGCLevel[:m.saveLevel]
		m.saveLevel--
	}

	globalTarget := level
	if globalTarget > MaxGlobalSaveLevel+1 {
		globalTarget = MaxGlobalSaveLevel + 1
	}
	for m.globalLevel > globalTarget {
		frame := m.globalFrames[m.globalLevel]
		for _, ref := range frame.blocks {
			if err := m.alloc.Free(ref.pool, ref.block); err != nil {
				logging.Op().Error("psvm restore: free failed", "err", err)
			}
		}
		m.globalFrames = m.globalFrames[:m.globalLevel]
		m.globalLevel--
	}

	logging.Op().Debug("psvm restore", "level", level)
	return nil
}

// Check returns true iff ptrLevel (the save level an allocation was
// made at) is not higher than level — i.e. the pointer is safe to use
// from a context holding a save level of level.
func Check(level, ptrLevel int32) bool {
	return ptrLevel <= level
}

// AllocsSinceGCAt returns the allocs_since_gc[level] counter, used by
// tests and diagnostics to confirm Restore zeroed the right levels.
func (m *Manager) AllocsSinceGCAt(level int32) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if int(level) >= len(m.allocsSinceGCLevel) {
		return 0
	}
	return m.allocsSinceGCLevel[level]
}
