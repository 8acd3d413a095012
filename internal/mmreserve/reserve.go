package mmreserve

import (
	"sync"
	"sync/atomic"

	"github.com/ripforge/mm/internal/logging"
	"github.com/ripforge/mm/internal/metrics"
	"github.com/ripforge/mm/internal/mmarena"
)

// Level describes one slot in the reserve table.
type Level struct {
	Size    int64
	Cost    Cost
	held    bool
}

// Manager holds the reserve table and the two commit-limit extensions,
// and tracks the process-wide "memory is low" hint.
//
// # Open question resolution
//
// The level is a CAS-backed atomic.Int32 rather than a plain int guarded
// only by the low-mem mutex. ReserveRelease's release step does a single
// bounded CAS retry instead of blindly reading-then-writing the level,
// so the intentional "another thread may have already surrendered this
// level" race plays out as a compare-and-swap loop (bounded to one
// retry) rather than a true data race. This changes nothing observable:
// a solicit/release pair still may surrender whichever level is current
// at release time, just without a torn read.
type Manager struct {
	arena *mmarena.Arena

	mu     sync.Mutex
	levels []Level
	level  atomic.Int32 // index of the highest still-held level (0 == none held)

	lowFlag   atomic.Bool
	fullFill  atomic.Bool // per-process target: true == keep reserves full

	arenaExt CommitExtension
	useAllExt CommitExtension
}

// Config configures a Manager's reserve table and extension ladder.
type Config struct {
	Levels        []Level
	Arena         ExtensionConfig
	UseAll        ExtensionConfig
}

// ExtensionConfig configures one commit-limit extension.
type ExtensionConfig struct {
	Base  int64
	Limit int64
	Delta int64
}

// NewManager constructs a reserve manager with every level initially
// held (the normal "reserves full" starting state).
func NewManager(arena *mmarena.Arena, cfg Config) *Manager {
	m := &Manager{
		arena:  arena,
		levels: append([]Level(nil), cfg.Levels...),
	}
	for i := range m.levels {
		m.levels[i].held = true
	}
	m.level.Store(int32(len(m.levels)))
	m.fullFill.Store(true)

	m.arenaExt = NewCommitExtension(cfg.Arena)
	m.useAllExt = NewCommitExtension(cfg.UseAll)
	return m
}

// MemoryIsLow returns the opportunistic low-memory hint, read without
// synchronization per the process-wide shared-resource policy.
func (m *Manager) MemoryIsLow() bool { return m.lowFlag.Load() }

// Level returns the number of reserve levels currently held.
func (m *Manager) Level() int32 { return m.level.Load() }

// NumLevels returns the total number of configured reserve levels.
func (m *Manager) NumLevels() int { return len(m.levels) }

// ReserveGet drives the held level downward (releasing memory to the
// arena) by reclaiming every level whose cost is less than limitCost,
// walking from the cheapest held level (index 0) upward and stopping at
// the first level whose cost is not below limitCost. In practice that
// stopping point is the final reserve, whose cost sits at or above
// normal allocation cost and is therefore never spent by this path. When
// the level reaches zero and the commit limit sits at its base,
// memory_is_low is cleared.
func (m *Manager) ReserveGet(limitCost Cost) {
	m.mu.Lock()
	defer m.mu.Unlock()

	released := int64(0)
	releasedCount := 0
	for i := range m.levels {
		l := &m.levels[i]
		if !l.held || !l.Cost.Less(limitCost) {
			break
		}
		l.held = false
		released += l.Size
		releasedCount++
	}

	level := int(m.level.Load())
	if releasedCount > 0 {
		level -= releasedCount
		if level < 0 {
			level = 0
		}
		m.level.Store(int32(level))
		m.arena.Shrink(-released) // returning reserve bytes grows arena headroom
		logging.Op().Debug("reserve levels released", "count", releasedCount, "bytes", released)
	}

	if level == 0 && m.arena.CommitLimitGet() == m.arenaExt.cfg.Base {
		m.lowFlag.Store(false)
	}
	metrics.Global().SetReserveLevel(m.level.Load())
}

// ReserveReleaseSolicit offers the block at the currently held level, if
// any, as a low-mem handler solicitation at tier reserve_pool.
func (m *Manager) ReserveReleaseSolicit() (size int64, ok bool) {
	level := m.level.Load()
	if level <= 0 {
		return 0, false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.levels[level-1].Size, true
}

// ReserveReleaseRelease frees the block at whatever level is current at
// release time (which may have changed since solicit in a multi-threaded
// context), bumps the level, and sets memory_is_low. The level update is
// a CAS loop bounded to one retry per the adopted open-question
// resolution.
func (m *Manager) ReserveReleaseRelease() (freedBytes int64, ok bool) {
	for attempt := 0; attempt < 2; attempt++ {
		cur := m.level.Load()
		if cur <= 0 {
			return 0, false
		}

		m.mu.Lock()
		l := &m.levels[cur-1]
		if !l.held {
			m.mu.Unlock()
			continue // someone else already surrendered this level; retry once
		}
		l.held = false
		freed := l.Size
		m.mu.Unlock()

		if m.level.CompareAndSwap(cur, cur-1) {
			m.lowFlag.Store(true)
			metrics.Global().SetReserveLevel(m.level.Load())
			return freed, true
		}
		// Lost the race on the level counter; re-mark held and retry once.
		m.mu.Lock()
		l.held = true
		m.mu.Unlock()
	}
	return 0, false
}

// ShouldRegainReserves is the fast pre-allocation gate: true iff
// memory_is_low AND (the current level is above zero OR the commit limit
// exceeds the arena's base) AND limit exceeds one of the held tiers.
func (m *Manager) ShouldRegainReserves(limit Cost) bool {
	if !m.lowFlag.Load() {
		return false
	}
	level := m.level.Load()
	if level <= 0 && m.arena.CommitLimitGet() <= m.arenaExt.cfg.Base {
		return false
	}
	if level <= 0 {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := int(level) - 1; i >= 0; i-- {
		if m.levels[i].held && m.levels[i].Cost.Less(limit) {
			return true
		}
	}
	return false
}

// RegainReserves refills held reserve levels back toward the configured
// fill target under the manager's mutex. It returns the number of levels
// regained.
func (m *Manager) RegainReserves() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	target := len(m.levels)
	if !m.fullFill.Load() {
		target = len(m.levels) - 1 // use-all-but-final
		if target < 0 {
			target = 0
		}
	}

	regained := 0
	level := int(m.level.Load())
	for level < target {
		m.levels[level].held = true
		level++
		regained++
	}
	m.level.Store(int32(level))
	metrics.Global().SetReserveLevel(m.level.Load())
	return regained
}

// RegainReservesForAlloc attempts to refill enough reserve levels to
// clear costFloor, reporting whether the fill-line was reached.
func (m *Manager) RegainReservesForAlloc(costFloor Cost) bool {
	m.RegainReserves()
	m.mu.Lock()
	defer m.mu.Unlock()
	level := int(m.level.Load())
	for i := 0; i < level; i++ {
		if m.levels[i].Cost.Less(costFloor) {
			return false
		}
	}
	return true
}

// SetReserves switches the calling thread's target fill level between
// "keep full" (full=true) and "use-all-but-final" (full=false).
func (m *Manager) SetReserves(full bool) {
	m.fullFill.Store(full)
}

// ArenaExtension returns the partial-paint-tier commit extension.
func (m *Manager) ArenaExtension() *CommitExtension { return &m.arenaExt }

// UseAllExtension returns the trash-VM-tier commit extension.
func (m *Manager) UseAllExtension() *CommitExtension { return &m.useAllExt }

// Arena exposes the underlying arena for extension handlers.
func (m *Manager) Arena() *mmarena.Arena { return m.arena }
