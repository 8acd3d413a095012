// Package mmarena wraps the external allocation arena: commit-limit
// tracking, a spare-commit margin, and telemetry symbol interning for
// pools and addresses. It is the narrowest layer in the memory manager —
// everything else is built on top of the invariant this package enforces:
// committed bytes never exceed the commit limit, which never exceeds the
// address-space ceiling.
package mmarena

import (
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/ripforge/mm/internal/logging"
)

// SymbolID identifies an interned telemetry label (a pool-type name or a
// labelled address range).
type SymbolID uint32

// Arena tracks commit accounting and telemetry symbols for the memory
// manager. The zero value is not usable; construct with New.
type Arena struct {
	addressSpace int64

	commitLimit atomic.Int64
	committed   atomic.Int64
	spare       atomic.Int64

	mu      sync.RWMutex
	symbols map[string]SymbolID
	names   []string

	labelMu sync.Mutex
	labels  map[uintptr]SymbolID

	sysProbe func() (committedHint int64, ok bool)
}

// New constructs an Arena with the given address-space ceiling and
// initial commit limit. commitLimit is clamped to addressSpace.
func New(addressSpace, commitLimit int64) *Arena {
	if commitLimit > addressSpace {
		commitLimit = addressSpace
	}
	a := &Arena{
		addressSpace: addressSpace,
		symbols:      make(map[string]SymbolID),
		labels:       make(map[uintptr]SymbolID),
		sysProbe:     probeCommitted,
	}
	a.commitLimit.Store(commitLimit)
	return a
}

// CommitLimitGet returns the current commit limit in bytes.
func (a *Arena) CommitLimitGet() int64 {
	return a.commitLimit.Load()
}

// CommitLimitSet raises or lowers the commit limit, clamped to
// [committed, addressSpace] so the invariant committed <= commitLimit <=
// addressSpace always holds.
func (a *Arena) CommitLimitSet(limit int64) int64 {
	if limit > a.addressSpace {
		limit = a.addressSpace
	}
	if committed := a.committed.Load(); limit < committed {
		limit = committed
	}
	a.commitLimit.Store(limit)
	return limit
}

// Grow reserves delta additional committed bytes, returning false
// without mutating state if doing so would exceed the commit limit.
func (a *Arena) Grow(delta int64) bool {
	for {
		cur := a.committed.Load()
		next := cur + delta
		if next > a.commitLimit.Load() {
			return false
		}
		if a.committed.CompareAndSwap(cur, next) {
			return true
		}
	}
}

// Shrink releases delta committed bytes back to the arena. Shrinking
// below zero clamps to zero.
func (a *Arena) Shrink(delta int64) {
	for {
		cur := a.committed.Load()
		next := cur - delta
		if next < 0 {
			next = 0
		}
		if a.committed.CompareAndSwap(cur, next) {
			return
		}
	}
}

// Committed returns the current committed-bytes ledger. When a real
// OS-level reading is available it is compared with the ledger and the
// two are logged at Debug when they diverge by more than 10%, since the
// ledger here tracks simulated pool growth rather than real page
// commits; the reading never changes the returned value.
func (a *Arena) Committed() int64 {
	ledger := a.committed.Load()
	if a.sysProbe == nil {
		return ledger
	}
	hint, ok := a.sysProbe()
	if !ok || ledger == 0 {
		return ledger
	}
	diff := hint - ledger
	if diff < 0 {
		diff = -diff
	}
	if float64(diff) > 0.10*float64(ledger) {
		logging.Op().Debug("arena commit ledger diverges from OS reading",
			"ledger_bytes", ledger, "os_bytes", hint)
	}
	return ledger
}

// SpareCommittedSet sets the spare-commit margin. The arena only stores
// the value for SpareCommitted to report; Grow does not consult it.
func (a *Arena) SpareCommittedSet(bytes int64) {
	a.spare.Store(bytes)
}

// SpareCommitted returns the current spare-commit margin.
func (a *Arena) SpareCommitted() int64 {
	return a.spare.Load()
}

// AddressSpace returns the address-space ceiling the arena was
// constructed with.
func (a *Arena) AddressSpace() int64 {
	return a.addressSpace
}

// InternSymbol returns a stable SymbolID for name, allocating a new one
// on first use. Pool types and other telemetry labels share this table.
func (a *Arena) InternSymbol(name string) SymbolID {
	a.mu.RLock()
	if id, ok := a.symbols[name]; ok {
		a.mu.RUnlock()
		return id
	}
	a.mu.RUnlock()

	a.mu.Lock()
	defer a.mu.Unlock()
	if id, ok := a.symbols[name]; ok {
		return id
	}
	id := SymbolID(len(a.names))
	a.symbols[name] = id
	a.names = append(a.names, name)
	return id
}

// SymbolName resolves a SymbolID back to its interned string, or "" if
// unknown.
func (a *Arena) SymbolName(id SymbolID) string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if int(id) >= len(a.names) {
		return ""
	}
	return a.names[id]
}

// LabelAddress associates addr with a telemetry symbol, for tools that
// want to report which pool a given address range belongs to.
func (a *Arena) LabelAddress(addr uintptr, sym SymbolID) {
	a.labelMu.Lock()
	defer a.labelMu.Unlock()
	a.labels[addr] = sym
}

// AddressLabel returns the symbol previously associated with addr via
// LabelAddress, if any.
func (a *Arena) AddressLabel(addr uintptr) (SymbolID, bool) {
	a.labelMu.Lock()
	defer a.labelMu.Unlock()
	sym, ok := a.labels[addr]
	return sym, ok
}

// NewInstanceID mints a process-unique identifier for a pool or arena
// instance, the way the teacher stamps VM ids when a VM is created.
func NewInstanceID() string {
	return uuid.New().String()
}

func probeCommitted() (int64, bool) {
	if hint, ok := sysinfoCommitted(); ok {
		return hint, true
	}
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return int64(ms.Sys), true
}
