package mmarena

import "testing"

func TestCommitLimitClampedToAddressSpace(t *testing.T) {
	a := New(1<<20, 2<<20)
	if got := a.CommitLimitGet(); got != 1<<20 {
		t.Fatalf("expected commit limit clamped to address space 1MB, got %d", got)
	}
}

func TestCommitLimitSetNeverBelowCommitted(t *testing.T) {
	a := New(10<<20, 4<<20)
	if !a.Grow(3 << 20) {
		t.Fatalf("expected grow to succeed within limit")
	}
	got := a.CommitLimitSet(1 << 20)
	if got != 3<<20 {
		t.Fatalf("expected commit limit clamped to committed bytes 3MB, got %d", got)
	}
}

func TestGrowRejectsOverLimit(t *testing.T) {
	a := New(10<<20, 1<<20)
	if a.Grow(2 << 20) {
		t.Fatalf("expected grow beyond commit limit to fail")
	}
	if a.Committed() != 0 {
		t.Fatalf("expected no committed bytes after rejected grow")
	}
}

func TestShrinkClampsAtZero(t *testing.T) {
	a := New(10<<20, 10<<20)
	a.Grow(1 << 20)
	a.Shrink(5 << 20)
	if a.Committed() != 0 {
		t.Fatalf("expected committed bytes clamped to 0, got %d", a.Committed())
	}
}

func TestInternSymbolStable(t *testing.T) {
	a := New(1<<20, 1<<20)
	id1 := a.InternSymbol("DL")
	id2 := a.InternSymbol("DL")
	if id1 != id2 {
		t.Fatalf("expected stable symbol id across repeated interning")
	}
	if a.SymbolName(id1) != "DL" {
		t.Fatalf("expected symbol name to round-trip")
	}
}

func TestLabelAddress(t *testing.T) {
	a := New(1<<20, 1<<20)
	sym := a.InternSymbol("TEMP")
	a.LabelAddress(0x1000, sym)
	got, ok := a.AddressLabel(0x1000)
	if !ok || got != sym {
		t.Fatalf("expected address label to round-trip")
	}
}
