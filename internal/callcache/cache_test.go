package callcache

import (
	"context"
	"math"
	"testing"
)

func TestCreateCallPSCache_Identity(t *testing.T) {
	c, err := CreateCallPSCache("identity", 1, "id-1", nil, nil)
	if err != nil {
		t.Fatalf("CreateCallPSCache failed: %v", err)
	}

	out, err := c.Lookup(0.37)
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	if len(out) != 1 || math.Abs(out[0]-0.37) > 1e-9 {
		t.Fatalf("expected identity output 0.37, got %v", out)
	}
}

func TestCreateCallPSCache_Linear(t *testing.T) {
	rng := [2]float64{0, 1}
	fn := func(x float64) ([]float64, error) {
		return []float64{2 * x}, nil
	}

	c, err := CreateCallPSCache("linear", 1, "id-2", &rng, fn)
	if err != nil {
		t.Fatalf("CreateCallPSCache failed: %v", err)
	}

	out, err := c.Lookup(0.5)
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	if math.Abs(out[0]-1.0) > 1e-3 {
		t.Fatalf("expected ~1.0, got %v", out[0])
	}
}

func TestCallPSCache_LookupClampsDomain(t *testing.T) {
	rng := [2]float64{0, 10}
	fn := func(x float64) ([]float64, error) {
		return []float64{x}, nil
	}

	c, err := CreateCallPSCache("clamped", 1, "id-3", &rng, fn)
	if err != nil {
		t.Fatalf("CreateCallPSCache failed: %v", err)
	}

	out, err := c.Lookup(-5)
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	if math.Abs(out[0]-0) > 1e-3 {
		t.Fatalf("expected clamp to 0, got %v", out[0])
	}

	out, err = c.Lookup(100)
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	if math.Abs(out[0]-10) > 1e-3 {
		t.Fatalf("expected clamp to 10, got %v", out[0])
	}
}

func TestCallPSCache_DestroyedAfterRefcountZero(t *testing.T) {
	c, err := CreateCallPSCache("scratch", 1, "id-4", nil, nil)
	if err != nil {
		t.Fatalf("CreateCallPSCache failed: %v", err)
	}

	DestroyCallPSCache(c)
	if c.Live() {
		t.Fatalf("expected cache to be dead after single reference destroyed")
	}
	if _, err := c.Lookup(0); err != ErrDestroyed {
		t.Fatalf("expected ErrDestroyed, got %v", err)
	}
}

func TestCreateCallPSCache_BlackGenClampsSamples(t *testing.T) {
	rng := [2]float64{0, 1}
	fn := func(x float64) ([]float64, error) {
		return []float64{2*x - 0.5}, nil // ranges over [-0.5, 1.5]
	}

	c, err := CreateCallPSCache(FnBlackGen, 1, "id-bg", &rng, fn)
	if err != nil {
		t.Fatalf("CreateCallPSCache failed: %v", err)
	}

	if out, err := c.Lookup(0); err != nil || out[0] != 0 {
		t.Fatalf("expected clamped sample 0, got %v err %v", out, err)
	}
	if out, err := c.Lookup(1); err != nil || out[0] != 1 {
		t.Fatalf("expected clamped sample 1, got %v err %v", out, err)
	}
}

func TestClampUnit(t *testing.T) {
	out := ClampUnit([]float64{-1, 0.5, 2})
	if out[0] != 0 || out[1] != 0.5 || out[2] != 1 {
		t.Fatalf("unexpected clamp result: %v", out)
	}
}

func TestRegistry_RegisterLookupRelease(t *testing.T) {
	ctx := context.Background()
	reg := NewRegistry(nil)

	c, err := CreateCallPSCache("scratch", 1, "id-5", nil, nil)
	if err != nil {
		t.Fatalf("CreateCallPSCache failed: %v", err)
	}
	reg.Register(ctx, c)

	got, ok := reg.Lookup(ctx, "id-5")
	if !ok || got != c {
		t.Fatalf("expected to find registered cache")
	}
	if reg.Len() != 1 {
		t.Fatalf("expected 1 registered entry, got %d", reg.Len())
	}

	reg.Release(ctx, c)
	if _, ok := reg.Lookup(ctx, "id-5"); ok {
		t.Fatalf("expected cache to be gone after release")
	}
	if reg.Len() != 0 {
		t.Fatalf("expected registry to be empty after release, got %d", reg.Len())
	}
}

func TestRegistry_ReserveKeepsEntryAlive(t *testing.T) {
	ctx := context.Background()
	reg := NewRegistry(nil)

	c, err := CreateCallPSCache("scratch", 1, "id-6", nil, nil)
	if err != nil {
		t.Fatalf("CreateCallPSCache failed: %v", err)
	}
	reg.Register(ctx, c)
	ReserveCallPSCache(c)

	reg.Release(ctx, c)
	if _, ok := reg.Lookup(ctx, "id-6"); !ok {
		t.Fatalf("expected cache to remain live after one of two references released")
	}

	reg.Release(ctx, c)
	if _, ok := reg.Lookup(ctx, "id-6"); ok {
		t.Fatalf("expected cache to be gone after both references released")
	}
}
