package mmpool

import (
	"testing"

	"github.com/ripforge/mm/internal/mmarena"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	arena := mmarena.New(64<<20, 64<<20)
	r, err := NewRegistry(arena, SACConfig{Classes: 8, CachedCount: 4})
	if err != nil {
		t.Fatalf("NewRegistry failed: %v", err)
	}
	return r
}

func TestNewRegistryBootstrapsFixedPool(t *testing.T) {
	r := newTestRegistry(t)
	if r.Fixed() == nil {
		t.Fatalf("expected fixed pool to be created")
	}
	if r.Len() != 1 {
		t.Fatalf("expected registry to contain only the fixed pool, got %d", r.Len())
	}
}

func TestCreateAddsPoolToWalk(t *testing.T) {
	r := newTestRegistry(t)
	p, err := r.Create(TypePSVM)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	seen := false
	r.Walk(func(candidate *Pool) bool {
		if candidate == p {
			seen = true
		}
		return true
	})
	if !seen {
		t.Fatalf("expected Walk to visit the newly created pool")
	}
}

func TestDestroyRemovesFromWalk(t *testing.T) {
	r := newTestRegistry(t)
	p, err := r.Create(TypeTEMP)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if err := r.Destroy(p); err != nil {
		t.Fatalf("Destroy failed: %v", err)
	}

	r.Walk(func(candidate *Pool) bool {
		if candidate == p {
			t.Fatalf("expected destroyed pool to be absent from Walk")
		}
		return true
	})
}

func TestFixedPoolCannotBeDestroyedWhileDependentsExist(t *testing.T) {
	r := newTestRegistry(t)
	if _, err := r.Create(TypeCOLOR); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if err := r.Destroy(r.Fixed()); err != ErrFixedPoolBusy {
		t.Fatalf("expected ErrFixedPoolBusy, got %v", err)
	}
}

func TestFinishDestroysFixedPoolLast(t *testing.T) {
	r := newTestRegistry(t)
	if _, err := r.Create(TypeDL); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if err := r.Finish(false); err != nil {
		t.Fatalf("Finish failed: %v", err)
	}
	if r.Len() != 0 {
		t.Fatalf("expected all pools destroyed after Finish, got %d", r.Len())
	}
}

func TestSACGetMissThenPutThenHit(t *testing.T) {
	sac := NewSAC(4, 2)
	if _, ok := sac.Get(16); ok {
		t.Fatalf("expected cache miss on empty SAC")
	}
	block := make([]byte, 16)
	if !sac.Put(16, block) {
		t.Fatalf("expected Put to succeed")
	}
	got, ok := sac.Get(16)
	if !ok || len(got) != 16 {
		t.Fatalf("expected cache hit returning a 16-byte block")
	}
}

func TestSACPutRejectsWhenClassFull(t *testing.T) {
	sac := NewSAC(4, 1)
	if !sac.Put(16, make([]byte, 16)) {
		t.Fatalf("expected first Put to succeed")
	}
	if sac.Put(16, make([]byte, 16)) {
		t.Fatalf("expected second Put to overflow a class with cachedCount 1")
	}
}
