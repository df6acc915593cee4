package game

import (
	"testing"
)

// TestPoolAllocateRelease verifies basic slot recycling.
func TestPoolAllocateRelease(t *testing.T) {
	p := NewPool(4)

	idx, err := p.Allocate()
	if err != nil {
		t.Fatalf("Allocate failed: %v", err)
	}
	if !p.Live(idx) {
		t.Fatalf("slot %d should be live after allocation", idx)
	}

	h := p.Handle(idx)
	p.Release(idx)
	if p.Live(idx) {
		t.Fatal("slot should not be live after release")
	}
	if _, ok := p.Resolve(h); ok {
		t.Fatal("stale handle must not resolve after release")
	}
}

// TestPoolExhaustion verifies the pool rejects allocation beyond capacity
// and recovers after a release.
func TestPoolExhaustion(t *testing.T) {
	const capacity = 8
	p := NewPool(capacity)

	slots := make([]int, 0, capacity)
	for i := 0; i < capacity; i++ {
		idx, err := p.Allocate()
		if err != nil {
			t.Fatalf("allocation %d failed: %v", i, err)
		}
		slots = append(slots, idx)
	}

	if _, err := p.Allocate(); err == nil {
		t.Fatal("allocation beyond capacity must fail")
	}

	released := slots[3]
	gen := p.Generation(released)
	p.Release(released)

	idx, err := p.Allocate()
	if err != nil {
		t.Fatalf("allocation after release failed: %v", err)
	}
	if idx != released {
		t.Errorf("expected recycled slot %d, got %d", released, idx)
	}
	if got := p.Generation(idx); got != gen+1 {
		t.Errorf("expected generation %d on recycled slot, got %d", gen+1, got)
	}
}

// TestPoolHandleABA verifies a handle from a previous generation never
// resolves to the recycled slot.
func TestPoolHandleABA(t *testing.T) {
	p := NewPool(4)

	idx, _ := p.Allocate()
	stale := p.Handle(idx)

	p.Release(idx)
	idx2, _ := p.Allocate()
	if idx2 != idx {
		t.Fatalf("expected LIFO reuse of slot %d, got %d", idx, idx2)
	}

	if _, ok := p.Resolve(stale); ok {
		t.Fatal("stale handle resolved to a recycled slot")
	}
	fresh := p.Handle(idx2)
	if got, ok := p.Resolve(fresh); !ok || got != idx2 {
		t.Fatalf("fresh handle should resolve to %d, got %d (ok=%v)", idx2, got, ok)
	}
	if stale == fresh {
		t.Fatal("stale and fresh handles must differ")
	}
}

// TestPoolDoubleRelease verifies releasing twice is a no-op and bumps the
// generation exactly once.
func TestPoolDoubleRelease(t *testing.T) {
	p := NewPool(4)

	idx, _ := p.Allocate()
	gen := p.Generation(idx)

	p.Release(idx)
	p.Release(idx) // second release must be ignored

	if got := p.Generation(idx); got != gen+1 {
		t.Errorf("generation bumped %d times, want exactly once", got-gen)
	}

	live, free, never := p.Counts()
	if live != 0 {
		t.Errorf("live = %d, want 0", live)
	}
	if free+never != 4 {
		t.Errorf("free+never = %d, want 4", free+never)
	}
}

// TestPoolActiveSwapRemove verifies the active list stays dense across
// out-of-order releases.
func TestPoolActiveSwapRemove(t *testing.T) {
	p := NewPool(8)

	var idxs []int
	for i := 0; i < 5; i++ {
		idx, _ := p.Allocate()
		idxs = append(idxs, idx)
	}

	p.Release(idxs[1])
	p.Release(idxs[3])

	active := p.Active()
	if len(active) != 3 {
		t.Fatalf("active length = %d, want 3", len(active))
	}
	seen := map[uint16]bool{}
	for _, id := range active {
		if !p.Live(int(id)) {
			t.Errorf("active list contains dead slot %d", id)
		}
		if seen[id] {
			t.Errorf("active list contains duplicate slot %d", id)
		}
		seen[id] = true
	}
}

// TestPoolGenerationWrap verifies generation wraparound keeps working
// instead of sticking or overflowing into the index bits.
func TestPoolGenerationWrap(t *testing.T) {
	p := NewPool(2)

	idx, _ := p.Allocate()
	for i := 0; i < 70000; i++ {
		p.Release(idx)
		idx2, err := p.Allocate()
		if err != nil {
			t.Fatalf("cycle %d: %v", i, err)
		}
		if idx2 != idx {
			t.Fatalf("cycle %d: slot changed from %d to %d", i, idx, idx2)
		}
	}

	h := p.Handle(idx)
	if h.Index() != idx {
		t.Errorf("handle index corrupted after wrap: %d", h.Index())
	}
	if got, ok := p.Resolve(h); !ok || got != idx {
		t.Errorf("handle must resolve after generation wrap")
	}
}
