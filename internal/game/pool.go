package game

import "errors"

// Handle is a generation-qualified entity reference: (generation << 16) | index.
// A handle stays resolvable only while the slot's generation matches, which
// makes stale references to recycled slots (the ABA problem) fail explicitly
// instead of mutating whatever entity lives there now.
type Handle uint32

// InvalidHandle never resolves: index 0 only resolves at generation 0, and a
// released slot 0 has moved past it.
const InvalidHandle Handle = 0xFFFF_FFFF

// Index returns the store slot encoded in the handle.
func (h Handle) Index() int { return int(uint32(h) & 0xFFFF) }

// Generation returns the generation counter encoded in the handle.
func (h Handle) Generation() uint16 { return uint16(uint32(h) >> 16) }

// ErrPoolExhausted is returned by Allocate when every slot is live.
var ErrPoolExhausted = errors.New("entity pool exhausted")

// Pool is a fixed-capacity index allocator with generation counters.
//
// Two disjoint sources feed allocation: a LIFO free list of released slots
// (preferred, generation already bumped on release) and a monotonic `next`
// cursor over never-used slots. The pool also maintains the flat active list
// used for O(N) iteration each tick; removal is swap-with-last.
//
// The pool is owned by the room tick. It is NOT safe for concurrent use.
type Pool struct {
	capacity    int
	next        int      // first never-used slot
	free        []uint16 // LIFO of released slots
	generations []uint16
	active      []uint16
	activePos   []int32 // slot -> position in active, -1 when not live
}

// NewPool creates a pool with the given capacity. Capacity is capped at
// 65536 because indices travel as u16 on the wire.
func NewPool(capacity int) *Pool {
	if capacity <= 0 || capacity > 1<<16 {
		capacity = 1 << 12
	}
	p := &Pool{
		capacity:    capacity,
		free:        make([]uint16, 0, capacity),
		generations: make([]uint16, capacity),
		active:      make([]uint16, 0, capacity),
		activePos:   make([]int32, capacity),
	}
	for i := range p.activePos {
		p.activePos[i] = -1
	}
	return p
}

// Allocate returns a live slot index, preferring recycled slots.
// The generation for a recycled slot was already bumped by Release, so the
// returned slot's handle differs from every handle issued for it before.
func (p *Pool) Allocate() (int, error) {
	var idx int
	if n := len(p.free); n > 0 {
		idx = int(p.free[n-1])
		p.free = p.free[:n-1]
	} else if p.next < p.capacity {
		idx = p.next
		p.next++
	} else {
		return -1, ErrPoolExhausted
	}

	p.activePos[idx] = int32(len(p.active))
	p.active = append(p.active, uint16(idx))
	return idx, nil
}

// Release returns a slot to the free list and bumps its generation so every
// outstanding handle for it stops resolving. Releasing a slot that is not
// live is a no-op; the generation bumps exactly once per release.
func (p *Pool) Release(idx int) {
	if idx < 0 || idx >= p.capacity {
		return
	}
	pos := p.activePos[idx]
	if pos < 0 {
		return // already released (or never allocated)
	}

	// Swap-with-last removal from the active list.
	last := len(p.active) - 1
	moved := p.active[last]
	p.active[pos] = moved
	p.activePos[moved] = pos
	p.active = p.active[:last]
	p.activePos[idx] = -1

	p.generations[idx]++ // wraps at 2^16, accepted
	p.free = append(p.free, uint16(idx))
}

// Handle returns the current generation-qualified handle for a slot.
func (p *Pool) Handle(idx int) Handle {
	return Handle(uint32(p.generations[idx])<<16 | uint32(idx))
}

// Resolve returns the slot for a handle, or ok=false when the handle is out
// of range or references a recycled slot.
func (p *Pool) Resolve(h Handle) (int, bool) {
	idx := h.Index()
	if idx >= p.capacity {
		return -1, false
	}
	if p.generations[idx] != h.Generation() {
		return -1, false
	}
	if p.activePos[idx] < 0 {
		return -1, false
	}
	return idx, true
}

// Active returns the flat list of live slots. The slice is owned by the pool
// and mutated by Allocate/Release; callers must not retain it across ticks.
func (p *Pool) Active() []uint16 { return p.active }

// Live reports whether a slot is currently allocated.
func (p *Pool) Live(idx int) bool {
	return idx >= 0 && idx < p.capacity && p.activePos[idx] >= 0
}

// Generation exposes the slot's current generation counter.
func (p *Pool) Generation(idx int) uint16 { return p.generations[idx] }

// Capacity returns the fixed pool size.
func (p *Pool) Capacity() int { return p.capacity }

// Counts returns (live, free, neverUsed); the three partitions always sum to
// the capacity.
func (p *Pool) Counts() (live, free, neverUsed int) {
	return len(p.active), len(p.free), p.capacity - p.next
}
