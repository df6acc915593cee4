package game

import (
	"sync/atomic"
	"time"
)

// External snapshot buffer. The component stores are owned by the tick;
// readers outside it (HTTP state endpoint, stats) get a triple-buffered,
// atomically published projection instead of touching live store memory.

// EntitySnapshot is an immutable copy of one active slot. Value types only.
type EntitySnapshot struct {
	Index  uint16
	Flags  uint32
	X, Y   float32
	VX, VY float32
	Radius float32
	HP     float32
	MaxHP  float32
	Score  float32
	Match  float32
	Ring   uint8
	Name   string // empty for non-player entities
}

// RoomSnapshot is one tick's published state for external readers.
type RoomSnapshot struct {
	Sequence    uint64
	Timestamp   time.Time
	Tick        int64
	GameTime    float64
	Entities    []EntitySnapshot
	PlayerCount int
	BotCount    int
	FoodCount   int
}

// SnapshotBuffer pre-allocates three snapshots; the producer (tick) rotates
// through them and publishes the write index atomically, so the consumer
// always reads a complete snapshot without locks.
type SnapshotBuffer struct {
	snaps    [3]RoomSnapshot
	writeIdx atomic.Uint32
	readIdx  atomic.Uint32
	sequence atomic.Uint64
}

// NewSnapshotBuffer pre-allocates entity slices at pool capacity so the
// producer never grows them mid-tick.
func NewSnapshotBuffer(capacity int) *SnapshotBuffer {
	b := &SnapshotBuffer{}
	for i := range b.snaps {
		b.snaps[i].Entities = make([]EntitySnapshot, 0, capacity)
	}
	return b
}

// AcquireWrite returns the next write slot with slices reset but capacity
// preserved. Producer only.
func (b *SnapshotBuffer) AcquireWrite() *RoomSnapshot {
	idx := b.writeIdx.Add(1) % 3
	snap := &b.snaps[idx]
	snap.Entities = snap.Entities[:0]
	snap.PlayerCount = 0
	snap.BotCount = 0
	snap.FoodCount = 0
	snap.Sequence = b.sequence.Add(1)
	snap.Timestamp = time.Now()
	return snap
}

// PublishWrite makes the just-written snapshot visible to readers.
func (b *SnapshotBuffer) PublishWrite() {
	b.readIdx.Store(b.writeIdx.Load())
}

// AcquireRead returns the latest published snapshot. The snapshot stays
// valid until the producer laps the triple buffer; readers should copy what
// they keep.
func (b *SnapshotBuffer) AcquireRead() *RoomSnapshot {
	return &b.snaps[b.readIdx.Load()%3]
}
