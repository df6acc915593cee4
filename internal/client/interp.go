package client

import (
	"time"

	"prism-arena/internal/protocol"
)

// Interpolator renders remote entities a fixed delay in the past, lerping
// between the two snapshots that bracket the render time. The delay trades
// latency for smoothness: as long as consecutive snapshots arrive within
// it, remote motion never stutters.
type Interpolator struct {
	ring  []timedFrame
	head  int // next write position
	count int

	delay time.Duration

	// byIndexA maps entity index to its slice position in the older
	// bracketing frame; rebuilt in place per sample, reused across calls.
	byIndexA map[uint16]int
}

type timedFrame struct {
	recvAt   time.Time
	entities []protocol.Entity // owned copy
	gameTime float32
}

// NewInterpolator creates a buffer of size snapshots rendered delay behind
// arrival time.
func NewInterpolator(size int, delay time.Duration) *Interpolator {
	if size < 2 {
		size = 2
	}
	return &Interpolator{
		ring:     make([]timedFrame, size),
		delay:    delay,
		byIndexA: make(map[uint16]int, 64),
	}
}

// Push stores a snapshot. The frame's entity slice is copied, so the caller
// may reuse its parse buffer.
func (ip *Interpolator) Push(f *protocol.Frame, recvAt time.Time) {
	slot := &ip.ring[ip.head]
	slot.recvAt = recvAt
	slot.gameTime = f.GameTime
	slot.entities = append(slot.entities[:0], f.Entities...)

	ip.head = (ip.head + 1) % len(ip.ring)
	if ip.count < len(ip.ring) {
		ip.count++
	}
}

// InterpEntity is one remote entity's interpolated render state.
type InterpEntity struct {
	Index uint16
	X, Y  float32
}

// Sample appends the interpolated state of every remote entity at
// (now - delay) to dst and returns it. exclude is the local entity's index
// (predicted separately); pass a negative value to include everything.
func (ip *Interpolator) Sample(now time.Time, exclude int, dst []InterpEntity) []InterpEntity {
	if ip.count == 0 {
		return dst
	}
	renderAt := now.Add(-ip.delay)

	older, newer, ok := ip.bracket(renderAt)
	if !ok {
		// Render time is ahead of the newest snapshot (stall): hold the
		// newest rather than extrapolating.
		newest := ip.frameAt(ip.count - 1)
		for i := range newest.entities {
			e := &newest.entities[i]
			if int(e.Index) == exclude {
				continue
			}
			dst = append(dst, InterpEntity{Index: e.Index, X: e.X, Y: e.Y})
		}
		return dst
	}

	span := newer.recvAt.Sub(older.recvAt)
	var t float64
	if span > 0 {
		t = float64(renderAt.Sub(older.recvAt)) / float64(span)
	}
	if t < 0 {
		t = 0
	}
	if t > 1 {
		t = 1
	}

	clear(ip.byIndexA)
	for i := range older.entities {
		ip.byIndexA[older.entities[i].Index] = i
	}

	for i := range newer.entities {
		e := &newer.entities[i]
		if int(e.Index) == exclude {
			continue
		}
		if j, ok := ip.byIndexA[e.Index]; ok {
			o := &older.entities[j]
			dst = append(dst, InterpEntity{
				Index: e.Index,
				X:     o.X + (e.X-o.X)*float32(t),
				Y:     o.Y + (e.Y-o.Y)*float32(t),
			})
		} else {
			// Entity appeared between the two frames: pop in at its new
			// position rather than sliding from somewhere stale.
			dst = append(dst, InterpEntity{Index: e.Index, X: e.X, Y: e.Y})
		}
	}
	return dst
}

// bracket finds the pair of consecutive frames with
// older.recvAt <= renderAt < newer.recvAt.
func (ip *Interpolator) bracket(renderAt time.Time) (older, newer *timedFrame, ok bool) {
	// Walk newest to oldest; frames are ordered by arrival.
	for n := ip.count - 1; n >= 1; n-- {
		f := ip.frameAt(n)
		if !f.recvAt.After(renderAt) {
			break
		}
		prev := ip.frameAt(n - 1)
		if !prev.recvAt.After(renderAt) {
			return prev, f, true
		}
	}
	return nil, nil, false
}

// frameAt returns the n-th oldest buffered frame (0 = oldest).
func (ip *Interpolator) frameAt(n int) *timedFrame {
	idx := (ip.head - ip.count + n + len(ip.ring)) % len(ip.ring)
	return &ip.ring[idx]
}

// Count returns how many snapshots are buffered.
func (ip *Interpolator) Count() int { return ip.count }
