package client

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"prism-arena/internal/protocol"
)

func frameAt(gameTime float32, ents ...protocol.Entity) *protocol.Frame {
	return &protocol.Frame{GameTime: gameTime, Entities: ents}
}

// TestInterpLerpMidpoint verifies the sample halfway between two snapshots
// is the exact midpoint of the bracketing positions.
func TestInterpLerpMidpoint(t *testing.T) {
	ip := NewInterpolator(20, 100*time.Millisecond)
	t0 := time.Now()

	ip.Push(frameAt(1.0, protocol.Entity{Index: 2, X: 100, Y: 0}), t0)
	ip.Push(frameAt(1.05, protocol.Entity{Index: 2, X: 200, Y: 50}), t0.Add(50*time.Millisecond))

	// Render time t0+25ms falls halfway between the two arrivals.
	got := ip.Sample(t0.Add(125*time.Millisecond), -1, nil)
	require.Len(t, got, 1)
	assert.Equal(t, uint16(2), got[0].Index)
	assert.InDelta(t, 150, got[0].X, 1e-4)
	assert.InDelta(t, 25, got[0].Y, 1e-4)
}

// TestInterpBracketEndpoints verifies sampling exactly at a snapshot's
// arrival returns that snapshot's position.
func TestInterpBracketEndpoints(t *testing.T) {
	ip := NewInterpolator(20, 100*time.Millisecond)
	t0 := time.Now()

	ip.Push(frameAt(1.0, protocol.Entity{Index: 1, X: 10}), t0)
	ip.Push(frameAt(1.05, protocol.Entity{Index: 1, X: 20}), t0.Add(50*time.Millisecond))

	got := ip.Sample(t0.Add(100*time.Millisecond), -1, nil)
	require.Len(t, got, 1)
	assert.InDelta(t, 10, got[0].X, 1e-4, "render time at the older frame")

	got = ip.Sample(t0.Add(149*time.Millisecond), -1, got[:0])
	require.Len(t, got, 1)
	assert.InDelta(t, 19.8, got[0].X, 0.05, "render time just before the newer frame")
}

// TestInterpHoldNewestOnStall verifies that when snapshots stop arriving the
// sampler holds the newest state instead of extrapolating.
func TestInterpHoldNewestOnStall(t *testing.T) {
	ip := NewInterpolator(20, 100*time.Millisecond)
	t0 := time.Now()

	ip.Push(frameAt(1.0, protocol.Entity{Index: 4, X: 10}), t0)
	ip.Push(frameAt(1.05, protocol.Entity{Index: 4, X: 20}), t0.Add(50*time.Millisecond))

	// Two seconds later with no new frames, render time is far past the
	// newest arrival.
	got := ip.Sample(t0.Add(2*time.Second), -1, nil)
	require.Len(t, got, 1)
	assert.Equal(t, float32(20), got[0].X, "stall must hold the newest position")
}

// TestInterpPopIn verifies an entity present only in the newer frame appears
// at its new position instead of sliding from zero.
func TestInterpPopIn(t *testing.T) {
	ip := NewInterpolator(20, 100*time.Millisecond)
	t0 := time.Now()

	ip.Push(frameAt(1.0, protocol.Entity{Index: 1, X: 0}), t0)
	ip.Push(frameAt(1.05,
		protocol.Entity{Index: 1, X: 10},
		protocol.Entity{Index: 9, X: 500, Y: 500},
	), t0.Add(50*time.Millisecond))

	got := ip.Sample(t0.Add(125*time.Millisecond), -1, nil)
	require.Len(t, got, 2)

	var newcomer *InterpEntity
	for i := range got {
		if got[i].Index == 9 {
			newcomer = &got[i]
		}
	}
	require.NotNil(t, newcomer, "new entity missing from sample")
	assert.Equal(t, float32(500), newcomer.X)
	assert.Equal(t, float32(500), newcomer.Y)
}

// TestInterpExcludesLocal verifies the locally predicted entity is skipped.
func TestInterpExcludesLocal(t *testing.T) {
	ip := NewInterpolator(20, 100*time.Millisecond)
	t0 := time.Now()

	ip.Push(frameAt(1.0,
		protocol.Entity{Index: 3, X: 1},
		protocol.Entity{Index: 5, X: 2},
	), t0)
	ip.Push(frameAt(1.05,
		protocol.Entity{Index: 3, X: 11},
		protocol.Entity{Index: 5, X: 12},
	), t0.Add(50*time.Millisecond))

	got := ip.Sample(t0.Add(125*time.Millisecond), 3, nil)
	require.Len(t, got, 1)
	assert.Equal(t, uint16(5), got[0].Index)
}

// TestInterpRingOverwrite verifies old frames fall off a full ring and the
// newest survive.
func TestInterpRingOverwrite(t *testing.T) {
	ip := NewInterpolator(4, 100*time.Millisecond)
	t0 := time.Now()

	for i := 0; i < 10; i++ {
		ip.Push(
			frameAt(float32(i), protocol.Entity{Index: 1, X: float32(i * 10)}),
			t0.Add(time.Duration(i)*50*time.Millisecond),
		)
	}
	assert.Equal(t, 4, ip.Count())

	// Render time between the two newest surviving frames (i=8 at 400ms and
	// i=9 at 450ms): 425ms arrival time, so sample at +100ms delay.
	got := ip.Sample(t0.Add(525*time.Millisecond), -1, nil)
	require.Len(t, got, 1)
	assert.InDelta(t, 85, got[0].X, 1e-4)
}

// TestInterpEmpty verifies sampling an empty buffer returns dst unchanged.
func TestInterpEmpty(t *testing.T) {
	ip := NewInterpolator(20, 100*time.Millisecond)
	got := ip.Sample(time.Now(), -1, nil)
	assert.Empty(t, got)
}

// TestInterpPushCopiesEntities verifies the caller's frame buffer can be
// reused after Push.
func TestInterpPushCopiesEntities(t *testing.T) {
	ip := NewInterpolator(20, 100*time.Millisecond)
	t0 := time.Now()

	f := frameAt(1.0, protocol.Entity{Index: 1, X: 42})
	ip.Push(f, t0)
	f.Entities[0].X = -1 // parse buffer reused for the next packet
	ip.Push(frameAt(1.05, protocol.Entity{Index: 1, X: 50}), t0.Add(50*time.Millisecond))

	got := ip.Sample(t0.Add(100*time.Millisecond), -1, nil)
	require.Len(t, got, 1)
	assert.Equal(t, float32(42), got[0].X, "Push must own a copy of the entities")
}
