package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleFrame() *Frame {
	return &Frame{
		GameTime: 12.5,
		Entities: []Entity{
			{Index: 0, X: 1.5, Y: -2.25, VX: 10, VY: -20, LastSeq: 42},
			{Index: 7, X: -1999.5, Y: 0, VX: 0, VY: 150, LastSeq: 0},
			{Index: 65535, X: 0, Y: 0, VX: -0.001, VY: 0.001, LastSeq: 65535},
		},
	}
}

// TestFrameRoundTrip verifies encode/parse preserves every field, with and
// without the CRC trailer.
func TestFrameRoundTrip(t *testing.T) {
	for _, withCRC := range []bool{false, true} {
		name := "no_crc"
		if withCRC {
			name = "crc"
		}
		t.Run(name, func(t *testing.T) {
			f := sampleFrame()
			buf, err := AppendFrame(nil, f, withCRC)
			require.NoError(t, err)
			assert.Equal(t, FrameSize(len(f.Entities), withCRC), len(buf))

			var got Frame
			require.NoError(t, ParseFrame(buf, &got, withCRC))
			assert.Equal(t, f.GameTime, got.GameTime)
			assert.Equal(t, f.Entities, got.Entities)
		})
	}
}

// TestFrameEmptyRoundTrip verifies a zero-entity frame is valid.
func TestFrameEmptyRoundTrip(t *testing.T) {
	f := &Frame{GameTime: 1}
	buf, err := AppendFrame(nil, f, false)
	require.NoError(t, err)

	var got Frame
	require.NoError(t, ParseFrame(buf, &got, false))
	assert.Empty(t, got.Entities)
}

// TestParseFrameTruncation verifies every prefix of a valid frame is
// rejected rather than misread.
func TestParseFrameTruncation(t *testing.T) {
	buf, err := AppendFrame(nil, sampleFrame(), false)
	require.NoError(t, err)

	var got Frame
	for n := 0; n < len(buf); n++ {
		assert.Error(t, ParseFrame(buf[:n], &got, false), "prefix of %d bytes accepted", n)
	}
}

// TestParseFrameBadType verifies an unknown packet type is rejected.
func TestParseFrameBadType(t *testing.T) {
	buf, _ := AppendFrame(nil, sampleFrame(), false)
	buf[0] = 0xFF

	var got Frame
	assert.ErrorIs(t, ParseFrame(buf, &got, false), ErrBadType)
}

// TestParseFrameCRCMismatch verifies a flipped payload bit fails the CRC.
func TestParseFrameCRCMismatch(t *testing.T) {
	buf, _ := AppendFrame(nil, sampleFrame(), true)
	buf[10] ^= 0x01

	var got Frame
	assert.ErrorIs(t, ParseFrame(buf, &got, true), ErrCRC)
}

// TestParseFrameCountMismatch verifies a count that disagrees with the body
// length is rejected in both directions.
func TestParseFrameCountMismatch(t *testing.T) {
	buf, _ := AppendFrame(nil, sampleFrame(), false)

	var got Frame

	// Count claims one more entity than the body carries.
	over := append([]byte(nil), buf...)
	over[5]++
	assert.ErrorIs(t, ParseFrame(over, &got, false), ErrEntityOver)

	// Count claims one fewer.
	under := append([]byte(nil), buf...)
	under[5]--
	assert.ErrorIs(t, ParseFrame(under, &got, false), ErrEntityOver)
}

// TestParseFrameTooLarge verifies the hard size bound.
func TestParseFrameTooLarge(t *testing.T) {
	var got Frame
	assert.ErrorIs(t, ParseFrame(make([]byte, MaxFrameBytes+1), &got, false), ErrTooLarge)
}

// TestParseFrameReusesBuffer verifies parsing into a warm Frame does not
// reallocate its entity slice.
func TestParseFrameReusesBuffer(t *testing.T) {
	buf, _ := AppendFrame(nil, sampleFrame(), false)

	got := Frame{Entities: make([]Entity, 0, 16)}
	require.NoError(t, ParseFrame(buf, &got, false))
	first := &got.Entities[0]

	require.NoError(t, ParseFrame(buf, &got, false))
	assert.Same(t, first, &got.Entities[0], "entity slice was reallocated")
}

// TestAppendFrameRecyclesBuffer verifies encoding into a recycled slice
// appends from its length.
func TestAppendFrameRecyclesBuffer(t *testing.T) {
	f := sampleFrame()
	buf := make([]byte, 0, 256)

	out, err := AppendFrame(buf, f, false)
	require.NoError(t, err)
	assert.Equal(t, FrameSize(len(f.Entities), false), len(out))

	var got Frame
	require.NoError(t, ParseFrame(out, &got, false))
	assert.Equal(t, f.Entities, got.Entities)
}
