// Package protocol defines the wire formats between server and clients:
// the inbound JSON INPUT message and the outbound binary indexed transform
// frame. All binary fields are little-endian.
package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"math"
)

// Packet types.
const (
	PacketSnapshot byte = 0x01
)

const (
	headerSize    = 7  // u8 type + f32 gameTime + u16 count
	entitySize    = 20 // u16 index + 4*f32 + u16 lastSeq
	crcSize       = 4
	MaxFrameBytes = 1 << 20 // hard bound on any frame we will parse
)

var (
	ErrTruncated  = errors.New("protocol: frame truncated")
	ErrBadType    = errors.New("protocol: unexpected packet type")
	ErrCRC        = errors.New("protocol: crc mismatch")
	ErrTooLarge   = errors.New("protocol: frame exceeds size bound")
	ErrEntityOver = errors.New("protocol: entity count exceeds frame size")
)

// InputMsg is the single inbound message type. Clients send it as JSON over
// the websocket text channel at up to 60 Hz.
type InputMsg struct {
	Seq     uint32  `json:"seq"`
	TargetX float64 `json:"targetX"`
	TargetY float64 `json:"targetY"`
	Space   bool    `json:"space"`
	Eject   bool    `json:"eject"`
}

// JoinOptions is the optional payload on the join request. Unknown fields
// are ignored by the JSON decoder.
type JoinOptions struct {
	Name    string   `json:"name,omitempty"`
	Shape   string   `json:"shape,omitempty"` // circle, square, triangle, hex
	Pigment *Pigment `json:"pigment,omitempty"`
}

// Pigment is an RGB triple in [0,1].
type Pigment struct {
	R float64 `json:"r"`
	G float64 `json:"g"`
	B float64 `json:"b"`
}

// JoinAck tells a client which store slot is theirs and the integration
// constants it must predict with. Sent as JSON once, before any snapshot.
type JoinAck struct {
	Type      string  `json:"type"` // "join_ack"
	Index     uint16  `json:"index"`
	TickRate  int     `json:"tickRate"`
	MapRadius float64 `json:"mapRadius"`
	MaxSpeed  float64 `json:"maxSpeed"`
	Accel     float64 `json:"accel"`
	CRC       bool    `json:"crc"`
}

// StatusMsg announces room lifecycle transitions (e.g. "offline" on
// disposal) on the JSON channel.
type StatusMsg struct {
	Type   string `json:"type"` // "status"
	Status string `json:"status"`
}

// Entity is one indexed transform record. Index is the store slot, not the
// generation-qualified handle; LastSeq is the last input sequence the server
// processed for that player (0 for non-player entities).
type Entity struct {
	Index   uint16
	X, Y    float32
	VX, VY  float32
	LastSeq uint16
}

// Frame is one tick's snapshot of every active entity.
type Frame struct {
	GameTime float32
	Entities []Entity
}

// AppendFrame encodes the frame into buf (which may be nil or recycled) and
// returns the extended slice. When withCRC is set a crc32 (IEEE) of the
// preceding bytes is appended as the trailer.
func AppendFrame(buf []byte, f *Frame, withCRC bool) ([]byte, error) {
	if len(f.Entities) > math.MaxUint16 {
		return buf, fmt.Errorf("%w: %d entities", ErrTooLarge, len(f.Entities))
	}
	start := len(buf)

	buf = append(buf, PacketSnapshot)
	buf = binary.LittleEndian.AppendUint32(buf, math.Float32bits(f.GameTime))
	buf = binary.LittleEndian.AppendUint16(buf, uint16(len(f.Entities)))

	for i := range f.Entities {
		e := &f.Entities[i]
		buf = binary.LittleEndian.AppendUint16(buf, e.Index)
		buf = binary.LittleEndian.AppendUint32(buf, math.Float32bits(e.X))
		buf = binary.LittleEndian.AppendUint32(buf, math.Float32bits(e.Y))
		buf = binary.LittleEndian.AppendUint32(buf, math.Float32bits(e.VX))
		buf = binary.LittleEndian.AppendUint32(buf, math.Float32bits(e.VY))
		buf = binary.LittleEndian.AppendUint16(buf, e.LastSeq)
	}

	if withCRC {
		sum := crc32.ChecksumIEEE(buf[start:])
		buf = binary.LittleEndian.AppendUint32(buf, sum)
	}
	return buf, nil
}

// ParseFrame decodes a snapshot frame. Every field read is bounds-checked;
// any overrun rejects the whole frame. The entities slice in dst is reused
// when its capacity allows, so a caller can hold one Frame per connection
// and parse into it allocation-free.
func ParseFrame(data []byte, dst *Frame, withCRC bool) error {
	if len(data) > MaxFrameBytes {
		return ErrTooLarge
	}
	body := data
	if withCRC {
		if len(data) < crcSize {
			return ErrTruncated
		}
		body = data[:len(data)-crcSize]
		want := binary.LittleEndian.Uint32(data[len(data)-crcSize:])
		if crc32.ChecksumIEEE(body) != want {
			return ErrCRC
		}
	}

	if len(body) < headerSize {
		return ErrTruncated
	}
	if body[0] != PacketSnapshot {
		return fmt.Errorf("%w: 0x%02x", ErrBadType, body[0])
	}
	dst.GameTime = math.Float32frombits(binary.LittleEndian.Uint32(body[1:5]))
	count := int(binary.LittleEndian.Uint16(body[5:7]))

	if len(body) != headerSize+count*entitySize {
		return ErrEntityOver
	}

	if cap(dst.Entities) >= count {
		dst.Entities = dst.Entities[:count]
	} else {
		dst.Entities = make([]Entity, count)
	}

	off := headerSize
	for i := 0; i < count; i++ {
		e := &dst.Entities[i]
		e.Index = binary.LittleEndian.Uint16(body[off:])
		e.X = math.Float32frombits(binary.LittleEndian.Uint32(body[off+2:]))
		e.Y = math.Float32frombits(binary.LittleEndian.Uint32(body[off+6:]))
		e.VX = math.Float32frombits(binary.LittleEndian.Uint32(body[off+10:]))
		e.VY = math.Float32frombits(binary.LittleEndian.Uint32(body[off+14:]))
		e.LastSeq = binary.LittleEndian.Uint16(body[off+18:])
		off += entitySize
	}
	return nil
}

// FrameSize returns the encoded size of a frame with n entities.
func FrameSize(n int, withCRC bool) int {
	size := headerSize + n*entitySize
	if withCRC {
		size += crcSize
	}
	return size
}
