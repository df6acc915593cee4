// Package client implements the game client's netcode: local prediction for
// the player's own entity, reconciliation against authoritative snapshots,
// and delayed interpolation for remote entities.
package client

import (
	"prism-arena/internal/game"
	"prism-arena/internal/protocol"
)

// World is the client's local copy of the simulation state. It reuses the
// server's component stores and integration functions so replayed
// prediction is bit-compatible with the authoritative tick.
type World struct {
	Stores *game.Stores
	Params game.StepParams

	localIndex int // the slot the server assigned us; -1 before join_ack
}

// NewWorld allocates client stores at the given capacity (the server's
// entity pool size, or a safe upper bound).
func NewWorld(capacity int) *World {
	return &World{
		Stores:     game.NewStores(capacity),
		localIndex: -1,
	}
}

// ApplyJoinAck records the assigned slot and the integration constants the
// server told us to predict with.
func (w *World) ApplyJoinAck(ack protocol.JoinAck) {
	w.localIndex = int(ack.Index)
	w.Params = game.StepParams{
		Dt:        1.0 / float64(ack.TickRate),
		MapRadius: ack.MapRadius,
		Accel:     ack.Accel,
		SpeedCap:  ack.MaxSpeed * 1.5, // generous local cap; the server enforces the real one
	}

	s := w.Stores
	s.SetFlags(w.localIndex, game.FlagActive|game.FlagPlayer)
	s.Cf(w.localIndex)[game.CfMaxSpeed] = float32(ack.MaxSpeed)
	s.Cf(w.localIndex)[game.CfSpeedMul] = 1
}

// LocalIndex returns our slot, or -1 before the join ack.
func (w *World) LocalIndex() int { return w.localIndex }

// SetLocalState force-writes the local entity's transform, used when the
// server sends a position correction or the first snapshot arrives.
func (w *World) SetLocalState(x, y, vx, vy float64) {
	if w.localIndex < 0 {
		return
	}
	w.Stores.SetPos(w.localIndex, x, y)
	w.Stores.SetVel(w.localIndex, vx, vy)
}

// LocalPos returns the predicted position of our entity.
func (w *World) LocalPos() (x, y float64) {
	if w.localIndex < 0 {
		return 0, 0
	}
	return w.Stores.Pos(w.localIndex)
}
