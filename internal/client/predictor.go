package client

import (
	"math"

	"prism-arena/internal/game"
	"prism-arena/internal/protocol"
)

// Predictor applies the player's inputs locally the moment they are sent
// and reconciles against every authoritative snapshot: rewind to the
// server state, drop acknowledged inputs, replay the rest.
type Predictor struct {
	world *World

	pending []pendingInput // ordered by seq, oldest first
	cap     int
	nextSeq uint32

	// reconcileThreshold is the error distance (world units) above which
	// the correction snaps instead of being smoothed away.
	reconcileThreshold float64

	// Visual smoothing offset: the renderer adds this to the predicted
	// position; it decays toward zero so small corrections are invisible.
	smoothX, smoothY float64

	lastError float64
}

type pendingInput struct {
	seq uint32
	msg protocol.InputMsg
}

// NewPredictor creates a predictor over the local world.
func NewPredictor(w *World, pendingCap int, reconcileThreshold float64) *Predictor {
	if pendingCap < 1 {
		pendingCap = 256
	}
	return &Predictor{
		world:              w,
		pending:            make([]pendingInput, 0, pendingCap),
		cap:                pendingCap,
		nextSeq:            1,
		reconcileThreshold: reconcileThreshold,
	}
}

// Apply stamps the input with the next sequence number, advances the local
// entity one step with it, and records it for replay. Returns the stamped
// message for sending.
func (p *Predictor) Apply(msg protocol.InputMsg) protocol.InputMsg {
	msg.Seq = p.nextSeq
	p.nextSeq++
	if p.nextSeq >= 1<<31 {
		p.nextSeq = 1
	}

	i := p.world.LocalIndex()
	if i < 0 {
		return msg
	}

	var actions uint32
	if msg.Space {
		actions |= game.ActionSpace
	}
	if msg.Eject {
		actions |= game.ActionEject
	}
	p.world.Stores.SetInput(i, msg.TargetX, msg.TargetY, actions)
	game.PredictStep(p.world.Stores, i, p.world.Params)

	// Ring behavior: when full, the oldest entry falls off. It would have
	// been acknowledged long ago on any healthy connection.
	if len(p.pending) >= p.cap {
		p.pending = p.pending[1:]
	}
	p.pending = append(p.pending, pendingInput{seq: msg.Seq, msg: msg})
	return msg
}

// Reconcile processes the authoritative state for our entity from a
// snapshot: adopt the server position, drop inputs the server has seen
// (ack carries the low 16 bits of the last processed seq), and replay the
// unacknowledged remainder.
func (p *Predictor) Reconcile(e protocol.Entity) {
	i := p.world.LocalIndex()
	if i < 0 || int(e.Index) != i {
		return
	}

	prevX, prevY := p.world.Stores.Pos(i)

	// Drop everything at or before the ack. Comparison is on the low 16
	// bits with wraparound, signed-difference style.
	n := 0
	for _, pi := range p.pending {
		if seq16After(uint16(pi.seq), e.LastSeq) {
			p.pending[n] = pi
			n++
		}
	}
	p.pending = p.pending[:n]

	// Rewind to the server's authoritative state.
	p.world.SetLocalState(float64(e.X), float64(e.Y), float64(e.VX), float64(e.VY))

	// Replay unacknowledged inputs on top of it.
	for _, pi := range p.pending {
		var actions uint32
		if pi.msg.Space {
			actions |= game.ActionSpace
		}
		if pi.msg.Eject {
			actions |= game.ActionEject
		}
		p.world.Stores.SetInput(i, pi.msg.TargetX, pi.msg.TargetY, actions)
		game.PredictStep(p.world.Stores, i, p.world.Params)
	}

	newX, newY := p.world.Stores.Pos(i)
	errX, errY := prevX-newX, prevY-newY
	p.lastError = math.Hypot(errX, errY)

	if p.lastError <= p.reconcileThreshold {
		// Small divergence: fold it into the smoothing offset so the
		// render position glides instead of popping.
		p.smoothX += errX
		p.smoothY += errY
	} else {
		// Large divergence (teleport, correction): snap.
		p.smoothX = 0
		p.smoothY = 0
	}
}

// RenderPos returns the smoothed position for drawing: predicted state plus
// the decaying correction offset.
func (p *Predictor) RenderPos() (x, y float64) {
	px, py := p.world.LocalPos()
	return px + p.smoothX, py + p.smoothY
}

// DecaySmoothing shrinks the correction offset; call once per render frame.
func (p *Predictor) DecaySmoothing(dt float64) {
	// Exponential decay, ~90% gone after a quarter second.
	k := math.Pow(0.0001, dt/0.25)
	p.smoothX *= k
	p.smoothY *= k
	if math.Abs(p.smoothX) < 1e-3 {
		p.smoothX = 0
	}
	if math.Abs(p.smoothY) < 1e-3 {
		p.smoothY = 0
	}
}

// PendingCount returns how many inputs await acknowledgment.
func (p *Predictor) PendingCount() int { return len(p.pending) }

// LastError returns the divergence measured by the latest reconciliation.
func (p *Predictor) LastError() float64 { return p.lastError }

// seq16After reports whether a comes strictly after b in 16-bit sequence
// space, treating the difference as signed so wraparound works.
func seq16After(a, b uint16) bool {
	return int16(a-b) > 0
}
