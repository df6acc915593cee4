package game

import (
	"log/slog"
	"math"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"prism-arena/internal/config"
	"prism-arena/internal/protocol"
)

// Mailbox is the single-slot, latest-wins input channel between a session's
// connection reader and the tick. Any number of producers may Put; the tick
// is the only consumer and Take atomically claims-and-clears the slot, so a
// queued input can never be applied twice.
type Mailbox struct {
	slot atomic.Pointer[protocol.InputMsg]
}

// Put publishes an input, replacing any not-yet-consumed one.
func (m *Mailbox) Put(msg protocol.InputMsg) {
	m.slot.Store(&msg)
}

// Take removes and returns the pending input, if any.
func (m *Mailbox) Take() (protocol.InputMsg, bool) {
	p := m.slot.Swap(nil)
	if p == nil {
		return protocol.InputMsg{}, false
	}
	return *p, true
}

// Drop reasons, bounded set (metric label values).
const (
	DropRate    = "rate_limit"
	DropSeqDup  = "seq_duplicate"
	DropSeqJump = "seq_jump"
	DropSize    = "oversize"
	DropParse   = "parse"
	DropHandle  = "handle_mismatch"
)

// Sequence numbers are normalized modulo 2^31 on write and compared
// strictly-greater, rolling the last-seen value forward across the wrap
// window.
const (
	seqMod        = uint32(1) << 31
	seqWrapWindow = uint32(1) << 16
)

const dropLogEvery = 20 // log 1 out of this many drops per session

// Intake validates one session's input stream: rate limit, sequence
// discipline, bounds clamping. It also tracks the escalation heuristics
// (drop ratio, repeated sequence jumps) that trigger a position correction.
//
// Owned by the tick except for the mailbox, which producers write.
type Intake struct {
	Box    Mailbox
	Handle Handle // entity the session currently drives; refreshed on mismatch

	cfg     config.IntakeConfig
	limiter *rate.Limiter
	log     *slog.Logger

	lastSeq uint32

	// Rolling 10s escalation window.
	windowStart   time.Time
	windowAccepts int
	windowDrops   int
	seqJumps      int

	drops uint64 // total, for throttled logging
}

// NewIntake creates the validation state for one session. The token bucket
// refills RateLimitMax tokens per RateLimitWindow and bursts to the full
// window budget.
func NewIntake(cfg config.IntakeConfig, h Handle, log *slog.Logger) *Intake {
	window := cfg.RateLimitWindow
	if window <= 0 {
		window = time.Second
	}
	max := cfg.RateLimitMax
	if max <= 0 {
		max = 1
	}
	return &Intake{
		Handle:      h,
		cfg:         cfg,
		limiter:     rate.NewLimiter(rate.Every(window/time.Duration(max)), max),
		log:         log,
		windowStart: time.Now(),
	}
}

// Validate checks one message and returns the normalized form. On failure
// the reason names which bound was violated; the frame is dropped, never the
// connection.
func (in *Intake) Validate(msg protocol.InputMsg, mapRadius float64, now time.Time) (protocol.InputMsg, string) {
	in.rollWindow(now)

	if !in.limiter.AllowN(now, 1) {
		return msg, in.reject(DropRate)
	}

	seq := msg.Seq % seqMod
	last := in.lastSeq

	wrapped := last > seqMod-seqWrapWindow && seq < seqWrapWindow
	if !wrapped {
		if seq <= last {
			return msg, in.reject(DropSeqDup)
		}
		if seq-last > in.cfg.MaxSequenceJump {
			in.seqJumps++
			return msg, in.reject(DropSeqJump)
		}
	}
	in.lastSeq = seq
	msg.Seq = seq

	// Targets clamp rather than drop; NaN/Inf collapse to the center.
	msg.TargetX = clampFinite(msg.TargetX, mapRadius)
	msg.TargetY = clampFinite(msg.TargetY, mapRadius)

	in.windowAccepts++
	return msg, ""
}

// reject records a drop and emits a throttled debug log.
func (in *Intake) reject(reason string) string {
	in.windowDrops++
	in.drops++
	if in.drops%dropLogEvery == 1 && in.log != nil {
		in.log.Debug("input dropped", "reason", reason, "total_drops", in.drops)
	}
	return reason
}

// NoteDrop records an externally detected drop (parse error, oversize,
// handle mismatch) in the escalation window.
func (in *Intake) NoteDrop(reason string) {
	in.reject(reason)
}

// LastSeq returns the last processed sequence for the ack field.
func (in *Intake) LastSeq() uint32 { return in.lastSeq }

// ShouldCorrect reports whether the escalation heuristics ask for a
// position-correction broadcast: over half of the window's messages were
// dropped, or the session keeps jumping sequences.
func (in *Intake) ShouldCorrect() bool {
	total := in.windowAccepts + in.windowDrops
	if total >= 20 && in.windowDrops*2 > total {
		return true
	}
	return in.seqJumps >= 3
}

func (in *Intake) rollWindow(now time.Time) {
	if now.Sub(in.windowStart) < 10*time.Second {
		return
	}
	in.windowStart = now
	in.windowAccepts = 0
	in.windowDrops = 0
	in.seqJumps = 0
}

func clampFinite(v, bound float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return math.Max(-bound, math.Min(bound, v))
}
