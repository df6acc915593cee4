package game

import (
	"math"
	"testing"
	"time"

	"prism-arena/internal/config"
	"prism-arena/internal/protocol"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	tun, err := config.LoadTuning("")
	if err != nil {
		t.Fatalf("load tuning: %v", err)
	}
	sim := config.DefaultSim()
	sim.MaxEntities = 64
	sim.MaxFood = 16
	e := NewEngine(sim, config.DefaultIntake(), config.DefaultRoom(), tun, nil, nil)
	e.Seed(42)
	return e
}

// TestEngineJoinLeave verifies join allocates a live slot and leave
// releases it with a generation bump.
func TestEngineJoinLeave(t *testing.T) {
	e := newTestEngine(t)

	p, err := e.Join("alice", protocol.JoinOptions{Name: "Alice"})
	if err != nil {
		t.Fatalf("Join failed: %v", err)
	}
	if !e.pool.Live(p.Slot()) {
		t.Fatal("joined slot is not live")
	}
	if !e.stores.Has(p.Slot(), FlagActive|FlagPlayer) {
		t.Fatal("joined slot missing ACTIVE|PLAYER flags")
	}

	if _, err := e.Join("alice", protocol.JoinOptions{}); err == nil {
		t.Fatal("duplicate session join must fail")
	}

	h := p.HandleRef()
	e.Leave("alice")
	if e.pool.Live(p.Slot()) {
		t.Fatal("slot still live after leave")
	}
	if _, ok := e.pool.Resolve(h); ok {
		t.Fatal("handle still resolves after leave")
	}
	if e.PlayerCount() != 0 {
		t.Errorf("PlayerCount = %d after leave, want 0", e.PlayerCount())
	}
}

// TestEngineJoinPoolExhausted verifies join rejects cleanly when every slot
// is live.
func TestEngineJoinPoolExhausted(t *testing.T) {
	tun, _ := config.LoadTuning("")
	sim := config.DefaultSim()
	sim.MaxEntities = 2
	e := NewEngine(sim, config.DefaultIntake(), config.DefaultRoom(), tun, nil, nil)

	if _, err := e.Join("a", protocol.JoinOptions{}); err != nil {
		t.Fatalf("first join: %v", err)
	}
	if _, err := e.Join("b", protocol.JoinOptions{}); err != nil {
		t.Fatalf("second join: %v", err)
	}
	if _, err := e.Join("c", protocol.JoinOptions{}); err == nil {
		t.Fatal("join with exhausted pool must fail")
	}

	e.Leave("a")
	if _, err := e.Join("c", protocol.JoinOptions{}); err != nil {
		t.Fatalf("join after release failed: %v", err)
	}
}

// TestEngineInputMoves verifies a queued input moves the player toward the
// target, bounded by max speed per tick.
func TestEngineInputMoves(t *testing.T) {
	e := newTestEngine(t)
	p, _ := e.Join("alice", protocol.JoinOptions{})
	e.Advance() // SPAWNING -> ALIVE

	x0, y0 := e.stores.Pos(p.Slot())
	p.Queue(protocol.InputMsg{Seq: 1, TargetX: x0 + 500, TargetY: y0})
	e.Advance()

	x1, y1 := e.stores.Pos(p.Slot())
	if x1 <= x0 {
		t.Errorf("player did not move toward target: %v -> %v", x0, x1)
	}
	moved := math.Hypot(x1-x0, y1-y0)
	bound := e.cfg.MaxSpeedBase * e.cfg.SpeedTolerance * e.cfg.Dt() * 1.01
	if moved > bound {
		t.Errorf("moved %v in one tick, bound %v", moved, bound)
	}
}

// TestEngineStaleHandleDrop verifies an input carrying a stale handle is
// dropped and the stored handle refreshes.
func TestEngineStaleHandleDrop(t *testing.T) {
	e := newTestEngine(t)
	p, _ := e.Join("alice", protocol.JoinOptions{})
	e.Advance()

	x0, _ := e.stores.Pos(p.Slot())

	// Simulate a handle minted before a recycle.
	p.Intake.Handle = Handle(uint32(p.HandleRef()) + (1 << 16))
	p.Queue(protocol.InputMsg{Seq: 1, TargetX: x0 + 500})
	e.Advance()

	x1, _ := e.stores.Pos(p.Slot())
	if x1 != x0 {
		t.Errorf("input with stale handle was applied: %v -> %v", x0, x1)
	}
	if p.Intake.Handle != p.HandleRef() {
		t.Error("stored handle was not refreshed after mismatch")
	}

	// The refreshed handle works next tick.
	p.Queue(protocol.InputMsg{Seq: 2, TargetX: x0 + 500})
	e.Advance()
	if x2, _ := e.stores.Pos(p.Slot()); x2 <= x0 {
		t.Error("input after handle refresh was not applied")
	}
}

// TestEngineDeathRespawn verifies a dead player skips one tick and comes
// back in the same slot with the same generation.
func TestEngineDeathRespawn(t *testing.T) {
	e := newTestEngine(t)
	p, _ := e.Join("alice", protocol.JoinOptions{})
	e.Advance()

	slot := p.Slot()
	gen := e.pool.Generation(slot)
	e.stores.St(slot)[StCurHP] = 0
	e.Advance()

	if p.State() != StateRespawning {
		t.Fatalf("state = %v after death tick, want StateRespawning", p.State())
	}
	if !e.stores.Has(slot, FlagDead) {
		t.Error("dead flag not set")
	}
	if e.stores.Has(slot, FlagActive) {
		t.Error("active flag survived the death tick")
	}

	e.Advance() // respawn tick

	if p.State() != StateAlive {
		t.Fatalf("state = %v after respawn tick, want StateAlive", p.State())
	}
	if !e.stores.Has(slot, FlagActive|FlagPlayer) {
		t.Error("respawned slot missing ACTIVE|PLAYER")
	}
	if e.stores.Has(slot, FlagDead) {
		t.Error("dead flag survived respawn")
	}
	if got := e.pool.Generation(slot); got != gen {
		t.Errorf("generation changed on respawn: %d -> %d", gen, got)
	}
	if e.stores.St(slot)[StCurHP] <= 0 {
		t.Error("respawned with no HP")
	}
	if e.ringIndexOf(slot) != 0 {
		t.Error("respawn must reset to the outermost ring")
	}
	if e.stores.MatchPercent(slot) != 0 {
		t.Error("respawn must reset pigment match")
	}
}

// TestEngineRingCommit verifies a player with enough match inside the inner
// band commits one-way to the next ring.
func TestEngineRingCommit(t *testing.T) {
	e := newTestEngine(t)
	p, _ := e.Join("alice", protocol.JoinOptions{})
	e.Advance()

	slot := p.Slot()
	ring0 := e.tun.Rings[0]
	// Inside the outer ring's inner band, with enough match for ring 1.
	d := ring0.InnerRadius + 10
	e.stores.SetPos(slot, d, 0)
	e.stores.AddMatch(slot, e.tun.Rings[1].EntryMatch+0.01)
	// Hold position so movement does not carry the player out of the band.
	p.Queue(protocol.InputMsg{Seq: 1, TargetX: d, TargetY: 0})
	e.Advance()

	if got := e.ringIndexOf(slot); got != 1 {
		t.Fatalf("ring = %d, want 1", got)
	}

	// Losing match afterwards must not revert the commitment.
	e.stores.AddMatch(slot, -1)
	e.Advance()
	if got := e.ringIndexOf(slot); got != 1 {
		t.Errorf("ring reverted to %d, commitment is one-way", got)
	}
}

// TestEngineFoodConsumption verifies touching food absorbs it: score up,
// food slot released.
func TestEngineFoodConsumption(t *testing.T) {
	e := newTestEngine(t)
	p, _ := e.Join("alice", protocol.JoinOptions{})
	e.Advance()

	slot := p.Slot()
	x, y := e.stores.Pos(slot)

	// Hand-place one food entity overlapping the player.
	fi, err := e.pool.Allocate()
	if err != nil {
		t.Fatalf("allocate food: %v", err)
	}
	e.stores.Flags[fi] = FlagActive | FlagFood | FoodKindBits(FoodKindNeutral)
	e.stores.SetPos(fi, x, y)
	e.stores.Ph(fi)[PhRadius] = 5
	e.grid.InsertStatic(uint16(fi), x, y)
	e.foodOrder = append(e.foodOrder, uint16(fi))

	score0 := e.stores.St(slot)[StScore]
	p.Queue(protocol.InputMsg{Seq: 1, TargetX: x, TargetY: y})
	e.Advance()

	if e.pool.Live(fi) {
		t.Error("food slot still live after consumption")
	}
	if got := e.stores.St(slot)[StScore]; got <= score0 {
		t.Errorf("score = %v after eating, want > %v", got, score0)
	}
}

// TestEngineSpawnerCap verifies the global food cap holds across many ticks.
func TestEngineSpawnerCap(t *testing.T) {
	e := newTestEngine(t)

	for i := 0; i < 400; i++ {
		e.Advance()
	}

	food := 0
	for _, id := range e.pool.Active() {
		if e.stores.Has(int(id), FlagActive|FlagFood) {
			food++
		}
	}
	if food > e.cfg.MaxFood {
		t.Errorf("live food = %d exceeds cap %d", food, e.cfg.MaxFood)
	}
	if food == 0 {
		t.Error("spawner produced no food in 400 ticks")
	}
}

// TestEngineBotQuota verifies the per-client entity cap counts the player
// plus its bots.
func TestEngineBotQuota(t *testing.T) {
	e := newTestEngine(t)
	_, _ = e.Join("alice", protocol.JoinOptions{})

	quota := config.DefaultRoom().MaxEntitiesPerOwner
	for i := 0; i < quota-1; i++ {
		if _, err := e.SpawnBot("alice"); err != nil {
			t.Fatalf("bot %d rejected under quota: %v", i, err)
		}
	}
	if _, err := e.SpawnBot("alice"); err == nil {
		t.Fatal("bot beyond quota must be rejected")
	}
}

// TestEngineBroadcastFrame verifies the broadcast frame decodes and carries
// the player's position and input ack.
func TestEngineBroadcastFrame(t *testing.T) {
	e := newTestEngine(t)
	var lastFrame []byte
	e.SetBroadcast(func(frame []byte) { lastFrame = frame })

	p, _ := e.Join("alice", protocol.JoinOptions{})
	e.Advance()
	p.Queue(protocol.InputMsg{Seq: 7, TargetX: 0, TargetY: 0})
	e.Advance()

	if lastFrame == nil {
		t.Fatal("no frame broadcast")
	}

	var f protocol.Frame
	if err := protocol.ParseFrame(lastFrame, &f, false); err != nil {
		t.Fatalf("broadcast frame does not parse: %v", err)
	}

	found := false
	for _, ent := range f.Entities {
		if int(ent.Index) == p.Slot() {
			found = true
			if ent.LastSeq != 7 {
				t.Errorf("ack = %d, want 7", ent.LastSeq)
			}
			x, y := e.stores.Pos(p.Slot())
			if float64(ent.X) != x || float64(ent.Y) != y {
				t.Errorf("frame pos (%v,%v) != store pos (%v,%v)", ent.X, ent.Y, x, y)
			}
		}
	}
	if !found {
		t.Fatal("player entity missing from broadcast frame")
	}
}

// TestEngineStartStop verifies the wall-clock loop runs and stops cleanly,
// including a second Stop.
func TestEngineStartStop(t *testing.T) {
	e := newTestEngine(t)
	e.Start()
	time.Sleep(120 * time.Millisecond)
	e.Stop()
	e.Stop() // must not panic

	if e.tickCount == 0 {
		t.Error("no ticks ran while started")
	}
}

// TestEngineStopAfterTickPanic verifies a tick panic reaches the fatal
// callback and that the subsequent dispose still tears the loop down: the
// stop channel must close even though the panic already cleared running.
func TestEngineStopAfterTickPanic(t *testing.T) {
	e := newTestEngine(t)
	fatal := make(chan error, 1)
	e.SetOnFatal(func(err error) {
		select {
		case fatal <- err:
		default:
		}
	})
	e.Start()

	// Corrupt internal state so the next tick panics.
	e.mu.Lock()
	e.perf = nil
	e.mu.Unlock()

	select {
	case <-fatal:
	case <-time.After(2 * time.Second):
		t.Fatal("tick panic never reached the fatal callback")
	}

	e.Dispose()

	select {
	case <-e.stopChan:
	default:
		t.Fatal("stop channel still open after dispose following a tick panic")
	}
	e.Stop() // must stay idempotent
}

// TestEngineDispose verifies disposal releases everything and blocks later
// joins.
func TestEngineDispose(t *testing.T) {
	e := newTestEngine(t)
	e.Join("alice", protocol.JoinOptions{})
	for i := 0; i < 50; i++ {
		e.Advance()
	}

	e.Dispose()

	if live, _, _ := e.pool.Counts(); live != 0 {
		t.Errorf("live = %d after dispose, want 0", live)
	}
	if _, err := e.Join("bob", protocol.JoinOptions{}); err == nil {
		t.Error("join after dispose must fail")
	}
}
