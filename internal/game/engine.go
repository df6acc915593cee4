package game

import (
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"sync"
	"time"

	"prism-arena/internal/config"
	"prism-arena/internal/game/spatial"
	"prism-arena/internal/protocol"
)

// Metrics receives engine counters. The api package provides the prometheus
// implementation; tests pass nil and get the no-op.
type Metrics interface {
	ObserveTick(d time.Duration)
	IncInputDrop(reason string)
	SetActiveEntities(n int)
	AddBroadcastBytes(n int)
}

type noopMetrics struct{}

func (noopMetrics) ObserveTick(time.Duration) {}
func (noopMetrics) IncInputDrop(string)       {}
func (noopMetrics) SetActiveEntities(int)     {}
func (noopMetrics) AddBroadcastBytes(int)     {}

// PlayerState is the lifecycle state of a player entity.
type PlayerState uint8

const (
	StateSpawning PlayerState = iota // allocated on join, alive next tick
	StateAlive
	StateDead       // HP <= 0 this tick
	StateRespawning // death handled, resets next tick
	StateLeft       // terminal: slot released, generation bumped
)

// Player is the engine-side record of one session's entity. The component
// stores are the only truth about the entity itself; this struct carries
// session plumbing (intake, quota, cosmetics) that has no store row.
type Player struct {
	ID     string
	Name   string
	Shape  string
	Intake *Intake

	slot   int
	handle Handle
	state  PlayerState
	bots   []Handle
}

// Queue publishes an input into the player's mailbox (latest wins).
// Safe to call from any goroutine.
func (p *Player) Queue(msg protocol.InputMsg) { p.Intake.Box.Put(msg) }

// HandleRef returns the player's current generation-qualified handle.
func (p *Player) HandleRef() Handle { return p.handle }

// Slot returns the player's store slot (the wire entity index).
func (p *Player) Slot() int { return p.slot }

// State returns the player's lifecycle state.
func (p *Player) State() PlayerState { return p.state }

// Engine is the authoritative simulation for one room: entity pool,
// component stores, spatial grid, and the fixed-timestep tick that advances
// them. The tick is single-writer; every mutation happens under mu on the
// tick goroutine or on a caller holding mu (join/leave). Input delivery is
// the one lock-free edge: producers write session mailboxes, phase 1 is the
// only reader.
type Engine struct {
	mu sync.Mutex

	cfg     config.SimConfig
	intake  config.IntakeConfig
	room    config.RoomConfig
	tun     config.Tuning
	log     *slog.Logger
	metrics Metrics

	pool    *Pool
	stores  *Stores
	grid    *spatial.Grid
	effects *EffectTable

	players map[string]*Player
	owner   []*Player // slot -> driving player (nil for bots/food)
	board   *Leaderboard

	spawnTimers  []float64
	foodOrder    []uint16
	respawnQueue []uint16
	ruleScratch  []uint16

	rng     *rand.Rand
	rngSeed int64

	tickCount int64
	gameTime  float64
	running   bool
	stopped   bool // stopChan closed; independent of running, which a tick panic clears
	disposed  bool
	ticker    *time.Ticker
	stopChan  chan struct{}

	broadcast    func(frame []byte)
	onCorrection func(sessionID string, x, y float64)
	onFatal      func(err error)

	events  *EventLog
	perf    *PerfCollector
	snapBuf *SnapshotBuffer

	// Delta snapshot state: last broadcast position per slot.
	lastSentX    []float32
	lastSentY    []float32
	lastSentOK   []bool
	framesToFull int

	wireEntities []protocol.Entity

	speedViolations uint64
}

// deltaEpsilon and deltaRefreshFrames implement the optional delta
// extension: entities that moved less than epsilon may be skipped, with a
// full refresh every refresh interval.
const (
	deltaEpsilon       = 0.01
	deltaRefreshFrames = 60
)

// NewEngine creates a room engine. Nothing runs until Start.
func NewEngine(cfg config.SimConfig, intake config.IntakeConfig, room config.RoomConfig, tun config.Tuning, log *slog.Logger, m Metrics) *Engine {
	if log == nil {
		log = slog.Default()
	}
	if m == nil {
		m = noopMetrics{}
	}
	seed := time.Now().UnixNano()

	e := &Engine{
		cfg:          cfg,
		intake:       intake,
		room:         room,
		tun:          tun,
		log:          log,
		metrics:      m,
		pool:         NewPool(cfg.MaxEntities),
		stores:       NewStores(cfg.MaxEntities),
		grid:         spatial.NewGrid(cfg.GridCellSize),
		effects:      NewEffectTable(cfg.MaxEntities),
		players:      make(map[string]*Player),
		owner:        make([]*Player, cfg.MaxEntities),
		board:        NewLeaderboard(seed),
		spawnTimers:  make([]float64, len(tun.Rings)),
		foodOrder:    make([]uint16, 0, cfg.MaxFood+64),
		rng:          rand.New(rand.NewSource(seed)),
		rngSeed:      seed,
		stopChan:     make(chan struct{}),
		events:       NewEventLog(),
		perf:         NewPerfCollector(256),
		snapBuf:      NewSnapshotBuffer(cfg.MaxEntities),
		lastSentX:    make([]float32, cfg.MaxEntities),
		lastSentY:    make([]float32, cfg.MaxEntities),
		lastSentOK:   make([]bool, cfg.MaxEntities),
		wireEntities: make([]protocol.Entity, 0, cfg.MaxEntities),
	}

	// Stagger ring spawn timers so bursts do not all land on tick 0.
	for r := range e.spawnTimers {
		e.spawnTimers[r] = tun.Rings[r].SpawnInterval * (float64(r+1) / float64(len(tun.Rings)+1))
	}
	return e
}

// Seed reseeds the room RNG; used by replay tooling and tests that need
// reproducible spawn positions.
func (e *Engine) Seed(seed int64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rngSeed = seed
	e.rng = rand.New(rand.NewSource(seed))
}

// SetBroadcast installs the snapshot fan-out sink. The frame slice is owned
// by the callee after the call returns; the engine does not reuse it.
func (e *Engine) SetBroadcast(fn func(frame []byte)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.broadcast = fn
}

// SetOnCorrection installs the position-correction sink used when a
// session's escalation heuristics trip.
func (e *Engine) SetOnCorrection(fn func(sessionID string, x, y float64)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onCorrection = fn
}

// SetOnFatal installs the supervisor callback invoked when a tick panics.
func (e *Engine) SetOnFatal(fn func(err error)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onFatal = fn
}

// StartEventLog begins audit logging to path (JSONL).
func (e *Engine) StartEventLog(path string) error { return e.events.Start(path) }

// Params returns the integration constants a client must predict with.
func (e *Engine) Params() StepParams {
	return StepParams{
		Dt:        e.cfg.Dt(),
		MapRadius: e.cfg.MapRadius,
		Accel:     e.tun.Player.Accel,
		SpeedCap:  e.cfg.MaxSpeedBase * e.cfg.SpeedTolerance,
	}
}

// Start begins the tick loop.
func (e *Engine) Start() {
	e.mu.Lock()
	if e.running || e.stopped || e.disposed {
		e.mu.Unlock()
		return
	}
	e.running = true
	e.mu.Unlock()

	e.ticker = time.NewTicker(time.Second / time.Duration(e.cfg.TickRateHz))

	go func() {
		for {
			select {
			case <-e.ticker.C:
				e.Advance()
			case <-e.stopChan:
				return
			}
		}
	}()

	e.log.Info("engine started", "tick_rate", e.cfg.TickRateHz, "map_radius", e.cfg.MapRadius)
}

// Stop halts the tick loop. Idempotent, and still effective when a tick
// panic already cleared the running flag.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stopped {
		return
	}
	e.stopped = true
	e.running = false
	if e.ticker != nil {
		e.ticker.Stop()
	}
	close(e.stopChan)
	e.log.Info("engine stopped", "ticks", e.tickCount)
}

// Dispose stops the loop, flushes the event log, and releases every slot.
// The room is unusable afterwards.
func (e *Engine) Dispose() {
	e.Stop()

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.disposed {
		return
	}
	e.disposed = true

	for _, idx := range append([]uint16(nil), e.pool.Active()...) {
		e.despawn(int(idx))
	}
	e.players = make(map[string]*Player)
	e.foodOrder = e.foodOrder[:0]
	e.respawnQueue = e.respawnQueue[:0]

	e.events.Emit(EventDisposed, e.tickCount, -1, nil)
	e.events.Stop()
}

// Advance runs exactly one tick. Exported so tests and the singleplayer
// client can drive the simulation without the wall-clock ticker.
func (e *Engine) Advance() {
	e.mu.Lock()
	defer e.mu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			// A panic mid-tick may have corrupted store state; that is
			// fatal to the room, never to the process.
			err := fmt.Errorf("tick %d panicked: %v", e.tickCount, r)
			e.log.Error("tick panic, room must dispose", "error", err)
			e.running = false
			if e.onFatal != nil {
				go e.onFatal(err)
			}
		}
	}()

	if e.disposed {
		return
	}

	dt := e.cfg.Dt()
	e.tickCount++
	e.gameTime += dt
	now := time.Now()
	e.perf.StartTick(e.tickCount)

	e.consumeInputs(now)
	e.perf.EndPhase()

	e.movementPhase(dt)
	e.perf.EndPhase()

	e.physicsPhase(dt)
	e.perf.EndPhase()

	e.skillPhase(dt)
	e.perf.EndPhase()

	e.rulesPhase(dt)
	e.perf.EndPhase()

	e.spawnerStep(dt)
	e.perf.EndPhase()

	e.broadcastPhase()
	e.perf.EndPhase()

	total := e.perf.EndTick()
	e.metrics.ObserveTick(total)
	e.metrics.SetActiveEntities(len(e.pool.Active()))

	// Soft deadline: warn with phase timings, never skip broadcast.
	if total > 2*time.Second/time.Duration(e.cfg.TickRateHz) {
		e.log.Warn("slow tick", "tick", e.tickCount, "took", total, "phases", e.perf.PhaseBreakdown())
		e.events.Emit(EventSlowTick, e.tickCount, -1, map[string]any{"took_ms": total.Milliseconds()})
	}

	e.grid.MaybeGC()
}

// =============================================================================
// PHASE 1: INPUT CONSUMPTION
// =============================================================================

func (e *Engine) consumeInputs(now time.Time) {
	for id, p := range e.players {
		msg, ok := p.Intake.Box.Take()
		if !ok {
			continue
		}

		msg, reason := p.Intake.Validate(msg, e.cfg.MapRadius, now)
		if reason != "" {
			e.metrics.IncInputDrop(reason)
			e.maybeCorrect(id, p)
			continue
		}

		// Handle guard: the session's recorded handle must still resolve to
		// a live slot. A mismatch is the normal respawn/leave race - drop
		// the frame and refresh the stored handle.
		idx, live := e.pool.Resolve(p.Intake.Handle)
		if !live || idx != p.slot {
			p.Intake.Handle = p.handle
			p.Intake.NoteDrop(DropHandle)
			e.metrics.IncInputDrop(DropHandle)
			continue
		}
		if p.state != StateAlive {
			continue
		}

		var actions uint32
		if msg.Space {
			actions |= ActionSpace
		}
		if msg.Eject {
			actions |= ActionEject
		}
		e.stores.SetInput(idx, msg.TargetX, msg.TargetY, actions)
	}

	e.steerBots()
}

func (e *Engine) maybeCorrect(id string, p *Player) {
	if e.onCorrection == nil || !p.Intake.ShouldCorrect() {
		return
	}
	if !e.pool.Live(p.slot) {
		return
	}
	x, y := e.stores.Pos(p.slot)
	go e.onCorrection(id, x, y)
}

// steerBots writes input rows for bot entities: head for the nearest food,
// wander when none is in sensing range.
func (e *Engine) steerBots() {
	for _, id := range e.pool.Active() {
		i := int(id)
		if !e.stores.Has(i, FlagActive|FlagBot) {
			continue
		}
		x, y := e.stores.Pos(i)

		sense := e.cfg.GridCellSize * 2
		best := -1
		bestD := math.MaxFloat64
		for _, fid := range e.grid.QueryStatic(x, y, sense) {
			fi := int(fid)
			if !e.stores.Has(fi, FlagActive|FlagFood) {
				continue
			}
			fx, fy := e.stores.Pos(fi)
			if d := (fx-x)*(fx-x) + (fy-y)*(fy-y); d < bestD {
				bestD = d
				best = fi
			}
		}

		if best >= 0 {
			fx, fy := e.stores.Pos(best)
			e.stores.SetInput(i, fx, fy, 0)
		} else if e.stores.In(i)[InTargetX] == 0 && e.stores.In(i)[InTargetY] == 0 {
			theta := e.rng.Float64() * 2 * math.Pi
			d := e.rng.Float64() * e.cfg.MapRadius
			e.stores.SetInput(i, d*math.Cos(theta), d*math.Sin(theta), 0)
		}
	}
}

// =============================================================================
// PHASES 2-4: MOVEMENT, PHYSICS, SKILL
// =============================================================================

func (e *Engine) movementPhase(dt float64) {
	p := e.Params()
	for _, id := range e.pool.Active() {
		i := int(id)
		if !e.isMobile(i) {
			continue
		}
		e.stores.Cf(i)[CfSpeedMul] = float32(e.speedMultiplier(i))
		MovementStep(e.stores, i, p)
	}
}

func (e *Engine) physicsPhase(dt float64) {
	p := e.Params()

	// Rebuild the dynamic grid layer from post-integration positions.
	e.grid.Clear()
	for _, id := range e.pool.Active() {
		i := int(id)
		if !e.isMobile(i) {
			continue
		}
		if PhysicsStep(e.stores, i, p) {
			e.speedViolations++
			if e.speedViolations%dropLogEvery == 1 {
				e.log.Warn("speed bound violated, clamped", "slot", i, "total", e.speedViolations)
			}
		}
		x, y := e.stores.Pos(i)
		e.grid.Insert(id, x, y)
	}
}

func (e *Engine) skillPhase(dt float64) {
	for _, id := range e.pool.Active() {
		i := int(id)
		if !e.isMobile(i) {
			continue
		}
		e.skillStep(i, dt)
	}
}

func (e *Engine) isMobile(i int) bool {
	f := e.stores.Flags[i]
	return f&FlagActive != 0 && f&FlagDead == 0 && f&(FlagPlayer|FlagBot|FlagProjectile) != 0
}

// =============================================================================
// PHASE 5: GAME RULES
// =============================================================================

const contactDPS = 12.0 // contact damage per second between overlapping units

func (e *Engine) rulesPhase(dt float64) {
	// Respawns scheduled last tick come back first.
	for _, id := range e.respawnQueue {
		e.respawnSlot(int(id))
	}
	e.respawnQueue = e.respawnQueue[:0]

	// Spawn-protection promotion.
	for _, p := range e.players {
		if p.state == StateSpawning {
			p.state = StateAlive
		}
	}

	// Consumption releases food slots, which edits the pool's active list.
	// Iterate a copy; released slots fail the mobility check.
	e.ruleScratch = append(e.ruleScratch[:0], e.pool.Active()...)
	for _, id := range e.ruleScratch {
		i := int(id)
		if !e.isMobile(i) {
			continue
		}
		e.magnetAndConsume(i, dt)
		e.unitCollisions(i, dt)
		e.ringStep(i)
	}
	e.compactFoodOrder()

	// Death detection. DEAD is set here and cleared on respawn; the slot is
	// never both DEAD and ACTIVE once the phase ends.
	for _, p := range e.players {
		if p.state != StateAlive {
			continue
		}
		i := p.slot
		if e.stores.St(i)[StCurHP] > 0 {
			continue
		}
		e.stores.SetFlags(i, FlagDead)
		e.stores.ClearFlags(i, FlagActive)
		e.stores.SetVel(i, 0, 0)
		p.state = StateRespawning
		e.respawnQueue = append(e.respawnQueue, uint16(i))
		e.stores.St(i)[StScore] *= 0.5
		e.events.Emit(EventDeath, e.tickCount, i, nil)
	}

	// Standings reflect this tick's scores. Update skips unchanged entries.
	for id, p := range e.players {
		if p.state == StateLeft {
			continue
		}
		e.board.Update(id, p.Name, float64(e.stores.St(p.slot)[StScore]), e.ringIndexOf(p.slot))
	}
}

// magnetAndConsume pulls nearby food in and absorbs food in contact.
func (e *Engine) magnetAndConsume(i int, dt float64) {
	x, y := e.stores.Pos(i)
	radius := e.stores.Radius(i)
	magnet := float64(e.stores.Cf(i)[CfMagnetRange])
	reach := radius + magnet

	for _, fid := range e.grid.QueryStatic(x, y, reach) {
		fi := int(fid)
		if !e.stores.Has(fi, FlagActive|FlagFood) {
			continue
		}
		fx, fy := e.stores.Pos(fi)
		dx, dy := x-fx, y-fy
		dist := math.Hypot(dx, dy)

		if dist <= radius+e.stores.Radius(fi) {
			e.consumeFood(i, fi)
			continue
		}
		if magnet > 0 && dist <= reach && dist > 0 {
			// Pull speed scales with proximity; grid bucket follows the food.
			pull := e.cfg.MaxSpeedBase * 1.5 * (1 - dist/reach) * dt
			nx, ny := fx+dx/dist*pull, fy+dy/dist*pull
			e.grid.RemoveStatic(fid, fx, fy)
			e.stores.SetPos(fi, nx, ny)
			e.grid.InsertStatic(fid, nx, ny)
		}
	}
}

func (e *Engine) consumeFood(i, fi int) {
	st := e.stores.St(i)
	st[StScore] += float32(e.tun.Food.Score)
	if hp := st[StCurHP] + float32(e.tun.Food.HPRestore); hp < st[StMaxHP] {
		st[StCurHP] = hp
	} else {
		st[StCurHP] = st[StMaxHP]
	}

	kind := FoodKindOf(e.stores.Flags[fi])
	switch {
	case kind == FoodKindNeutral:
		e.stores.AddMatch(i, e.tun.Food.MatchGain/2)
	case kind == e.dominantTarget(i):
		e.stores.AddMatch(i, e.tun.Food.MatchGain)
	default:
		e.stores.AddMatch(i, -e.tun.Food.MatchLoss)
	}

	e.releaseFood(fi)
}

// dominantTarget maps the slot's target pigment to the food kind that feeds
// it. Individual pigment formulas are a hook; the core compares dominant
// channels only.
func (e *Engine) dominantTarget(i int) uint32 {
	pg := e.stores.Pg(i)
	r, g, b := pg[PgTargetR], pg[PgTargetG], pg[PgTargetB]
	switch {
	case r >= g && r >= b:
		return FoodKindRed
	case g >= r && g >= b:
		return FoodKindGreen
	default:
		return FoodKindBlue
	}
}

// unitCollisions separates overlapping units by mass and applies contact
// damage. Only the lower-indexed partner of a pair resolves it, so each
// pair is handled once per tick.
func (e *Engine) unitCollisions(i int, dt float64) {
	x, y := e.stores.Pos(i)
	ri := e.stores.Radius(i)

	for _, jid := range e.grid.QueryRadius(x, y, ri*4) {
		j := int(jid)
		if j <= i || !e.isMobile(j) {
			continue
		}
		jx, jy := e.stores.Pos(j)
		rj := e.stores.Radius(j)

		dx, dy := jx-x, jy-y
		dist := math.Hypot(dx, dy)
		overlap := ri + rj - dist
		if overlap <= 0 {
			continue
		}

		var nx, ny float64 = 1, 0
		if dist > 0 {
			nx, ny = dx/dist, dy/dist
		}

		mi := float64(e.stores.Ph(i)[PhMass])
		mj := float64(e.stores.Ph(j)[PhMass])
		share := mj / (mi + mj)

		e.stores.SetPos(i, x-nx*overlap*share, y-ny*overlap*share)
		e.stores.SetPos(j, jx+nx*overlap*(1-share), jy+ny*overlap*(1-share))

		e.applyContactDamage(i, j, dt)
		e.applyContactDamage(j, i, dt)
	}
}

func (e *Engine) applyContactDamage(victim, attacker int, dt float64) {
	stV := e.stores.St(victim)
	stA := e.stores.St(attacker)
	dmg := contactDPS * dt * float64(stA[StDamageMult]) * (1 - float64(stV[StDefense]))
	if _, shielded := e.effects.Active(victim, EffectShield); shielded {
		return
	}
	stV[StCurHP] -= float32(dmg)
}

// =============================================================================
// PHASE 7: BROADCAST
// =============================================================================

func (e *Engine) broadcastPhase() {
	fullRefresh := false
	e.framesToFull--
	if e.framesToFull <= 0 {
		e.framesToFull = deltaRefreshFrames
		fullRefresh = true
	}

	e.wireEntities = e.wireEntities[:0]
	snap := e.snapBuf.AcquireWrite()
	snap.Tick = e.tickCount
	snap.GameTime = e.gameTime

	for _, id := range e.pool.Active() {
		i := int(id)
		f := e.stores.Flags[i]
		if f&FlagActive == 0 || f&FlagDead != 0 {
			continue
		}

		tr := e.stores.Tr(i)
		ph := e.stores.Ph(i)
		st := e.stores.St(i)

		// External projection always carries every entity.
		name := ""
		if e.owner[i] != nil {
			name = e.owner[i].Name
		}
		snap.Entities = append(snap.Entities, EntitySnapshot{
			Index:  id,
			Flags:  f,
			X:      tr[TrX],
			Y:      tr[TrY],
			VX:     ph[PhVX],
			VY:     ph[PhVY],
			Radius: ph[PhRadius],
			HP:     st[StCurHP],
			MaxHP:  st[StMaxHP],
			Score:  st[StScore],
			Match:  st[StMatch],
			Ring:   uint8(e.ringIndexOf(i)),
			Name:   name,
		})
		switch {
		case f&FlagPlayer != 0:
			snap.PlayerCount++
		case f&FlagBot != 0:
			snap.BotCount++
		case f&FlagFood != 0:
			snap.FoodCount++
		}

		// Delta filter applies to the wire frame only.
		if e.room.DeltaSnapshots && !fullRefresh && e.lastSentOK[i] {
			if absf32(tr[TrX]-e.lastSentX[i]) < deltaEpsilon && absf32(tr[TrY]-e.lastSentY[i]) < deltaEpsilon {
				continue
			}
		}
		e.lastSentX[i] = tr[TrX]
		e.lastSentY[i] = tr[TrY]
		e.lastSentOK[i] = true

		var lastSeq uint16
		if p := e.owner[i]; p != nil {
			lastSeq = uint16(p.Intake.LastSeq())
		}
		e.wireEntities = append(e.wireEntities, protocol.Entity{
			Index:   id,
			X:       tr[TrX],
			Y:       tr[TrY],
			VX:      ph[PhVX],
			VY:      ph[PhVY],
			LastSeq: lastSeq,
		})
	}

	e.snapBuf.PublishWrite()

	if e.broadcast == nil {
		return
	}
	frame := protocol.Frame{GameTime: float32(e.gameTime), Entities: e.wireEntities}
	buf, err := protocol.AppendFrame(
		make([]byte, 0, protocol.FrameSize(len(e.wireEntities), e.room.SnapshotCRC)),
		&frame, e.room.SnapshotCRC)
	if err != nil {
		e.log.Error("snapshot encode failed", "error", err)
		return
	}
	e.metrics.AddBroadcastBytes(len(buf))
	e.broadcast(buf)
}

func absf32(v float32) float32 {
	if v < 0 {
		return -v
	}
	return v
}

// =============================================================================
// JOIN / LEAVE / RESPAWN
// =============================================================================

// Join allocates an entity for a session. Rejects when the pool is
// exhausted or the session already exists.
func (e *Engine) Join(sessionID string, opts protocol.JoinOptions) (*Player, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.disposed {
		return nil, fmt.Errorf("room disposed")
	}
	if _, ok := e.players[sessionID]; ok {
		return nil, fmt.Errorf("session %q already joined", sessionID)
	}

	idx, err := e.pool.Allocate()
	if err != nil {
		e.log.Warn("join rejected, pool exhausted", "session", sessionID)
		return nil, err
	}

	e.initUnit(idx, FlagPlayer, opts.Pigment)
	h := e.pool.Handle(idx)

	p := &Player{
		ID:     sessionID,
		Name:   sanitizeName(opts.Name),
		Shape:  sanitizeShape(opts.Shape),
		Intake: NewIntake(e.intake, h, e.log),
		slot:   idx,
		handle: h,
		state:  StateSpawning,
	}
	e.players[sessionID] = p
	e.owner[idx] = p

	e.events.Emit(EventPlayerJoin, e.tickCount, idx, map[string]any{"name": p.Name})
	e.log.Info("player joined", "session", sessionID, "slot", idx, "name", p.Name)
	return p, nil
}

// SpawnBot allocates a bot entity owned by a session, counted against the
// per-client entity quota.
func (e *Engine) SpawnBot(sessionID string) (Handle, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	p, ok := e.players[sessionID]
	if !ok {
		return InvalidHandle, fmt.Errorf("session %q not joined", sessionID)
	}
	if 1+len(p.bots) >= e.room.MaxEntitiesPerOwner {
		return InvalidHandle, fmt.Errorf("entity quota reached (%d)", e.room.MaxEntitiesPerOwner)
	}

	idx, err := e.pool.Allocate()
	if err != nil {
		return InvalidHandle, err
	}
	e.initUnit(idx, FlagBot, nil)
	h := e.pool.Handle(idx)
	p.bots = append(p.bots, h)

	e.events.Emit(EventBotSpawn, e.tickCount, idx, map[string]any{"owner": sessionID})
	return h, nil
}

// Leave releases a session's entity and bots. Terminal for the session.
func (e *Engine) Leave(sessionID string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	p, ok := e.players[sessionID]
	if !ok {
		return
	}
	delete(e.players, sessionID)

	for _, bh := range p.bots {
		if idx, live := e.pool.Resolve(bh); live {
			e.despawn(idx)
		}
	}
	if e.pool.Live(p.slot) {
		e.despawn(p.slot)
	}
	p.state = StateLeft
	e.board.Remove(sessionID)

	e.events.Emit(EventPlayerLeave, e.tickCount, p.slot, nil)
	e.log.Info("player left", "session", sessionID, "slot", p.slot)
}

// PlayerCount returns the number of joined sessions.
func (e *Engine) PlayerCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.players)
}

// Snapshot returns the latest published external snapshot.
func (e *Engine) Snapshot() *RoomSnapshot { return e.snapBuf.AcquireRead() }

// Leaderboard returns the room's score standings. Safe for concurrent
// reads while the engine runs.
func (e *Engine) Leaderboard() *Leaderboard { return e.board }

// DumpPerfCSV exports the rolling tick-timing window.
func (e *Engine) DumpPerfCSV(path string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.perf.DumpCSV(path)
}

// initUnit writes spawn-time rows for a player or bot slot.
func (e *Engine) initUnit(idx int, kindFlag uint32, pigment *protocol.Pigment) {
	s := e.stores
	t := e.tun.Player

	s.Flags[idx] = FlagActive | kindFlag

	// Spawn on a uniform point of the outer ring band.
	ring := e.tun.Rings[0]
	outer2 := ring.OuterRadius * ring.OuterRadius
	inner2 := ring.InnerRadius * ring.InnerRadius
	d := math.Sqrt(inner2 + e.rng.Float64()*(outer2-inner2))
	theta := e.rng.Float64() * 2 * math.Pi
	s.SetPos(idx, d*math.Cos(theta), d*math.Sin(theta))
	s.Tr(idx)[TrScale] = 1

	ph := s.Ph(idx)
	ph[PhRadius] = float32(t.Radius)
	ph[PhMass] = float32(t.MassDensity * math.Pi * t.Radius * t.Radius)
	ph[PhRestitution] = 0.5
	ph[PhFriction] = float32(e.cfg.FrictionBase)

	st := s.St(idx)
	st[StCurHP] = float32(t.MaxHP)
	st[StMaxHP] = float32(t.MaxHP)
	st[StDamageMult] = 1

	cf := s.Cf(idx)
	cf[CfMaxSpeed] = float32(e.cfg.MaxSpeedBase)
	cf[CfSpeedMul] = float32(ring.SpeedMultiplier)
	cf[CfMagnetRange] = float32(t.MagnetRadius)
	cf[cfRingLane] = 0

	pg := s.Pg(idx)
	if pigment != nil {
		pg[PgTargetR] = float32(clamp01(pigment.R))
		pg[PgTargetG] = float32(clamp01(pigment.G))
		pg[PgTargetB] = float32(clamp01(pigment.B))
	} else {
		pg[PgTargetR] = float32(e.rng.Float64())
		pg[PgTargetG] = float32(e.rng.Float64())
		pg[PgTargetB] = float32(e.rng.Float64())
	}

	// Spawn facing the center keeps the first movement step stable.
	x, y := s.Pos(idx)
	s.Tr(idx)[TrRot] = float32(math.Atan2(-y, -x))

	// Movement holds position until the first input arrives.
	s.SetInput(idx, x, y, 0)
}

// respawnSlot resets a dead player in place: same index, same generation,
// handle preserved. Only the rows change.
func (e *Engine) respawnSlot(idx int) {
	p := e.owner[idx]
	if p == nil || p.state != StateRespawning {
		return
	}

	// Preserve target pigment and score across the reset.
	pg := e.stores.Pg(idx)
	tr, tg, tb := pg[PgTargetR], pg[PgTargetG], pg[PgTargetB]
	score := e.stores.St(idx)[StScore]

	e.stores.ClearRow(idx)
	e.effects.ClearRow(idx)
	e.initUnit(idx, FlagPlayer, &protocol.Pigment{R: float64(tr), G: float64(tg), B: float64(tb)})

	st := e.stores.St(idx)
	st[StScore] = score
	st[StCurHP] = st[StMaxHP] * float32(e.tun.Player.RespawnHPFraction)

	p.state = StateAlive
	e.events.Emit(EventRespawn, e.tickCount, idx, nil)
}

// despawn releases a slot for good: rows zeroed, generation bumped, every
// outstanding handle invalidated.
func (e *Engine) despawn(idx int) {
	e.stores.ClearRow(idx)
	e.effects.ClearRow(idx)
	e.owner[idx] = nil
	e.lastSentOK[idx] = false
	e.pool.Release(idx)
}

func sanitizeName(name string) string {
	if name == "" {
		return "anon"
	}
	if len(name) > 24 {
		name = name[:24]
	}
	return name
}

func sanitizeShape(shape string) string {
	switch shape {
	case "circle", "square", "triangle", "hex":
		return shape
	}
	return "circle"
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
