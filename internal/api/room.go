package api

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"prism-arena/internal/config"
	"prism-arena/internal/game"
	"prism-arena/internal/protocol"
)

// Room binds one engine to its connected sessions. The engine owns the
// simulation; the room owns the fan-out: every snapshot frame the engine
// broadcasts is queued onto each session's bounded send queue.
type Room struct {
	ID     string
	engine *game.Engine
	log    *slog.Logger

	cfg       config.AppConfig
	mu        sync.RWMutex
	sessions  map[string]*Session
	emptyAt   time.Time // zero while occupied
	disposed  bool
	onDispose func(roomID string)
}

// NewRoom creates a room with a freshly started engine.
func NewRoom(id string, cfg config.AppConfig, log *slog.Logger, metrics game.Metrics) *Room {
	r := &Room{
		ID:       id,
		log:      log.With("room", id),
		cfg:      cfg,
		sessions: make(map[string]*Session),
		emptyAt:  time.Now(),
	}

	r.engine = game.NewEngine(cfg.Sim, cfg.Intake, cfg.Room, cfg.Tuning, r.log, metrics)
	if dir := cfg.Room.EventLogDir; dir != "" {
		path := filepath.Join(dir, id+".jsonl")
		if err := r.engine.StartEventLog(path); err != nil {
			r.log.Warn("event log disabled", "error", err)
		}
	}
	r.engine.SetBroadcast(r.fanOut)
	r.engine.SetOnCorrection(r.sendCorrection)
	r.engine.SetOnFatal(func(err error) {
		r.log.Error("room engine failed", "error", err)
		r.Dispose()
	})
	r.engine.Start()
	return r
}

// Engine exposes the room's engine for the state endpoint and tests.
func (r *Room) Engine() *game.Engine { return r.engine }

// Attach joins a connection to the room: allocates the entity, sends the
// join ack, and starts the session pumps. Fails when the room is full,
// disposed, or the entity pool is exhausted.
func (r *Room) Attach(sessionID, ip string, conn *websocket.Conn, opts protocol.JoinOptions, release func()) (*Session, error) {
	// Join before taking r.mu. The tick holds the engine mutex while
	// fanning out under r.mu, so blocking on the engine mutex with r.mu
	// held would invert the lock order against fanOut.
	player, err := r.engine.Join(sessionID, opts)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	if r.disposed {
		r.mu.Unlock()
		r.engine.Leave(sessionID)
		return nil, fmt.Errorf("room %s disposed", r.ID)
	}
	if len(r.sessions) >= r.cfg.Room.MaxClients {
		r.mu.Unlock()
		r.engine.Leave(sessionID)
		RecordConnectionRejected("room_full")
		return nil, fmt.Errorf("room %s full (%d clients)", r.ID, r.cfg.Room.MaxClients)
	}

	s := newSession(sessionID, ip, conn, player, r, r.cfg.Intake, r.log)
	s.release = release
	r.sessions[sessionID] = s
	clients := len(r.sessions)
	r.emptyAt = time.Time{}
	r.mu.Unlock()

	UpdateWSConnections(clients)

	params := r.engine.Params()
	s.SendJSON(protocol.JoinAck{
		Type:      "join_ack",
		Index:     uint16(player.Slot()),
		TickRate:  r.cfg.Sim.TickRateHz,
		MapRadius: params.MapRadius,
		MaxSpeed:  r.cfg.Sim.MaxSpeedBase,
		Accel:     params.Accel,
		CRC:       r.cfg.Room.SnapshotCRC,
	})

	go s.writePump()
	go s.readPump()
	return s, nil
}

// onSessionGone runs when a session's read pump exits for any reason.
func (r *Room) onSessionGone(s *Session) {
	r.mu.Lock()
	if _, ok := r.sessions[s.ID]; !ok {
		r.mu.Unlock()
		return
	}
	delete(r.sessions, s.ID)
	remaining := len(r.sessions)
	if remaining == 0 {
		r.emptyAt = time.Now()
	}
	r.mu.Unlock()

	s.close()
	r.engine.Leave(s.ID)
	if s.release != nil {
		s.release()
	}
	UpdateWSConnections(remaining)
	r.log.Info("session detached", "session", s.ID, "remaining", remaining)
}

// fanOut delivers one snapshot frame to every session. The engine hands
// over ownership of the frame slice, so sharing it across queues is safe.
func (r *Room) fanOut(frame []byte) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, s := range r.sessions {
		s.Send(websocket.BinaryMessage, frame)
	}
}

// sendCorrection pushes an authoritative position to one misbehaving client.
func (r *Room) sendCorrection(sessionID string, x, y float64) {
	r.mu.RLock()
	s, ok := r.sessions[sessionID]
	r.mu.RUnlock()
	if !ok {
		return
	}
	s.SendJSON(map[string]any{
		"type": "correction",
		"x":    x,
		"y":    y,
	})
}

// IdleSince reports how long the room has been empty; ok is false while
// any client is attached.
func (r *Room) IdleSince() (time.Duration, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if !r.emptyAt.IsZero() {
		return time.Since(r.emptyAt), true
	}
	return 0, false
}

// ClientCount returns the number of attached sessions.
func (r *Room) ClientCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Dispose announces shutdown to clients, closes every session, and tears
// down the engine. Idempotent.
func (r *Room) Dispose() {
	r.mu.Lock()
	if r.disposed {
		r.mu.Unlock()
		return
	}
	r.disposed = true
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.sessions = make(map[string]*Session)
	onDispose := r.onDispose
	r.mu.Unlock()

	for _, s := range sessions {
		s.SendJSON(protocol.StatusMsg{Type: "status", Status: "offline"})
		s.close()
		if s.release != nil {
			s.release()
		}
	}

	r.engine.Dispose()
	r.log.Info("room disposed")
	if onDispose != nil {
		onDispose(r.ID)
	}
}
