package api

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"prism-arena/internal/config"
	"prism-arena/internal/game"
	"prism-arena/internal/protocol"
)

const (
	// sendQueueSize bounds per-client outbound frames. A client that cannot
	// keep up loses its oldest queued snapshots, never the newest.
	sendQueueSize = 16

	writeWait  = 5 * time.Second
	pongWait   = 30 * time.Second
	pingPeriod = 20 * time.Second
)

// outbound is one queued message for the write pump.
type outbound struct {
	msgType int // websocket.BinaryMessage or websocket.TextMessage
	data    []byte
}

// Session is one connected client: the websocket, its player entity, and
// the bounded outbound queue. The read pump feeds the engine's input
// mailbox; the write pump drains snapshots queued by the room dispatcher.
type Session struct {
	ID     string
	IP     string
	conn   *websocket.Conn
	player *game.Player
	room   *Room
	log    *slog.Logger

	intakeCfg config.IntakeConfig

	sendMu    sync.Mutex
	sendQueue chan outbound
	closed    bool

	invalidMsgs int

	// release returns the per-IP connection slot; set by the server, run
	// once by the room when the session detaches.
	release func()
}

func newSession(id, ip string, conn *websocket.Conn, player *game.Player, room *Room, intakeCfg config.IntakeConfig, log *slog.Logger) *Session {
	return &Session{
		ID:        id,
		IP:        ip,
		conn:      conn,
		player:    player,
		room:      room,
		log:       log.With("session", id),
		intakeCfg: intakeCfg,
		sendQueue: make(chan outbound, sendQueueSize),
	}
}

// Send queues a message, evicting the oldest queued one when the client is
// behind. Never blocks the caller (the broadcast fan-out).
func (s *Session) Send(msgType int, data []byte) {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	if s.closed {
		return
	}

	for {
		select {
		case s.sendQueue <- outbound{msgType, data}:
			return
		default:
			// Queue full: drop the oldest entry and retry.
			select {
			case <-s.sendQueue:
				RecordSendDrop()
			default:
			}
		}
	}
}

// SendJSON marshals and queues a control message on the text channel.
func (s *Session) SendJSON(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		s.log.Error("marshal control message", "error", err)
		return
	}
	s.Send(websocket.TextMessage, data)
}

// close marks the session closed and shuts the queue so the write pump
// exits. Idempotent under sendMu.
func (s *Session) close() {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.sendQueue)
}

// writePump drains the outbound queue onto the socket. One goroutine per
// session; exits when the queue closes or a write fails.
func (s *Session) writePump() {
	ping := time.NewTicker(pingPeriod)
	defer func() {
		ping.Stop()
		s.conn.Close()
	}()

	for {
		select {
		case out, ok := <-s.sendQueue:
			if !ok {
				s.conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
					time.Now().Add(writeWait))
				return
			}
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(out.msgType, out.data); err != nil {
				return
			}
		case <-ping.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump consumes inbound messages. Only INPUT messages are expected;
// anything else counts as invalid and too many invalid messages close the
// connection. Exits on any read error and triggers room cleanup.
func (s *Session) readPump() {
	defer s.room.onSessionGone(s)

	s.conn.SetReadLimit(int64(s.intakeCfg.MaxMsgBytes))
	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		s.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		msgType, data, err := s.conn.ReadMessage()
		if err != nil {
			return
		}
		s.conn.SetReadDeadline(time.Now().Add(pongWait))

		if msgType != websocket.TextMessage {
			if s.noteInvalid(game.DropParse) {
				return
			}
			continue
		}
		// ReadLimit already kills oversize frames at the transport; this
		// guards payloads that arrive fragmented under the limit.
		if len(data) > s.intakeCfg.MaxMsgBytes {
			s.player.Intake.NoteDrop(game.DropSize)
			continue
		}

		var msg protocol.InputMsg
		if err := json.Unmarshal(data, &msg); err != nil {
			s.player.Intake.NoteDrop(game.DropParse)
			if s.noteInvalid(game.DropParse) {
				return
			}
			continue
		}

		// Latest wins; full validation happens on the tick.
		s.player.Queue(msg)
	}
}

// noteInvalid counts one malformed message and reports whether the session
// crossed the close threshold.
func (s *Session) noteInvalid(reason string) bool {
	s.invalidMsgs++
	if s.invalidMsgs >= s.intakeCfg.MaxInvalidMsgs {
		s.log.Warn("closing session, too many invalid messages",
			"count", s.invalidMsgs, "reason", reason)
		return true
	}
	return false
}
