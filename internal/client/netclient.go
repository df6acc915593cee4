package client

import (
	"encoding/json"
	"log/slog"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"prism-arena/internal/config"
	"prism-arena/internal/protocol"
)

// Status is the connection state machine.
type Status int32

const (
	StatusOffline Status = iota
	StatusConnecting
	StatusOnline
	StatusReconnecting
	StatusError
	StatusOfflineMode // gave up reconnecting; local simulation only
)

func (s Status) String() string {
	switch s {
	case StatusOffline:
		return "offline"
	case StatusConnecting:
		return "connecting"
	case StatusOnline:
		return "online"
	case StatusReconnecting:
		return "reconnecting"
	case StatusError:
		return "error"
	case StatusOfflineMode:
		return "offline_mode"
	}
	return "unknown"
}

// Handlers receives decoded server messages. All callbacks run on the
// client's read goroutine.
type Handlers struct {
	OnJoinAck    func(protocol.JoinAck)
	OnSnapshot   func(*protocol.Frame, time.Time)
	OnCorrection func(x, y float64)
	OnStatus     func(Status)
}

// NetClient maintains the websocket to the server: dial, read loop, input
// sending, and reconnection with exponential backoff.
type NetClient struct {
	url string
	cfg config.ClientConfig
	log *slog.Logger
	h   Handlers

	status atomic.Int32
	crc    atomic.Bool

	mu   sync.Mutex
	conn *websocket.Conn

	stopChan chan struct{}
	stopOnce sync.Once

	parseFrame protocol.Frame // reused across snapshots
}

// NewNetClient creates a client for the given websocket URL. Nothing
// connects until Run.
func NewNetClient(url string, cfg config.ClientConfig, h Handlers, log *slog.Logger) *NetClient {
	if log == nil {
		log = slog.Default()
	}
	return &NetClient{
		url:      url,
		cfg:      cfg,
		log:      log,
		h:        h,
		stopChan: make(chan struct{}),
	}
}

// Status returns the current connection status.
func (c *NetClient) Status() Status {
	return Status(c.status.Load())
}

func (c *NetClient) setStatus(s Status) {
	if c.status.Swap(int32(s)) == int32(s) {
		return
	}
	c.log.Info("connection status", "status", s.String())
	if c.h.OnStatus != nil {
		c.h.OnStatus(s)
	}
}

// Run connects and keeps the session alive until Stop, reconnecting with
// exponential backoff. After the configured attempt budget it settles into
// offline mode. Blocking; run it on its own goroutine.
func (c *NetClient) Run() {
	attempt := 0
	for {
		select {
		case <-c.stopChan:
			c.setStatus(StatusOffline)
			return
		default:
		}

		if attempt == 0 {
			c.setStatus(StatusConnecting)
		} else {
			c.setStatus(StatusReconnecting)
		}

		conn, _, err := websocket.DefaultDialer.Dial(c.url, nil)
		if err != nil {
			attempt++
			if attempt > c.cfg.ReconnectAttempts {
				c.log.Warn("reconnect budget exhausted, entering offline mode")
				c.setStatus(StatusOfflineMode)
				return
			}
			delay := c.backoff(attempt)
			c.log.Warn("dial failed", "error", err, "attempt", attempt, "retry_in", delay)
			select {
			case <-time.After(delay):
			case <-c.stopChan:
				c.setStatus(StatusOffline)
				return
			}
			continue
		}

		c.mu.Lock()
		c.conn = conn
		c.mu.Unlock()
		c.setStatus(StatusOnline)
		attempt = 0

		c.readLoop(conn) // returns on any read error

		c.mu.Lock()
		c.conn = nil
		c.mu.Unlock()
		conn.Close()

		select {
		case <-c.stopChan:
			c.setStatus(StatusOffline)
			return
		default:
			attempt = 1
		}
	}
}

// Stop closes the connection and ends Run.
func (c *NetClient) Stop() {
	c.stopOnce.Do(func() { close(c.stopChan) })
	c.mu.Lock()
	if c.conn != nil {
		c.conn.Close()
	}
	c.mu.Unlock()
}

// SendInput ships one input message. Dropped silently when offline; the
// predictor has already applied it locally, so play continues.
func (c *NetClient) SendInput(msg protocol.InputMsg) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return nil
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	conn.SetWriteDeadline(time.Now().Add(2 * time.Second))
	return conn.WriteMessage(websocket.TextMessage, data)
}

func (c *NetClient) readLoop(conn *websocket.Conn) {
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			c.log.Warn("read failed", "error", err)
			return
		}

		switch msgType {
		case websocket.BinaryMessage:
			if err := protocol.ParseFrame(data, &c.parseFrame, c.crc.Load()); err != nil {
				c.log.Warn("bad snapshot frame", "error", err)
				continue
			}
			if c.h.OnSnapshot != nil {
				c.h.OnSnapshot(&c.parseFrame, time.Now())
			}

		case websocket.TextMessage:
			c.handleControl(data)
		}
	}
}

// handleControl dispatches one JSON control message by its type tag.
func (c *NetClient) handleControl(data []byte) {
	var probe struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		c.log.Warn("bad control message", "error", err)
		return
	}

	switch probe.Type {
	case "join_ack":
		var ack protocol.JoinAck
		if err := json.Unmarshal(data, &ack); err != nil {
			return
		}
		c.crc.Store(ack.CRC)
		if c.h.OnJoinAck != nil {
			c.h.OnJoinAck(ack)
		}

	case "correction":
		var corr struct {
			X float64 `json:"x"`
			Y float64 `json:"y"`
		}
		if err := json.Unmarshal(data, &corr); err != nil {
			return
		}
		if c.h.OnCorrection != nil {
			c.h.OnCorrection(corr.X, corr.Y)
		}

	case "status":
		var st protocol.StatusMsg
		if err := json.Unmarshal(data, &st); err != nil {
			return
		}
		if st.Status == "offline" {
			c.log.Info("server announced room shutdown")
		}
	}
}

// backoff computes the retry delay: exponential with +-30% jitter, capped.
func (c *NetClient) backoff(attempt int) time.Duration {
	base := time.Second
	for i := 1; i < attempt; i++ {
		base *= 2
		if base > c.cfg.ReconnectMaxDelay {
			base = c.cfg.ReconnectMaxDelay
			break
		}
	}
	jitter := 0.7 + rand.Float64()*0.6
	d := time.Duration(float64(base) * jitter)
	if d > c.cfg.ReconnectMaxDelay {
		d = c.cfg.ReconnectMaxDelay
	}
	return d
}
