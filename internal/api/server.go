package api

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"prism-arena/internal/config"
	"prism-arena/internal/protocol"
)

// maxWSConnectionsPerIP bounds concurrent game connections from one address.
const maxWSConnectionsPerIP = 10

// Server is the public HTTP surface: REST room management plus the
// websocket join endpoint. Construction is side-effect free; goroutines
// and listeners start in Start.
type Server struct {
	cfg    config.AppConfig
	log    *slog.Logger
	rooms  *RoomManager
	router *chi.Mux

	rateLimiter   *IPRateLimiter
	createLimiter *IPRateLimiter
	wsLimiter     *WebSocketRateLimiter
	upgrader      websocket.Upgrader

	httpSrv *http.Server
}

// NewServer wires the router, limiters, and websocket upgrader around an
// existing room manager.
func NewServer(cfg config.AppConfig, rooms *RoomManager, log *slog.Logger) *Server {
	s := &Server{
		cfg:   cfg,
		log:   log,
		rooms: rooms,
		rateLimiter: NewIPRateLimiter(RateLimitConfig{
			RequestsPerSecond: DefaultRateLimitConfig.RequestsPerSecond,
			Burst:             DefaultRateLimitConfig.Burst,
			CleanupInterval:   DefaultRateLimitConfig.CleanupInterval,
			TrustProxy:        cfg.Server.TrustProxy,
		}),
		createLimiter: NewRoomCreateLimiter(cfg.Server.RoomCreateMax, cfg.Server.RoomCreateWin, cfg.Server.TrustProxy),
		wsLimiter:     NewWebSocketRateLimiter(maxWSConnectionsPerIP),
	}

	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if isAllowedOrigin(origin) {
				return true
			}
			s.log.Warn("websocket rejected by origin check", "origin", origin)
			RecordConnectionRejected("origin")
			return false
		},
	}

	s.router = NewRouter(RouterConfig{
		Rooms:             rooms,
		RateLimiter:       s.rateLimiter,
		RoomCreateLimiter: s.createLimiter,
		WSHandler:         s.handleWS,
	})
	return s
}

// Router returns the handler for httptest-based integration tests.
func (s *Server) Router() http.Handler { return s.router }

// Start begins serving. Blocks until the listener fails or Shutdown runs.
func (s *Server) Start() error {
	addr := fmt.Sprintf(":%d", s.cfg.Server.Port)
	s.httpSrv = &http.Server{Addr: addr, Handler: s.router}
	s.log.Info("api server starting", "addr", addr)
	return s.httpSrv.ListenAndServe()
}

// Shutdown drains the HTTP server and stops the limiters. Room teardown is
// the manager's job.
func (s *Server) Shutdown(ctx context.Context) error {
	s.rateLimiter.Stop()
	s.createLimiter.Stop()
	if s.httpSrv != nil {
		return s.httpSrv.Shutdown(ctx)
	}
	return nil
}

// handleWS upgrades a join request and attaches the session to its room.
//
// Query parameters: room (optional, defaults to the shared room), name,
// shape, and r/g/b pigment components in [0,1].
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	ip := s.rateLimiter.ClientIP(r)

	if !s.wsLimiter.Allow(ip) {
		s.log.Warn("websocket rejected, per-IP limit", "ip", ip)
		RecordConnectionRejected("ws_limit")
		http.Error(w, "Too many connections from your IP", http.StatusTooManyRequests)
		return
	}

	var room *Room
	var err error
	if roomID := r.URL.Query().Get("room"); roomID != "" {
		var ok bool
		room, ok = s.rooms.Get(roomID)
		if !ok {
			s.wsLimiter.Release(ip)
			http.Error(w, "room not found", http.StatusNotFound)
			return
		}
	} else {
		room, err = s.rooms.GetOrCreateDefault()
		if err != nil {
			s.wsLimiter.Release(ip)
			http.Error(w, "room unavailable", http.StatusServiceUnavailable)
			return
		}
	}

	opts := joinOptionsFromQuery(r)

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", "error", err)
		s.wsLimiter.Release(ip)
		return
	}

	sessionID, err := newSessionID()
	if err != nil {
		conn.Close()
		s.wsLimiter.Release(ip)
		return
	}

	release := func() { s.wsLimiter.Release(ip) }
	if _, err := room.Attach(sessionID, ip, conn, opts, release); err != nil {
		s.log.Warn("join rejected", "error", err, "ip", ip)
		conn.WriteMessage(websocket.TextMessage,
			[]byte(`{"type":"status","status":"join_rejected"}`))
		conn.Close()
		release()
		return
	}
}

func joinOptionsFromQuery(r *http.Request) protocol.JoinOptions {
	q := r.URL.Query()
	opts := protocol.JoinOptions{
		Name:  q.Get("name"),
		Shape: q.Get("shape"),
	}
	if q.Has("r") || q.Has("g") || q.Has("b") {
		opts.Pigment = &protocol.Pigment{
			R: parseFloatDefault(q.Get("r"), 0.5),
			G: parseFloatDefault(q.Get("g"), 0.5),
			B: parseFloatDefault(q.Get("b"), 0.5),
		}
	}
	return opts
}

// isAllowedOrigin accepts same-host tools (no Origin header), localhost on
// any port, and origins listed in ALLOWED_ORIGINS handled by deployment.
func isAllowedOrigin(origin string) bool {
	if origin == "" {
		return true // non-browser clients
	}
	if strings.HasPrefix(origin, "http://localhost") ||
		strings.HasPrefix(origin, "http://127.0.0.1") {
		return true
	}
	return false
}

func newSessionID() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
