package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"prism-arena/internal/game"
)

// RouterConfig contains the dependencies for the HTTP router. Designed for
// dependency injection so integration tests can use httptest directly.
type RouterConfig struct {
	// Rooms is the room manager (required).
	Rooms *RoomManager

	// RateLimiter is an optional pre-configured request limiter. If nil a
	// new one is created from RateLimitConfig (or the defaults).
	RateLimiter     *IPRateLimiter
	RateLimitConfig *RateLimitConfig

	// RoomCreateLimiter bounds room creation per IP (required for the
	// create endpoint; nil disables the bound, tests only).
	RoomCreateLimiter *IPRateLimiter

	// WSHandler handles websocket join requests on /ws.
	WSHandler http.HandlerFunc

	// CORSOrigins overrides the allowed origins (defaults to localhost).
	CORSOrigins []string

	// DisableLogging disables the request logger middleware.
	DisableLogging bool
}

// NewRouter constructs the HTTP router. Pure: no goroutines, no listeners,
// safe for httptest.
func NewRouter(cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	if !cfg.DisableLogging {
		r.Use(middleware.Logger)
	}
	r.Use(middleware.Recoverer)

	// Rate limiting before CORS so floods are rejected cheaply.
	rateLimiter := cfg.RateLimiter
	if rateLimiter == nil {
		rlCfg := DefaultRateLimitConfig
		if cfg.RateLimitConfig != nil {
			rlCfg = *cfg.RateLimitConfig
		}
		rateLimiter = NewIPRateLimiter(rlCfg)
	}
	r.Use(rateLimiter.Middleware)

	corsOrigins := cfg.CORSOrigins
	if corsOrigins == nil {
		corsOrigins = []string{"http://localhost:*", "http://127.0.0.1:*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   corsOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	}))

	h := &routerHandlers{rooms: cfg.Rooms, createLimiter: cfg.RoomCreateLimiter, clientIP: rateLimiter.ClientIP}

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	r.Route("/api", func(r chi.Router) {
		r.Get("/rooms", h.handleListRooms)
		r.Post("/rooms", h.handleCreateRoom)
		r.Get("/rooms/{roomID}/state", h.handleRoomState)
		r.Get("/rooms/{roomID}/leaderboard", h.handleLeaderboard)
	})

	if cfg.WSHandler != nil {
		r.Get("/ws", cfg.WSHandler)
	}

	return r
}

type routerHandlers struct {
	rooms         *RoomManager
	createLimiter *IPRateLimiter
	clientIP      func(*http.Request) string
}

type roomInfo struct {
	ID      string `json:"id"`
	Clients int    `json:"clients"`
}

func (h *routerHandlers) handleListRooms(w http.ResponseWriter, r *http.Request) {
	h.rooms.mu.RLock()
	infos := make([]roomInfo, 0, len(h.rooms.rooms))
	for id, room := range h.rooms.rooms {
		infos = append(infos, roomInfo{ID: id, Clients: room.ClientCount()})
	}
	h.rooms.mu.RUnlock()

	writeJSON(w, http.StatusOK, infos)
}

func (h *routerHandlers) handleCreateRoom(w http.ResponseWriter, r *http.Request) {
	if h.createLimiter != nil && !h.createLimiter.Allow(h.clientIP(r)) {
		RecordConnectionRejected("room_create")
		writeJSON(w, http.StatusTooManyRequests, map[string]string{"error": "room creation rate exceeded"})
		return
	}

	room, err := h.rooms.Create()
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusCreated, roomInfo{ID: room.ID, Clients: 0})
}

// handleRoomState serves the latest published snapshot. Reads the triple
// buffer, never the live stores.
func (h *routerHandlers) handleRoomState(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "roomID")
	room, ok := h.rooms.Get(roomID)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "room not found"})
		return
	}

	snap := room.Engine().Snapshot()

	type entityJSON struct {
		Index uint16  `json:"index"`
		X     float32 `json:"x"`
		Y     float32 `json:"y"`
		HP    float32 `json:"hp"`
		Score float32 `json:"score"`
		Match float32 `json:"match"`
		Ring  uint8   `json:"ring"`
		Name  string  `json:"name,omitempty"`
	}

	resp := struct {
		Tick     int64        `json:"tick"`
		GameTime float64      `json:"gameTime"`
		Players  int          `json:"players"`
		Bots     int          `json:"bots"`
		Food     int          `json:"food"`
		Entities []entityJSON `json:"entities"`
	}{
		Tick:     snap.Tick,
		GameTime: snap.GameTime,
		Players:  snap.PlayerCount,
		Bots:     snap.BotCount,
		Food:     snap.FoodCount,
	}

	// Food is bulky and uninteresting for the state endpoint; only units
	// are listed. Counts cover the rest.
	for i := range snap.Entities {
		e := &snap.Entities[i]
		if e.Flags&game.FlagFood != 0 {
			continue
		}
		resp.Entities = append(resp.Entities, entityJSON{
			Index: e.Index,
			X:     e.X,
			Y:     e.Y,
			HP:    e.HP,
			Score: e.Score,
			Match: e.Match,
			Ring:  e.Ring,
			Name:  e.Name,
		})
	}

	writeJSON(w, http.StatusOK, resp)
}

// handleLeaderboard serves the room's score standings. ?limit= caps the
// row count, ?around=<sessionID> returns the window centered on a session.
func (h *routerHandlers) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "roomID")
	room, ok := h.rooms.Get(roomID)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "room not found"})
		return
	}

	board := room.Engine().Leaderboard()

	limit := int(parseFloatDefault(r.URL.Query().Get("limit"), 10))
	if limit < 1 {
		limit = 1
	}
	if limit > 100 {
		limit = 100
	}

	var entries []game.BoardEntry
	if around := r.URL.Query().Get("around"); around != "" {
		entries = board.Around(around, limit/2, limit/2)
	} else {
		entries = board.Top(limit)
	}
	if entries == nil {
		entries = []game.BoardEntry{}
	}

	writeJSON(w, http.StatusOK, struct {
		Total   int               `json:"total"`
		Entries []game.BoardEntry `json:"entries"`
	}{Total: board.Len(), Entries: entries})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func parseFloatDefault(s string, def float64) float64 {
	if s == "" {
		return def
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return def
}
