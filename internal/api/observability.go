package api

import (
	"log/slog"
	"net/http"
	"net/http/pprof"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics with bounded cardinality (no per-player or per-room labels to
// prevent label-explosion DoS).
var (
	tickDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "arena_tick_duration_seconds",
		Help:    "Time spent in one simulation tick",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1},
	})

	activeEntities = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "arena_active_entities",
		Help: "Live entities across all rooms",
	})

	activeRooms = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "arena_rooms_active",
		Help: "Rooms currently running",
	})

	inputDrops = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "arena_input_drops_total",
		Help: "Input messages dropped by validation",
	}, []string{"reason"}) // Bounded: the protocol drop-reason set

	broadcastBytes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "arena_broadcast_bytes_total",
		Help: "Snapshot bytes handed to the dispatcher",
	})

	connectionRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "arena_connection_rejected_total",
		Help: "Connections rejected by rate limiter or origin check",
	}, []string{"reason"}) // Bounded: "rate_limit", "origin", "ws_limit", "room_full", "room_create"

	wsConnectionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "arena_websocket_connections_active",
		Help: "Currently active WebSocket connections",
	})

	wsSendDrops = promauto.NewCounter(prometheus.CounterOpts{
		Name: "arena_websocket_send_drops_total",
		Help: "Frames dropped because a client send queue was full",
	})
)

// EngineMetrics is the prometheus implementation of the engine's Metrics
// interface. All rooms share the same collectors.
type EngineMetrics struct{}

func (EngineMetrics) ObserveTick(d time.Duration) { tickDuration.Observe(d.Seconds()) }
func (EngineMetrics) IncInputDrop(reason string)  { inputDrops.WithLabelValues(reason).Inc() }
func (EngineMetrics) SetActiveEntities(n int)     { activeEntities.Set(float64(n)) }
func (EngineMetrics) AddBroadcastBytes(n int)     { broadcastBytes.Add(float64(n)) }

// RecordConnectionRejected increments the rejection counter. The reason must
// come from the bounded set documented on the collector.
func RecordConnectionRejected(reason string) {
	connectionRejected.WithLabelValues(reason).Inc()
}

// UpdateWSConnections updates the WebSocket connection gauge.
func UpdateWSConnections(count int) {
	wsConnectionsActive.Set(float64(count))
}

// RecordSendDrop counts one dropped outbound frame.
func RecordSendDrop() { wsSendDrops.Inc() }

// UpdateRoomCount updates the room gauge.
func UpdateRoomCount(count int) {
	activeRooms.Set(float64(count))
}

// ObservabilityConfig configures the debug server.
type ObservabilityConfig struct {
	Enabled       bool
	ListenAddr    string // must stay on loopback in production
	BasicAuthUser string
	BasicAuthPass string
}

// DefaultObservabilityConfig returns safe defaults.
func DefaultObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		Enabled:    true,
		ListenAddr: "127.0.0.1:6060",
	}
}

// StartDebugServer starts the internal observability server (pprof +
// prometheus). It binds to loopback unless explicitly overridden, since
// pprof endpoints are a DoS vector when public.
func StartDebugServer(cfg ObservabilityConfig, log *slog.Logger) error {
	if !cfg.Enabled {
		log.Info("debug server disabled")
		return nil
	}

	if cfg.ListenAddr != "127.0.0.1:6060" && cfg.ListenAddr != "localhost:6060" {
		if os.Getenv("ALLOW_DEBUG_EXTERNAL") != "true" {
			log.Warn("debug server forced to localhost")
			cfg.ListenAddr = "127.0.0.1:6060"
		}
	}

	mux := http.NewServeMux()

	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)

	mux.Handle("/metrics", promhttp.Handler())

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	var handler http.Handler = mux
	if cfg.BasicAuthUser != "" {
		handler = basicAuthMiddleware(cfg.BasicAuthUser, cfg.BasicAuthPass, mux)
	}

	go func() {
		log.Info("debug server starting", "addr", cfg.ListenAddr)
		if err := http.ListenAndServe(cfg.ListenAddr, handler); err != nil {
			log.Warn("debug server error", "error", err)
		}
	}()

	return nil
}

func basicAuthMiddleware(user, pass string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, p, ok := r.BasicAuth()
		if !ok || u != user || p != pass {
			w.Header().Set("WWW-Authenticate", `Basic realm="debug"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}
