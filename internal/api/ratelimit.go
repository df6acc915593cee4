package api

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// RateLimitConfig configures the IP-based rate limiter.
type RateLimitConfig struct {
	RequestsPerSecond float64       // Requests allowed per second per IP
	Burst             int           // Maximum burst size
	CleanupInterval   time.Duration // How often to clean up stale limiters

	// TrustProxy uses proxy-supplied headers (X-Forwarded-For, X-Real-IP)
	// to identify clients. Only enable behind a trusted proxy; the headers
	// are trivially spoofed otherwise.
	TrustProxy bool
}

// DefaultRateLimitConfig returns production-safe defaults.
var DefaultRateLimitConfig = RateLimitConfig{
	RequestsPerSecond: 10,
	Burst:             20,
	CleanupInterval:   5 * time.Minute,
}

// ipLimiterEntry tracks per-IP rate limiting state.
type ipLimiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// IPRateLimiter provides IP-based rate limiting for HTTP requests. The same
// structure backs the general request limiter and the stricter room-create
// limiter, with different rates.
type IPRateLimiter struct {
	limiters sync.Map // map[string]*ipLimiterEntry
	config   RateLimitConfig
	stopChan chan struct{}
	stopOnce sync.Once

	rejectedCount uint64 // atomic
	allowedCount  uint64 // atomic
}

// NewIPRateLimiter creates a new IP-based rate limiter and starts its
// cleanup goroutine.
func NewIPRateLimiter(cfg RateLimitConfig) *IPRateLimiter {
	rl := &IPRateLimiter{
		config:   cfg,
		stopChan: make(chan struct{}),
	}

	// Cleanup prevents a memory leak from abandoned IPs.
	go rl.cleanupLoop()

	return rl
}

// NewRoomCreateLimiter builds the limiter that bounds how fast one IP can
// create rooms: max creations per window, no sustained rate beyond that.
func NewRoomCreateLimiter(maxPerWindow int, window time.Duration, trustProxy bool) *IPRateLimiter {
	return NewIPRateLimiter(RateLimitConfig{
		RequestsPerSecond: float64(maxPerWindow) / window.Seconds(),
		Burst:             maxPerWindow,
		CleanupInterval:   5 * time.Minute,
		TrustProxy:        trustProxy,
	})
}

// Stop stops the rate limiter cleanup goroutine.
func (rl *IPRateLimiter) Stop() {
	rl.stopOnce.Do(func() {
		close(rl.stopChan)
	})
}

func (rl *IPRateLimiter) getLimiter(ip string) *rate.Limiter {
	now := time.Now()

	if entry, ok := rl.limiters.Load(ip); ok {
		e := entry.(*ipLimiterEntry)
		e.lastSeen = now
		return e.limiter
	}

	entry := &ipLimiterEntry{
		limiter:  rate.NewLimiter(rate.Limit(rl.config.RequestsPerSecond), rl.config.Burst),
		lastSeen: now,
	}

	actual, _ := rl.limiters.LoadOrStore(ip, entry)
	return actual.(*ipLimiterEntry).limiter
}

func (rl *IPRateLimiter) cleanupLoop() {
	ticker := time.NewTicker(rl.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rl.stopChan:
			return
		case <-ticker.C:
			rl.cleanup()
		}
	}
}

func (rl *IPRateLimiter) cleanup() {
	cutoff := time.Now().Add(-rl.config.CleanupInterval * 2)

	rl.limiters.Range(func(key, value interface{}) bool {
		entry := value.(*ipLimiterEntry)
		if entry.lastSeen.Before(cutoff) {
			rl.limiters.Delete(key)
		}
		return true
	})
}

// Allow checks if a request from the given IP should be allowed.
func (rl *IPRateLimiter) Allow(ip string) bool {
	limiter := rl.getLimiter(ip)
	if limiter.Allow() {
		atomic.AddUint64(&rl.allowedCount, 1)
		return true
	}
	atomic.AddUint64(&rl.rejectedCount, 1)
	return false
}

// ClientIP extracts the client IP honoring the limiter's proxy trust.
func (rl *IPRateLimiter) ClientIP(r *http.Request) string {
	return GetClientIP(r, rl.config.TrustProxy)
}

// Middleware returns an HTTP middleware for rate limiting.
func (rl *IPRateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.Allow(rl.ClientIP(r)) {
			RecordConnectionRejected("rate_limit")
			w.Header().Set("Retry-After", "1")
			http.Error(w, "Too Many Requests", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// GetStats returns rate limiter statistics.
func (rl *IPRateLimiter) GetStats() map[string]uint64 {
	return map[string]uint64{
		"allowed":  atomic.LoadUint64(&rl.allowedCount),
		"rejected": atomic.LoadUint64(&rl.rejectedCount),
	}
}

// GetClientIP extracts the client IP from an HTTP request. Forwarding
// headers are only consulted when trustProxy is set; the default is the
// socket remote address, which cannot be spoofed.
func GetClientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			// First entry is the original client.
			if idx := strings.Index(xff, ","); idx >= 0 {
				return strings.TrimSpace(xff[:idx])
			}
			return strings.TrimSpace(xff)
		}
		if xri := r.Header.Get("X-Real-IP"); xri != "" {
			return strings.TrimSpace(xri)
		}
	}

	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}

// WebSocketRateLimiter limits concurrent WebSocket connections per IP.
type WebSocketRateLimiter struct {
	connections sync.Map // map[string]*int32 (atomic counter)
	maxPerIP    int

	rejectedCount uint64 // atomic
}

// NewWebSocketRateLimiter creates a WebSocket connection limiter.
func NewWebSocketRateLimiter(maxPerIP int) *WebSocketRateLimiter {
	return &WebSocketRateLimiter{maxPerIP: maxPerIP}
}

// Allow checks if a new WebSocket connection from this IP is allowed and
// reserves a slot when it is.
func (wrl *WebSocketRateLimiter) Allow(ip string) bool {
	actual, _ := wrl.connections.LoadOrStore(ip, new(int32))
	counter := actual.(*int32)

	for {
		current := atomic.LoadInt32(counter)
		if int(current) >= wrl.maxPerIP {
			atomic.AddUint64(&wrl.rejectedCount, 1)
			return false
		}
		if atomic.CompareAndSwapInt32(counter, current, current+1) {
			return true
		}
	}
}

// Release decrements the connection count for this IP.
func (wrl *WebSocketRateLimiter) Release(ip string) {
	if val, ok := wrl.connections.Load(ip); ok {
		counter := val.(*int32)
		atomic.AddInt32(counter, -1)
	}
}

// GetConnectionCount returns current connection count for an IP.
func (wrl *WebSocketRateLimiter) GetConnectionCount(ip string) int {
	if val, ok := wrl.connections.Load(ip); ok {
		return int(atomic.LoadInt32(val.(*int32)))
	}
	return 0
}

// GetStats returns WebSocket rate limiter statistics.
func (wrl *WebSocketRateLimiter) GetStats() map[string]uint64 {
	return map[string]uint64{
		"rejected": atomic.LoadUint64(&wrl.rejectedCount),
	}
}
