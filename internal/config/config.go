// Package config provides centralized configuration management.
// This is the SINGLE SOURCE OF TRUTH for all simulation and server settings.
//
// Operator-facing knobs come from environment variables (with defaults);
// gameplay tuning (ring bands, spawner bursts, skills) comes from an
// embedded YAML document that can be overridden by file, see tuning.go.
package config

import (
	"os"
	"strconv"
	"time"
)

// =============================================================================
// SIMULATION CONFIGURATION
// =============================================================================

// SimConfig holds the authoritative simulation settings for a room.
type SimConfig struct {
	TickRateHz   int     // Authoritative simulation rate (server)
	MaxEntities  int     // Entity pool capacity
	MapRadius    float64 // World disk radius in world units
	MaxSpeedBase float64 // Base movement speed cap (units/sec)
	// SpeedTolerance is the multiplier applied to the speed cap before the
	// physics phase logs and clamps a violation.
	SpeedTolerance float64
	MaxFood        int     // Global live food cap; spawner culls oldest beyond it
	GridCellSize   float64 // Spatial grid cell size in world units
	FrictionBase   float64 // Per-second velocity retention exponent base
}

// DefaultSim returns the default simulation configuration.
func DefaultSim() SimConfig {
	return SimConfig{
		TickRateHz:     20,
		MaxEntities:    4096,
		MapRadius:      2000,
		MaxSpeedBase:   150,
		SpeedTolerance: 1.1,
		MaxFood:        1024,
		GridCellSize:   128,
		FrictionBase:   0.12,
	}
}

// SimFromEnv returns simulation configuration with environment overrides.
func SimFromEnv() SimConfig {
	cfg := DefaultSim()

	if v := getEnvInt("TICK_RATE_HZ", 0); v > 0 {
		cfg.TickRateHz = v
	}
	// Entity indices travel as u16 on the wire, so the pool cannot exceed 65536.
	if v := getEnvInt("MAX_ENTITIES", 0); v > 0 && v <= 1<<16 {
		cfg.MaxEntities = v
	}
	if v := getEnvFloat("MAP_RADIUS", 0); v > 0 {
		cfg.MapRadius = v
	}
	if v := getEnvFloat("MAX_SPEED_BASE", 0); v > 0 {
		cfg.MaxSpeedBase = v
	}
	if v := getEnvFloat("SPEED_TOLERANCE", 0); v >= 1 {
		cfg.SpeedTolerance = v
	}
	if v := getEnvInt("MAX_FOOD", 0); v > 0 {
		cfg.MaxFood = v
	}
	if v := getEnvFloat("GRID_CELL_SIZE", 0); v > 0 {
		cfg.GridCellSize = v
	}

	return cfg
}

// Dt returns the fixed timestep in seconds.
func (c SimConfig) Dt() float64 {
	return 1.0 / float64(c.TickRateHz)
}

// =============================================================================
// INPUT INTAKE LIMITS
// =============================================================================

// IntakeConfig bounds what a single session may send.
type IntakeConfig struct {
	RateLimitMax    int           // Inputs allowed per session per window
	RateLimitWindow time.Duration // Sliding window for the input counter
	MaxMsgBytes     int           // Serialized INPUT messages above this are dropped
	MaxSequenceJump uint32        // Anti-speedhack: max seq delta per message
	MaxInvalidMsgs  int           // Parse errors in window before the session is closed
}

// DefaultIntake returns production-safe intake limits.
func DefaultIntake() IntakeConfig {
	return IntakeConfig{
		RateLimitMax:    60,
		RateLimitWindow: time.Second,
		MaxMsgBytes:     1024,
		MaxSequenceJump: 30,
		MaxInvalidMsgs:  20,
	}
}

// IntakeFromEnv returns intake limits with environment overrides.
func IntakeFromEnv() IntakeConfig {
	cfg := DefaultIntake()

	if v := getEnvInt("RATE_LIMIT_MAX", 0); v > 0 {
		cfg.RateLimitMax = v
	}
	if v := getEnvInt("MAX_MSG_BYTES", 0); v > 0 {
		cfg.MaxMsgBytes = v
	}
	if v := getEnvInt("MAX_SEQUENCE_JUMP", 0); v > 0 {
		cfg.MaxSequenceJump = uint32(v)
	}

	return cfg
}

// =============================================================================
// ROOM CONFIGURATION
// =============================================================================

// RoomConfig holds per-room dispatcher settings.
type RoomConfig struct {
	MaxClients          int           // Per-room client cap
	MaxEntitiesPerOwner int           // Anti-DoS cap on entities (incl. bots) per client
	IdleTimeout         time.Duration // Dispose room after this long with zero clients
	SnapshotCRC         bool          // Append crc32 trailer to snapshot frames
	DeltaSnapshots      bool          // Skip near-stationary entities between full refreshes
	EventLogDir         string        // Directory for per-room audit logs; empty disables
}

// DefaultRoom returns the default room configuration.
func DefaultRoom() RoomConfig {
	return RoomConfig{
		MaxClients:          50,
		MaxEntitiesPerOwner: 5,
		IdleTimeout:         2 * time.Minute,
		SnapshotCRC:         false,
	}
}

// RoomFromEnv returns room configuration with environment overrides.
func RoomFromEnv() RoomConfig {
	cfg := DefaultRoom()

	if v := getEnvInt("MAX_CLIENTS", 0); v > 0 {
		cfg.MaxClients = v
	}
	if v := getEnvInt("MAX_ENTITIES_PER_CLIENT", 0); v > 0 {
		cfg.MaxEntitiesPerOwner = v
	}
	if v := getEnvInt("IDLE_TIMEOUT_SEC", 0); v > 0 {
		cfg.IdleTimeout = time.Duration(v) * time.Second
	}
	if os.Getenv("SNAPSHOT_CRC") == "true" {
		cfg.SnapshotCRC = true
	}
	if os.Getenv("DELTA_SNAPSHOTS") == "true" {
		cfg.DeltaSnapshots = true
	}
	cfg.EventLogDir = os.Getenv("EVENT_LOG_DIR")

	return cfg
}

// =============================================================================
// SERVER CONFIGURATION
// =============================================================================

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port int

	// TrustProxy uses proxy-supplied client IP headers for rate limiting.
	// SECURITY: only enable when the server actually sits behind a trusted
	// proxy; otherwise the socket remote address is used.
	TrustProxy bool

	RoomCreateMax int           // Per-IP new-room limit per RoomCreateWin
	RoomCreateWin time.Duration // Window for the room-create limiter
}

// DefaultServer returns the default server configuration.
func DefaultServer() ServerConfig {
	return ServerConfig{
		Port:          3000,
		TrustProxy:    false,
		RoomCreateMax: 5,
		RoomCreateWin: time.Minute,
	}
}

// ServerFromEnv returns server configuration with environment overrides.
func ServerFromEnv() ServerConfig {
	cfg := DefaultServer()

	if v := getEnvInt("PORT", 0); v > 0 {
		cfg.Port = v
	}
	if os.Getenv("TRUST_PROXY") == "true" {
		cfg.TrustProxy = true
	}
	if v := getEnvInt("ROOM_CREATE_MAX", 0); v > 0 {
		cfg.RoomCreateMax = v
	}

	return cfg
}

// =============================================================================
// CLIENT CONFIGURATION
// =============================================================================

// ClientConfig holds prediction/interpolation settings for the local client.
type ClientConfig struct {
	TickRateHz         int           // Local singleplayer/prediction rate
	InterpDelay        time.Duration // Render delay for remote entities
	SnapshotBuffer     int           // Interpolation ring size
	ReconcileThreshold float64       // Snap-vs-lerp cutoff in world units
	PendingInputCap    int           // Pending-input ring capacity
	ReconnectMaxDelay  time.Duration // Backoff cap
	ReconnectAttempts  int           // Attempts before entering offline mode
}

// DefaultClient returns the default client configuration.
func DefaultClient() ClientConfig {
	return ClientConfig{
		TickRateHz:         60,
		InterpDelay:        100 * time.Millisecond,
		SnapshotBuffer:     20,
		ReconcileThreshold: 4,
		PendingInputCap:    256,
		ReconnectMaxDelay:  30 * time.Second,
		ReconnectAttempts:  10,
	}
}

// ClientFromEnv returns client configuration with environment overrides.
func ClientFromEnv() ClientConfig {
	cfg := DefaultClient()

	if v := getEnvInt("INTERP_DELAY_MS", 0); v > 0 {
		cfg.InterpDelay = time.Duration(v) * time.Millisecond
	}
	if v := getEnvInt("SNAPSHOT_BUFFER", 0); v > 0 {
		cfg.SnapshotBuffer = v
	}
	if v := getEnvFloat("RECONCILE_THRESHOLD", 0); v > 0 {
		cfg.ReconcileThreshold = v
	}

	return cfg
}

// =============================================================================
// LOGGING
// =============================================================================

// LogConfig controls structured logging output.
type LogConfig struct {
	JSON bool // Emit JSON records (slog JSONHandler); on by default in prod
}

// LogFromEnv returns logging configuration with environment overrides.
func LogFromEnv() LogConfig {
	cfg := LogConfig{JSON: os.Getenv("ENV") == "production"}

	switch os.Getenv("LOG_JSON") {
	case "true", "on", "1":
		cfg.JSON = true
	case "false", "off", "0":
		cfg.JSON = false
	}

	return cfg
}

// =============================================================================
// COMPLETE APP CONFIGURATION
// =============================================================================

// AppConfig holds the complete application configuration.
type AppConfig struct {
	Sim    SimConfig
	Intake IntakeConfig
	Room   RoomConfig
	Server ServerConfig
	Client ClientConfig
	Log    LogConfig
	Tuning Tuning
}

// Load returns the complete configuration with environment overrides.
// The gameplay tuning document comes from TUNING_PATH if set, otherwise
// from the embedded defaults.
func Load() (AppConfig, error) {
	tuning, err := LoadTuning(os.Getenv("TUNING_PATH"))
	if err != nil {
		return AppConfig{}, err
	}

	return AppConfig{
		Sim:    SimFromEnv(),
		Intake: IntakeFromEnv(),
		Room:   RoomFromEnv(),
		Server: ServerFromEnv(),
		Client: ClientFromEnv(),
		Log:    LogFromEnv(),
		Tuning: tuning,
	}, nil
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

func getEnvInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return defaultVal
}
