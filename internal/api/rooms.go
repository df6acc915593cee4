package api

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"prism-arena/internal/config"
	"prism-arena/internal/game"
)

// reapInterval is how often the manager sweeps for idle rooms.
const reapInterval = 30 * time.Second

// RoomManager owns the set of live rooms: creation, lookup, and the idle
// reaper that disposes rooms nobody occupies.
type RoomManager struct {
	cfg     config.AppConfig
	log     *slog.Logger
	metrics game.Metrics

	mu    sync.RWMutex
	rooms map[string]*Room

	stopChan chan struct{}
	stopOnce sync.Once
}

// NewRoomManager creates the manager. The reaper does not run until Start.
func NewRoomManager(cfg config.AppConfig, log *slog.Logger, metrics game.Metrics) *RoomManager {
	return &RoomManager{
		cfg:      cfg,
		log:      log,
		metrics:  metrics,
		rooms:    make(map[string]*Room),
		stopChan: make(chan struct{}),
	}
}

// Start launches the idle reaper.
func (m *RoomManager) Start() {
	go m.reapLoop()
}

// Stop halts the reaper and disposes every room.
func (m *RoomManager) Stop() {
	m.stopOnce.Do(func() { close(m.stopChan) })

	m.mu.Lock()
	rooms := make([]*Room, 0, len(m.rooms))
	for _, r := range m.rooms {
		rooms = append(rooms, r)
	}
	m.rooms = make(map[string]*Room)
	m.mu.Unlock()

	for _, r := range rooms {
		r.Dispose()
	}
	UpdateRoomCount(0)
}

// Create makes a new room with a random ID.
func (m *RoomManager) Create() (*Room, error) {
	id, err := newRoomID()
	if err != nil {
		return nil, err
	}

	room := NewRoom(id, m.cfg, m.log, m.metrics)
	room.onDispose = m.remove

	m.mu.Lock()
	m.rooms[id] = room
	count := len(m.rooms)
	m.mu.Unlock()

	UpdateRoomCount(count)
	m.log.Info("room created", "room", id, "rooms", count)
	return room, nil
}

// Get returns a room by ID.
func (m *RoomManager) Get(id string) (*Room, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.rooms[id]
	return r, ok
}

// GetOrCreateDefault returns the room named "default", creating it on first
// use. Single-room deployments join through this.
func (m *RoomManager) GetOrCreateDefault() (*Room, error) {
	m.mu.Lock()
	if r, ok := m.rooms["default"]; ok {
		m.mu.Unlock()
		return r, nil
	}
	room := NewRoom("default", m.cfg, m.log, m.metrics)
	room.onDispose = m.remove
	m.rooms["default"] = room
	count := len(m.rooms)
	m.mu.Unlock()

	UpdateRoomCount(count)
	return room, nil
}

// Count returns the number of live rooms.
func (m *RoomManager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.rooms)
}

func (m *RoomManager) remove(id string) {
	m.mu.Lock()
	delete(m.rooms, id)
	count := len(m.rooms)
	m.mu.Unlock()
	UpdateRoomCount(count)
}

func (m *RoomManager) reapLoop() {
	ticker := time.NewTicker(reapInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopChan:
			return
		case <-ticker.C:
			m.reapIdle()
		}
	}
}

func (m *RoomManager) reapIdle() {
	m.mu.RLock()
	var idle []*Room
	for _, r := range m.rooms {
		if d, empty := r.IdleSince(); empty && d > m.cfg.Room.IdleTimeout {
			idle = append(idle, r)
		}
	}
	m.mu.RUnlock()

	for _, r := range idle {
		m.log.Info("reaping idle room", "room", r.ID)
		r.Dispose()
	}
}

func newRoomID() (string, error) {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("room id: %w", err)
	}
	return hex.EncodeToString(b), nil
}
