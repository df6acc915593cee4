package game

import (
	"encoding/json"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// Event types written to the audit log.
const (
	EventPlayerJoin  = "player_join"
	EventPlayerLeave = "player_leave"
	EventBotSpawn    = "bot_spawn"
	EventDeath       = "death"
	EventRespawn     = "respawn"
	EventRingCommit  = "ring_commit"
	EventSlowTick    = "slow_tick"
	EventDisposed    = "room_disposed"
)

const (
	eventQueueSize     = 1024
	maxEventsPerSec    = 2000
	eventFlushInterval = 100 * time.Millisecond
)

// Event is one audit record, serialized as a JSON line.
type Event struct {
	Type    string         `json:"type"`
	Tick    int64          `json:"tick"`
	Slot    int            `json:"slot"`
	Time    time.Time      `json:"time"`
	Payload map[string]any `json:"payload,omitempty"`
}

// EventLog is a bounded, rate-limited audit log with an async batched
// writer. Emitting never blocks the tick: when the queue is full or the
// rate limit trips, the event is counted as dropped and discarded.
type EventLog struct {
	queue   chan Event
	limiter *rate.Limiter

	file   *os.File
	fileMu sync.Mutex

	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
	running  atomic.Bool

	total   atomic.Uint64
	dropped atomic.Uint64
}

// NewEventLog creates an event log. It stays inert until Start.
func NewEventLog() *EventLog {
	return &EventLog{
		queue:    make(chan Event, eventQueueSize),
		limiter:  rate.NewLimiter(maxEventsPerSec, maxEventsPerSec/10),
		stopChan: make(chan struct{}),
	}
}

// Start opens the output file (append) and begins the writer goroutine.
// An empty path keeps the log counting but writes nothing.
func (el *EventLog) Start(path string) error {
	if el.running.Swap(true) {
		return nil
	}
	if path != "" {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			el.running.Store(false)
			return err
		}
		el.file = f
	}
	el.wg.Add(1)
	go el.writeLoop()
	return nil
}

// Stop flushes and terminates the writer.
func (el *EventLog) Stop() {
	if !el.running.Load() {
		return
	}
	el.stopOnce.Do(func() { close(el.stopChan) })
	el.wg.Wait()
	if el.file != nil {
		el.file.Close()
	}
	el.running.Store(false)
}

// Emit queues an event. Safe to call from the tick; never blocks.
func (el *EventLog) Emit(typ string, tick int64, slot int, payload map[string]any) {
	el.total.Add(1)
	if !el.limiter.Allow() {
		el.dropped.Add(1)
		return
	}
	select {
	case el.queue <- Event{Type: typ, Tick: tick, Slot: slot, Time: time.Now(), Payload: payload}:
	default:
		el.dropped.Add(1)
	}
}

// Stats returns (total emitted, dropped).
func (el *EventLog) Stats() (total, dropped uint64) {
	return el.total.Load(), el.dropped.Load()
}

func (el *EventLog) writeLoop() {
	defer el.wg.Done()

	ticker := time.NewTicker(eventFlushInterval)
	defer ticker.Stop()

	batch := make([]Event, 0, 64)
	for {
		select {
		case ev := <-el.queue:
			batch = append(batch, ev)
			if len(batch) >= 64 {
				el.flush(batch)
				batch = batch[:0]
			}
		case <-ticker.C:
			if len(batch) > 0 {
				el.flush(batch)
				batch = batch[:0]
			}
		case <-el.stopChan:
			// Drain whatever is queued, then exit.
			for {
				select {
				case ev := <-el.queue:
					batch = append(batch, ev)
				default:
					el.flush(batch)
					return
				}
			}
		}
	}
}

func (el *EventLog) flush(batch []Event) {
	if el.file == nil || len(batch) == 0 {
		return
	}
	el.fileMu.Lock()
	defer el.fileMu.Unlock()

	enc := json.NewEncoder(el.file)
	for i := range batch {
		if err := enc.Encode(&batch[i]); err != nil {
			slog.Warn("event log write failed", "error", err)
			return
		}
	}
}
