package game

import (
	"fmt"
	"os"
	"time"

	"github.com/gocarina/gocsv"
)

// Tick phase names, in execution order.
const (
	PhaseInputs    = "inputs"
	PhaseMovement  = "movement"
	PhasePhysics   = "physics"
	PhaseSkill     = "skill"
	PhaseRules     = "rules"
	PhaseSpawner   = "spawner"
	PhaseBroadcast = "broadcast"
)

var phaseOrder = []string{
	PhaseInputs, PhaseMovement, PhasePhysics, PhaseSkill,
	PhaseRules, PhaseSpawner, PhaseBroadcast,
}

const numPhases = 7

// perfSample holds one tick's timings, indexed by phase position.
type perfSample struct {
	Tick    int64
	Total   time.Duration
	ByPhase [numPhases]time.Duration
}

// PerfCollector times tick phases over a rolling window and can export the
// window as CSV for offline inspection of slow ticks.
type PerfCollector struct {
	window  []perfSample
	write   int
	count   int
	current perfSample
	started time.Time
	phaseAt time.Time
	phase   int
}

// NewPerfCollector creates a collector with the given rolling window size.
func NewPerfCollector(windowSize int) *PerfCollector {
	if windowSize < 1 {
		windowSize = 128
	}
	return &PerfCollector{window: make([]perfSample, windowSize)}
}

// StartTick begins timing a tick.
func (p *PerfCollector) StartTick(tick int64) {
	p.current = perfSample{Tick: tick}
	p.started = time.Now()
	p.phaseAt = p.started
	p.phase = 0
}

// EndPhase records the elapsed time for the next phase in order.
func (p *PerfCollector) EndPhase() {
	now := time.Now()
	if p.phase < len(p.current.ByPhase) {
		p.current.ByPhase[p.phase] = now.Sub(p.phaseAt)
	}
	p.phase++
	p.phaseAt = now
}

// EndTick closes the sample and returns the total tick duration.
func (p *PerfCollector) EndTick() time.Duration {
	p.current.Total = time.Since(p.started)
	p.window[p.write] = p.current
	p.write = (p.write + 1) % len(p.window)
	if p.count < len(p.window) {
		p.count++
	}
	return p.current.Total
}

// PhaseBreakdown formats the last sample's per-phase timings for the
// slow-tick warning.
func (p *PerfCollector) PhaseBreakdown() map[string]time.Duration {
	out := make(map[string]time.Duration, len(phaseOrder))
	last := (p.write - 1 + len(p.window)) % len(p.window)
	for i, name := range phaseOrder {
		if i < len(p.window[last].ByPhase) {
			out[name] = p.window[last].ByPhase[i]
		}
	}
	return out
}

// perfRecord is the CSV projection of one sample.
type perfRecord struct {
	Tick      int64   `csv:"tick"`
	TotalMs   float64 `csv:"total_ms"`
	InputsMs  float64 `csv:"inputs_ms"`
	MoveMs    float64 `csv:"movement_ms"`
	PhysicsMs float64 `csv:"physics_ms"`
	SkillMs   float64 `csv:"skill_ms"`
	RulesMs   float64 `csv:"rules_ms"`
	SpawnMs   float64 `csv:"spawner_ms"`
	BcastMs   float64 `csv:"broadcast_ms"`
}

// DumpCSV writes the current window to path, oldest sample first.
func (p *PerfCollector) DumpCSV(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("perf dump: %w", err)
	}
	defer f.Close()

	ms := func(d time.Duration) float64 { return float64(d) / float64(time.Millisecond) }

	records := make([]perfRecord, 0, p.count)
	start := (p.write - p.count + len(p.window)) % len(p.window)
	for n := 0; n < p.count; n++ {
		s := p.window[(start+n)%len(p.window)]
		records = append(records, perfRecord{
			Tick:      s.Tick,
			TotalMs:   ms(s.Total),
			InputsMs:  ms(s.ByPhase[0]),
			MoveMs:    ms(s.ByPhase[1]),
			PhysicsMs: ms(s.ByPhase[2]),
			SkillMs:   ms(s.ByPhase[3]),
			RulesMs:   ms(s.ByPhase[4]),
			SpawnMs:   ms(s.ByPhase[5]),
			BcastMs:   ms(s.ByPhase[6]),
		})
	}

	if err := gocsv.Marshal(records, f); err != nil {
		return fmt.Errorf("perf dump: %w", err)
	}
	return nil
}
