package config

import (
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

//go:embed defaults.yaml
var defaultsYAML []byte

// Tuning holds gameplay numbers that designers iterate on without code
// changes. It is loaded once at startup and treated as immutable afterwards.
type Tuning struct {
	Rings  []RingTuning `yaml:"rings"`
	Player PlayerTuning `yaml:"player"`
	Food   FoodTuning   `yaml:"food"`
	Skills SkillsTuning `yaml:"skills"`
}

// RingTuning defines one radial band of the arena, outermost first.
type RingTuning struct {
	Name            string  `yaml:"name"`
	OuterRadius     float64 `yaml:"outer_radius"`
	InnerRadius     float64 `yaml:"inner_radius"`
	EntryMatch      float64 `yaml:"entry_match"`      // match% required to commit to this ring
	SpawnInterval   float64 `yaml:"spawn_interval"`   // seconds between food bursts
	BurstSize       int     `yaml:"burst_size"`       // food entities per burst
	FoodRadius      float64 `yaml:"food_radius"`
	SpeedMultiplier float64 `yaml:"speed_multiplier"` // applied to MaxSpeedBase inside the band
}

// PlayerTuning defines spawn-time player stats.
type PlayerTuning struct {
	Radius            float64 `yaml:"radius"`
	MaxHP             float64 `yaml:"max_hp"`
	MassDensity       float64 `yaml:"mass_density"` // mass = density * pi * r^2
	Accel             float64 `yaml:"accel"`
	MagnetRadius      float64 `yaml:"magnet_radius"`
	RespawnHPFraction float64 `yaml:"respawn_hp_fraction"`
}

// FoodTuning defines what absorbing one food entity is worth.
type FoodTuning struct {
	Score     float64 `yaml:"score"`
	MatchGain float64 `yaml:"match_gain"`
	MatchLoss float64 `yaml:"match_loss"`
	HPRestore float64 `yaml:"hp_restore"`
}

// SkillTuning defines one skill's timing and strength.
type SkillTuning struct {
	ID        int     `yaml:"id"`
	Cooldown  float64 `yaml:"cooldown"`
	Duration  float64 `yaml:"duration"`
	Magnitude float64 `yaml:"magnitude"`
}

// SkillsTuning is the fixed skill table. Individual skill formulas are hooks;
// only timing and a single scalar live here.
type SkillsTuning struct {
	Dash  SkillTuning `yaml:"dash"`
	Eject SkillTuning `yaml:"eject"`
}

// LoadTuning parses the embedded defaults, then overlays the YAML file at
// path if one is given. An empty path means defaults only.
func LoadTuning(path string) (Tuning, error) {
	var t Tuning
	if err := yaml.Unmarshal(defaultsYAML, &t); err != nil {
		return Tuning{}, fmt.Errorf("parse embedded tuning: %w", err)
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Tuning{}, fmt.Errorf("read tuning %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &t); err != nil {
			return Tuning{}, fmt.Errorf("parse tuning %s: %w", path, err)
		}
	}

	if err := t.validate(); err != nil {
		return Tuning{}, fmt.Errorf("tuning: %w", err)
	}
	return t, nil
}

func (t Tuning) validate() error {
	if len(t.Rings) == 0 {
		return fmt.Errorf("at least one ring is required")
	}
	prev := t.Rings[0].OuterRadius + 1
	for i, r := range t.Rings {
		if r.OuterRadius <= r.InnerRadius {
			return fmt.Errorf("ring %q: outer_radius must exceed inner_radius", r.Name)
		}
		if r.OuterRadius >= prev {
			return fmt.Errorf("ring %d (%q): rings must be ordered outermost first", i, r.Name)
		}
		if r.EntryMatch < 0 || r.EntryMatch > 1 {
			return fmt.Errorf("ring %q: entry_match must be in [0,1]", r.Name)
		}
		if r.BurstSize < 0 || r.SpawnInterval <= 0 {
			return fmt.Errorf("ring %q: invalid spawner settings", r.Name)
		}
		prev = r.OuterRadius
	}
	if t.Player.Radius <= 0 || t.Player.MaxHP <= 0 || t.Player.MassDensity <= 0 {
		return fmt.Errorf("player radius, max_hp and mass_density must be positive")
	}
	return nil
}

// RingIndexAt returns the index of the ring band containing distance d from
// the arena center. Distances beyond the outermost band clamp to ring 0.
func (t Tuning) RingIndexAt(d float64) int {
	for i := len(t.Rings) - 1; i > 0; i-- {
		if d < t.Rings[i].OuterRadius {
			return i
		}
	}
	return 0
}
