package tuning

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type Tuning struct {
	// Minutes to cross one hex at each march rate.
	MinutesPerHex MarchRates `yaml:"minutes_per_hex"`

	// Minutes to adopt a new mode, keyed by mode name. Missing modes use DefaultModeChangeMinutes.
	ModeChangeMinutes        map[string]int `yaml:"mode_change_minutes"`
	DefaultModeChangeMinutes int            `yaml:"default_mode_change_minutes"`

	Combat  Combat  `yaml:"combat"`
	Fatigue Fatigue `yaml:"fatigue"`

	// Step used by cmd/wargame between Execute calls.
	StepMinutes int `yaml:"step_minutes"`
}

type MarchRates struct {
	Slow   int `yaml:"slow"`
	Normal int `yaml:"normal"`
	Fast   int `yaml:"fast"`
}

type Combat struct {
	CheckMinutes     int `yaml:"check_minutes"`
	MinCheckMinutes  int `yaml:"min_check_minutes"`
	LossRatePermille int `yaml:"loss_rate_permille"`
	AmmoPerCheck     int `yaml:"ammo_per_check"`
	// A side whose strength falls below this share of its starting strength disengages.
	BreakPermille int `yaml:"break_permille"`
	// Extra defender weight when the attacker crosses a river or coast edge.
	RiverDefensePermille int `yaml:"river_defense_permille"`
	CoastDefensePermille int `yaml:"coast_defense_permille"`
}

type Fatigue struct {
	MovePerHourPermille   int `yaml:"move_per_hour_permille"`
	CombatPerHourPermille int `yaml:"combat_per_hour_permille"`
	RestPerHourPermille   int `yaml:"rest_per_hour_permille"`
}

func Defaults() Tuning {
	t := Tuning{}
	t.ApplyDefaults()
	return t
}

func (t *Tuning) ApplyDefaults() {
	if t.MinutesPerHex.Slow <= 0 {
		t.MinutesPerHex.Slow = 90
	}
	if t.MinutesPerHex.Normal <= 0 {
		t.MinutesPerHex.Normal = 60
	}
	if t.MinutesPerHex.Fast <= 0 {
		t.MinutesPerHex.Fast = 40
	}
	if t.DefaultModeChangeMinutes <= 0 {
		t.DefaultModeChangeMinutes = 30
	}
	if t.ModeChangeMinutes == nil {
		t.ModeChangeMinutes = map[string]int{
			"ATTACK":    60,
			"DEFEND":    45,
			"ENTRAINED": 120,
		}
	}
	c := &t.Combat
	if c.CheckMinutes <= 0 {
		c.CheckMinutes = 30
	}
	if c.MinCheckMinutes <= 0 {
		c.MinCheckMinutes = 10
	}
	if c.LossRatePermille <= 0 {
		c.LossRatePermille = 40
	}
	if c.AmmoPerCheck <= 0 {
		c.AmmoPerCheck = 5
	}
	if c.BreakPermille <= 0 || c.BreakPermille >= 1000 {
		c.BreakPermille = 600
	}
	if c.RiverDefensePermille <= 0 {
		c.RiverDefensePermille = 1500
	}
	if c.CoastDefensePermille <= 0 {
		c.CoastDefensePermille = 2000
	}
	f := &t.Fatigue
	if f.MovePerHourPermille <= 0 {
		f.MovePerHourPermille = 20
	}
	if f.CombatPerHourPermille <= 0 {
		f.CombatPerHourPermille = 60
	}
	if f.RestPerHourPermille <= 0 {
		f.RestPerHourPermille = 40
	}
	if t.StepMinutes <= 0 {
		t.StepMinutes = 60
	}
}

// Load reads a tuning.yaml. Unset keys take their defaults.
func Load(path string) (Tuning, error) {
	var t Tuning
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, err
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	t.ApplyDefaults()
	return t, nil
}
