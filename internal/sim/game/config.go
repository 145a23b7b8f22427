package game

import (
	"io"
	"log"

	"opwar.ai/internal/sim/clock"
	"opwar.ai/internal/sim/tuning"
)

type Config struct {
	ID    string
	Seed  int64
	Start clock.SimTime

	Tuning tuning.Tuning

	// Victory points per objective hex, keyed by hexgrid.Coord.Key().
	Objectives map[string]int

	// Intensity given to new detachments (permille).
	DefaultIntensity int
}

func (c *Config) applyDefaults() {
	if c.ID == "" {
		c.ID = "scenario"
	}
	c.Tuning.ApplyDefaults()
	if c.DefaultIntensity <= 0 {
		c.DefaultIntensity = 500
	}
}

// Options carries the collaborators a Game talks to. All are optional.
type Options struct {
	Logger   *log.Logger
	Resolver Resolver
	Tally    []TallySink
	Commands CommandSink
}

func (o *Options) applyDefaults(cfg Config) {
	if o.Logger == nil {
		o.Logger = log.New(io.Discard, "", 0)
	}
	if o.Resolver == nil {
		o.Resolver = NewAttritionModel(cfg.Tuning)
	}
}

// ReconcileMode selects whether MakeCurrent may schedule the entity's next
// check-point.
type ReconcileMode int

const (
	ScheduleNext ReconcileMode = iota
	DontScheduleNext
)
