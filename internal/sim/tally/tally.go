package tally

import (
	"sort"
	"sync"

	"opwar.ai/internal/sim/game"
)

// Totals are the accumulated results for one unit.
type Totals struct {
	Combats  int `json:"combats"`
	Wins     int `json:"wins"`
	Losses   int `json:"losses"`
	AmmoUsed int `json:"ammo_used"`
}

// Run is one simulation run of a scenario.
type Run struct {
	Seed    int64 `json:"seed"`
	Combats int   `json:"combats"`
}

// Tally accumulates combat results per unit across repeated runs of a
// scenario. It implements game.TallySink.
type Tally struct {
	mu     sync.Mutex
	runs   []Run
	totals map[string]*Totals
}

func New() *Tally {
	return &Tally{totals: map[string]*Totals{}}
}

// BeginRun starts a new run. Reports recorded before the first BeginRun are
// counted in an implicit run with seed 0.
func (t *Tally) BeginRun(seed int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.runs = append(t.runs, Run{Seed: seed})
}

func (t *Tally) RecordCombat(r game.CombatReport) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.runs) == 0 {
		t.runs = append(t.runs, Run{})
	}
	t.runs[len(t.runs)-1].Combats++
	for _, p := range r.Participants {
		tot := t.totals[p.UnitID]
		if tot == nil {
			tot = &Totals{}
			t.totals[p.UnitID] = tot
		}
		tot.Combats++
		if r.Winner != "" && p.Side == r.Winner {
			tot.Wins++
		}
		tot.Losses += p.Losses
		tot.AmmoUsed += p.AmmoUsed
	}
}

func (t *Tally) Totals(unitID string) Totals {
	t.mu.Lock()
	defer t.mu.Unlock()
	if tot := t.totals[unitID]; tot != nil {
		return *tot
	}
	return Totals{}
}

func (t *Tally) Runs() []Run {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]Run(nil), t.runs...)
}

// Units lists every unit with a recorded combat, sorted.
func (t *Tally) Units() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, 0, len(t.totals))
	for id := range t.totals {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Mean is the unit's per-run average losses and ammunition use.
func (t *Tally) Mean(unitID string) (losses, ammo float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := len(t.runs)
	tot := t.totals[unitID]
	if n == 0 || tot == nil {
		return 0, 0
	}
	return float64(tot.Losses) / float64(n), float64(tot.AmmoUsed) / float64(n)
}
