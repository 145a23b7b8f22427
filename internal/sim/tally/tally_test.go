package tally

import (
	"testing"

	"opwar.ai/internal/sim/game"
	"opwar.ai/internal/sim/hexgrid"
	"opwar.ai/internal/sim/units"
)

func TestTally_AccumulatesAcrossRuns(t *testing.T) {
	tl := New()
	report := func(winner units.Side, blueLoss, redLoss int) game.CombatReport {
		return game.CombatReport{
			CombatID: "C000001",
			Winner:   winner,
			Participants: []game.ParticipantReport{
				{UnitID: "blue1", Side: "BLUE", Role: game.RoleAttacker, Losses: blueLoss, AmmoUsed: 10},
				{UnitID: "red1", Side: "RED", Role: game.RoleDefender, Losses: redLoss, AmmoUsed: 4},
			},
		}
	}
	tl.BeginRun(1)
	tl.RecordCombat(report("BLUE", 100, 300))
	tl.BeginRun(2)
	tl.RecordCombat(report("RED", 200, 100))

	blue := tl.Totals("blue1")
	if blue.Combats != 2 || blue.Wins != 1 || blue.Losses != 300 || blue.AmmoUsed != 20 {
		t.Fatalf("blue totals: %+v", blue)
	}
	losses, ammo := tl.Mean("red1")
	if losses != 200 || ammo != 4 {
		t.Fatalf("red mean: %v %v", losses, ammo)
	}
	runs := tl.Runs()
	if len(runs) != 2 || runs[1].Seed != 2 || runs[1].Combats != 1 {
		t.Fatalf("runs: %+v", runs)
	}
	if got := tl.Units(); len(got) != 2 || got[0] != "blue1" {
		t.Fatalf("units: %v", got)
	}
	if (tl.Totals("nobody") != Totals{}) {
		t.Fatalf("unknown unit should be zero")
	}
}

// Repeated runs of the same scenario with the same seed tally identically.
func TestTally_GameRunsAreReproducible(t *testing.T) {
	runOnce := func(tl *Tally, seed int64) {
		r := units.NewRoster()
		_ = r.Add(&units.Unit{ID: "blue1", Side: "BLUE", Personnel: 1200, Equipment: 30, Ammo: 80, Combatant: true})
		_ = r.Add(&units.Unit{ID: "red1", Side: "RED", Personnel: 900, Equipment: 10, Ammo: 80, Combatant: true})
		g, err := game.New(game.Config{ID: "calib", Seed: seed}, r, game.Options{Tally: []game.TallySink{tl}})
		if err != nil {
			t.Fatal(err)
		}
		tl.BeginRun(seed)
		atk, err := g.PlaceUnit("blue1", hexgrid.Coord{Q: 1, R: 0}, units.ModeAttack, true)
		if err != nil {
			t.Fatal(err)
		}
		def, err := g.PlaceUnit("red1", hexgrid.Coord{}, units.ModeDefend, true)
		if err != nil {
			t.Fatal(err)
		}
		for _, d := range []*game.Detachment{atk, def} {
			if _, err := g.Involve(d.ID, hexgrid.Coord{}, 500, ""); err != nil {
				t.Fatal(err)
			}
		}
		if err := g.Execute(7 * 24 * 60); err != nil {
			t.Fatal(err)
		}
	}
	a, b := New(), New()
	for seed := int64(1); seed <= 3; seed++ {
		runOnce(a, seed)
		runOnce(b, seed)
	}
	if a.Totals("blue1") != b.Totals("blue1") || a.Totals("red1") != b.Totals("red1") {
		t.Fatalf("tallies diverged: %+v vs %+v", a.Totals("blue1"), b.Totals("blue1"))
	}
	if a.Totals("blue1").Combats != 3 {
		t.Fatalf("every run should resolve its combat: %+v", a.Totals("blue1"))
	}
}
