package scenario

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"opwar.ai/internal/sim/game"
	"opwar.ai/internal/sim/hexgrid"
	"opwar.ai/internal/sim/tuning"
	"opwar.ai/internal/sim/units"
)

func TestLoad_MeetingScenario(t *testing.T) {
	sc, err := Load("../../../configs/scenarios/meeting.yaml")
	if err != nil {
		t.Fatalf("load meeting.yaml: %v", err)
	}
	tu, err := tuning.Load("../../../configs/tuning.yaml")
	if err != nil {
		t.Fatalf("load tuning.yaml: %v", err)
	}
	g, err := sc.Build(tu, game.Options{})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if got := len(g.Detachments()); got != 4 {
		t.Fatalf("placed detachments: got %d want 4", got)
	}
	if u, _ := g.Roster().Get("red-11bde"); u.Placed {
		t.Fatalf("unit without hex should stay off the map")
	}
	hq, err := g.DetachmentByUnit("blue-hq")
	if err != nil {
		t.Fatal(err)
	}
	if hq.Visible {
		t.Fatalf("visible: false not honoured")
	}
	if hq.Unit().Combatant {
		t.Fatalf("combatant: false not honoured")
	}

	if err := g.Execute(6 * 60); err != nil {
		t.Fatalf("execute: %v", err)
	}
	blue, _ := g.DetachmentByUnit("blue-1bde")
	if blue.Hex != (hexgrid.Coord{}) {
		t.Fatalf("blue-1bde should hold the objective, at %s", blue.Hex)
	}
	if hq.Mode != units.ModeEntrained {
		t.Fatalf("hq mode: %s", hq.Mode)
	}
	if g.Victory()["BLUE"] != 13 {
		t.Fatalf("victory: %v", g.Victory())
	}
}

func TestBuild_Deterministic(t *testing.T) {
	sc, err := Load("../../../configs/scenarios/meeting.yaml")
	if err != nil {
		t.Fatal(err)
	}
	build := func() *game.Game {
		g, err := sc.Build(tuning.Defaults(), game.Options{})
		if err != nil {
			t.Fatal(err)
		}
		if err := g.Execute(24 * 60); err != nil {
			t.Fatal(err)
		}
		return g
	}
	if a, b := build(), build(); !game.Equal(a, b) {
		t.Fatalf("two builds diverged")
	}
}

func TestBuild_InvolvesCombats(t *testing.T) {
	p := filepath.Join(t.TempDir(), "s.yaml")
	raw := `
id: skirmish
seed: 9
units:
  - {id: a, side: BLUE, personnel: 500, equipment: 5, ammo: 50, hex: {q: 1, r: 0}, mode: ATTACK}
  - {id: d, side: RED, personnel: 400, equipment: 4, ammo: 50, hex: {q: 0, r: 0}, mode: DEFEND}
combats:
  - {unit: a, hex: {q: 0, r: 0}, preparation: 300, edge: RIVER}
  - {unit: d}
`
	if err := os.WriteFile(p, []byte(raw), 0o644); err != nil {
		t.Fatal(err)
	}
	sc, err := Load(p)
	if err != nil {
		t.Fatal(err)
	}
	g, err := sc.Build(tuning.Defaults(), game.Options{})
	if err != nil {
		t.Fatal(err)
	}
	c, ok := g.CombatAt(hexgrid.Coord{})
	if !ok || c.State != game.CombatEngaged {
		t.Fatalf("want engaged combat, got %+v", c)
	}
	if c.Attackers[0].Edge != hexgrid.EdgeRiver || c.Attackers[0].Preparation != 300 {
		t.Fatalf("attacker: %+v", c.Attackers[0])
	}
}

func TestValidate_Rejects(t *testing.T) {
	cases := map[string]string{
		"missing id":     "units: []",
		"duplicate unit": "id: x\nunits:\n  - {id: a, side: B}\n  - {id: a, side: B}",
		"bad mode":       "id: x\nunits:\n  - {id: a, side: B, mode: DANCE}",
		"unknown unit":   "id: x\norders:\n  - {unit: ghost, order: {kind: MOVE}}",
		"bad edge":       "id: x\nunits:\n  - {id: a, side: B}\ncombats:\n  - {unit: a, edge: CLIFF}",
	}
	for name, raw := range cases {
		p := filepath.Join(t.TempDir(), "s.yaml")
		if err := os.WriteFile(p, []byte(raw), 0o644); err != nil {
			t.Fatal(err)
		}
		if _, err := Load(p); err == nil {
			t.Fatalf("%s: expected error", name)
		} else if !strings.Contains(err.Error(), "s.yaml") {
			t.Fatalf("%s: error should name the file: %v", name, err)
		}
	}
}
