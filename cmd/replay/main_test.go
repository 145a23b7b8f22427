package main

import (
	"strings"
	"testing"

	"opwar.ai/internal/sim/clock"
	"opwar.ai/internal/sim/game"
	"opwar.ai/internal/sim/scenario"
	"opwar.ai/internal/sim/tuning"
)

type memJournal struct{ entries []game.CommandLogEntry }

func (m *memJournal) WriteCommand(e game.CommandLogEntry) error {
	m.entries = append(m.entries, e)
	return nil
}

func recordRun(t *testing.T) (scenario.Scenario, []game.CommandLogEntry, *game.Game) {
	t.Helper()
	sc, err := scenario.Load("../../configs/scenarios/meeting.yaml")
	if err != nil {
		t.Fatal(err)
	}
	j := &memJournal{}
	g, err := sc.Build(tuning.Defaults(), game.Options{Commands: j})
	if err != nil {
		t.Fatal(err)
	}
	for _, until := range []int64{120, 480, 1440} {
		if err := g.Apply(game.Command{Kind: game.CmdExecute, Until: clock.SimTime(until)}); err != nil {
			t.Fatal(err)
		}
	}
	return sc, j.entries, g
}

func TestReplay_FromScenario(t *testing.T) {
	sc, entries, live := recordRun(t)
	g, err := sc.NewGame(tuning.Defaults(), game.Options{})
	if err != nil {
		t.Fatal(err)
	}
	checked, err := replay(g, entries, 0)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if checked != len(entries) {
		t.Fatalf("checked %d of %d", checked, len(entries))
	}
	if !game.Equal(g, live) {
		t.Fatalf("replayed game differs from the recorded one")
	}
}

func TestReplay_FromSnapshotSkipsApplied(t *testing.T) {
	sc, entries, _ := recordRun(t)
	g, err := sc.NewGame(tuning.Defaults(), game.Options{})
	if err != nil {
		t.Fatal(err)
	}
	half := len(entries) - 2
	if _, err := replay(g, entries, entries[half-1].Seq); err != nil {
		t.Fatal(err)
	}
	resumed, err := game.Import(g.Export(), game.Options{})
	if err != nil {
		t.Fatal(err)
	}
	checked, err := replay(resumed, entries, 0)
	if err != nil {
		t.Fatal(err)
	}
	if checked != 2 {
		t.Fatalf("checked %d, want 2", checked)
	}
}

func TestReplay_DetectsTampering(t *testing.T) {
	sc, entries, _ := recordRun(t)
	entries[len(entries)-1].Digest = strings.Repeat("0", 64)
	g, err := sc.NewGame(tuning.Defaults(), game.Options{})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := replay(g, entries, 0); err == nil || !strings.Contains(err.Error(), "digest mismatch") {
		t.Fatalf("want digest mismatch, got %v", err)
	}
}
