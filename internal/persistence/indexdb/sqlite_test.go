package indexdb

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	_ "modernc.org/sqlite"

	"opwar.ai/internal/persistence/snapshot"
	"opwar.ai/internal/sim/game"
	"opwar.ai/internal/sim/hexgrid"
	"opwar.ai/internal/sim/tuning"
	"opwar.ai/internal/sim/units"
)

func report(id string, blueLoss int) game.CombatReport {
	return game.CombatReport{
		ScenarioID: "meeting",
		CombatID:   id,
		Hex:        hexgrid.Coord{Q: 2, R: -1},
		Start:      60,
		End:        240,
		Checks:     5,
		Seed:       7,
		Winner:     "BLUE",
		Participants: []game.ParticipantReport{
			{UnitID: "blue1", DetachmentID: "D000001", Side: "BLUE", Role: game.RoleAttacker, Losses: blueLoss, AmmoUsed: 12},
			{UnitID: "red1", DetachmentID: "D000002", Side: "RED", Role: game.RoleDefender, Losses: 300, AmmoUsed: 9},
		},
	}
}

func TestSQLiteIndex_RunsAndCombats(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.db")
	idx, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	idx.BeginRun("run-1", "meeting", 7, tuning.Defaults())
	idx.RecordCombat(report("C000001", 100))
	idx.RecordCombat(report("C000002", 50))
	idx.BeginRun("run-2", "meeting", 8, tuning.Defaults())
	idx.RecordCombat(report("C000001", 25))
	idx.RecordSnapshot("/data/meeting/snapshots/360.snap.zst", snapshot.SnapshotV1{
		Header:      snapshot.Header{Version: snapshot.Version, ScenarioID: "meeting", Time: 360},
		Seed:        7,
		Detachments: make([]snapshot.DetachmentV1, 3),
	})
	if err := idx.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if st := idx.Stats(); st.DropCombatTotal != 0 || st.WriteErrorTotal != 0 {
		t.Fatalf("stats: %+v", st)
	}

	rd, err := OpenReader(path)
	if err != nil {
		t.Fatalf("OpenReader: %v", err)
	}
	defer rd.Close()
	ctx := context.Background()

	runs, err := rd.Runs(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 2 || runs[0].RunID != "run-1" || runs[0].Combats != 2 || runs[1].Combats != 1 {
		t.Fatalf("runs: %+v", runs)
	}
	if runs[0].TuningDigest == "" || runs[0].TuningDigest != runs[1].TuningDigest {
		t.Fatalf("tuning digest: %q %q", runs[0].TuningDigest, runs[1].TuningDigest)
	}

	combats, err := rd.Combats(ctx, "run-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(combats) != 2 || combats[0].Q != 2 || combats[0].R != -1 || combats[0].Winner != "BLUE" {
		t.Fatalf("combats: %+v", combats)
	}
	all, err := rd.Combats(ctx, "")
	if err != nil || len(all) != 3 {
		t.Fatalf("all combats: %d %v", len(all), err)
	}

	totals, err := rd.UnitTotals(ctx, "")
	if err != nil {
		t.Fatal(err)
	}
	if len(totals) != 2 || totals[0].UnitID != "blue1" || totals[0].Losses != 175 || totals[0].Combats != 3 {
		t.Fatalf("totals: %+v", totals)
	}

	snaps, err := rd.Snapshots(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(snaps) != 1 || snaps[0].Time != 360 || snaps[0].Detachments != 3 {
		t.Fatalf("snapshots: %+v", snaps)
	}
}

func TestSQLiteIndex_DropsWhenQueueFull(t *testing.T) {
	s := &SQLiteIndex{ch: make(chan req, 1)}
	s.run.Store("")
	s.ch <- req{kind: reqCombat}

	s.RecordCombat(report("C000001", 1))
	s.RecordSnapshot("/tmp/x.snap.zst", snapshot.SnapshotV1{})
	s.BeginRun("r", "s", 1, tuning.Tuning{})

	st := s.Stats()
	if st.DropCombatTotal != 1 || st.DropSnapshotTotal != 1 || st.DropRunTotal != 1 {
		t.Fatalf("drops: %+v", st)
	}
	if st.QueueDepth != 1 || st.QueueCapacity != 1 {
		t.Fatalf("queue stats mismatch: depth=%d cap=%d", st.QueueDepth, st.QueueCapacity)
	}
}

// The index is a TallySink: a played combat lands in it.
func TestSQLiteIndex_RecordsGameCombats(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.db")
	idx, err := OpenSQLite(path)
	if err != nil {
		t.Fatal(err)
	}
	r := units.NewRoster()
	_ = r.Add(&units.Unit{ID: "a", Side: "BLUE", Personnel: 900, Equipment: 20, Ammo: 60, Combatant: true})
	_ = r.Add(&units.Unit{ID: "d", Side: "RED", Personnel: 500, Equipment: 5, Ammo: 60, Combatant: true})
	g, err := game.New(game.Config{ID: "skirmish", Seed: 3}, r, game.Options{Tally: []game.TallySink{idx}})
	if err != nil {
		t.Fatal(err)
	}
	idx.BeginRun("skirmish-3", "skirmish", 3, g.Config().Tuning)
	atk, _ := g.PlaceUnit("a", hexgrid.Coord{Q: 0, R: 1}, units.ModeAttack, true)
	def, _ := g.PlaceUnit("d", hexgrid.Coord{}, units.ModeDefend, true)
	for _, d := range []*game.Detachment{atk, def} {
		if _, err := g.Involve(d.ID, hexgrid.Coord{}, 0, ""); err != nil {
			t.Fatal(err)
		}
	}
	if err := g.Execute(7 * 24 * 60); err != nil {
		t.Fatal(err)
	}
	if err := idx.Close(); err != nil {
		t.Fatal(err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("sql.Open: %v", err)
	}
	defer db.Close()
	var n int
	if err := db.QueryRow(`SELECT COUNT(*) FROM participants WHERE run_id='skirmish-3'`).Scan(&n); err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Fatalf("participants: %d", n)
	}
}
