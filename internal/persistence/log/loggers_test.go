package log

import (
	"encoding/json"
	"testing"
	"time"

	"opwar.ai/internal/sim/game"
	"opwar.ai/internal/sim/hexgrid"
	"opwar.ai/internal/sim/units"
)

func TestJournal_RoundTripAcrossRotation(t *testing.T) {
	dir := t.TempDir()
	j := NewJournalLogger(dir)
	clockHour := time.Date(2026, 3, 1, 10, 59, 0, 0, time.UTC)
	j.w.now = func() time.Time { return clockHour }

	hex := hexgrid.Coord{Q: 1, R: -1}
	entries := []game.CommandLogEntry{
		{Seq: 1, Time: 0, Command: game.Command{Kind: game.CmdPlace, Unit: "u1", Hex: &hex, Mode: units.ModeDefend}, Digest: "aa"},
		{Seq: 2, Time: 60, Command: game.Command{Kind: game.CmdExecute, Until: 60}, Digest: "bb"},
	}
	if err := j.WriteCommand(entries[0]); err != nil {
		t.Fatal(err)
	}
	clockHour = clockHour.Add(2 * time.Minute)
	if err := j.WriteCommand(entries[1]); err != nil {
		t.Fatal(err)
	}
	if err := j.Close(); err != nil {
		t.Fatal(err)
	}

	files, err := Files(dir+"/journal", "commands")
	if err != nil || len(files) != 2 {
		t.Fatalf("files: %v %v", files, err)
	}
	got, err := ReadJournal(dir)
	if err != nil {
		t.Fatalf("ReadJournal: %v", err)
	}
	if len(got) != 2 || got[0].Seq != 1 || got[1].Command.Until != 60 || *got[0].Command.Hex != hex {
		t.Fatalf("journal: %+v", got)
	}
}

func TestNotificationLogger_WritesStream(t *testing.T) {
	dir := t.TempDir()
	l := NewNotificationLogger(dir)
	l.Observe(game.Notification{Kind: game.NotifyMoved, Detachment: "D000001", Time: 40})
	l.Observe(game.Notification{Kind: game.NotifyArrived, Detachment: "D000001", Time: 40})
	if err := l.Close(); err != nil {
		t.Fatal(err)
	}
	if l.Err() != nil {
		t.Fatal(l.Err())
	}
	var kinds []game.NotificationKind
	err := ReadJSONL(dir+"/events", "events", func(line []byte) error {
		var n game.Notification
		if err := json.Unmarshal(line, &n); err != nil {
			return err
		}
		kinds = append(kinds, n.Kind)
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(kinds) != 2 || kinds[0] != game.NotifyMoved {
		t.Fatalf("kinds: %v", kinds)
	}
}
