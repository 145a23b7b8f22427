package game

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"opwar.ai/internal/sim/hexgrid"
	"opwar.ai/internal/sim/orders"
	"opwar.ai/internal/sim/units"
)

func TestSchemas_ValidateEmittedRecords(t *testing.T) {
	compile := func(name string) *jsonschema.Schema {
		t.Helper()
		p := filepath.Join("..", "..", "..", "schemas", name)
		s, err := jsonschema.Compile(p)
		if err != nil {
			t.Fatalf("compile %s: %v", name, err)
		}
		return s
	}
	validate := func(s *jsonschema.Schema, what string, v any) {
		t.Helper()
		b, err := json.Marshal(v)
		if err != nil {
			t.Fatal(err)
		}
		var doc any
		if err := json.Unmarshal(b, &doc); err != nil {
			t.Fatal(err)
		}
		if err := s.Validate(doc); err != nil {
			t.Fatalf("%s %s: %v", what, b, err)
		}
	}

	notifSchema := compile("notification.schema.json")
	reportSchema := compile("combat_report.schema.json")
	journalSchema := compile("command_log.schema.json")

	var (
		notes   []Notification
		reports []CombatReport
	)
	j := &memJournal{}
	g, err := New(Config{ID: "schema", Seed: 5, Objectives: map[string]int{hexgrid.Coord{}.Key(): 4}}, testRoster(), Options{
		Resolver: &scripted{first: 20, next: 30, loss: 15, lastCheck: 2},
		Tally:    []TallySink{sinkFunc(func(r CombatReport) { reports = append(reports, r) })},
		Commands: j,
	})
	if err != nil {
		t.Fatal(err)
	}
	g.Subscribe(func(n Notification) { notes = append(notes, n) })

	origin := hexgrid.Coord{}
	east := hexgrid.Coord{Q: 1, R: 0}
	far := hexgrid.Coord{Q: 0, R: 3}
	cmds := []Command{
		{Kind: CmdPlace, Unit: "blue1", Hex: &origin, Mode: units.ModeDefend, Visible: true},
		{Kind: CmdPlace, Unit: "red1", Hex: &east, Mode: units.ModeAttack, Visible: true},
		{Kind: CmdPlace, Unit: "blue2", Hex: &far, Mode: units.ModeRest},
		{Kind: CmdPost, Unit: "blue2", Order: &OrderSpec{Kind: orders.KindMove, Dest: &origin, ResultMode: units.ModeDefend}},
		{Kind: CmdInvolve, Unit: "red1", Hex: &origin},
		{Kind: CmdInvolve, Unit: "blue1"},
		{Kind: CmdExecute, Until: 12 * 60},
		{Kind: CmdRemove, Unit: "blue2"},
	}
	for i, c := range cmds {
		if err := g.Apply(c); err != nil {
			t.Fatalf("command %d (%s): %v", i, c.Kind, err)
		}
	}

	if len(notes) == 0 || len(reports) != 1 || len(j.entries) != len(cmds) {
		t.Fatalf("notes=%d reports=%d journal=%d", len(notes), len(reports), len(j.entries))
	}
	seen := map[NotificationKind]bool{}
	for _, n := range notes {
		seen[n.Kind] = true
		validate(notifSchema, "notification", n)
	}
	for _, k := range []NotificationKind{NotifyChanged, NotifyMoved, NotifyOrderFinished, NotifyCombatEngaged, NotifyCombatResolved} {
		if !seen[k] {
			t.Fatalf("no %s notification emitted", k)
		}
	}
	for _, r := range reports {
		validate(reportSchema, "report", r)
	}
	for _, e := range j.entries {
		validate(journalSchema, "journal", e)
	}
}
