package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"opwar.ai/internal/observerproto"
)

func TestFetchAndPrintState(t *testing.T) {
	view := observerproto.BootstrapResponse{
		ProtocolVersion: observerproto.Version,
		ScenarioID:      "meeting",
		Seed:            7,
		Time:            24*60 + 90,
		Pending:         3,
		Victory:         map[string]int{"RED": 2, "BLUE": 5},
		Detachments: []observerproto.DetachmentState{
			{ID: "D000001", UnitID: "blue1", Side: "BLUE", Hex: [2]int{0, 0}, Mode: "DEFEND", Combat: "C000001"},
			{ID: "D000002", UnitID: "red1", Side: "RED", Hex: [2]int{1, 0}, Mode: "MOVE", Fatigue: 40, Order: "O000003", Queued: 1},
		},
		Combats: []observerproto.CombatState{
			{ID: "C000001", Hex: [2]int{0, 0}, State: "ENGAGED", Defenders: []string{"D000001"}, Checks: 2},
		},
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/observer/bootstrap" {
			http.NotFound(w, r)
			return
		}
		_ = json.NewEncoder(w).Encode(view)
	}))
	defer srv.Close()

	st, err := fetchState(srv.Client(), srv.URL+"/")
	if err != nil {
		t.Fatalf("fetchState: %v", err)
	}
	var b strings.Builder
	printState(&b, st)
	out := b.String()
	for _, want := range []string{
		"scenario meeting seed 7 at D1+01:30, 3 events pending",
		"victory BLUE=5 RED=2",
		"D000002",
		"O000003",
		"C000001",
		"ENGAGED",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %q in:\n%s", want, out)
		}
	}
}

func TestFetchStateErrors(t *testing.T) {
	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no game attached", http.StatusServiceUnavailable)
	}))
	defer down.Close()
	if _, err := fetchState(down.Client(), down.URL); err == nil || !strings.Contains(err.Error(), "no game attached") {
		t.Fatalf("503: %v", err)
	}

	old := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"protocol_version":"0.0"}`))
	}))
	defer old.Close()
	if _, err := fetchState(old.Client(), old.URL); err == nil {
		t.Fatalf("expected protocol mismatch")
	}
}
