package snapshot

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"opwar.ai/internal/sim/tuning"
)

func sample() SnapshotV1 {
	return SnapshotV1{
		Header:     Header{Version: Version, ScenarioID: "meeting", Time: 360},
		Seed:       7,
		Tuning:     tuning.Defaults(),
		Objectives: map[string]int{"0,0": 10},
		Clock: ClockV1{Now: 360, NextSeq: 12, Events: []EventV1{
			{Seq: 11, FireTime: 400, Kind: "ORDER_TICK", TargetKind: "detachment", TargetID: "D000001"},
		}},
		Units: []UnitV1{{ID: "blue1", Side: "BLUE", Personnel: 1000, Combatant: true, Placed: true}},
		Detachments: []DetachmentV1{{
			ID: "D000001", UnitID: "blue1", Side: "BLUE", Hex: [2]int{1, -1}, Mode: "MOVE", Visible: true,
			FatigueAcc: 1200,
			Orders: []OrderV1{{ID: "O000001", Kind: "MOVE", Dest: [2]int{3, -1}, Rate: "NORMAL", State: "ACTIVE", Event: 11}},
		}},
		Counters: CountersV1{Detachment: 1, Order: 1, Command: 4},
	}
}

func TestWriteRead_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snapshots", "360.snap.zst")
	want := sample()
	if err := WriteSnapshot(path, want); err != nil {
		t.Fatalf("WriteSnapshot: %v", err)
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Fatalf("temp file left behind: %v", err)
	}
	h, err := ReadHeader(path)
	if err != nil {
		t.Fatalf("ReadHeader: %v", err)
	}
	if h != want.Header {
		t.Fatalf("header: %+v", h)
	}
	got, err := ReadSnapshot(path)
	if err != nil {
		t.Fatalf("ReadSnapshot: %v", err)
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("round trip mismatch:\n got %+v\nwant %+v", got, want)
	}
}

func TestReadSnapshot_RejectsUnknownVersion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "v2.snap.zst")
	s := sample()
	s.Header.Version = 2
	if err := WriteSnapshot(path, s); err != nil {
		t.Fatal(err)
	}
	if _, err := ReadSnapshot(path); !errors.Is(err, ErrVersion) {
		t.Fatalf("want ErrVersion, got %v", err)
	}
}

func TestReadSnapshot_RejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.snap.zst")
	if err := os.WriteFile(path, []byte("not a snapshot"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := ReadSnapshot(path); err == nil {
		t.Fatalf("expected error")
	}
	if _, err := ReadHeader(path); err == nil {
		t.Fatalf("expected header error")
	}
}
