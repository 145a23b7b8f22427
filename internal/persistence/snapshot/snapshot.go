package snapshot

import (
	"bufio"
	"encoding/gob"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"

	"opwar.ai/internal/sim/tuning"
)

// Version is the only snapshot layout this build reads and writes.
const Version = 1

var ErrVersion = errors.New("unsupported snapshot version")

type Header struct {
	Version    int    `json:"version"`
	ScenarioID string `json:"scenario_id"`
	Time       int64  `json:"time"`
}

// SnapshotV1 is the full persisted game. Empty collections are nil so that
// a snapshot survives a gob round trip unchanged.
type SnapshotV1 struct {
	Header Header `json:"header"`

	Seed             int64          `json:"seed"`
	Start            int64          `json:"start"`
	Tuning           tuning.Tuning  `json:"tuning"`
	Objectives       map[string]int `json:"objectives,omitempty"`
	DefaultIntensity int            `json:"default_intensity"`

	Clock       ClockV1        `json:"clock"`
	Units       []UnitV1       `json:"units"`
	Detachments []DetachmentV1 `json:"detachments"`
	Combats     []CombatV1     `json:"combats"`
	Victory     map[string]int `json:"victory,omitempty"`
	Counters    CountersV1     `json:"counters"`
}

type ClockV1 struct {
	Now     int64     `json:"now"`
	NextSeq uint64    `json:"next_seq"`
	Events  []EventV1 `json:"events"`
}

type EventV1 struct {
	Seq        uint64 `json:"seq"`
	FireTime   int64  `json:"fire_time"`
	Kind       string `json:"kind"`
	TargetKind string `json:"target_kind"`
	TargetID   string `json:"target_id"`
}

type UnitV1 struct {
	ID        string `json:"id"`
	Name      string `json:"name,omitempty"`
	Side      string `json:"side"`
	Personnel int    `json:"personnel"`
	Equipment int    `json:"equipment"`
	Ammo      int    `json:"ammo"`
	Combatant bool   `json:"combatant"`
	Placed    bool   `json:"placed"`
}

type DetachmentV1 struct {
	ID             string    `json:"id"`
	UnitID         string    `json:"unit_id"`
	Side           string    `json:"side"`
	Hex            [2]int    `json:"hex"`
	Mode           string    `json:"mode"`
	Visible        bool      `json:"visible"`
	LastChecked    int64     `json:"last_checked"`
	PositionSince  int64     `json:"position_since"`
	TimeInPosition int64     `json:"time_in_position"`
	Intensity      int       `json:"intensity"`
	FatigueAcc     int64     `json:"fatigue_acc"`
	CombatID       string    `json:"combat_id,omitempty"`
	Orders         []OrderV1 `json:"orders,omitempty"`
}

type OrderV1 struct {
	ID         string `json:"id"`
	Kind       string `json:"kind"`
	Dest       [2]int `json:"dest"`
	ResultMode string `json:"result_mode,omitempty"`
	Rate       string `json:"rate,omitempty"`
	Mode       string `json:"mode,omitempty"`
	Unit       string `json:"unit,omitempty"`
	Target     string `json:"target,omitempty"`
	State      string `json:"state"`
	Cancelling bool   `json:"cancelling,omitempty"`
	Aborting   bool   `json:"aborting,omitempty"`
	Event      uint64 `json:"event,omitempty"`
	StartedAt  int64  `json:"started_at"`
	PrevMode   string `json:"prev_mode,omitempty"`
}

type CombatV1 struct {
	ID          string       `json:"id"`
	Hex         [2]int       `json:"hex"`
	State       string       `json:"state"`
	Attackers   []InvolvedV1 `json:"attackers,omitempty"`
	Defenders   []InvolvedV1 `json:"defenders,omitempty"`
	StartedAt   int64        `json:"started_at"`
	LastChecked int64        `json:"last_checked"`
	EndedAt     int64        `json:"ended_at"`
	Checks      int          `json:"checks"`
	Event       uint64       `json:"event,omitempty"`
	NextDelay   int64        `json:"next_delay"`
	WindowStart int64        `json:"window_start"`
	WindowEnd   int64        `json:"window_end"`
	Continues   bool         `json:"continues"`
	Winner      string       `json:"winner,omitempty"`
}

type InvolvedV1 struct {
	DetachmentID  string `json:"detachment_id"`
	UnitID        string `json:"unit_id"`
	Side          string `json:"side"`
	Role          string `json:"role"`
	Preparation   int    `json:"preparation"`
	Edge          string `json:"edge"`
	StartStrength int    `json:"start_strength"`
	Losses        int    `json:"losses"`
	AmmoUsed      int    `json:"ammo_used"`
	DrawLoss      int    `json:"draw_loss,omitempty"`
	DrawAmmo      int    `json:"draw_ammo,omitempty"`
	AppliedLoss   int    `json:"applied_loss,omitempty"`
	AppliedAmmo   int    `json:"applied_ammo,omitempty"`
}

// CountersV1 holds the id allocators so that a resumed game hands out the
// same ids as the original would have.
type CountersV1 struct {
	Detachment uint64 `json:"detachment"`
	Combat     uint64 `json:"combat"`
	Order      uint64 `json:"order"`
	Command    uint64 `json:"command"`
}

// WriteSnapshot writes a zstd stream holding a JSON header line followed by
// the gob-encoded snapshot. The file is written next to path and renamed into
// place so a crash never leaves a truncated snapshot behind.
func WriteSnapshot(path string, snap SnapshotV1) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if err := encode(f, snap); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

func encode(f *os.File, snap SnapshotV1) error {
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return err
	}
	bw := bufio.NewWriterSize(enc, 256*1024)

	hb, _ := json.Marshal(snap.Header)
	if _, err := bw.Write(hb); err != nil {
		enc.Close()
		return err
	}
	if err := bw.WriteByte('\n'); err != nil {
		enc.Close()
		return err
	}
	if err := gob.NewEncoder(bw).Encode(&snap); err != nil {
		enc.Close()
		return fmt.Errorf("gob encode: %w", err)
	}
	if err := bw.Flush(); err != nil {
		enc.Close()
		return err
	}
	return enc.Close()
}

// ReadHeader returns only the header line, without decoding the body.
func ReadHeader(path string) (Header, error) {
	var h Header
	f, err := os.Open(path)
	if err != nil {
		return h, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return h, err
	}
	defer dec.Close()

	line, err := bufio.NewReader(dec).ReadBytes('\n')
	if err != nil {
		return h, fmt.Errorf("read header: %w", err)
	}
	if err := json.Unmarshal(line, &h); err != nil {
		return h, fmt.Errorf("decode header: %w", err)
	}
	return h, nil
}

// ReadSnapshot decodes a snapshot written by WriteSnapshot. A header whose
// version this build does not know is rejected before the body is read.
func ReadSnapshot(path string) (SnapshotV1, error) {
	var snap SnapshotV1
	f, err := os.Open(path)
	if err != nil {
		return snap, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return snap, err
	}
	defer dec.Close()

	br := bufio.NewReaderSize(dec, 256*1024)

	line, err := br.ReadBytes('\n')
	if err != nil {
		return snap, fmt.Errorf("read header: %w", err)
	}
	var h Header
	if err := json.Unmarshal(line, &h); err != nil {
		return snap, fmt.Errorf("decode header: %w", err)
	}
	if h.Version != Version {
		return snap, fmt.Errorf("%w: %d", ErrVersion, h.Version)
	}
	if err := gob.NewDecoder(br).Decode(&snap); err != nil {
		return SnapshotV1{}, fmt.Errorf("gob decode: %w", err)
	}
	if snap.Header != h {
		return SnapshotV1{}, fmt.Errorf("snapshot header mismatch: %+v vs %+v", h, snap.Header)
	}
	return snap, nil
}
