package indexdb

import (
	"context"
	"database/sql"
	"fmt"
	"os"

	_ "modernc.org/sqlite"
)

// Reader runs read-only queries against an index file.
type Reader struct {
	db *sql.DB
}

func OpenReader(path string) (*Reader, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA query_only=ON;"); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Reader{db: db}, nil
}

func (r *Reader) Close() error { return r.db.Close() }

type RunRow struct {
	RunID        string `json:"run_id"`
	ScenarioID   string `json:"scenario_id"`
	Seed         int64  `json:"seed"`
	TuningDigest string `json:"tuning_digest"`
	StartedAt    string `json:"started_at"`
	Combats      int    `json:"combats"`
}

type CombatRow struct {
	RunID    string `json:"run_id"`
	CombatID string `json:"combat_id"`
	Q        int    `json:"q"`
	R        int    `json:"r"`
	Start    int64  `json:"start"`
	End      int64  `json:"end"`
	Checks   int    `json:"checks"`
	Winner   string `json:"winner"`
}

type UnitTotalsRow struct {
	UnitID   string `json:"unit_id"`
	Side     string `json:"side"`
	Combats  int    `json:"combats"`
	Losses   int    `json:"losses"`
	AmmoUsed int    `json:"ammo_used"`
}

type SnapshotRow struct {
	Path        string `json:"path"`
	Time        int64  `json:"time"`
	ScenarioID  string `json:"scenario_id"`
	Detachments int    `json:"detachments"`
	Combats     int    `json:"combats"`
}

func (r *Reader) Runs(ctx context.Context) ([]RunRow, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT r.run_id, r.scenario_id, r.seed, r.tuning_digest, r.started_at,
			(SELECT COUNT(*) FROM combats c WHERE c.run_id = r.run_id)
		FROM runs r ORDER BY r.started_at, r.run_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []RunRow
	for rows.Next() {
		var x RunRow
		if err := rows.Scan(&x.RunID, &x.ScenarioID, &x.Seed, &x.TuningDigest, &x.StartedAt, &x.Combats); err != nil {
			return nil, err
		}
		out = append(out, x)
	}
	return out, rows.Err()
}

// Combats lists the combats of runID, or of every run when runID is empty.
func (r *Reader) Combats(ctx context.Context, runID string) ([]CombatRow, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT run_id, combat_id, q, r, start_time, end_time, checks, winner
		FROM combats WHERE (?1 = '' OR run_id = ?1)
		ORDER BY run_id, start_time, combat_id`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []CombatRow
	for rows.Next() {
		var x CombatRow
		if err := rows.Scan(&x.RunID, &x.CombatID, &x.Q, &x.R, &x.Start, &x.End, &x.Checks, &x.Winner); err != nil {
			return nil, err
		}
		out = append(out, x)
	}
	return out, rows.Err()
}

// UnitTotals sums losses and ammunition per unit, for runID or for every run
// when runID is empty.
func (r *Reader) UnitTotals(ctx context.Context, runID string) ([]UnitTotalsRow, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT unit_id, side, COUNT(DISTINCT run_id || '/' || combat_id), SUM(losses), SUM(ammo_used)
		FROM participants WHERE (?1 = '' OR run_id = ?1)
		GROUP BY unit_id, side ORDER BY unit_id`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []UnitTotalsRow
	for rows.Next() {
		var x UnitTotalsRow
		if err := rows.Scan(&x.UnitID, &x.Side, &x.Combats, &x.Losses, &x.AmmoUsed); err != nil {
			return nil, err
		}
		out = append(out, x)
	}
	return out, rows.Err()
}

func (r *Reader) Snapshots(ctx context.Context) ([]SnapshotRow, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT path, time, scenario_id, detachments, combats
		FROM snapshots ORDER BY scenario_id, time, path`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []SnapshotRow
	for rows.Next() {
		var x SnapshotRow
		if err := rows.Scan(&x.Path, &x.Time, &x.ScenarioID, &x.Detachments, &x.Combats); err != nil {
			return nil, err
		}
		out = append(out, x)
	}
	return out, rows.Err()
}
