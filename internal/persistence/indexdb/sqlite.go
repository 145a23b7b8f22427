package indexdb

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"opwar.ai/internal/persistence/snapshot"
	"opwar.ai/internal/sim/game"
	"opwar.ai/internal/sim/tuning"
)

// SQLiteIndex is a secondary, queryable index of runs, combat reports and
// snapshots. Writes are queued and applied by a single goroutine; when the
// queue is full they are dropped and counted. The journal stays the source
// of truth.
type SQLiteIndex struct {
	db *sql.DB

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	closed atomic.Bool
	run    atomic.Value // string

	dropRun      atomic.Uint64
	dropCombat   atomic.Uint64
	dropSnapshot atomic.Uint64
	writeErrs    atomic.Uint64
}

type reqKind int

const (
	reqRun reqKind = iota + 1
	reqCombat
	reqSnapshot
)

type req struct {
	kind reqKind

	run      runRow
	combat   combatRow
	snapshot snapshotRow
}

type runRow struct {
	RunID        string
	ScenarioID   string
	Seed         int64
	TuningDigest string
	TuningJSON   string
	StartedAt    string
}

type combatRow struct {
	RunID  string
	Report game.CombatReport
}

type snapshotRow struct {
	Time        int64
	Path        string
	ScenarioID  string
	Seed        int64
	Units       int
	Detachments int
	Combats     int
	Events      int
}

// Stats reports queue pressure and write failures.
type Stats struct {
	QueueDepth    int
	QueueCapacity int

	DropRunTotal      uint64
	DropCombatTotal   uint64
	DropSnapshotTotal uint64
	WriteErrorTotal   uint64
}

func OpenSQLite(path string) (*SQLiteIndex, error) {
	return openSQLite(path, 65536)
}

func openSQLite(path string, queue int) (*SQLiteIndex, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SQLiteIndex{
		db: db,
		ch: make(chan req, queue),
	}
	s.run.Store("")
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS runs (
			run_id TEXT PRIMARY KEY,
			scenario_id TEXT NOT NULL,
			seed INTEGER NOT NULL,
			tuning_digest TEXT NOT NULL,
			tuning_json TEXT NOT NULL,
			started_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS combats (
			run_id TEXT NOT NULL,
			combat_id TEXT NOT NULL,
			q INTEGER NOT NULL,
			r INTEGER NOT NULL,
			start_time INTEGER NOT NULL,
			end_time INTEGER NOT NULL,
			checks INTEGER NOT NULL,
			winner TEXT NOT NULL,
			raw_json TEXT NOT NULL,
			PRIMARY KEY (run_id, combat_id)
		);`,
		`CREATE TABLE IF NOT EXISTS participants (
			run_id TEXT NOT NULL,
			combat_id TEXT NOT NULL,
			detachment_id TEXT NOT NULL,
			unit_id TEXT NOT NULL,
			side TEXT NOT NULL,
			role TEXT NOT NULL,
			losses INTEGER NOT NULL,
			ammo_used INTEGER NOT NULL,
			PRIMARY KEY (run_id, combat_id, detachment_id)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_participants_unit ON participants(unit_id, run_id);`,
		`CREATE TABLE IF NOT EXISTS snapshots (
			path TEXT PRIMARY KEY,
			time INTEGER NOT NULL,
			scenario_id TEXT NOT NULL,
			seed INTEGER NOT NULL,
			units INTEGER NOT NULL,
			detachments INTEGER NOT NULL,
			combats INTEGER NOT NULL,
			events INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_snapshots_time ON snapshots(scenario_id, time);`,
		`INSERT OR REPLACE INTO meta(key,value) VALUES('schema_version','1');`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteIndex) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.ch)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

func (s *SQLiteIndex) Stats() Stats {
	if s == nil {
		return Stats{}
	}
	return Stats{
		QueueDepth:        len(s.ch),
		QueueCapacity:     cap(s.ch),
		DropRunTotal:      s.dropRun.Load(),
		DropCombatTotal:   s.dropCombat.Load(),
		DropSnapshotTotal: s.dropSnapshot.Load(),
		WriteErrorTotal:   s.writeErrs.Load(),
	}
}

func (s *SQLiteIndex) enqueue(r req, drops *atomic.Uint64) {
	if s == nil || s.closed.Load() {
		return
	}
	select {
	case s.ch <- r:
	default:
		drops.Add(1)
	}
}

// BeginRun records a run and makes it the owner of subsequent combat
// reports.
func (s *SQLiteIndex) BeginRun(runID, scenarioID string, seed int64, tune tuning.Tuning) {
	if s == nil {
		return
	}
	b, _ := json.Marshal(tune)
	sum := sha256.Sum256(b)
	s.run.Store(runID)
	s.enqueue(req{kind: reqRun, run: runRow{
		RunID:        runID,
		ScenarioID:   scenarioID,
		Seed:         seed,
		TuningDigest: hex.EncodeToString(sum[:]),
		TuningJSON:   string(b),
		StartedAt:    time.Now().UTC().Format(time.RFC3339Nano),
	}}, &s.dropRun)
}

// RecordCombat implements game.TallySink.
func (s *SQLiteIndex) RecordCombat(r game.CombatReport) {
	if s == nil {
		return
	}
	s.enqueue(req{kind: reqCombat, combat: combatRow{RunID: s.run.Load().(string), Report: r}}, &s.dropCombat)
}

func (s *SQLiteIndex) RecordSnapshot(path string, snap snapshot.SnapshotV1) {
	if s == nil {
		return
	}
	s.enqueue(req{kind: reqSnapshot, snapshot: snapshotRow{
		Time:        snap.Header.Time,
		Path:        path,
		ScenarioID:  snap.Header.ScenarioID,
		Seed:        snap.Seed,
		Units:       len(snap.Units),
		Detachments: len(snap.Detachments),
		Combats:     len(snap.Combats),
		Events:      len(snap.Clock.Events),
	}}, &s.dropSnapshot)
}

func (s *SQLiteIndex) loop() {
	ctx := context.Background()

	insertRun, _ := s.db.Prepare(`INSERT OR REPLACE INTO runs(run_id,scenario_id,seed,tuning_digest,tuning_json,started_at) VALUES(?,?,?,?,?,?)`)
	insertCombat, _ := s.db.Prepare(`INSERT OR REPLACE INTO combats(run_id,combat_id,q,r,start_time,end_time,checks,winner,raw_json) VALUES(?,?,?,?,?,?,?,?,?)`)
	insertPart, _ := s.db.Prepare(`INSERT OR REPLACE INTO participants(run_id,combat_id,detachment_id,unit_id,side,role,losses,ammo_used) VALUES(?,?,?,?,?,?,?,?)`)
	insertSnapshot, _ := s.db.Prepare(`INSERT OR REPLACE INTO snapshots(path,time,scenario_id,seed,units,detachments,combats,events) VALUES(?,?,?,?,?,?,?,?)`)
	defer func() {
		for _, st := range []*sql.Stmt{insertRun, insertCombat, insertPart, insertSnapshot} {
			if st != nil {
				_ = st.Close()
			}
		}
	}()

	var (
		tx            *sql.Tx
		opCount       int
		lastCommit    = time.Now()
		commitEvery   = 500
		commitMaxWait = time.Second
	)

	begin := func() {
		if tx != nil {
			return
		}
		txx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			s.writeErrs.Add(1)
			time.Sleep(50 * time.Millisecond)
			return
		}
		tx = txx
		opCount = 0
		lastCommit = time.Now()
	}
	commit := func() {
		if tx == nil {
			return
		}
		if err := tx.Commit(); err != nil {
			s.writeErrs.Add(1)
		}
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	rollback := func() {
		if tx == nil {
			return
		}
		s.writeErrs.Add(1)
		_ = tx.Rollback()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	exec := func(st *sql.Stmt, args ...any) bool {
		if st == nil {
			return true
		}
		if _, err := tx.Stmt(st).Exec(args...); err != nil {
			rollback()
			return false
		}
		opCount++
		return true
	}

	for r := range s.ch {
		begin()
		if tx == nil {
			continue
		}
		switch r.kind {
		case reqRun:
			ru := r.run
			exec(insertRun, ru.RunID, ru.ScenarioID, ru.Seed, ru.TuningDigest, ru.TuningJSON, ru.StartedAt)

		case reqCombat:
			c := r.combat.Report
			raw, _ := json.Marshal(c)
			if !exec(insertCombat, r.combat.RunID, c.CombatID, c.Hex.Q, c.Hex.R,
				int64(c.Start), int64(c.End), c.Checks, string(c.Winner), string(raw)) {
				continue
			}
			for _, p := range c.Participants {
				if !exec(insertPart, r.combat.RunID, c.CombatID, p.DetachmentID, p.UnitID,
					string(p.Side), string(p.Role), p.Losses, p.AmmoUsed) {
					break
				}
			}

		case reqSnapshot:
			sn := r.snapshot
			exec(insertSnapshot, sn.Path, sn.Time, sn.ScenarioID, sn.Seed, sn.Units, sn.Detachments, sn.Combats, sn.Events)
		}
		if tx != nil && (opCount >= commitEvery || time.Since(lastCommit) >= commitMaxWait || len(s.ch) == 0) {
			commit()
		}
	}

	commit()
}
