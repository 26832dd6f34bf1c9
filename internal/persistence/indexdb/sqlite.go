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

	"wallnav.ai/internal/persistence/log"
	"wallnav.ai/internal/persistence/snapshot"
)

type SQLiteIndex struct {
	db *sql.DB

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	closed atomic.Bool
}

type reqKind int

const (
	reqRunStart reqKind = iota + 1
	reqRunEnd
	reqStep
	reqStop
	reqSnapshot
)

type req struct {
	kind reqKind

	run      RunRow
	step     log.StepEntry
	stop     log.StopEntry
	snapshot snapshotRow
}

// RunRow is one row of the runs table.
type RunRow struct {
	RunID      string
	Scenario   string
	Seed       int64
	StartedAt  string
	FinishedAt string
	Outcome    string
	Steps      uint64
	Stops      int
	Arrived    int
	Crashed    bool
	Final      snapshot.PoseV1
}

type snapshotRow struct {
	RunID string
	Step  uint64
	Path  string
	Final bool
}

func OpenSQLite(path string) (*SQLiteIndex, error) {
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
		ch: make(chan req, 65536),
	}
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
		`CREATE TABLE IF NOT EXISTS configs (
			name TEXT PRIMARY KEY,
			digest TEXT NOT NULL,
			json TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS runs (
			run_id TEXT PRIMARY KEY,
			scenario TEXT NOT NULL,
			seed INTEGER NOT NULL,
			started_at TEXT NOT NULL,
			finished_at TEXT,
			outcome TEXT,
			steps INTEGER NOT NULL DEFAULT 0,
			stops INTEGER NOT NULL DEFAULT 0,
			arrived INTEGER NOT NULL DEFAULT 0,
			crashed INTEGER NOT NULL DEFAULT 0,
			final_x REAL,
			final_y REAL,
			final_heading REAL
		);`,
		`CREATE TABLE IF NOT EXISTS steps (
			run_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			steer TEXT NOT NULL,
			x REAL NOT NULL,
			y REAL NOT NULL,
			heading REAL NOT NULL,
			whisker INTEGER NOT NULL,
			crashed INTEGER NOT NULL,
			PRIMARY KEY (run_id, seq)
		);`,
		`CREATE TABLE IF NOT EXISTS stops (
			run_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			mission TEXT NOT NULL,
			name TEXT NOT NULL,
			x REAL NOT NULL,
			y REAL NOT NULL,
			arrived INTEGER NOT NULL,
			steps INTEGER NOT NULL,
			error TEXT,
			PRIMARY KEY (run_id, seq)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_stops_name ON stops(name, arrived);`,
		`CREATE TABLE IF NOT EXISTS snapshots (
			run_id TEXT NOT NULL,
			step INTEGER NOT NULL,
			path TEXT NOT NULL,
			final INTEGER NOT NULL,
			PRIMARY KEY (run_id, step)
		);`,
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

func (s *SQLiteIndex) send(r req) {
	if s == nil || s.closed.Load() {
		return
	}
	select {
	case s.ch <- r:
	default:
		// Drop if the indexer falls behind; JSONL logs remain the source of truth.
	}
}

func (s *SQLiteIndex) RecordRunStart(runID, scenario string, seed int64) {
	s.send(req{kind: reqRunStart, run: RunRow{
		RunID:     runID,
		Scenario:  scenario,
		Seed:      seed,
		StartedAt: time.Now().UTC().Format(time.RFC3339Nano),
	}})
}

func (s *SQLiteIndex) RecordRunEnd(r RunRow) {
	if r.FinishedAt == "" {
		r.FinishedAt = time.Now().UTC().Format(time.RFC3339Nano)
	}
	s.send(req{kind: reqRunEnd, run: r})
}

func (s *SQLiteIndex) WriteStep(e log.StepEntry) error {
	s.send(req{kind: reqStep, step: e})
	return nil
}

func (s *SQLiteIndex) WriteStop(e log.StopEntry) error {
	s.send(req{kind: reqStop, stop: e})
	return nil
}

func (s *SQLiteIndex) RecordSnapshot(path string, snap snapshot.RunV1) {
	s.send(req{kind: reqSnapshot, snapshot: snapshotRow{
		RunID: snap.Header.RunID,
		Step:  snap.Header.Step,
		Path:  path,
		Final: snap.Header.Final,
	}})
}

// UpsertConfig stores the configuration a run actually used, keyed by name.
func (s *SQLiteIndex) UpsertConfig(name string, v any) error {
	if s == nil {
		return nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	sum := sha256.Sum256(b)
	now := time.Now().UTC().Format(time.RFC3339Nano)

	tx, err := s.db.BeginTx(context.Background(), nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`INSERT OR REPLACE INTO meta(key,value) VALUES('schema_version','1')`); err != nil {
		return err
	}
	if _, err := tx.Exec(`INSERT OR REPLACE INTO configs(name,digest,json,updated_at) VALUES(?,?,?,?)`,
		name, hex.EncodeToString(sum[:]), string(b), now); err != nil {
		return err
	}
	return tx.Commit()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func (s *SQLiteIndex) loop() {
	ctx := context.Background()

	insertRun, _ := s.db.Prepare(`INSERT OR REPLACE INTO runs(run_id,scenario,seed,started_at) VALUES(?,?,?,?)`)
	finishRun, _ := s.db.Prepare(`UPDATE runs SET finished_at=?,outcome=?,steps=?,stops=?,arrived=?,crashed=?,final_x=?,final_y=?,final_heading=? WHERE run_id=?`)
	insertStep, _ := s.db.Prepare(`INSERT OR REPLACE INTO steps(run_id,seq,steer,x,y,heading,whisker,crashed) VALUES(?,?,?,?,?,?,?,?)`)
	insertStop, _ := s.db.Prepare(`INSERT OR REPLACE INTO stops(run_id,seq,mission,name,x,y,arrived,steps,error) VALUES(?,?,?,?,?,?,?,?,?)`)
	insertSnapshot, _ := s.db.Prepare(`INSERT OR REPLACE INTO snapshots(run_id,step,path,final) VALUES(?,?,?,?)`)
	defer func() {
		for _, st := range []*sql.Stmt{insertRun, finishRun, insertStep, insertStop, insertSnapshot} {
			if st != nil {
				_ = st.Close()
			}
		}
	}()

	var (
		tx            *sql.Tx
		opCount       int
		lastCommit    = time.Now()
		commitEvery   = 2000
		commitMaxWait = 2 * time.Second
	)

	begin := func() {
		if tx != nil {
			return
		}
		txx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
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
		_ = tx.Commit()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	rollback := func() {
		if tx == nil {
			return
		}
		_ = tx.Rollback()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	exec := func(st *sql.Stmt, args ...any) {
		if st == nil || tx == nil {
			return
		}
		if _, err := tx.Stmt(st).Exec(args...); err != nil {
			rollback()
			return
		}
		opCount++
	}

	for r := range s.ch {
		begin()
		if tx == nil {
			continue
		}
		switch r.kind {
		case reqRunStart:
			exec(insertRun, r.run.RunID, r.run.Scenario, r.run.Seed, r.run.StartedAt)
		case reqRunEnd:
			run := r.run
			exec(finishRun, run.FinishedAt, run.Outcome, int64(run.Steps), run.Stops, run.Arrived, boolInt(run.Crashed),
				run.Final.X, run.Final.Y, run.Final.Heading, run.RunID)
			// Run summaries are read right after a run; make them durable now.
			commit()
			continue
		case reqStep:
			st := r.step
			exec(insertStep, st.RunID, int64(st.Seq), st.Steer.String(), st.Pose.X, st.Pose.Y, st.Pose.Heading,
				boolInt(st.Whisker), boolInt(st.Crashed))
		case reqStop:
			sp := r.stop
			var errText any
			if sp.Error != "" {
				errText = sp.Error
			}
			exec(insertStop, sp.RunID, sp.Seq, sp.Mission, sp.Name, sp.Target.X, sp.Target.Y, boolInt(sp.Arrived), sp.Steps, errText)
		case reqSnapshot:
			sn := r.snapshot
			exec(insertSnapshot, sn.RunID, int64(sn.Step), sn.Path, boolInt(sn.Final))
		}
		if tx != nil && (opCount >= commitEvery || time.Since(lastCommit) >= commitMaxWait) {
			commit()
		}
	}

	commit()
}
