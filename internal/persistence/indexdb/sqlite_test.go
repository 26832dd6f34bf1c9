package indexdb

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"wallnav.ai/internal/geom"
	"wallnav.ai/internal/persistence/log"
	"wallnav.ai/internal/persistence/snapshot"
	"wallnav.ai/internal/sim/body"
)

func TestSQLiteIndex_RecordsRun(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "index.sqlite")

	idx, err := OpenSQLite(dbPath)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := idx.UpsertConfig("tuning", map[string]int{"timeout": 200}); err != nil {
		t.Fatalf("UpsertConfig: %v", err)
	}
	idx.RecordRunStart("run-1", "two-walls", 42)
	_ = idx.WriteStep(log.StepEntry{RunID: "run-1", Seq: 1, Steer: body.Left, Pose: body.Pose{X: 0.3, Y: 0.9, Heading: 108}})
	_ = idx.WriteStep(log.StepEntry{RunID: "run-1", Seq: 2, Steer: body.Right, Pose: body.Pose{X: 0.6, Y: 1.8, Heading: 90}, Whisker: true})
	_ = idx.WriteStop(log.StopEntry{RunID: "run-1", Mission: "loop", Seq: 1, Name: "o109", Target: geom.Point{X: 100, Y: 10}, Steps: 2, Error: "navigation stalled"})
	idx.RecordSnapshot("/tmp/x.snap.zst", snapshot.RunV1{Header: snapshot.Header{RunID: "run-1", Step: 2, Final: true}})
	idx.RecordRunEnd(RunRow{RunID: "run-1", Outcome: "partial", Steps: 2, Stops: 1, Final: snapshot.PoseV1{X: 0.6, Y: 1.8, Heading: 90}})
	if err := idx.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	// Closed index ignores writes.
	idx.RecordRunStart("run-2", "x", 1)

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer db.Close()

	var steps, whiskers int
	if err := db.QueryRow(`SELECT COUNT(*), SUM(whisker) FROM steps WHERE run_id='run-1'`).Scan(&steps, &whiskers); err != nil {
		t.Fatalf("query steps: %v", err)
	}
	if steps != 2 || whiskers != 1 {
		t.Fatalf("steps=%d whiskers=%d", steps, whiskers)
	}
	var steer string
	if err := db.QueryRow(`SELECT steer FROM steps WHERE run_id='run-1' AND seq=1`).Scan(&steer); err != nil || steer != "left" {
		t.Fatalf("steer=%q err=%v", steer, err)
	}
	var stopErr sql.NullString
	var arrived int
	if err := db.QueryRow(`SELECT arrived, error FROM stops WHERE run_id='run-1' AND seq=1`).Scan(&arrived, &stopErr); err != nil {
		t.Fatalf("query stops: %v", err)
	}
	if arrived != 0 || !stopErr.Valid || stopErr.String != "navigation stalled" {
		t.Fatalf("stop arrived=%d err=%v", arrived, stopErr)
	}
	var final int
	if err := db.QueryRow(`SELECT final FROM snapshots WHERE run_id='run-1' AND step=2`).Scan(&final); err != nil || final != 1 {
		t.Fatalf("snapshot final=%d err=%v", final, err)
	}
	var digest string
	if err := db.QueryRow(`SELECT digest FROM configs WHERE name='tuning'`).Scan(&digest); err != nil || len(digest) != 64 {
		t.Fatalf("config digest=%q err=%v", digest, err)
	}

	runs, err := ListRuns(context.Background(), dbPath, 10)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(runs) != 1 || runs[0].Outcome != "partial" || runs[0].Steps != 2 || runs[0].Final.Heading != 90 {
		t.Fatalf("runs=%+v", runs)
	}
}
