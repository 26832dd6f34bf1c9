package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"

	"wallnav.ai/internal/persistence/indexdb"
	persistlog "wallnav.ai/internal/persistence/log"
	"wallnav.ai/internal/persistence/snapshot"
	"wallnav.ai/internal/sim/run"
)

func main() {
	var (
		snapPath = flag.String("snapshot", "", "path to .snap.zst")
		runDir   = flag.String("run_dir", "", "run dir containing steps/steps-*.jsonl.zst (default: derived from -snapshot)")
		traces   = flag.Bool("traces", false, "also check the recorded step trace against the snapshot")
		list     = flag.Bool("list", false, "list recent runs from the index and exit")
		dbPath   = flag.String("db", "./data/index/runs.sqlite", "run index path (for -list)")
		limit    = flag.Int("limit", 20, "max runs for -list")
	)
	flag.Parse()

	if *list {
		if err := listRuns(os.Stdout, *dbPath, *limit); err != nil {
			fmt.Fprintln(os.Stderr, "list runs:", err)
			os.Exit(1)
		}
		return
	}
	if *snapPath == "" {
		fmt.Fprintln(os.Stderr, "missing -snapshot")
		os.Exit(2)
	}

	snap, err := snapshot.ReadSnapshot(*snapPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "read snapshot:", err)
		os.Exit(1)
	}
	printSummary(os.Stdout, snap)

	pose, err := run.Replay(snap)
	if err != nil {
		fmt.Fprintln(os.Stderr, "replay:", err)
		if errors.Is(err, run.ErrReplayMismatch) {
			os.Exit(3)
		}
		os.Exit(1)
	}
	fmt.Printf("replay ok: %d steps, final (%.4f,%.4f,%.2f)\n", len(snap.Steers), pose.X, pose.Y, pose.Heading)

	if !*traces {
		return
	}
	dir := *runDir
	if dir == "" {
		// <data>/runs/<id>/snapshots/<step>.snap.zst
		dir = filepath.Dir(filepath.Dir(*snapPath))
	}
	n, err := checkTraces(dir, snap)
	if err != nil {
		fmt.Fprintln(os.Stderr, "traces:", err)
		os.Exit(3)
	}
	fmt.Printf("traces ok: checked=%d steps\n", n)
}

func printSummary(w io.Writer, snap snapshot.RunV1) {
	h := snap.Header
	fmt.Fprintf(w, "snapshot v%d run=%s scenario=%s step=%d final=%v seed=%d walls=%d locations=%d missions=%d stops=%d outcome=%s\n",
		h.Version, h.RunID, h.Scenario, h.Step, h.Final, snap.Seed,
		len(snap.Walls), len(snap.Locations), len(snap.Missions), len(snap.Stops), snap.Outcome)
	for _, s := range snap.Stops {
		status := "arrived"
		if !s.Arrived {
			status = s.Error
		}
		fmt.Fprintf(w, "  %s #%d %-10s (%.1f,%.1f) steps=%d %s\n", s.Mission, s.Seq, s.Name, s.X, s.Y, s.Steps, status)
	}
	if snap.Crashed && snap.CrashPoint != nil {
		fmt.Fprintf(w, "  crashed at (%.3f,%.3f)\n", snap.CrashPoint[0], snap.CrashPoint[1])
	}
}

// checkTraces compares the JSONL step trace with the snapshot's steer
// sequence and final pose.
func checkTraces(runDir string, snap snapshot.RunV1) (int, error) {
	steps, err := persistlog.ReadSteps(runDir)
	if err != nil {
		return 0, err
	}
	if len(steps) < len(snap.Steers) {
		return 0, fmt.Errorf("trace has %d steps, snapshot has %d", len(steps), len(snap.Steers))
	}
	for i, want := range snap.Steers {
		e := steps[i]
		if e.Seq != uint64(i+1) {
			return i, fmt.Errorf("trace entry %d has seq %d", i, e.Seq)
		}
		if uint8(e.Steer) != want {
			return i, fmt.Errorf("step %d: trace steer %s, snapshot %d", e.Seq, e.Steer, want)
		}
	}
	if n := len(snap.Steers); n > 0 {
		last := steps[n-1].Pose
		if math.Abs(last.X-snap.Final.X) > 1e-9 || math.Abs(last.Y-snap.Final.Y) > 1e-9 {
			return n, fmt.Errorf("trace ends at (%.6f,%.6f), snapshot at (%.6f,%.6f)", last.X, last.Y, snap.Final.X, snap.Final.Y)
		}
	}
	return len(snap.Steers), nil
}

func listRuns(w io.Writer, dbPath string, limit int) error {
	if _, err := os.Stat(dbPath); err != nil {
		return err
	}
	runs, err := indexdb.ListRuns(context.Background(), dbPath, limit)
	if err != nil {
		return err
	}
	for _, r := range runs {
		outcome := r.Outcome
		if outcome == "" {
			outcome = "unfinished"
		}
		fmt.Fprintf(w, "%s %s %-12s %-10s steps=%d arrived=%d/%d crashed=%v\n",
			r.RunID, r.StartedAt, r.Scenario, outcome, r.Steps, r.Arrived, r.Stops, r.Crashed)
	}
	return nil
}
