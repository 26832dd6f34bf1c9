package main

import (
	"fmt"
	"net/http"
	"sync"

	"wallnav.ai/internal/persistence/r2s3"
	"wallnav.ai/internal/sim/run"
	"wallnav.ai/internal/transport/observer"
)

// runStats is what /metrics reports. It is fed from frames so handlers never
// touch the runner's body.
type runStats struct {
	mu      sync.Mutex
	steps   uint64
	crashed bool
	mission string
	outcome string
}

func (s *runStats) observe(f run.Frame) {
	s.mu.Lock()
	s.steps = f.Step.Seq
	s.crashed = f.Step.Crashed
	s.mission = f.Mission
	s.mu.Unlock()
}

func (s *runStats) finish(outcome string) {
	s.mu.Lock()
	s.outcome = outcome
	s.mu.Unlock()
}

func newMux(r *run.Runner, obs *observer.Server, stats *runStats, mirror *r2s3.Mirror) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, _ *http.Request) {
		rw.WriteHeader(200)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.HandleFunc("/metrics", func(rw http.ResponseWriter, _ *http.Request) {
		rw.Header().Set("Content-Type", "text/plain; version=0.0.4")

		stats.mu.Lock()
		steps, crashed, mission, outcome := stats.steps, stats.crashed, stats.mission, stats.outcome
		stats.mu.Unlock()
		if outcome == "" {
			outcome = "running"
		}
		runID := r.ID()

		// Minimal Prometheus exposition format.
		fmt.Fprintf(rw, "# HELP wallnav_run_steps Body steps taken so far.\n")
		fmt.Fprintf(rw, "# TYPE wallnav_run_steps counter\n")
		fmt.Fprintf(rw, "wallnav_run_steps{run=%q,mission=%q} %d\n", runID, mission, steps)

		fmt.Fprintf(rw, "# HELP wallnav_run_crashed Whether the body has crashed.\n")
		fmt.Fprintf(rw, "# TYPE wallnav_run_crashed gauge\n")
		fmt.Fprintf(rw, "wallnav_run_crashed{run=%q} %d\n", runID, boolGauge(crashed))

		fmt.Fprintf(rw, "# HELP wallnav_run_outcome Run outcome (1 for the current one).\n")
		fmt.Fprintf(rw, "# TYPE wallnav_run_outcome gauge\n")
		fmt.Fprintf(rw, "wallnav_run_outcome{run=%q,outcome=%q} 1\n", runID, outcome)

		fmt.Fprintf(rw, "# HELP wallnav_locations Locations in the table.\n")
		fmt.Fprintf(rw, "# TYPE wallnav_locations gauge\n")
		fmt.Fprintf(rw, "wallnav_locations{run=%q} %d\n", runID, r.Table().Len())

		fmt.Fprintf(rw, "# HELP wallnav_observer_sessions Connected observers.\n")
		fmt.Fprintf(rw, "# TYPE wallnav_observer_sessions gauge\n")
		fmt.Fprintf(rw, "wallnav_observer_sessions %d\n", obs.Sessions())

		writeMirrorMetrics(rw, mirror)
	})
	mux.HandleFunc("/v1/observer/bootstrap", obs.BootstrapHandler())
	mux.HandleFunc("/v1/observer/ws", obs.WSHandler())
	return mux
}

func boolGauge(b bool) int {
	if b {
		return 1
	}
	return 0
}

func writeMirrorMetrics(rw http.ResponseWriter, mirror *r2s3.Mirror) {
	if mirror == nil {
		return
	}
	s := mirror.Stats()
	fmt.Fprintf(rw, "# HELP wallnav_mirror_queue_depth Files waiting to be mirrored.\n")
	fmt.Fprintf(rw, "# TYPE wallnav_mirror_queue_depth gauge\n")
	fmt.Fprintf(rw, "wallnav_mirror_queue_depth %d\n", s.QueueDepth)

	fmt.Fprintf(rw, "# HELP wallnav_mirror_files_total Mirrored files by result.\n")
	fmt.Fprintf(rw, "# TYPE wallnav_mirror_files_total counter\n")
	fmt.Fprintf(rw, "wallnav_mirror_files_total{result=%q} %d\n", "uploaded", s.Uploaded)
	fmt.Fprintf(rw, "wallnav_mirror_files_total{result=%q} %d\n", "failed", s.Failed)
	fmt.Fprintf(rw, "wallnav_mirror_files_total{result=%q} %d\n", "dropped", s.Dropped)
}
