package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"wallnav.ai/internal/persistence/archive"
	"wallnav.ai/internal/persistence/indexdb"
	persistlog "wallnav.ai/internal/persistence/log"
	"wallnav.ai/internal/persistence/r2s3"
	"wallnav.ai/internal/persistence/snapshot"
	"wallnav.ai/internal/sim/locations"
	"wallnav.ai/internal/sim/run"
	"wallnav.ai/internal/sim/scenario"
	"wallnav.ai/internal/sim/tuning"
	"wallnav.ai/internal/transport/observer"
)

type options struct {
	Addr          string
	ConfigDir     string
	TuningPath    string
	Scenario      string
	LocationsPath string
	DataDir       string
	Watch         bool
	DisableDB     bool
	Verbose       bool
	Hold          bool
	Seed          int64
	SeedSet       bool
	StepDelayMs   int
}

func main() {
	var (
		addr       = flag.String("addr", "127.0.0.1:8080", "observer http listen address (empty to disable)")
		configDir  = flag.String("configs", "./configs", "config directory")
		tuningPath = flag.String("tuning", "", "path to tuning.yaml (default: <configs>/tuning.yaml)")
		scenName   = flag.String("scenario", "", "scenario name under <configs>/scenarios or path to a scenario file (default: open floor)")
		locPath    = flag.String("locations", "", "locations file overriding the scenario's locations")
		dataDir    = flag.String("data", "./data", "runtime data directory")
		watch      = flag.Bool("watch", false, "reload -locations when the file changes")
		disableDB  = flag.Bool("disable_db", false, "disable the sqlite run index")
		verbose    = flag.Bool("verbose", false, "log whisker overrides and every stop")
		hold       = flag.Bool("hold", false, "keep serving observers after the run finishes")
		seed       = flag.Int64("seed", 0, "random tour seed (overrides the scenario seed)")
		stepDelay  = flag.Int("step_delay_ms", -1, "delay between body steps (default: tuning observer.step_delay_ms)")
	)
	flag.Parse()

	opts := options{
		Addr:          strings.TrimSpace(*addr),
		ConfigDir:     *configDir,
		TuningPath:    strings.TrimSpace(*tuningPath),
		Scenario:      strings.TrimSpace(*scenName),
		LocationsPath: strings.TrimSpace(*locPath),
		DataDir:       *dataDir,
		Watch:         *watch,
		DisableDB:     *disableDB,
		Verbose:       *verbose,
		Hold:          *hold,
		Seed:          *seed,
		StepDelayMs:   *stepDelay,
	}
	flag.Visit(func(f *flag.Flag) {
		if f.Name == "seed" {
			opts.SeedSet = true
		}
	})

	logger := log.New(os.Stdout, "[navsim] ", log.LstdFlags|log.Lmicroseconds)

	ctx, cancel := signalContext()
	defer cancel()

	code, err := navsim(ctx, opts, logger)
	if err != nil {
		logger.Printf("%v", err)
	}
	cancel()
	os.Exit(code)
}

func navsim(ctx context.Context, opts options, logger *log.Logger) (int, error) {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	tp := opts.TuningPath
	if tp == "" {
		tp = filepath.Join(opts.ConfigDir, "tuning.yaml")
	}
	tune, err := tuning.Load(tp)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return 2, fmt.Errorf("load tuning: %w", err)
		}
		logger.Printf("tuning not found (%s); using defaults", tp)
		tune = tuning.Defaults()
	}
	if opts.Verbose {
		tune.Log.Verbose = true
	}
	if opts.StepDelayMs >= 0 {
		tune.Observer.StepDelayMs = opts.StepDelayMs
	}

	scen, err := scenario.Load(scenarioPath(opts.ConfigDir, opts.Scenario))
	if err != nil {
		return 2, fmt.Errorf("load scenario: %w", err)
	}
	if opts.SeedSet {
		scen.Seed = opts.Seed
	}
	if opts.LocationsPath != "" {
		entries, err := locations.LoadFile(opts.LocationsPath)
		if err != nil {
			return 2, fmt.Errorf("load locations: %w", err)
		}
		scen.Locations = entries
	}

	r, err := run.New(tune, scen, logger)
	if err != nil {
		return 2, fmt.Errorf("build run: %w", err)
	}
	logger.Printf("run %s: scenario=%s walls=%d locations=%d missions=%d seed=%d",
		r.ID(), scen.Name, len(scen.Walls), len(scen.Locations), len(scen.Missions), scen.Seed)

	runDir := filepath.Join(opts.DataDir, "runs", r.ID())
	traces := persistlog.NewRunLogger(runDir)
	defer func() {
		if err := traces.Close(); err != nil {
			logger.Printf("close traces: %v", err)
		}
	}()
	r.AddRecorder(traces)

	idx, err := openRuntimeIndex(opts.DataDir, opts.DisableDB)
	if err != nil {
		return 1, fmt.Errorf("open run index: %w", err)
	}
	if idx != nil {
		defer idx.Close()
		r.AddRecorder(idx)
		if err := idx.UpsertConfig("tuning", tune); err != nil {
			logger.Printf("run index: upsert tuning: %v", err)
		}
		if err := idx.UpsertConfig("scenario/"+scen.Name, scen); err != nil {
			logger.Printf("run index: upsert scenario: %v", err)
		}
		idx.RecordRunStart(r.ID(), scen.Name, scen.Seed)
	}
	r.EnableSnapshots(opts.DataDir, tune.Log.SnapshotEverySteps)

	mirror, err := buildMirror(opts.DataDir, logger)
	if err != nil {
		return 2, err
	}
	if mirror != nil {
		defer mirror.Close()
	}

	if opts.Watch {
		if opts.LocationsPath == "" {
			return 2, fmt.Errorf("-watch needs -locations")
		}
		w, err := locations.NewWatcher(opts.LocationsPath, r.Table(), logger)
		if err != nil {
			return 1, fmt.Errorf("watch locations: %w", err)
		}
		defer w.Close()
		go drainWatcher(w, logger)
	}

	var stats runStats
	r.OnFrame(stats.observe)
	if opts.Addr != "" {
		obs := observer.NewServer(r, locations.NewDrag(r.Table(), tune.Observer.DragEpsilon), logger)
		r.OnFrame(obs.Publish)
		srv := &http.Server{
			Addr:              opts.Addr,
			Handler:           newMux(r, obs, &stats, mirror),
			ReadHeaderTimeout: 5 * time.Second,
		}
		ln, err := net.Listen("tcp", opts.Addr)
		if err != nil {
			return 1, fmt.Errorf("listen %s: %w", opts.Addr, err)
		}
		go func() {
			if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
				logger.Printf("observer http: %v", err)
			}
		}()
		defer func() {
			ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel2()
			_ = srv.Shutdown(ctx2)
		}()
		logger.Printf("observer listening on http://%s/v1/observer/bootstrap", ln.Addr())
	}

	res, runErr := r.Run(ctx)
	stats.finish(res.Outcome)

	if err := traces.Close(); err != nil {
		logger.Printf("close traces: %v", err)
	}

	var snapPath string
	if p, err := r.WriteSnapshot(true); err != nil {
		logger.Printf("final snapshot: %v", err)
	} else {
		snapPath = p
		logger.Printf("snapshot=%s", p)
		archiveRun(opts.DataDir, p, r.ExportSnapshot(true), mirror, logger)
	}
	if idx != nil {
		idx.RecordRunEnd(runRow(r, res))
	}
	if mirror != nil {
		if n, err := mirror.EnqueueRun(runDir); err != nil {
			logger.Printf("mirror run dir: %v", err)
		} else {
			logger.Printf("mirroring %d run files", n)
		}
	}
	printSummary(logger, res, snapPath)

	if opts.Hold && opts.Addr != "" && ctx.Err() == nil {
		logger.Printf("run finished; serving observers until interrupted")
		<-ctx.Done()
	}

	switch res.Outcome {
	case run.OutcomeCompleted, run.OutcomeCanceled:
		return 0, nil
	case run.OutcomeAborted:
		return 1, runErr
	default:
		return 3, runErr
	}
}

// archiveRun keeps the final snapshot and a meta.json under archives/ and
// hands both to the mirror.
func archiveRun(dataDir, snapPath string, snap snapshot.RunV1, mirror *r2s3.Mirror, logger *log.Logger) {
	dst, ok, err := archive.ArchiveRun(dataDir, snapPath, snap)
	if err != nil {
		logger.Printf("archive run: %v", err)
		return
	}
	if !ok {
		return
	}
	logger.Printf("archived %s", filepath.Dir(dst))
	if mirror != nil {
		mirror.Enqueue(dst)
		mirror.Enqueue(filepath.Join(filepath.Dir(dst), archive.MetaFile))
	}
}

// scenarioPath accepts a bare name (resolved under <configs>/scenarios) or a
// file path.
func scenarioPath(configDir, name string) string {
	if name == "" {
		return ""
	}
	if strings.ContainsRune(name, os.PathSeparator) || strings.HasSuffix(name, ".yaml") || strings.HasSuffix(name, ".yml") {
		return name
	}
	return filepath.Join(configDir, "scenarios", name+".yaml")
}

func drainWatcher(w *locations.Watcher, logger *log.Logger) {
	for {
		select {
		case path, ok := <-w.Events:
			if !ok {
				return
			}
			logger.Printf("locations reloaded from %s", path)
		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			logger.Printf("locations reload: %v", err)
		}
	}
}

func runRow(r *run.Runner, res run.Result) indexdb.RunRow {
	stops := 0
	for _, m := range res.Missions {
		stops += len(m.Stops)
	}
	return indexdb.RunRow{
		RunID:    r.ID(),
		Scenario: r.Scenario().Name,
		Seed:     r.Scenario().Seed,
		Outcome:  res.Outcome,
		Steps:    res.Steps,
		Stops:    stops,
		Arrived:  res.Arrived(),
		Crashed:  res.Crashed,
		Final:    snapshot.PoseV1{X: res.Final.X, Y: res.Final.Y, Heading: res.Final.Heading},
	}
}

func printSummary(logger *log.Logger, res run.Result, snapPath string) {
	for _, m := range res.Missions {
		logger.Printf("mission %s: %d stops, %d failed", m.Name, len(m.Stops), m.Failed)
		for _, s := range m.Stops {
			status := "arrived"
			if s.Err != nil {
				status = s.Err.Error()
			}
			logger.Printf("  %d %-10s (%.1f,%.1f) steps=%d %s", s.Seq, s.Name, s.Target.X, s.Target.Y, s.Steps, status)
		}
	}
	logger.Printf("run %s %s: steps=%d arrived=%d crashed=%v final=(%.2f,%.2f,%.1f)",
		res.RunID, res.Outcome, res.Steps, res.Arrived(), res.Crashed, res.Final.X, res.Final.Y, res.Final.Heading)
	if snapPath != "" {
		logger.Printf("replay with: replay -snapshot %s", snapPath)
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}
