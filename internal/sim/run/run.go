package run

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	"wallnav.ai/internal/geom"
	persistlog "wallnav.ai/internal/persistence/log"
	"wallnav.ai/internal/persistence/snapshot"
	"wallnav.ai/internal/sim/body"
	"wallnav.ai/internal/sim/env"
	"wallnav.ai/internal/sim/locations"
	"wallnav.ai/internal/sim/middle"
	"wallnav.ai/internal/sim/scenario"
	"wallnav.ai/internal/sim/top"
	"wallnav.ai/internal/sim/tuning"
)

const (
	OutcomeCompleted = "completed"
	OutcomePartial   = "partial"
	OutcomeCrashed   = "crashed"
	OutcomeAborted   = "aborted"
	OutcomeCanceled  = "canceled"
)

// Recorder receives every step and stop of a run.
type Recorder interface {
	WriteStep(persistlog.StepEntry) error
	WriteStop(persistlog.StopEntry) error
}

// SnapshotRecorder is implemented by recorders that also index snapshots.
type SnapshotRecorder interface {
	RecordSnapshot(path string, snap snapshot.RunV1)
}

// Frame is what an observer sees after a step.
type Frame struct {
	RunID     string
	Mission   string
	Step      body.Step
	Locations []locations.Entry
	Tail      []geom.Point
}

type MissionResult struct {
	Name   string
	Visit  []string
	Stops  []top.StopResult
	Failed int
}

type Result struct {
	RunID    string
	Outcome  string
	Missions []MissionResult
	Steps    uint64
	Final    body.Pose
	Crashed  bool
}

func (r Result) Arrived() int {
	n := 0
	for _, m := range r.Missions {
		for _, s := range m.Stops {
			if s.Arrived {
				n++
			}
		}
	}
	return n
}

// Runner builds one Body/Middle/Top stack for a scenario and drives its
// missions.
type Runner struct {
	id   string
	tune tuning.Tuning
	scen scenario.Scenario
	log  *log.Logger

	table  *locations.Table
	body   *body.Body
	middle *middle.Middle
	top    *top.Top
	rng    *rand.Rand

	recorders []Recorder
	observers []func(Frame)
	stepDelay time.Duration

	dataDir       string
	snapshotEvery uint64

	ctx      context.Context
	mission  string
	outcome  string
	missions []MissionResult
	steers   []uint8
	tail     []geom.Point
	created  time.Time

	mu sync.Mutex
}

func New(tune tuning.Tuning, scen scenario.Scenario, logger *log.Logger) (*Runner, error) {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	if err := tune.Validate(); err != nil {
		return nil, err
	}
	if err := scen.Validate(); err != nil {
		return nil, fmt.Errorf("scenario %s: %w", scen.Name, err)
	}
	table, err := locations.NewTable(scen.Locations)
	if err != nil {
		return nil, err
	}
	b, err := body.New(tune.BodyConfig(), scen.Segments(), scen.Start.Pose())
	if err != nil {
		return nil, err
	}
	m, err := middle.New(b, tune.MiddleConfig(), logger)
	if err != nil {
		return nil, err
	}
	t, err := top.New(m, table, tune.TopConfig(), logger)
	if err != nil {
		return nil, err
	}
	r := &Runner{
		id:        uuid.NewString(),
		tune:      tune,
		scen:      scen,
		log:       logger,
		table:     table,
		body:      b,
		middle:    m,
		top:       t,
		rng:       rand.New(rand.NewSource(scen.Seed)),
		stepDelay: time.Duration(tune.Observer.StepDelayMs) * time.Millisecond,
		ctx:       context.Background(),
		created:   time.Now().UTC(),
	}
	b.SetRecorder(r)
	t.SetRecorder(r)
	return r, nil
}

func (r *Runner) ID() string                  { return r.id }
func (r *Runner) Table() *locations.Table     { return r.table }
func (r *Runner) Scenario() scenario.Scenario { return r.scen }
func (r *Runner) Body() *body.Body            { return r.body }

func (r *Runner) AddRecorder(rec Recorder) { r.recorders = append(r.recorders, rec) }

// OnFrame registers fn to be called after every published step.
func (r *Runner) OnFrame(fn func(Frame)) { r.observers = append(r.observers, fn) }

// SetStepDelay paces the run; zero runs flat out.
func (r *Runner) SetStepDelay(d time.Duration) { r.stepDelay = d }

// EnableSnapshots writes an intermediate snapshot under dataDir every n steps.
func (r *Runner) EnableSnapshots(dataDir string, every int) {
	r.dataDir = dataDir
	if every > 0 {
		r.snapshotEvery = uint64(every)
	}
}

// topEnv threads ctx into the top layer so a mission can be interrupted
// between stops.
type topEnv struct {
	ctx context.Context
	t   *top.Top
}

func (e topEnv) InitialPerception() top.Report     { return e.t.InitialPerception() }
func (e topEnv) Do(p top.Plan) (top.Report, error) { return e.t.DoContext(e.ctx, p) }

// missionAgent hands the scenario's missions to the top layer one by one,
// drawing random tours from where the robot currently is.
type missionAgent struct {
	r    *Runner
	next int
	err  error
}

func (a *missionAgent) SelectAction(top.Report) (top.Plan, bool) {
	if a.next >= len(a.r.scen.Missions) {
		return top.Plan{}, false
	}
	m := a.r.scen.Missions[a.next]
	a.next++
	plan, err := m.Plan(a.r.rng, a.r.table.Entries(), a.r.body.Pose().Point())
	if err != nil {
		a.err = err
		return top.Plan{}, false
	}
	a.r.mu.Lock()
	a.r.mission = m.Name
	a.r.missions = append(a.r.missions, MissionResult{Name: m.Name, Visit: plan.Visit})
	a.r.mu.Unlock()
	a.r.log.Printf("run %s mission %s: %v", a.r.id, m.Name, plan.Visit)
	return plan, true
}

// Run drives every mission. Stops the middle layer gives up on are recorded
// and the run goes on; an unknown location or a recorder failure ends it.
func (r *Runner) Run(ctx context.Context) (Result, error) {
	r.ctx = ctx
	defer func() { r.ctx = context.Background() }()

	agent := &missionAgent{r: r}
	sim := env.Simulate[top.Plan, top.Report](agent, topEnv{ctx: ctx, t: r.top}, nil)
	err := sim.Go(ctx, len(r.scen.Missions))
	if err == nil && agent.err != nil {
		err = agent.err
	}

	res := r.result()
	switch {
	case err == nil && res.Crashed:
		res.Outcome = OutcomeCrashed
	case err == nil && res.Arrived() == countStops(res.Missions):
		res.Outcome = OutcomeCompleted
	case err == nil:
		res.Outcome = OutcomePartial
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		res.Outcome = OutcomeCanceled
	default:
		res.Outcome = OutcomeAborted
	}
	r.mu.Lock()
	r.outcome = res.Outcome
	r.mu.Unlock()
	r.log.Printf("run %s %s: %d steps, %d/%d stops reached, final (%.2f,%.2f,%.1f)",
		r.id, res.Outcome, res.Steps, res.Arrived(), countStops(res.Missions), res.Final.X, res.Final.Y, res.Final.Heading)
	if err != nil {
		return res, fmt.Errorf("run %s: %w", r.id, err)
	}
	return res, nil
}

func countStops(ms []MissionResult) int {
	n := 0
	for _, m := range ms {
		n += len(m.Stops)
	}
	return n
}

func (r *Runner) result() Result {
	r.mu.Lock()
	defer r.mu.Unlock()
	ms := make([]MissionResult, len(r.missions))
	copy(ms, r.missions)
	return Result{
		RunID:    r.id,
		Missions: ms,
		Steps:    r.body.Steps(),
		Final:    r.body.Pose(),
		Crashed:  r.body.Crashed(),
	}
}

// RecordStep is called by the body after every move.
// The move is already committed by the time it gets here, so it is recorded
// before a canceled context ends the run.
func (r *Runner) RecordStep(s body.Step) error {
	r.mu.Lock()
	r.steers = append(r.steers, uint8(s.Steer))
	mission := r.mission
	if n := r.tune.Observer.HistoryTail; n > 0 {
		r.tail = append(r.tail, s.Pose.Point())
		if len(r.tail) > n {
			r.tail = append(r.tail[:0], r.tail[len(r.tail)-n:]...)
		}
	}
	r.mu.Unlock()

	entry := persistlog.StepEntryOf(r.id, s)
	for _, rec := range r.recorders {
		if err := rec.WriteStep(entry); err != nil {
			r.log.Printf("run %s step %d: record: %v", r.id, s.Seq, err)
		}
	}
	if every := uint64(r.tune.Observer.PublishEveryN); len(r.observers) > 0 && (every <= 1 || s.Seq%every == 0 || s.Crashed) {
		f := Frame{RunID: r.id, Mission: mission, Step: s, Locations: r.table.Entries(), Tail: r.Tail()}
		for _, fn := range r.observers {
			fn(f)
		}
	}
	if r.snapshotEvery > 0 && s.Seq%r.snapshotEvery == 0 {
		if _, err := r.WriteSnapshot(false); err != nil {
			r.log.Printf("run %s step %d: snapshot: %v", r.id, s.Seq, err)
		}
	}
	if err := r.ctx.Err(); err != nil {
		return err
	}
	if r.stepDelay > 0 {
		t := time.NewTimer(r.stepDelay)
		defer t.Stop()
		select {
		case <-r.ctx.Done():
			return r.ctx.Err()
		case <-t.C:
		}
	}
	return nil
}

// RecordStop is called by the top layer after every stop.
func (r *Runner) RecordStop(s top.StopResult) error {
	r.mu.Lock()
	mission := r.mission
	if n := len(r.missions); n > 0 {
		m := &r.missions[n-1]
		m.Stops = append(m.Stops, s)
		if s.Failed() {
			m.Failed++
		}
	}
	r.mu.Unlock()

	entry := persistlog.StopEntryOf(r.id, mission, s)
	for _, rec := range r.recorders {
		if err := rec.WriteStop(entry); err != nil {
			r.log.Printf("run %s stop %d: record: %v", r.id, s.Seq, err)
		}
	}
	return nil
}

func (r *Runner) Tail() []geom.Point {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]geom.Point(nil), r.tail...)
}
