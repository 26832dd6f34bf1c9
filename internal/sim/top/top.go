package top

import (
	"context"
	"errors"
	"fmt"
	"log"

	"wallnav.ai/internal/geom"
	"wallnav.ai/internal/sim/env"
	"wallnav.ai/internal/sim/locations"
	"wallnav.ai/internal/sim/middle"
)

var ErrUnknownLocation = errors.New("unknown location")

type Config struct {
	Timeout int // step budget handed to the middle layer per stop
}

func DefaultConfig() Config { return Config{Timeout: 200} }

func (c Config) Validate() error {
	if c.Timeout == 0 {
		return fmt.Errorf("top timeout must be non-zero")
	}
	if c.Timeout < 0 && c.Timeout != middle.Unlimited {
		return fmt.Errorf("top timeout must be > 0 or %d (unlimited)", middle.Unlimited)
	}
	return nil
}

// Plan is a mission: location names visited in order.
type Plan struct {
	Visit []string `json:"visit" yaml:"visit"`
}

type StopResult struct {
	Seq     int        `json:"seq"`
	Name    string     `json:"name"`
	Target  geom.Point `json:"target"`
	Arrived bool       `json:"arrived"`
	Steps   int        `json:"steps"`
	Err     error      `json:"-"`
}

// Failed reports whether the middle layer gave up on this stop.
func (s StopResult) Failed() bool { return s.Err != nil }

type Report struct {
	Stops []StopResult `json:"stops"`
}

func (r Report) Arrived() int {
	n := 0
	for _, s := range r.Stops {
		if s.Arrived {
			n++
		}
	}
	return n
}

type StopRecorder interface {
	RecordStop(StopResult) error
}

// Top walks a plan of named locations, resolving each name when it is
// reached so that locations moved mid-mission are honoured.
type Top struct {
	cfg   Config
	lower env.Environment[middle.Goal, middle.Arrival]
	table *locations.Table
	log   *log.Logger

	recorder StopRecorder
	seq      int
}

func New(lower env.Environment[middle.Goal, middle.Arrival], table *locations.Table, cfg Config, logger *log.Logger) (*Top, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if table == nil {
		return nil, fmt.Errorf("top: nil location table")
	}
	return &Top{cfg: cfg, lower: lower, table: table, log: logger}, nil
}

func (t *Top) SetRecorder(r StopRecorder) { t.recorder = r }
func (t *Top) Config() Config             { return t.cfg }
func (t *Top) Table() *locations.Table    { return t.table }
func (t *Top) InitialPerception() Report  { return Report{} }

func (t *Top) Do(plan Plan) (Report, error) {
	return t.DoContext(context.Background(), plan)
}

// DoContext visits every stop of plan in order. A stop the middle layer
// cannot reach (stall or timeout) is recorded and the mission goes on;
// an unknown name ends the mission.
func (t *Top) DoContext(ctx context.Context, plan Plan) (Report, error) {
	var rep Report
	for _, name := range plan.Visit {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		target, ok := t.table.Lookup(name)
		if !ok {
			return rep, fmt.Errorf("%w: %q", ErrUnknownLocation, name)
		}
		t.seq++
		arr, err := t.lower.Do(middle.Goal{Target: target, Timeout: t.cfg.Timeout})
		stop := StopResult{Seq: t.seq, Name: name, Target: target, Arrived: arr.Arrived, Steps: arr.Steps}
		if err != nil {
			if !errors.Is(err, middle.ErrStalled) && !errors.Is(err, middle.ErrNavigationTimeout) {
				return rep, fmt.Errorf("stop %q: %w", name, err)
			}
			stop.Err = err
		}
		rep.Stops = append(rep.Stops, stop)
		t.logStop(stop)
		if t.recorder != nil {
			if err := t.recorder.RecordStop(stop); err != nil {
				return rep, fmt.Errorf("record stop %q: %w", name, err)
			}
		}
	}
	return rep, nil
}

func (t *Top) logStop(s StopResult) {
	if t.log == nil {
		return
	}
	switch {
	case s.Err != nil:
		t.log.Printf("stop %d %s (%.1f,%.1f): %v after %d steps", s.Seq, s.Name, s.Target.X, s.Target.Y, s.Err, s.Steps)
	case s.Arrived:
		t.log.Printf("stop %d %s (%.1f,%.1f): arrived in %d steps", s.Seq, s.Name, s.Target.X, s.Target.Y, s.Steps)
	default:
		t.log.Printf("stop %d %s (%.1f,%.1f): budget spent after %d steps", s.Seq, s.Name, s.Target.X, s.Target.Y, s.Steps)
	}
}
