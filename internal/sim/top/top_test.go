package top

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"wallnav.ai/internal/geom"
	"wallnav.ai/internal/sim/body"
	"wallnav.ai/internal/sim/locations"
	"wallnav.ai/internal/sim/middle"
)

// fakeMiddle records goals and answers from a queue of results.
type fakeMiddle struct {
	goals   []middle.Goal
	errs    []error
	onGoal  func(n int)
	arrived bool
}

func (f *fakeMiddle) InitialPerception() middle.Arrival { return middle.Arrival{} }

func (f *fakeMiddle) Do(g middle.Goal) (middle.Arrival, error) {
	n := len(f.goals)
	f.goals = append(f.goals, g)
	if f.onGoal != nil {
		f.onGoal(n)
	}
	if n < len(f.errs) && f.errs[n] != nil {
		return middle.Arrival{Steps: 3}, f.errs[n]
	}
	return middle.Arrival{Arrived: f.arrived, Steps: 7}, nil
}

type stopLog struct{ stops []StopResult }

func (l *stopLog) RecordStop(s StopResult) error {
	l.stops = append(l.stops, s)
	return nil
}

func abTable(t *testing.T) *locations.Table {
	t.Helper()
	tab, err := locations.NewTable([]locations.Entry{{Name: "A", X: 10, Y: 0}, {Name: "B", X: 10, Y: 10}})
	if err != nil {
		t.Fatalf("NewTable: %v", err)
	}
	return tab
}

func TestTop_MissionThroughRealStack(t *testing.T) {
	b, err := body.New(body.DefaultConfig(), nil, body.Pose{Heading: 90})
	if err != nil {
		t.Fatalf("body.New: %v", err)
	}
	mid, err := middle.New(b, middle.DefaultConfig(), nil)
	if err != nil {
		t.Fatalf("middle.New: %v", err)
	}
	tp, err := New(mid, abTable(t), DefaultConfig(), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	rec := &stopLog{}
	tp.SetRecorder(rec)

	rep, err := tp.Do(Plan{Visit: []string{"A", "B"}})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if len(rep.Stops) != 2 || rep.Arrived() != 2 {
		t.Fatalf("report=%+v", rep)
	}
	if d := b.Pose().Point().Dist(geom.Point{X: 10, Y: 10}); d > 2 {
		t.Fatalf("final distance to B=%v", d)
	}
	if len(rec.stops) != 2 || rec.stops[1].Seq != 2 || rec.stops[1].Name != "B" {
		t.Fatalf("recorded=%+v", rec.stops)
	}
	if b.Crashed() {
		t.Fatalf("open floor should not crash")
	}
}

func TestTop_UnknownLocationStopsMission(t *testing.T) {
	lower := &fakeMiddle{arrived: true}
	tp, err := New(lower, abTable(t), DefaultConfig(), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	rep, err := tp.Do(Plan{Visit: []string{"A", "nowhere", "B"}})
	if !errors.Is(err, ErrUnknownLocation) {
		t.Fatalf("err=%v want ErrUnknownLocation", err)
	}
	if len(rep.Stops) != 1 || len(lower.goals) != 1 {
		t.Fatalf("stops=%d goals=%d", len(rep.Stops), len(lower.goals))
	}
	if lower.goals[0].Timeout != 200 {
		t.Fatalf("goal timeout=%d", lower.goals[0].Timeout)
	}
}

func TestTop_FailedStopDoesNotAbortMission(t *testing.T) {
	lower := &fakeMiddle{arrived: true, errs: []error{fmt.Errorf("wrapped: %w", middle.ErrStalled), middle.ErrNavigationTimeout}}
	tp, err := New(lower, abTable(t), DefaultConfig(), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	rep, err := tp.Do(Plan{Visit: []string{"A", "B", "A"}})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if len(rep.Stops) != 3 {
		t.Fatalf("stops=%+v", rep.Stops)
	}
	if !errors.Is(rep.Stops[0].Err, middle.ErrStalled) || !errors.Is(rep.Stops[1].Err, middle.ErrNavigationTimeout) {
		t.Fatalf("stop errors: %v / %v", rep.Stops[0].Err, rep.Stops[1].Err)
	}
	if rep.Stops[2].Failed() || !rep.Stops[2].Arrived {
		t.Fatalf("last stop=%+v", rep.Stops[2])
	}
}

func TestTop_OtherErrorsPropagate(t *testing.T) {
	boom := errors.New("boom")
	lower := &fakeMiddle{errs: []error{boom}}
	tp, err := New(lower, abTable(t), DefaultConfig(), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := tp.Do(Plan{Visit: []string{"A", "B"}}); !errors.Is(err, boom) {
		t.Fatalf("err=%v want boom", err)
	}
	if len(lower.goals) != 1 {
		t.Fatalf("mission should stop on unexpected error")
	}
}

func TestTop_ResolvesEachStopWhenReached(t *testing.T) {
	tab := abTable(t)
	lower := &fakeMiddle{arrived: true}
	lower.onGoal = func(n int) {
		if n == 0 {
			if err := tab.Set("B", geom.Point{X: -4, Y: 2}); err != nil {
				t.Errorf("Set: %v", err)
			}
		}
	}
	tp, err := New(lower, tab, Config{Timeout: middle.Unlimited}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := tp.Do(Plan{Visit: []string{"A", "B"}}); err != nil {
		t.Fatalf("Do: %v", err)
	}
	if got := lower.goals[1]; got.Target != (geom.Point{X: -4, Y: 2}) || got.Timeout != middle.Unlimited {
		t.Fatalf("second goal=%+v", got)
	}
}

func TestTop_ContextCanceled(t *testing.T) {
	lower := &fakeMiddle{arrived: true}
	tp, err := New(lower, abTable(t), DefaultConfig(), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := tp.DoContext(ctx, Plan{Visit: []string{"A"}}); !errors.Is(err, context.Canceled) {
		t.Fatalf("err=%v", err)
	}
	if len(lower.goals) != 0 {
		t.Fatalf("canceled mission must not move")
	}
}

func TestConfig_Validate(t *testing.T) {
	for _, c := range []struct {
		Timeout int
		OK      bool
	}{{200, true}, {1, true}, {middle.Unlimited, true}, {0, false}, {-5, false}} {
		err := Config{Timeout: c.Timeout}.Validate()
		if (err == nil) != c.OK {
			t.Fatalf("timeout=%d err=%v", c.Timeout, err)
		}
	}
}
