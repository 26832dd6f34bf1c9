package middle

import (
	"errors"
	"math"
	"testing"

	"wallnav.ai/internal/geom"
	"wallnav.ai/internal/sim/body"
)

func newStack(t *testing.T, walls []geom.Segment, start body.Pose, cfg Config) (*body.Body, *Middle) {
	t.Helper()
	b, err := body.New(body.DefaultConfig(), walls, start)
	if err != nil {
		t.Fatalf("body.New: %v", err)
	}
	m, err := New(b, cfg, nil)
	if err != nil {
		t.Fatalf("middle.New: %v", err)
	}
	return b, m
}

// stuckBody never moves and never crashes.
type stuckBody struct{ calls int }

func (s *stuckBody) InitialPerception() body.Perception { return body.Perception{} }
func (s *stuckBody) Do(body.Steer) (body.Perception, error) {
	s.calls++
	return body.Perception{}, nil
}

// crashBody crashes on its first step.
type crashBody struct{ calls int }

func (c *crashBody) InitialPerception() body.Perception { return body.Perception{} }
func (c *crashBody) Do(body.Steer) (body.Perception, error) {
	c.calls++
	return body.Perception{X: 1, Crashed: true}, nil
}

func TestMiddle_GoToArrivesWithinBudget(t *testing.T) {
	b, m := newStack(t, nil, body.Pose{X: 0, Y: 0, Heading: 90}, DefaultConfig())
	res, err := m.Do(Goal{Target: geom.Point{X: 10, Y: 0}, Timeout: 200})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if !res.Arrived {
		t.Fatalf("expected arrival, got %+v (pose=%+v)", res, b.Pose())
	}
	if res.Steps <= 0 || res.Steps > 200 {
		t.Fatalf("steps=%d", res.Steps)
	}
	if d := b.Pose().Point().Dist(geom.Point{X: 10}); d > 2 {
		t.Fatalf("final distance=%v", d)
	}
}

func TestMiddle_FiniteBudgetExhaustedIsNotAnError(t *testing.T) {
	_, m := newStack(t, nil, body.Pose{Heading: 90}, DefaultConfig())
	res, err := m.Do(Goal{Target: geom.Point{X: 100, Y: 0}, Timeout: 5})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if res.Arrived || res.Steps != 5 {
		t.Fatalf("res=%+v want 5 steps not arrived", res)
	}

	res, err = m.Do(Goal{Target: geom.Point{X: 100, Y: 0}, Timeout: 0})
	if err != nil || res.Steps != 0 {
		t.Fatalf("zero budget should not step: res=%+v err=%v", res, err)
	}
}

func TestMiddle_CrashedBodyStalls(t *testing.T) {
	lower := &crashBody{}
	m, err := New(lower, DefaultConfig(), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	res, err := m.Do(Goal{Target: geom.Point{X: 20, Y: 0}, Timeout: Unlimited})
	if !errors.Is(err, ErrStalled) {
		t.Fatalf("err=%v want ErrStalled", err)
	}
	if res.Arrived || res.Steps != 1 || lower.calls != 1 {
		t.Fatalf("res=%+v calls=%d", res, lower.calls)
	}
	if !m.Perception().Crashed {
		t.Fatalf("perception should report the crash")
	}
}

func TestMiddle_RealCrashStallsNextGoal(t *testing.T) {
	b, m := newStack(t, []geom.Segment{geom.Seg(1.5, -50, 1.5, 50)}, body.Pose{Heading: 0}, DefaultConfig())
	for !b.Crashed() {
		if _, err := b.Do(body.Straight); err != nil {
			t.Fatalf("Do: %v", err)
		}
	}
	// Middle still holds the pre-crash perception; its first step observes the crash.
	_, err := m.Do(Goal{Target: geom.Point{X: -20, Y: 0}, Timeout: 200})
	if !errors.Is(err, ErrStalled) {
		t.Fatalf("err=%v want ErrStalled", err)
	}
}

func TestMiddle_UnlimitedBudgetIsCapped(t *testing.T) {
	lower := &stuckBody{}
	m, err := New(lower, Config{StraightAngle: 11, CloseThreshold: 2, MaxSteps: 50}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	res, err := m.Do(Goal{Target: geom.Point{X: 30, Y: 30}, Timeout: Unlimited})
	if !errors.Is(err, ErrNavigationTimeout) {
		t.Fatalf("err=%v want ErrNavigationTimeout", err)
	}
	if res.Steps != 50 || lower.calls != 50 {
		t.Fatalf("steps=%d calls=%d want 50", res.Steps, lower.calls)
	}
}

func TestMiddle_IsCloseEnoughAtOwnPosition(t *testing.T) {
	for _, th := range []float64{0, 0.5, 2, 100} {
		_, m := newStack(t, nil, body.Pose{X: 3, Y: -4, Heading: 10}, Config{CloseThreshold: th, StraightAngle: 11, MaxSteps: 10})
		if !m.IsCloseEnough(geom.Point{X: 3, Y: -4}) {
			t.Fatalf("threshold=%v: own position must be close enough", th)
		}
	}
	_, m := newStack(t, nil, body.Pose{}, DefaultConfig())
	if !m.IsCloseEnough(geom.Point{X: 2, Y: 0}) {
		t.Fatalf("distance equal to threshold counts as arrived")
	}
	if m.IsCloseEnough(geom.Point{X: 2, Y: 0.01}) {
		t.Fatalf("distance beyond threshold must not count")
	}
}

func TestMiddle_HeadTowards(t *testing.T) {
	cases := []struct {
		Name    string
		Heading float64
		Target  geom.Point
		Want    body.Steer
	}{
		{"ahead", 0, geom.Point{X: 10, Y: 0}, body.Straight},
		{"inside dead-band", 0, geom.Point{X: 10, Y: 1.5}, body.Straight},
		{"to the left", 0, geom.Point{X: 0, Y: 10}, body.Left},
		{"to the right", 0, geom.Point{X: 0, Y: -10}, body.Right},
		{"behind, below", 90, geom.Point{X: 10, Y: 0}, body.Right},
		{"wrap around", 350, geom.Point{X: 10, Y: 3}, body.Left},
		{"same spot", 45, geom.Point{}, body.Straight},
	}
	for _, c := range cases {
		_, m := newStack(t, nil, body.Pose{Heading: c.Heading}, DefaultConfig())
		if got := m.HeadTowards(c.Target); got != c.Want {
			t.Fatalf("%s: got %s want %s", c.Name, got, c.Want)
		}
	}
}

func TestMiddle_WhiskerOverridesGoal(t *testing.T) {
	// Whisker hits the wall while the target is straight ahead.
	_, m := newStack(t, []geom.Segment{geom.Seg(0, -2.5, 6, -2.5)}, body.Pose{Heading: 0}, DefaultConfig())
	if !m.Perception().Whisker {
		t.Fatalf("expected whisker on")
	}
	if got := m.Steer(geom.Point{X: 20, Y: 0}); got != body.Left {
		t.Fatalf("steer=%s want left", got)
	}
}

func TestHeadingError_Range(t *testing.T) {
	for b := -180.0; b <= 180; b += 7.5 {
		for h := 0.0; h < 360; h += 9 {
			d := HeadingError(b, h)
			if d <= -180 || d > 180 {
				t.Fatalf("HeadingError(%v,%v)=%v out of (-180,180]", b, h, d)
			}
			if math.Abs(math.Mod(h+d-b+720, 360)) > 1e-9 && math.Abs(math.Mod(h+d-b+720, 360)-360) > 1e-9 {
				t.Fatalf("HeadingError(%v,%v)=%v does not rotate heading onto bearing", b, h, d)
			}
		}
	}
	if d := HeadingError(180, 0); d != 180 {
		t.Fatalf("half turn should map to +180, got %v", d)
	}
}
