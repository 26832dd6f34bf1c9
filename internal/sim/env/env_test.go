package env

import (
	"context"
	"errors"
	"testing"
)

type counterEnv struct {
	total int
	fail  int
}

func (c *counterEnv) InitialPerception() int { return c.total }

func (c *counterEnv) Do(n int) (int, error) {
	if n == c.fail {
		return c.total, errors.New("boom")
	}
	c.total += n
	return c.total, nil
}

func TestSimulate_ScriptRunsUntilDone(t *testing.T) {
	e := &counterEnv{fail: -1}
	sim := Simulate[int, int](NewScript[int](1, 2, 3), e, nil)
	if err := sim.Go(context.Background(), 10); err != nil {
		t.Fatalf("Go: %v", err)
	}
	if got := sim.Perception(); got != 6 {
		t.Fatalf("perception=%d want 6", got)
	}
	if got := sim.Perceptions(); len(got) != 4 || got[0] != 0 || got[3] != 6 {
		t.Fatalf("perceptions=%v", got)
	}
	if got := sim.Actions(); len(got) != 3 {
		t.Fatalf("actions=%v", got)
	}
}

func TestSimulate_TurnLimitAndErrors(t *testing.T) {
	e := &counterEnv{fail: 3}
	script := NewScript[int](1, 1, 3, 1)
	sim := Simulate[int, int](script, e, nil)
	if err := sim.Go(context.Background(), 2); err != nil {
		t.Fatalf("Go: %v", err)
	}
	if script.Remaining() != 2 {
		t.Fatalf("remaining=%d want 2", script.Remaining())
	}
	if err := sim.Go(context.Background(), 5); err == nil {
		t.Fatalf("expected environment error")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := Simulate[int, int](NewScript[int](1), &counterEnv{fail: -1}, nil).Go(ctx, 1); !errors.Is(err, context.Canceled) {
		t.Fatalf("err=%v want context.Canceled", err)
	}
}
