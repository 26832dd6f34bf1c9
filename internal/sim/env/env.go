package env

import (
	"context"
	"fmt"
	"log"
)

// Environment is the capability set shared by every layer of the controller
// stack: each layer is the environment of the layer above it.
type Environment[A, P any] interface {
	InitialPerception() P
	Do(action A) (P, error)
}

// Agent picks the next action from the latest perception. ok=false means the
// agent has nothing more to do.
type Agent[P, A any] interface {
	SelectAction(perception P) (action A, ok bool)
}

// Script is an agent that replays a fixed list of actions regardless of what
// it perceives.
type Script[P, A any] struct {
	actions []A
	next    int
}

func NewScript[P, A any](actions ...A) *Script[P, A] {
	return &Script[P, A]{actions: append([]A(nil), actions...)}
}

func (s *Script[P, A]) SelectAction(P) (A, bool) {
	var zero A
	if s.next >= len(s.actions) {
		return zero, false
	}
	a := s.actions[s.next]
	s.next++
	return a, true
}

func (s *Script[P, A]) Remaining() int { return len(s.actions) - s.next }

// Simulation lets an agent and an environment take turns.
type Simulation[A, P any] struct {
	agent Agent[P, A]
	env   Environment[A, P]
	log   *log.Logger

	perception  P
	perceptions []P
	actions     []A
}

func Simulate[A, P any](agent Agent[P, A], environment Environment[A, P], logger *log.Logger) *Simulation[A, P] {
	p := environment.InitialPerception()
	return &Simulation[A, P]{
		agent:       agent,
		env:         environment,
		log:         logger,
		perception:  p,
		perceptions: []P{p},
	}
}

// Go runs up to n turns. It stops early when the agent is done, the
// environment fails, or ctx is canceled.
func (s *Simulation[A, P]) Go(ctx context.Context, n int) error {
	for i := 0; i < n; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		action, ok := s.agent.SelectAction(s.perception)
		if !ok {
			return nil
		}
		s.actions = append(s.actions, action)
		if s.log != nil {
			s.log.Printf("turn=%d action=%+v", i, action)
		}
		p, err := s.env.Do(action)
		if err != nil {
			return fmt.Errorf("turn %d: %w", i, err)
		}
		s.perception = p
		s.perceptions = append(s.perceptions, p)
	}
	return nil
}

func (s *Simulation[A, P]) Perception() P    { return s.perception }
func (s *Simulation[A, P]) Perceptions() []P { return append([]P(nil), s.perceptions...) }
func (s *Simulation[A, P]) Actions() []A     { return append([]A(nil), s.actions...) }
