// Package randx holds the small sampling helpers used to generate missions.
// Every function takes the *rand.Rand to draw from so runs stay reproducible.
package randx

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
)

var ErrNotDistribution = errors.New("not a probability distribution")

// Weighted is one outcome of a discrete distribution.
type Weighted[T any] struct {
	Item T
	P    float64
}

// Scored pairs an element with the value ArgMax compares.
type Scored[T any] struct {
	Item  T
	Value float64
}

// FlipRandom returns true with probability p.
func FlipRandom(r *rand.Rand, p float64) bool {
	return r.Float64() < p
}

// SelectFromDistribution draws one item. Probabilities should sum to at
// least 1; any excess is ignored. If the draw falls past the total it
// returns ErrNotDistribution.
func SelectFromDistribution[T any](r *rand.Rand, dist []Weighted[T]) (T, error) {
	x := r.Float64()
	for _, w := range dist {
		if x < w.P {
			return w.Item, nil
		}
		x -= w.P
	}
	var zero T
	return zero, fmt.Errorf("%w: %d outcomes sum below draw", ErrNotDistribution, len(dist))
}

// Normalize scales non-negative weights so they sum to 1.
func Normalize[T any](dist []Weighted[T]) ([]Weighted[T], error) {
	total := 0.0
	for _, w := range dist {
		if w.P < 0 || math.IsNaN(w.P) || math.IsInf(w.P, 0) {
			return nil, fmt.Errorf("%w: weight %v", ErrNotDistribution, w.P)
		}
		total += w.P
	}
	if total == 0 {
		return nil, fmt.Errorf("%w: weights sum to zero", ErrNotDistribution)
	}
	out := make([]Weighted[T], len(dist))
	for i, w := range dist {
		out[i] = Weighted[T]{Item: w.Item, P: w.P / total}
	}
	return out, nil
}

// ArgMaxAll returns every item sharing the maximal value, in input order.
func ArgMaxAll[T any](xs []Scored[T]) []T {
	var best []T
	max := math.Inf(-1)
	for _, x := range xs {
		switch {
		case x.Value > max:
			best, max = []T{x.Item}, x.Value
		case x.Value == max:
			best = append(best, x.Item)
		}
	}
	return best
}

// ArgMaxRandom breaks ties between maximal items uniformly at random.
// ok is false for an empty input.
func ArgMaxRandom[T any](r *rand.Rand, xs []Scored[T]) (item T, ok bool) {
	best := ArgMaxAll(xs)
	if len(best) == 0 {
		return item, false
	}
	return best[r.Intn(len(best))], true
}

// ArgMax returns the index of a maximal element of values.
func ArgMax(r *rand.Rand, values []float64) int {
	xs := make([]Scored[int], len(values))
	for i, v := range values {
		xs[i] = Scored[int]{Item: i, Value: v}
	}
	i, ok := ArgMaxRandom(r, xs)
	if !ok {
		return -1
	}
	return i
}
