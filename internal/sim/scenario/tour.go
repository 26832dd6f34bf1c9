package scenario

import (
	"fmt"
	"math/rand"
	"sort"

	"wallnav.ai/internal/geom"
	"wallnav.ai/internal/sim/locations"
	"wallnav.ai/internal/sim/randx"
	"wallnav.ai/internal/sim/top"
)

// Plan turns the mission into the list of stops handed to the top layer.
// Random tours are drawn from r against the given locations, starting at from.
func (m Mission) Plan(r *rand.Rand, entries []locations.Entry, from geom.Point) (top.Plan, error) {
	if m.Random == nil {
		return top.Plan{Visit: append([]string(nil), m.Visit...)}, nil
	}
	if len(entries) == 0 {
		return top.Plan{}, fmt.Errorf("mission %s: no locations to draw from", m.Name)
	}
	tour := m.Random
	pos := make(map[string]geom.Point, len(entries))
	for _, e := range entries {
		pos[e.Name] = e.Point()
	}
	visit := make([]string, 0, tour.Stops)
	at, prev := from, ""
	for len(visit) < tour.Stops {
		var next string
		var err error
		switch {
		case len(visit) >= 2 && randx.FlipRandom(r, tour.Revisit):
			next = visit[len(visit)-2]
		case tour.Strategy == StrategyFarthest:
			next, err = farthest(r, entries, at, prev)
		default:
			next, err = weighted(r, entries, tour.Weights)
		}
		if err != nil {
			return top.Plan{}, fmt.Errorf("mission %s: %w", m.Name, err)
		}
		visit = append(visit, next)
		prev, at = next, pos[next]
	}
	return top.Plan{Visit: visit}, nil
}

func farthest(r *rand.Rand, entries []locations.Entry, at geom.Point, skip string) (string, error) {
	xs := make([]randx.Scored[string], 0, len(entries))
	for _, e := range entries {
		if e.Name == skip && len(entries) > 1 {
			continue
		}
		xs = append(xs, randx.Scored[string]{Item: e.Name, Value: at.DistSq(e.Point())})
	}
	name, ok := randx.ArgMaxRandom(r, xs)
	if !ok {
		return "", fmt.Errorf("no candidate stop")
	}
	return name, nil
}

func weighted(r *rand.Rand, entries []locations.Entry, weights map[string]float64) (string, error) {
	dist := make([]randx.Weighted[string], 0, len(entries))
	if len(weights) == 0 {
		for _, e := range entries {
			dist = append(dist, randx.Weighted[string]{Item: e.Name, P: 1})
		}
	} else {
		names := make([]string, 0, len(weights))
		for n := range weights {
			names = append(names, n)
		}
		sort.Strings(names)
		for _, n := range names {
			dist = append(dist, randx.Weighted[string]{Item: n, P: weights[n]})
		}
	}
	norm, err := randx.Normalize(dist)
	if err != nil {
		return "", err
	}
	// Float rounding can leave the normalized mass a hair under 1.
	for i := 0; i < 4; i++ {
		name, err := randx.SelectFromDistribution(r, norm)
		if err == nil {
			return name, nil
		}
	}
	return norm[len(norm)-1].Item, nil
}
