package scenario

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"wallnav.ai/internal/geom"
	"wallnav.ai/internal/sim/body"
	"wallnav.ai/internal/sim/locations"
)

// Scenario is one floor plan plus the missions to run on it.
type Scenario struct {
	Name      string            `yaml:"name"`
	Start     Start             `yaml:"start"`
	Walls     []Wall            `yaml:"walls"`
	Locations []locations.Entry `yaml:"locations,omitempty"`
	Missions  []Mission         `yaml:"missions"`
	Seed      int64             `yaml:"seed"`
}

type Start struct {
	X       float64 `yaml:"x"`
	Y       float64 `yaml:"y"`
	Heading float64 `yaml:"heading"`
}

func (s Start) Pose() body.Pose { return body.Pose{X: s.X, Y: s.Y, Heading: s.Heading} }

type Wall struct {
	From [2]float64 `yaml:"from"`
	To   [2]float64 `yaml:"to"`
}

func (w Wall) Segment() geom.Segment {
	return geom.Segment{A: geom.PointFromArray(w.From), B: geom.PointFromArray(w.To)}
}

func WallOf(s geom.Segment) Wall { return Wall{From: s.A.Array(), To: s.B.Array()} }

// Mission is either a fixed list of stops or a generated tour.
type Mission struct {
	Name   string      `yaml:"name"`
	Visit  []string    `yaml:"visit,omitempty"`
	Random *RandomTour `yaml:"random,omitempty"`
}

const (
	StrategyWeighted = "weighted"
	StrategyFarthest = "farthest"
)

type RandomTour struct {
	Stops    int                `yaml:"stops"`
	Strategy string             `yaml:"strategy"`
	Weights  map[string]float64 `yaml:"weights,omitempty"`
	// Revisit is the chance of going back to the previous stop instead of drawing a new one.
	Revisit float64 `yaml:"revisit"`
}

func Default() Scenario {
	s := Scenario{Name: "open-floor", Start: Start{Heading: 90}}
	s.Normalize()
	return s
}

// Load reads a scenario file. An empty path returns Default().
func Load(path string) (Scenario, error) {
	if strings.TrimSpace(path) == "" {
		return Default(), nil
	}
	var s Scenario
	b, err := os.ReadFile(path)
	if err != nil {
		return s, err
	}
	base := filepath.Base(path)
	if err := yaml.Unmarshal(b, &s); err != nil {
		return s, fmt.Errorf("%s: %w", base, err)
	}
	if strings.TrimSpace(s.Name) == "" {
		s.Name = strings.TrimSuffix(base, filepath.Ext(base))
	}
	s.Normalize()
	if err := s.Validate(); err != nil {
		return s, fmt.Errorf("%s: %w", base, err)
	}
	return s, nil
}

func (s *Scenario) Normalize() {
	if s == nil {
		return
	}
	if len(s.Locations) == 0 {
		s.Locations = locations.Defaults()
	}
	s.Start.Heading = geom.NormalizeDeg(s.Start.Heading)
	for i := range s.Missions {
		m := &s.Missions[i]
		m.Name = strings.TrimSpace(m.Name)
		if m.Name == "" {
			m.Name = fmt.Sprintf("mission-%d", i+1)
		}
		if m.Random != nil {
			m.Random.Strategy = strings.ToLower(strings.TrimSpace(m.Random.Strategy))
			if m.Random.Strategy == "" {
				m.Random.Strategy = StrategyWeighted
			}
		}
	}
}

func (s Scenario) Validate() error {
	if !finite(s.Start.X, s.Start.Y, s.Start.Heading) {
		return fmt.Errorf("start must be finite")
	}
	for i, w := range s.Walls {
		if !finite(w.From[0], w.From[1], w.To[0], w.To[1]) {
			return fmt.Errorf("walls[%d]: non-finite endpoint", i)
		}
		if w.Segment().Degenerate() {
			return fmt.Errorf("walls[%d]: zero-length wall", i)
		}
	}
	if err := locations.ValidateEntries(s.Locations); err != nil {
		return err
	}
	known := make(map[string]bool, len(s.Locations))
	for _, e := range s.Locations {
		known[e.Name] = true
	}
	seen := map[string]bool{}
	for i, m := range s.Missions {
		if seen[m.Name] {
			return fmt.Errorf("missions[%d]: duplicate name %q", i, m.Name)
		}
		seen[m.Name] = true
		if err := m.validate(known); err != nil {
			return fmt.Errorf("missions[%d] %s: %w", i, m.Name, err)
		}
	}
	return nil
}

func (m Mission) validate(known map[string]bool) error {
	switch {
	case len(m.Visit) > 0 && m.Random != nil:
		return fmt.Errorf("visit and random are exclusive")
	case len(m.Visit) == 0 && m.Random == nil:
		return fmt.Errorf("nothing to visit")
	}
	for _, name := range m.Visit {
		if !known[name] {
			return fmt.Errorf("unknown location %q", name)
		}
	}
	if r := m.Random; r != nil {
		if r.Stops <= 0 {
			return fmt.Errorf("random stops must be > 0")
		}
		if r.Strategy != StrategyWeighted && r.Strategy != StrategyFarthest {
			return fmt.Errorf("random strategy %q (want %s or %s)", r.Strategy, StrategyWeighted, StrategyFarthest)
		}
		if r.Revisit < 0 || r.Revisit > 1 {
			return fmt.Errorf("random revisit must be in [0,1]")
		}
		for name, w := range r.Weights {
			if !known[name] {
				return fmt.Errorf("weight for unknown location %q", name)
			}
			if w < 0 || !finite(w) {
				return fmt.Errorf("weight for %q must be >= 0", name)
			}
		}
	}
	return nil
}

func (s Scenario) Segments() []geom.Segment {
	out := make([]geom.Segment, 0, len(s.Walls))
	for _, w := range s.Walls {
		out = append(out, w.Segment())
	}
	return out
}

func (s Scenario) Mission(name string) (Mission, bool) {
	for _, m := range s.Missions {
		if m.Name == name {
			return m, true
		}
	}
	return Mission{}, false
}

func finite(vs ...float64) bool {
	for _, v := range vs {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}
