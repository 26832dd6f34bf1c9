package middle

import (
	"errors"
	"fmt"
	"log"
	"math"

	"wallnav.ai/internal/geom"
	"wallnav.ai/internal/sim/body"
	"wallnav.ai/internal/sim/env"
)

// Unlimited disables the step budget of a Goal.
const Unlimited = -1

var (
	// ErrStalled means the body can no longer move (it crashed) before arriving.
	ErrStalled = errors.New("navigation stalled")
	// ErrNavigationTimeout means an unlimited goal exceeded Config.MaxSteps.
	ErrNavigationTimeout = errors.New("navigation timeout")
)

type Config struct {
	StraightAngle  float64 // dead-band around zero heading error, degrees
	CloseThreshold float64
	MaxSteps       int // cap for Unlimited goals
	Verbose        bool
}

func DefaultConfig() Config {
	return Config{StraightAngle: 11, CloseThreshold: 2, MaxSteps: 100000}
}

func (c Config) Validate() error {
	if c.StraightAngle < 0 || math.IsNaN(c.StraightAngle) {
		return fmt.Errorf("middle straight_angle must be >= 0")
	}
	if c.CloseThreshold < 0 || math.IsNaN(c.CloseThreshold) {
		return fmt.Errorf("middle close_threshold must be >= 0")
	}
	if c.MaxSteps <= 0 {
		return fmt.Errorf("middle max_steps must be > 0")
	}
	return nil
}

type Goal struct {
	Target  geom.Point `json:"go_to"`
	Timeout int        `json:"timeout"`
}

type Arrival struct {
	Arrived bool `json:"arrived"`
	Steps   int  `json:"steps"`
}

// Middle turns target points into steering commands for the layer below.
type Middle struct {
	cfg   Config
	lower env.Environment[body.Steer, body.Perception]
	log   *log.Logger

	closeSq    float64
	perception body.Perception
}

func New(lower env.Environment[body.Steer, body.Perception], cfg Config, logger *log.Logger) (*Middle, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Middle{
		cfg:        cfg,
		lower:      lower,
		log:        logger,
		closeSq:    cfg.CloseThreshold * cfg.CloseThreshold,
		perception: lower.InitialPerception(),
	}, nil
}

func (m *Middle) Config() Config              { return m.cfg }
func (m *Middle) Perception() body.Perception { return m.perception }
func (m *Middle) InitialPerception() Arrival  { return Arrival{} }

// IsCloseEnough compares squared distances against the squared threshold.
func (m *Middle) IsCloseEnough(target geom.Point) bool {
	return m.perception.Point().DistSq(target) <= m.closeSq
}

// HeadTowards returns the steer that reduces the heading error to target.
func (m *Middle) HeadTowards(target geom.Point) body.Steer {
	dx := target.X - m.perception.X
	dy := target.Y - m.perception.Y
	dist := math.Sqrt(dx*dx + dy*dy)
	if dist == 0 {
		return body.Straight
	}
	bearing := math.Acos(clamp(dx/dist, -1, 1)) * 180 / math.Pi
	if m.perception.Y > target.Y {
		bearing = -bearing
	}
	diff := HeadingError(bearing, m.perception.Heading)
	switch {
	case diff > m.cfg.StraightAngle:
		return body.Left
	case diff < -m.cfg.StraightAngle:
		return body.Right
	default:
		return body.Straight
	}
}

// HeadingError is the signed minimal rotation from heading to bearing, in (-180,180].
func HeadingError(bearing, heading float64) float64 {
	d := math.Mod(bearing-heading+540, 360)
	if d < 0 {
		d += 360
	}
	d -= 180
	if d <= -180 {
		d += 360
	}
	return d
}

// Steer turns left whenever the whisker is on, otherwise heads for target.
func (m *Middle) Steer(target geom.Point) body.Steer {
	if m.perception.Whisker {
		if m.cfg.Verbose && m.log != nil {
			m.log.Printf("whisker on at (%.2f,%.2f) heading=%.1f", m.perception.X, m.perception.Y, m.perception.Heading)
		}
		return body.Left
	}
	return m.HeadTowards(target)
}

// Do steps the body towards goal.Target until it is close enough or the
// budget runs out. Running out of a finite budget is not an error.
func (m *Middle) Do(goal Goal) (Arrival, error) {
	remaining := goal.Timeout
	steps := 0
	arrived := m.IsCloseEnough(goal.Target)
	for !arrived && remaining != 0 {
		if m.perception.Crashed {
			return Arrival{Steps: steps}, fmt.Errorf("%w: crashed at (%.2f,%.2f)", ErrStalled, m.perception.X, m.perception.Y)
		}
		if remaining < 0 && steps >= m.cfg.MaxSteps {
			return Arrival{Steps: steps}, fmt.Errorf("%w: %d steps towards (%.2f,%.2f)", ErrNavigationTimeout, steps, goal.Target.X, goal.Target.Y)
		}
		p, err := m.lower.Do(m.Steer(goal.Target))
		if err != nil {
			return Arrival{Steps: steps}, err
		}
		m.perception = p
		steps++
		if remaining > 0 {
			remaining--
		}
		arrived = m.IsCloseEnough(goal.Target)
	}
	return Arrival{Arrived: arrived, Steps: steps}, nil
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
