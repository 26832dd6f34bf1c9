package tuning

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"wallnav.ai/internal/sim/body"
	"wallnav.ai/internal/sim/locations"
	"wallnav.ai/internal/sim/middle"
	"wallnav.ai/internal/sim/top"
)

type Tuning struct {
	ProtocolVersion string `yaml:"protocol_version"`

	Body     Body     `yaml:"body"`
	Middle   Middle   `yaml:"middle"`
	Top      Top      `yaml:"top"`
	Observer Observer `yaml:"observer"`
	Log      Log      `yaml:"log"`
}

type Body struct {
	TurningAngle  float64 `yaml:"turning_angle"`
	WhiskerLength float64 `yaml:"whisker_length"`
	WhiskerAngle  float64 `yaml:"whisker_angle"`
}

type Middle struct {
	StraightAngle  float64 `yaml:"straight_angle"`
	CloseThreshold float64 `yaml:"close_threshold"`
	MaxSteps       int     `yaml:"max_steps"`
}

type Top struct {
	Timeout int `yaml:"timeout"`
}

type Observer struct {
	DragEpsilon   float64 `yaml:"drag_epsilon"`
	StepDelayMs   int     `yaml:"step_delay_ms"`
	HistoryTail   int     `yaml:"history_tail"`
	PublishEveryN int     `yaml:"publish_every_n"`
}

type Log struct {
	Verbose bool `yaml:"verbose"`
	// SnapshotEverySteps writes an intermediate snapshot every N body steps; 0 disables.
	SnapshotEverySteps int `yaml:"snapshot_every_steps"`
}

func Defaults() Tuning {
	b := body.DefaultConfig()
	m := middle.DefaultConfig()
	return Tuning{
		ProtocolVersion: "1.0",
		Body:            Body{TurningAngle: b.TurningAngle, WhiskerLength: b.WhiskerLength, WhiskerAngle: b.WhiskerAngle},
		Middle:          Middle{StraightAngle: m.StraightAngle, CloseThreshold: m.CloseThreshold, MaxSteps: m.MaxSteps},
		Top:             Top{Timeout: top.DefaultConfig().Timeout},
		Observer:        Observer{DragEpsilon: locations.DefaultEpsilon, StepDelayMs: 50, HistoryTail: 64, PublishEveryN: 1},
	}
}

// Load reads tuning.yaml on top of Defaults. An empty path returns the defaults.
func Load(path string) (Tuning, error) {
	t := Defaults()
	if strings.TrimSpace(path) == "" {
		return t, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, err
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	if err := t.Validate(); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	return t, nil
}

func (t Tuning) Validate() error {
	if err := t.BodyConfig().Validate(); err != nil {
		return err
	}
	if err := t.MiddleConfig().Validate(); err != nil {
		return err
	}
	if err := t.TopConfig().Validate(); err != nil {
		return err
	}
	if t.Observer.DragEpsilon < 0 {
		return fmt.Errorf("observer drag_epsilon must be >= 0")
	}
	if t.Observer.StepDelayMs < 0 || t.Observer.HistoryTail < 0 || t.Observer.PublishEveryN < 0 {
		return fmt.Errorf("observer step_delay_ms, history_tail and publish_every_n must be >= 0")
	}
	if t.Log.SnapshotEverySteps < 0 {
		return fmt.Errorf("log snapshot_every_steps must be >= 0")
	}
	return nil
}

func (t Tuning) BodyConfig() body.Config {
	return body.Config{TurningAngle: t.Body.TurningAngle, WhiskerLength: t.Body.WhiskerLength, WhiskerAngle: t.Body.WhiskerAngle}
}

func (t Tuning) MiddleConfig() middle.Config {
	return middle.Config{
		StraightAngle:  t.Middle.StraightAngle,
		CloseThreshold: t.Middle.CloseThreshold,
		MaxSteps:       t.Middle.MaxSteps,
		Verbose:        t.Log.Verbose,
	}
}

func (t Tuning) TopConfig() top.Config { return top.Config{Timeout: t.Top.Timeout} }
