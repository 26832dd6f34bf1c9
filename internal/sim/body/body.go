package body

import (
	"fmt"
	"math"

	"wallnav.ai/internal/geom"
)

type Config struct {
	TurningAngle  float64 // degrees turned by one left/right step
	WhiskerLength float64
	WhiskerAngle  float64 // whisker offset clockwise from the heading
}

func DefaultConfig() Config {
	return Config{TurningAngle: 18, WhiskerLength: 6, WhiskerAngle: 30}
}

func (c Config) Validate() error {
	for name, v := range map[string]float64{
		"turning_angle":  c.TurningAngle,
		"whisker_length": c.WhiskerLength,
		"whisker_angle":  c.WhiskerAngle,
	} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("body %s must be finite", name)
		}
	}
	if c.WhiskerLength <= 0 {
		return fmt.Errorf("body whisker_length must be > 0")
	}
	return nil
}

type Pose struct {
	X       float64 `json:"x"`
	Y       float64 `json:"y"`
	Heading float64 `json:"heading"`
}

func (p Pose) Point() geom.Point { return geom.Point{X: p.X, Y: p.Y} }

type Perception struct {
	X       float64 `json:"x"`
	Y       float64 `json:"y"`
	Heading float64 `json:"heading"`
	Whisker bool    `json:"whisker"`
	Crashed bool    `json:"crashed"`
}

func (p Perception) Point() geom.Point { return geom.Point{X: p.X, Y: p.Y} }

// Step is emitted to the Recorder after every committed move.
type Step struct {
	Seq        uint64      `json:"seq"`
	Steer      Steer       `json:"steer"`
	Pose       Pose        `json:"pose"`
	Whisker    bool        `json:"whisker"`
	Crashed    bool        `json:"crashed"`
	CrashPoint *geom.Point `json:"crash_point,omitempty"`
}

type Recorder interface {
	RecordStep(Step) error
}

// Body owns the robot pose inside a fixed wall set. Once crashed it never
// moves again.
type Body struct {
	cfg   Config
	walls []geom.Segment

	pose       Pose
	crashed    bool
	crashPoint geom.Point
	steps      uint64
	last       Perception

	history     []geom.Point
	wallHistory []geom.Point

	recorder Recorder
}

func New(cfg Config, walls []geom.Segment, start Pose) (*Body, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if math.IsNaN(start.X) || math.IsNaN(start.Y) || math.IsNaN(start.Heading) {
		return nil, fmt.Errorf("body start pose must not be NaN")
	}
	start.Heading = geom.NormalizeDeg(start.Heading)
	b := &Body{
		cfg:     cfg,
		walls:   append([]geom.Segment(nil), walls...),
		pose:    start,
		history: []geom.Point{start.Point()},
	}
	return b, nil
}

func (b *Body) SetRecorder(r Recorder) { b.recorder = r }

func (b *Body) Config() Config { return b.cfg }
func (b *Body) Pose() Pose     { return b.pose }
func (b *Body) Crashed() bool  { return b.crashed }
func (b *Body) Steps() uint64  { return b.steps }

// CrashPoint is where the crashing move first touched a wall.
func (b *Body) CrashPoint() (geom.Point, bool) { return b.crashPoint, b.crashed }

func (b *Body) Walls() []geom.Segment        { return append([]geom.Segment(nil), b.walls...) }
func (b *Body) History() []geom.Point        { return append([]geom.Point(nil), b.history...) }
func (b *Body) WallHistory() []geom.Point    { return append([]geom.Point(nil), b.wallHistory...) }
func (b *Body) HistoryLen() int              { return len(b.history) }
func (b *Body) WhiskerSegment() geom.Segment { return b.whiskerSegment() }

func (b *Body) whiskerSegment() geom.Segment {
	return geom.Ray(b.pose.Point(), b.pose.Heading-b.cfg.WhiskerAngle, b.cfg.WhiskerLength)
}

// Whisker reports whether the sensing segment touches any wall. A hit is
// appended to the wall history. A crashed body reports its last reading.
func (b *Body) Whisker() bool {
	if b.crashed {
		return b.last.Whisker
	}
	return b.sense()
}

func (b *Body) sense() bool {
	w := b.whiskerSegment()
	for _, wall := range b.walls {
		if geom.Intersect(w, wall) {
			b.wallHistory = append(b.wallHistory, b.pose.Point())
			return true
		}
	}
	return false
}

func (b *Body) perceive() Perception {
	b.last = Perception{
		X:       b.pose.X,
		Y:       b.pose.Y,
		Heading: b.pose.Heading,
		Whisker: b.sense(),
		Crashed: b.crashed,
	}
	return b.last
}

func (b *Body) InitialPerception() Perception {
	if b.crashed {
		return b.last
	}
	return b.perceive()
}

// Do applies one steering step. The move is atomic: turn, advance one unit
// along the new heading, check the path against every wall, commit.
func (b *Body) Do(s Steer) (Perception, error) {
	if !s.Valid() {
		return b.last, fmt.Errorf("%w: %s", ErrInvalidSteer, s)
	}
	if b.crashed {
		return b.last, nil
	}

	heading := geom.NormalizeDeg(b.pose.Heading + s.Delta()*b.cfg.TurningAngle)
	rad := heading * math.Pi / 180
	from := b.pose.Point()
	to := geom.Point{X: from.X + math.Cos(rad), Y: from.Y + math.Sin(rad)}
	path := geom.Segment{A: from, B: to}

	bestS := math.Inf(1)
	for _, wall := range b.walls {
		p, at, _, ok := geom.IntersectAt(path, wall)
		if ok && at < bestS {
			bestS = at
			b.crashPoint = p
			b.crashed = true
		}
	}

	// The crashing step still advances to its endpoint; CrashPoint keeps the contact.
	b.pose = Pose{X: to.X, Y: to.Y, Heading: heading}
	b.history = append(b.history, to)
	b.steps++

	p := b.perceive()

	if b.recorder != nil {
		st := Step{Seq: b.steps, Steer: s, Pose: b.pose, Whisker: p.Whisker, Crashed: b.crashed}
		if b.crashed {
			cp := b.crashPoint
			st.CrashPoint = &cp
		}
		if err := b.recorder.RecordStep(st); err != nil {
			return p, fmt.Errorf("record step %d: %w", b.steps, err)
		}
	}
	return p, nil
}
