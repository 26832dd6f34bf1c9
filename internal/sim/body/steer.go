package body

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidSteer is returned for steering commands outside Left/Straight/Right.
var ErrInvalidSteer = errors.New("invalid steer command")

// Steer is the only vocabulary the body accepts.
type Steer int

const (
	Left Steer = iota + 1
	Straight
	Right
)

func (s Steer) String() string {
	switch s {
	case Left:
		return "left"
	case Straight:
		return "straight"
	case Right:
		return "right"
	default:
		return fmt.Sprintf("Steer(%d)", int(s))
	}
}

func (s Steer) Valid() bool { return s == Left || s == Straight || s == Right }

// Delta is the heading change sign: +1 turns counter-clockwise.
func (s Steer) Delta() float64 {
	switch s {
	case Left:
		return 1
	case Right:
		return -1
	default:
		return 0
	}
}

// ParseSteer converts "left", "right" or "straight" (any case) into a Steer.
func ParseSteer(value string) (Steer, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "left":
		return Left, nil
	case "straight":
		return Straight, nil
	case "right":
		return Right, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrInvalidSteer, value)
	}
}

func (s Steer) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrInvalidSteer, int(s))
	}
	return []byte(s.String()), nil
}

func (s *Steer) UnmarshalText(b []byte) error {
	parsed, err := ParseSteer(string(b))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}
