// Package game implements the orbit reaction minigame as a deterministic
// simulation. The client renders the same rules; the server replays a tap
// log through them to recompute the score.
//
// A marker orbits a circle. Tapping while the marker is inside the target
// arc scores a hit, after which the arc jumps to a new position, the marker
// speeds up and reverses. Tapping outside the arc ends the round.
package game

import (
	"errors"
	"math"
	"time"
)

const (
	// DefaultInitialSpeed is the marker's starting angular speed in rad/s.
	DefaultInitialSpeed = 2.4

	// DefaultSpeedStep is added to the angular speed after every hit.
	DefaultSpeedStep = 0.15

	// DefaultArcWidth is the angular width of the target arc in radians.
	DefaultArcWidth = 0.6

	// DefaultMinTargetGap is the minimum angular distance between the marker
	// and a freshly placed target.
	DefaultMinTargetGap = 0.8

	// DefaultRoundDuration caps the length of a round.
	DefaultRoundDuration = 30 * time.Second

	// DefaultMinTapInterval is the fastest plausible human tap cadence.
	DefaultMinTapInterval = 80 * time.Millisecond

	// DefaultMaxTaps bounds the accepted input log.
	DefaultMaxTaps = 400
)

const (
	// HitPoints is awarded for every tap inside the arc.
	HitPoints = 1.0

	// PerfectBonus is added when the tap lands in the central quarter of the arc.
	PerfectBonus = 0.5
)

// Errors for replaying a tap log
var (
	ErrRoundOver      = errors.New("tap after the round ended")
	ErrNonMonotonic   = errors.New("tap timestamps must be non-negative and increasing")
	ErrInvalidConfig  = errors.New("invalid game config")
	ErrRoundTimeLimit = errors.New("tap after the round time limit")
)

// Config holds the tunable rules of the game.
type Config struct {
	InitialSpeed   float64
	SpeedStep      float64
	ArcWidth       float64
	MinTargetGap   float64
	RoundDuration  time.Duration
	MinTapInterval time.Duration
	MaxTaps        int
}

// DefaultConfig returns the production rule set.
func DefaultConfig() Config {
	return Config{
		InitialSpeed:   DefaultInitialSpeed,
		SpeedStep:      DefaultSpeedStep,
		ArcWidth:       DefaultArcWidth,
		MinTargetGap:   DefaultMinTargetGap,
		RoundDuration:  DefaultRoundDuration,
		MinTapInterval: DefaultMinTapInterval,
		MaxTaps:        DefaultMaxTaps,
	}
}

// Validate checks that the rules describe a playable round.
func (c Config) Validate() error {
	switch {
	case c.InitialSpeed <= 0, c.SpeedStep < 0:
		return errors.Join(ErrInvalidConfig, errors.New("speeds must be positive"))
	case c.ArcWidth <= 0 || c.ArcWidth >= math.Pi:
		return errors.Join(ErrInvalidConfig, errors.New("arc width must be in (0, pi)"))
	case c.MinTargetGap <= c.ArcWidth/2 || c.MinTargetGap >= math.Pi:
		return errors.Join(ErrInvalidConfig, errors.New("target gap must keep the marker outside the new arc"))
	case c.RoundDuration <= 0 || c.MaxTaps <= 0:
		return errors.Join(ErrInvalidConfig, errors.New("round duration and max taps must be positive"))
	}
	return nil
}
