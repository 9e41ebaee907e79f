// Package replay re-executes a submitted tap log against the game rules and
// decides whether the claimed score is genuine.
package replay

import (
	"errors"
	"fmt"
	"math"
	"time"

	"reflex-arena/internal/game"
)

// ScoreTolerance is the largest accepted gap between claimed and recomputed score.
const ScoreTolerance = 0.01

// Rejection reasons. Detailed causes wrap these.
var (
	ErrInvalidInputs = errors.New("invalid inputs")
	ErrScoreMismatch = errors.New("score mismatch")
)

// Result is the verdict on one submission.
type Result struct {
	Valid       bool
	ServerScore float64
	Err         error // nil when Valid
}

// Validator is pure apart from its clock and safe for concurrent use.
type Validator struct {
	cfg       game.Config
	clockSkew time.Duration
	now       func() time.Time
}

// NewValidator creates a Validator for the given rules. clockSkew is the
// slack allowed between client and server clocks.
func NewValidator(cfg game.Config, clockSkew time.Duration) *Validator {
	return &Validator{cfg: cfg, clockSkew: clockSkew, now: time.Now}
}

// WithClock returns a copy that reads time from now.
func (v *Validator) WithClock(now func() time.Time) *Validator {
	c := *v
	c.now = now
	return &c
}

// Validate checks inputLog (tap times in ms since startedAt) for plausibility,
// replays it from seed and compares the result with claimedScore.
func (v *Validator) Validate(inputLog []int64, seed string, claimedScore float64, startedAt time.Time) Result {
	if err := v.checkInputs(inputLog, startedAt); err != nil {
		return Result{Err: err}
	}

	out, err := game.Simulate(v.cfg, seed, inputLog)
	if err != nil {
		return Result{ServerScore: out.Score, Err: fmt.Errorf("%w: %v", ErrInvalidInputs, err)}
	}

	if math.IsNaN(claimedScore) || math.Abs(out.Score-claimedScore) > ScoreTolerance {
		return Result{
			ServerScore: out.Score,
			Err:         fmt.Errorf("%w: claimed %.2f, replayed %.2f", ErrScoreMismatch, claimedScore, out.Score),
		}
	}
	return Result{Valid: true, ServerScore: out.Score}
}

func (v *Validator) checkInputs(taps []int64, startedAt time.Time) error {
	if len(taps) > v.cfg.MaxTaps {
		return fmt.Errorf("%w: %d taps exceeds limit %d", ErrInvalidInputs, len(taps), v.cfg.MaxTaps)
	}
	if len(taps) == 0 {
		return nil
	}

	minGap := v.cfg.MinTapInterval.Milliseconds()
	for i, ms := range taps {
		if ms < 0 {
			return fmt.Errorf("%w: negative timestamp at %d", ErrInvalidInputs, i)
		}
		if i == 0 {
			continue
		}
		gap := ms - taps[i-1]
		if gap <= 0 {
			return fmt.Errorf("%w: timestamps not increasing at %d", ErrInvalidInputs, i)
		}
		if gap < minGap {
			return fmt.Errorf("%w: interval %dms below %dms at %d", ErrInvalidInputs, gap, minGap, i)
		}
	}

	elapsed := v.now().Sub(startedAt)
	last := time.Duration(taps[len(taps)-1]) * time.Millisecond
	if last > elapsed+v.clockSkew {
		return fmt.Errorf("%w: last tap at %s but only %s elapsed", ErrInvalidInputs, last, elapsed.Truncate(time.Millisecond))
	}
	if minGap > 0 {
		allowed := int64((elapsed+v.clockSkew)/v.cfg.MinTapInterval) + 1
		if int64(len(taps)) > allowed {
			return fmt.Errorf("%w: %d taps in %s", ErrInvalidInputs, len(taps), elapsed.Truncate(time.Millisecond))
		}
	}
	return nil
}
