package game

import "math"

const twoPi = 2 * math.Pi

// Outcome is the result of replaying a tap log.
type Outcome struct {
	Score    float64
	Hits     int
	Perfects int
	Missed   bool // the round ended on a tap outside the arc
}

// TapResult describes a single tap.
type TapResult struct {
	Hit     bool
	Perfect bool
	Delta   float64 // signed angular distance from the arc centre
}

// State is a snapshot of a round between taps.
type State struct {
	Angle     float64 // marker angle at LastTapMs
	Direction int     // +1 counter-clockwise, -1 clockwise
	Speed     float64 // rad/s
	Target    float64 // arc centre
	LastTapMs int64
	Score     float64
	Over      bool
}

// Round replays one play session. It is not safe for concurrent use.
type Round struct {
	cfg   Config
	rng   *RNG
	state State
	out   Outcome
}

// NewRound starts a round for seed. The marker starts at angle zero moving
// counter-clockwise and the first target is drawn from the seed.
func NewRound(cfg Config, seed string) *Round {
	r := &Round{
		cfg: cfg,
		rng: NewRNG(seed),
		state: State{
			Direction: 1,
			Speed:     cfg.InitialSpeed,
		},
	}
	r.state.Target = r.placeTarget(0)
	return r
}

// State returns the current snapshot.
func (r *Round) State() State {
	return r.state
}

// Outcome returns the score so far.
func (r *Round) Outcome() Outcome {
	return r.out
}

// MarkerAt returns the marker angle at ms since the round started, in [0, 2pi).
func (r *Round) MarkerAt(ms int64) float64 {
	dt := float64(ms-r.state.LastTapMs) / 1000.0
	// explicit conversions keep the compiler from fusing into FMA, which
	// would make results differ across architectures
	travel := float64(float64(r.state.Direction) * float64(r.state.Speed*dt))
	return normalize(float64(r.state.Angle + travel))
}

// Tap applies a tap at ms since the round started.
func (r *Round) Tap(ms int64) (TapResult, error) {
	if r.state.Over {
		return TapResult{}, ErrRoundOver
	}
	if ms < 0 || ms < r.state.LastTapMs {
		return TapResult{}, ErrNonMonotonic
	}
	if ms > r.cfg.RoundDuration.Milliseconds() {
		r.state.Over = true
		return TapResult{}, ErrRoundTimeLimit
	}

	angle := r.MarkerAt(ms)
	delta := angleDiff(angle, r.state.Target)
	half := r.cfg.ArcWidth / 2

	if math.Abs(delta) > half {
		r.state.Over = true
		r.out.Missed = true
		return TapResult{Delta: delta}, nil
	}

	res := TapResult{Hit: true, Delta: delta}
	r.out.Hits++
	r.out.Score += HitPoints
	if math.Abs(delta) <= half/4 {
		res.Perfect = true
		r.out.Perfects++
		r.out.Score += PerfectBonus
	}

	r.state.Angle = angle
	r.state.LastTapMs = ms
	r.state.Speed = float64(r.state.Speed + r.cfg.SpeedStep)
	r.state.Direction = -r.state.Direction
	r.state.Target = r.placeTarget(angle)
	r.state.Score = r.out.Score
	return res, nil
}

// placeTarget draws the next arc centre at least MinTargetGap away from the
// marker on either side.
func (r *Round) placeTarget(marker float64) float64 {
	span := twoPi - 2*r.cfg.MinTargetGap
	offset := float64(r.cfg.MinTargetGap + float64(r.rng.Float64()*span))
	return normalize(marker + offset)
}

// Simulate replays taps (ms since round start) and returns the outcome.
// Taps after the round has ended are an error.
func Simulate(cfg Config, seed string, taps []int64) (Outcome, error) {
	r := NewRound(cfg, seed)
	for _, ms := range taps {
		if _, err := r.Tap(ms); err != nil {
			return r.Outcome(), err
		}
	}
	return r.Outcome(), nil
}

func normalize(a float64) float64 {
	a = math.Mod(a, twoPi)
	if a < 0 {
		a += twoPi
	}
	return a
}

// angleDiff returns a-b wrapped to [-pi, pi).
func angleDiff(a, b float64) float64 {
	return normalize(a-b+math.Pi) - math.Pi
}
