package replay

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"reflex-arena/internal/game"
)

var startedAt = time.UnixMilli(1_700_000_000_000)

// perfectLog builds a log that hits the centre of hits consecutive targets.
func perfectLog(t require.TestingT, cfg game.Config, seed string, hits int) []int64 {
	r := game.NewRound(cfg, seed)
	taps := make([]int64, 0, hits)
	for i := 0; i < hits; i++ {
		s := r.State()
		dist := math.Mod((s.Target-s.Angle)*float64(s.Direction)+4*math.Pi, 2*math.Pi)
		ms := s.LastTapMs + int64(math.Round(dist/s.Speed*1000))
		_, err := r.Tap(ms)
		require.NoError(t, err)
		taps = append(taps, ms)
	}
	return taps
}

func validatorAt(now time.Time) *Validator {
	return NewValidator(game.DefaultConfig(), 2*time.Second).WithClock(func() time.Time { return now })
}

func TestValidateAcceptsGenuineRun(t *testing.T) {
	cfg := game.DefaultConfig()
	taps := perfectLog(t, cfg, "genuine", 4)
	v := validatorAt(startedAt.Add(time.Minute))

	res := v.Validate(taps, "genuine", 6.0, startedAt)

	require.NoError(t, res.Err)
	assert.True(t, res.Valid)
	assert.Equal(t, 6.0, res.ServerScore)
}

func TestValidateToleratesRounding(t *testing.T) {
	taps := perfectLog(t, game.DefaultConfig(), "round", 2)
	v := validatorAt(startedAt.Add(time.Minute))

	assert.True(t, v.Validate(taps, "round", 3.005, startedAt).Valid)
	assert.False(t, v.Validate(taps, "round", 3.02, startedAt).Valid)
}

func TestValidateScoreMismatch(t *testing.T) {
	taps := perfectLog(t, game.DefaultConfig(), "inflated", 3)
	v := validatorAt(startedAt.Add(time.Minute))

	res := v.Validate(taps, "inflated", 100, startedAt)

	assert.False(t, res.Valid)
	assert.ErrorIs(t, res.Err, ErrScoreMismatch)
	assert.Equal(t, 4.5, res.ServerScore)
}

func TestValidateWrongSeedFails(t *testing.T) {
	taps := perfectLog(t, game.DefaultConfig(), "seed-a", 5)
	v := validatorAt(startedAt.Add(time.Minute))

	res := v.Validate(taps, "seed-b", 7.5, startedAt)
	assert.False(t, res.Valid)
}

func TestValidateEmptyLog(t *testing.T) {
	v := validatorAt(startedAt)
	assert.True(t, v.Validate(nil, "s", 0, startedAt).Valid)
	assert.ErrorIs(t, v.Validate(nil, "s", 1, startedAt).Err, ErrScoreMismatch)
}

func TestValidateRejectsImplausibleInputs(t *testing.T) {
	cfg := game.DefaultConfig()
	tooMany := make([]int64, cfg.MaxTaps+1)
	for i := range tooMany {
		tooMany[i] = int64(i) * 100
	}

	tests := []struct {
		name string
		taps []int64
		now  time.Time
	}{
		{"negative timestamp", []int64{-5, 500}, startedAt.Add(time.Minute)},
		{"non-monotonic", []int64{500, 400}, startedAt.Add(time.Minute)},
		{"duplicate timestamp", []int64{500, 500}, startedAt.Add(time.Minute)},
		{"interval below human limit", []int64{500, 520}, startedAt.Add(time.Minute)},
		{"too many taps", tooMany, startedAt.Add(time.Hour)},
		{"tap in the future", []int64{500, 9000}, startedAt.Add(3 * time.Second)},
		{"tap after round limit", []int64{cfg.RoundDuration.Milliseconds() + 10}, startedAt.Add(time.Hour)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := validatorAt(tt.now).Validate(tt.taps, "seed", 0, startedAt)
			assert.False(t, res.Valid)
			assert.ErrorIs(t, res.Err, ErrInvalidInputs)
		})
	}
}

func TestValidateRejectsTapsAfterMiss(t *testing.T) {
	cfg := game.DefaultConfig()
	taps := perfectLog(t, cfg, "after-miss", 1)

	// first tap time after the hit that misses
	miss := taps[0] + cfg.MinTapInterval.Milliseconds()
	for ; ; miss += 10 {
		probe := game.NewRound(cfg, "after-miss")
		_, _ = probe.Tap(taps[0])
		res, _ := probe.Tap(miss)
		if !res.Hit {
			break
		}
	}
	taps = append(taps, miss, miss+1000)

	res := validatorAt(startedAt.Add(time.Minute)).Validate(taps, "after-miss", 1.5, startedAt)
	assert.False(t, res.Valid)
	assert.ErrorIs(t, res.Err, ErrInvalidInputs)
}

// TestValidateDeterministicProperty checks that validating the same
// submission twice always yields the same verdict and score.
func TestValidateDeterministicProperty(t *testing.T) {
	v := validatorAt(startedAt.Add(time.Hour))
	rapid.Check(t, func(t *rapid.T) {
		seed := rapid.StringMatching(`[0-9a-f]{32}`).Draw(t, "seed")
		n := rapid.IntRange(0, 30).Draw(t, "n")
		taps := make([]int64, n)
		var at int64
		for i := range taps {
			at += rapid.Int64Range(80, 1500).Draw(t, "gap")
			taps[i] = at
		}
		claimed := rapid.Float64Range(0, 50).Draw(t, "claimed")

		a := v.Validate(taps, seed, claimed, startedAt)
		b := v.Validate(taps, seed, claimed, startedAt)
		if a.Valid != b.Valid || a.ServerScore != b.ServerScore {
			t.Fatalf("verdict diverged: %+v vs %+v", a, b)
		}
		if a.Valid && math.Abs(a.ServerScore-claimed) > ScoreTolerance {
			t.Fatalf("accepted claim %v for server score %v", claimed, a.ServerScore)
		}
	})
}

// TestValidateAcceptsReplayedScoreProperty checks that claiming exactly the
// replayed score of a plausible log is accepted.
func TestValidateAcceptsReplayedScoreProperty(t *testing.T) {
	cfg := game.DefaultConfig()
	v := validatorAt(startedAt.Add(time.Hour))
	rapid.Check(t, func(t *rapid.T) {
		seed := rapid.StringMatching(`[0-9a-f]{16}`).Draw(t, "seed")
		hits := rapid.IntRange(1, 6).Draw(t, "hits")
		taps := perfectLog(t, cfg, seed, hits)

		res := v.Validate(taps, seed, float64(hits)*1.5, startedAt)
		if !res.Valid {
			t.Fatalf("genuine run rejected: %v", res.Err)
		}
	})
}
