// Property-based tests for the consume decision of CreditLedger.
package service

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"

	"reflex-arena/internal/config"
)

func drawState(t *rapid.T) creditState {
	return creditState{
		Exists:  rapid.Bool().Draw(t, "exists"),
		Balance: rapid.IntRange(0, 10).Draw(t, "balance"),
		Used:    rapid.Bool().Draw(t, "used"),
		Count:   rapid.IntRange(0, 12).Draw(t, "count"),
	}
}

// TestConsumeDecrementsExactlyOnceProperty checks that a successful consume
// takes exactly one attempt and that a rejected one changes nothing.
func TestConsumeDecrementsExactlyOnceProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		mode := rapid.SampledFrom([]string{config.EntitlementSingle, config.EntitlementCounter}).Draw(t, "mode")
		maxTries := rapid.IntRange(1, 10).Draw(t, "maxTries")
		s := drawState(t)

		balance, used, err := decideConsume(s, mode, maxTries)
		if err != nil {
			return
		}
		if balance != s.Balance-1 {
			t.Fatalf("balance %d -> %d", s.Balance, balance)
		}
		if balance < 0 {
			t.Fatalf("negative balance %d", balance)
		}
		if mode == config.EntitlementSingle && !used {
			t.Fatal("single mode must mark the credit used")
		}
		if mode == config.EntitlementCounter && used != (balance == 0) {
			t.Fatalf("counter mode used=%v with balance %d", used, balance)
		}
	})
}

// TestConsumeNeverExceedsMaxTriesProperty checks that no sequence of consumes
// runs past maxTries attempts, however much credit was bought.
func TestConsumeNeverExceedsMaxTriesProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		mode := rapid.SampledFrom([]string{config.EntitlementSingle, config.EntitlementCounter}).Draw(t, "mode")
		maxTries := rapid.IntRange(1, 8).Draw(t, "maxTries")
		s := creditState{Exists: true, Balance: rapid.IntRange(1, 20).Draw(t, "balance")}

		accepted := 0
		for range 30 {
			if rapid.Bool().Draw(t, "topUp") {
				s.Balance++
				s.Used = false
			}
			balance, used, err := decideConsume(s, mode, maxTries)
			if err != nil {
				continue
			}
			accepted++
			s.Balance, s.Used = balance, used
			s.Count++
		}
		if accepted > maxTries {
			t.Fatalf("accepted %d attempts with maxTries %d", accepted, maxTries)
		}
		if s.Count != accepted {
			t.Fatalf("counter %d, accepted %d", s.Count, accepted)
		}
	})
}

// TestTriesRemainingMatchesDecisionProperty checks that the preview agrees
// with the decision: zero remaining means consume is rejected.
func TestTriesRemainingMatchesDecisionProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		mode := rapid.SampledFrom([]string{config.EntitlementSingle, config.EntitlementCounter}).Draw(t, "mode")
		maxTries := rapid.IntRange(1, 10).Draw(t, "maxTries")
		s := drawState(t)
		s.Exists = true

		remaining := triesRemaining(mode, maxTries, s.Balance, s.Used, s.Count)
		_, _, err := decideConsume(s, mode, maxTries)
		if (remaining > 0) != (err == nil) {
			t.Fatalf("remaining %d but consume err=%v for %+v", remaining, err, s)
		}
	})
}

func TestDecideConsumeErrors(t *testing.T) {
	tests := []struct {
		name  string
		state creditState
		mode  string
		want  error
	}{
		{"no row", creditState{}, config.EntitlementSingle, ErrNoCredit},
		{"zero balance never used", creditState{Exists: true}, config.EntitlementCounter, ErrNoCredit},
		{"max tries", creditState{Exists: true, Balance: 5, Count: 3}, config.EntitlementCounter, ErrMaxTriesExceeded},
		{"single used", creditState{Exists: true, Balance: 1, Used: true}, config.EntitlementSingle, ErrCreditUsed},
		{"counter drained", creditState{Exists: true, Used: true}, config.EntitlementCounter, ErrCreditUsed},
		{"single used at max tries", creditState{Exists: true, Used: true, Count: 3}, config.EntitlementSingle, ErrCreditUsed},
		{"counter drained at max tries", creditState{Exists: true, Used: true, Count: 3}, config.EntitlementCounter, ErrCreditUsed},
		{"topped up at max tries", creditState{Exists: true, Balance: 1, Count: 3}, config.EntitlementSingle, ErrMaxTriesExceeded},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := decideConsume(tt.state, tt.mode, 3)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestDecideConsumeSuccess(t *testing.T) {
	balance, used, err := decideConsume(creditState{Exists: true, Balance: 1}, config.EntitlementSingle, 1)
	assert.NoError(t, err)
	assert.Zero(t, balance)
	assert.True(t, used)

	balance, used, err = decideConsume(creditState{Exists: true, Balance: 3, Count: 1}, config.EntitlementCounter, 5)
	assert.NoError(t, err)
	assert.Equal(t, 2, balance)
	assert.False(t, used)
}

func TestValidateHelpers(t *testing.T) {
	addr, err := normalizeAddress("0x00000000000000000000000000000000000A11CE")
	assert.NoError(t, err)
	assert.Equal(t, "0x00000000000000000000000000000000000a11ce", addr)

	for _, bad := range []string{"", "a11ce", "00000000000000000000000000000000000a11ce", "0xzz000000000000000000000000000000000a11ce"} {
		_, err := normalizeAddress(bad)
		assert.ErrorIs(t, err, ErrInvalidAddress, bad)
	}

	_, err = normalizeTxHash("0x1234")
	assert.ErrorIs(t, err, ErrInvalidTxHash)
	h, err := normalizeTxHash("0xAB" + strings.Repeat("0", 62))
	assert.NoError(t, err)
	assert.Equal(t, "0xab"+strings.Repeat("0", 62), h)

	assert.ErrorIs(t, validateIntentID("not-a-uuid"), ErrInvalidIntent)
	assert.ErrorIs(t, validateScore(-1), ErrInvalidScore)
	assert.NoError(t, validateScore(0))
}
