package runtoken

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

var testKey = []byte("0123456789abcdef0123456789abcdef")

func newTestAuthority(t require.TestingT) *Authority {
	a, err := NewAuthority(testKey)
	require.NoError(t, err)
	return a
}

func TestNewAuthorityRejectsShortKey(t *testing.T) {
	_, err := NewAuthority([]byte("short"))
	assert.ErrorIs(t, err, ErrShortKey)
}

func TestIssueVerifyRoundTrip(t *testing.T) {
	a := newTestAuthority(t)
	started := time.UnixMilli(1_700_000_000_123)

	token := a.Issue("evt-1", "0xAbC0000000000000000000000000000000000001", "seed", started)

	assert.Len(t, token, 64)
	assert.True(t, a.Verify("evt-1", "0xabc0000000000000000000000000000000000001", "seed", started, token),
		"address comparison is case-insensitive")
	assert.False(t, a.Verify("evt-2", "0xabc0000000000000000000000000000000000001", "seed", started, token))
	assert.False(t, a.Verify("evt-1", "0xabc0000000000000000000000000000000000001", "seed2", started, token))
	assert.False(t, a.Verify("evt-1", "0xabc0000000000000000000000000000000000001", "seed", started.Add(time.Millisecond), token))
	assert.False(t, a.Verify("evt-1", "0xabc0000000000000000000000000000000000001", "seed", started, "zz"))
	assert.False(t, a.Verify("evt-1", "0xabc0000000000000000000000000000000000001", "seed", started, token[:62]))
}

func TestDifferentKeysDisagree(t *testing.T) {
	a := newTestAuthority(t)
	b, err := NewAuthority([]byte(strings.Repeat("k", 32)))
	require.NoError(t, err)

	started := time.UnixMilli(42)
	token := a.Issue("e", "0x1", "s", started)
	assert.False(t, b.Verify("e", "0x1", "s", started, token))
}

func TestFieldBoundariesCannotShift(t *testing.T) {
	a := newTestAuthority(t)
	started := time.UnixMilli(1)
	assert.NotEqual(t,
		a.Issue("ab", "c", "d", started),
		a.Issue("a", "bc", "d", started))
}

// TestTokenBindsAllFieldsProperty checks that a token verifies for the exact
// fields it was issued for and fails when any field changes.
func TestTokenBindsAllFieldsProperty(t *testing.T) {
	a := newTestAuthority(t)
	rapid.Check(t, func(t *rapid.T) {
		eventID := rapid.StringMatching(`[a-z0-9-]{1,16}`).Draw(t, "eventID")
		address := rapid.StringMatching(`0x[0-9a-f]{40}`).Draw(t, "address")
		seed := rapid.StringMatching(`[0-9a-f]{1,32}`).Draw(t, "seed")
		ms := rapid.Int64Range(0, 4_000_000_000_000).Draw(t, "ms")
		started := time.UnixMilli(ms)

		token := a.Issue(eventID, address, seed, started)
		if !a.Verify(eventID, address, seed, started, token) {
			t.Fatal("issued token must verify")
		}
		if a.Verify(eventID+"x", address, seed, started, token) {
			t.Fatal("token verified for another event")
		}
		if a.Verify(eventID, address, seed+"x", started, token) {
			t.Fatal("token verified for another seed")
		}
		if a.Verify(eventID, address, seed, time.UnixMilli(ms+1), token) {
			t.Fatal("token verified for another start time")
		}
	})
}
