package lock

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"
)

// TestKeyedLockSerializesSameKeyProperty checks that read-modify-write under
// the same key never loses an update.
func TestKeyedLockSerializesSameKeyProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		initial := rapid.Int64Range(0, 100000).Draw(t, "initial")
		numOps := rapid.IntRange(2, 30).Draw(t, "numOps")
		key := rapid.StringMatching(`0x[0-9a-f]{8}`).Draw(t, "key")

		amounts := make([]int64, numOps)
		expected := initial
		for i := range amounts {
			amounts[i] = rapid.Int64Range(-500, 500).Draw(t, "amount")
			expected += amounts[i]
		}

		kl := NewKeyedLock()
		value := initial

		var wg sync.WaitGroup
		wg.Add(numOps)
		for _, amount := range amounts {
			go func(amount int64) {
				defer wg.Done()
				_ = kl.WithLock(key, func() error {
					value += amount
					return nil
				})
			}(amount)
		}
		wg.Wait()

		if value != expected {
			t.Fatalf("value mismatch: expected %d, got %d", expected, value)
		}
		if kl.Len() != 0 {
			t.Fatalf("expected no retained keys, got %d", kl.Len())
		}
	})
}

// TestKeyedLockIndependentKeysProperty checks that distinct keys keep
// independent counters.
func TestKeyedLockIndependentKeysProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		numKeys := rapid.IntRange(2, 8).Draw(t, "numKeys")
		opsPerKey := rapid.IntRange(1, 20).Draw(t, "opsPerKey")

		kl := NewKeyedLock()
		counters := make([]int, numKeys)

		var wg sync.WaitGroup
		for k := 0; k < numKeys; k++ {
			for j := 0; j < opsPerKey; j++ {
				wg.Add(1)
				go func(k int) {
					defer wg.Done()
					key := fmt.Sprintf("key-%d", k)
					kl.Lock(key)
					counters[k]++
					kl.Unlock(key)
				}(k)
			}
		}
		wg.Wait()

		for k, c := range counters {
			if c != opsPerKey {
				t.Fatalf("key %d: expected %d increments, got %d", k, opsPerKey, c)
			}
		}
	})
}

// TestTryLockSingleWinnerProperty checks that while one holder keeps a key,
// every concurrent TryLock on it fails.
func TestTryLockSingleWinnerProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		attempts := rapid.IntRange(2, 20).Draw(t, "attempts")
		kl := NewKeyedLock()

		if !kl.TryLock("hash") {
			t.Fatal("first TryLock must succeed")
		}

		var acquired atomic.Int32
		var wg sync.WaitGroup
		wg.Add(attempts)
		for i := 0; i < attempts; i++ {
			go func() {
				defer wg.Done()
				if kl.TryLock("hash") {
					acquired.Add(1)
					kl.Unlock("hash")
				}
			}()
		}
		wg.Wait()

		if acquired.Load() != 0 {
			t.Fatalf("expected no concurrent acquisitions, got %d", acquired.Load())
		}

		kl.Unlock("hash")
		if !kl.TryLock("hash") {
			t.Fatal("lock should be available after release")
		}
		kl.Unlock("hash")
	})
}

func TestUnlockUnknownKeyPanics(t *testing.T) {
	kl := NewKeyedLock()
	assert.Panics(t, func() { kl.Unlock("missing") })
}
