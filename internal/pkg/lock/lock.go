// Package lock provides in-process keyed mutexes. The database row locks are
// the source of truth for ledger state; these locks only collapse duplicate
// background work, such as two audits scheduled for the same transaction hash.
package lock

import (
	"sync"
)

// keyMutex wraps a mutex with reference counting so idle keys can be dropped.
type keyMutex struct {
	mu   sync.Mutex
	refs int
}

// KeyedLock provides one mutex per string key.
type KeyedLock struct {
	mu    sync.Mutex
	locks map[string]*keyMutex
}

// NewKeyedLock creates a new KeyedLock instance.
func NewKeyedLock() *KeyedLock {
	return &KeyedLock{locks: make(map[string]*keyMutex)}
}

// acquire returns the mutex for key and takes a reference on it.
func (kl *KeyedLock) acquire(key string) *keyMutex {
	kl.mu.Lock()
	defer kl.mu.Unlock()

	m, ok := kl.locks[key]
	if !ok {
		m = &keyMutex{}
		kl.locks[key] = m
	}
	m.refs++
	return m
}

// release drops a reference and forgets the key when nobody holds it.
func (kl *KeyedLock) release(key string, m *keyMutex) {
	kl.mu.Lock()
	defer kl.mu.Unlock()

	m.refs--
	if m.refs == 0 {
		delete(kl.locks, key)
	}
}

// Lock acquires the lock for key, blocking until it is available.
func (kl *KeyedLock) Lock(key string) {
	kl.acquire(key).mu.Lock()
}

// Unlock releases the lock for key. Unlocking a key that is not held panics,
// like sync.Mutex.
func (kl *KeyedLock) Unlock(key string) {
	kl.mu.Lock()
	m, ok := kl.locks[key]
	kl.mu.Unlock()
	if !ok {
		panic("lock: unlock of unlocked key " + key)
	}
	m.mu.Unlock()
	kl.release(key, m)
}

// TryLock attempts to acquire the lock without blocking.
// Returns true if the lock was acquired, false otherwise.
func (kl *KeyedLock) TryLock(key string) bool {
	m := kl.acquire(key)
	if m.mu.TryLock() {
		return true
	}
	kl.release(key, m)
	return false
}

// WithLock executes fn while holding the lock for key.
func (kl *KeyedLock) WithLock(key string, fn func() error) error {
	kl.Lock(key)
	defer kl.Unlock(key)
	return fn()
}

// Len returns the number of keys currently held or waited on.
func (kl *KeyedLock) Len() int {
	kl.mu.Lock()
	defer kl.mu.Unlock()
	return len(kl.locks)
}
