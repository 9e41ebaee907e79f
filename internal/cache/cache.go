// Package cache provides the read-path cache injected into services.
package cache

import (
	"strings"
	"sync"
	"time"
)

// Cache stores values with a TTL.
type Cache interface {
	Get(key string) (any, bool)
	Set(key string, value any, ttl time.Duration)
	Delete(key string)
	DeletePrefix(prefix string)
}

type item struct {
	value     any
	expiresAt time.Time
}

// Memory is an in-process Cache. It is safe for concurrent use.
type Memory struct {
	mu    sync.RWMutex
	items map[string]item
	now   func() time.Time
}

// NewMemory creates an empty Memory cache.
func NewMemory() *Memory {
	return &Memory{items: make(map[string]item), now: time.Now}
}

// Get returns the value for key if present and not expired.
func (m *Memory) Get(key string) (any, bool) {
	m.mu.RLock()
	it, ok := m.items[key]
	m.mu.RUnlock()
	if !ok || !m.now().Before(it.expiresAt) {
		return nil, false
	}
	return it.value, true
}

// Set stores value for ttl. A non-positive ttl is a no-op.
func (m *Memory) Set(key string, value any, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	m.mu.Lock()
	m.items[key] = item{value: value, expiresAt: m.now().Add(ttl)}
	m.mu.Unlock()
}

// Delete removes key.
func (m *Memory) Delete(key string) {
	m.mu.Lock()
	delete(m.items, key)
	m.mu.Unlock()
}

// DeletePrefix removes every key starting with prefix.
func (m *Memory) DeletePrefix(prefix string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k := range m.items {
		if strings.HasPrefix(k, prefix) {
			delete(m.items, k)
		}
	}
}

// Cleanup drops expired entries and returns how many were removed.
func (m *Memory) Cleanup() int {
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for k, it := range m.items {
		if !now.Before(it.expiresAt) {
			delete(m.items, k)
			removed++
		}
	}
	return removed
}

// Len returns the number of stored entries, expired ones included.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.items)
}
