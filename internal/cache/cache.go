// Package cache defines the key/value cache used for exchange rates and
// plugin paths, with an in-process implementation.
package cache

import (
	"context"
	"sync"
	"time"
)

// Cache is a string key/value store with per-entry TTL.
// A zero ttl means the entry never expires.
type Cache interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
}

type entry struct {
	value     string
	expiresAt time.Time
}

// Memory is an in-process Cache safe for concurrent use
type Memory struct {
	mu   sync.RWMutex
	data map[string]entry
	now  func() time.Time
}

var _ Cache = (*Memory)(nil)

// NewMemory creates an empty in-memory cache
func NewMemory() *Memory {
	return &Memory{
		data: make(map[string]entry),
		now:  time.Now,
	}
}

// WithClock replaces the time source, used by tests to move past TTLs
func (m *Memory) WithClock(now func() time.Time) *Memory {
	m.now = now
	return m
}

// Get returns the value for key if present and not expired
func (m *Memory) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.RLock()
	e, ok := m.data[key]
	m.mu.RUnlock()

	if !ok {
		return "", false, nil
	}
	if !e.expiresAt.IsZero() && !m.now().Before(e.expiresAt) {
		m.mu.Lock()
		if cur, ok := m.data[key]; ok && cur.expiresAt.Equal(e.expiresAt) {
			delete(m.data, key)
		}
		m.mu.Unlock()
		return "", false, nil
	}
	return e.value, true, nil
}

// Set stores value under key
func (m *Memory) Set(_ context.Context, key, value string, ttl time.Duration) error {
	e := entry{value: value}
	if ttl > 0 {
		e.expiresAt = m.now().Add(ttl)
	}

	m.mu.Lock()
	m.data[key] = e
	m.mu.Unlock()
	return nil
}

// Delete removes keys, ignoring ones that are absent
func (m *Memory) Delete(_ context.Context, keys ...string) error {
	m.mu.Lock()
	for _, k := range keys {
		delete(m.data, k)
	}
	m.mu.Unlock()
	return nil
}

// Len returns the number of stored entries, including expired ones not yet evicted
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.data)
}
