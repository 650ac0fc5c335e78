package stm

import (
	"context"
	"sync"
	"time"
)

// MemStore is an in-process TTLStore used when no Redis instance is
// configured, and by tests. Expiry is lazy: expired entries are dropped on
// read.
type MemStore struct {
	mu      sync.Mutex
	entries map[string]*memEntry
}

type memEntry struct {
	value     string
	list      []string
	expiresAt time.Time
}

// NewMemStore creates an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{entries: make(map[string]*memEntry)}
}

func (m *MemStore) ListPush(_ context.Context, key, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.live(key)
	if e == nil {
		e = &memEntry{}
		m.entries[key] = e
	}
	e.list = append([]string{value}, e.list...)
	e.expiresAt = time.Now().Add(ttl)
	return nil
}

func (m *MemStore) ListRange(_ context.Context, key string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.live(key)
	if e == nil {
		return nil, nil
	}
	out := make([]string, len(e.list))
	copy(out, e.list)
	return out, nil
}

func (m *MemStore) Set(_ context.Context, key, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = &memEntry{value: value, expiresAt: time.Now().Add(ttl)}
	return nil
}

func (m *MemStore) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.live(key)
	if e == nil {
		return "", false, nil
	}
	return e.value, true, nil
}

func (m *MemStore) Delete(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, key := range keys {
		delete(m.entries, key)
	}
	return nil
}

func (m *MemStore) Ping(_ context.Context) error {
	return nil
}

// live returns the entry at key, dropping it first if expired. Callers must
// hold mu.
func (m *MemStore) live(key string) *memEntry {
	e, ok := m.entries[key]
	if !ok {
		return nil
	}
	if time.Now().After(e.expiresAt) {
		delete(m.entries, key)
		return nil
	}
	return e
}
