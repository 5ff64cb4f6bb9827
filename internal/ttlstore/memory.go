package ttlstore

import (
	"sync"
	"time"
)

// Memory is the default Store: a process-local map guarded by a single
// mutex, matching spec §3's TtlState exactly (no eviction beyond the
// idle sweep an owner chooses to run).
type Memory struct {
	mu      sync.Mutex
	entries map[Key]Entry
}

var _ Store = (*Memory)(nil)

// NewMemory returns an empty in-process TTL store.
func NewMemory() *Memory {
	return &Memory{entries: make(map[Key]Entry)}
}

func (m *Memory) Get(key Key) (Entry, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[key]
	return e, ok, nil
}

func (m *Memory) Put(key Key, entry Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = entry
	return nil
}

func (m *Memory) EvictIdleSince(cutoff time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, e := range m.entries {
		if e.LastAccessedAt.Before(cutoff) {
			delete(m.entries, k)
		}
	}
	return nil
}

// Len reports the current number of tracked identities, for tests and
// metrics.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}
