package ratelimit

import (
	"context"
	"sync"
	"time"
)

const defaultMaxKeys = 5000

type memoryEntry struct {
	counter Counter
	window  time.Duration
}

// MemoryStore keeps counters in process memory. Counts are not shared between
// instances.
type MemoryStore struct {
	mu       sync.Mutex
	counters map[string]memoryEntry
	maxKeys  int
}

func NewMemoryStore(maxKeys int) *MemoryStore {
	if maxKeys <= 0 {
		maxKeys = defaultMaxKeys
	}
	return &MemoryStore{counters: make(map[string]memoryEntry), maxKeys: maxKeys}
}

func (s *MemoryStore) Hit(_ context.Context, key string, window time.Duration, now time.Time) (Counter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.counters[key]
	if !ok || now.Sub(entry.counter.WindowStart) >= window {
		entry = memoryEntry{counter: Counter{WindowStart: now}, window: window}
	}
	entry.counter.Count++
	s.counters[key] = entry

	if len(s.counters) > s.maxKeys {
		s.sweepLocked(now)
	}

	return entry.counter, nil
}

// PurgeStale drops counters whose window started at or before the cutoff.
func (s *MemoryStore) PurgeStale(_ context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var removed int64
	for key, entry := range s.counters {
		if !entry.counter.WindowStart.After(before) {
			delete(s.counters, key)
			removed++
		}
	}
	return removed, nil
}

func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.counters)
}

func (s *MemoryStore) sweepLocked(now time.Time) {
	for key, entry := range s.counters {
		if now.Sub(entry.counter.WindowStart) >= entry.window {
			delete(s.counters, key)
		}
	}
}
