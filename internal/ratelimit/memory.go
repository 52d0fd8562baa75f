// memory.go implements the in-process CounterStore: a mutex-guarded counter
// map with a janitor goroutine that sweeps expired windows. It is the
// fallback when no Redis backend is configured or the backend is down, and
// gives exact counting within a single process.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/docgate/docgate/internal/safego"
)

// defaultSweepInterval is how often the janitor drops dead windows. Expired
// counters are also discarded lazily on access, so the sweep only bounds
// memory, never correctness.
const defaultSweepInterval = time.Minute

type memoryCounter struct {
	value     int64
	expiresAt time.Time
}

// MemoryStore is a CounterStore backed by process memory.
type MemoryStore struct {
	mu       sync.Mutex
	counters map[string]*memoryCounter
	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewMemoryStore creates a memory store and starts its janitor.
func NewMemoryStore() *MemoryStore {
	s := &MemoryStore{
		counters: make(map[string]*memoryCounter),
		stopCh:   make(chan struct{}),
	}
	safego.Go("ratelimit.memory-janitor", func() {
		s.janitor(defaultSweepInterval)
	})
	return s
}

// Incr implements CounterStore. It never fails: the only error source would
// be the context, and a mutex-guarded map update is not worth cancelling.
func (s *MemoryStore) Incr(_ context.Context, key string, ttl time.Duration) (int64, error) {
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	counter, ok := s.counters[key]
	if !ok || now.After(counter.expiresAt) {
		s.counters[key] = &memoryCounter{value: 1, expiresAt: now.Add(ttl)}
		return 1, nil
	}

	counter.value++
	return counter.value, nil
}

func (s *MemoryStore) janitor(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.sweep(time.Now())
		case <-s.stopCh:
			return
		}
	}
}

func (s *MemoryStore) sweep(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key, counter := range s.counters {
		if now.After(counter.expiresAt) {
			delete(s.counters, key)
		}
	}
}

// Stop terminates the janitor goroutine. Safe to call more than once.
func (s *MemoryStore) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
}
