package quota

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is a single-process CounterStore for development and tests.
// A mutex gives it the same atomicity the Redis script provides.
type MemoryStore struct {
	mu       sync.Mutex
	counters map[string]memCounter
	now      func() time.Time

	// Fail makes every call return ErrStoreUnavailable.
	Fail bool
}

type memCounter struct {
	value   int
	expires time.Time
}

// NewMemoryStore creates an empty in-memory counter store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{counters: make(map[string]memCounter), now: time.Now}
}

func (m *MemoryStore) read(key string) int {
	c, ok := m.counters[key]
	if !ok {
		return 0
	}
	if !c.expires.IsZero() && !m.now().Before(c.expires) {
		delete(m.counters, key)
		return 0
	}
	return c.value
}

func (m *MemoryStore) add(key string, n int, ttl time.Duration) int {
	cur := m.read(key)
	c, ok := m.counters[key]
	if !ok {
		c = memCounter{expires: m.now().Add(ttl)}
	}
	c.value = cur + n
	if c.value < 0 {
		c.value = 0
	}
	m.counters[key] = c
	return c.value
}

func (m *MemoryStore) Get(_ context.Context, k Keys) (Counts, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Fail {
		return Counts{}, ErrStoreUnavailable
	}
	return Counts{Day: m.read(k.Day), Window: m.read(k.Window)}, nil
}

func (m *MemoryStore) IncrementCapped(_ context.Context, k Keys, n int, lim Limits) (int, Counts, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Fail {
		return 0, Counts{}, ErrStoreUnavailable
	}
	day, win := m.read(k.Day), m.read(k.Window)
	grant := minInt(n, lim.Daily-day, lim.Window-win)
	if grant <= 0 {
		return 0, Counts{Day: day, Window: win}, nil
	}
	return grant, Counts{
		Day:    m.add(k.Day, grant, k.DayTTL),
		Window: m.add(k.Window, grant, k.WindowTTL),
	}, nil
}

func (m *MemoryStore) Decrement(_ context.Context, k Keys, n int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Fail {
		return ErrStoreUnavailable
	}
	m.add(k.Day, -n, k.DayTTL)
	m.add(k.Window, -n, k.WindowTTL)
	return nil
}

func minInt(first int, rest ...int) int {
	out := first
	for _, v := range rest {
		if v < out {
			out = v
		}
	}
	return out
}
