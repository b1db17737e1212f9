package sqlite

import (
	"sync"
	"testing"
	"time"
)

// TestClock is a manually advanced clock for deterministic TTL tests.
type TestClock struct {
	mu sync.Mutex
	t  time.Time
}

func NewTestClock(start time.Time) *TestClock {
	return &TestClock{t: start.UTC()}
}

func (c *TestClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *TestClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func NewTestStore(t *testing.T) (*Store, *TestClock) {
	t.Helper()
	clock := NewTestClock(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	st, err := NewInMemory(Options{Now: clock.Now})
	if err != nil {
		t.Fatalf("new sqlite: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st, clock
}
