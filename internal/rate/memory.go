package rate

import (
	"context"
	"sync"
	"time"
)

type memoryWindow struct {
	count int64
	start time.Time
	span  time.Duration
}

func (w *memoryWindow) expired(now time.Time) bool {
	return !now.Before(w.start.Add(w.span))
}

// MemoryCounter is a process-local Counter for single-instance deployments
// and tests.
type MemoryCounter struct {
	mu      sync.Mutex
	windows map[string]*memoryWindow
	now     func() time.Time
}

// NewMemoryCounter creates an empty counter. A nil clock uses time.Now.
func NewMemoryCounter(clock func() time.Time) *MemoryCounter {
	if clock == nil {
		clock = time.Now
	}
	return &MemoryCounter{windows: make(map[string]*memoryWindow), now: clock}
}

// Hit implements Counter.
func (c *MemoryCounter) Hit(_ context.Context, key string, window time.Duration) (int64, error) {
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	w, ok := c.windows[key]
	if !ok || w.expired(now) {
		w = &memoryWindow{start: now, span: window}
		c.windows[key] = w
	}
	w.count++
	return w.count, nil
}

// Peek implements Counter.
func (c *MemoryCounter) Peek(_ context.Context, key string) (int64, error) {
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	w, ok := c.windows[key]
	if !ok || w.expired(now) {
		return 0, nil
	}
	return w.count, nil
}

// Reset implements Counter.
func (c *MemoryCounter) Reset(_ context.Context, key string) error {
	c.mu.Lock()
	delete(c.windows, key)
	c.mu.Unlock()
	return nil
}

// Sweep drops every window that has elapsed and returns how many were removed.
func (c *MemoryCounter) Sweep() int {
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for k, w := range c.windows {
		if w.expired(now) {
			delete(c.windows, k)
			removed++
		}
	}
	return removed
}
