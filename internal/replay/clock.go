package replay

import (
	"sync"
	"time"
)

// pageClock is the virtual time a replay runs on. Scripts advance it
// instead of sleeping.
type pageClock struct {
	mu  sync.Mutex
	now time.Time
}

func newPageClock(start time.Time) *pageClock {
	return &pageClock{now: start}
}

func (c *pageClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *pageClock) Advance(d time.Duration) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	if d > 0 {
		c.now = c.now.Add(d)
	}
	return c.now
}
