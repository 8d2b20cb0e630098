package util

import (
	"sync"
	"time"
)

// ManualClock is a Scheduler whose time only moves when Advance is called.
// It makes countdown behaviour deterministic in tests.
type ManualClock[K comparable] struct {
	mu    sync.Mutex
	now   time.Time
	tasks *MapHeap[K, func()]
}

// NewManualClock creates a clock standing at start
func NewManualClock[K comparable](start time.Time) *ManualClock[K] {
	return &ManualClock[K]{
		now:   start,
		tasks: NewMapHeap[K, func()](),
	}
}

func (c *ManualClock[K]) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *ManualClock[K]) Schedule(key K, at time.Time, fire func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tasks.AddItem(key, at, fire)
}

func (c *ManualClock[K]) Cancel(key K) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.tasks.RemoveByKey(key)
	return ok
}

// Pending returns the number of scheduled tasks
func (c *ManualClock[K]) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tasks.Len()
}

// Scheduled reports whether a task with the given key is pending
func (c *ManualClock[K]) Scheduled(key K) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tasks.Contains(key)
}

// Advance moves the clock forward by d and runs every task that became due,
// in deadline order, on the calling goroutine. The clock reads the deadline of
// a task while it runs.
func (c *ManualClock[K]) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now.Add(d)
	for {
		item, ok := c.tasks.PopDue(target)
		if !ok {
			break
		}
		if item.Deadline.After(c.now) {
			c.now = item.Deadline
		}
		c.mu.Unlock()
		item.Value()
		c.mu.Lock()
	}
	c.now = target
	c.mu.Unlock()
}
