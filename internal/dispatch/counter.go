package dispatch

import (
	"sync"
	"time"
)

// dayFormat keys the counter to a wall-clock calendar day.
const dayFormat = "2006-01-02"

// DailyCounter enforces a per-day send ceiling. The count resets the
// first time it is consulted after the calendar day changes.
type DailyCounter struct {
	mu        sync.Mutex
	limit     int
	count     int
	resetDate string
	now       func() time.Time
}

// NewDailyCounter creates a counter with the given ceiling. now may be
// nil, in which case time.Now is used.
func NewDailyCounter(limit int, now func() time.Time) *DailyCounter {
	if now == nil {
		now = time.Now
	}
	c := &DailyCounter{limit: limit, now: now}
	c.resetDate = now().Format(dayFormat)
	return c
}

// Allow reports whether another send fits under today's ceiling. Rolls
// the counter over first if the day has changed.
func (c *DailyCounter) Allow() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.roll()
	return c.count < c.limit
}

// Increment records one successful send.
func (c *DailyCounter) Increment() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.roll()
	c.count++
}

// Count returns today's send count.
func (c *DailyCounter) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.roll()
	return c.count
}

func (c *DailyCounter) roll() {
	day := c.now().Format(dayFormat)
	if day != c.resetDate {
		c.count = 0
		c.resetDate = day
	}
}
