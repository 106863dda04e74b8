package testfixtures

import (
	"sync"
	"time"
)

// Clock is a manual time source for services under test. Times are reported
// in the location of the start instant, so a clock started in JST keeps
// producing JST wall times across AdvanceDays calls.
type Clock struct {
	mu   sync.Mutex
	now  time.Time
	tick time.Duration
}

// NewClock starts a clock at start, or at ReferenceTime when start is zero.
func NewClock(start time.Time) *Clock {
	if start.IsZero() {
		start = ReferenceTime()
	}
	return &Clock{now: start}
}

// NewTickingClock is like NewClock but moves forward by tick after every
// read, which gives each created record a distinct timestamp.
func NewTickingClock(start time.Time, tick time.Duration) *Clock {
	c := NewClock(start)
	c.tick = tick
	return c
}

// Now returns the current instant.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	current := c.now
	c.now = c.now.Add(c.tick)
	return current
}

// NowFunc returns Now as an injectable function. A nil clock yields time.Now.
func (c *Clock) NowFunc() func() time.Time {
	if c == nil {
		return time.Now
	}
	return c.Now
}

// Advance moves the clock by d.
func (c *Clock) Advance(d time.Duration) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	return c.now
}

// AdvanceDays moves the clock by whole calendar days, keeping the wall clock
// time in the clock's location.
func (c *Clock) AdvanceDays(days int) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.AddDate(0, 0, days)
	return c.now
}

// JumpTo sets the clock to t, converted into the clock's location.
func (c *Clock) JumpTo(t time.Time) {
	c.mu.Lock()
	c.now = t.In(c.now.Location())
	c.mu.Unlock()
}
