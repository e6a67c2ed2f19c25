package testutil

import (
	"sync"
	"time"

	"cfgedit/internal/cfgedit"
)

// Epoch is the instant every FixedClock starts at.
var Epoch = time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)

// StubClock is a cfgedit.Clock that only moves when told to. Safe for
// concurrent use, so timers firing on other goroutines can read it.
type StubClock struct {
	mu  sync.Mutex
	now time.Time
}

var _ cfgedit.Clock = (*StubClock)(nil)

// FixedClock returns a StubClock at Epoch.
func FixedClock() *StubClock {
	return &StubClock{now: Epoch}
}

func (c *StubClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *StubClock) Advance(d time.Duration) {
	c.Set(c.Now().Add(d))
}

// Set moves the clock to t. Moving it backwards panics.
func (c *StubClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if t.Before(c.now) {
		panic("testutil: StubClock moved backwards from " + c.now.Format(time.RFC3339) + " to " + t.Format(time.RFC3339))
	}
	c.now = t
}
