package testutil

import (
	"sync"
	"time"
)

// Epoch is the default start of DeterministicTime: 2024-01-01T00:00:00Z.
var Epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// DeterministicTime is a wall clock for tests that only moves when told to.
//
// The same scenario run twice against fresh DeterministicTime values sees
// identical execution timestamps, which keeps golden traces byte-identical.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type DeterministicTime struct {
	mu  sync.Mutex
	now time.Time
}

// NewDeterministicTime creates a clock stopped at start (Epoch when zero).
func NewDeterministicTime(start time.Time) *DeterministicTime {
	if start.IsZero() {
		start = Epoch
	}
	return &DeterministicTime{now: start}
}

// Now returns the current time. Pass the method value as the engine's time
// source.
func (c *DeterministicTime) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *DeterministicTime) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Set jumps to t.
func (c *DeterministicTime) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}
