// Package clock provides domain.Clock implementations: the wall clock for
// production and a manually advanced clock for tests and simulations.
package clock

import (
	"sync"
	"time"

	"github.com/alanyoungcy/auctionhouse/internal/domain"
)

// System reads the wall clock in UTC.
type System struct{}

// Now returns the current UTC time truncated to whole seconds, matching the
// resolution of block timestamps.
func (System) Now() time.Time {
	return time.Now().UTC().Truncate(time.Second)
}

// Manual is a clock that only moves when told to. It never goes backwards.
type Manual struct {
	mu  sync.RWMutex
	now time.Time
}

// NewManual creates a Manual clock starting at start.
func NewManual(start time.Time) *Manual {
	return &Manual{now: start}
}

// Now returns the current manual time.
func (m *Manual) Now() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.now
}

// Advance moves the clock forward by d. Negative durations are ignored.
func (m *Manual) Advance(d time.Duration) {
	if d <= 0 {
		return
	}
	m.mu.Lock()
	m.now = m.now.Add(d)
	m.mu.Unlock()
}

// Set jumps to t if t is not before the current time.
func (m *Manual) Set(t time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t.After(m.now) {
		m.now = t
	}
}

var (
	_ domain.Clock = System{}
	_ domain.Clock = (*Manual)(nil)
)
