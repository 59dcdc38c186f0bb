package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestManualNeverGoesBackwards(t *testing.T) {
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewManual(start)

	c.Advance(time.Hour)
	assert.Equal(t, start.Add(time.Hour), c.Now())

	c.Advance(-time.Minute)
	c.Set(start)
	assert.Equal(t, start.Add(time.Hour), c.Now())

	c.Set(start.Add(2 * time.Hour))
	assert.Equal(t, start.Add(2*time.Hour), c.Now())
}

func TestSystemIsUTCSeconds(t *testing.T) {
	now := System{}.Now()
	assert.Equal(t, time.UTC, now.Location())
	assert.Zero(t, now.Nanosecond())
}
