package capture

import (
	"sync"
	"time"
)

// Clock hands out strictly increasing capture timestamps measured from a
// fixed epoch.
type Clock struct {
	mu    sync.Mutex
	now   func() time.Time
	epoch time.Time
	last  time.Duration
	began bool
}

// NewClock returns a Clock whose epoch is the current time.
func NewClock() *Clock {
	return newClockFunc(time.Now)
}

func newClockFunc(now func() time.Time) *Clock {
	return &Clock{now: now, epoch: now()}
}

// Stamp returns the elapsed time since the epoch. If the wall reading has not
// advanced past the previous stamp, the previous stamp plus one nanosecond is
// returned instead.
func (c *Clock) Stamp() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()

	d := c.now().Sub(c.epoch)
	if c.began && d <= c.last {
		d = c.last + 1
	}
	c.last = d
	c.began = true
	return d
}

// Epoch returns the wall time corresponding to timestamp zero.
func (c *Clock) Epoch() time.Time {
	return c.epoch
}
