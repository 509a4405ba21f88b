package timeline

import "time"

// Clock is the monotonic timebase for all scheduling decisions. Now returns
// the time elapsed since the clock was created.
type Clock interface {
	Now() time.Duration
}

type systemClock struct {
	start time.Time
}

// System returns a clock backed by the runtime's monotonic clock.
func System() Clock {
	return &systemClock{start: time.Now()}
}

func (c *systemClock) Now() time.Duration {
	return time.Since(c.start)
}

// Manual is a clock that only moves when told to. Used by tests through
// Timeline.Advance.
type Manual struct {
	now time.Duration
}

func (m *Manual) Now() time.Duration {
	return m.now
}

// Set moves the clock to t. Moving backwards is ignored.
func (m *Manual) Set(t time.Duration) {
	if t > m.now {
		m.now = t
	}
}
