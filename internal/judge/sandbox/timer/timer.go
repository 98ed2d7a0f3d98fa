// Package timer provides the wall-clock stopwatch used while judging.
package timer

import "time"

// Timer measures elapsed wall-clock time from the last Restart.
// It reads the monotonic clock and is not safe for concurrent use.
type Timer struct {
	start time.Time
	now   func() time.Time
}

// New returns a timer started at the current instant.
func New() *Timer {
	t := &Timer{now: time.Now}
	t.Restart()
	return t
}

// Restart records the current instant as the reference point.
func (t *Timer) Restart() {
	if t.now == nil {
		t.now = time.Now
	}
	t.start = t.now()
}

// Elapsed returns the duration since the last Restart.
func (t *Timer) Elapsed() time.Duration {
	if t.now == nil {
		t.now = time.Now
	}
	if t.start.IsZero() {
		return 0
	}
	return t.now().Sub(t.start)
}

// Tick returns the seconds elapsed since the last Restart.
func (t *Timer) Tick() float64 {
	return t.Elapsed().Seconds()
}
