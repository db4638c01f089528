// Package system provides the wall clock used for log file names and run
// timestamps.
package system

import "time"

// Clock reads time.Now in a fixed location.
type Clock struct {
	loc *time.Location
}

// New returns a UTC clock.
func New() Clock {
	return Clock{loc: time.UTC}
}

// NewLocal returns a clock in the host's local zone, so daily log files roll
// over at local midnight.
func NewLocal() Clock {
	return Clock{loc: time.Local}
}

// Now returns the current time in the clock's location.
func (c Clock) Now() time.Time {
	if c.loc == nil {
		return time.Now().UTC()
	}
	return time.Now().In(c.loc)
}

// Fixed is a clock pinned to a settable instant.
type Fixed struct {
	T time.Time
}

// Now returns f.T.
func (f *Fixed) Now() time.Time {
	return f.T
}

// Advance moves the clock forward by d.
func (f *Fixed) Advance(d time.Duration) {
	f.T = f.T.Add(d)
}
