// Package system provides the wall clock used outside tests.
package system

import "time"

// Clock reads local wall time. Circadian pacing keys off the local hour, so
// timestamps are not normalised to UTC.
type Clock struct{}

// New creates a new Clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current local time.
func (Clock) Now() time.Time {
	return time.Now()
}
