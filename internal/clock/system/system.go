// Package system provides a real clock implementation.
package system

import "time"

// Clock implements catalog.Clock using time.Now. Times are UTC and truncated
// to microseconds, the resolution of a Postgres timestamptz, so a stamped
// marker reads back unchanged.
type Clock struct{}

// New creates a new Clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current time.
func (Clock) Now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}
