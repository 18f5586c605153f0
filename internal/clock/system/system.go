// Package system provides the wall clock used to stamp events and ledger mirrors.
package system

import "time"

// Clock implements sourcing.Clock using time.Now in UTC.
type Clock struct{}

// New creates a new Clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current time.
func (Clock) Now() time.Time {
	return time.Now().UTC()
}
