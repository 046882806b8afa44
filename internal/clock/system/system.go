// Package system provides the wall clock used for domain throttling and
// page fetch timestamps.
package system

import "time"

// Clock implements crawler.Clock. Times are UTC so domain cache entries and
// stored fetched_at values agree across instances.
type Clock struct{}

// New creates a new Clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current time in UTC.
func (Clock) Now() time.Time {
	return time.Now().UTC()
}
