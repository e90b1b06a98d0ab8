package repository

import "time"

// Clock returns the current time. A nil Clock reads the wall clock.
type Clock func() time.Time

// Now returns the clock's current time.
func (c Clock) Now() time.Time {
	if c == nil {
		return time.Now()
	}
	return c()
}
