package models

import "time"

// Result is the outcome of a single admission check against a counter.
type Result struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// Count returns how many hits the window holds after this check.
func (r *Result) Count() int {
	if !r.Allowed {
		return r.Limit
	}
	return r.Limit - r.Remaining
}

// RetryAfter returns the time left until the window frees a slot.
func (r *Result) RetryAfter(now time.Time) time.Duration {
	return max(r.ResetAt.Sub(now), 0)
}
