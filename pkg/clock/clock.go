// Package clock provides the request pipeline's time source: a wall-clock
// origin captured once at construction plus monotonic offsets measured from
// it. Timestamps rendered from offsets are immune to wall-clock adjustments
// during the process lifetime.
package clock

import (
	"fmt"
	"time"
)

// Clock converts monotonic offsets into high-precision absolute timestamps.
type Clock struct {
	// origin is the wall-clock instant the clock was created, UTC.
	origin time.Time
	// ref carries the monotonic reading taken at the same instant.
	ref time.Time
}

// New captures the wall-clock origin and the monotonic reference.
func New() *Clock {
	now := time.Now()
	return &Clock{
		origin: now.UTC(),
		ref:    now,
	}
}

// Now returns the monotonic offset elapsed since the clock was created.
func (c *Clock) Now() time.Duration {
	return time.Since(c.ref)
}

// HighPrecisionISO renders origin+offset as an ISO-8601 UTC timestamp with a
// seven-digit fractional second (100 ns resolution), always ending in "Z".
// The result is non-decreasing for non-decreasing offsets.
func (c *Clock) HighPrecisionISO(offset time.Duration) string {
	t := c.origin.Add(offset)
	// time.Format caps the fraction at nine digits; the wire format wants
	// exactly seven, so the fraction is rendered from the nanosecond count.
	return fmt.Sprintf("%s.%07dZ", t.Format("2006-01-02T15:04:05"), t.Nanosecond()/100)
}

// NowISO is shorthand for HighPrecisionISO(Now()).
func (c *Clock) NowISO() string {
	return c.HighPrecisionISO(c.Now())
}
