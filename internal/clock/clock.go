// Package clock provides an injectable time source so backoff and
// visibility-timeout logic can be tested deterministically, the same
// test-seam idiom as a `now func() time.Time` field on a breaker or
// rate limiter.
package clock

import "time"

// Clock returns the current time. The zero value is invalid; use Real() or
// a stub in tests.
type Clock func() time.Time

// Real returns the system clock.
func Real() Clock { return time.Now }

// Frozen returns a Clock that always reports t, for deterministic tests.
func Frozen(t time.Time) Clock {
	return func() time.Time { return t }
}
