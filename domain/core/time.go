package core

import (
	"sync"
	"time"
)

// Clock supplies the current time. Registries and session logs take one so
// tests can pin timestamps.
type Clock func() time.Time

// SystemClock returns the wall clock in UTC.
func SystemClock() time.Time {
	return time.Now().UTC()
}

// FixedClock returns a Clock that always reports t.
func FixedClock(t time.Time) Clock {
	return func() time.Time { return t }
}

// SteppingClock returns a Clock that starts at start and advances by step on
// every call. It is safe for concurrent use.
func SteppingClock(start time.Time, step time.Duration) Clock {
	var mu sync.Mutex
	next := start
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		now := next
		next = next.Add(step)
		return now
	}
}
