// Package seq orders overlapping fetches so that only the most recently
// issued one may commit its result.
package seq

// Tracker is not safe for concurrent use; callers guard it with their own lock.
type Tracker struct {
	issued  uint64
	settled uint64
}

// Begin issues the next sequence number.
func (t *Tracker) Begin() uint64 {
	t.issued++
	return t.issued
}

// Settle marks n as finished. It reports false when a later-issued fetch has
// already settled, in which case the caller must discard n's result.
func (t *Tracker) Settle(n uint64) bool {
	if n <= t.settled {
		return false
	}
	t.settled = n
	return true
}

// Pending reports whether the most recently issued fetch is still in flight.
func (t *Tracker) Pending() bool {
	return t.issued > t.settled
}
