// Package clock provides the time source used by expiring overlay state.
//
// Production code uses Real(); tests use Fake() and move time forward with
// Advance so toast and notice expiry can be asserted at exact instants.
package clock

import "time"

// Clock is the subset of the time package the overlay needs.
type Clock interface {
	Now() time.Time
	// AfterFunc calls f once d has elapsed. The returned Timer cancels the call.
	AfterFunc(d time.Duration, f func()) *Timer
}

// Timer cancels a pending AfterFunc call.
type Timer struct {
	stopFunc func() bool
}

// Stop prevents the callback from running. Returns false when the timer had
// already fired or been stopped.
func (t *Timer) Stop() bool {
	if t == nil || t.stopFunc == nil {
		return false
	}
	return t.stopFunc()
}

// Real returns a Clock backed by the time package.
func Real() Clock { return realClock{} }

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, f func()) *Timer {
	timer := time.AfterFunc(d, f)
	return &Timer{stopFunc: timer.Stop}
}
