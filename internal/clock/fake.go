package clock

import (
	"sort"
	"sync"
	"time"
)

// FakeClock is a deterministic Clock. Time stands still until Advance is
// called; AfterFunc callbacks then run synchronously, in deadline order, on
// the goroutine calling Advance.
//
// Do not call Advance from inside an AfterFunc callback.
type FakeClock struct {
	mu      sync.Mutex
	current time.Time
	waiters []*fakeWaiter
}

type fakeWaiter struct {
	deadline time.Time
	callback func()
	seq      uint64
	stopped  bool
	fired    bool
}

var fakeSeq struct {
	mu   sync.Mutex
	next uint64
}

func nextFakeSeq() uint64 {
	fakeSeq.mu.Lock()
	defer fakeSeq.mu.Unlock()
	fakeSeq.next++
	return fakeSeq.next
}

// Fake returns a FakeClock set to initial.
func Fake(initial time.Time) *FakeClock {
	return &FakeClock{current: initial}
}

// Now returns the current fake time.
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// AfterFunc schedules f at Now()+d. A non-positive d runs f before returning.
func (c *FakeClock) AfterFunc(d time.Duration, f func()) *Timer {
	if d <= 0 {
		f()
		return &Timer{stopFunc: func() bool { return false }}
	}

	c.mu.Lock()
	waiter := &fakeWaiter{
		deadline: c.current.Add(d),
		callback: f,
		seq:      nextFakeSeq(),
	}
	c.waiters = append(c.waiters, waiter)
	c.mu.Unlock()

	return &Timer{stopFunc: func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		if waiter.stopped || waiter.fired {
			return false
		}
		waiter.stopped = true
		return true
	}}
}

// Advance moves the clock forward by d and fires every waiter whose deadline
// is at or before the new time. Waiters with equal deadlines fire in
// registration order.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.current = c.current.Add(d)
	target := c.current
	c.mu.Unlock()

	for {
		toFire := c.collectExpired(target)
		if len(toFire) == 0 {
			return
		}
		sort.Slice(toFire, func(i, j int) bool {
			if toFire[i].deadline.Equal(toFire[j].deadline) {
				return toFire[i].seq < toFire[j].seq
			}
			return toFire[i].deadline.Before(toFire[j].deadline)
		})
		for _, waiter := range toFire {
			// A callback fired earlier in this batch may have stopped this one.
			c.mu.Lock()
			skip := waiter.stopped
			waiter.fired = !skip
			c.mu.Unlock()
			if skip {
				continue
			}
			waiter.callback()
		}
	}
}

func (c *FakeClock) collectExpired(target time.Time) []*fakeWaiter {
	c.mu.Lock()
	defer c.mu.Unlock()

	var toFire, remaining []*fakeWaiter
	for _, waiter := range c.waiters {
		if waiter.stopped {
			continue
		}
		if !waiter.deadline.After(target) {
			toFire = append(toFire, waiter)
			continue
		}
		remaining = append(remaining, waiter)
	}
	c.waiters = remaining
	return toFire
}

// PendingCount returns the number of timers that have neither fired nor been
// stopped.
func (c *FakeClock) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	count := 0
	for _, waiter := range c.waiters {
		if !waiter.stopped {
			count++
		}
	}
	return count
}
