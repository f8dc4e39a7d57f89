// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import (
	"slices"
	"sync"
	"time"
)

// FakeClock is a Clock that moves only when Advance is called. Timers
// registered with After fire in deadline order once an Advance reaches
// them. Safe for concurrent use.
type FakeClock struct {
	mu      sync.Mutex
	now     time.Time
	timers  []timer
	changed *sync.Cond
}

type timer struct {
	at   time.Time
	fire chan time.Time
}

// Fake returns a FakeClock stopped at start.
func Fake(start time.Time) *FakeClock {
	c := &FakeClock{now: start}
	c.changed = sync.NewCond(&c.mu)
	return c
}

func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// After registers a timer for now+d. Non-positive durations fire at
// once and are never counted as pending.
func (c *FakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	fire := make(chan time.Time, 1)
	if d <= 0 {
		fire <- c.now
		return fire
	}
	c.timers = append(c.timers, timer{at: c.now.Add(d), fire: fire})
	c.changed.Broadcast()
	return fire
}

// Advance moves time forward by d and fires every timer that is due.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	now := c.now
	due := slices.DeleteFunc(slices.Clone(c.timers), func(t timer) bool { return t.at.After(now) })
	c.timers = slices.DeleteFunc(c.timers, func(t timer) bool { return !t.at.After(now) })
	c.changed.Broadcast()
	c.mu.Unlock()

	slices.SortStableFunc(due, byDeadline)
	for _, t := range due {
		t.fire <- now
	}
}

// WaitForTimers blocks until at least n timers are pending. Tests call
// it before Advance so the advance cannot overtake a goroutine that is
// about to register its backoff or flush timer.
func (c *FakeClock) WaitForTimers(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for len(c.timers) < n {
		c.changed.Wait()
	}
}

// PendingCount returns the number of timers not yet fired.
func (c *FakeClock) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.timers)
}

// NextWait returns how far the clock must advance to fire the earliest
// pending timer, and false when none is pending.
func (c *FakeClock) NextWait() (time.Duration, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.timers) == 0 {
		return 0, false
	}
	earliest := slices.MinFunc(c.timers, byDeadline)
	return earliest.at.Sub(c.now), true
}

func byDeadline(a, b timer) int { return a.at.Compare(b.at) }
