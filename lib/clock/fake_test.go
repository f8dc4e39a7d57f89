// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bureau-foundation/journalrelay/lib/testutil"
)

var start = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

var (
	_ Clock = (*FakeClock)(nil)
	_ Clock = Real()
)

func fired(channel <-chan time.Time) bool {
	select {
	case <-channel:
		return true
	default:
		return false
	}
}

func TestAdvanceFiresDueTimersOnly(t *testing.T) {
	c := Fake(start)
	short := c.After(time.Second)
	long := c.After(5 * time.Second)

	c.Advance(3 * time.Second)
	if !fired(short) {
		t.Error("1s timer did not fire after 3s")
	}
	if fired(long) {
		t.Error("5s timer fired after 3s")
	}
	if got := c.PendingCount(); got != 1 {
		t.Errorf("PendingCount = %d, want 1", got)
	}
	if got := c.Now(); !got.Equal(start.Add(3 * time.Second)) {
		t.Errorf("Now = %v", got)
	}

	c.Advance(2 * time.Second)
	if !fired(long) {
		t.Error("5s timer did not fire at its deadline")
	}
}

func TestNonPositiveAfterIsImmediate(t *testing.T) {
	c := Fake(start)
	for _, d := range []time.Duration{0, -time.Minute} {
		if !fired(c.After(d)) {
			t.Errorf("After(%v) not ready", d)
		}
	}
	if _, ok := c.NextWait(); ok {
		t.Error("immediate timers counted as pending")
	}
}

func TestNextWaitReportsEarliestTimer(t *testing.T) {
	c := Fake(start)
	c.After(4 * time.Second)
	c.After(1500 * time.Millisecond)
	c.Advance(500 * time.Millisecond)

	wait, ok := c.NextWait()
	if !ok || wait != time.Second {
		t.Fatalf("NextWait = %v, %v; want 1s, true", wait, ok)
	}
}

func TestSleep(t *testing.T) {
	c := Fake(start)
	done := make(chan error, 1)
	go func() { done <- Sleep(context.Background(), c, 2*time.Second) }()

	c.WaitForTimers(1)
	c.Advance(2 * time.Second)
	if err := testutil.RequireReceive[error](t, done, 5*time.Second, "Sleep returning"); err != nil {
		t.Errorf("Sleep = %v", err)
	}
}

func TestSleepCancelled(t *testing.T) {
	c := Fake(start)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Sleep(ctx, c, time.Hour) }()

	c.WaitForTimers(1)
	cancel()
	if err := testutil.RequireReceive[error](t, done, 5*time.Second, "Sleep returning"); !errors.Is(err, context.Canceled) {
		t.Errorf("Sleep = %v, want context.Canceled", err)
	}

	if err := Sleep(ctx, c, 0); !errors.Is(err, context.Canceled) {
		t.Errorf("Sleep(done ctx, 0) = %v", err)
	}
}

func TestUntil(t *testing.T) {
	c := Fake(start)
	if got := Until(c, start.Add(time.Minute)); got != time.Minute {
		t.Errorf("Until(+1m) = %v", got)
	}
	if got := Until(c, start.Add(-time.Minute)); got != 0 {
		t.Errorf("Until(past) = %v, want 0", got)
	}
}
