// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package testutil

import (
	"fmt"
	"time"
)

// T is the part of testing.TB the helpers use.
type T interface {
	Helper()
	Fatalf(format string, args ...any)
}

// RequireReceive returns the next value from ch, failing the test if
// none arrives within timeout or ch is closed.
//
//	err := testutil.RequireReceive(t, errs, 5*time.Second, "waiting for Run to return")
func RequireReceive[V any](t T, ch <-chan V, timeout time.Duration, msgAndArgs ...any) V {
	t.Helper()
	value, ok, timedOut := receive(ch, timeout)
	switch {
	case timedOut:
		t.Fatalf("timed out after %v: %s", timeout, describe(msgAndArgs))
	case !ok:
		t.Fatalf("channel closed without a value: %s", describe(msgAndArgs))
	}
	return value
}

// RequireClosed fails the test unless ch is closed or delivers within
// timeout.
func RequireClosed[V any](t T, ch <-chan V, timeout time.Duration, msgAndArgs ...any) {
	t.Helper()
	if _, _, timedOut := receive(ch, timeout); timedOut {
		t.Fatalf("timed out after %v waiting for channel close: %s", timeout, describe(msgAndArgs))
	}
}

// RequireSilent fails the test if ch delivers or closes within wait.
// Use it for "must not happen yet" checks; wait bounds the test's
// runtime, so keep it short.
func RequireSilent[V any](t T, ch <-chan V, wait time.Duration, msgAndArgs ...any) {
	t.Helper()
	if value, ok, timedOut := receive(ch, wait); !timedOut {
		if ok {
			t.Fatalf("unexpected value %v: %s", value, describe(msgAndArgs))
		}
		t.Fatalf("channel closed unexpectedly: %s", describe(msgAndArgs))
	}
}

func receive[V any](ch <-chan V, timeout time.Duration) (value V, ok, timedOut bool) {
	timer := time.NewTimer(timeout) //nolint:realclock bounds real test goroutines
	defer timer.Stop()
	select {
	case value, ok = <-ch:
		return value, ok, false
	case <-timer.C:
		return value, false, true
	}
}

// describe formats msgAndArgs as a message or a format plus arguments.
func describe(msgAndArgs []any) string {
	switch {
	case len(msgAndArgs) == 0:
		return "(no message)"
	case len(msgAndArgs) == 1:
		return fmt.Sprint(msgAndArgs[0])
	}
	if format, ok := msgAndArgs[0].(string); ok {
		return fmt.Sprintf(format, msgAndArgs[1:]...)
	}
	return fmt.Sprint(msgAndArgs...)
}
