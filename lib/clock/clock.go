// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import (
	"context"
	"time"
)

// Clock is the time source for the relay's pipeline. Flush deadlines,
// retry backoff, and credential expiry all read time through a Clock
// so that tests can drive them with Fake instead of sleeping.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// After returns a channel that receives the current time once d
	// has elapsed. If d <= 0 the channel is ready immediately.
	After(d time.Duration) <-chan time.Time
}

// Sleep waits d on c, returning ctx.Err() if ctx ends first. A
// non-positive d returns immediately unless ctx is already done.
func Sleep(ctx context.Context, c Clock, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if d <= 0 {
		return nil
	}
	select {
	case <-c.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Until returns the time left before deadline, never negative.
func Until(c Clock, deadline time.Time) time.Duration {
	return max(deadline.Sub(c.Now()), 0)
}
