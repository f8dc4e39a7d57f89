// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock is the injectable time source for the relay.
//
// Production code receives Real(). Tests receive Fake() and step time
// by hand, which makes batch deadlines and retry backoff
// deterministic:
//
//	c := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
//	go dispatcher.Flush(ctx)    // sleeps via clock.Sleep
//	c.WaitForTimers(1)          // the backoff timer is registered
//	wait, _ := c.NextWait()     // and due in exactly 1s
//	c.Advance(wait)
package clock
