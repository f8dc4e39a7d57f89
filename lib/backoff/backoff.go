// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package backoff computes retry delays: exponential growth from an
// initial delay, capped at a maximum, with full jitter. State is an
// explicit value owned by the retrying loop; nothing is global.
package backoff

import (
	"math/rand/v2"
	"time"
)

// Policy describes a backoff curve.
type Policy struct {
	// Initial is the ceiling of the first delay.
	Initial time.Duration

	// Max caps the delay ceiling.
	Max time.Duration

	// Multiplier grows the ceiling after each attempt. Values below 1
	// are treated as 2.
	Multiplier float64
}

// DefaultPolicy starts at one second and doubles up to thirty.
var DefaultPolicy = Policy{
	Initial:    time.Second,
	Max:        30 * time.Second,
	Multiplier: 2,
}

// Backoff tracks consecutive failures for one retry loop.
type Backoff struct {
	policy  Policy
	attempt int

	// jitter returns a value in [0, 1). Replaced in tests.
	jitter func() float64
}

// New returns a Backoff at its first attempt.
func New(policy Policy) *Backoff {
	if policy.Initial <= 0 {
		policy.Initial = DefaultPolicy.Initial
	}
	if policy.Max < policy.Initial {
		policy.Max = policy.Initial
	}
	if policy.Multiplier < 1 {
		policy.Multiplier = 2
	}
	return &Backoff{policy: policy, jitter: rand.Float64}
}

// WithJitter replaces the jitter source. A function returning a
// constant 1 yields the undithered ceiling.
func (b *Backoff) WithJitter(jitter func() float64) *Backoff {
	b.jitter = jitter
	return b
}

// Ceiling returns the upper bound of the next delay.
func (b *Backoff) Ceiling() time.Duration {
	ceiling := float64(b.policy.Initial)
	for range b.attempt {
		ceiling *= b.policy.Multiplier
		if ceiling >= float64(b.policy.Max) {
			return b.policy.Max
		}
	}
	return time.Duration(ceiling)
}

// Floor is the smallest delay Next returns, so every retry yields to
// the clock.
const Floor = time.Millisecond

// Next returns the delay before the next attempt and advances the
// attempt count. The delay is drawn uniformly from [0, Ceiling()],
// raised to minimum when the server asked for a longer wait, and never
// below Floor.
func (b *Backoff) Next(minimum time.Duration) time.Duration {
	delay := time.Duration(b.jitter() * float64(b.Ceiling()))
	b.attempt++
	return max(delay, minimum, Floor)
}

// Attempts returns how many delays have been handed out since the last
// Reset.
func (b *Backoff) Attempts() int { return b.attempt }

// Reset returns the Backoff to its first attempt.
func (b *Backoff) Reset() { b.attempt = 0 }
