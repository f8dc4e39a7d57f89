// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package dispatch

import (
	"fmt"
	"slices"
)

// State is the dispatcher's position in the delivery cycle.
type State int

const (
	StateAccumulating State = iota
	StateFlushing
	StateAcked
	StateFailed
	StateRetrying
	StateRejected
)

func (s State) String() string {
	switch s {
	case StateAccumulating:
		return "accumulating"
	case StateFlushing:
		return "flushing"
	case StateAcked:
		return "acked"
	case StateFailed:
		return "failed"
	case StateRetrying:
		return "retrying"
	case StateRejected:
		return "rejected"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// transitions lists the legal successors of each state. Flushing,
// Failed and Retrying fall back to Accumulating when delivery is
// abandoned (context cancelled, retries exhausted); the batch is then
// restored to the pending buffer.
var transitions = map[State][]State{
	StateAccumulating: {StateFlushing},
	StateFlushing:     {StateAcked, StateFailed, StateRejected, StateAccumulating},
	StateAcked:        {StateAccumulating},
	StateFailed:       {StateRetrying, StateAccumulating},
	StateRetrying:     {StateFlushing, StateAccumulating},
	StateRejected:     {StateAccumulating},
}

// CanTransition reports whether from → to is a legal transition.
func CanTransition(from, to State) bool {
	return slices.Contains(transitions[from], to)
}

// Policy selects how the cursor is handled after a permanent
// rejection. None of the policies retry the rejected batch; they differ
// in when the cursor moves past it.
type Policy string

const (
	// PolicyHold drops the rejected batch without saving its cursor,
	// and skips it once the next batch is acknowledged: that ack saves
	// a cursor beyond the rejected records. Delivery does not block.
	// A crash before the next ack re-reads the rejected records.
	PolicyHold Policy = "hold"

	// PolicyAdvance saves the rejected batch's trailing cursor at
	// once, after the dead-letter archive has stored it.
	PolicyAdvance Policy = "advance"

	// PolicyHalt stops delivery with ErrRejected and leaves the cursor
	// before the rejected batch.
	PolicyHalt Policy = "halt"
)

// ParsePolicy validates a policy name. The empty string selects
// PolicyHold.
func ParsePolicy(name string) (Policy, error) {
	switch Policy(name) {
	case "", PolicyHold:
		return PolicyHold, nil
	case PolicyAdvance, PolicyHalt:
		return Policy(name), nil
	default:
		return "", fmt.Errorf("unknown permanent failure policy %q (want hold, advance or halt)", name)
	}
}
