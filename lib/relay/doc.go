// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package relay runs the forwarding pipeline: one control loop that
// reads journal records, transforms them into log entries and hands
// them to the batch dispatcher.
//
// The loop is the only goroutine that touches the dispatcher. Each
// blocking read is bounded by whichever comes first, the pending
// batch's max-delay deadline or the poll interval, so a quiet journal
// still flushes on time.
//
// Shutdown: cancelling the context stops reading. The pending batch
// gets one final flush under a fresh context bounded by the shutdown
// grace, then Run returns nil. Fatal errors (cursor persistence,
// exhausted retries, a halting rejection, a failed or invalidated
// journal source) end Run with that error and no final flush beyond
// what a still-healthy dispatcher can deliver.
package relay
