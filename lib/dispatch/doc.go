// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package dispatch batches log entries, delivers each batch once with
// retry, and advances the stored cursor only after the destination
// acknowledges the batch.
//
// A [Dispatcher] is owned by the relay's control loop and is not safe
// for concurrent use, apart from the read-only accessors. Its life is
// an explicit state machine:
//
//	Accumulating ──flush──▶ Flushing ──2xx──▶ Acked ──cursor saved──▶ Accumulating
//	                          │  ▲
//	                transient │  │ backoff elapsed
//	                          ▼  │
//	                        Failed ──▶ Retrying
//	                          │
//	                permanent └──▶ Rejected ──policy──▶ Accumulating
//
// A batch is flushed when it reaches MaxEntries, when adding the next
// entry would push it past MaxBytes, or when MaxDelay has passed since
// its first entry. An entry that alone exceeds MaxBytes can never be
// delivered and is rejected on its own.
//
// Credential failures stall delivery indefinitely and do not count
// against the retry budget: nothing is lost while waiting, and the
// cursor stays where it is. Transient API failures are retried with
// exponential backoff and full jitter until MaxAttempts or MaxElapsed
// runs out, at which point Flush returns [ErrRetriesExhausted]. The
// process is expected to exit and be restarted; it resumes from the
// unchanged cursor.
//
// What happens to the cursor after a permanent rejection is the
// [Policy]:
//
//   - [PolicyHold] (default): the cursor is not saved for the rejected
//     batch. The next acknowledged batch moves it past the rejected
//     records; a crash before then re-reads them.
//   - [PolicyAdvance]: the cursor is saved at the rejected batch's
//     last record immediately. The dead-letter archive keeps the data.
//   - [PolicyHalt]: Flush returns [ErrRejected] and the cursor stays.
package dispatch
