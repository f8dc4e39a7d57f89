// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package entry converts journal records into Cloud Logging log
// entries.
//
// [Transformer.Transform] is pure and total: every record produces an
// Entry, whatever fields it is missing. A message that is exactly one
// JSON object becomes a [Structured] payload; everything else,
// including JSON scalars and arrays, becomes an [Unstructured] payload
// carrying the message text unchanged. Journal priorities 0 through 7
// map onto the Cloud Logging severities EMERGENCY through DEBUG; an
// absent or out-of-range priority maps to DEFAULT.
//
// Each Entry carries an insert ID derived from the record's journal
// cursor. The destination drops entries whose insert ID it has already
// accepted, so records re-sent after a crash between a successful
// write and the cursor save do not appear twice.
package entry
