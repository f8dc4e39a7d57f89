// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package journal reads systemd journal records in order, starting from
// a Position.
//
// A [Source] is a blocking iterator. Next waits at most the given
// timeout for the next record and returns [ErrTimeout] when none
// arrived, so the caller can interleave reads with flush deadlines
// without a second goroutine. Sources that do not follow the journal
// return [ErrExhausted] once they reach the end.
//
// [Journalctl] is the production Source. It runs
//
//	journalctl --output=json --all --follow ...
//
// and decodes one JSON object per line on a helper goroutine, which
// hands records to Next over a channel. journalctl encodes
// non-UTF-8 field values as arrays of byte values and repeated fields
// as arrays of values; both are flattened into plain strings here so
// that the rest of the relay sees one string per field.
//
// A cursor that journald no longer recognizes (the journal was
// rotated or vacuumed past it) surfaces as [ErrCursorInvalidated].
// journalctl --after-cursor accepts a well-formed cursor whose entry
// is gone and resumes at the nearest entry, so before resuming Seek
// runs journalctl --cursor once and checks that the first entry it
// prints carries the stored cursor.
// The relay treats that as fatal: silently restarting from the head or
// tail of the journal would either drop or duplicate records, and the
// operator has to choose which by resetting the stored cursor.
package journal
