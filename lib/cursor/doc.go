// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package cursor persists the position of the last journal record that
// the destination has acknowledged.
//
// A Store holds exactly one value. It is read once at startup to decide
// where the journal reader resumes, and written only after a batch is
// acknowledged, so the stored cursor never runs ahead of what the
// destination has accepted. FileStore writes through
// [atomicfile.Write]: a crash mid-save leaves either the old cursor or
// the new one on disk, never a torn value.
//
// An empty or whitespace-only cursor file is reported as [ErrCorrupt]
// rather than treated as absent. Treating it as absent would silently
// apply the start policy and either skip or replay the whole journal.
package cursor
