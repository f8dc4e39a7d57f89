// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package atomicfile replaces small state files so that readers and
// crash recovery only ever observe the previous or the new content.
//
// Write stages the data in a temporary file beside the destination,
// fsyncs it, renames it over the destination, and fsyncs the parent
// directory so the rename itself survives power loss. A crash at any
// step leaves the destination untouched; the stale temporary file is
// truncated and reused by the next Write.
package atomicfile
