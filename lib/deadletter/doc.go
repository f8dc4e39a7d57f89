// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package deadletter archives batches that Cloud Logging permanently
// rejected, so an operator can inspect them and resubmit them once the
// cause is fixed.
//
// Each rejected batch becomes one file in the archive directory:
//
//	<unix-nanos>-<hash>.cbor[.zst|.lz4]
//
// The body is a CBOR-encoded Record (lib/codec), optionally compressed
// with zstd or LZ4 frames. The hash is the first 16 hex digits of the
// BLAKE3 digest of the uncompressed record, so two archives of the
// same batch at the same instant share a name and the second write is
// harmless. The nanosecond prefix makes lexical order rejection order.
//
// Files are written with lib/atomicfile. A crash mid-archive leaves at
// most a stale ".tmp" file, which List ignores.
package deadletter
