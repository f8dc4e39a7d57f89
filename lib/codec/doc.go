// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec is the CBOR encoding of the relay's on-disk records.
//
// JSON is the format of everything that crosses the host boundary: the
// journalctl stream, the Cloud Logging API and CLI output. The
// dead-letter archive stores records in CBOR instead, carrying each
// batch's raw JSON entries as byte strings without re-escaping them.
//
// Encoding is Core Deterministic (RFC 8949 §4.2), so one record always
// hashes to the same archive file name. Decoding treats archive files
// as untrusted input: duplicate map keys, trailing bytes and oversized
// collections are rejected. Times use RFC 3339 with nanoseconds so
// Diagnose output is readable.
package codec
