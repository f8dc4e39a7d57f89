// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package stackdriver is the wire-level client for the Cloud Logging
// entries:write API.
//
// A Client turns a dispatch.Batch into one write request, optionally
// gzip-compressed, and classifies the outcome. Every failure is an
// *APIError whose Transient, Unauthorized and RetryAfter methods the
// dispatcher uses to decide between retrying and rejecting:
//
//   - 2xx: acknowledged, Write returns nil.
//   - transport failures, 408, 429 and 5xx: transient.
//   - a Google error status of UNAVAILABLE, RESOURCE_EXHAUSTED,
//     DEADLINE_EXCEEDED, INTERNAL or ABORTED: transient regardless of
//     the HTTP code.
//   - 401, 403 and 404: transient and unauthorized. The credential is
//     refreshed and delivery stalls without spending the retry budget
//     until the destination accepts it; a host with the wrong IAM role
//     or project holds its journal position instead of dead-lettering
//     every batch.
//   - any other 4xx: permanent.
//
// Requests are sent with partialSuccess disabled: the API accepts or
// rejects a batch as a whole, which is what lets the dispatcher advance
// the cursor past every entry of an acknowledged batch.
package stackdriver
