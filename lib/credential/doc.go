// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package credential supplies bearer tokens for the Cloud Logging API.
//
// A [Provider] caches one [Credential] and refreshes it through a
// [Fetcher] chosen once at startup:
//
//   - [MetadataFetcher] asks the GCE metadata server for the default
//     service account's token. Used when no key file is configured.
//   - [ServiceAccountFetcher] signs an RS256 JWT assertion with a
//     service-account private key and exchanges it at the key's token
//     endpoint. The key is held in a secret.Buffer and may be stored
//     age-encrypted on disk (see lib/sealed).
//
// The cache is an explicit state machine:
//
//	empty ──refresh──▶ valid ──time──▶ refresh due ──refresh──▶ valid
//	                     │                                        ▲
//	                     └──Invalidate──▶ invalidated ──refresh───┘
//
// A refresh is due once the remaining lifetime drops below the larger
// of 10% of the token's lifetime and the configured refresh margin.
// Token refreshes synchronously in the calling goroutine; concurrent
// callers share one in-flight refresh. A failed refresh is retried
// with backoff and, once attempts run out, reported as
// [ErrRefreshFailed]. If the cached token is still unexpired at that
// point it is returned instead: callers never receive an expired
// token, but a flaky token endpoint does not stall a token that is
// still good.
package credential
