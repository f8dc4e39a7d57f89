// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package version identifies the running journalrelay build.
//
// [Version] is set for releases with -ldflags -X. The commit, dirty
// flag and build time come from ldflags when given and otherwise from
// the VCS stamps Go embeds in binaries built inside a checkout.
// [Info] and [Full] format them for --version; [UserAgent] formats
// them for outgoing API requests.
package version
