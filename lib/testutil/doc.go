// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil holds shared test helpers.
//
// [RequireReceive], [RequireClosed] and [RequireSilent] are the only
// place the test suite waits on real time. Tests drive flush deadlines
// and backoff through clock.FakeClock and use these helpers only to
// bound how long they wait on another goroutine.
//
// [WriteScript] installs a shell script that stands in for journalctl.
package testutil
