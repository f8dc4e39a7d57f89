// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package process provides entrypoint helpers for the journalrelay
// binary: reporting a fatal error to stderr when the structured logger
// may not exist, and choosing the exit status a supervisor acts on.
//
// Exit status 1 means "restart me": the relay resumes from the stored
// cursor and nothing is lost. [ExitOperatorAction] means restarting
// cannot help (the stored cursor is gone from the journal) and a unit
// file should list it in RestartPreventExitStatus.
package process
