// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package cli is the command framework for the journalrelay binary.
//
// [Command] is a named command with optional nested subcommands, a
// [pflag.FlagSet] factory and a Run function. [Command.Execute] parses
// flags, routes to subcommands and prints structured help. Unknown
// commands and flags get a "did you mean" suggestion based on
// Levenshtein distance (at most 3 edits).
//
// [NewLogger] builds the process logger: human-readable text on a
// terminal, JSON when stderr is a pipe or the journal itself.
package cli
