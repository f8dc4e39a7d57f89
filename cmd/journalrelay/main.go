// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"errors"
	"os"

	"github.com/bureau-foundation/journalrelay/cmd/journalrelay/cli"
	"github.com/bureau-foundation/journalrelay/lib/journal"
	"github.com/bureau-foundation/journalrelay/lib/process"
)

func main() {
	if err := root().Execute(os.Args[1:]); err != nil {
		process.FatalCode(err, exitCode(err))
	}
}

// exitCode maps an error to the process exit status. A stale cursor
// needs an operator ("journalrelay cursor reset"), which supervisors
// can match on to stop restarting.
func exitCode(err error) int {
	var usage *cli.UsageError
	switch {
	case errors.As(err, &usage):
		return process.ExitUsage
	case errors.Is(err, journal.ErrCursorInvalidated):
		return process.ExitOperatorAction
	default:
		return process.ExitFailure
	}
}

func root() *cli.Command {
	command := &cli.Command{
		Name:    "journalrelay",
		Summary: "Forward the systemd journal to Cloud Logging",
		Description: `journalrelay tails the systemd journal and forwards every entry to the
Cloud Logging entries:write API. Delivery is batched and retried, and the
journal cursor is persisted only after Cloud Logging has acknowledged a
batch, so a restart resumes exactly where delivery stopped.`,
		Subcommands: []*cli.Command{
			runCommand(),
			cursorCommand(),
			deadletterCommand(),
			credentialsCommand(),
			versionCommand(),
		},
	}
	command.Run = func(args []string) error {
		if len(args) == 1 && args[0] == "--version" {
			return printVersion()
		}
		command.PrintHelp(os.Stderr)
		return &cli.UsageError{Message: "a command is required"}
	}
	return command
}
