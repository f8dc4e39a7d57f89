// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/journalrelay/cmd/journalrelay/cli"
	"github.com/bureau-foundation/journalrelay/lib/config"
	"github.com/bureau-foundation/journalrelay/lib/cursor"
)

func cursorCommand() *cli.Command {
	return &cli.Command{
		Name:    "cursor",
		Summary: "Inspect or reset the persisted journal cursor",
		Subcommands: []*cli.Command{
			cursorShowCommand(),
			cursorResetCommand(),
		},
	}
}

func cursorShowCommand() *cli.Command {
	var configPath string
	var outputJSON bool
	return &cli.Command{
		Name:    "show",
		Summary: "Print the last acknowledged journal cursor",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("show", pflag.ContinueOnError)
			configFlag(flagSet, &configPath)
			flagSet.BoolVar(&outputJSON, "json", false, "output as JSON")
			return flagSet
		},
		Run: func(args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			return showCursor(os.Stdout, cursor.NewFileStore(cfg.CursorPath()), outputJSON)
		},
	}
}

type cursorStatus struct {
	Path   string        `json:"path"`
	Stored bool          `json:"stored"`
	Cursor cursor.Cursor `json:"cursor,omitempty"`
}

func showCursor(w io.Writer, store *cursor.FileStore, outputJSON bool) error {
	value, ok, err := store.Load()
	if err != nil {
		return err
	}
	if outputJSON {
		return cli.WriteJSON(w, cursorStatus{Path: store.Path(), Stored: ok, Cursor: value})
	}
	if !ok {
		fmt.Fprintf(w, "no cursor stored at %s; the relay will start from journal.start_position\n", store.Path())
		return nil
	}
	fmt.Fprintln(w, value)
	return nil
}

func cursorResetCommand() *cli.Command {
	var configPath string
	var confirmed bool
	return &cli.Command{
		Name:    "reset",
		Summary: "Delete the persisted cursor",
		Description: `Delete the persisted cursor. The next run starts from
journal.start_position ("end" by default), skipping or re-sending
entries accordingly. Use this after the relay exits with status 3
because the journal no longer contains the stored cursor.

Stop the relay first: a running relay rewrites the cursor after its
next acknowledged batch.`,
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("reset", pflag.ContinueOnError)
			configFlag(flagSet, &configPath)
			flagSet.BoolVar(&confirmed, "yes", false, "confirm the reset")
			return flagSet
		},
		Run: func(args []string) error {
			if !confirmed {
				return &cli.UsageError{Message: "cursor reset discards the resume position; pass --yes to confirm"}
			}
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			return resetCursor(os.Stdout, cursor.NewFileStore(cfg.CursorPath()))
		},
	}
}

func resetCursor(w io.Writer, store *cursor.FileStore) error {
	previous, ok, loadErr := store.Load()
	if err := store.Reset(); err != nil {
		return err
	}
	switch {
	case ok:
		fmt.Fprintf(w, "removed cursor %s\n", previous)
	case loadErr != nil:
		fmt.Fprintf(w, "removed unreadable cursor file %s (%v)\n", store.Path(), loadErr)
	default:
		fmt.Fprintf(w, "no cursor stored at %s\n", store.Path())
	}
	return nil
}
