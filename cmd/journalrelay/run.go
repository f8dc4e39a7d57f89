// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/journalrelay/cmd/journalrelay/cli"
	"github.com/bureau-foundation/journalrelay/lib/clock"
	"github.com/bureau-foundation/journalrelay/lib/config"
	"github.com/bureau-foundation/journalrelay/lib/cursor"
	"github.com/bureau-foundation/journalrelay/lib/dispatch"
	"github.com/bureau-foundation/journalrelay/lib/entry"
	"github.com/bureau-foundation/journalrelay/lib/journal"
	"github.com/bureau-foundation/journalrelay/lib/relay"
	"github.com/bureau-foundation/journalrelay/lib/version"
)

type runFlags struct {
	configPath string
	once       bool
	dryRun     bool
}

func runCommand() *cli.Command {
	var flags runFlags
	return &cli.Command{
		Name:    "run",
		Summary: "Forward journal entries until stopped",
		Description: `Tail the journal and forward entries to Cloud Logging.

On SIGINT or SIGTERM the relay stops reading, flushes the pending batch
within shutdown_grace, and exits 0. Fatal errors exit 1, except a stored
cursor the journal no longer recognizes, which exits 3: reset it with
'journalrelay cursor reset' after deciding where forwarding should resume.`,
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("run", pflag.ContinueOnError)
			configFlag(flagSet, &flags.configPath)
			flagSet.BoolVar(&flags.once, "once", false, "forward up to the current end of the journal, then exit")
			flagSet.BoolVar(&flags.dryRun, "dry-run", false, "log batches instead of sending them; the stored cursor is read but never written")
			return flagSet
		},
		Examples: []cli.Example{
			{Description: "Run as a daemon", Command: "journalrelay run --config /etc/journalrelay/config.yaml"},
			{Description: "Preview what would be sent for one unit", Command: "journalrelay run --once --dry-run"},
		},
		Run: func(args []string) error {
			if len(args) > 0 {
				return &cli.UsageError{Message: fmt.Sprintf("unexpected argument %q", args[0])}
			}
			return runRelay(flags)
		},
	}
}

func runRelay(flags runFlags) error {
	cfg, err := config.Load(flags.configPath)
	if err != nil {
		return err
	}
	logger := cli.NewLogger(cfg.Level())
	logger.Info("journalrelay starting", "version", version.Info(), "dry_run", flags.dryRun, "once", flags.once)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	clk := clock.Real()
	policy, err := dispatch.ParsePolicy(cfg.Retry.OnPermanentFailure)
	if err != nil {
		return err
	}

	dispatchConfig := dispatch.Config{
		MaxEntries:         cfg.Batch.MaxEntries,
		MaxBytes:           cfg.Batch.MaxBytes,
		MaxDelay:           cfg.MaxDelay(),
		Backoff:            retryPolicy(cfg),
		MaxAttempts:        cfg.Retry.MaxAttempts,
		MaxElapsed:         cfg.MaxElapsed(),
		OnPermanentFailure: policy,
		Clock:              clk,
		Logger:             logger.With("component", "dispatch"),
	}

	var store cursor.Store
	if flags.dryRun {
		memory, err := dryRunCursor(cfg)
		if err != nil {
			return err
		}
		store = memory
		dispatchConfig.Writer = relay.LogWriter{Logger: logger.With("component", "dry-run"), Verbose: true}
		dispatchConfig.Credentials = relay.NoCredentials{}
	} else {
		if err := cfg.EnsureState(); err != nil {
			return err
		}
		store = cursor.NewFileStore(cfg.CursorPath())

		dest, err := connect(ctx, cfg, clk, logger)
		if err != nil {
			return err
		}
		defer dest.close()
		logger.Info("forwarding", "log", dest.client.LogName(), "credential_source", dest.source)
		overhead := dest.client.Overhead()
		if overhead >= cfg.Batch.MaxBytes {
			return fmt.Errorf("batch.max_bytes %d leaves no room for entries after %d bytes of request envelope",
				cfg.Batch.MaxBytes, overhead)
		}
		dispatchConfig.Overhead = overhead
		dispatchConfig.Writer = dest.client
		dispatchConfig.Credentials = dest.credentials

		archive, err := openArchive(cfg, dest.client.LogName(), logger)
		if err != nil {
			return err
		}
		if archive != nil {
			dispatchConfig.Archive = archive
		}
	}
	dispatchConfig.Cursor = store

	source := journal.NewJournalctl(journal.JournalctlOptions{
		Path:      cfg.Journal.Journalctl,
		Follow:    !flags.once,
		Units:     cfg.Journal.Units,
		Directory: cfg.Journal.Directory,
		Merge:     cfg.Journal.Merge,
		Clock:     clk,
		Logger:    logger.With("component", "journal"),
	})
	defer source.Close()

	start := journal.End()
	if cfg.Journal.StartPosition == "beginning" {
		start = journal.Beginning()
	}

	return relay.Run(ctx, relay.Config{
		Source:        source,
		Cursor:        store,
		Transformer:   entry.Transformer{Labels: cfg.Labels},
		Dispatcher:    dispatch.New(dispatchConfig),
		StartPosition: start,
		PollInterval:  cfg.PollInterval(),
		ShutdownGrace: cfg.Grace(),
		Once:          flags.once,
		Clock:         clk,
		Logger:        logger,
	})
}

// dryRunCursor seeds an in-memory store from the persisted cursor so a
// dry run starts where the real relay would.
func dryRunCursor(cfg *config.Config) (*cursor.MemoryStore, error) {
	memory := cursor.NewMemoryStore()
	stored, ok, err := cursor.NewFileStore(cfg.CursorPath()).Load()
	if err != nil {
		return nil, err
	}
	if ok {
		if err := memory.Save(stored); err != nil {
			return nil, err
		}
	}
	return memory, nil
}
