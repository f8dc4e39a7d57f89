// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/pflag"

	"github.com/bureau-foundation/journalrelay/cmd/journalrelay/cli"
	"github.com/bureau-foundation/journalrelay/lib/clock"
	"github.com/bureau-foundation/journalrelay/lib/codec"
	"github.com/bureau-foundation/journalrelay/lib/config"
	"github.com/bureau-foundation/journalrelay/lib/deadletter"
)

func deadletterCommand() *cli.Command {
	return &cli.Command{
		Name:    "deadletter",
		Summary: "Inspect and resubmit rejected batches",
		Description: `Batches that Cloud Logging permanently rejected are archived under
<state.directory>/deadletter. Inspect them, fix the cause (a label or
payload the API refuses, a missing permission), then replay them.`,
		Subcommands: []*cli.Command{
			deadletterListCommand(),
			deadletterShowCommand(),
			deadletterReplayCommand(),
		},
	}
}

// openArchiveForCLI opens the archive regardless of state.deadletter,
// so records written before it was disabled stay reachable.
func openArchiveForCLI(configPath string) (*config.Config, *deadletter.Archive, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	archive, err := deadletter.New(cfg.DeadLetterDirectory(), deadletter.Options{
		Compression: deadletter.Compression(cfg.State.DeadLetterCompression),
	})
	if err != nil {
		return nil, nil, err
	}
	return cfg, archive, nil
}

func deadletterListCommand() *cli.Command {
	var configPath string
	var outputJSON bool
	return &cli.Command{
		Name:    "list",
		Summary: "List archived batches, oldest first",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("list", pflag.ContinueOnError)
			configFlag(flagSet, &configPath)
			flagSet.BoolVar(&outputJSON, "json", false, "output as JSON")
			return flagSet
		},
		Run: func(args []string) error {
			_, archive, err := openArchiveForCLI(configPath)
			if err != nil {
				return err
			}
			return listArchive(os.Stdout, archive, outputJSON)
		},
	}
}

type listedRecord struct {
	Name       string    `json:"name"`
	RejectedAt time.Time `json:"rejected_at"`
	Size       int64     `json:"size"`
	Entries    int       `json:"entries"`
	Status     int       `json:"status,omitempty"`
	Reason     string    `json:"reason"`
}

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	nameStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	faintStyle  = lipgloss.NewStyle().Faint(true)
)

func listArchive(w io.Writer, archive *deadletter.Archive, outputJSON bool) error {
	infos, err := archive.List()
	if err != nil {
		return err
	}
	listed := make([]listedRecord, 0, len(infos))
	for _, info := range infos {
		item := listedRecord{Name: info.Name, RejectedAt: info.RejectedAt, Size: info.Size}
		record, err := archive.Read(info.Name)
		if err != nil {
			item.Reason = "unreadable: " + err.Error()
		} else {
			item.Entries = len(record.Entries)
			item.Status = record.StatusCode
			item.Reason = record.Reason
		}
		listed = append(listed, item)
	}

	if outputJSON {
		return cli.WriteJSON(w, listed)
	}
	if len(listed) == 0 {
		fmt.Fprintln(w, faintStyle.Render("no rejected batches archived"))
		return nil
	}

	nameWidth := len("NAME")
	for _, item := range listed {
		nameWidth = max(nameWidth, len(item.Name))
	}
	column := func(width int) lipgloss.Style { return lipgloss.NewStyle().Width(width).PaddingRight(2) }

	fmt.Fprintln(w, headerStyle.Render(
		column(nameWidth+2).Render("NAME")+
			column(22).Render("REJECTED")+
			column(9).Render("ENTRIES")+
			column(8).Render("STATUS")+
			"REASON"))
	for _, item := range listed {
		status := "-"
		if item.Status != 0 {
			status = fmt.Sprint(item.Status)
		}
		fmt.Fprintln(w,
			nameStyle.Inherit(column(nameWidth+2)).Render(item.Name)+
				column(22).Render(item.RejectedAt.Format(time.DateTime))+
				column(9).Render(fmt.Sprint(item.Entries))+
				column(8).Render(status)+
				truncate(item.Reason, 80))
	}
	return nil
}

func truncate(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit-1]) + "…"
}

func deadletterShowCommand() *cli.Command {
	var configPath string
	var raw bool
	return &cli.Command{
		Name:    "show",
		Summary: "Print one archived batch",
		Usage:   "journalrelay deadletter show NAME [flags]",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("show", pflag.ContinueOnError)
			configFlag(flagSet, &configPath)
			flagSet.BoolVar(&raw, "raw", false, "print the record in CBOR diagnostic notation")
			return flagSet
		},
		Run: func(args []string) error {
			if len(args) != 1 {
				return &cli.UsageError{Message: "usage: journalrelay deadletter show NAME"}
			}
			_, archive, err := openArchiveForCLI(configPath)
			if err != nil {
				return err
			}
			return showRecord(os.Stdout, archive, args[0], raw)
		},
	}
}

func showRecord(w io.Writer, archive *deadletter.Archive, name string, raw bool) error {
	record, err := archive.Read(name)
	if err != nil {
		return err
	}
	if raw {
		encoded, err := codec.Marshal(record)
		if err != nil {
			return err
		}
		diagnostic, err := codec.Diagnose(encoded)
		if err != nil {
			return err
		}
		fmt.Fprintln(w, diagnostic)
		return nil
	}

	fmt.Fprintf(w, "%s %s\n", headerStyle.Render("batch:"), record.BatchID)
	fmt.Fprintf(w, "%s %s\n", headerStyle.Render("rejected:"), record.RejectedAt.Format(time.RFC3339Nano))
	if record.StatusCode != 0 {
		fmt.Fprintf(w, "%s %d\n", headerStyle.Render("status:"), record.StatusCode)
	}
	fmt.Fprintf(w, "%s %s\n", headerStyle.Render("reason:"), record.Reason)
	if record.LogName != "" {
		fmt.Fprintf(w, "%s %s\n", headerStyle.Render("log:"), record.LogName)
	}
	fmt.Fprintf(w, "%s %s\n", headerStyle.Render("cursor:"), record.TrailingCursor)
	fmt.Fprintf(w, "%s %d\n\n", headerStyle.Render("entries:"), len(record.Entries))
	for _, encoded := range record.Entries {
		fmt.Fprintln(w, string(encoded))
	}
	return nil
}

func deadletterReplayCommand() *cli.Command {
	var configPath string
	var all bool
	return &cli.Command{
		Name:    "replay",
		Summary: "Resubmit archived batches and remove them on success",
		Usage:   "journalrelay deadletter replay (NAME... | --all) [flags]",
		Description: `Resubmit archived batches to Cloud Logging with the configured
credentials. A batch is removed from the archive once accepted. The
journal cursor is not changed.`,
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("replay", pflag.ContinueOnError)
			configFlag(flagSet, &configPath)
			flagSet.BoolVar(&all, "all", false, "replay every archived batch, oldest first")
			return flagSet
		},
		Run: func(args []string) error {
			if all == (len(args) > 0) {
				return &cli.UsageError{Message: "name the batches to replay, or pass --all"}
			}
			return replayArchive(configPath, args, all)
		},
	}
}

func replayArchive(configPath string, names []string, all bool) error {
	cfg, archive, err := openArchiveForCLI(configPath)
	if err != nil {
		return err
	}
	logger := cli.NewLogger(cfg.Level())

	if all {
		infos, err := archive.List()
		if err != nil {
			return err
		}
		for _, info := range infos {
			names = append(names, info.Name)
		}
	}
	if len(names) == 0 {
		logger.Info("nothing to replay")
		return nil
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dest, err := connect(ctx, cfg, clock.Real(), logger)
	if err != nil {
		return err
	}
	defer dest.close()

	var failures []error
	for _, name := range names {
		if err := archive.Replay(ctx, name, dest.client, dest.credentials); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			logger.Error("replay failed", "file", name, "error", err)
			failures = append(failures, err)
			continue
		}
		logger.Info("replayed", "file", name)
	}
	if len(failures) > 0 {
		return fmt.Errorf("%d of %d batches not replayed: %w", len(failures), len(names), errors.Join(failures...))
	}
	return nil
}
