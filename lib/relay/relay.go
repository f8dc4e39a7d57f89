// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bureau-foundation/journalrelay/lib/clock"
	"github.com/bureau-foundation/journalrelay/lib/cursor"
	"github.com/bureau-foundation/journalrelay/lib/dispatch"
	"github.com/bureau-foundation/journalrelay/lib/entry"
	"github.com/bureau-foundation/journalrelay/lib/journal"
)

// Defaults for Config fields left at zero.
const (
	DefaultPollInterval  = time.Second
	DefaultShutdownGrace = 10 * time.Second
)

// Config wires the pipeline's collaborators.
type Config struct {
	Source      journal.Source
	Cursor      cursor.Store
	Transformer entry.Transformer
	Dispatcher  *dispatch.Dispatcher

	// StartPosition is used when the cursor store is empty.
	StartPosition journal.Position

	PollInterval  time.Duration
	ShutdownGrace time.Duration

	// Once ends Run successfully when the source is exhausted. The
	// source must not be following.
	Once bool

	Clock  clock.Clock
	Logger *slog.Logger
}

// Run forwards records until ctx is cancelled, the source is exhausted
// in once mode, or a fatal error occurs.
func Run(ctx context.Context, config Config) error {
	if config.PollInterval <= 0 {
		config.PollInterval = DefaultPollInterval
	}
	if config.ShutdownGrace <= 0 {
		config.ShutdownGrace = DefaultShutdownGrace
	}
	if config.Clock == nil {
		config.Clock = clock.Real()
	}
	if config.Logger == nil {
		config.Logger = slog.New(slog.DiscardHandler)
	}
	logger := config.Logger

	position, err := startPosition(config.Cursor, config.StartPosition)
	if err != nil {
		return err
	}
	logger.Info("starting journal relay", "position", position.String(), "once", config.Once)
	if err := config.Source.Seek(ctx, position); err != nil {
		return fmt.Errorf("seeking journal to %s: %w", position, err)
	}

	loop := &loop{config: config, logger: logger}
	err = loop.run(ctx)

	stats := config.Dispatcher.Stats()
	logger.Info("journal relay stopped",
		"records", loop.records,
		"acked_batches", stats.AckedBatches,
		"acked_entries", stats.AckedEntries,
		"rejected_batches", stats.RejectedBatches,
		"retries", stats.Retries,
		"pending", config.Dispatcher.Pending(),
	)
	return err
}

// startPosition resumes after the stored cursor, or falls back to the
// configured start when none is stored.
func startPosition(store cursor.Store, fallback journal.Position) (journal.Position, error) {
	stored, ok, err := store.Load()
	if err != nil {
		return journal.Position{}, fmt.Errorf("loading cursor: %w", err)
	}
	if !ok {
		return fallback, nil
	}
	return journal.After(stored), nil
}

type loop struct {
	config  Config
	logger  *slog.Logger
	records int
}

func (l *loop) run(ctx context.Context) error {
	dispatcher := l.config.Dispatcher
	for {
		timeout := l.config.PollInterval
		if deadline, ok := dispatcher.Deadline(); ok {
			timeout = min(timeout, clock.Until(l.config.Clock, deadline))
		}
		if timeout <= 0 {
			if err := dispatcher.Flush(ctx); err != nil {
				return l.stop(ctx, err)
			}
			continue
		}

		record, err := l.config.Source.Next(ctx, timeout)
		switch {
		case err == nil:
		case errors.Is(err, journal.ErrTimeout):
			if dispatcher.Due(l.config.Clock.Now()) {
				if err := dispatcher.Flush(ctx); err != nil {
					return l.stop(ctx, err)
				}
			}
			continue
		case errors.Is(err, journal.ErrExhausted) && l.config.Once:
			l.logger.Info("reached the end of the journal")
			if err := dispatcher.Flush(ctx); err != nil {
				return l.stop(ctx, err)
			}
			return nil
		default:
			return l.stop(ctx, fmt.Errorf("reading journal: %w", err))
		}

		l.records++
		transformed := l.config.Transformer.Transform(record)
		if err := dispatcher.Add(ctx, transformed, record.Cursor()); err != nil {
			return l.stop(ctx, err)
		}
		if dispatcher.Due(l.config.Clock.Now()) {
			if err := dispatcher.Flush(ctx); err != nil {
				return l.stop(ctx, err)
			}
		}
	}
}

// stop decides how the loop ends after err. Cancellation is a clean
// shutdown with one last flush; everything else is fatal.
func (l *loop) stop(ctx context.Context, err error) error {
	if ctx.Err() == nil || !errors.Is(err, ctx.Err()) {
		if isDispatchFatal(err) {
			return err
		}
		// The source failed but delivery is healthy: deliver what is
		// already read before giving up.
		l.finalFlush(ctx)
		return err
	}
	l.finalFlush(ctx)
	return nil
}

func isDispatchFatal(err error) bool {
	return errors.Is(err, dispatch.ErrPersistence) ||
		errors.Is(err, dispatch.ErrRetriesExhausted) ||
		errors.Is(err, dispatch.ErrRejected)
}

func (l *loop) finalFlush(ctx context.Context) {
	pending := l.config.Dispatcher.Pending()
	if pending == 0 {
		return
	}
	flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), l.config.ShutdownGrace)
	defer cancel()
	l.logger.Info("flushing before shutdown", "pending", pending, "grace", l.config.ShutdownGrace)
	if err := l.config.Dispatcher.Flush(flushCtx); err != nil {
		l.logger.Warn("final flush incomplete; entries will be re-read on restart",
			"error", err,
			"pending", l.config.Dispatcher.Pending(),
		)
	}
}
