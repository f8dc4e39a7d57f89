// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bureau-foundation/journalrelay/lib/backoff"
	"github.com/bureau-foundation/journalrelay/lib/clock"
	"github.com/bureau-foundation/journalrelay/lib/credential"
	"github.com/bureau-foundation/journalrelay/lib/cursor"
	"github.com/bureau-foundation/journalrelay/lib/entry"
)

// Defaults for Config fields left at zero.
const (
	DefaultMaxEntries = 1000
	DefaultMaxBytes   = 5 << 20
	DefaultMaxDelay   = 500 * time.Millisecond
	DefaultMaxElapsed = 15 * time.Minute
)

var (
	// ErrPersistence reports that an acknowledged batch's cursor could
	// not be saved. Fatal.
	ErrPersistence = errors.New("cursor persistence failed")

	// ErrRetriesExhausted reports that a batch kept failing
	// transiently past the retry budget. Fatal; the cursor is
	// unchanged.
	ErrRetriesExhausted = errors.New("delivery retries exhausted")

	// ErrRejected reports a permanent rejection under PolicyHalt.
	ErrRejected = errors.New("batch permanently rejected")
)

// Batch is one write request's worth of entries. Entries are already
// encoded in the destination's wire shape.
type Batch struct {
	ID      string
	Entries []json.RawMessage

	// Cursor is the journal position of the last entry.
	Cursor cursor.Cursor

	// Size is the total encoded size of Entries.
	Size int
}

// Rejection describes a batch the destination will never accept.
type Rejection struct {
	Batch      Batch
	Reason     string
	StatusCode int
	RejectedAt time.Time
}

// Writer delivers a batch. Errors may implement Transient() bool,
// Unauthorized() bool and RetryAfter() time.Duration to steer retries;
// unclassified errors are treated as transient. An unauthorized error
// invalidates the credential and is retried without limit, since no
// batch can be delivered until it clears.
type Writer interface {
	Write(ctx context.Context, batch Batch, credential credential.Credential) error
}

// Credentials supplies bearer tokens.
type Credentials interface {
	Token(ctx context.Context) (credential.Credential, error)
	Invalidate()
}

// Archiver stores rejected batches.
type Archiver interface {
	Archive(rejection Rejection) error
}

// Config configures a Dispatcher.
type Config struct {
	Writer      Writer
	Credentials Credentials
	Cursor      cursor.Store

	// Archive, when set, receives every rejected batch.
	Archive Archiver

	MaxEntries int
	MaxDelay   time.Duration

	// MaxBytes bounds the request body: Overhead, the encoded
	// entries, and one separator byte between consecutive entries.
	MaxBytes int

	// Overhead is the size of the request body with no entries (the
	// log name, resource and other envelope fields).
	Overhead int

	Backoff     backoff.Policy
	MaxAttempts int // 0 = unlimited
	MaxElapsed  time.Duration

	// Jitter overrides the backoff's random source. Tests set it to a
	// constant to make delays exact.
	Jitter func() float64

	OnPermanentFailure Policy

	// OnReject is called for every rejected batch, after archiving.
	OnReject func(Rejection)

	Clock  clock.Clock
	Logger *slog.Logger
}

// Stats counts delivery outcomes.
type Stats struct {
	AckedBatches    int
	AckedEntries    int
	RejectedBatches int
	Retries         int
}

// Dispatcher accumulates entries and delivers them in batches.
type Dispatcher struct {
	config Config
	clock  clock.Clock
	logger *slog.Logger

	pending      []json.RawMessage
	pendingBytes int
	trailing     cursor.Cursor
	opened       time.Time

	mu    sync.Mutex
	state State
	stats Stats
}

// New returns a Dispatcher in StateAccumulating.
func New(config Config) *Dispatcher {
	if config.MaxEntries <= 0 {
		config.MaxEntries = DefaultMaxEntries
	}
	if config.MaxBytes <= 0 {
		config.MaxBytes = DefaultMaxBytes
	}
	if config.MaxDelay <= 0 {
		config.MaxDelay = DefaultMaxDelay
	}
	if config.MaxElapsed <= 0 {
		config.MaxElapsed = DefaultMaxElapsed
	}
	if config.Backoff == (backoff.Policy{}) {
		config.Backoff = backoff.DefaultPolicy
	}
	if config.OnPermanentFailure == "" {
		config.OnPermanentFailure = PolicyHold
	}
	if config.Clock == nil {
		config.Clock = clock.Real()
	}
	if config.Logger == nil {
		config.Logger = slog.New(slog.DiscardHandler)
	}
	return &Dispatcher{
		config: config,
		clock:  config.Clock,
		logger: config.Logger,
		state:  StateAccumulating,
	}
}

// State returns the current state.
func (d *Dispatcher) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Stats returns delivery counters.
func (d *Dispatcher) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stats
}

func (d *Dispatcher) transition(to State) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !CanTransition(d.state, to) {
		panic(fmt.Sprintf("dispatch: illegal transition %s -> %s", d.state, to))
	}
	d.state = to
}

// Pending returns the number of entries waiting to be flushed.
func (d *Dispatcher) Pending() int { return len(d.pending) }

// Deadline returns when the pending batch becomes due by age. The
// boolean is false when nothing is pending.
func (d *Dispatcher) Deadline() (time.Time, bool) {
	if len(d.pending) == 0 {
		return time.Time{}, false
	}
	return d.opened.Add(d.config.MaxDelay), true
}

// Due reports whether the pending batch has reached MaxDelay at now.
func (d *Dispatcher) Due(now time.Time) bool {
	deadline, ok := d.Deadline()
	return ok && !now.Before(deadline)
}

// Add appends an entry whose journal position is c. It may flush,
// before the entry when it would not fit, or after it when the batch
// is full; any fatal delivery error is returned.
func (d *Dispatcher) Add(ctx context.Context, e entry.Entry, c cursor.Cursor) error {
	encoded, err := json.Marshal(e)
	if err != nil {
		if flushErr := d.Flush(ctx); flushErr != nil {
			return flushErr
		}
		return d.rejectAlone(encoded, c, fmt.Sprintf("entry cannot be encoded: %v", err))
	}
	size := len(encoded)

	if d.requestSize(1, size) > d.config.MaxBytes {
		if err := d.Flush(ctx); err != nil {
			return err
		}
		return d.rejectAlone(encoded, c,
			fmt.Sprintf("entry of %d bytes exceeds max_bytes %d with %d bytes of request overhead",
				size, d.config.MaxBytes, d.config.Overhead))
	}
	if len(d.pending) > 0 && d.requestSize(len(d.pending)+1, d.pendingBytes+size) > d.config.MaxBytes {
		if err := d.Flush(ctx); err != nil {
			return err
		}
	}

	if len(d.pending) == 0 {
		d.opened = d.clock.Now()
	}
	d.pending = append(d.pending, encoded)
	d.pendingBytes += size
	d.trailing = c

	if len(d.pending) >= d.config.MaxEntries {
		return d.Flush(ctx)
	}
	return nil
}

// requestSize is the body size of a request carrying count entries
// that encode to entryBytes in total.
func (d *Dispatcher) requestSize(count, entryBytes int) int {
	return d.config.Overhead + entryBytes + max(count-1, 0)
}

// Flush delivers the pending batch, if any, and returns once it is
// acknowledged or rejected, or a fatal error occurs. If ctx is
// cancelled first, the batch is kept pending and ctx's error returned.
func (d *Dispatcher) Flush(ctx context.Context) error {
	if len(d.pending) == 0 {
		return nil
	}
	batch := Batch{
		ID:      uuid.NewString(),
		Entries: d.pending,
		Cursor:  d.trailing,
		Size:    d.pendingBytes,
	}
	opened := d.opened
	d.pending = nil
	d.pendingBytes = 0

	d.transition(StateFlushing)
	err := d.deliver(ctx, batch)
	if err != nil && (errors.Is(err, ErrRetriesExhausted) || (ctx.Err() != nil && errors.Is(err, ctx.Err()))) {
		// Not delivered: keep the batch for a later flush or for the
		// final flush under a fresh context.
		d.pending = batch.Entries
		d.pendingBytes = batch.Size
		d.trailing = batch.Cursor
		d.opened = opened
	}
	d.settle()
	return err
}

// settle returns the state machine to Accumulating once a batch has
// left the delivery cycle, whichever way it left.
func (d *Dispatcher) settle() {
	if d.State() != StateAccumulating {
		d.transition(StateAccumulating)
	}
}

func (d *Dispatcher) rejectAlone(encoded []byte, c cursor.Cursor, reason string) error {
	batch := Batch{
		ID:      uuid.NewString(),
		Entries: []json.RawMessage{encoded},
		Cursor:  c,
		Size:    len(encoded),
	}
	d.transition(StateFlushing)
	d.transition(StateRejected)
	err := d.reject(batch, reason, 0)
	d.settle()
	return err
}

// deliver runs Flushing until the batch leaves the cycle.
func (d *Dispatcher) deliver(ctx context.Context, batch Batch) error {
	started := d.clock.Now()
	transient := backoff.New(d.config.Backoff)
	auth := backoff.New(d.config.Backoff)
	if d.config.Jitter != nil {
		transient.WithJitter(d.config.Jitter)
		auth.WithJitter(d.config.Jitter)
	}
	attempts := 0

	for {
		token, err := d.config.Credentials.Token(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			delay := auth.Next(0)
			d.logger.Warn("no credential, delivery stalled",
				"error", err,
				"batch", batch.ID,
				"backoff", delay,
			)
			d.transition(StateFailed)
			if err := d.wait(ctx, delay); err != nil {
				return err
			}
			continue
		}

		err = d.config.Writer.Write(ctx, batch, token)
		if err == nil {
			return d.acknowledge(batch)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if isUnauthorized(err) {
			d.config.Credentials.Invalidate()
			delay := auth.Next(retryAfter(err))
			d.logger.Warn("destination refused credential or permission, delivery stalled",
				"error", err,
				"batch", batch.ID,
				"backoff", delay,
			)
			d.transition(StateFailed)
			if err := d.wait(ctx, delay); err != nil {
				return err
			}
			continue
		}

		if !isTransient(err) {
			d.transition(StateRejected)
			return d.reject(batch, err.Error(), statusCode(err))
		}

		d.transition(StateFailed)
		attempts++
		elapsed := d.clock.Now().Sub(started)
		if (d.config.MaxAttempts > 0 && attempts >= d.config.MaxAttempts) || elapsed >= d.config.MaxElapsed {
			d.logger.Error("delivery retries exhausted",
				"error", err,
				"batch", batch.ID,
				"attempts", attempts,
				"elapsed", elapsed,
			)
			return fmt.Errorf("%w: batch %s after %d attempts over %v: %w",
				ErrRetriesExhausted, batch.ID, attempts, elapsed, err)
		}
		delay := transient.Next(retryAfter(err))
		d.mu.Lock()
		d.stats.Retries++
		d.mu.Unlock()
		d.logger.Warn("batch delivery failed, retrying",
			"error", err,
			"batch", batch.ID,
			"entries", len(batch.Entries),
			"attempt", attempts,
			"backoff", delay,
		)
		if err := d.wait(ctx, delay); err != nil {
			return err
		}
	}
}

// wait moves Failed → Retrying, sleeps, and moves on to Flushing.
func (d *Dispatcher) wait(ctx context.Context, delay time.Duration) error {
	d.transition(StateRetrying)
	if err := clock.Sleep(ctx, d.clock, delay); err != nil {
		return err
	}
	d.transition(StateFlushing)
	return nil
}

func (d *Dispatcher) acknowledge(batch Batch) error {
	d.transition(StateAcked)
	if err := d.config.Cursor.Save(batch.Cursor); err != nil {
		return fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	d.mu.Lock()
	d.stats.AckedBatches++
	d.stats.AckedEntries += len(batch.Entries)
	d.mu.Unlock()
	d.logger.Debug("batch acknowledged",
		"batch", batch.ID,
		"entries", len(batch.Entries),
		"bytes", batch.Size,
		"cursor", batch.Cursor,
	)
	return nil
}

// reject handles a batch in StateRejected according to the policy.
func (d *Dispatcher) reject(batch Batch, reason string, status int) error {
	rejection := Rejection{
		Batch:      batch,
		Reason:     reason,
		StatusCode: status,
		RejectedAt: d.clock.Now(),
	}
	d.mu.Lock()
	d.stats.RejectedBatches++
	d.mu.Unlock()

	var archiveErr error
	if d.config.Archive != nil {
		archiveErr = d.config.Archive.Archive(rejection)
		if archiveErr != nil {
			d.logger.Error("archiving rejected batch failed", "error", archiveErr, "batch", batch.ID)
		}
	}
	d.logger.Error("batch permanently rejected",
		"batch", batch.ID,
		"entries", len(batch.Entries),
		"status", status,
		"reason", reason,
		"policy", string(d.config.OnPermanentFailure),
		"trailing_cursor", batch.Cursor,
	)
	if d.config.OnReject != nil {
		d.config.OnReject(rejection)
	}

	switch d.config.OnPermanentFailure {
	case PolicyAdvance:
		if archiveErr != nil {
			return fmt.Errorf("%w: refusing to advance past an unarchived rejected batch: %w", ErrPersistence, archiveErr)
		}
		if err := d.config.Cursor.Save(batch.Cursor); err != nil {
			return fmt.Errorf("%w: %w", ErrPersistence, err)
		}
	case PolicyHalt:
		return fmt.Errorf("%w: batch %s: %s", ErrRejected, batch.ID, reason)
	}
	return nil
}

func isTransient(err error) bool {
	var classified interface{ Transient() bool }
	if errors.As(err, &classified) {
		return classified.Transient()
	}
	return true
}

func isUnauthorized(err error) bool {
	var classified interface{ Unauthorized() bool }
	return errors.As(err, &classified) && classified.Unauthorized()
}

func retryAfter(err error) time.Duration {
	var classified interface{ RetryAfter() time.Duration }
	if errors.As(err, &classified) {
		return classified.RetryAfter()
	}
	return 0
}

func statusCode(err error) int {
	var classified interface{ HTTPStatus() int }
	if errors.As(err, &classified) {
		return classified.HTTPStatus()
	}
	return 0
}
