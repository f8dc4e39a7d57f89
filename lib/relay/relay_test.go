// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/bureau-foundation/journalrelay/lib/clock"
	"github.com/bureau-foundation/journalrelay/lib/credential"
	"github.com/bureau-foundation/journalrelay/lib/cursor"
	"github.com/bureau-foundation/journalrelay/lib/dispatch"
	"github.com/bureau-foundation/journalrelay/lib/entry"
	"github.com/bureau-foundation/journalrelay/lib/journal"
	"github.com/bureau-foundation/journalrelay/lib/testutil"
)

var epoch = time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)

type channelWriter struct {
	err     error
	batches chan dispatch.Batch
}

func newChannelWriter() *channelWriter {
	return &channelWriter{batches: make(chan dispatch.Batch, 16)}
}

func (w *channelWriter) Write(ctx context.Context, batch dispatch.Batch, _ credential.Credential) error {
	w.batches <- batch
	return w.err
}

func record(index int, priority, message string) journal.Record {
	return journal.NewRecord(map[string]string{
		journal.FieldCursor:   fmt.Sprintf("s=boot;i=%x", index),
		journal.FieldPriority: priority,
		journal.FieldMessage:  message,
		journal.FieldRealtime: fmt.Sprint(epoch.Add(time.Duration(index) * time.Second).UnixMicro()),
	})
}

type pipeline struct {
	clock      *clock.FakeClock
	source     *journal.Fake
	store      *cursor.MemoryStore
	writer     *channelWriter
	dispatcher *dispatch.Dispatcher
	config     Config
}

func newPipeline(t *testing.T, follow bool, dispatchConfig func(*dispatch.Config), records ...journal.Record) *pipeline {
	t.Helper()
	p := &pipeline{
		clock:  clock.Fake(epoch),
		store:  cursor.NewMemoryStore(),
		writer: newChannelWriter(),
	}
	p.source = journal.NewFake(p.clock, follow, records...)
	config := dispatch.Config{
		Writer:      p.writer,
		Credentials: NoCredentials{},
		Cursor:      p.store,
		Jitter:      func() float64 { return 1 },
		Clock:       p.clock,
	}
	if dispatchConfig != nil {
		dispatchConfig(&config)
	}
	p.dispatcher = dispatch.New(config)
	p.config = Config{
		Source:        p.source,
		Cursor:        p.store,
		Transformer:   entry.Transformer{Labels: map[string]string{"env": "test"}},
		Dispatcher:    p.dispatcher,
		StartPosition: journal.Beginning(),
		Once:          !follow,
		Clock:         p.clock,
	}
	return p
}

func (p *pipeline) start(ctx context.Context) <-chan error {
	done := make(chan error, 1)
	go func() { done <- Run(ctx, p.config) }()
	return done
}

func decodeEntries(t *testing.T, batch dispatch.Batch) []map[string]any {
	t.Helper()
	var decoded []map[string]any
	for _, encoded := range batch.Entries {
		var fields map[string]any
		if err := json.Unmarshal(encoded, &fields); err != nil {
			t.Fatalf("entry %s: %v", encoded, err)
		}
		decoded = append(decoded, fields)
	}
	return decoded
}

func storedCursor(t *testing.T, store cursor.Store) cursor.Cursor {
	t.Helper()
	value, _, err := store.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	return value
}

func TestPlainRecordsFlushOnMaxDelay(t *testing.T) {
	p := newPipeline(t, true, nil,
		record(1, "6", "first"),
		record(2, "6", "second"),
		record(3, "6", "third"),
	)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := p.start(ctx)

	// All three records are pending; the read now waits for the
	// batch's max-delay deadline.
	p.clock.WaitForTimers(1)
	select {
	case batch := <-p.writer.batches:
		t.Fatalf("batch %s flushed before max delay", batch.ID)
	default:
	}
	p.clock.Advance(dispatch.DefaultMaxDelay)

	batch := testutil.RequireReceive(t, p.writer.batches, 5*time.Second, "waiting for batch")
	entries := decodeEntries(t, batch)
	if len(entries) != 3 {
		t.Fatalf("batch has %d entries, want 3", len(entries))
	}
	for index, fields := range entries {
		if fields["severity"] != "INFO" {
			t.Errorf("entry %d severity = %v, want INFO", index, fields["severity"])
		}
		if _, structured := fields["jsonPayload"]; structured {
			t.Errorf("entry %d is structured", index)
		}
	}
	if entries[2]["textPayload"] != "third" {
		t.Errorf("third entry = %v", entries[2])
	}
	if labels, _ := entries[0]["labels"].(map[string]any); labels["env"] != "test" {
		t.Errorf("labels = %v", entries[0]["labels"])
	}

	cancel()
	if err := testutil.RequireReceive(t, done, 5*time.Second, "waiting for Run"); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := storedCursor(t, p.store); got != "s=boot;i=3" {
		t.Errorf("cursor = %q, want the third record's", got)
	}
	if p.store.Saves() != 1 {
		t.Errorf("cursor saves = %d, want 1", p.store.Saves())
	}
}

func TestStructuredRecord(t *testing.T) {
	p := newPipeline(t, false, nil, record(1, "4", `{"msg":"warn"}`))

	if err := Run(context.Background(), p.config); err != nil {
		t.Fatalf("Run: %v", err)
	}
	batch := testutil.RequireReceive(t, p.writer.batches, 5*time.Second, "waiting for batch")
	entries := decodeEntries(t, batch)
	if len(entries) != 1 {
		t.Fatalf("batch has %d entries, want 1", len(entries))
	}
	payload, ok := entries[0]["jsonPayload"].(map[string]any)
	if !ok || payload["msg"] != "warn" {
		t.Errorf("jsonPayload = %v", entries[0]["jsonPayload"])
	}
	if entries[0]["severity"] != "WARNING" {
		t.Errorf("severity = %v, want WARNING", entries[0]["severity"])
	}
	if got := storedCursor(t, p.store); got != "s=boot;i=1" {
		t.Errorf("cursor = %q", got)
	}
}

func TestResumesAfterStoredCursor(t *testing.T) {
	p := newPipeline(t, false, nil, record(1, "6", "a"), record(2, "6", "b"), record(3, "6", "c"))
	if err := p.store.Save("s=boot;i=1"); err != nil {
		t.Fatal(err)
	}

	if err := Run(context.Background(), p.config); err != nil {
		t.Fatalf("Run: %v", err)
	}
	seeks := p.source.Seeks()
	if len(seeks) != 1 || seeks[0] != journal.After("s=boot;i=1") {
		t.Errorf("seeks = %v, want after the stored cursor", seeks)
	}
	batch := testutil.RequireReceive(t, p.writer.batches, 5*time.Second, "waiting for batch")
	if len(batch.Entries) != 2 || batch.Cursor != "s=boot;i=3" {
		t.Errorf("batch = %d entries up to %q", len(batch.Entries), batch.Cursor)
	}
}

func TestShutdownFlushesPending(t *testing.T) {
	p := newPipeline(t, true, func(c *dispatch.Config) { c.MaxDelay = time.Hour },
		record(1, "6", "a"), record(2, "6", "b"))
	ctx, cancel := context.WithCancel(context.Background())
	done := p.start(ctx)

	p.clock.WaitForTimers(1)
	cancel()

	if err := testutil.RequireReceive(t, done, 5*time.Second, "waiting for Run"); err != nil {
		t.Fatalf("Run: %v", err)
	}
	batch := testutil.RequireReceive(t, p.writer.batches, 5*time.Second, "waiting for final batch")
	if len(batch.Entries) != 2 {
		t.Errorf("final batch has %d entries, want 2", len(batch.Entries))
	}
	if got := storedCursor(t, p.store); got != "s=boot;i=2" {
		t.Errorf("cursor = %q", got)
	}
}

func TestCorruptCursorIsFatal(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cursor")
	if err := os.WriteFile(path, []byte("\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	p := newPipeline(t, false, nil, record(1, "6", "a"))
	p.config.Cursor = cursor.NewFileStore(path)

	if err := Run(context.Background(), p.config); !errors.Is(err, cursor.ErrCorrupt) {
		t.Fatalf("Run error = %v, want ErrCorrupt", err)
	}
	if len(p.source.Seeks()) != 0 {
		t.Error("source was read despite a corrupt cursor")
	}
}

func TestInvalidatedCursorIsFatal(t *testing.T) {
	p := newPipeline(t, false, nil, record(1, "6", "a"))
	if err := p.store.Save("s=rotated-away;i=99"); err != nil {
		t.Fatal(err)
	}
	if err := Run(context.Background(), p.config); !errors.Is(err, journal.ErrCursorInvalidated) {
		t.Fatalf("Run error = %v, want ErrCursorInvalidated", err)
	}
}

func TestSourceFailureIsFatal(t *testing.T) {
	p := newPipeline(t, true, nil)
	p.source.Fail(fmt.Errorf("%w: journalctl exited with status 1", journal.ErrSource))

	if err := Run(context.Background(), p.config); !errors.Is(err, journal.ErrSource) {
		t.Fatalf("Run error = %v, want ErrSource", err)
	}
}

func TestHaltingRejectionIsFatal(t *testing.T) {
	p := newPipeline(t, false, func(c *dispatch.Config) { c.OnPermanentFailure = dispatch.PolicyHalt },
		record(1, "3", "bad"))
	p.writer.err = permanentError{}

	if err := Run(context.Background(), p.config); !errors.Is(err, dispatch.ErrRejected) {
		t.Fatalf("Run error = %v, want ErrRejected", err)
	}
	if _, ok, _ := p.store.Load(); ok {
		t.Error("cursor advanced past a halting rejection")
	}
}

type permanentError struct{}

func (permanentError) Error() string   { return "HTTP 400" }
func (permanentError) Transient() bool { return false }
