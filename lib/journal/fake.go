// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package journal

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/bureau-foundation/journalrelay/lib/clock"
)

// Fake is an in-memory Source for tests. Records are replayed in the
// order they were appended and positions are honored the way journald
// honors them. When following, an empty Fake waits on its clock so
// tests control timeouts with clock.FakeClock.
type Fake struct {
	clock  clock.Clock
	follow bool

	mu      sync.Mutex
	records []Record
	next    int
	seeks   []Position
	failure error
	notify  chan struct{}
}

// NewFake returns a Fake holding records. A following Fake blocks at
// the end of its records; a non-following one returns ErrExhausted.
func NewFake(clk clock.Clock, follow bool, records ...Record) *Fake {
	return &Fake{
		clock:   clk,
		follow:  follow,
		records: append([]Record(nil), records...),
		notify:  make(chan struct{}),
	}
}

// Append adds records to the end of the journal, waking a blocked Next.
func (f *Fake) Append(records ...Record) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = append(f.records, records...)
	close(f.notify)
	f.notify = make(chan struct{})
}

// Fail makes every subsequent Next return err.
func (f *Fake) Fail(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failure = err
	close(f.notify)
	f.notify = make(chan struct{})
}

// Seeks returns every position passed to Seek.
func (f *Fake) Seeks() []Position {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Position(nil), f.seeks...)
}

// Seek positions the Fake. Seeking after a cursor that is not present
// fails with ErrCursorInvalidated, as journalctl does.
func (f *Fake) Seek(ctx context.Context, position Position) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seeks = append(f.seeks, position)

	switch position.Kind {
	case PositionBeginning:
		f.next = 0
	case PositionEnd:
		f.next = len(f.records)
	case PositionAfter:
		for index, record := range f.records {
			if record.Cursor() == position.Cursor {
				f.next = index + 1
				return nil
			}
		}
		return fmt.Errorf("%w: cursor %q not found", ErrCursorInvalidated, position.Cursor)
	}
	return nil
}

// Next returns the next record or waits up to timeout for one.
func (f *Fake) Next(ctx context.Context, timeout time.Duration) (Record, error) {
	f.mu.Lock()
	if f.failure != nil {
		err := f.failure
		f.mu.Unlock()
		return Record{}, err
	}
	if f.next < len(f.records) {
		record := f.records[f.next]
		f.next++
		f.mu.Unlock()
		return record, nil
	}
	if !f.follow {
		f.mu.Unlock()
		return Record{}, ErrExhausted
	}
	notify := f.notify
	f.mu.Unlock()

	select {
	case <-notify:
		return f.Next(ctx, timeout)
	case <-f.clock.After(timeout):
		return Record{}, ErrTimeout
	case <-ctx.Done():
		return Record{}, ctx.Err()
	}
}

// Close is a no-op.
func (f *Fake) Close() error { return nil }
