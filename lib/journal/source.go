// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package journal

import (
	"context"
	"errors"
	"time"

	"github.com/bureau-foundation/journalrelay/lib/cursor"
)

var (
	// ErrTimeout is returned by Next when no record arrived within the
	// requested wait. It is not a failure.
	ErrTimeout = errors.New("no journal record within timeout")

	// ErrExhausted is returned by Next when a non-following source has
	// delivered every record up to the journal's current end.
	ErrExhausted = errors.New("journal exhausted")

	// ErrSource reports that the underlying reader failed. Fatal.
	ErrSource = errors.New("journal source failed")

	// ErrCursorInvalidated reports that the resume cursor no longer
	// identifies a position in the journal. Fatal until the operator
	// resets the stored cursor.
	ErrCursorInvalidated = errors.New("journal cursor invalidated")
)

// Source is a sequential, blocking iterator over journal records.
// A Source is owned by a single goroutine.
type Source interface {
	// Seek positions the source. Records returned by subsequent Next
	// calls start at the given position.
	Seek(ctx context.Context, position Position) error

	// Next returns the next record in journal order. It returns
	// ErrTimeout when nothing arrived within timeout, ErrExhausted
	// when a non-following source reached the end, and an error
	// matching ErrSource or ErrCursorInvalidated on failure.
	Next(ctx context.Context, timeout time.Duration) (Record, error)

	// Close releases the source.
	Close() error
}

// PositionKind selects where a Source starts reading.
type PositionKind int

const (
	// PositionBeginning starts at the oldest retained record.
	PositionBeginning PositionKind = iota

	// PositionEnd starts after the newest record, delivering only
	// records written from now on.
	PositionEnd

	// PositionAfter starts immediately after a known cursor.
	PositionAfter
)

// Position is a starting point for a Source.
type Position struct {
	Kind   PositionKind
	Cursor cursor.Cursor
}

// Beginning returns the position of the oldest retained record.
func Beginning() Position { return Position{Kind: PositionBeginning} }

// End returns the position after the newest record.
func End() Position { return Position{Kind: PositionEnd} }

// After returns the position immediately after c.
func After(c cursor.Cursor) Position { return Position{Kind: PositionAfter, Cursor: c} }

// String returns a form suitable for logging.
func (p Position) String() string {
	switch p.Kind {
	case PositionBeginning:
		return "beginning"
	case PositionEnd:
		return "end"
	case PositionAfter:
		return "after " + string(p.Cursor)
	default:
		return "unknown"
	}
}
