// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package journal

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bureau-foundation/journalrelay/lib/clock"
	"github.com/bureau-foundation/journalrelay/lib/cursor"
	"github.com/bureau-foundation/journalrelay/lib/testutil"
)

func testRecord(c string) Record {
	return NewRecord(map[string]string{FieldCursor: c, FieldMessage: "message " + c})
}

func TestFakePositions(t *testing.T) {
	ctx := context.Background()
	fake := NewFake(clock.Real(), false, testRecord("a"), testRecord("b"), testRecord("c"))

	tests := []struct {
		position Position
		want     []cursor.Cursor
	}{
		{Beginning(), []cursor.Cursor{"a", "b", "c"}},
		{After("a"), []cursor.Cursor{"b", "c"}},
		{After("c"), nil},
		{End(), nil},
	}
	for _, test := range tests {
		t.Run(test.position.String(), func(t *testing.T) {
			if err := fake.Seek(ctx, test.position); err != nil {
				t.Fatalf("Seek: %v", err)
			}
			var got []cursor.Cursor
			for {
				record, err := fake.Next(ctx, time.Second)
				if errors.Is(err, ErrExhausted) {
					break
				}
				if err != nil {
					t.Fatalf("Next: %v", err)
				}
				got = append(got, record.Cursor())
			}
			if len(got) != len(test.want) {
				t.Fatalf("got %v, want %v", got, test.want)
			}
			for index := range got {
				if got[index] != test.want[index] {
					t.Errorf("record %d = %q, want %q", index, got[index], test.want[index])
				}
			}
		})
	}
}

func TestFakeSeekUnknownCursor(t *testing.T) {
	fake := NewFake(clock.Real(), false, testRecord("a"))
	err := fake.Seek(context.Background(), After("gone"))
	if !errors.Is(err, ErrCursorInvalidated) {
		t.Errorf("Seek error = %v, want ErrCursorInvalidated", err)
	}
}

func TestFakeFollowTimesOut(t *testing.T) {
	fakeClock := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	fake := NewFake(fakeClock, true)
	if err := fake.Seek(context.Background(), Beginning()); err != nil {
		t.Fatalf("Seek: %v", err)
	}

	errs := make(chan error, 1)
	go func() {
		_, err := fake.Next(context.Background(), 500*time.Millisecond)
		errs <- err
	}()
	fakeClock.WaitForTimers(1)
	fakeClock.Advance(500 * time.Millisecond)

	err := testutil.RequireReceive(t, errs, 5*time.Second, "waiting for Next to time out")
	if !errors.Is(err, ErrTimeout) {
		t.Errorf("Next error = %v, want ErrTimeout", err)
	}
}

func TestFakeFollowWakesOnAppend(t *testing.T) {
	fakeClock := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	fake := NewFake(fakeClock, true)
	if err := fake.Seek(context.Background(), Beginning()); err != nil {
		t.Fatalf("Seek: %v", err)
	}

	records := make(chan Record, 1)
	go func() {
		record, err := fake.Next(context.Background(), time.Hour)
		if err == nil {
			records <- record
		}
		close(records)
	}()
	fakeClock.WaitForTimers(1)
	fake.Append(testRecord("late"))

	record := testutil.RequireReceive(t, records, 5*time.Second, "waiting for Next to wake on Append")
	if record.Cursor() != "late" {
		t.Errorf("Next = %q, want record late", record.Cursor())
	}
}

func TestFakeFail(t *testing.T) {
	fake := NewFake(clock.Real(), true, testRecord("a"))
	fake.Fail(ErrSource)
	if _, err := fake.Next(context.Background(), time.Second); !errors.Is(err, ErrSource) {
		t.Errorf("Next error = %v, want ErrSource", err)
	}
}
