// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package journal

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/bureau-foundation/journalrelay/lib/cursor"
)

// Well-known journal field names.
const (
	FieldCursor           = "__CURSOR"
	FieldRealtime         = "__REALTIME_TIMESTAMP"
	FieldMonotonic        = "__MONOTONIC_TIMESTAMP"
	FieldSourceRealtime   = "_SOURCE_REALTIME_TIMESTAMP"
	FieldMessage          = "MESSAGE"
	FieldPriority         = "PRIORITY"
	FieldHostname         = "_HOSTNAME"
	FieldSystemdUnit      = "_SYSTEMD_UNIT"
	FieldSyslogIdentifier = "SYSLOG_IDENTIFIER"
)

// Record is one journal entry with every field flattened to a string.
// Records are treated as immutable once produced by a Source.
type Record struct {
	Fields map[string]string
}

// NewRecord returns a Record holding fields.
func NewRecord(fields map[string]string) Record {
	return Record{Fields: fields}
}

// Field returns the named field and whether it is present.
func (r Record) Field(name string) (string, bool) {
	value, ok := r.Fields[name]
	return value, ok
}

// Cursor returns the record's journal cursor, or "" if it has none.
func (r Record) Cursor() cursor.Cursor {
	return cursor.Cursor(r.Fields[FieldCursor])
}

// Message returns the MESSAGE field.
func (r Record) Message() (string, bool) {
	return r.Field(FieldMessage)
}

// Priority returns the syslog priority. The boolean is false when the
// field is absent or not an integer; range checking is left to the
// caller.
func (r Record) Priority() (int, bool) {
	value, ok := r.Fields[FieldPriority]
	if !ok {
		return 0, false
	}
	priority, err := strconv.Atoi(value)
	if err != nil {
		return 0, false
	}
	return priority, true
}

// Timestamp returns the time the entry was logged, preferring the
// sender-supplied _SOURCE_REALTIME_TIMESTAMP over journald's receive
// time. Both are microseconds since the Unix epoch.
func (r Record) Timestamp() (time.Time, bool) {
	for _, name := range []string{FieldSourceRealtime, FieldRealtime} {
		if value, ok := r.Fields[name]; ok {
			if microseconds, err := strconv.ParseInt(value, 10, 64); err == nil {
				return time.UnixMicro(microseconds).UTC(), true
			}
		}
	}
	return time.Time{}, false
}

// Monotonic returns the monotonic timestamp as a duration since boot.
func (r Record) Monotonic() (time.Duration, bool) {
	value, ok := r.Fields[FieldMonotonic]
	if !ok {
		return 0, false
	}
	microseconds, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0, false
	}
	return time.Duration(microseconds) * time.Microsecond, true
}

// ParseRecord decodes one line of journalctl JSON output.
//
// journalctl represents values in three shapes: a JSON string, an
// array of numbers for values that are not valid UTF-8, and an array of
// either of those when a field occurs more than once. Repeated fields
// keep their first value. Fields journalctl elided for size (null) are
// dropped. A record without __CURSOR is an error.
func ParseRecord(line []byte) (Record, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(line, &raw); err != nil {
		return Record{}, fmt.Errorf("decoding journal record: %w", err)
	}

	fields := make(map[string]string, len(raw))
	for name, value := range raw {
		text, present, err := decodeFieldValue(value)
		if err != nil {
			return Record{}, fmt.Errorf("decoding journal field %s: %w", name, err)
		}
		if present {
			fields[name] = text
		}
	}
	if fields[FieldCursor] == "" {
		return Record{}, fmt.Errorf("journal record has no %s field", FieldCursor)
	}
	return Record{Fields: fields}, nil
}

func decodeFieldValue(value json.RawMessage) (string, bool, error) {
	trimmed := bytes.TrimSpace(value)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return "", false, nil
	}

	switch trimmed[0] {
	case '"':
		var text string
		if err := json.Unmarshal(trimmed, &text); err != nil {
			return "", false, err
		}
		return text, true, nil

	case '[':
		var elements []json.RawMessage
		if err := json.Unmarshal(trimmed, &elements); err != nil {
			return "", false, err
		}
		if len(elements) == 0 {
			return "", true, nil
		}
		// An array whose first element is a number is a byte array.
		// Otherwise it is a repeated field: take the first value.
		first := bytes.TrimSpace(elements[0])
		if len(first) > 0 && (first[0] == '"' || first[0] == '[' || bytes.Equal(first, []byte("null"))) {
			return decodeFieldValue(first)
		}
		var octets []byte
		for _, element := range elements {
			var octet uint8
			if err := json.Unmarshal(element, &octet); err != nil {
				return "", false, fmt.Errorf("byte array element %s: %w", element, err)
			}
			octets = append(octets, octet)
		}
		return string(octets), true, nil

	default:
		// Numbers never appear in journalctl output, but keep them
		// textually rather than failing the whole record.
		return string(trimmed), true, nil
	}
}
