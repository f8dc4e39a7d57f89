// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package entry

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/bureau-foundation/journalrelay/lib/cursor"
	"github.com/bureau-foundation/journalrelay/lib/journal"
)

// EmptyMessage is the text payload of a record that has no MESSAGE.
const EmptyMessage = "empty log entry"

// Label keys derived from journal fields.
const (
	LabelHost       = "host"
	LabelUnit       = "unit"
	LabelIdentifier = "identifier"
)

// insertIDNamespace scopes the name-based UUIDs used as insert IDs.
var insertIDNamespace = uuid.MustParse("3b0c3f7e-9d54-4c61-8a3e-1f6d2b9e7a40")

// Payload is the body of an Entry: either Structured or Unstructured.
type Payload interface {
	payload()
}

// Structured is a payload parsed from a message that was one JSON
// object. Numbers are kept as json.Number so they round-trip exactly.
type Structured struct {
	Fields map[string]any
}

// Unstructured is a plain-text payload.
type Unstructured struct {
	Text string
}

func (Structured) payload()   {}
func (Unstructured) payload() {}

// Entry is one Cloud Logging log entry.
type Entry struct {
	Payload   Payload
	Severity  Severity
	Timestamp time.Time
	Labels    map[string]string
	InsertID  string

	// Cursor is the journal position of the source record. It is not
	// sent to the destination.
	Cursor cursor.Cursor
}

// wireEntry is the LogEntry shape accepted by entries:write.
type wireEntry struct {
	InsertID    string            `json:"insertId,omitempty"`
	Timestamp   string            `json:"timestamp,omitempty"`
	Severity    Severity          `json:"severity"`
	Labels      map[string]string `json:"labels,omitempty"`
	TextPayload *string           `json:"textPayload,omitempty"`
	JSONPayload map[string]any    `json:"jsonPayload,omitempty"`
}

// MarshalJSON encodes the entry in the destination's wire shape.
func (e Entry) MarshalJSON() ([]byte, error) {
	wire := wireEntry{
		InsertID: e.InsertID,
		Severity: e.Severity,
		Labels:   e.Labels,
	}
	if !e.Timestamp.IsZero() {
		wire.Timestamp = e.Timestamp.UTC().Format(time.RFC3339Nano)
	}
	switch payload := e.Payload.(type) {
	case Structured:
		fields := payload.Fields
		if fields == nil {
			fields = map[string]any{}
		}
		wire.JSONPayload = fields
	case Unstructured:
		text := payload.Text
		wire.TextPayload = &text
	case nil:
		text := EmptyMessage
		wire.TextPayload = &text
	default:
		return nil, errors.New("entry has an unknown payload type")
	}
	return json.Marshal(wire)
}

// Transformer turns journal records into entries.
type Transformer struct {
	// Labels are applied to every entry after the record-derived
	// labels, overriding them on key collision.
	Labels map[string]string
}

// Transform converts one record. It never fails.
func (t Transformer) Transform(record journal.Record) Entry {
	priority, hasPriority := record.Priority()
	entry := Entry{
		Payload:  ClassifyMessage(record.Message()),
		Severity: SeverityFromPriority(priority, hasPriority),
		Labels:   t.labels(record),
		Cursor:   record.Cursor(),
	}
	if timestamp, ok := record.Timestamp(); ok {
		entry.Timestamp = timestamp
	}
	if entry.Cursor != "" {
		entry.InsertID = InsertID(entry.Cursor)
	}
	return entry
}

func (t Transformer) labels(record journal.Record) map[string]string {
	labels := make(map[string]string, 3+len(t.Labels))
	for key, field := range map[string]string{
		LabelHost:       journal.FieldHostname,
		LabelUnit:       journal.FieldSystemdUnit,
		LabelIdentifier: journal.FieldSyslogIdentifier,
	} {
		if value, ok := record.Field(field); ok && value != "" {
			labels[key] = value
		}
	}
	for key, value := range t.Labels {
		labels[key] = value
	}
	if len(labels) == 0 {
		return nil
	}
	return labels
}

// InsertID returns the deterministic insert ID for a journal cursor.
func InsertID(c cursor.Cursor) string {
	return uuid.NewSHA1(insertIDNamespace, []byte(c)).String()
}

// ClassifyMessage decides between a structured and an unstructured
// payload. present is false when the record had no MESSAGE field.
func ClassifyMessage(message string, present bool) Payload {
	if !present {
		return Unstructured{Text: EmptyMessage}
	}
	if fields, ok := parseObject(message); ok {
		return Structured{Fields: fields}
	}
	return Unstructured{Text: message}
}

// parseObject accepts message only if it is exactly one JSON object,
// optionally surrounded by whitespace.
func parseObject(message string) (map[string]any, bool) {
	trimmed := strings.TrimSpace(message)
	if !strings.HasPrefix(trimmed, "{") {
		return nil, false
	}
	decoder := json.NewDecoder(bytes.NewReader([]byte(trimmed)))
	decoder.UseNumber()
	var fields map[string]any
	if err := decoder.Decode(&fields); err != nil || fields == nil {
		return nil, false
	}
	if _, err := decoder.Token(); !errors.Is(err, io.EOF) {
		return nil, false
	}
	return fields, true
}
