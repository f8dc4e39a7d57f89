// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package netutil provides HTTP helpers shared by the relay's API
// clients (metadata server, token endpoint, Cloud Logging).
//
// Response helpers (ReadResponse, DecodeResponse, ErrorBody) bound
// every body read so a misbehaving server cannot exhaust memory. Error
// bodies are cut much shorter than success bodies: they end up in log
// lines and error strings.
//
// RetryAfter parses the Retry-After header in either of its two forms.
package netutil

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// MaxResponseSize bounds JSON API response body reads: 16 MB. The
// largest legitimate response the relay reads is a token or a small
// entries:write reply.
const MaxResponseSize int64 = 16 << 20

// MaxErrorBodySize bounds error bodies kept for diagnostics.
const MaxErrorBodySize int64 = 8 << 10

// ReadResponse reads a JSON API response body up to MaxResponseSize
// bytes. Use instead of io.ReadAll when reading HTTP response bodies.
func ReadResponse(body io.Reader) ([]byte, error) {
	return io.ReadAll(io.LimitReader(body, MaxResponseSize))
}

// DecodeResponse reads a JSON API response body (up to MaxResponseSize
// bytes) and JSON-decodes it into v.
func DecodeResponse(body io.Reader, v any) error {
	data, err := io.ReadAll(io.LimitReader(body, MaxResponseSize))
	if err != nil {
		return fmt.Errorf("reading response body: %w", err)
	}
	return json.Unmarshal(data, v)
}

// ErrorBody reads an HTTP error response body for diagnostics. Read
// errors are ignored; a partial or empty body is still useful.
func ErrorBody(body io.Reader) string {
	data, _ := io.ReadAll(io.LimitReader(body, MaxErrorBodySize))
	return strings.TrimSpace(string(data))
}

// RetryAfter returns the wait requested by a Retry-After header, given
// either as delay-seconds or as an HTTP date relative to now. Absent,
// malformed or past values yield zero.
func RetryAfter(header http.Header, now time.Time) time.Duration {
	value := strings.TrimSpace(header.Get("Retry-After"))
	if value == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(value); err == nil {
		if seconds <= 0 {
			return 0
		}
		return time.Duration(seconds) * time.Second
	}
	if date, err := http.ParseTime(value); err == nil {
		if wait := date.Sub(now); wait > 0 {
			return wait
		}
	}
	return 0
}
