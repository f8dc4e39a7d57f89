// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package stackdriver

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// APIError is a failed write request.
type APIError struct {
	// StatusCode is the HTTP status, or 0 when no response arrived.
	StatusCode int

	// Status is the Google RPC status name from the error body
	// (e.g. "INVALID_ARGUMENT"), when present.
	Status string

	Message string

	// Retry is the wait requested by a Retry-After header.
	Retry time.Duration

	Err error
}

func (e *APIError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("entries:write: %v", e.Err)
	}
	if e.Status != "" {
		return fmt.Sprintf("entries:write: HTTP %d %s: %s", e.StatusCode, e.Status, e.Message)
	}
	return fmt.Sprintf("entries:write: HTTP %d: %s", e.StatusCode, e.Message)
}

func (e *APIError) Unwrap() error { return e.Err }

// transientStatuses are Google RPC statuses that warrant a retry
// whatever HTTP code carried them.
var transientStatuses = map[string]bool{
	"UNAVAILABLE":        true,
	"RESOURCE_EXHAUSTED": true,
	"DEADLINE_EXCEEDED":  true,
	"INTERNAL":           true,
	"ABORTED":            true,
}

// Transient reports whether the same request may succeed later.
func (e *APIError) Transient() bool {
	switch {
	case e.StatusCode == 0:
		return true
	case e.StatusCode == http.StatusRequestTimeout,
		e.StatusCode == http.StatusTooManyRequests,
		e.StatusCode >= 500:
		return true
	case e.Unauthorized():
		return true
	}
	return transientStatuses[e.Status]
}

// Unauthorized reports whether the destination refused the caller
// rather than the payload: an invalid credential (401), a principal
// without write permission (403), or a project that does not exist
// (404). The write names no per-entry resource, so none of these
// depend on the batch; they persist until the credential is refreshed
// or the operator fixes IAM or the destination project.
func (e *APIError) Unauthorized() bool {
	switch e.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound:
		return true
	}
	return false
}

// RetryAfter returns the server-requested minimum wait, or zero.
func (e *APIError) RetryAfter() time.Duration { return e.Retry }

// HTTPStatus returns the HTTP status code.
func (e *APIError) HTTPStatus() int { return e.StatusCode }

// errorBody is the Google API error envelope.
type errorBody struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

// parseError fills Status and Message from a response body. Bodies
// that are not the Google envelope are kept verbatim as the message.
func parseError(statusCode int, body string, retry time.Duration) *APIError {
	apiErr := &APIError{StatusCode: statusCode, Message: body, Retry: retry}
	var envelope errorBody
	if json.Unmarshal([]byte(body), &envelope) == nil && envelope.Error.Message != "" {
		apiErr.Status = envelope.Error.Status
		apiErr.Message = envelope.Error.Message
	}
	return apiErr
}
