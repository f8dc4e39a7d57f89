// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package credential

import (
	"context"
	"errors"
	"time"
)

// Credential sources.
const (
	SourceMetadata       = "metadata"
	SourceServiceAccount = "service_account"
)

// ErrRefreshFailed is returned by Provider.Token when no usable token
// could be obtained.
var ErrRefreshFailed = errors.New("credential refresh failed")

// Credential is a short-lived bearer token.
type Credential struct {
	Token     string
	IssuedAt  time.Time
	ExpiresAt time.Time

	// Source names the strategy that produced the token.
	Source string
}

// Lifetime returns the total validity period of the token.
func (c Credential) Lifetime() time.Duration {
	return c.ExpiresAt.Sub(c.IssuedAt)
}

// Remaining returns how long the token stays valid after now.
func (c Credential) Remaining(now time.Time) time.Duration {
	return c.ExpiresAt.Sub(now)
}

// Expired reports whether the token is no longer valid at now.
func (c Credential) Expired(now time.Time) bool {
	return !now.Before(c.ExpiresAt)
}

// Fetcher obtains a fresh credential from one source.
type Fetcher interface {
	Fetch(ctx context.Context) (Credential, error)
}

// transientError is implemented by fetch errors that know whether a
// retry can help.
type transientError interface {
	error
	Transient() bool
}

// IsTransient reports whether err is worth retrying. Errors that do
// not classify themselves are treated as permanent.
func IsTransient(err error) bool {
	var classified transientError
	if errors.As(err, &classified) {
		return classified.Transient()
	}
	return false
}
