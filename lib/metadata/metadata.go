// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package metadata is a minimal client for the GCE metadata server.
//
// The relay uses it for two things: the default service account's
// access token (the credential source when no key file is configured)
// and the instance identity that labels the gce_instance monitored
// resource. Every request carries the Metadata-Flavor header the
// server requires.
package metadata

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/bureau-foundation/journalrelay/lib/netutil"
)

// DefaultURL is the metadata server's well-known address.
const DefaultURL = "http://metadata.google.internal"

const (
	tokenPath      = "/computeMetadata/v1/instance/service-accounts/default/token"
	projectIDPath  = "/computeMetadata/v1/project/project-id"
	instanceIDPath = "/computeMetadata/v1/instance/id"
	zonePath       = "/computeMetadata/v1/instance/zone"
)

// Error is a failed metadata request.
type Error struct {
	Path       string
	StatusCode int // 0 for transport failures
	Body       string
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("metadata %s: %v", e.Path, e.Err)
	}
	return fmt.Sprintf("metadata %s: HTTP %d: %s", e.Path, e.StatusCode, e.Body)
}

func (e *Error) Unwrap() error { return e.Err }

// Transient reports whether retrying the request may succeed: the
// server was unreachable, timed out, or answered 5xx or 429.
func (e *Error) Transient() bool {
	return e.StatusCode == 0 ||
		e.StatusCode == http.StatusTooManyRequests ||
		e.StatusCode >= 500
}

// Token is an access token issued by the metadata server.
type Token struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
	TokenType   string `json:"token_type"`
}

// Client talks to one metadata server.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient returns a Client for baseURL (DefaultURL when empty).
// A nil httpClient gets one with a short timeout, since the metadata
// server is link-local and answers quickly or not at all.
func NewClient(baseURL string, httpClient *http.Client) *Client {
	if baseURL == "" {
		baseURL = DefaultURL
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: httpClient,
	}
}

// Token fetches an access token for the instance's default service
// account.
func (c *Client) Token(ctx context.Context) (Token, error) {
	var token Token
	body, err := c.get(ctx, tokenPath)
	if err != nil {
		return Token{}, err
	}
	if err := netutil.DecodeResponse(strings.NewReader(body), &token); err != nil {
		return Token{}, fmt.Errorf("decoding metadata token: %w", err)
	}
	if token.AccessToken == "" || token.ExpiresIn <= 0 {
		return Token{}, errors.New("metadata token response is missing access_token or expires_in")
	}
	return token, nil
}

// ProjectID returns the project the instance belongs to.
func (c *Client) ProjectID(ctx context.Context) (string, error) {
	return c.get(ctx, projectIDPath)
}

// InstanceID returns the numeric instance ID.
func (c *Client) InstanceID(ctx context.Context) (string, error) {
	return c.get(ctx, instanceIDPath)
}

// Zone returns the instance's zone name. The server answers with
// "projects/<number>/zones/<zone>"; only the last element is returned.
func (c *Client) Zone(ctx context.Context) (string, error) {
	value, err := c.get(ctx, zonePath)
	if err != nil {
		return "", err
	}
	if index := strings.LastIndex(value, "/"); index >= 0 {
		value = value[index+1:]
	}
	return value, nil
}

func (c *Client) get(ctx context.Context, path string) (string, error) {
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return "", fmt.Errorf("building metadata request: %w", err)
	}
	request.Header.Set("Metadata-Flavor", "Google")

	response, err := c.httpClient.Do(request)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", &Error{Path: path, Err: err}
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusOK {
		return "", &Error{
			Path:       path,
			StatusCode: response.StatusCode,
			Body:       netutil.ErrorBody(response.Body),
		}
	}
	data, err := netutil.ReadResponse(response.Body)
	if err != nil {
		return "", &Error{Path: path, Err: fmt.Errorf("reading response: %w", err)}
	}
	return strings.TrimSpace(string(data)), nil
}
