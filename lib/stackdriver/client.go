// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package stackdriver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"

	"github.com/bureau-foundation/journalrelay/lib/clock"
	"github.com/bureau-foundation/journalrelay/lib/credential"
	"github.com/bureau-foundation/journalrelay/lib/dispatch"
	"github.com/bureau-foundation/journalrelay/lib/netutil"
	"github.com/bureau-foundation/journalrelay/lib/version"
)

// DefaultEndpoint is the Cloud Logging API root.
const DefaultEndpoint = "https://logging.googleapis.com"

const writePath = "/v2/entries:write"

// Config configures a Client.
type Config struct {
	// Endpoint is the API root; DefaultEndpoint when empty.
	Endpoint string

	ProjectID string
	LogName   string
	Resource  Resource

	// Gzip compresses request bodies.
	Gzip bool

	// HTTPClient defaults to a client with a 60s timeout.
	HTTPClient *http.Client

	Clock clock.Clock
}

// Client writes batches to one log.
type Client struct {
	endpoint   string
	logName    string
	resource   Resource
	gzip       bool
	httpClient *http.Client
	clock      clock.Clock
}

// New validates config and returns a Client.
func New(config Config) (*Client, error) {
	if config.ProjectID == "" {
		return nil, errors.New("stackdriver: project ID is required")
	}
	if config.LogName == "" {
		return nil, errors.New("stackdriver: log name is required")
	}
	if config.Resource.Type == "" {
		return nil, errors.New("stackdriver: monitored resource type is required")
	}
	if config.Endpoint == "" {
		config.Endpoint = DefaultEndpoint
	}
	if config.HTTPClient == nil {
		config.HTTPClient = &http.Client{Timeout: 60 * time.Second}
	}
	if config.Clock == nil {
		config.Clock = clock.Real()
	}
	return &Client{
		endpoint:   strings.TrimSuffix(config.Endpoint, "/"),
		logName:    LogName(config.ProjectID, config.LogName),
		resource:   config.Resource,
		gzip:       config.Gzip,
		httpClient: config.HTTPClient,
		clock:      config.Clock,
	}, nil
}

// LogName returns the fully qualified log name. The short name is
// path-escaped, so "syslog/kern" becomes "syslog%2Fkern".
func LogName(projectID, name string) string {
	return "projects/" + projectID + "/logs/" + url.PathEscape(name)
}

// LogName returns the fully qualified name entries are written to.
func (c *Client) LogName() string { return c.logName }

// Overhead returns the size of a write request body with no entries.
// Each entry adds its encoded size plus a separating comma.
func (c *Client) Overhead() int {
	body, err := json.Marshal(writeRequest{
		LogName:  c.logName,
		Resource: c.resource,
		Entries:  []json.RawMessage{},
	})
	if err != nil {
		return 0
	}
	return len(body)
}

type writeRequest struct {
	LogName        string            `json:"logName"`
	Resource       Resource          `json:"resource"`
	Entries        []json.RawMessage `json:"entries"`
	PartialSuccess bool              `json:"partialSuccess"`
}

// Write sends batch as one entries:write request. It returns nil once
// the API has accepted every entry, and an *APIError otherwise.
func (c *Client) Write(ctx context.Context, batch dispatch.Batch, token credential.Credential) error {
	body, err := json.Marshal(writeRequest{
		LogName:  c.logName,
		Resource: c.resource,
		Entries:  batch.Entries,
	})
	if err != nil {
		return &APIError{Err: fmt.Errorf("encoding request: %w", err)}
	}
	encoding := ""
	if c.gzip {
		if body, err = compress(body); err != nil {
			return &APIError{Err: err}
		}
		encoding = "gzip"
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+writePath, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building write request: %w", err)
	}
	request.Header.Set("Authorization", "Bearer "+token.Token)
	request.Header.Set("Content-Type", "application/json")
	request.Header.Set("User-Agent", version.UserAgent())
	if encoding != "" {
		request.Header.Set("Content-Encoding", encoding)
	}

	response, err := c.httpClient.Do(request)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &APIError{Err: err}
	}
	defer response.Body.Close()

	if response.StatusCode >= 200 && response.StatusCode < 300 {
		// Drain so the connection is reused.
		_, _ = io.Copy(io.Discard, io.LimitReader(response.Body, netutil.MaxResponseSize))
		return nil
	}
	return parseError(
		response.StatusCode,
		netutil.ErrorBody(response.Body),
		netutil.RetryAfter(response.Header, c.clock.Now()),
	)
}

func compress(body []byte) ([]byte, error) {
	var buffer bytes.Buffer
	writer := gzip.NewWriter(&buffer)
	if _, err := writer.Write(body); err != nil {
		return nil, fmt.Errorf("compressing request: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("compressing request: %w", err)
	}
	return buffer.Bytes(), nil
}
