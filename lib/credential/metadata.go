// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package credential

import (
	"context"
	"fmt"
	"time"

	"github.com/bureau-foundation/journalrelay/lib/clock"
	"github.com/bureau-foundation/journalrelay/lib/metadata"
)

// MetadataFetcher fetches the default service account's token from the
// metadata server.
type MetadataFetcher struct {
	client *metadata.Client
	clock  clock.Clock
}

// NewMetadataFetcher returns a fetcher using client.
func NewMetadataFetcher(client *metadata.Client, clk clock.Clock) *MetadataFetcher {
	if clk == nil {
		clk = clock.Real()
	}
	return &MetadataFetcher{client: client, clock: clk}
}

// Fetch requests a token. The issue time is taken from the local clock
// when the response arrives.
func (f *MetadataFetcher) Fetch(ctx context.Context) (Credential, error) {
	token, err := f.client.Token(ctx)
	if err != nil {
		return Credential{}, fmt.Errorf("fetching metadata token: %w", err)
	}
	now := f.clock.Now()
	return Credential{
		Token:     token.AccessToken,
		IssuedAt:  now,
		ExpiresAt: now.Add(time.Duration(token.ExpiresIn) * time.Second),
		Source:    SourceMetadata,
	}, nil
}
