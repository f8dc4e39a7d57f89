// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package relay

import (
	"context"
	"log/slog"

	"github.com/bureau-foundation/journalrelay/lib/credential"
	"github.com/bureau-foundation/journalrelay/lib/dispatch"
)

// LogWriter is a dispatch.Writer that logs batches instead of sending
// them. Used by dry runs.
type LogWriter struct {
	Logger *slog.Logger

	// Verbose also logs each entry at debug level.
	Verbose bool
}

// Write logs batch and reports success.
func (w LogWriter) Write(ctx context.Context, batch dispatch.Batch, _ credential.Credential) error {
	w.Logger.Info("dry run: batch",
		"batch", batch.ID,
		"entries", len(batch.Entries),
		"bytes", batch.Size,
		"cursor", batch.Cursor,
	)
	if w.Verbose {
		for _, encoded := range batch.Entries {
			w.Logger.Debug("dry run: entry", "entry", string(encoded))
		}
	}
	return nil
}

// NoCredentials satisfies dispatch.Credentials for writers that need
// no token.
type NoCredentials struct{}

func (NoCredentials) Token(context.Context) (credential.Credential, error) {
	return credential.Credential{}, nil
}

func (NoCredentials) Invalidate() {}
