// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/journalrelay/lib/backoff"
	"github.com/bureau-foundation/journalrelay/lib/clock"
	"github.com/bureau-foundation/journalrelay/lib/config"
	"github.com/bureau-foundation/journalrelay/lib/credential"
	"github.com/bureau-foundation/journalrelay/lib/deadletter"
	"github.com/bureau-foundation/journalrelay/lib/metadata"
	"github.com/bureau-foundation/journalrelay/lib/stackdriver"
)

// httpTimeout bounds every outbound request.
const httpTimeout = 60 * time.Second

// configFlag registers --config on flagSet.
func configFlag(flagSet *pflag.FlagSet, path *string) {
	flagSet.StringVarP(path, "config", "c", "",
		"configuration file (YAML, or JSON with comments); defaults to $"+config.ConfigEnv)
}

// destination is everything needed to write to Cloud Logging.
type destination struct {
	credentials *credential.Provider
	client      *stackdriver.Client
	source      string
	close       func() error
}

// connect builds the credential provider and API client. The
// credential source is chosen once here: a key file when configured,
// the metadata server otherwise.
func connect(ctx context.Context, cfg *config.Config, clk clock.Clock, logger *slog.Logger) (*destination, error) {
	httpClient := &http.Client{Timeout: httpTimeout}
	metadataClient := metadata.NewClient(cfg.Credentials.MetadataURL, nil)

	var (
		fetcher   credential.Fetcher
		source    string
		projectID = cfg.Destination.ProjectID
		closer    = func() error { return nil }
	)
	if cfg.Credentials.KeyFile != "" {
		key, err := credential.LoadServiceAccountKey(cfg.Credentials.KeyFile, cfg.Credentials.IdentityFile)
		if err != nil {
			return nil, err
		}
		if !key.Locked() {
			logger.Warn("service account key memory could not be locked; it may be swapped to disk",
				"hint", "raise LimitMEMLOCK or grant CAP_IPC_LOCK")
		}
		serviceAccount, err := credential.NewServiceAccountFetcher(key, httpClient, clk)
		if err != nil {
			key.Close()
			return nil, err
		}
		if projectID == "" {
			projectID = serviceAccount.ProjectID()
		}
		fetcher, source, closer = serviceAccount, credential.SourceServiceAccount, serviceAccount.Close
		logger.Info("using service account key", "email", serviceAccount.Email(), "key_file", cfg.Credentials.KeyFile)
	} else {
		fetcher, source = credential.NewMetadataFetcher(metadataClient, clk), credential.SourceMetadata
		logger.Info("using metadata server credentials", "metadata_url", cfg.Credentials.MetadataURL)
	}

	resource, err := monitoredResource(ctx, cfg, metadataClient, projectID, clk, logger)
	if err != nil {
		closer()
		return nil, err
	}
	if projectID == "" {
		projectID = resource.Labels["project_id"]
	}
	if projectID == "" {
		closer()
		return nil, errors.New("no destination project: set destination.project_id or " + config.ProjectEnv)
	}

	client, err := stackdriver.New(stackdriver.Config{
		Endpoint:   cfg.Destination.Endpoint,
		ProjectID:  projectID,
		LogName:    cfg.Destination.LogName,
		Resource:   resource,
		Gzip:       cfg.Destination.Gzip,
		HTTPClient: httpClient,
		Clock:      clk,
	})
	if err != nil {
		closer()
		return nil, err
	}
	logger.Info("destination",
		"log", client.LogName(),
		"resource", resource.Type,
		"endpoint", cfg.Destination.Endpoint,
	)

	provider := credential.NewProvider(credential.ProviderConfig{
		Fetcher:       fetcher,
		RefreshMargin: cfg.RefreshMargin(),
		MaxAttempts:   cfg.Credentials.MaxAttempts,
		Backoff:       retryPolicy(cfg),
		Clock:         clk,
		Logger:        logger.With("component", "credential"),
	})
	return &destination{credentials: provider, client: client, source: source, close: closer}, nil
}

// monitoredResource resolves destination.resource. Auto follows the
// credential source: on GCE (metadata credentials) entries belong to
// the instance, elsewhere to the log itself.
func monitoredResource(ctx context.Context, cfg *config.Config, client *metadata.Client, projectID string, clk clock.Clock, logger *slog.Logger) (stackdriver.Resource, error) {
	kind := cfg.Destination.Resource
	if kind == config.ResourceAuto {
		kind = config.ResourceGCEInstance
		if cfg.Credentials.KeyFile != "" {
			kind = config.ResourceLoggingLog
		}
	}
	if kind == config.ResourceLoggingLog {
		if projectID == "" {
			discovered, err := discover(ctx, cfg, clk, logger, client.ProjectID)
			if err != nil {
				return stackdriver.Resource{}, fmt.Errorf("discovering project ID: %w", err)
			}
			projectID = discovered
		}
		return stackdriver.LogResource(projectID, cfg.Destination.LogName), nil
	}
	resource, err := discover(ctx, cfg, clk, logger, func(ctx context.Context) (stackdriver.Resource, error) {
		return stackdriver.DiscoverInstance(ctx, client, projectID)
	})
	if err != nil {
		return stackdriver.Resource{}, fmt.Errorf("resolving gce_instance resource: %w", err)
	}
	return resource, nil
}

// discover calls fetch until it succeeds, fails with anything other
// than a transient metadata error, or ctx ends. The metadata server
// is unreachable for a while after a GCE instance boots.
func discover[T any](ctx context.Context, cfg *config.Config, clk clock.Clock, logger *slog.Logger, fetch func(context.Context) (T, error)) (T, error) {
	retry := backoff.New(retryPolicy(cfg))
	for {
		value, err := fetch(ctx)
		var metadataErr *metadata.Error
		if err == nil || !errors.As(err, &metadataErr) || !metadataErr.Transient() {
			return value, err
		}
		delay := retry.Next(0)
		logger.Warn("metadata server not ready, retrying",
			"error", err,
			"attempt", retry.Attempts(),
			"backoff", delay,
		)
		if sleepErr := clock.Sleep(ctx, clk, delay); sleepErr != nil {
			return value, fmt.Errorf("%w: %w", sleepErr, err)
		}
	}
}

func retryPolicy(cfg *config.Config) backoff.Policy {
	return backoff.Policy{
		Initial:    cfg.RetryInitial(),
		Max:        cfg.RetryMax(),
		Multiplier: cfg.Retry.Multiplier,
	}
}

// openArchive opens the dead-letter archive, or returns nil when it is
// disabled.
func openArchive(cfg *config.Config, logName string, logger *slog.Logger) (*deadletter.Archive, error) {
	if !cfg.State.DeadLetter {
		return nil, nil
	}
	return deadletter.New(cfg.DeadLetterDirectory(), deadletter.Options{
		Compression: deadletter.Compression(cfg.State.DeadLetterCompression),
		LogName:     logName,
		Logger:      logger.With("component", "deadletter"),
	})
}
