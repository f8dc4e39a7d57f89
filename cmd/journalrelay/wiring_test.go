// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bureau-foundation/journalrelay/lib/clock"
	"github.com/bureau-foundation/journalrelay/lib/config"
	"github.com/bureau-foundation/journalrelay/lib/metadata"
	"github.com/bureau-foundation/journalrelay/lib/stackdriver"
	"github.com/bureau-foundation/journalrelay/lib/testutil"
)

// bootingMetadataServer answers 503 to the first unavailable requests,
// then serves a GCE instance identity.
func bootingMetadataServer(t *testing.T, unavailable int32) (*metadata.Client, *atomic.Int32) {
	t.Helper()
	var requests atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if requests.Add(1) <= unavailable {
			http.Error(w, "metadata server starting", http.StatusServiceUnavailable)
			return
		}
		switch r.URL.Path {
		case "/computeMetadata/v1/project/project-id":
			fmt.Fprint(w, "example-project")
		case "/computeMetadata/v1/instance/id":
			fmt.Fprint(w, "4520031799277581759")
		case "/computeMetadata/v1/instance/zone":
			fmt.Fprint(w, "projects/123456789/zones/europe-west1-b")
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(server.Close)
	return metadata.NewClient(server.URL, server.Client()), &requests
}

func TestMonitoredResourceRetriesWhileMetadataStarts(t *testing.T) {
	client, requests := bootingMetadataServer(t, 2)
	cfg := config.Default()
	fake := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))

	type result struct {
		resource stackdriver.Resource
		err      error
	}
	done := make(chan result, 1)
	go func() {
		resource, err := monitoredResource(context.Background(), cfg, client, "", fake, slog.New(slog.DiscardHandler))
		done <- result{resource, err}
	}()

	for range 2 {
		fake.WaitForTimers(1)
		fake.Advance(cfg.RetryMax())
	}
	got := testutil.RequireReceive[result](t, done, 5*time.Second, "monitoredResource")
	if got.err != nil {
		t.Fatalf("monitoredResource: %v", got.err)
	}
	want := stackdriver.GCEInstance("example-project", "4520031799277581759", "europe-west1-b")
	if got.resource.Type != want.Type || !maps.Equal(got.resource.Labels, want.Labels) {
		t.Errorf("resource = %+v, want %+v", got.resource, want)
	}
	// Two refused project lookups, then project, instance and zone.
	if n := requests.Load(); n != 5 {
		t.Errorf("metadata requests = %d, want 5", n)
	}
}

func TestMonitoredResourceStopsOnPermanentError(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	t.Cleanup(server.Close)
	client := metadata.NewClient(server.URL, server.Client())

	cfg := config.Default()
	cfg.Credentials.KeyFile = "/etc/journalrelay/key.json"
	fake := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	_, err := monitoredResource(context.Background(), cfg, client, "", fake, slog.New(slog.DiscardHandler))
	var metadataErr *metadata.Error
	if !errors.As(err, &metadataErr) || metadataErr.StatusCode != http.StatusNotFound {
		t.Fatalf("monitoredResource error = %v, want a 404 *metadata.Error", err)
	}
	if fake.PendingCount() != 0 {
		t.Error("a permanent metadata error should not schedule a retry")
	}
}

func TestMonitoredResourceGivesUpWhenCancelled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "metadata server starting", http.StatusServiceUnavailable)
	}))
	t.Cleanup(server.Close)
	client := metadata.NewClient(server.URL, server.Client())

	ctx, cancel := context.WithCancel(context.Background())
	fake := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	done := make(chan error, 1)
	go func() {
		_, err := monitoredResource(ctx, config.Default(), client, "", fake, slog.New(slog.DiscardHandler))
		done <- err
	}()

	fake.WaitForTimers(1)
	cancel()
	err := testutil.RequireReceive[error](t, done, 5*time.Second, "monitoredResource after cancel")
	if !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v, want context.Canceled", err)
	}
}
