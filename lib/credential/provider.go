// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package credential

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/bureau-foundation/journalrelay/lib/backoff"
	"github.com/bureau-foundation/journalrelay/lib/clock"
)

// DefaultRefreshMargin is the minimum remaining lifetime below which a
// cached token is refreshed.
const DefaultRefreshMargin = 60 * time.Second

// DefaultMaxAttempts bounds fetch attempts within one refresh.
const DefaultMaxAttempts = 5

// DefaultRefreshTimeout bounds one shared refresh, retries included.
const DefaultRefreshTimeout = 2 * time.Minute

// refreshFraction is the share of a token's lifetime that must remain
// for it to be served without a refresh.
const refreshFraction = 0.10

type cacheState int

const (
	stateEmpty cacheState = iota
	stateValid
	stateRefreshDue
	stateInvalidated
)

func (s cacheState) String() string {
	switch s {
	case stateEmpty:
		return "empty"
	case stateValid:
		return "valid"
	case stateRefreshDue:
		return "refresh_due"
	case stateInvalidated:
		return "invalidated"
	default:
		return "unknown"
	}
}

// ProviderConfig configures a Provider.
type ProviderConfig struct {
	Fetcher Fetcher

	// RefreshMargin is the minimum remaining lifetime for a token to
	// be served from cache. Zero means DefaultRefreshMargin.
	RefreshMargin time.Duration

	// MaxAttempts bounds fetch attempts per refresh. Zero means
	// DefaultMaxAttempts.
	MaxAttempts int

	// Backoff spaces retried fetches. The zero Policy means
	// backoff.DefaultPolicy.
	Backoff backoff.Policy

	// RefreshTimeout bounds a refresh independently of the callers
	// waiting on it. Zero means DefaultRefreshTimeout.
	RefreshTimeout time.Duration

	Clock  clock.Clock
	Logger *slog.Logger
}

// Provider is the single owner of the cached credential.
type Provider struct {
	fetcher        Fetcher
	refreshMargin  time.Duration
	maxAttempts    int
	backoffPolicy  backoff.Policy
	refreshTimeout time.Duration
	clock          clock.Clock
	logger         *slog.Logger

	mu          sync.Mutex
	cached      Credential
	invalidated bool
	refreshes   int

	group singleflight.Group
}

// NewProvider returns a Provider with an empty cache.
func NewProvider(config ProviderConfig) *Provider {
	if config.RefreshMargin <= 0 {
		config.RefreshMargin = DefaultRefreshMargin
	}
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = DefaultMaxAttempts
	}
	if config.Backoff == (backoff.Policy{}) {
		config.Backoff = backoff.DefaultPolicy
	}
	if config.RefreshTimeout <= 0 {
		config.RefreshTimeout = DefaultRefreshTimeout
	}
	if config.Clock == nil {
		config.Clock = clock.Real()
	}
	if config.Logger == nil {
		config.Logger = slog.New(slog.DiscardHandler)
	}
	return &Provider{
		fetcher:        config.Fetcher,
		refreshMargin:  config.RefreshMargin,
		maxAttempts:    config.MaxAttempts,
		backoffPolicy:  config.Backoff,
		refreshTimeout: config.RefreshTimeout,
		clock:          config.Clock,
		logger:         config.Logger,
	}
}

// state classifies the cache at now. Caller holds mu.
func (p *Provider) state(now time.Time) cacheState {
	switch {
	case p.cached.Token == "":
		return stateEmpty
	case p.invalidated:
		return stateInvalidated
	case p.cached.Remaining(now) < p.threshold(p.cached):
		return stateRefreshDue
	default:
		return stateValid
	}
}

// threshold is the remaining lifetime below which c must be refreshed.
func (p *Provider) threshold(c Credential) time.Duration {
	fraction := time.Duration(float64(c.Lifetime()) * refreshFraction)
	return max(fraction, p.refreshMargin)
}

// Token returns a credential that is valid now, refreshing first when
// the cache is empty, invalidated, or close to expiry.
//
// Concurrent callers share one refresh. It runs detached from every
// caller's cancellation, bounded by the refresh timeout; a caller
// whose ctx ends stops waiting without failing the others.
func (p *Provider) Token(ctx context.Context) (Credential, error) {
	p.mu.Lock()
	if p.state(p.clock.Now()) == stateValid {
		cached := p.cached
		p.mu.Unlock()
		return cached, nil
	}
	p.mu.Unlock()

	flight := p.group.DoChan("token", func() (any, error) {
		refreshCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.refreshTimeout)
		defer cancel()
		return p.refresh(refreshCtx)
	})
	select {
	case result := <-flight:
		if result.Err != nil {
			return Credential{}, result.Err
		}
		return result.Val.(Credential), nil
	case <-ctx.Done():
		return Credential{}, ctx.Err()
	}
}

// Invalidate marks the cached credential unusable. The next Token call
// refreshes regardless of the remaining lifetime.
func (p *Provider) Invalidate() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cached.Token != "" && !p.invalidated {
		p.invalidated = true
		p.logger.Info("credential invalidated", "source", p.cached.Source)
	}
}

// Refreshes returns the number of successful refreshes.
func (p *Provider) Refreshes() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.refreshes
}

func (p *Provider) refresh(ctx context.Context) (Credential, error) {
	// Another caller may have completed a refresh between our state
	// check and entering the flight.
	p.mu.Lock()
	previousState := p.state(p.clock.Now())
	if previousState == stateValid {
		cached := p.cached
		p.mu.Unlock()
		return cached, nil
	}
	p.mu.Unlock()

	retry := backoff.New(p.backoffPolicy)
	var lastErr error
attempts:
	for attempt := 1; attempt <= p.maxAttempts; attempt++ {
		fetched, err := p.fetcher.Fetch(ctx)
		if err == nil {
			p.mu.Lock()
			p.cached = fetched
			p.invalidated = false
			p.refreshes++
			p.mu.Unlock()
			p.logger.Debug("credential refreshed",
				"source", fetched.Source,
				"previous_state", previousState.String(),
				"expires_at", fetched.ExpiresAt,
			)
			return fetched, nil
		}
		lastErr = err
		if ctx.Err() != nil || !IsTransient(err) || attempt == p.maxAttempts {
			break attempts
		}
		delay := retry.Next(0)
		p.logger.Warn("credential fetch failed, retrying",
			"error", err,
			"attempt", attempt,
			"backoff", delay,
		)
		if err := clock.Sleep(ctx, p.clock, delay); err != nil {
			lastErr = err
			break attempts
		}
	}

	// A token that is due for refresh but not yet expired is still
	// usable; serve it rather than failing the caller.
	p.mu.Lock()
	defer p.mu.Unlock()
	now := p.clock.Now()
	if p.cached.Token != "" && !p.invalidated && !p.cached.Expired(now) {
		p.logger.Warn("credential refresh failed, serving cached token",
			"error", lastErr,
			"remaining", p.cached.Remaining(now),
		)
		return p.cached, nil
	}
	return Credential{}, fmt.Errorf("%w: %w", ErrRefreshFailed, lastErr)
}
