// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package mediator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/AleutianAI/sheetops/services/sheetops/cache"
	"github.com/AleutianAI/sheetops/services/sheetops/compiler"
	"github.com/AleutianAI/sheetops/services/sheetops/govern"
	"github.com/AleutianAI/sheetops/services/sheetops/intent"
	"github.com/AleutianAI/sheetops/services/sheetops/remote"
)

// DispatcherConfig configures the governed dispatch path.
type DispatcherConfig struct {
	// MaxAttempts bounds retries per call, first try included.
	// Default: 4.
	MaxAttempts int

	// RetryBase is the first retry delay; it doubles per attempt.
	// Default: 250ms.
	RetryBase time.Duration

	// RetryMax caps the retry delay. Default: 5s.
	RetryMax time.Duration

	// JitterFactor randomizes retry delays to avoid thundering herd.
	// Default: 0.2.
	JitterFactor float64

	// Logger for dispatch events. Default: slog.Default().
	Logger *slog.Logger
}

// DefaultDispatcherConfig returns production defaults.
func DefaultDispatcherConfig() DispatcherConfig {
	return DispatcherConfig{
		MaxAttempts:  4,
		RetryBase:    250 * time.Millisecond,
		RetryMax:     5 * time.Second,
		JitterFactor: 0.2,
	}
}

// Dispatcher executes compiled calls through the governor: every
// remote call is admitted first, its outcome recorded after, and
// transient or rate-limited failures retried with capped exponential
// backoff. Read results populate the cache; completed writes
// invalidate the ranges they touched.
//
// Thread Safety: Safe for concurrent use.
type Dispatcher struct {
	client   remote.Client
	governor *govern.Governor
	cache    *cache.Manager
	config   DispatcherConfig
	logger   *slog.Logger
}

// NewDispatcher creates a Dispatcher.
//
// Inputs:
//   - client: Remote API client.
//   - governor: Admission gate. Required.
//   - cacheManager: Read cache kept coherent by dispatch. May be nil.
//   - config: Dispatch configuration; zero values get defaults.
func NewDispatcher(client remote.Client, governor *govern.Governor, cacheManager *cache.Manager, config DispatcherConfig) *Dispatcher {
	def := DefaultDispatcherConfig()
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = def.MaxAttempts
	}
	if config.RetryBase <= 0 {
		config.RetryBase = def.RetryBase
	}
	if config.RetryMax <= 0 {
		config.RetryMax = def.RetryMax
	}
	if config.JitterFactor == 0 {
		config.JitterFactor = def.JitterFactor
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &Dispatcher{
		client:   client,
		governor: governor,
		cache:    cacheManager,
		config:   config,
		logger:   config.Logger.With("component", "mediator.Dispatcher"),
	}
}

// Execute implements transaction.Executor.
func (d *Dispatcher) Execute(ctx context.Context, call compiler.Call) error {
	_, err := d.execute(ctx, call)
	return err
}

// PlanResult is the outcome of dispatching one resource's plan.
type PlanResult struct {
	// Reads holds read values keyed by intent id, including cache and
	// staged-write hits resolved at compile time.
	Reads map[string]remote.ValueRange

	// AppliedCalls is how many remote calls completed.
	AppliedCalls int
}

// DispatchPlan runs one resource's calls in plan order.
//
// Outputs:
//   - PlanResult: Read values and applied call count; on error the
//     result covers the calls that completed before the failure.
//   - error: The first dispatch failure.
func (d *Dispatcher) DispatchPlan(ctx context.Context, plan compiler.Plan) (PlanResult, error) {
	result := PlanResult{Reads: make(map[string]remote.ValueRange)}
	for _, cr := range plan.CachedReads {
		result.Reads[cr.IntentID] = cr.Value
	}
	for _, sr := range plan.StagedReads {
		result.Reads[sr.IntentID] = sr.Value
	}

	for _, call := range plan.Calls {
		vr, err := d.execute(ctx, call)
		if err != nil {
			return result, err
		}
		result.AppliedCalls++
		if call.Kind == compiler.CallRead {
			for _, id := range call.IntentIDs {
				result.Reads[id] = vr
			}
		}
	}
	return result, nil
}

// execute admits, performs, and records one call, retrying transient
// and rate-limited failures up to MaxAttempts.
func (d *Dispatcher) execute(ctx context.Context, call compiler.Call) (remote.ValueRange, error) {
	category := call.Category()
	backoff := d.config.RetryBase

	var lastErr error
	for attempt := 1; attempt <= d.config.MaxAttempts; attempt++ {
		if err := d.governor.Admit(ctx, category); err != nil {
			return remote.ValueRange{}, err
		}

		vr, err := d.perform(ctx, call)
		if err == nil {
			d.governor.Record(category, govern.OutcomeSuccess)
			return vr, nil
		}
		lastErr = err

		switch remote.Classify(err) {
		case remote.ClassRateLimited:
			d.governor.Record(category, govern.OutcomeRateLimited)
		case remote.ClassTransient:
			d.governor.Record(category, govern.OutcomeFailure)
		default:
			// Permanent failures say nothing about remote health; the
			// breaker does not count them and retrying cannot help.
			return remote.ValueRange{}, err
		}

		if attempt == d.config.MaxAttempts {
			break
		}

		wait := d.jittered(backoff)
		var rerr *remote.Error
		if errors.As(err, &rerr) && rerr.RetryAfter > wait {
			wait = rerr.RetryAfter
		}
		d.logger.Debug("retrying dispatch",
			"category", category,
			"spreadsheet_id", call.SpreadsheetID,
			"attempt", attempt,
			"wait", wait,
			"error", err,
		)
		select {
		case <-ctx.Done():
			return remote.ValueRange{}, ctx.Err()
		case <-time.After(wait):
		}
		backoff = min(backoff*2, d.config.RetryMax)
	}

	if remote.Classify(lastErr) == remote.ClassRateLimited {
		var rerr *remote.Error
		var retryAfter time.Duration
		if errors.As(lastErr, &rerr) {
			retryAfter = rerr.RetryAfter
		}
		return remote.ValueRange{}, &intent.RateLimitedError{
			Category:   category,
			Attempts:   d.config.MaxAttempts,
			RetryAfter: retryAfter,
		}
	}
	return remote.ValueRange{}, fmt.Errorf("dispatch %s to %s failed after %d attempts: %w",
		category, call.SpreadsheetID, d.config.MaxAttempts, lastErr)
}

// perform issues the remote call and keeps the cache coherent. Cache
// invalidation happens only after the write fully completes.
func (d *Dispatcher) perform(ctx context.Context, call compiler.Call) (remote.ValueRange, error) {
	if call.Kind == compiler.CallRead {
		vr, etag, err := d.client.Read(ctx, call.SpreadsheetID, call.ReadRange, "")
		if err != nil {
			return remote.ValueRange{}, err
		}
		if d.cache != nil {
			d.cache.Put(call.SpreadsheetID, call.ReadRange, vr, etag, nil)
		}
		return vr, nil
	}

	if _, err := d.client.WriteBatch(ctx, call.SpreadsheetID, call.Ops); err != nil {
		return remote.ValueRange{}, err
	}
	if d.cache != nil {
		if call.Structural {
			d.cache.InvalidateResource(call.SpreadsheetID)
		} else {
			for _, rng := range call.AffectedRanges {
				d.cache.Invalidate(call.SpreadsheetID, rng)
			}
		}
	}
	return remote.ValueRange{}, nil
}

// jittered spreads the delay by +/- JitterFactor.
func (d *Dispatcher) jittered(delay time.Duration) time.Duration {
	if d.config.JitterFactor <= 0 {
		return delay
	}
	jitter := (rand.Float64()*2 - 1) * d.config.JitterFactor
	return time.Duration(float64(delay) * (1 + jitter))
}
