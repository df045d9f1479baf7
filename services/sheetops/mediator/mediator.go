// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package mediator is the composition root: it wires the cache,
// governor, compiler, snapshot store, and transaction coordinator
// behind a single Service facade.
//
// Callers declare intents; the service compiles them into the fewest
// safe remote calls, dispatches through governed admission, and keeps
// the cache coherent. Everything the service depends on is injected
// at construction; there is no ambient global state.
package mediator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/sheetops/services/sheetops/cache"
	"github.com/AleutianAI/sheetops/services/sheetops/compiler"
	"github.com/AleutianAI/sheetops/services/sheetops/govern"
	"github.com/AleutianAI/sheetops/services/sheetops/intent"
	"github.com/AleutianAI/sheetops/services/sheetops/remote"
	"github.com/AleutianAI/sheetops/services/sheetops/snapshot"
	"github.com/AleutianAI/sheetops/services/sheetops/transaction"
)

// ErrClosed is returned by every operation after Close.
var ErrClosed = errors.New("mediator: service closed")

// Config configures the Service and every component it constructs.
type Config struct {
	// CacheOptions configure the read cache.
	CacheOptions []cache.Option

	// Governor configures admission control. Zero values get the
	// governor's defaults.
	Governor govern.Config

	// Compiler configures batch compilation.
	Compiler compiler.Config

	// Dispatcher configures the governed dispatch path.
	Dispatcher DispatcherConfig

	// Transaction configures the coordinator.
	Transaction transaction.Config

	// SnapshotStore persists snapshots. Default: an in-memory store
	// owned (and closed) by the service.
	SnapshotStore snapshot.Store

	// MaxConcurrentResources bounds how many resources dispatch in
	// parallel during Submit. Default: 4.
	MaxConcurrentResources int

	// MetricsEnabled toggles OpenTelemetry metrics in all components.
	MetricsEnabled bool

	// TracingEnabled toggles OpenTelemetry spans around submit,
	// commit, and restore.
	TracingEnabled bool

	// Logger is the base logger. Default: slog.Default().
	Logger *slog.Logger
}

// SubmitResult is the outcome of one Submit call.
type SubmitResult struct {
	// Reads holds read values keyed by intent id, whether they came
	// from the cache, a staged write, or the remote.
	Reads map[string]remote.ValueRange

	// AppliedCalls is how many remote calls completed.
	AppliedCalls int

	// SnapshotIDs maps resource ids to snapshots captured for
	// intents that required one.
	SnapshotIDs map[string]string

	// Preview holds the compiled plan for dry-run intents.
	Preview *compiler.Preview

	// ResourceErrors maps resource ids to their compile or dispatch
	// failure. One resource's failure never blocks another's calls.
	ResourceErrors map[string]error
}

// Stats aggregates component statistics for operational visibility.
type Stats struct {
	Cache    cache.Stats
	Governor []govern.CategoryStats
}

// Service mediates between declared intents and the remote API.
//
// Thread Safety: All public methods are safe for concurrent use.
type Service struct {
	client      remote.Client
	cache       *cache.Manager
	governor    *govern.Governor
	compiler    *compiler.Compiler
	dispatcher  *Dispatcher
	store       snapshot.Store
	coordinator *transaction.Coordinator
	sem         *Semaphore
	logger      *slog.Logger
	tracer      *Tracer

	ownStore bool
	seq      atomic.Int64
	closed   atomic.Bool
}

// New wires a Service from its configuration.
//
// Inputs:
//   - client: Remote API client. Required.
//   - config: Service configuration; zero values get defaults.
//
// Outputs:
//   - *Service: Ready to use. Call Close when done.
//   - error: Non-nil if client is nil.
func New(client remote.Client, config Config) (*Service, error) {
	if client == nil {
		return nil, errors.New("mediator: client is required")
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.MaxConcurrentResources <= 0 {
		config.MaxConcurrentResources = 4
	}

	govern.SetMetricsEnabled(config.MetricsEnabled)
	transaction.SetMetricsEnabled(config.MetricsEnabled)

	logger := config.Logger.With("component", "mediator.Service")

	cacheManager := cache.NewManager(config.CacheOptions...)
	governor := govern.New(config.Governor)
	comp := compiler.New(cacheManager, config.Compiler)
	dispatcher := NewDispatcher(client, governor, cacheManager, config.Dispatcher)

	store := config.SnapshotStore
	ownStore := false
	if store == nil {
		store = snapshot.NewMemoryStore(0)
		ownStore = true
	}

	coordinator := transaction.NewCoordinator(comp, dispatcher, client, store, config.Transaction)

	return &Service{
		client:      client,
		cache:       cacheManager,
		governor:    governor,
		compiler:    comp,
		dispatcher:  dispatcher,
		store:       store,
		coordinator: coordinator,
		sem:         NewSemaphore(config.MaxConcurrentResources),
		logger:      logger,
		tracer:      NewTracer(logger, config.TracingEnabled),
		ownStore:    ownStore,
	}, nil
}

// Close stops the coordinator and releases the snapshot store when
// the service owns it. Safe to call once; operations after Close
// return ErrClosed.
func (s *Service) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	s.coordinator.Close()
	if s.ownStore {
		return s.store.Close()
	}
	return nil
}

// Submit executes standalone intents and routes transaction-bound
// ones into their transaction's queue.
//
// Dry-run intents are compiled into the result's Preview and never
// dispatched. Standalone intents compile per resource and dispatch
// concurrently, bounded by MaxConcurrentResources; one resource's
// failure is reported in ResourceErrors without blocking the others.
//
// Outputs:
//   - SubmitResult: Read values, applied calls, previews, and
//     per-resource failures.
//   - error: Joined per-resource failures, or a routing error. The
//     result stays valid alongside a non-nil error.
func (s *Service) Submit(ctx context.Context, intents []intent.Intent) (result SubmitResult, err error) {
	result = SubmitResult{
		Reads:          make(map[string]remote.ValueRange),
		SnapshotIDs:    make(map[string]string),
		ResourceErrors: make(map[string]error),
	}
	if s.closed.Load() {
		return result, ErrClosed
	}

	ctx, span := s.tracer.StartSubmit(ctx, len(intents))
	defer func() { s.tracer.EndSubmit(span, result, err) }()
	logger := LoggerWithTrace(ctx, s.logger)

	var immediate, dry []intent.Intent
	byTxn := make(map[string][]intent.Intent)
	for _, in := range intents {
		switch {
		case in.Safety.TransactionID != "":
			byTxn[in.Safety.TransactionID] = append(byTxn[in.Safety.TransactionID], in)
		case in.Safety.DryRun:
			in.Seq = int(s.seq.Add(1))
			dry = append(dry, in)
		default:
			in.Seq = int(s.seq.Add(1))
			immediate = append(immediate, in)
		}
	}

	for txID, queued := range byTxn {
		if qErr := s.coordinator.Queue(txID, queued...); qErr != nil {
			return result, fmt.Errorf("queue %d intents on transaction %s: %w", len(queued), txID, qErr)
		}
	}

	if len(dry) > 0 {
		preview := s.compiler.Preview(dry)
		result.Preview = &preview
	}
	if len(immediate) == 0 {
		return result, nil
	}

	plans, failures := s.compiler.Compile(immediate)
	for _, f := range failures {
		result.ResourceErrors[f.SpreadsheetID] = f
	}

	if err := s.captureRequested(ctx, immediate, &result); err != nil {
		return result, err
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	for _, plan := range plans {
		wg.Add(1)
		go func(p compiler.Plan) {
			defer wg.Done()
			if acqErr := s.sem.Acquire(ctx); acqErr != nil {
				mu.Lock()
				result.ResourceErrors[p.SpreadsheetID] = acqErr
				mu.Unlock()
				return
			}
			defer s.sem.Release()

			planResult, dispatchErr := s.dispatcher.DispatchPlan(ctx, p)
			mu.Lock()
			defer mu.Unlock()
			for id, vr := range planResult.Reads {
				result.Reads[id] = vr
			}
			result.AppliedCalls += planResult.AppliedCalls
			if dispatchErr != nil {
				result.ResourceErrors[p.SpreadsheetID] = dispatchErr
			}
		}(plan)
	}
	wg.Wait()

	if len(result.ResourceErrors) > 0 {
		errs := make([]error, 0, len(result.ResourceErrors))
		for id, resErr := range result.ResourceErrors {
			errs = append(errs, fmt.Errorf("%s: %w", id, resErr))
		}
		err = errors.Join(errs...)
		logger.Warn("submit finished with resource errors",
			"resources", len(result.ResourceErrors),
			"applied_calls", result.AppliedCalls,
		)
		return result, err
	}

	logger.Debug("submit complete",
		"intents", len(intents),
		"applied_calls", result.AppliedCalls,
		"reads", len(result.Reads),
	)
	return result, nil
}

// captureRequested snapshots every resource a RequireSnapshot intent
// mutates, before any dispatch. Captures run concurrently; any
// failure aborts the submit before the remote is touched.
func (s *Service) captureRequested(ctx context.Context, intents []intent.Intent, result *SubmitResult) error {
	need := make(map[string]bool)
	for _, in := range intents {
		if in.Safety.RequireSnapshot && in.Mutates() {
			need[in.Target.SpreadsheetID] = true
		}
	}
	if len(need) == 0 {
		return nil
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	for id := range need {
		g.Go(func() error {
			snap, err := snapshot.Capture(gctx, s.client, id, "")
			if err != nil {
				return fmt.Errorf("snapshot %s: %w", id, err)
			}
			if err := s.store.Save(gctx, snap); err != nil {
				return fmt.Errorf("save snapshot %s: %w", id, err)
			}
			mu.Lock()
			result.SnapshotIDs[id] = snap.ID
			mu.Unlock()
			return nil
		})
	}
	return g.Wait()
}

// Preview compiles intents without any remote effect.
func (s *Service) Preview(ctx context.Context, intents []intent.Intent) (compiler.Preview, error) {
	if s.closed.Load() {
		return compiler.Preview{}, ErrClosed
	}
	seqd := make([]intent.Intent, len(intents))
	for i, in := range intents {
		in.Seq = int(s.seq.Add(1))
		seqd[i] = in
	}
	return s.compiler.Preview(seqd), nil
}

// Begin opens a transaction.
func (s *Service) Begin(ctx context.Context, opts transaction.BeginOptions) (string, error) {
	if s.closed.Load() {
		return "", ErrClosed
	}
	return s.coordinator.Begin(ctx, opts)
}

// Queue appends intents to a pending transaction.
func (s *Service) Queue(transactionID string, intents ...intent.Intent) error {
	if s.closed.Load() {
		return ErrClosed
	}
	return s.coordinator.Queue(transactionID, intents...)
}

// Commit applies a transaction's queued intents atomically.
func (s *Service) Commit(ctx context.Context, transactionID string) (result transaction.Result, err error) {
	if s.closed.Load() {
		return transaction.Result{}, ErrClosed
	}
	ctx, span := s.tracer.StartCommit(ctx, transactionID)
	defer func() { s.tracer.EndCommit(span, string(result.Status), err) }()
	return s.coordinator.Commit(ctx, transactionID)
}

// Rollback discards a pending transaction.
func (s *Service) Rollback(transactionID, reason string) (transaction.Result, error) {
	if s.closed.Load() {
		return transaction.Result{}, ErrClosed
	}
	return s.coordinator.Rollback(transactionID, reason)
}

// Transaction returns a transaction's visible state.
func (s *Service) Transaction(transactionID string) (transaction.Info, error) {
	if s.closed.Load() {
		return transaction.Info{}, ErrClosed
	}
	return s.coordinator.Get(transactionID)
}

// CreateSnapshot captures and persists a resource's current state.
func (s *Service) CreateSnapshot(ctx context.Context, spreadsheetID string) (snapshot.Meta, error) {
	if s.closed.Load() {
		return snapshot.Meta{}, ErrClosed
	}
	snap, err := snapshot.Capture(ctx, s.client, spreadsheetID, "")
	if err != nil {
		return snapshot.Meta{}, fmt.Errorf("capture %s: %w", spreadsheetID, err)
	}
	if err := s.store.Save(ctx, snap); err != nil {
		return snapshot.Meta{}, fmt.Errorf("save snapshot %s: %w", snap.ID, err)
	}
	metas, err := s.store.List(ctx, spreadsheetID)
	if err != nil || len(metas) == 0 {
		return snapshot.Meta{ID: snap.ID, SpreadsheetID: spreadsheetID, CreatedAt: snap.CreatedAt}, nil
	}
	return metas[0], nil
}

// Snapshots lists a resource's snapshots, newest first.
func (s *Service) Snapshots(ctx context.Context, spreadsheetID string) ([]snapshot.Meta, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	return s.store.List(ctx, spreadsheetID)
}

// DeleteSnapshot removes a snapshot. Absent ids are a no-op.
func (s *Service) DeleteSnapshot(ctx context.Context, snapshotID string) error {
	if s.closed.Load() {
		return ErrClosed
	}
	return s.store.Delete(ctx, snapshotID)
}

// RestoreSnapshot brings a resource back to a captured state. The
// restore writes dispatch through the same governed path as any
// other mutation and invalidates the cache as it completes.
func (s *Service) RestoreSnapshot(ctx context.Context, snapshotID string) (err error) {
	if s.closed.Load() {
		return ErrClosed
	}
	ctx, span := s.tracer.StartRestore(ctx, snapshotID)
	defer func() { s.tracer.EndRestore(span, err) }()

	snap, err := s.store.Get(ctx, snapshotID)
	if err != nil {
		return err
	}
	current, err := s.client.Export(ctx, snap.SpreadsheetID)
	if err != nil {
		return fmt.Errorf("restore %s: export current state: %w", snap.SpreadsheetID, err)
	}
	for _, call := range snapshot.RestoreCalls(current, snap) {
		if err := s.dispatcher.Execute(ctx, call); err != nil {
			return fmt.Errorf("restore %s: %w", snap.SpreadsheetID, err)
		}
	}
	s.logger.Info("snapshot restored",
		"snapshot_id", snapshotID,
		"spreadsheet_id", snap.SpreadsheetID,
	)
	return nil
}

// Stats reports cache and governor statistics.
func (s *Service) Stats() Stats {
	return Stats{
		Cache:    s.cache.Stats(),
		Governor: s.governor.Stats(),
	}
}
