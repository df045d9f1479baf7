// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package transaction

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/AleutianAI/sheetops/services/sheetops/compiler"
	"github.com/AleutianAI/sheetops/services/sheetops/intent"
	"github.com/AleutianAI/sheetops/services/sheetops/remote"
	"github.com/AleutianAI/sheetops/services/sheetops/snapshot"
)

// ErrNotFound is returned for unknown transaction ids.
var ErrNotFound = errors.New("transaction: not found")

// Executor dispatches one compiled call through the governed remote
// path. The mediator's dispatcher implements it; the coordinator never
// talks to the remote directly except to capture snapshots.
type Executor interface {
	Execute(ctx context.Context, call compiler.Call) error
}

// Config configures the Coordinator.
type Config struct {
	// TTL is how long a pending transaction may live before the
	// sweeper rolls it back. Default: 30 minutes.
	TTL time.Duration

	// SweepInterval is how often expired transactions are collected.
	// Default: 1 minute. Zero disables the sweeper.
	SweepInterval time.Duration

	// Logger for lifecycle events. Default: slog.Default().
	Logger *slog.Logger

	// Clock overrides time.Now for tests.
	Clock func() time.Time
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		TTL:           30 * time.Minute,
		SweepInterval: time.Minute,
	}
}

// BeginOptions control transaction creation.
type BeginOptions struct {
	// RequireSnapshot captures snapshots eagerly at Begin for the
	// listed resources. Commit captures any missing ones regardless.
	RequireSnapshot bool

	// SpreadsheetIDs are the resources to snapshot at Begin. Ignored
	// unless RequireSnapshot is set.
	SpreadsheetIDs []string

	// TTL overrides the configured transaction TTL when positive.
	TTL time.Duration
}

// Coordinator manages transaction lifecycles.
//
// Thread Safety: All public methods are safe for concurrent use.
// Commits against disjoint resources run concurrently; commits
// touching a common resource serialize on per-resource locks.
type Coordinator struct {
	compiler *compiler.Compiler
	exec     Executor
	client   remote.Client
	store    snapshot.Store
	config   Config
	logger   *slog.Logger
	clock    func() time.Time

	mu   sync.Mutex
	txns map[string]*tx
	seq  int

	resourceMu sync.Mutex
	resources  map[string]*sync.Mutex

	stopSweep chan struct{}
	sweepDone chan struct{}
	closeOnce sync.Once
}

// NewCoordinator creates a Coordinator and starts its expiry sweeper.
//
// Inputs:
//   - comp: Compiler for commit-time plan construction.
//   - exec: Governed dispatch path for compiled calls.
//   - client: Remote client, used only for snapshot capture.
//   - store: Snapshot persistence.
//   - config: Coordinator configuration; zero values get defaults.
//
// Outputs:
//   - *Coordinator: Ready to use. Call Close when done.
func NewCoordinator(comp *compiler.Compiler, exec Executor, client remote.Client, store snapshot.Store, config Config) *Coordinator {
	if config.TTL <= 0 {
		config.TTL = 30 * time.Minute
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.Clock == nil {
		config.Clock = time.Now
	}

	c := &Coordinator{
		compiler:  comp,
		exec:      exec,
		client:    client,
		store:     store,
		config:    config,
		logger:    config.Logger.With("component", "transaction.Coordinator"),
		clock:     config.Clock,
		txns:      make(map[string]*tx),
		resources: make(map[string]*sync.Mutex),
		stopSweep: make(chan struct{}),
		sweepDone: make(chan struct{}),
	}
	if config.SweepInterval > 0 {
		go c.sweepLoop()
	} else {
		close(c.sweepDone)
	}
	return c
}

// Close stops the expiry sweeper. Pending transactions stay pending.
func (c *Coordinator) Close() {
	c.closeOnce.Do(func() {
		close(c.stopSweep)
	})
	<-c.sweepDone
}

// Begin creates a pending transaction.
//
// Outputs:
//   - string: The new transaction id.
//   - error: Non-nil if an eager snapshot capture fails; no
//     transaction is registered in that case.
func (c *Coordinator) Begin(ctx context.Context, opts BeginOptions) (string, error) {
	ttl := c.config.TTL
	if opts.TTL > 0 {
		ttl = opts.TTL
	}
	now := c.clock()
	t := &tx{
		id:          uuid.NewString(),
		status:      StatusPending,
		startedAt:   now,
		expiresAt:   now.Add(ttl),
		snapshotIDs: make(map[string]string),
	}

	if opts.RequireSnapshot {
		for _, id := range opts.SpreadsheetIDs {
			snap, err := snapshot.Capture(ctx, c.client, id, t.id)
			if err != nil {
				return "", fmt.Errorf("begin: snapshot %s: %w", id, err)
			}
			if err := c.store.Save(ctx, snap); err != nil {
				return "", fmt.Errorf("begin: save snapshot %s: %w", id, err)
			}
			t.snapshotIDs[id] = snap.ID
		}
	}

	c.mu.Lock()
	c.txns[t.id] = t
	c.mu.Unlock()

	c.logger.Info("transaction started",
		"tx_id", t.id,
		"expires_at", t.expiresAt.Format(time.RFC3339),
		"eager_snapshots", len(t.snapshotIDs),
	)
	return t.id, nil
}

// Queue appends intents to a pending transaction, assigning their
// submission order.
//
// Outputs:
//   - error: ErrNotFound for unknown ids; wraps
//     intent.ErrInvalidState when the transaction is not pending.
func (c *Coordinator) Queue(transactionID string, intents ...intent.Intent) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	t, ok := c.txns[transactionID]
	if !ok {
		return ErrNotFound
	}
	if t.status != StatusPending {
		return fmt.Errorf("queue on %s transaction %s: %w", t.status, transactionID, intent.ErrInvalidState)
	}
	if c.clock().After(t.expiresAt) {
		c.expireLocked(t)
		return fmt.Errorf("queue on expired transaction %s: %w", transactionID, intent.ErrInvalidState)
	}

	for _, in := range intents {
		c.seq++
		in.Seq = c.seq
		t.intents = append(t.intents, in)
	}
	return nil
}

// Get returns the visible state of a transaction.
func (c *Coordinator) Get(transactionID string) (Info, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	t, ok := c.txns[transactionID]
	if !ok {
		return Info{}, ErrNotFound
	}
	return t.info(), nil
}

// Rollback discards a pending transaction's queue. Nothing was
// dispatched, so there is nothing to compensate.
func (c *Coordinator) Rollback(transactionID, reason string) (Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	t, ok := c.txns[transactionID]
	if !ok {
		return Result{}, ErrNotFound
	}
	if t.status != StatusPending {
		return Result{}, fmt.Errorf("rollback on %s transaction %s: %w", t.status, transactionID, intent.ErrInvalidState)
	}

	t.status = StatusRolledBack
	t.rollbackReason = reason
	t.intents = nil
	recordResolution(string(StatusRolledBack))
	c.logger.Info("transaction rolled back", "tx_id", transactionID, "reason", reason)
	return Result{
		TransactionID: transactionID,
		Status:        StatusRolledBack,
		Duration:      c.clock().Sub(t.startedAt),
		SnapshotIDs:   t.info().SnapshotIDs,
	}, nil
}

// Commit compiles the queued intents and applies every compiled call,
// or none.
//
// A compile conflict aborts before any dispatch. A dispatch failure
// after partial application restores the touched resources from their
// pre-commit snapshots; compensation runs on a background context so
// a cancelled caller cannot strand partial state.
//
// Outputs:
//   - Result: Terminal state, duration, applied call count.
//   - error: Compile failures joined; *intent.TransactionAbortedError
//     when compensated; *intent.TransactionFailedError when
//     compensation failed.
func (c *Coordinator) Commit(ctx context.Context, transactionID string) (Result, error) {
	c.mu.Lock()
	t, ok := c.txns[transactionID]
	if !ok {
		c.mu.Unlock()
		return Result{}, ErrNotFound
	}
	if t.status != StatusPending {
		status := t.status
		c.mu.Unlock()
		return Result{}, fmt.Errorf("commit on %s transaction %s: %w", status, transactionID, intent.ErrInvalidState)
	}
	if c.clock().After(t.expiresAt) {
		c.expireLocked(t)
		c.mu.Unlock()
		return Result{}, fmt.Errorf("commit on expired transaction %s: %w", transactionID, intent.ErrInvalidState)
	}
	t.status = StatusCommitting
	queued := append([]intent.Intent(nil), t.intents...)
	c.mu.Unlock()

	result, err := c.commit(ctx, t, queued)

	c.mu.Lock()
	t.status = result.Status
	if result.Status == StatusRolledBack && err != nil {
		t.rollbackReason = err.Error()
	}
	c.mu.Unlock()

	recordResolution(string(result.Status))
	return result, err
}

func (c *Coordinator) commit(ctx context.Context, t *tx, queued []intent.Intent) (Result, error) {
	started := c.clock()
	result := Result{TransactionID: t.id, SnapshotIDs: map[string]string{}}
	finish := func(status Status) Result {
		result.Status = status
		result.Duration = c.clock().Sub(started)
		return result
	}

	plans, failures := c.compiler.Compile(queued)
	if len(failures) > 0 {
		// Conflicts abort the whole transaction before any dispatch.
		errs := make([]error, len(failures))
		for i, f := range failures {
			errs[i] = f
		}
		return finish(StatusRolledBack), errors.Join(errs...)
	}

	resources := make([]string, 0, len(plans))
	for _, p := range plans {
		resources = append(resources, p.SpreadsheetID)
	}
	unlock := c.lockResources(resources)
	defer unlock()

	// Every mutated resource gets a pre-commit snapshot so partial
	// failure is always compensable.
	for _, p := range plans {
		if _, ok := t.snapshotIDs[p.SpreadsheetID]; ok {
			result.SnapshotIDs[p.SpreadsheetID] = t.snapshotIDs[p.SpreadsheetID]
			continue
		}
		if !planMutates(p) {
			continue
		}
		snap, err := snapshot.Capture(ctx, c.client, p.SpreadsheetID, t.id)
		if err != nil {
			return finish(StatusRolledBack), fmt.Errorf("commit: snapshot %s: %w", p.SpreadsheetID, err)
		}
		if err := c.store.Save(ctx, snap); err != nil {
			return finish(StatusRolledBack), fmt.Errorf("commit: save snapshot %s: %w", p.SpreadsheetID, err)
		}
		c.mu.Lock()
		t.snapshotIDs[p.SpreadsheetID] = snap.ID
		c.mu.Unlock()
		result.SnapshotIDs[p.SpreadsheetID] = snap.ID
	}

	applied := make(map[string]bool) // resources with at least one applied mutation
	var lastCall string
	for _, p := range plans {
		for _, call := range p.Calls {
			if err := c.exec.Execute(ctx, call); err != nil {
				return c.compensate(t, result, finish, applied, err, lastCall)
			}
			result.AppliedCalls++
			lastCall = describeCall(call)
			if call.Mutates() {
				applied[p.SpreadsheetID] = true
			}
		}
	}

	c.logger.Info("transaction committed",
		"tx_id", t.id,
		"calls", result.AppliedCalls,
		"resources", len(plans),
	)
	return finish(StatusCommitted), nil
}

// compensate restores every resource with applied mutations from its
// pre-commit snapshot.
func (c *Coordinator) compensate(t *tx, result Result, finish func(Status) Result, applied map[string]bool, cause error, lastCall string) (Result, error) {
	if len(applied) == 0 {
		// Nothing mutated; the remote is untouched.
		return finish(StatusRolledBack), &intent.TransactionAbortedError{
			TransactionID: t.id,
			Cause:         cause,
		}
	}

	c.logger.Warn("commit failed after partial application, compensating",
		"tx_id", t.id,
		"applied_calls", result.AppliedCalls,
		"resources", len(applied),
		"error", cause,
	)

	// Compensation must complete even if the caller's context died.
	bgCtx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	ids := make([]string, 0, len(applied))
	for id := range applied {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		snapID := t.snapshotIDs[id]
		snap, err := c.store.Get(bgCtx, snapID)
		if err == nil {
			err = c.restore(bgCtx, snap)
		}
		if err != nil {
			c.logger.Error("compensation failed, manual recovery required",
				"tx_id", t.id,
				"spreadsheet_id", id,
				"snapshot_id", snapID,
				"error", err,
			)
			return finish(StatusFailed), &intent.TransactionFailedError{
				TransactionID:   t.id,
				SnapshotID:      snapID,
				Cause:           cause,
				CompensationErr: err,
				LastAppliedCall: lastCall,
			}
		}
	}

	c.logger.Info("transaction compensated", "tx_id", t.id, "resources", len(ids))
	return finish(StatusRolledBack), &intent.TransactionAbortedError{
		TransactionID: t.id,
		AppliedCalls:  result.AppliedCalls,
		Cause:         cause,
	}
}

// restore replays a snapshot through the governed dispatch path.
func (c *Coordinator) restore(ctx context.Context, snap snapshot.Snapshot) error {
	current, err := c.client.Export(ctx, snap.SpreadsheetID)
	if err != nil {
		return fmt.Errorf("restore: export current state: %w", err)
	}
	for _, call := range snapshot.RestoreCalls(current, snap) {
		if err := c.exec.Execute(ctx, call); err != nil {
			return fmt.Errorf("restore %s: %w", snap.SpreadsheetID, err)
		}
	}
	return nil
}

// lockResources serializes commits per resource, acquiring locks in
// sorted order so overlapping commits cannot deadlock.
func (c *Coordinator) lockResources(ids []string) (unlock func()) {
	sorted := append([]string(nil), ids...)
	sort.Strings(sorted)

	locks := make([]*sync.Mutex, 0, len(sorted))
	for _, id := range sorted {
		c.resourceMu.Lock()
		m, ok := c.resources[id]
		if !ok {
			m = &sync.Mutex{}
			c.resources[id] = m
		}
		c.resourceMu.Unlock()
		m.Lock()
		locks = append(locks, m)
	}
	return func() {
		for i := len(locks) - 1; i >= 0; i-- {
			locks[i].Unlock()
		}
	}
}

func planMutates(p compiler.Plan) bool {
	for _, call := range p.Calls {
		if call.Mutates() {
			return true
		}
	}
	return false
}

func describeCall(call compiler.Call) string {
	if call.Kind == compiler.CallRead {
		return fmt.Sprintf("read %s %s", call.SpreadsheetID, call.ReadRange)
	}
	return fmt.Sprintf("write %s (%d ops)", call.SpreadsheetID, len(call.Ops))
}

// expireLocked rolls back an expired pending transaction. Caller
// holds c.mu.
func (c *Coordinator) expireLocked(t *tx) {
	t.status = StatusRolledBack
	t.rollbackReason = "expired"
	t.intents = nil
	recordExpiration()
	c.logger.Warn("transaction expired",
		"tx_id", t.id,
		"started_at", t.startedAt.Format(time.RFC3339),
	)
}

func (c *Coordinator) sweepLoop() {
	defer close(c.sweepDone)
	ticker := time.NewTicker(c.config.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopSweep:
			return
		case <-ticker.C:
			c.sweep()
		}
	}
}

// sweep rolls back pending transactions past their TTL.
func (c *Coordinator) sweep() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock()
	for _, t := range c.txns {
		if t.status == StatusPending && now.After(t.expiresAt) {
			c.expireLocked(t)
		}
	}
}
