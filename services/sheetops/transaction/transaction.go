// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package transaction coordinates multi-intent commits with
// all-or-nothing semantics against a remote that has no native
// transactions.
//
// A transaction is a queue of intents applied together at Commit. The
// coordinator compiles the queue, captures a pre-commit snapshot per
// touched resource, and dispatches the compiled calls in order. A
// dispatch failure after partial application triggers compensation:
// the touched resources are restored from their snapshots. Only when
// compensation itself fails does a transaction end in StatusFailed,
// surfacing both errors plus the snapshot id for manual recovery.
package transaction

import (
	"time"

	"github.com/AleutianAI/sheetops/services/sheetops/intent"
)

// Status is a transaction's lifecycle state.
type Status string

const (
	// StatusPending accepts queued intents.
	StatusPending Status = "pending"
	// StatusCommitting is the transient state while Commit runs.
	StatusCommitting Status = "committing"
	// StatusCommitted is terminal: every call applied.
	StatusCommitted Status = "committed"
	// StatusRolledBack is terminal: nothing applied, or everything
	// compensated back to the pre-commit state.
	StatusRolledBack Status = "rolled_back"
	// StatusFailed is terminal: partial application and failed
	// compensation. Manual recovery from the snapshot is required.
	StatusFailed Status = "failed"
)

// Terminal reports whether the status accepts no further operations.
func (s Status) Terminal() bool {
	switch s {
	case StatusCommitted, StatusRolledBack, StatusFailed:
		return true
	}
	return false
}

// Info is the externally visible state of a transaction.
type Info struct {
	ID        string
	Status    Status
	StartedAt time.Time
	ExpiresAt time.Time

	// QueuedIntents is the queue length.
	QueuedIntents int

	// SnapshotIDs maps touched resource ids to their pre-commit
	// snapshot ids, populated during Begin or Commit.
	SnapshotIDs map[string]string

	// RollbackReason is set for rolled-back transactions.
	RollbackReason string
}

// Result describes a finished Commit or Rollback.
type Result struct {
	TransactionID string
	Status        Status
	Duration      time.Duration

	// AppliedCalls is how many remote calls were dispatched. For a
	// committed transaction this is the full plan.
	AppliedCalls int

	// SnapshotIDs maps resource ids to the snapshots taken for this
	// commit.
	SnapshotIDs map[string]string
}

// tx is the coordinator's internal transaction record.
type tx struct {
	id        string
	status    Status
	startedAt time.Time
	expiresAt time.Time

	intents        []intent.Intent
	snapshotIDs    map[string]string
	rollbackReason string
}

func (t *tx) info() Info {
	ids := make(map[string]string, len(t.snapshotIDs))
	for k, v := range t.snapshotIDs {
		ids[k] = v
	}
	return Info{
		ID:             t.id,
		Status:         t.status,
		StartedAt:      t.startedAt,
		ExpiresAt:      t.expiresAt,
		QueuedIntents:  len(t.intents),
		SnapshotIDs:    ids,
		RollbackReason: t.rollbackReason,
	}
}
