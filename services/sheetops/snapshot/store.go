// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package snapshot captures and stores point-in-time resource state so
// destructive changes can be reversed.
//
// A snapshot is immutable once captured. Two backends implement Store:
// MemoryStore for tests and single-process use, and BadgerStore for
// durable local persistence. Both enforce the same retention policy:
// when a resource exceeds its snapshot quota, the oldest snapshots are
// evicted first.
package snapshot

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/AleutianAI/sheetops/services/sheetops/remote"
)

// ErrNotFound is returned when no snapshot exists for the given id.
var ErrNotFound = errors.New("snapshot: not found")

// DefaultMaxPerResource is the default retention quota per resource.
const DefaultMaxPerResource = 16

// Snapshot is a captured resource state plus identifying metadata.
type Snapshot struct {
	// ID is a generated unique identifier.
	ID string

	// SpreadsheetID is the captured resource.
	SpreadsheetID string

	// TransactionID links the snapshot to the transaction that took
	// it, or is empty for standalone captures.
	TransactionID string

	// CreatedAt is the capture time.
	CreatedAt time.Time

	// State is the full resource capture.
	State remote.ResourceState
}

// Meta is the listing view of a snapshot, without the captured state.
type Meta struct {
	ID            string
	SpreadsheetID string
	TransactionID string
	CreatedAt     time.Time
	SheetCount    int
}

func (s Snapshot) meta() Meta {
	return Meta{
		ID:            s.ID,
		SpreadsheetID: s.SpreadsheetID,
		TransactionID: s.TransactionID,
		CreatedAt:     s.CreatedAt,
		SheetCount:    len(s.State.Sheets),
	}
}

// Store persists snapshots.
//
// Thread Safety: Implementations are safe for concurrent use.
type Store interface {
	// Save persists a snapshot and applies the retention policy for
	// its resource.
	Save(ctx context.Context, snap Snapshot) error

	// Get returns a snapshot by id. Returns ErrNotFound if absent.
	Get(ctx context.Context, id string) (Snapshot, error)

	// List returns metadata for a resource's snapshots, newest first.
	List(ctx context.Context, spreadsheetID string) ([]Meta, error)

	// Delete removes a snapshot. Deleting an absent id is not an
	// error; deletion is idempotent.
	Delete(ctx context.Context, id string) error

	// Close releases backend resources.
	Close() error
}

// Capture exports the current state of a resource and wraps it as a
// snapshot. The snapshot is not saved; the caller decides the store.
//
// Inputs:
//   - ctx: Cancellation context for the export call.
//   - client: Remote client used for the export.
//   - spreadsheetID: Resource to capture.
//   - transactionID: Owning transaction id, or empty.
//
// Outputs:
//   - Snapshot: The capture with a fresh id.
//   - error: Non-nil if the export fails.
func Capture(ctx context.Context, client remote.Client, spreadsheetID, transactionID string) (Snapshot, error) {
	state, err := client.Export(ctx, spreadsheetID)
	if err != nil {
		return Snapshot{}, err
	}
	return Snapshot{
		ID:            uuid.NewString(),
		SpreadsheetID: spreadsheetID,
		TransactionID: transactionID,
		CreatedAt:     time.Now().UTC(),
		State:         state,
	}, nil
}
