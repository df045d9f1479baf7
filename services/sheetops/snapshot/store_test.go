// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package snapshot

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/sheetops/services/sheetops/grid"
	"github.com/AleutianAI/sheetops/services/sheetops/remote"
)

func testSnapshot(spreadsheetID string, createdAt time.Time) Snapshot {
	return Snapshot{
		ID:            uuid.NewString(),
		SpreadsheetID: spreadsheetID,
		CreatedAt:     createdAt,
		State: remote.ResourceState{
			SpreadsheetID: spreadsheetID,
			Sheets: []remote.SheetState{{
				Name:   "Sheet1",
				Extent: grid.MustRange("A1:B2"),
				Values: [][]any{{"a", "b"}, {"c", "d"}},
			}},
		},
	}
}

// storeTest exercises the Store contract against any backend.
func storeTest(t *testing.T, open func(t *testing.T, maxPerResource int) Store) {
	ctx := context.Background()

	t.Run("save and get round trip", func(t *testing.T) {
		store := open(t, 0)
		snap := testSnapshot("book", time.Now().UTC())
		require.NoError(t, store.Save(ctx, snap))

		got, err := store.Get(ctx, snap.ID)
		require.NoError(t, err)
		assert.Equal(t, snap.ID, got.ID)
		assert.Equal(t, "book", got.SpreadsheetID)
		require.Len(t, got.State.Sheets, 1)
		assert.Equal(t, "Sheet1", got.State.Sheets[0].Name)
		assert.Equal(t, "d", got.State.Sheets[0].Values[1][1])
	})

	t.Run("get absent returns ErrNotFound", func(t *testing.T) {
		store := open(t, 0)
		_, err := store.Get(ctx, uuid.NewString())
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("retention evicts oldest first", func(t *testing.T) {
		store := open(t, 3)
		base := time.Now().UTC().Truncate(time.Second)

		var snaps []Snapshot
		for i := 0; i < 5; i++ {
			snap := testSnapshot("book", base.Add(time.Duration(i)*time.Second))
			require.NoError(t, store.Save(ctx, snap))
			snaps = append(snaps, snap)
		}

		metas, err := store.List(ctx, "book")
		require.NoError(t, err)
		require.Len(t, metas, 3)
		// Newest first; the two oldest are gone.
		assert.Equal(t, snaps[4].ID, metas[0].ID)
		assert.Equal(t, snaps[2].ID, metas[2].ID)

		_, err = store.Get(ctx, snaps[0].ID)
		assert.ErrorIs(t, err, ErrNotFound)
		_, err = store.Get(ctx, snaps[1].ID)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("retention is per resource", func(t *testing.T) {
		store := open(t, 2)
		base := time.Now().UTC().Truncate(time.Second)
		for i := 0; i < 3; i++ {
			require.NoError(t, store.Save(ctx, testSnapshot("alpha", base.Add(time.Duration(i)*time.Second))))
		}
		require.NoError(t, store.Save(ctx, testSnapshot("beta", base)))

		alpha, err := store.List(ctx, "alpha")
		require.NoError(t, err)
		assert.Len(t, alpha, 2)

		beta, err := store.List(ctx, "beta")
		require.NoError(t, err)
		assert.Len(t, beta, 1)
	})

	t.Run("delete is idempotent", func(t *testing.T) {
		store := open(t, 0)
		snap := testSnapshot("book", time.Now().UTC())
		require.NoError(t, store.Save(ctx, snap))

		require.NoError(t, store.Delete(ctx, snap.ID))
		require.NoError(t, store.Delete(ctx, snap.ID))

		_, err := store.Get(ctx, snap.ID)
		assert.ErrorIs(t, err, ErrNotFound)

		metas, err := store.List(ctx, "book")
		require.NoError(t, err)
		assert.Empty(t, metas)
	})

	t.Run("list unknown resource is empty", func(t *testing.T) {
		store := open(t, 0)
		metas, err := store.List(ctx, "nothing-here")
		require.NoError(t, err)
		assert.Empty(t, metas)
	})
}

func TestMemoryStore(t *testing.T) {
	storeTest(t, func(t *testing.T, maxPerResource int) Store {
		return NewMemoryStore(maxPerResource)
	})
}

func TestBadgerStoreInMemory(t *testing.T) {
	storeTest(t, func(t *testing.T, maxPerResource int) Store {
		cfg := InMemoryBadgerConfig()
		if maxPerResource > 0 {
			cfg.MaxPerResource = maxPerResource
		}
		store, err := OpenBadgerStore(cfg)
		require.NoError(t, err)
		t.Cleanup(func() { store.Close() })
		return store
	})
}

func TestBadgerStorePersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultBadgerConfig(dir)
	cfg.SyncWrites = false

	store, err := OpenBadgerStore(cfg)
	require.NoError(t, err)

	snap := testSnapshot("book", time.Now().UTC())
	require.NoError(t, store.Save(context.Background(), snap))
	require.NoError(t, store.Close())

	store2, err := OpenBadgerStore(cfg)
	require.NoError(t, err)
	defer store2.Close()

	got, err := store2.Get(context.Background(), snap.ID)
	require.NoError(t, err)
	assert.Equal(t, snap.ID, got.ID)
}

func TestBadgerStoreRequiresPath(t *testing.T) {
	_, err := OpenBadgerStore(BadgerConfig{})
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "path is required")
}

func TestCapture(t *testing.T) {
	fake := remote.NewFake()
	fake.Seed("book", "Sheet1", [][]any{{"x", "y"}})

	snap, err := Capture(context.Background(), fake, "book", "txn-1")
	require.NoError(t, err)
	assert.NotEmpty(t, snap.ID)
	assert.Equal(t, "book", snap.SpreadsheetID)
	assert.Equal(t, "txn-1", snap.TransactionID)
	require.Len(t, snap.State.Sheets, 1)
	assert.Equal(t, [][]any{{"x", "y"}}, snap.State.Sheets[0].Values)

	// Snapshots carry their own id per capture.
	snap2, err := Capture(context.Background(), fake, "book", "")
	require.NoError(t, err)
	assert.NotEqual(t, snap.ID, snap2.ID)
}

func TestCapturePropagatesExportError(t *testing.T) {
	fake := remote.NewFake()

	_, err := Capture(context.Background(), fake, "missing", "")
	assert.Error(t, err)
}
