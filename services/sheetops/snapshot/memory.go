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
	"sort"
	"sync"
)

// MemoryStore is an in-process Store. Snapshots do not survive a
// restart; use BadgerStore when durability matters.
type MemoryStore struct {
	mu             sync.Mutex
	byID           map[string]Snapshot
	byResource     map[string][]string // snapshot ids, oldest first
	maxPerResource int
}

// NewMemoryStore creates a MemoryStore.
//
// Inputs:
//   - maxPerResource: Retention quota per resource; <= 0 uses
//     DefaultMaxPerResource.
func NewMemoryStore(maxPerResource int) *MemoryStore {
	if maxPerResource <= 0 {
		maxPerResource = DefaultMaxPerResource
	}
	return &MemoryStore{
		byID:           make(map[string]Snapshot),
		byResource:     make(map[string][]string),
		maxPerResource: maxPerResource,
	}
}

// Save persists the snapshot, evicting the resource's oldest
// snapshots beyond the retention quota.
func (s *MemoryStore) Save(_ context.Context, snap Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.byID[snap.ID] = snap
	ids := append(s.byResource[snap.SpreadsheetID], snap.ID)
	for len(ids) > s.maxPerResource {
		delete(s.byID, ids[0])
		ids = ids[1:]
	}
	s.byResource[snap.SpreadsheetID] = ids
	return nil
}

// Get returns a snapshot by id.
func (s *MemoryStore) Get(_ context.Context, id string) (Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap, ok := s.byID[id]
	if !ok {
		return Snapshot{}, ErrNotFound
	}
	return snap, nil
}

// List returns snapshot metadata for a resource, newest first.
func (s *MemoryStore) List(_ context.Context, spreadsheetID string) ([]Meta, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := s.byResource[spreadsheetID]
	metas := make([]Meta, 0, len(ids))
	for _, id := range ids {
		metas = append(metas, s.byID[id].meta())
	}
	sort.Slice(metas, func(i, j int) bool { return metas[i].CreatedAt.After(metas[j].CreatedAt) })
	return metas, nil
}

// Delete removes a snapshot. Absent ids are a no-op.
func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap, ok := s.byID[id]
	if !ok {
		return nil
	}
	delete(s.byID, id)

	ids := s.byResource[snap.SpreadsheetID]
	for i, other := range ids {
		if other == id {
			s.byResource[snap.SpreadsheetID] = append(ids[:i:i], ids[i+1:]...)
			break
		}
	}
	return nil
}

// Close is a no-op for the in-memory store.
func (s *MemoryStore) Close() error { return nil }
