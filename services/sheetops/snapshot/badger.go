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
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/dgraph-io/badger/v4"
)

// BadgerConfig holds configuration for a BadgerStore.
type BadgerConfig struct {
	// Path is the directory for database files.
	// Ignored when InMemory is true.
	Path string

	// InMemory enables in-memory mode (no disk persistence).
	// Useful for testing.
	InMemory bool

	// SyncWrites enables synchronous writes for durability.
	SyncWrites bool

	// MaxPerResource is the retention quota per resource; <= 0 uses
	// DefaultMaxPerResource.
	MaxPerResource int

	// Logger receives the database's internal log output. If nil,
	// internal logging is disabled.
	Logger *slog.Logger
}

// DefaultBadgerConfig returns durable defaults for production use.
func DefaultBadgerConfig(path string) BadgerConfig {
	return BadgerConfig{
		Path:           path,
		SyncWrites:     true,
		MaxPerResource: DefaultMaxPerResource,
	}
}

// InMemoryBadgerConfig returns configuration for testing. Data is
// lost on Close.
func InMemoryBadgerConfig() BadgerConfig {
	return BadgerConfig{InMemory: true, MaxPerResource: DefaultMaxPerResource}
}

// badgerLogger adapts slog.Logger to BadgerDB's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Info(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// BadgerStore persists snapshots in an embedded BadgerDB.
//
// Two key spaces are used: "snap:<id>" holds the JSON-encoded
// snapshot, and "res:<resource>:<created>:<id>" is an empty index
// entry whose key order gives oldest-first iteration per resource.
//
// Thread Safety: Safe for concurrent use.
type BadgerStore struct {
	db             *badger.DB
	maxPerResource int
}

// OpenBadgerStore opens a BadgerStore with the given configuration.
//
// Outputs:
//   - *BadgerStore: The opened store. Caller must Close when done.
//   - error: Non-nil if the database cannot be opened.
func OpenBadgerStore(cfg BadgerConfig) (*BadgerStore, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("snapshot: path is required for persistent store")
	}
	if cfg.MaxPerResource <= 0 {
		cfg.MaxPerResource = DefaultMaxPerResource
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0750); err != nil {
			return nil, fmt.Errorf("snapshot: create store directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites)
	opts = opts.WithNumVersionsToKeep(1)
	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("snapshot: open store: %w", err)
	}
	return &BadgerStore{db: db, maxPerResource: cfg.MaxPerResource}, nil
}

func snapKey(id string) []byte {
	return []byte("snap:" + id)
}

func indexKey(snap Snapshot) []byte {
	return []byte(fmt.Sprintf("res:%s:%020d:%s", snap.SpreadsheetID, snap.CreatedAt.UnixNano(), snap.ID))
}

func resourcePrefix(spreadsheetID string) []byte {
	return []byte("res:" + spreadsheetID + ":")
}

// idFromIndexKey recovers the snapshot id from an index key. Ids are
// uuids and never contain a colon, so the last segment is the id.
func idFromIndexKey(key []byte) string {
	return string(key[bytes.LastIndexByte(key, ':')+1:])
}

// Save persists the snapshot and evicts the resource's oldest
// snapshots beyond the retention quota, all in one transaction.
func (s *BadgerStore) Save(ctx context.Context, snap Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("snapshot: encode %s: %w", snap.ID, err)
	}

	return s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(snapKey(snap.ID), payload); err != nil {
			return err
		}
		if err := txn.Set(indexKey(snap), nil); err != nil {
			return err
		}
		return s.evictLocked(txn, snap.SpreadsheetID)
	})
}

// evictLocked removes oldest snapshots past the quota. Index keys
// sort by creation time, so forward iteration visits oldest first.
func (s *BadgerStore) evictLocked(txn *badger.Txn, spreadsheetID string) error {
	prefix := resourcePrefix(spreadsheetID)

	var keys [][]byte
	it := txn.NewIterator(badger.IteratorOptions{Prefix: prefix})
	for it.Rewind(); it.Valid(); it.Next() {
		keys = append(keys, it.Item().KeyCopy(nil))
	}
	it.Close()

	for len(keys) > s.maxPerResource {
		key := keys[0]
		keys = keys[1:]
		if err := txn.Delete(snapKey(idFromIndexKey(key))); err != nil {
			return err
		}
		if err := txn.Delete(key); err != nil {
			return err
		}
	}
	return nil
}

// Get returns a snapshot by id.
func (s *BadgerStore) Get(ctx context.Context, id string) (Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return Snapshot{}, err
	}
	var snap Snapshot
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(snapKey(id))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &snap)
		})
	})
	if err != nil {
		return Snapshot{}, err
	}
	return snap, nil
}

// List returns snapshot metadata for a resource, newest first.
func (s *BadgerStore) List(ctx context.Context, spreadsheetID string) ([]Meta, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var metas []Meta
	err := s.db.View(func(txn *badger.Txn) error {
		prefix := resourcePrefix(spreadsheetID)
		it := txn.NewIterator(badger.IteratorOptions{Prefix: prefix})
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			id := idFromIndexKey(it.Item().Key())

			item, err := txn.Get(snapKey(id))
			if err != nil {
				return err
			}
			var snap Snapshot
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &snap)
			}); err != nil {
				return err
			}
			// Prepend: index order is oldest first.
			metas = append([]Meta{snap.meta()}, metas...)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return metas, nil
}

// Delete removes a snapshot and its index entry. Absent ids are a
// no-op.
func (s *BadgerStore) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(snapKey(id))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		var snap Snapshot
		if err := item.Value(func(val []byte) error {
			return json.Unmarshal(val, &snap)
		}); err != nil {
			return err
		}
		if err := txn.Delete(indexKey(snap)); err != nil {
			return err
		}
		return txn.Delete(snapKey(id))
	})
}

// Close closes the underlying database.
func (s *BadgerStore) Close() error {
	return s.db.Close()
}
