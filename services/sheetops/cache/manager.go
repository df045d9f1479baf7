// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package cache stores recent remote reads with TTL and write-path
// invalidation.
//
// Keys are (spreadsheetID, normalized range), so equivalent A1
// spellings collide. Entries are invalidated eagerly the moment an
// overlapping write commits; TTL expiry is the fallback, not the
// primary freshness mechanism. Values are copied in and out, so no
// entry is ever shared by reference with a caller.
//
// # Thread Safety
//
// Manager is safe for concurrent use. Concurrent loads for the same
// key are collapsed into one remote fetch via singleflight.
package cache

import (
	"container/list"
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/AleutianAI/sheetops/services/sheetops/grid"
	"github.com/AleutianAI/sheetops/services/sheetops/remote"
)

// Default configuration values.
const (
	// DefaultMaxEntries is the default entry-count ceiling.
	DefaultMaxEntries = 256

	// DefaultTTL is the default entry lifetime.
	DefaultTTL = 30 * time.Second
)

// Options configures a Manager.
type Options struct {
	// MaxEntries is the entry-count ceiling; least-recently-used
	// entries are evicted beyond it, independent of TTL.
	MaxEntries int

	// TTL is the entry lifetime. Zero means DefaultTTL.
	TTL time.Duration

	// Clock returns the current time. Tests override it.
	Clock func() time.Time
}

// Option mutates Options.
type Option func(*Options)

// WithMaxEntries overrides the entry-count ceiling.
func WithMaxEntries(n int) Option {
	return func(o *Options) { o.MaxEntries = n }
}

// WithTTL overrides the default entry lifetime.
func WithTTL(ttl time.Duration) Option {
	return func(o *Options) { o.TTL = ttl }
}

// WithClock overrides the time source. Test hook.
func WithClock(clock func() time.Time) Option {
	return func(o *Options) { o.Clock = clock }
}

// entry is one cached read. Owned exclusively by the Manager.
type entry struct {
	key           string
	spreadsheetID string
	value         remote.ValueRange
	etag          string
	expiresAt     time.Time
	dependents    []grid.Range
	lruElement    *list.Element
}

// LoaderFunc fetches a value on miss, returning the value and etag.
type LoaderFunc func(ctx context.Context) (remote.ValueRange, string, error)

// Stats reports cache counters.
type Stats struct {
	EntryCount    int   `json:"entry_count"`
	Hits          int64 `json:"hits"`
	Misses        int64 `json:"misses"`
	Evictions     int64 `json:"evictions"`
	Invalidations int64 `json:"invalidations"`
	Loads         int64 `json:"loads"`
	Revalidations int64 `json:"revalidations"`
}

// Manager is the bounded, invalidating read cache.
type Manager struct {
	mu      sync.RWMutex
	entries map[string]*entry
	lru     *list.List // front = most recent; values are keys
	flight  singleflight.Group
	options Options

	hits          int64
	misses        int64
	evictions     int64
	invalidations int64
	loads         int64
	revalidations int64
}

// NewManager creates a Manager with the given options.
func NewManager(opts ...Option) *Manager {
	options := Options{
		MaxEntries: DefaultMaxEntries,
		TTL:        DefaultTTL,
		Clock:      time.Now,
	}
	for _, opt := range opts {
		opt(&options)
	}
	if options.MaxEntries <= 0 {
		options.MaxEntries = DefaultMaxEntries
	}
	if options.TTL <= 0 {
		options.TTL = DefaultTTL
	}
	if options.Clock == nil {
		options.Clock = time.Now
	}
	return &Manager{
		entries: make(map[string]*entry),
		lru:     list.New(),
		options: options,
	}
}

// Key builds the canonical cache key for a range.
func Key(spreadsheetID string, rng grid.Range) string {
	return spreadsheetID + "\x00" + rng.String()
}

// Get returns a copy of the cached value for the range, if present
// and unexpired.
func (m *Manager) Get(spreadsheetID string, rng grid.Range) (remote.ValueRange, bool) {
	key := Key(spreadsheetID, rng)

	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[key]
	if !ok {
		atomic.AddInt64(&m.misses, 1)
		return remote.ValueRange{}, false
	}
	if !m.options.Clock().Before(e.expiresAt) {
		m.removeLocked(e)
		atomic.AddInt64(&m.misses, 1)
		return remote.ValueRange{}, false
	}

	m.lru.MoveToFront(e.lruElement)
	atomic.AddInt64(&m.hits, 1)
	return copyValueRange(e.value), true
}

// Put stores a value for the range. dependents are the ranges whose
// writes must invalidate this entry; nil means the entry's own range.
func (m *Manager) Put(spreadsheetID string, rng grid.Range, value remote.ValueRange, etag string, dependents []grid.Range) {
	if dependents == nil {
		dependents = []grid.Range{rng}
	}
	key := Key(spreadsheetID, rng)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.putLocked(key, spreadsheetID, value, etag, dependents)
}

func (m *Manager) putLocked(key, spreadsheetID string, value remote.ValueRange, etag string, dependents []grid.Range) {
	if e, ok := m.entries[key]; ok {
		m.removeLocked(e)
	}
	for m.lru.Len() >= m.options.MaxEntries {
		oldest := m.lru.Back()
		if oldest == nil {
			break
		}
		m.removeLocked(m.entries[oldest.Value.(string)])
		atomic.AddInt64(&m.evictions, 1)
	}

	e := &entry{
		key:           key,
		spreadsheetID: spreadsheetID,
		value:         copyValueRange(value),
		etag:          etag,
		expiresAt:     m.options.Clock().Add(m.options.TTL),
		dependents:    append([]grid.Range(nil), dependents...),
	}
	e.lruElement = m.lru.PushFront(key)
	m.entries[key] = e
}

// GetOrLoad returns the cached value or loads it, collapsing
// concurrent loads for the same key into one remote fetch.
//
// Inputs:
//   - ctx: Context for cancellation of the underlying load.
//   - spreadsheetID: Resource identifier.
//   - rng: Normalized target range.
//   - loader: Remote fetch executed on miss.
//
// Outputs:
//   - remote.ValueRange: A private copy of the value.
//   - error: The loader's error, shared by all coalesced callers.
func (m *Manager) GetOrLoad(ctx context.Context, spreadsheetID string, rng grid.Range, loader LoaderFunc) (remote.ValueRange, error) {
	if v, ok := m.Get(spreadsheetID, rng); ok {
		return v, nil
	}

	key := Key(spreadsheetID, rng)
	v, err, _ := m.flight.Do(key, func() (any, error) {
		// Another coalesced caller may have populated the entry
		// between our miss and acquiring the flight.
		if v, ok := m.Get(spreadsheetID, rng); ok {
			return v, nil
		}
		value, etag, err := loader(ctx)
		if err != nil {
			return nil, err
		}
		atomic.AddInt64(&m.loads, 1)
		m.Put(spreadsheetID, rng, value, etag, nil)
		return copyValueRange(value), nil
	})
	if err != nil {
		return remote.ValueRange{}, err
	}
	return v.(remote.ValueRange), nil
}

// Revalidate refreshes an entry's lifetime via a conditional fetch.
//
// The loader receives the entry's etag. On remote.ErrNotModified the
// entry keeps its value and gets a fresh TTL; otherwise the loaded
// value replaces it. Missing entries are a no-op.
func (m *Manager) Revalidate(ctx context.Context, spreadsheetID string, rng grid.Range, loader func(ctx context.Context, etag string) (remote.ValueRange, string, error)) error {
	key := Key(spreadsheetID, rng)

	m.mu.RLock()
	e, ok := m.entries[key]
	var etag string
	if ok {
		etag = e.etag
	}
	m.mu.RUnlock()
	if !ok || etag == "" {
		return nil
	}

	value, newETag, err := loader(ctx, etag)
	switch {
	case errors.Is(err, remote.ErrNotModified):
		m.mu.Lock()
		if e, ok := m.entries[key]; ok {
			e.expiresAt = m.options.Clock().Add(m.options.TTL)
		}
		m.mu.Unlock()
		atomic.AddInt64(&m.revalidations, 1)
		return nil
	case err != nil:
		return err
	default:
		m.Put(spreadsheetID, rng, value, newETag, nil)
		atomic.AddInt64(&m.revalidations, 1)
		return nil
	}
}

// Invalidate removes every entry of the resource whose dependent
// ranges overlap the written range. Returns the number removed.
//
// The overlap test is half-open per dimension, not exact-match, so a
// write to B1:B2 invalidates a cached A1:C10.
func (m *Manager) Invalidate(spreadsheetID string, written grid.Range) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for _, e := range m.entries {
		if e.spreadsheetID != spreadsheetID {
			continue
		}
		for _, dep := range e.dependents {
			if dep.Overlaps(written) {
				m.removeLocked(e)
				removed++
				break
			}
		}
	}
	atomic.AddInt64(&m.invalidations, int64(removed))
	return removed
}

// InvalidateResource drops every entry for the resource. Used after
// structural operations, whose coordinate shifts can touch any range.
func (m *Manager) InvalidateResource(spreadsheetID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for _, e := range m.entries {
		if e.spreadsheetID == spreadsheetID {
			m.removeLocked(e)
			removed++
		}
	}
	atomic.AddInt64(&m.invalidations, int64(removed))
	return removed
}

// Len returns the current entry count.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// Stats returns current cache counters.
func (m *Manager) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Stats{
		EntryCount:    len(m.entries),
		Hits:          atomic.LoadInt64(&m.hits),
		Misses:        atomic.LoadInt64(&m.misses),
		Evictions:     atomic.LoadInt64(&m.evictions),
		Invalidations: atomic.LoadInt64(&m.invalidations),
		Loads:         atomic.LoadInt64(&m.loads),
		Revalidations: atomic.LoadInt64(&m.revalidations),
	}
}

// removeLocked unlinks an entry. Caller holds m.mu.
func (m *Manager) removeLocked(e *entry) {
	if e == nil {
		return
	}
	if e.lruElement != nil {
		m.lru.Remove(e.lruElement)
	}
	delete(m.entries, e.key)
}

func copyValueRange(v remote.ValueRange) remote.ValueRange {
	out := remote.ValueRange{Range: v.Range}
	out.Values = make([][]any, len(v.Values))
	for i, row := range v.Values {
		out.Values[i] = append([]any(nil), row...)
	}
	return out
}
