// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package compiler

import (
	"errors"
	"fmt"
	"reflect"
	"testing"

	"github.com/AleutianAI/sheetops/services/sheetops/cache"
	"github.com/AleutianAI/sheetops/services/sheetops/grid"
	"github.com/AleutianAI/sheetops/services/sheetops/intent"
	"github.com/AleutianAI/sheetops/services/sheetops/remote"
)

var seqCounter int

func mustIntent(t *testing.T, id string, kind intent.Kind, book, rng string, payload intent.Payload) intent.Intent {
	t.Helper()
	in, err := intent.New(id, kind, intent.Target{
		SpreadsheetID: book,
		Range:         grid.MustRange(rng),
	}, payload)
	if err != nil {
		t.Fatal(err)
	}
	seqCounter++
	in.Seq = seqCounter
	return in
}

func writeIntent(t *testing.T, id, book, rng string, v any) intent.Intent {
	return mustIntent(t, id, intent.KindWrite, book, rng, intent.Payload{Values: [][]any{{v}}})
}

func readIntent(t *testing.T, id, book, rng string) intent.Intent {
	return mustIntent(t, id, intent.KindRead, book, rng, intent.Payload{})
}

func TestDisjointWritesCoalesce(t *testing.T) {
	c := New(nil, Config{})
	intents := []intent.Intent{
		mustIntent(t, "w1", intent.KindWrite, "book", "A1:A5",
			intent.Payload{Values: [][]any{{1}, {2}, {3}, {4}, {5}}}),
		mustIntent(t, "w2", intent.KindWrite, "book", "B1:B5",
			intent.Payload{Values: [][]any{{6}, {7}, {8}, {9}, {10}}}),
	}

	plans, failures := c.Compile(intents)
	if len(failures) != 0 {
		t.Fatalf("failures: %v", failures)
	}
	if len(plans) != 1 {
		t.Fatalf("plans = %d, want 1", len(plans))
	}
	if got := plans[0].RemoteCalls(); got != 1 {
		t.Fatalf("remote calls = %d, want 1 coalesced batch", got)
	}
	call := plans[0].Calls[0]
	if len(call.Ops) != 2 {
		t.Errorf("ops = %d, want 2", len(call.Ops))
	}
	if !reflect.DeepEqual(call.IntentIDs, []string{"w1", "w2"}) {
		t.Errorf("intent ids = %v", call.IntentIDs)
	}
}

func TestSameRangeWritesMergeLastWins(t *testing.T) {
	c := New(nil, Config{})
	intents := []intent.Intent{
		mustIntent(t, "w1", intent.KindWrite, "book", "A1:B1",
			intent.Payload{Values: [][]any{{"old", "keep"}}}),
		mustIntent(t, "w2", intent.KindWrite, "book", "A1:B1",
			intent.Payload{Values: [][]any{{"new", nil}}}),
	}

	plans, _ := c.Compile(intents)
	if got := plans[0].RemoteCalls(); got != 1 {
		t.Fatalf("remote calls = %d, want 1", got)
	}
	op := plans[0].Calls[0].Ops[0]
	want := [][]any{{"new", "keep"}}
	if !reflect.DeepEqual(op.Values, want) {
		t.Errorf("merged values = %v, want %v", op.Values, want)
	}
	if !reflect.DeepEqual(plans[0].Calls[0].IntentIDs, []string{"w1", "w2"}) {
		t.Errorf("intent ids = %v", plans[0].Calls[0].IntentIDs)
	}
}

func TestReadSatisfiedFromCache(t *testing.T) {
	mgr := cache.NewManager()
	rng := grid.MustRange("A1:C10")
	mgr.Put("book", rng, remote.ValueRange{Range: rng, Values: [][]any{{"cached"}}}, "", nil)

	c := New(mgr, Config{})
	plans, _ := c.Compile([]intent.Intent{readIntent(t, "r1", "book", "A1:C10")})

	if got := plans[0].RemoteCalls(); got != 0 {
		t.Fatalf("remote calls = %d, want 0", got)
	}
	if len(plans[0].CachedReads) != 1 || plans[0].CachedReads[0].IntentID != "r1" {
		t.Fatalf("cached reads = %v", plans[0].CachedReads)
	}
}

func TestReadRewrittenToStagedWrite(t *testing.T) {
	c := New(nil, Config{})
	intents := []intent.Intent{
		mustIntent(t, "w1", intent.KindWrite, "book", "A1:B2",
			intent.Payload{Values: [][]any{{"a", "b"}, {"c", "d"}}}),
		readIntent(t, "r1", "book", "B2"),
	}

	plans, _ := c.Compile(intents)
	if len(plans[0].StagedReads) != 1 {
		t.Fatalf("staged reads = %v", plans[0].StagedReads)
	}
	sr := plans[0].StagedReads[0]
	if sr.IntentID != "r1" || sr.Value.Values[0][0] != "d" {
		t.Errorf("staged read = %+v, want d", sr)
	}
	// Only the write reaches the remote.
	if got := plans[0].RemoteCalls(); got != 1 {
		t.Errorf("remote calls = %d, want 1", got)
	}
}

func TestUnboundedReadOverStagedColumnWrite(t *testing.T) {
	c := New(nil, Config{})
	intents := []intent.Intent{
		mustIntent(t, "w1", intent.KindWrite, "book", "A:A",
			intent.Payload{Values: [][]any{{"x"}, {"y"}}}),
		readIntent(t, "r1", "book", "A:A"),
	}

	plans, _ := c.Compile(intents)
	if len(plans[0].StagedReads) != 1 {
		t.Fatalf("staged reads = %v", plans[0].StagedReads)
	}
	sr := plans[0].StagedReads[0]
	want := [][]any{{"x"}, {"y"}}
	if !reflect.DeepEqual(sr.Value.Values, want) {
		t.Errorf("staged read values = %v, want %v", sr.Value.Values, want)
	}
	// The resolved window is the write's populated extent.
	if sr.Value.Range.EndRow != 2 {
		t.Errorf("resolved EndRow = %d, want 2", sr.Value.Range.EndRow)
	}
}

func TestUnboundedReadOverStagedRowWrite(t *testing.T) {
	c := New(nil, Config{})
	intents := []intent.Intent{
		mustIntent(t, "w1", intent.KindWrite, "book", "1:1",
			intent.Payload{Values: [][]any{{"a", "b", "c"}}}),
		readIntent(t, "r1", "book", "1:1"),
	}

	plans, _ := c.Compile(intents)
	if len(plans[0].StagedReads) != 1 {
		t.Fatalf("staged reads = %v", plans[0].StagedReads)
	}
	sr := plans[0].StagedReads[0]
	want := [][]any{{"a", "b", "c"}}
	if !reflect.DeepEqual(sr.Value.Values, want) {
		t.Errorf("staged read values = %v, want %v", sr.Value.Values, want)
	}
	if sr.Value.Range.EndCol != 3 {
		t.Errorf("resolved EndCol = %d, want 3", sr.Value.Range.EndCol)
	}
}

func TestOrderingStructuralBeforeFormatBeforeValues(t *testing.T) {
	c := New(nil, Config{})
	intents := []intent.Intent{
		writeIntent(t, "w1", "book", "Sheet1!A1", "v"),
		mustIntent(t, "f1", intent.KindFormat, "book", "Sheet1!B1",
			intent.Payload{Format: map[string]any{"bold": true}}),
		mustIntent(t, "s1", intent.KindRestructure, "book", "Sheet2!3:3",
			intent.Payload{Structural: intent.OpInsertRows, Count: 1}),
	}

	plans, _ := c.Compile(intents)
	var types []remote.OpType
	for _, call := range plans[0].Calls {
		for _, op := range call.Ops {
			types = append(types, op.Type)
		}
	}
	want := []remote.OpType{remote.OpInsertRows, remote.OpFormat, remote.OpUpdateValues}
	if !reflect.DeepEqual(types, want) {
		t.Errorf("op order = %v, want %v", types, want)
	}
}

func TestReadPlacementFollowsOverlapNotSubmissionOrder(t *testing.T) {
	c := New(nil, Config{})
	intents := []intent.Intent{
		readIntent(t, "r1", "book", "A1:C1"), // overlaps the write, not contained by it
		writeIntent(t, "w1", "book", "A1", "v"),
		readIntent(t, "r2", "book", "E9"),
	}

	plans, _ := c.Compile(intents)
	calls := plans[0].Calls
	if len(calls) != 3 {
		t.Fatalf("calls = %d, want 3", len(calls))
	}
	// The independent read dispatches first even though it was
	// submitted last; the overlapping read observes post-write state.
	if calls[0].Kind != CallRead || !reflect.DeepEqual(calls[0].IntentIDs, []string{"r2"}) {
		t.Errorf("first call = %+v, want read r2", calls[0])
	}
	if calls[1].Kind != CallWriteBatch {
		t.Errorf("second call = %+v, want write batch", calls[1])
	}
	if calls[2].Kind != CallRead || !reflect.DeepEqual(calls[2].IntentIDs, []string{"r1"}) {
		t.Errorf("third call = %+v, want read r1", calls[2])
	}
}

func TestOversizedGroupSplits(t *testing.T) {
	c := New(nil, Config{MaxBatchSize: 3})
	var intents []intent.Intent
	for i := 0; i < 7; i++ {
		rng := fmt.Sprintf("%s1", grid.ColName(i))
		intents = append(intents, writeIntent(t, fmt.Sprintf("w%d", i), "book", rng, i))
	}

	plans, _ := c.Compile(intents)
	if got := plans[0].RemoteCalls(); got != 3 {
		t.Fatalf("remote calls = %d, want 3 (3+3+1)", got)
	}
	if n := len(plans[0].Calls[0].Ops); n != 3 {
		t.Errorf("first batch ops = %d, want 3", n)
	}
	if n := len(plans[0].Calls[2].Ops); n != 1 {
		t.Errorf("last batch ops = %d, want 1", n)
	}
}

func TestDeleteSheetConflictsWithSameSheetIntent(t *testing.T) {
	c := New(nil, Config{})
	intents := []intent.Intent{
		mustIntent(t, "d1", intent.KindRestructure, "book", "Gone!A:A",
			intent.Payload{Structural: intent.OpDeleteSheet}),
		writeIntent(t, "w1", "book", "Gone!A1", "x"),
	}

	_, failures := c.Compile(intents)
	if len(failures) != 1 {
		t.Fatalf("failures = %v, want 1", failures)
	}
	var conflict *intent.ConflictError
	if !errors.As(failures[0], &conflict) {
		t.Fatalf("err = %v, want ConflictError", failures[0])
	}
}

func TestCoordinateShiftConflict(t *testing.T) {
	c := New(nil, Config{})
	// Insert and delete on the same sheet interact through coordinate
	// shifts even with disjoint ranges.
	intents := []intent.Intent{
		mustIntent(t, "s1", intent.KindRestructure, "book", "Sheet1!2:2",
			intent.Payload{Structural: intent.OpInsertRows, Count: 1}),
		mustIntent(t, "s2", intent.KindRestructure, "book", "Sheet1!9:9",
			intent.Payload{Structural: intent.OpDeleteRows, Count: 1}),
	}
	_, failures := c.Compile(intents)
	if len(failures) != 1 {
		t.Fatalf("failures = %v, want conflict", failures)
	}
}

func TestConflictIsolatedPerResource(t *testing.T) {
	c := New(nil, Config{})
	intents := []intent.Intent{
		mustIntent(t, "d1", intent.KindRestructure, "bad", "Gone!A:A",
			intent.Payload{Structural: intent.OpDeleteSheet}),
		writeIntent(t, "w1", "bad", "Gone!A1", "x"),
		writeIntent(t, "w2", "good", "A1", "y"),
	}

	plans, failures := c.Compile(intents)
	if len(failures) != 1 || failures[0].SpreadsheetID != "bad" {
		t.Fatalf("failures = %v", failures)
	}
	if len(plans) != 1 || plans[0].SpreadsheetID != "good" {
		t.Fatalf("plans = %v, want only the good resource", plans)
	}
}

func TestCompilationIsIdempotent(t *testing.T) {
	c := New(nil, Config{})
	intents := []intent.Intent{
		writeIntent(t, "w1", "book", "A1:A5", 1),
		mustIntent(t, "s1", intent.KindRestructure, "book", "Other!2:3",
			intent.Payload{Structural: intent.OpDeleteRows, Count: 2}),
		readIntent(t, "r1", "book", "Z1:Z5"),
		writeIntent(t, "w2", "book", "B1:B5", 2),
	}

	first, _ := c.Compile(intents)
	second, _ := c.Compile(intents)
	if !reflect.DeepEqual(first, second) {
		t.Errorf("compilation not idempotent:\nfirst:  %+v\nsecond: %+v", first, second)
	}
}

func TestReadOverlappingWriteDispatchesAfter(t *testing.T) {
	c := New(nil, Config{})
	intents := []intent.Intent{
		writeIntent(t, "w1", "book", "A1", "x"),
		readIntent(t, "r1", "book", "A1:C10"), // overlaps the write, not contained
		readIntent(t, "r2", "book", "F1:F5"),  // independent
	}

	plans, _ := c.Compile(intents)
	calls := plans[0].Calls
	if len(calls) != 3 {
		t.Fatalf("calls = %d, want 3", len(calls))
	}
	if calls[0].Kind != CallRead || calls[0].IntentIDs[0] != "r2" {
		t.Errorf("first call = %+v, want independent read r2", calls[0])
	}
	if calls[1].Kind != CallWriteBatch {
		t.Errorf("second call = %+v, want the write batch", calls[1])
	}
	if calls[2].Kind != CallRead || calls[2].IntentIDs[0] != "r1" {
		t.Errorf("third call = %+v, want overlapping read r1", calls[2])
	}
}
