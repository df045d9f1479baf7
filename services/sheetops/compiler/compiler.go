// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package compiler turns pending intents into the fewest safe remote
// calls.
//
// Compilation is per resource: intents for different spreadsheets
// compile independently, and a conflict in one resource never aborts
// another's plan. Within a resource the pipeline is:
//
//  1. Satisfy reads from the cache, then from staged writes in the
//     same compile set.
//  2. Merge overlapping same-range writes last-write-wins.
//  3. Order mutations structural > format > value writes (structural
//     changes invalidate the coordinates later steps rely on), ties
//     broken by submission order.
//  4. Coalesce adjacent compatible ops into batch calls up to the
//     configured maximum batch size.
//
// Compilation is deterministic: the same intent set with no
// intervening cache change yields a structurally identical call
// sequence.
//
// The compiler never talks to the remote; dispatch belongs to the
// governor's gate.
package compiler

import (
	"fmt"
	"log/slog"
	"sort"

	"github.com/AleutianAI/sheetops/services/sheetops/cache"
	"github.com/AleutianAI/sheetops/services/sheetops/grid"
	"github.com/AleutianAI/sheetops/services/sheetops/intent"
	"github.com/AleutianAI/sheetops/services/sheetops/remote"
)

// DefaultMaxBatchSize is the default op count per batch call.
const DefaultMaxBatchSize = 20

// Config configures the Compiler.
type Config struct {
	// MaxBatchSize caps ops per compiled batch call. Oversized groups
	// split, preserving order. Default: DefaultMaxBatchSize.
	MaxBatchSize int

	// Logger for compile decisions. Default: slog.Default().
	Logger *slog.Logger
}

// Compiler compiles intents into remote call plans. The cache is
// injected so satisfied reads never reach the compile set.
//
// Thread Safety: Safe for concurrent use; the compiler itself is
// stateless between Compile calls.
type Compiler struct {
	cache  *cache.Manager
	config Config
	logger *slog.Logger
}

// New creates a Compiler.
//
// Inputs:
//   - cacheManager: Read cache consulted during compilation. May be
//     nil, disabling cache satisfaction.
//   - config: Compiler configuration; zero values get defaults.
func New(cacheManager *cache.Manager, config Config) *Compiler {
	if config.MaxBatchSize <= 0 {
		config.MaxBatchSize = DefaultMaxBatchSize
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &Compiler{cache: cacheManager, config: config, logger: config.Logger}
}

// Compile produces one Plan per resource plus per-resource failures.
//
// Inputs:
//   - intents: The pending intents, in submission order (Seq set).
//
// Outputs:
//   - []Plan: Plans for resources that compiled, ordered by resource id.
//   - []ResourceError: Conflicts, one per failed resource.
func (c *Compiler) Compile(intents []intent.Intent) ([]Plan, []ResourceError) {
	byResource := partition(intents)

	ids := make([]string, 0, len(byResource))
	for id := range byResource {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var plans []Plan
	var failures []ResourceError
	for _, id := range ids {
		plan, err := c.compileResource(id, byResource[id])
		if err != nil {
			failures = append(failures, ResourceError{SpreadsheetID: id, Err: err})
			continue
		}
		plans = append(plans, plan)
	}
	return plans, failures
}

// Preview runs the full compile pipeline without any remote effect.
// Used for every intent carrying SafetyOptions.DryRun.
func (c *Compiler) Preview(intents []intent.Intent) Preview {
	plans, failures := c.Compile(intents)
	return Preview{Plans: plans, Failures: failures}
}

// partition splits intents by target resource, preserving order.
func partition(intents []intent.Intent) map[string][]intent.Intent {
	out := make(map[string][]intent.Intent)
	for _, in := range intents {
		id := in.Target.SpreadsheetID
		out[id] = append(out[id], in)
	}
	return out
}

func (c *Compiler) compileResource(spreadsheetID string, intents []intent.Intent) (Plan, error) {
	plan := Plan{SpreadsheetID: spreadsheetID}

	if err := checkStructuralConflicts(spreadsheetID, intents); err != nil {
		return Plan{}, err
	}

	// Stable submission order.
	ordered := append([]intent.Intent(nil), intents...)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Seq < ordered[j].Seq })

	// Pass 1: resolve reads against the cache and staged writes;
	// merge overlapping same-range writes last-write-wins.
	var mutations []intent.Intent
	var reads []intent.Intent
	merged := make(map[string][]string) // surviving id -> merged-away ids
	for _, in := range ordered {
		if in.Kind != intent.KindRead {
			mutations = stageWrite(mutations, in, merged)
			continue
		}

		if staged, ok := readFromStaged(mutations, in); ok {
			plan.StagedReads = append(plan.StagedReads, StagedRead{IntentID: in.ID, Value: staged})
			continue
		}
		if c.cache != nil {
			if v, ok := c.cache.Get(spreadsheetID, in.Target.Range); ok {
				plan.CachedReads = append(plan.CachedReads, CachedRead{IntentID: in.ID, Value: v})
				continue
			}
		}
		reads = append(reads, in)
	}

	// Pass 2: order mutations structural > format > value writes,
	// stable on submission order.
	sort.SliceStable(mutations, func(i, j int) bool {
		return mutationRank(mutations[i]) < mutationRank(mutations[j])
	})

	// Reads that overlap a staged mutation observe post-write state;
	// independent reads dispatch first.
	var preReads, postReads []intent.Intent
	for _, r := range reads {
		if overlapsAny(r, mutations) {
			postReads = append(postReads, r)
		} else {
			preReads = append(preReads, r)
		}
	}

	for _, r := range preReads {
		plan.Calls = append(plan.Calls, readCall(spreadsheetID, r))
	}
	plan.Calls = append(plan.Calls, c.coalesce(spreadsheetID, mutations, merged)...)
	for _, r := range postReads {
		plan.Calls = append(plan.Calls, readCall(spreadsheetID, r))
	}

	c.logger.Debug("compiled resource",
		"spreadsheet_id", spreadsheetID,
		"intents", len(intents),
		"calls", len(plan.Calls),
		"cached_reads", len(plan.CachedReads),
		"staged_reads", len(plan.StagedReads),
	)
	return plan, nil
}

// mutationRank orders mutations: structural changes first because they
// invalidate coordinate-based references, then formats, then values.
func mutationRank(in intent.Intent) int {
	switch in.Kind {
	case intent.KindRestructure:
		return 0
	case intent.KindFormat:
		return 1
	default:
		return 2
	}
}

// stageWrite appends a mutation, merging it into an earlier write
// with the identical range: later cells win per field. Partially
// overlapping writes stay separate; dispatch order already gives
// last-write-wins at the remote. Merged-away intent ids are recorded
// under the surviving intent's id.
func stageWrite(mutations []intent.Intent, in intent.Intent, merged map[string][]string) []intent.Intent {
	if in.Kind != intent.KindWrite {
		return append(mutations, in)
	}
	for i := len(mutations) - 1; i >= 0; i-- {
		prev := mutations[i]
		if prev.Kind != intent.KindWrite || prev.Target.Range != in.Target.Range {
			continue
		}
		prev.Payload.Values = mergeValues(prev.Payload.Values, in.Payload.Values)
		mutations[i] = prev
		merged[prev.ID] = append(merged[prev.ID], in.ID)
		return mutations
	}
	return append(mutations, in)
}

// mergeValues overlays b onto a cell-wise; b's non-nil cells win.
func mergeValues(a, b [][]any) [][]any {
	rows := max(len(a), len(b))
	out := make([][]any, rows)
	for i := 0; i < rows; i++ {
		var ra, rb []any
		if i < len(a) {
			ra = a[i]
		}
		if i < len(b) {
			rb = b[i]
		}
		cols := max(len(ra), len(rb))
		out[i] = make([]any, cols)
		copy(out[i], ra)
		for j, v := range rb {
			if v != nil {
				out[i][j] = v
			}
		}
	}
	return out
}

// readFromStaged satisfies a read from a prior staged write when the
// read range lies entirely within the write's range.
func readFromStaged(mutations []intent.Intent, r intent.Intent) (remote.ValueRange, bool) {
	for i := len(mutations) - 1; i >= 0; i-- {
		w := mutations[i]
		if w.Kind != intent.KindWrite {
			// A structural change between the write and the read
			// shifts coordinates; fall through to a remote read.
			if w.Kind == intent.KindRestructure && w.Target.Range.Sheet == r.Target.Range.Sheet {
				return remote.ValueRange{}, false
			}
			continue
		}
		if !w.Target.Range.Contains(r.Target.Range) {
			continue
		}
		return sliceStaged(w, r.Target.Range), true
	}
	return remote.ValueRange{}, false
}

// sliceStaged cuts the read window out of a staged write's values.
// Unbounded read edges clip to the write's populated extent, so a
// full-column read over a staged column write returns the staged rows.
func sliceStaged(w intent.Intent, rng grid.Range) remote.ValueRange {
	wr := w.Target.Range
	win := rng
	if win.EndRow == grid.Unbounded {
		win.EndRow = wr.StartRow + len(w.Payload.Values)
	}
	if win.EndCol == grid.Unbounded {
		width := 0
		for _, vals := range w.Payload.Values {
			width = max(width, len(vals))
		}
		win.EndCol = wr.StartCol + width
	}
	win.EndRow = max(win.EndRow, win.StartRow)
	win.EndCol = max(win.EndCol, win.StartCol)

	out := remote.ValueRange{Range: win}
	for r := win.StartRow; r < win.EndRow; r++ {
		row := make([]any, 0, win.Width())
		for col := win.StartCol; col < win.EndCol; col++ {
			ri, ci := r-wr.StartRow, col-wr.StartCol
			if ri < len(w.Payload.Values) && ci < len(w.Payload.Values[ri]) {
				row = append(row, w.Payload.Values[ri][ci])
			} else {
				row = append(row, nil)
			}
		}
		out.Values = append(out.Values, row)
	}
	return out
}

func overlapsAny(r intent.Intent, mutations []intent.Intent) bool {
	for _, m := range mutations {
		if m.Target.Range.Sheet == r.Target.Range.Sheet &&
			(m.Kind == intent.KindRestructure || m.Target.Range.Overlaps(r.Target.Range)) {
			return true
		}
	}
	return false
}

func readCall(spreadsheetID string, r intent.Intent) Call {
	return Call{
		Kind:           CallRead,
		SpreadsheetID:  spreadsheetID,
		ReadRange:      r.Target.Range,
		AffectedRanges: []grid.Range{r.Target.Range},
		IntentIDs:      []string{r.ID},
	}
}

// coalesce folds ordered mutations into batch calls. A batch extends
// while the next op has the same type and a disjoint range; it splits
// at MaxBatchSize, preserving order.
func (c *Compiler) coalesce(spreadsheetID string, mutations []intent.Intent, merged map[string][]string) []Call {
	var calls []Call
	var cur *Call
	var curType remote.OpType

	flush := func() {
		if cur != nil && len(cur.Ops) > 0 {
			calls = append(calls, *cur)
		}
		cur = nil
	}

	for _, m := range mutations {
		op := toOp(m)
		compatible := cur != nil &&
			op.Type == curType &&
			len(cur.Ops) < c.config.MaxBatchSize &&
			disjointFromAll(op.Range, cur.AffectedRanges)
		if !compatible {
			flush()
			cur = &Call{
				Kind:          CallWriteBatch,
				SpreadsheetID: spreadsheetID,
				Structural:    op.Type.Structural(),
			}
			curType = op.Type
		}
		cur.Ops = append(cur.Ops, op)
		cur.AffectedRanges = append(cur.AffectedRanges, op.Range)
		cur.IntentIDs = append(cur.IntentIDs, m.ID)
		cur.IntentIDs = append(cur.IntentIDs, merged[m.ID]...)
	}
	flush()
	return calls
}

func disjointFromAll(rng grid.Range, ranges []grid.Range) bool {
	for _, r := range ranges {
		if r.Overlaps(rng) {
			return false
		}
	}
	return true
}

// toOp lowers one mutation intent to its wire operation.
func toOp(m intent.Intent) remote.Op {
	switch m.Kind {
	case intent.KindWrite:
		return remote.Op{Type: remote.OpUpdateValues, Range: m.Target.Range, Values: m.Payload.Values}
	case intent.KindFormat:
		return remote.Op{Type: remote.OpFormat, Range: m.Target.Range, Format: m.Payload.Format}
	case intent.KindRestructure:
		return remote.Op{
			Type:  structuralOpType(m.Payload.Structural),
			Range: m.Target.Range,
			Count: m.Payload.Count,
		}
	}
	// Unreachable for validated intents.
	return remote.Op{}
}

func structuralOpType(op intent.StructuralOp) remote.OpType {
	switch op {
	case intent.OpInsertRows:
		return remote.OpInsertRows
	case intent.OpDeleteRows:
		return remote.OpDeleteRows
	case intent.OpInsertColumns:
		return remote.OpInsertColumns
	case intent.OpDeleteColumns:
		return remote.OpDeleteColumns
	case intent.OpAddSheet:
		return remote.OpAddSheet
	default:
		return remote.OpDeleteSheet
	}
}

// checkStructuralConflicts rejects structural intent combinations
// whose interaction through coordinate shifts is ambiguous. Rather
// than guessing a resolution, ambiguity is a conflict: the caller
// splits the work across submissions.
func checkStructuralConflicts(spreadsheetID string, intents []intent.Intent) error {
	var structural []intent.Intent
	for _, in := range intents {
		if in.Kind == intent.KindRestructure {
			structural = append(structural, in)
		}
	}

	for i := 0; i < len(structural); i++ {
		a := structural[i]
		// Deleting a sheet conflicts with any other intent on it.
		if a.Payload.Structural == intent.OpDeleteSheet {
			for _, other := range intents {
				if other.ID != a.ID && other.Target.Range.Sheet == a.Target.Range.Sheet {
					return &intent.ConflictError{
						SpreadsheetID: spreadsheetID,
						IntentIDs:     []string{a.ID, other.ID},
						Reason:        fmt.Sprintf("sheet %q is deleted in the same compile", a.Target.Range.Sheet),
					}
				}
			}
			continue
		}
		for j := i + 1; j < len(structural); j++ {
			b := structural[j]
			if b.Payload.Structural == intent.OpDeleteSheet || a.Target.Range.Sheet != b.Target.Range.Sheet {
				continue
			}
			if !compatibleStructural(a, b) {
				return &intent.ConflictError{
					SpreadsheetID: spreadsheetID,
					IntentIDs:     []string{a.ID, b.ID},
					Reason:        "structural operations interact through coordinate shifts",
				}
			}
		}
	}
	return nil
}

// compatibleStructural allows two structural ops on one sheet only
// when they are the same operation on disjoint ranges; anything else
// shifts the other's coordinates.
func compatibleStructural(a, b intent.Intent) bool {
	if a.Payload.Structural != b.Payload.Structural {
		return false
	}
	if a.Payload.Structural == intent.OpAddSheet {
		return false // two adds of the same sheet
	}
	return !a.Target.Range.Overlaps(b.Target.Range)
}
