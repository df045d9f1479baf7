// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package grid models spreadsheet ranges in A1 notation.
//
// Ranges are stored as half-open intervals per dimension, which makes
// overlap and containment tests uniform and keeps cache invalidation
// exact. Equivalent A1 spellings (lowercase columns, reversed corners,
// redundant sheet quoting) normalize to one canonical form so they
// collide to the same cache key.
package grid

import (
	"fmt"
	"strconv"
	"strings"
)

// Unbounded marks an open end of a dimension (full-column or full-row
// ranges). It compares greater than any concrete index.
const Unbounded = -1

// Range is a rectangular region of one sheet.
//
// Columns and rows are 0-based, half-open: [StartCol, EndCol) and
// [StartRow, EndRow). EndCol or EndRow may be Unbounded for
// full-column / full-row ranges.
type Range struct {
	// Sheet is the sheet name. Empty means the resource's default sheet.
	Sheet string

	StartCol int
	EndCol   int
	StartRow int
	EndRow   int
}

// ParseRange parses an A1-notation range such as "Sheet1!A1:C10",
// "'My Sheet'!B2", "A:C", or "1:3".
//
// Inputs:
//   - s: A1-notation range. A bare cell ("B2") is a 1x1 range.
//
// Outputs:
//   - Range: The parsed, normalized range.
//   - error: Non-nil if the notation is malformed.
func ParseRange(s string) (Range, error) {
	var r Range

	rest := s
	if i := strings.LastIndex(s, "!"); i >= 0 {
		r.Sheet = unquoteSheet(s[:i])
		rest = s[i+1:]
	}
	if rest == "" {
		return Range{}, fmt.Errorf("grid: empty range in %q", s)
	}

	first, second, found := strings.Cut(rest, ":")
	if !found {
		second = first
	}

	c1, r1, err := parseCell(first)
	if err != nil {
		return Range{}, fmt.Errorf("grid: bad range %q: %w", s, err)
	}
	c2, r2, err := parseCell(second)
	if err != nil {
		return Range{}, fmt.Errorf("grid: bad range %q: %w", s, err)
	}

	r.StartCol, r.EndCol = span(c1, c2)
	r.StartRow, r.EndRow = span(r1, r2)

	// "A1:B" style mixed references are ambiguous; reject rather than guess.
	if (c1 == Unbounded) != (c2 == Unbounded) || (r1 == Unbounded) != (r2 == Unbounded) {
		return Range{}, fmt.Errorf("grid: mixed bounded/unbounded corners in %q", s)
	}
	if r.StartCol == Unbounded && r.StartRow == Unbounded {
		return Range{}, fmt.Errorf("grid: range %q selects nothing", s)
	}
	if r.StartCol == Unbounded {
		r.StartCol, r.EndCol = 0, Unbounded
	}
	if r.StartRow == Unbounded {
		r.StartRow, r.EndRow = 0, Unbounded
	}
	return r, nil
}

// MustRange parses s and panics on error. Intended for tests and
// compile-time-constant ranges.
func MustRange(s string) Range {
	r, err := ParseRange(s)
	if err != nil {
		panic(err)
	}
	return r
}

// span orders two corner indices into a half-open interval.
func span(a, b int) (start, end int) {
	if a == Unbounded || b == Unbounded {
		return Unbounded, Unbounded
	}
	if a > b {
		a, b = b, a
	}
	return a, b + 1
}

// parseCell splits "C10" into column and row indices. Either part may
// be absent ("C" for a full column, "10" for a full row); the absent
// dimension is reported as Unbounded.
func parseCell(cell string) (col, row int, err error) {
	if cell == "" {
		return 0, 0, fmt.Errorf("empty cell reference")
	}
	i := 0
	for i < len(cell) && isColLetter(cell[i]) {
		i++
	}
	colPart, rowPart := cell[:i], cell[i:]

	col = Unbounded
	if colPart != "" {
		col = 0
		for _, ch := range strings.ToUpper(colPart) {
			col = col*26 + int(ch-'A'+1)
		}
		col-- // 0-based
	}

	row = Unbounded
	if rowPart != "" {
		n, convErr := strconv.Atoi(rowPart)
		if convErr != nil || n < 1 {
			return 0, 0, fmt.Errorf("bad row in cell %q", cell)
		}
		row = n - 1
	}
	if col == Unbounded && row == Unbounded {
		return 0, 0, fmt.Errorf("unparseable cell %q", cell)
	}
	return col, row, nil
}

func isColLetter(b byte) bool {
	return (b >= 'A' && b <= 'Z') || (b >= 'a' && b <= 'z')
}

func unquoteSheet(s string) string {
	if len(s) >= 2 && s[0] == '\'' && s[len(s)-1] == '\'' {
		return strings.ReplaceAll(s[1:len(s)-1], "''", "'")
	}
	return s
}

// ColName converts a 0-based column index to its letter form (0 -> "A",
// 26 -> "AA").
func ColName(col int) string {
	name := ""
	for col >= 0 {
		name = string(rune('A'+col%26)) + name
		col = col/26 - 1
	}
	return name
}

// String renders the canonical A1 form. Equal ranges always render
// identically, so String doubles as a map key.
func (r Range) String() string {
	var b strings.Builder
	if r.Sheet != "" {
		if strings.ContainsAny(r.Sheet, " !'") {
			b.WriteString("'" + strings.ReplaceAll(r.Sheet, "'", "''") + "'")
		} else {
			b.WriteString(r.Sheet)
		}
		b.WriteByte('!')
	}
	switch {
	case r.EndRow == Unbounded && r.EndCol != Unbounded:
		b.WriteString(ColName(r.StartCol) + ":" + ColName(r.EndCol-1))
	case r.EndCol == Unbounded && r.EndRow != Unbounded:
		b.WriteString(strconv.Itoa(r.StartRow+1) + ":" + strconv.Itoa(r.EndRow))
	default:
		b.WriteString(ColName(r.StartCol) + strconv.Itoa(r.StartRow+1))
		if r.EndCol != r.StartCol+1 || r.EndRow != r.StartRow+1 {
			b.WriteString(":" + ColName(r.EndCol-1) + strconv.Itoa(r.EndRow))
		}
	}
	return b.String()
}

// Width returns the column count, or Unbounded for full-row ranges.
func (r Range) Width() int {
	if r.EndCol == Unbounded {
		return Unbounded
	}
	return r.EndCol - r.StartCol
}

// Height returns the row count, or Unbounded for full-column ranges.
func (r Range) Height() int {
	if r.EndRow == Unbounded {
		return Unbounded
	}
	return r.EndRow - r.StartRow
}

// intervalOverlaps reports whether two half-open intervals intersect.
// An Unbounded end behaves as +infinity.
func intervalOverlaps(aStart, aEnd, bStart, bEnd int) bool {
	if aEnd != Unbounded && aEnd <= bStart {
		return false
	}
	if bEnd != Unbounded && bEnd <= aStart {
		return false
	}
	return true
}

// Overlaps reports whether r and other share at least one cell.
// Ranges on different sheets never overlap.
func (r Range) Overlaps(other Range) bool {
	if r.Sheet != other.Sheet {
		return false
	}
	return intervalOverlaps(r.StartCol, r.EndCol, other.StartCol, other.EndCol) &&
		intervalOverlaps(r.StartRow, r.EndRow, other.StartRow, other.EndRow)
}

// Contains reports whether other lies entirely within r.
func (r Range) Contains(other Range) bool {
	if r.Sheet != other.Sheet {
		return false
	}
	return intervalContains(r.StartCol, r.EndCol, other.StartCol, other.EndCol) &&
		intervalContains(r.StartRow, r.EndRow, other.StartRow, other.EndRow)
}

func intervalContains(aStart, aEnd, bStart, bEnd int) bool {
	if bStart < aStart {
		return false
	}
	if aEnd == Unbounded {
		return true
	}
	return bEnd != Unbounded && bEnd <= aEnd
}

// Union returns the bounding box of r and other. Both must be on the
// same sheet; the caller checks Overlaps or adjacency first if a tight
// union is required.
func (r Range) Union(other Range) Range {
	out := Range{
		Sheet:    r.Sheet,
		StartCol: min(r.StartCol, other.StartCol),
		StartRow: min(r.StartRow, other.StartRow),
	}
	out.EndCol = maxEnd(r.EndCol, other.EndCol)
	out.EndRow = maxEnd(r.EndRow, other.EndRow)
	return out
}

func maxEnd(a, b int) int {
	if a == Unbounded || b == Unbounded {
		return Unbounded
	}
	return max(a, b)
}

// CellCount returns the number of cells, or Unbounded for open ranges.
func (r Range) CellCount() int {
	w, h := r.Width(), r.Height()
	if w == Unbounded || h == Unbounded {
		return Unbounded
	}
	return w * h
}
