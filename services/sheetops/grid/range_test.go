// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package grid

import "testing"

func TestParseRange(t *testing.T) {
	tests := []struct {
		name  string
		in    string
		want  string
		isErr bool
	}{
		{name: "cell", in: "B2", want: "B2"},
		{name: "rect", in: "A1:C10", want: "A1:C10"},
		{name: "with sheet", in: "Sheet1!A1:C10", want: "Sheet1!A1:C10"},
		{name: "quoted sheet", in: "'My Sheet'!A1", want: "'My Sheet'!A1"},
		{name: "lowercase normalizes", in: "a1:c10", want: "A1:C10"},
		{name: "reversed corners normalize", in: "C10:A1", want: "A1:C10"},
		{name: "full columns", in: "A:C", want: "A:C"},
		{name: "full rows", in: "2:5", want: "2:5"},
		{name: "double letter column", in: "AA10", want: "AA10"},
		{name: "empty", in: "", isErr: true},
		{name: "empty after sheet", in: "Sheet1!", isErr: true},
		{name: "mixed corners", in: "A1:B", isErr: true},
		{name: "zero row", in: "A0", isErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := ParseRange(tt.in)
			if tt.isErr {
				if err == nil {
					t.Fatalf("ParseRange(%q) = %v, want error", tt.in, r)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseRange(%q): %v", tt.in, err)
			}
			if got := r.String(); got != tt.want {
				t.Errorf("ParseRange(%q).String() = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestRangeNormalizationCollides(t *testing.T) {
	// Equivalent spellings must produce identical keys.
	a := MustRange("sheet1!a1:c10")
	b := MustRange("sheet1!C10:A1")
	if a.String() != b.String() {
		t.Errorf("equivalent ranges got distinct keys %q and %q", a, b)
	}
}

func TestOverlaps(t *testing.T) {
	tests := []struct {
		name string
		a, b string
		want bool
	}{
		{name: "identical", a: "A1:C10", b: "A1:C10", want: true},
		{name: "disjoint columns", a: "A1:A5", b: "B1:B5", want: false},
		{name: "disjoint rows", a: "A1:C5", b: "A6:C10", want: false},
		{name: "corner touch is overlap", a: "A1:B2", b: "B2:C3", want: true},
		{name: "half-open adjacency", a: "A1:A5", b: "A6:A9", want: false},
		{name: "contained", a: "A1:C10", b: "B2:B3", want: true},
		{name: "full column intersects rect", a: "B:B", b: "A1:C10", want: true},
		{name: "full column misses rect", a: "D:D", b: "A1:C10", want: false},
		{name: "full row intersects", a: "3:3", b: "A1:C10", want: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, b := MustRange(tt.a), MustRange(tt.b)
			if got := a.Overlaps(b); got != tt.want {
				t.Errorf("%v.Overlaps(%v) = %v, want %v", a, b, got, tt.want)
			}
			if got := b.Overlaps(a); got != tt.want {
				t.Errorf("overlap is not symmetric for %v / %v", a, b)
			}
		})
	}
}

func TestOverlapsDifferentSheets(t *testing.T) {
	a := MustRange("Alpha!A1:C10")
	b := MustRange("Beta!A1:C10")
	if a.Overlaps(b) {
		t.Error("ranges on different sheets must not overlap")
	}
}

func TestContains(t *testing.T) {
	outer := MustRange("A1:D10")
	if !outer.Contains(MustRange("B2:C3")) {
		t.Error("B2:C3 should be inside A1:D10")
	}
	if outer.Contains(MustRange("C5:E6")) {
		t.Error("C5:E6 leaks outside A1:D10")
	}
	if !MustRange("B:B").Contains(MustRange("B1:B500")) {
		t.Error("full column should contain any of its cells")
	}
	if MustRange("B1:B500").Contains(MustRange("B:B")) {
		t.Error("bounded range cannot contain an unbounded one")
	}
}

func TestUnion(t *testing.T) {
	got := MustRange("A1:B2").Union(MustRange("C3:D4"))
	if got.String() != "A1:D4" {
		t.Errorf("union = %v, want A1:D4", got)
	}
	open := MustRange("A1:B2").Union(MustRange("C:C"))
	if open.EndRow != Unbounded {
		t.Errorf("union with full column should be row-unbounded, got %v", open)
	}
}

func TestColName(t *testing.T) {
	for _, tt := range []struct {
		col  int
		want string
	}{{0, "A"}, {25, "Z"}, {26, "AA"}, {51, "AZ"}, {52, "BA"}, {701, "ZZ"}, {702, "AAA"}} {
		if got := ColName(tt.col); got != tt.want {
			t.Errorf("ColName(%d) = %q, want %q", tt.col, got, tt.want)
		}
	}
}

func TestCellCount(t *testing.T) {
	if got := MustRange("A1:C10").CellCount(); got != 30 {
		t.Errorf("CellCount = %d, want 30", got)
	}
	if got := MustRange("A:C").CellCount(); got != Unbounded {
		t.Errorf("open range CellCount = %d, want Unbounded", got)
	}
}
