package filterpipe

import (
	"testing"

	"csvengine/internal/csvio"
)

func buildChunk(t *testing.T, header []string, rows [][]string) *csvio.Chunk {
	t.Helper()
	cols := csvio.NewColumnSet(header)
	chunk := csvio.NewChunk(cols, len(rows))
	for _, r := range rows {
		row := csvio.GetRow(len(header))
		copy(row.Cells, r)
		chunk.Rows = append(chunk.Rows, row)
	}
	return chunk
}

// TestBasicFilterScenario reproduces spec.md §8 seed scenario 1 verbatim.
func TestBasicFilterScenario(t *testing.T) {
	header := []string{"key", "RawSlope170", "RawSlope270", "TrailingFactor", "Lane", "Ignore", "TestDateUTC"}
	rows := [][]string{
		{"a", "", "", "0.20", "LSK1", "false", "T1"},
		{"b", "10", "", "0.10", "L1", "false", "T2"},
		{"c", "10", "20", "0.20", "L1", "true", "T3"},
		{"d", "", "", "0.20", "L1", "false", "T4"},
		{"e", "10", "20", "0.20", "L1", "false", "T5"},
	}
	chunk := buildChunk(t, header, rows)

	result := Apply(chunk)

	if result.Kept.Len() != 1 {
		t.Fatalf("want 1 kept row, got %d", result.Kept.Len())
	}
	if result.Kept.Rows[0].Cells[0] != "e" {
		t.Fatalf("want kept row 'e', got %q", result.Kept.Rows[0].Cells[0])
	}

	want := map[string]int64{ReasonLane: 1, ReasonTrailing: 1, ReasonIgnore: 1, ReasonSlopesMissing: 1}
	for reason, n := range want {
		if result.Dropped[reason] != n {
			t.Fatalf("reason %s: got %d, want %d (full: %+v)", reason, result.Dropped[reason], n, result.Dropped)
		}
	}
}

func TestTrailingFactorBoundary(t *testing.T) {
	header := []string{"key", "TrailingFactor"}
	rows := [][]string{
		{"a", "0.15"},       // kept: exactly at threshold
		{"b", "0.14999999"}, // dropped: just under
	}
	chunk := buildChunk(t, header, rows)
	result := Apply(chunk)

	if result.Kept.Len() != 1 || result.Kept.Rows[0].Cells[0] != "a" {
		t.Fatalf("boundary case failed: kept=%d", result.Kept.Len())
	}
	if result.Dropped[ReasonTrailing] != 1 {
		t.Fatalf("want 1 trailing drop, got %d", result.Dropped[ReasonTrailing])
	}
}

func TestTrailingFactorMalformedRoutesToOwnCounter(t *testing.T) {
	header := []string{"key", "TrailingFactor"}
	rows := [][]string{{"a", "not-a-number"}}
	chunk := buildChunk(t, header, rows)
	result := Apply(chunk)

	if result.Kept.Len() != 0 {
		t.Fatalf("malformed trailing factor should be dropped")
	}
	if result.Dropped[ReasonMalformedNumeric] != 1 {
		t.Fatalf("want malformed_numeric counter incremented, got %+v", result.Dropped)
	}
	if result.Dropped[ReasonTrailing] != 0 {
		t.Fatalf("malformed value should not also count under trailing")
	}
}

func TestSlopeSymmetryZeroMaxYDrops(t *testing.T) {
	header := []string{"key", "tsdSlopeMinY", "tsdSlopeMaxY"}
	rows := [][]string{{"a", "1", "0"}}
	chunk := buildChunk(t, header, rows)
	result := Apply(chunk)

	if result.Kept.Len() != 0 {
		t.Fatalf("zero maxY should drop the row")
	}
	if result.Dropped[ReasonSlopeSymmetry] != 1 {
		t.Fatalf("want slope_symmetry counter incremented, got %+v", result.Dropped)
	}
}

func TestMissingColumnsAreNoOps(t *testing.T) {
	// None of the optional columns are present; only the natural key
	// predicate applies.
	header := []string{"key"}
	rows := [][]string{{"a"}, {""}}
	chunk := buildChunk(t, header, rows)
	result := Apply(chunk)

	if result.Kept.Len() != 1 {
		t.Fatalf("want 1 kept row when only the key predicate applies, got %d", result.Kept.Len())
	}
	if result.Dropped[ReasonEmptyKey] != 1 {
		t.Fatalf("want empty_key drop counted, got %+v", result.Dropped)
	}
}

func TestApplyParallelMatchesSequential(t *testing.T) {
	header := []string{"key", "RawSlope170", "RawSlope270", "TrailingFactor", "Lane", "Ignore"}
	var rows [][]string
	for i := 0; i < 97; i++ {
		rows = append(rows, []string{"k", "10", "20", "0.20", "L1", "false"})
	}
	chunk := buildChunk(t, header, rows)
	seq := Apply(chunk)

	chunk2 := buildChunk(t, header, rows)
	par := ApplyParallel(chunk2, 4)

	if seq.Kept.Len() != par.Kept.Len() {
		t.Fatalf("parallel/sequential mismatch: seq=%d par=%d", seq.Kept.Len(), par.Kept.Len())
	}
}
