// Package filterpipe implements the six fixed, ordered filter predicates
// from spec.md §4.2. Each predicate contributes to its own drop counter; a
// column not present in the chunk's ColumnSet turns the corresponding
// predicate into a no-op. Grounded on go-app/internal/pcv/pcv.go's
// predicate-as-pure-function style (small functions taking a row view,
// returning a decision).
package filterpipe

import (
	"strconv"
	"strings"

	"csvengine/internal/csvio"
)

// Column names the spec's predicates are keyed on.
const (
	colRawSlope170    = "RawSlope170"
	colRawSlope270    = "RawSlope270"
	colTrailingFactor = "TrailingFactor"
	colSlopeMinY      = "tsdSlopeMinY"
	colSlopeMaxY      = "tsdSlopeMaxY"
	colLane           = "Lane"
	colIgnore         = "Ignore"
)

const trailingFactorThreshold = 0.15
const slopeSymmetryThreshold = 0.15

// Drop reason counter names. "malformed_numeric" is the supplemented
// counter from SPEC_FULL.md §4 resolving spec.md §9's first open question:
// a non-numeric TrailingFactor is tracked separately from an in-range
// numeric value that simply falls below the threshold.
const (
	ReasonEmptyKey          = "empty_key"
	ReasonSlopesMissing     = "slopes_missing"
	ReasonTrailing          = "trailing"
	ReasonMalformedNumeric  = "malformed_numeric"
	ReasonSlopeSymmetry     = "slope_symmetry"
	ReasonLane              = "lane"
	ReasonIgnore            = "ignore"
)

// Result is the outcome of running the pipeline over one chunk.
type Result struct {
	Kept    *csvio.Chunk
	Dropped map[string]int64
}

// Apply runs the six predicates, in order, over every row in chunk. Rows
// failing predicate k are dropped under that predicate's reason and never
// evaluated against predicate k+1.
func Apply(chunk *csvio.Chunk) Result {
	cols := chunk.Columns
	kept := csvio.NewChunk(cols, chunk.Len())
	dropped := make(map[string]int64, 6)

	keyIdx := 0 // spec.md §3: "the first column is the file's natural key"
	slope170Idx := cols.IndexOf(colRawSlope170)
	slope270Idx := cols.IndexOf(colRawSlope270)
	trailingIdx := cols.IndexOf(colTrailingFactor)
	minYIdx := cols.IndexOf(colSlopeMinY)
	maxYIdx := cols.IndexOf(colSlopeMaxY)
	laneIdx := cols.IndexOf(colLane)
	ignoreIdx := cols.IndexOf(colIgnore)

	for _, row := range chunk.Rows {
		reason, ok := evaluate(row, keyIdx, slope170Idx, slope270Idx, trailingIdx, minYIdx, maxYIdx, laneIdx, ignoreIdx)
		if !ok {
			dropped[reason]++
			row.Drop()
			continue
		}
		kept.Rows = append(kept.Rows, row)
	}
	return Result{Kept: kept, Dropped: dropped}
}

// evaluate runs all six predicates over a single row, short-circuiting on
// the first failure (the drop reason is returned alongside ok=false).
func evaluate(row *csvio.Row, keyIdx, slope170Idx, slope270Idx, trailingIdx, minYIdx, maxYIdx, laneIdx, ignoreIdx int) (string, bool) {
	// 1. Non-empty natural key.
	if strings.TrimSpace(cellAt(row, keyIdx)) == "" {
		return ReasonEmptyKey, false
	}

	// 2. Slope presence: if both slope columns exist, at least one must be
	// non-empty.
	if slope170Idx >= 0 && slope270Idx >= 0 {
		a := strings.TrimSpace(cellAt(row, slope170Idx))
		b := strings.TrimSpace(cellAt(row, slope270Idx))
		if a == "" && b == "" {
			return ReasonSlopesMissing, false
		}
	}

	// 3. Trailing factor >= 0.15; non-numeric is dropped under a dedicated
	// malformed counter (SPEC_FULL.md §4 / spec.md §9 resolved).
	if trailingIdx >= 0 {
		raw := strings.TrimSpace(cellAt(row, trailingIdx))
		if raw == "" {
			// Absent value on an optional-typed column: treated as "value
			// absent", so the predicate is a no-op for this row.
		} else {
			v, err := strconv.ParseFloat(raw, 64)
			if err != nil {
				return ReasonMalformedNumeric, false
			}
			if v < trailingFactorThreshold {
				return ReasonTrailing, false
			}
		}
	}

	// 4. Slope symmetry: if both tsdSlopeMinY and tsdSlopeMaxY exist,
	// abs(minY)/maxY >= 0.15; a zero maxY drops the row (division by zero
	// is unsafe, per spec.md §9's resolved open question).
	if minYIdx >= 0 && maxYIdx >= 0 {
		minRaw := strings.TrimSpace(cellAt(row, minYIdx))
		maxRaw := strings.TrimSpace(cellAt(row, maxYIdx))
		if minRaw != "" && maxRaw != "" {
			minY, errMin := strconv.ParseFloat(minRaw, 64)
			maxY, errMax := strconv.ParseFloat(maxRaw, 64)
			if errMin == nil && errMax == nil {
				if maxY == 0 {
					return ReasonSlopeSymmetry, false
				}
				if absFloat(minY)/maxY < slopeSymmetryThreshold {
					return ReasonSlopeSymmetry, false
				}
			}
		}
	}

	// 5. Lane whitelist: value must not contain "SK" (case-sensitive).
	if laneIdx >= 0 {
		lane := cellAt(row, laneIdx)
		if strings.Contains(lane, "SK") {
			return ReasonLane, false
		}
	}

	// 6. Ignore flag: textual value, lowercased and trimmed, must not be a
	// truthy marker.
	if ignoreIdx >= 0 {
		v := strings.ToLower(strings.TrimSpace(cellAt(row, ignoreIdx)))
		if v == "true" || v == "1" || v == "yes" {
			return ReasonIgnore, false
		}
	}

	return "", true
}

func cellAt(row *csvio.Row, idx int) string {
	if idx < 0 || idx >= len(row.Cells) {
		return ""
	}
	return row.Cells[idx]
}

func absFloat(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}
