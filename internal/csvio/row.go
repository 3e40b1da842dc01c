// Package csvio implements the engine's CSV data plane: header probing,
// the pooled Row/Chunk data model, the chunked reader, and the
// atomic-rename chunk writer.
package csvio

import "sync"

// ColumnSet is the ordered, unique column list derived from a file's
// header. Every Row produced against a ColumnSet has exactly this arity,
// in this order (spec.md §3).
type ColumnSet struct {
	Names []string
	index map[string]int
}

// NewColumnSet builds a ColumnSet from an ordered header line.
func NewColumnSet(names []string) *ColumnSet {
	idx := make(map[string]int, len(names))
	for i, n := range names {
		idx[n] = i
	}
	return &ColumnSet{Names: names, index: idx}
}

// Arity returns the number of columns.
func (c *ColumnSet) Arity() int { return len(c.Names) }

// IndexOf returns the column position of name, or -1 if the column is not
// present. A missing column turns the corresponding filter predicate into
// a no-op (spec.md §4.2).
func (c *ColumnSet) IndexOf(name string) int {
	if i, ok := c.index[name]; ok {
		return i
	}
	return -1
}

// Has reports whether name is present in the ColumnSet.
func (c *ColumnSet) Has(name string) bool { return c.IndexOf(name) >= 0 }

// Row is a fixed-arity vector of string cells in column order, mirroring
// the teacher's pooled Row type (Creditcheck-etl_pipeline
// internal/transformer/rowpool.go), generalized from an []any payload to
// the plain []string the spec's typed data-frame layer calls for.
type Row struct {
	Cells []string
	Line  int64 // 1-based input line number, for diagnostics.
}

var rowPool = sync.Pool{
	New: func() any { return &Row{} },
}

// GetRow returns a pooled Row sized to arity, reusing its backing array
// when possible.
func GetRow(arity int) *Row {
	r := rowPool.Get().(*Row)
	if cap(r.Cells) < arity {
		r.Cells = make([]string, arity)
	} else {
		r.Cells = r.Cells[:arity]
	}
	return r
}

// Free returns r to the pool for reuse. Only call this when no other
// goroutine can still observe r — e.g. after it has been fully written or
// dropped. See Drop for the cancellation-safe alternative.
func (r *Row) Free() {
	for i := range r.Cells {
		r.Cells[i] = ""
	}
	rowPool.Put(r)
}

// Drop discards r without returning it to the pool. Used on cancellation
// or error paths where another goroutine downstream might still hold a
// reference, to avoid a reuse race (grounded on rowpool.go's Drop/Free
// split).
func (r *Row) Drop() {}

// Chunk is a contiguous run of rows loaded together. Chunks are owned by
// whichever component is currently processing them and never outlive a
// single read/process/write cycle (spec.md §3).
type Chunk struct {
	Rows    []*Row
	Columns *ColumnSet
}

// NewChunk allocates an empty chunk with capacity for n rows.
func NewChunk(columns *ColumnSet, n int) *Chunk {
	return &Chunk{Rows: make([]*Row, 0, n), Columns: columns}
}

// Len returns the number of rows currently in the chunk.
func (c *Chunk) Len() int { return len(c.Rows) }

// FreeAll returns every row in the chunk to the pool and clears the slice.
// Call this once a chunk has been fully written and will not be reused.
func (c *Chunk) FreeAll() {
	for _, r := range c.Rows {
		r.Free()
	}
	c.Rows = c.Rows[:0]
}
