// reader.go implements the chunked CSV reader that feeds the Streaming
// Processor: decode per the Header Probe's detected encoding, split on the
// detected delimiter, and hand back pooled Rows in fixed-size Chunks.
// Grounded on Creditcheck-etl_pipeline/etl/internal/parser/csv/stream_rows.go's
// header-aligned pooled-row streaming, combined with go-app's
// internal/csvutil.go tolerant-line-reading idiom for quoted multi-line rows.
package csvio

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"

	"golang.org/x/text/transform"

	"csvengine/internal/errs"
)

// Reader streams a probed CSV file in fixed-size chunks. It is not safe
// for concurrent use; a single Reader is owned by one processor at a time
// (spec.md §3 ownership rules).
type Reader struct {
	f       *os.File
	csvR    *csv.Reader
	columns *ColumnSet
	lineNo  int64
	size    int64
	bytesRd int64
}

// countingReader tracks bytes consumed so the caller can compute
// approx_fraction_done from bytes read over file size, as required by
// spec.md §4.5 ("not row count").
type countingReader struct {
	r   io.Reader
	n   *int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	*c.n += int64(n)
	return n, err
}

// OpenReader opens path for chunked reading using the encoding and
// delimiter already detected by ProbeFile, and consumes the header line.
func OpenReader(path string, probe *Probe) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errs.Wrap(errs.IoFatal, "reader", "open input file", err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, errs.Wrap(errs.IoFatal, "reader", "stat input file", err)
	}

	enc, err := encodingByName(probe.Encoding)
	if err != nil {
		f.Close()
		return nil, errs.Wrap(errs.HeaderUnreadable, "reader", "unsupported encoding", err)
	}

	rd := &Reader{f: f, columns: probe.Columns, size: info.Size()}
	counted := &countingReader{r: f, n: &rd.bytesRd}
	decoded := transform.NewReader(counted, enc.NewDecoder())

	cr := csv.NewReader(decoded)
	cr.Comma = probe.Delimiter
	cr.FieldsPerRecord = -1 // tolerate ragged rows; arity is enforced by the caller
	cr.LazyQuotes = true
	rd.csvR = cr

	// Consume and discard the header line; the ColumnSet is already known
	// from the probe.
	if _, err := cr.Read(); err != nil && err != io.EOF {
		f.Close()
		return nil, errs.Wrap(errs.HeaderUnreadable, "reader", "read header line", err)
	}
	rd.lineNo = 1

	return rd, nil
}

// ReadChunk reads up to n rows into a freshly allocated Chunk. Rows
// shorter than the column arity are padded with empty cells; rows longer
// are truncated — both cases preserve the fixed arity invariant (spec.md
// §3) while never losing track of a malformed row. io.EOF is returned
// (wrapped with the chunk, which may be non-empty) when the file is
// exhausted.
func (r *Reader) ReadChunk(n int) (*Chunk, error) {
	chunk := NewChunk(r.columns, n)
	arity := r.columns.Arity()

	for i := 0; i < n; i++ {
		rec, err := r.csvR.Read()
		if err == io.EOF {
			return chunk, io.EOF
		}
		if err != nil {
			chunk.FreeAll()
			return nil, errs.Wrap(errs.IoFatal, "reader", fmt.Sprintf("parse row at line %d", r.lineNo+1), err)
		}
		r.lineNo++

		row := GetRow(arity)
		for c := 0; c < arity; c++ {
			if c < len(rec) {
				row.Cells[c] = rec[c]
			} else {
				row.Cells[c] = ""
			}
		}
		row.Line = r.lineNo
		chunk.Rows = append(chunk.Rows, row)
	}
	return chunk, nil
}

// BytesRead returns the number of raw (pre-decode) bytes consumed so far,
// used to compute approx_fraction_done.
func (r *Reader) BytesRead() int64 { return r.bytesRd }

// Size returns the total file size in bytes, as observed at open time.
func (r *Reader) Size() int64 { return r.size }

// Close releases the underlying file handle.
func (r *Reader) Close() error { return r.f.Close() }
