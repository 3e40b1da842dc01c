// Package indexjoin implements the column-add mode (spec.md §4.7-§4.8):
// build a sorted key→carry-columns index over the "LMD" file, then stream
// the "Details" file and enrich each row by looking up its canonicalized
// TestDateUTC key. Grounded on the same modernc.org/sqlite storage
// primitive as internal/dedup (the teacher pack's recurring "embedded
// key-value table" idiom), reused here for the Index Builder's sorted run
// storage rather than a bespoke merge-sort file format (spec.md §4.7).
package indexjoin

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"

	"csvengine/internal/canon"
	"csvengine/internal/csvio"
	"csvengine/internal/errs"
)

const timestampColumn = "TestDateUTC"

// carrySeparator joins a row's carry-column values into one stored TEXT
// cell. It is the ASCII unit separator, chosen because it will not appear
// in ordinary telemetry field values.
const carrySeparator = "\x1f"

// blockIndexStride controls how densely the in-memory sparse block index
// samples the sorted key space: one sampled (key, rowid) pair every this
// many entries. Actual point lookups go through SQLite's own primary-key
// B-tree index; the sparse sample only supports cheap approximate
// position estimates (e.g. progress reporting) without a disk round trip.
const blockIndexStride = 4096

// blockEntry is one sample in the sparse in-memory block index.
type blockEntry struct {
	key   string
	rowid int64
}

// Index is the Index Builder's output: a sorted, deduplicated key→carry
// mapping backed by an embedded SQLite file plus a sparse in-memory
// sample of its key ordering.
type Index struct {
	db           *sql.DB
	path         string
	carryColumns []string
	entries      int64
	blocks       []blockEntry
}

// BuildIndex streams lmdPath in chunks, extracts (canonical_key, row_idx,
// carry_values) tuples for carryColumns, and inserts them into a fresh
// SQLite-backed run file under tempDir. Duplicate keys keep only the
// first occurrence (spec.md §4.7), enforced by INSERT OR IGNORE against a
// TEXT PRIMARY KEY. runBytes bounds how much estimated tuple payload
// accumulates before a batch is committed, modeling spec.md §4.7's
// memory-bounded run flush without a second bespoke file format.
func BuildIndex(ctx context.Context, tempDir, lmdPath string, carryColumns []string, runBytes int64, chunkSize int, maxFileBytes int64) (*Index, error) {
	probe, err := csvio.ProbeFile(lmdPath)
	if err != nil {
		return nil, err
	}
	keyIdx := probe.Columns.IndexOf(timestampColumn)
	if keyIdx < 0 {
		return nil, errs.New(errs.SchemaMismatch, "indexjoin", fmt.Sprintf("LMD file is missing required key column %q", timestampColumn))
	}
	carryIdx := make([]int, len(carryColumns))
	for i, c := range carryColumns {
		carryIdx[i] = probe.Columns.IndexOf(c)
		if carryIdx[i] < 0 {
			return nil, errs.New(errs.SchemaMismatch, "indexjoin", fmt.Sprintf("LMD file is missing requested carry column %q", c))
		}
	}

	path := filepath.Join(tempDir, "index_run.sqlite")
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errs.Wrap(errs.IndexBuildFailed, "indexjoin", "open index run store", err)
	}
	idx := &Index{db: db, path: path, carryColumns: carryColumns}

	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS index_entries (canonical_key TEXT PRIMARY KEY, row_idx INTEGER NOT NULL, carry_values TEXT NOT NULL)`); err != nil {
		db.Close()
		return nil, errs.Wrap(errs.IndexBuildFailed, "indexjoin", "create index run table", err)
	}

	reader, err := csvio.OpenReader(lmdPath, probe)
	if err != nil {
		db.Close()
		return nil, err
	}
	defer reader.Close()

	if maxFileBytes > 0 && reader.Size() > maxFileBytes {
		db.Close()
		_ = os.Remove(path)
		return nil, errs.New(errs.InputTooLarge, "indexjoin", fmt.Sprintf("LMD file %s is %d bytes, exceeds max_file_bytes=%d", lmdPath, reader.Size(), maxFileBytes))
	}

	if err := idx.ingest(ctx, reader, keyIdx, carryIdx, runBytes, chunkSize); err != nil {
		db.Close()
		_ = os.Remove(path)
		return nil, err
	}

	if err := idx.buildBlockIndex(ctx); err != nil {
		db.Close()
		_ = os.Remove(path)
		return nil, err
	}

	return idx, nil
}

// ingest reads lmdPath in chunks until EOF, inserting every row's tuple
// into the run store.
func (idx *Index) ingest(ctx context.Context, reader *csvio.Reader, keyIdx int, carryIdx []int, runBytes int64, chunkSize int) error {
	var rowIdx int64
	for {
		chunk, readErr := reader.ReadChunk(chunkSize)
		if readErr != nil && readErr != io.EOF {
			return errs.Wrap(errs.IndexBuildFailed, "indexjoin", "read LMD chunk", readErr)
		}
		if err := idx.ingestChunk(ctx, chunk, keyIdx, carryIdx, &rowIdx, runBytes); err != nil {
			chunk.FreeAll()
			return err
		}
		chunk.FreeAll()
		if readErr == io.EOF {
			return nil
		}
	}
}

func (idx *Index) ingestChunk(ctx context.Context, chunk *csvio.Chunk, keyIdx int, carryIdx []int, rowIdx *int64, runBytes int64) error {
	tx, err := idx.db.BeginTx(ctx, nil)
	if err != nil {
		return errs.Wrap(errs.IndexBuildFailed, "indexjoin", "begin index run transaction", err)
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT OR IGNORE INTO index_entries (canonical_key, row_idx, carry_values) VALUES (?, ?, ?)`)
	if err != nil {
		tx.Rollback()
		return errs.Wrap(errs.IndexBuildFailed, "indexjoin", "prepare index run insert", err)
	}

	var batchBytes int64
	for _, row := range chunk.Rows {
		key := canon.Key(cellAt(row, keyIdx))
		carryVals := make([]string, len(carryIdx))
		for i, ci := range carryIdx {
			carryVals[i] = cellAt(row, ci)
		}
		joined := strings.Join(carryVals, carrySeparator)

		res, err := stmt.ExecContext(ctx, key, *rowIdx, joined)
		if err != nil {
			stmt.Close()
			tx.Rollback()
			return errs.Wrap(errs.IndexBuildFailed, "indexjoin", "insert index run row", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			stmt.Close()
			tx.Rollback()
			return errs.Wrap(errs.IndexBuildFailed, "indexjoin", "index run rows-affected check", err)
		}
		// n == 0 means INSERT OR IGNORE found a conflicting primary key: the
		// key was already indexed from an earlier row (first occurrence
		// wins), so it must not be counted as a new distinct entry.
		if n > 0 {
			idx.entries++
		}
		*rowIdx++
		batchBytes += int64(len(key) + len(joined))

		if runBytes > 0 && batchBytes >= runBytes {
			// Commit this run and start a fresh transaction for the rest
			// of the chunk, bounding how much uncommitted state the
			// database engine holds at once (spec.md §4.7's run-size
			// budget, applied to transaction batching instead of a
			// separate run file).
			stmt.Close()
			if err := tx.Commit(); err != nil {
				return errs.Wrap(errs.IndexBuildFailed, "indexjoin", "commit index run", err)
			}
			tx, err = idx.db.BeginTx(ctx, nil)
			if err != nil {
				return errs.Wrap(errs.IndexBuildFailed, "indexjoin", "begin index run transaction", err)
			}
			stmt, err = tx.PrepareContext(ctx, `INSERT OR IGNORE INTO index_entries (canonical_key, row_idx, carry_values) VALUES (?, ?, ?)`)
			if err != nil {
				tx.Rollback()
				return errs.Wrap(errs.IndexBuildFailed, "indexjoin", "prepare index run insert", err)
			}
			batchBytes = 0
		}
	}
	stmt.Close()
	return tx.Commit()
}

// buildBlockIndex samples the now-fully-populated, key-ordered table every
// blockIndexStride rows into an in-memory slice (spec.md §4.7's "sparse
// in-memory block index").
func (idx *Index) buildBlockIndex(ctx context.Context) error {
	rows, err := idx.db.QueryContext(ctx, `SELECT canonical_key, rowid FROM index_entries ORDER BY canonical_key`)
	if err != nil {
		return errs.Wrap(errs.IndexBuildFailed, "indexjoin", "scan index run for block sampling", err)
	}
	defer rows.Close()

	var n int64
	for rows.Next() {
		var key string
		var rowid int64
		if err := rows.Scan(&key, &rowid); err != nil {
			return errs.Wrap(errs.IndexBuildFailed, "indexjoin", "scan block sample row", err)
		}
		if n%blockIndexStride == 0 {
			idx.blocks = append(idx.blocks, blockEntry{key: key, rowid: rowid})
		}
		n++
	}
	return rows.Err()
}

// Lookup returns the carry column values for key, looked up via SQLite's
// primary-key index (the authoritative point-lookup path; the in-memory
// block sample is advisory only).
func (idx *Index) Lookup(ctx context.Context, key string) ([]string, bool, error) {
	var joined string
	err := idx.db.QueryRowContext(ctx, `SELECT carry_values FROM index_entries WHERE canonical_key = ?`, key).Scan(&joined)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errs.Wrap(errs.IoFatal, "indexjoin", "index lookup failed", err)
	}
	return strings.Split(joined, carrySeparator), true, nil
}

// EntryCount returns the number of distinct keys indexed.
func (idx *Index) EntryCount() int64 { return idx.entries }

// EstimatePosition returns the approximate rowid of the last sampled block
// whose key is <= key, via binary search over the sparse in-memory block
// index. It is advisory only (used for progress estimation), never for
// correctness — Lookup always does the authoritative point query.
func (idx *Index) EstimatePosition(key string) int64 {
	lo, hi := 0, len(idx.blocks)-1
	best := int64(0)
	for lo <= hi {
		mid := (lo + hi) / 2
		if idx.blocks[mid].key <= key {
			best = idx.blocks[mid].rowid
			lo = mid + 1
		} else {
			hi = mid - 1
		}
	}
	return best
}

// CarryColumns returns the carry column names, in the fixed order they
// were requested (spec.md §4.8's "fixed order" requirement).
func (idx *Index) CarryColumns() []string { return idx.carryColumns }

// Close releases the index's database handle. The backing file is removed
// with the job's temp directory, per spec.md §4.7's failure/cleanup
// semantics.
func (idx *Index) Close() error {
	if idx.db != nil {
		return idx.db.Close()
	}
	return nil
}

func cellAt(row *csvio.Row, idx int) string {
	if idx < 0 || idx >= len(row.Cells) {
		return ""
	}
	return row.Cells[idx]
}
