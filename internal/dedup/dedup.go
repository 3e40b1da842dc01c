// Package dedup implements the DedupSet state machine from spec.md §4.3
// and §3: a hash set of canonical keys in memory, transparently spilling
// to a disk-backed unique store once MAX_MEM_KEYS would be exceeded. The
// transition is one-way and atomic; the set is owned by exactly one
// pipeline at a time. Memory-form hashing is grounded on
// github.com/zeebo/xxh3 bucketing (a direct dependency of the teacher's
// sibling etl module); the spill store is modernc.org/sqlite, grounded on
// internal/db/postgres.go's "interface seam + production wrapper" pattern
// applied to a single-table key store.
package dedup

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"

	"github.com/zeebo/xxh3"
	_ "modernc.org/sqlite"

	"csvengine/internal/errs"
)

// Set is a membership set of canonical keys with transparent memory→disk
// spill. It is not safe for concurrent use — the streaming processor owns
// it exclusively, per spec.md §5's shared-resource policy.
type Set struct {
	maxMemKeys int
	tempDir    string

	spilled bool
	mem     map[uint64][]string // xxh3 bucket -> full keys sharing that bucket
	memLen  int

	db *sql.DB
}

// New creates a Set that spills to a sqlite file inside tempDir once its
// memory-form size would exceed maxMemKeys on the next insert.
func New(tempDir string, maxMemKeys int) *Set {
	return &Set{
		maxMemKeys: maxMemKeys,
		tempDir:    tempDir,
		mem:        make(map[uint64][]string),
	}
}

// ContainsOrInsert returns true if key was already present (the caller
// must drop the row); false if key was newly inserted. Insertion is
// idempotent: calling this twice with the same key is safe and only the
// first call returns false.
func (s *Set) ContainsOrInsert(key string) (bool, error) {
	if s.spilled {
		return s.containsOrInsertSpill(key)
	}

	h := xxh3.HashString(key)
	bucket := s.mem[h]
	for _, k := range bucket {
		if k == key {
			return true, nil
		}
	}

	if s.memLen+1 > s.maxMemKeys {
		if err := s.spillToDisk(); err != nil {
			return false, errs.Wrap(errs.DedupSpillFailed, "dedup", "memory-to-spill transition failed", err)
		}
		return s.containsOrInsertSpill(key)
	}

	s.mem[h] = append(bucket, key)
	s.memLen++
	return false, nil
}

// spillToDisk performs the one-way MemMode→SpillMode transition: open the
// sqlite spill store, copy every existing key into it under a single
// transaction, and discard the in-memory representation. If the
// transition fails partway, the job fails with DedupSpillFailed and the
// in-memory set is left untouched (the caller surfaces the error and
// aborts the job rather than risk a partially-migrated set).
func (s *Set) spillToDisk() error {
	path := filepath.Join(s.tempDir, "dedup_spill.sqlite")
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return fmt.Errorf("open spill store: %w", err)
	}

	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS dedup_keys (canonical_key TEXT PRIMARY KEY)`); err != nil {
		db.Close()
		return fmt.Errorf("create spill table: %w", err)
	}

	tx, err := db.Begin()
	if err != nil {
		db.Close()
		return fmt.Errorf("begin spill transaction: %w", err)
	}
	stmt, err := tx.Prepare(`INSERT OR IGNORE INTO dedup_keys (canonical_key) VALUES (?)`)
	if err != nil {
		tx.Rollback()
		db.Close()
		return fmt.Errorf("prepare spill insert: %w", err)
	}
	for _, bucket := range s.mem {
		for _, k := range bucket {
			if _, err := stmt.Exec(k); err != nil {
				stmt.Close()
				tx.Rollback()
				db.Close()
				return fmt.Errorf("spill insert key: %w", err)
			}
		}
	}
	stmt.Close()
	if err := tx.Commit(); err != nil {
		db.Close()
		return fmt.Errorf("commit spill transaction: %w", err)
	}

	s.db = db
	s.spilled = true
	s.mem = nil // once spilled, the set never returns to memory form
	return nil
}

// containsOrInsertSpill performs one indexed lookup + possibly one insert
// against the disk-backed store, retrying a transient I/O error once
// before surfacing it as fatal (spec.md §4.3's failure semantics).
func (s *Set) containsOrInsertSpill(key string) (bool, error) {
	res, err := s.db.Exec(`INSERT OR IGNORE INTO dedup_keys (canonical_key) VALUES (?)`, key)
	if err != nil {
		// Retry once for a transient failure.
		res, err = s.db.Exec(`INSERT OR IGNORE INTO dedup_keys (canonical_key) VALUES (?)`, key)
		if err != nil {
			return false, errs.Wrap(errs.IoFatal, "dedup", "spill store insert failed after retry", err)
		}
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, errs.Wrap(errs.IoFatal, "dedup", "spill store rows-affected check failed", err)
	}
	// n == 0 means INSERT OR IGNORE found a conflicting primary key: the
	// row was already present.
	return n == 0, nil
}

// Spilled reports whether the set has transitioned to disk-backed storage.
func (s *Set) Spilled() bool { return s.spilled }

// Len returns the number of distinct keys currently tracked. In spill
// mode this issues a COUNT query.
func (s *Set) Len(ctx context.Context) (int, error) {
	if !s.spilled {
		return s.memLen, nil
	}
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM dedup_keys`).Scan(&n)
	return n, err
}

// Close releases the spill store's database handle, if one was opened.
// The backing file itself is removed with the job's temp directory
// (spec.md §3's TempArtifact lifecycle), not here.
func (s *Set) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
