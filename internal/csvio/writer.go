// writer.go implements the Chunk Writer (spec.md §4.4): append rows to a
// staging file under the job's temp directory, then atomically rename into
// place, rotating any pre-existing output into a timestamped backup and
// verifying arity post-rename. Grounded on go-app's
// internal/importer/vehicletech/pipeline.go writerFn staging idiom,
// generalized to the spec's atomic-rename/backup/verify contract.
package csvio

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"csvengine/internal/errs"
)

// Writer accumulates rows into a staging file and finalizes them into an
// output path with backup rotation and verification.
type Writer struct {
	stagingPath string
	outputPath  string
	columns     *ColumnSet
	maxBackups  int
	backupMaxAge time.Duration

	f      *os.File
	csvW   *csv.Writer
	closed bool
}

// NewWriter opens a staging file inside tempDir and writes the header row.
// It fails with errs.CrossFilesystemStaging if tempDir and the output
// path's directory are not on the same filesystem (checked via a rename
// probe, matching spec.md §4.4's "errors at open time" contract).
func NewWriter(tempDir, outputPath string, columns *ColumnSet, maxBackups int, backupMaxAge time.Duration) (*Writer, error) {
	if err := checkSameFilesystem(tempDir, filepath.Dir(outputPath)); err != nil {
		return nil, err
	}

	stagingPath := filepath.Join(tempDir, "staging.csv")
	f, err := os.Create(stagingPath)
	if err != nil {
		return nil, errs.Wrap(errs.IoFatal, "writer", "create staging file", err)
	}

	w := &Writer{
		stagingPath:  stagingPath,
		outputPath:   outputPath,
		columns:      columns,
		maxBackups:   maxBackups,
		backupMaxAge: backupMaxAge,
		f:            f,
		csvW:         csv.NewWriter(f),
	}
	if err := w.csvW.Write(columns.Names); err != nil {
		f.Close()
		return nil, errs.Wrap(errs.IoFatal, "writer", "write header to staging file", err)
	}
	return w, nil
}

// checkSameFilesystem verifies two directories are on the same filesystem
// by creating a zero-byte probe file in a and renaming it into b; a failed
// rename is reported as errs.CrossFilesystemStaging. Device ids are not
// compared.
func checkSameFilesystem(a, b string) error {
	probe := filepath.Join(a, ".fs-probe")
	f, err := os.Create(probe)
	if err != nil {
		return errs.Wrap(errs.IoFatal, "writer", "create filesystem probe file", err)
	}
	f.Close()
	defer os.Remove(probe)

	target := filepath.Join(b, ".fs-probe-target")
	if err := os.Rename(probe, target); err != nil {
		return errs.Wrap(errs.CrossFilesystemStaging, "writer", "staging directory and output directory are not on the same filesystem", err)
	}
	os.Remove(target)
	return nil
}

// Append writes every row in chunk to the staging file, in order. Append
// order equals chunk-production order, and chunk-production order equals
// append-call order (spec.md §4.4's write-discipline invariant).
func (w *Writer) Append(chunk *Chunk) error {
	arity := w.columns.Arity()
	for _, row := range chunk.Rows {
		if len(row.Cells) != arity {
			return errs.New(errs.IoFatal, "writer", fmt.Sprintf("row arity %d does not match column arity %d", len(row.Cells), arity))
		}
		if err := w.csvW.Write(row.Cells); err != nil {
			return errs.Wrap(errs.IoFatal, "writer", "write row to staging file", err)
		}
	}
	return nil
}

// RowsWritten is tracked by the caller (Stats), not here: the writer
// itself is a dumb append sink, matching the teacher's thin writer style.

// Abort releases the staging file handle without finalizing, for use on
// an error or cancellation path where Finalize will never run. Safe to
// call after Finalize (a no-op) and safe to call multiple times.
func (w *Writer) Abort() error {
	if w.closed {
		return nil
	}
	w.closed = true
	return w.f.Close()
}

// Finalize flushes the staging file, rotates any pre-existing output into
// a timestamped backup, atomically renames staging into place, then
// verifies the result's header arity. On verification failure, the backup
// is restored and errs.OutputVerificationFailed is returned.
func (w *Writer) Finalize() error {
	w.csvW.Flush()
	if err := w.csvW.Error(); err != nil {
		return errs.Wrap(errs.IoFatal, "writer", "flush staging file", err)
	}
	if err := w.f.Close(); err != nil {
		return errs.Wrap(errs.IoFatal, "writer", "close staging file", err)
	}
	w.closed = true

	var backupPath string
	if _, err := os.Stat(w.outputPath); err == nil {
		backupPath = backupNameFor(w.outputPath, time.Now().UTC())
		if err := os.Rename(w.outputPath, backupPath); err != nil {
			return errs.Wrap(errs.IoFatal, "writer", "rotate existing output to backup", err)
		}
	}

	if err := os.Rename(w.stagingPath, w.outputPath); err != nil {
		// Restore backup, if any, since the output slot is now empty.
		if backupPath != "" {
			_ = os.Rename(backupPath, w.outputPath)
		}
		return errs.Wrap(errs.IoFatal, "writer", "rename staging file to output path", err)
	}

	if err := w.verify(); err != nil {
		if backupPath != "" {
			_ = os.Remove(w.outputPath)
			_ = os.Rename(backupPath, w.outputPath)
		}
		return err
	}

	if err := pruneBackups(w.outputPath, w.maxBackups, w.backupMaxAge); err != nil {
		// Backup pruning failure does not invalidate a successful write.
		return nil
	}
	return nil
}

// verify opens the finalized file and checks its header arity matches the
// expected ColumnSet (spec.md §4.4).
func (w *Writer) verify() error {
	f, err := os.Open(w.outputPath)
	if err != nil {
		return errs.Wrap(errs.OutputVerificationFailed, "writer", "open finalized output for verification", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	header, err := r.Read()
	if err != nil {
		return errs.Wrap(errs.OutputVerificationFailed, "writer", "read finalized output header", err)
	}
	if len(header) != w.columns.Arity() {
		return errs.New(errs.OutputVerificationFailed, "writer", fmt.Sprintf("finalized output arity %d does not match expected %d", len(header), w.columns.Arity()))
	}
	return nil
}

// backupNameFor computes "<stem>_backup_<YYYYMMDDThhmmss>.<ext>" within the
// same directory as path, per spec.md §6.
func backupNameFor(path string, at time.Time) string {
	dir := filepath.Dir(path)
	base := filepath.Base(path)
	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)
	stamp := at.Format("20060102T150405")
	return filepath.Join(dir, fmt.Sprintf("%s_backup_%s%s", stem, stamp, ext))
}

// pruneBackups retains at most maxBackups backup files for path, deleting
// the oldest beyond that limit, and additionally deletes any backup older
// than backupMaxAge (SPEC_FULL.md §9 supplemented feature).
func pruneBackups(path string, maxBackups int, backupMaxAge time.Duration) error {
	dir := filepath.Dir(path)
	base := filepath.Base(path)
	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)
	prefix := stem + "_backup_"

	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}

	type backup struct {
		path string
		name string
	}
	var backups []backup
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if strings.HasPrefix(name, prefix) && strings.HasSuffix(name, ext) {
			backups = append(backups, backup{path: filepath.Join(dir, name), name: name})
		}
	}
	// Lexicographic order on the timestamp-suffixed name is chronological
	// because the stamp format is fixed-width and zero-padded.
	sort.Slice(backups, func(i, j int) bool { return backups[i].name < backups[j].name })

	now := time.Now().UTC()
	for _, b := range backups {
		if backupMaxAge > 0 {
			if info, err := os.Stat(b.path); err == nil {
				if now.Sub(info.ModTime()) > backupMaxAge {
					os.Remove(b.path)
				}
			}
		}
	}

	// Re-scan after age-based pruning to compute the count-based limit.
	entries, err = os.ReadDir(dir)
	if err != nil {
		return err
	}
	backups = backups[:0]
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if strings.HasPrefix(name, prefix) && strings.HasSuffix(name, ext) {
			backups = append(backups, backup{path: filepath.Join(dir, name), name: name})
		}
	}
	sort.Slice(backups, func(i, j int) bool { return backups[i].name < backups[j].name })

	if maxBackups <= 0 || len(backups) <= maxBackups {
		return nil
	}
	toDelete := backups[:len(backups)-maxBackups]
	for _, b := range toDelete {
		os.Remove(b.path)
	}
	return nil
}
