// Package foldermerge implements the Folder Merger (spec.md §4.6): process
// every CSV file in a directory with the Streaming Processor against one
// shared DedupSet, then concatenate the resulting staging files in
// lexicographic enumeration order into a single finalized output. Grounded
// on go-app/internal/importer/vehicletech/pipeline.go's ImportVehicleTech
// top-level orchestrator shape (open → prepare → run stages → aggregate →
// summarize), applied across a directory of files instead of one.
package foldermerge

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"csvengine/internal/csvio"
	"csvengine/internal/dedup"
	"csvengine/internal/errs"
	"csvengine/internal/jobctx"
	"csvengine/internal/processor"
	"csvengine/internal/progress"
)

// Options configures a folder-merge run. ProcessorOptions is applied,
// unmodified, to every file's Streaming Processor invocation except that
// each file writes to its own staging path rather than the final output.
type Options struct {
	ProcessorOptions processor.Options
	AllowedExtensions []string // e.g. [".csv"]; empty means no extension filter
}

// Run enumerates every file directly under dirPath matching
// AllowedExtensions (lexicographic order), validates they share one
// ColumnSet, processes each into a private staging file against one shared
// dedup.Set, and concatenates the results into outputPath.
func Run(ctx context.Context, jc *jobctx.Context, dirPath, outputPath string, opts Options) error {
	opts.ProcessorOptions.Reporter.Emit(progress.Event{Kind: progress.EventStart, Component: "foldermerge", Message: dirPath})

	files, err := enumerateFiles(dirPath, opts.AllowedExtensions)
	if err != nil {
		return attachJobContext(err, jc)
	}
	if len(files) == 0 {
		return attachJobContext(errs.New(errs.EmptyInput, "foldermerge", "directory contains no eligible input files"), jc)
	}

	var columns *csvio.ColumnSet
	sharedDedup := dedup.New(jc.TempDir, opts.ProcessorOptions.MaxMemKeys)
	defer sharedDedup.Close()

	stagingPaths := make([]string, 0, len(files))

	for i, f := range files {
		if ctx.Err() != nil || (opts.ProcessorOptions.Cancel != nil && opts.ProcessorOptions.Cancel.IsSet()) {
			return attachJobContext(errs.New(errs.Cancelled, "foldermerge", "cancelled between files"), jc)
		}

		probe, err := csvio.ProbeFile(f)
		if err != nil {
			return attachJobContext(err, jc)
		}
		if columns == nil {
			columns = probe.Columns
		} else if !sameColumns(columns, probe.Columns) {
			return attachJobContext(errs.New(errs.SchemaMismatch, "foldermerge", fmt.Sprintf("file %q columns %v do not match first file's columns %v", f, probe.Columns.Names, columns.Names)), jc)
		}

		stagingPath := jc.NewArtifact(fmt.Sprintf("merge_stage_%04d.csv", i)).Path
		fileOpts := opts.ProcessorOptions
		if err := processor.Run(ctx, jc, f, stagingPath, fileOpts, sharedDedup); err != nil {
			return err
		}
		stagingPaths = append(stagingPaths, stagingPath)

		opts.ProcessorOptions.Reporter.Emit(progress.Event{
			Kind:      progress.EventStage,
			Component: "foldermerge",
			Stage:     "file_complete",
			Message:   f,
		})
	}

	if err := concatenate(stagingPaths, columns, outputPath, jc.TempDir, opts.ProcessorOptions.MaxBackups, opts.ProcessorOptions.BackupMaxAge); err != nil {
		return attachJobContext(err, jc)
	}

	opts.ProcessorOptions.Reporter.Emit(progress.Event{Kind: progress.EventDone, Component: "foldermerge", Message: fmt.Sprintf("files_merged=%d", len(files))})
	return nil
}

// enumerateFiles lists the regular files directly under dir, filtered by
// extension if allowedExtensions is non-empty, in lexicographic order by
// name (spec.md §4.6's "deterministic and reproducible" requirement).
func enumerateFiles(dir string, allowedExtensions []string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errs.Wrap(errs.IoFatal, "foldermerge", "read input directory", err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if len(allowedExtensions) > 0 && !hasAllowedExtension(e.Name(), allowedExtensions) {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	paths := make([]string, 0, len(names))
	for _, n := range names {
		paths = append(paths, filepath.Join(dir, n))
	}
	return paths, nil
}

func hasAllowedExtension(name string, allowed []string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	for _, a := range allowed {
		if strings.ToLower(a) == ext {
			return true
		}
	}
	return false
}

// sameColumns reports whether two ColumnSets have identical names in the
// identical order (spec.md §4.6: "identical ColumnSet or rejected").
func sameColumns(a, b *csvio.ColumnSet) bool {
	if a.Arity() != b.Arity() {
		return false
	}
	for i, n := range a.Names {
		if b.Names[i] != n {
			return false
		}
	}
	return true
}

// concatenate writes the header once, then appends every staging file's
// body (skipping its header line) into a fresh Writer, and finalizes it per
// spec.md §4.4's atomic-rename/backup/verify contract. Bodies are not
// byte-copied: each staging row is parsed with encoding/csv and re-encoded
// through the Writer.
func concatenate(stagingPaths []string, columns *csvio.ColumnSet, outputPath, tempDir string, maxBackups int, backupMaxAge time.Duration) error {
	writer, err := csvio.NewWriter(tempDir, outputPath, columns, maxBackups, backupMaxAge)
	if err != nil {
		return err
	}
	defer writer.Abort()

	for _, sp := range stagingPaths {
		if err := appendBody(writer, sp, columns); err != nil {
			return err
		}
	}
	return writer.Finalize()
}

// appendBody reads sp's header (to discard it) and streams its remaining
// rows into writer one chunk at a time.
func appendBody(writer *csvio.Writer, path string, columns *csvio.ColumnSet) error {
	f, err := os.Open(path)
	if err != nil {
		return errs.Wrap(errs.IoFatal, "foldermerge", "open staging file for concatenation", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	if _, err := r.Read(); err != nil && err != io.EOF {
		return errs.Wrap(errs.IoFatal, "foldermerge", "read staging header", err)
	}

	const batchSize = 10_000
	for {
		chunk := csvio.NewChunk(columns, batchSize)
		done := false
		for i := 0; i < batchSize; i++ {
			rec, err := r.Read()
			if err == io.EOF {
				done = true
				break
			}
			if err != nil {
				chunk.FreeAll()
				return errs.Wrap(errs.IoFatal, "foldermerge", "read staging row", err)
			}
			row := csvio.GetRow(len(rec))
			copy(row.Cells, rec)
			chunk.Rows = append(chunk.Rows, row)
		}
		if chunk.Len() > 0 {
			if err := writer.Append(chunk); err != nil {
				chunk.FreeAll()
				return err
			}
		}
		chunk.FreeAll()
		if done {
			break
		}
	}
	return nil
}

func attachJobContext(err error, jc *jobctx.Context) error {
	var e *errs.Error
	if as, ok := err.(*errs.Error); ok {
		e = as
	} else {
		e = errs.Wrap(errs.IoFatal, "foldermerge", err.Error(), err)
	}
	return e.WithStats(jc.Stats.Snapshot()).WithCorrelation(jc.CorrelationID)
}
