// Package processor implements the Streaming Processor (spec.md §4.5): the
// single-file orchestrator that drives probe → chunked read → filter →
// dedup → write. Grounded on go-app's
// internal/importer/vehicletech/pipeline.go channel-staged pipeline
// (rawCh/parsedCh/encodedCh, sync.WaitGroup per stage, context.Context
// cancellation), simplified to the spec's strictly single-threaded
// read/filter/dedup/write stages — only filter evaluation may
// parallelize across row-partitions, per spec.md §5.
package processor

import (
	"context"
	"fmt"
	"io"
	"time"

	"csvengine/internal/canon"
	"csvengine/internal/csvio"
	"csvengine/internal/dedup"
	"csvengine/internal/errs"
	"csvengine/internal/filterpipe"
	"csvengine/internal/jobctx"
	"csvengine/internal/memmon"
	"csvengine/internal/progress"
)

// Options configures a single-file run.
type Options struct {
	ChunkSize     int
	MinChunkSize  int
	MaxChunkSize  int
	MaxMemKeys    int
	MaxBackups    int
	BackupMaxAge  time.Duration
	HighWatermark int
	LowWatermark  int
	HardCap       int
	MemBudgetBytes int64 // 0 disables the memory monitor
	MaxFileBytes  int64 // 0 disables the input size limit
	Deadline      time.Time
	FilterWorkers int // 0 or 1 runs the sequential filter path
	DryRunChunks  int // > 0 previews that many chunks without writing output

	Cancel   *progress.CancelToken
	Reporter *progress.Reporter
}

const timestampColumn = "TestDateUTC"

// Run executes the Streaming Processor over one input file into one
// output file, using the shared DedupSet if one is supplied (for folder
// merges); otherwise a private DedupSet is created for this run.
func Run(ctx context.Context, jc *jobctx.Context, inputPath, outputPath string, opts Options, sharedDedup *dedup.Set) error {
	opts.Reporter.Emit(progress.Event{Kind: progress.EventStart, Component: "processor", Message: inputPath})

	probe, err := csvio.ProbeFile(inputPath)
	if err != nil {
		return attachJobContext(err, jc)
	}

	reader, err := csvio.OpenReader(inputPath, probe)
	if err != nil {
		return attachJobContext(err, jc)
	}
	defer reader.Close()

	if opts.MaxFileBytes > 0 && reader.Size() > opts.MaxFileBytes {
		return attachJobContext(errs.New(errs.InputTooLarge, "processor", fmt.Sprintf("input %s is %d bytes, exceeds max_file_bytes=%d", inputPath, reader.Size(), opts.MaxFileBytes)), jc)
	}

	dset := sharedDedup
	ownDedup := false
	if dset == nil {
		dset = dedup.New(jc.TempDir, opts.MaxMemKeys)
		ownDedup = true
	}
	if ownDedup {
		defer dset.Close()
	}

	dryRun := opts.DryRunChunks > 0
	var writer *csvio.Writer
	if !dryRun {
		writer, err = csvio.NewWriter(jc.TempDir, outputPath, probe.Columns, opts.MaxBackups, opts.BackupMaxAge)
		if err != nil {
			return attachJobContext(err, jc)
		}
		defer writer.Abort() // no-op once Finalize has run
	}

	mon := memmon.NewMonitor(opts.MemBudgetBytes)
	mon.Start()
	defer mon.Stop()

	policy := memmon.NewChunkSizePolicy(opts.ChunkSize, opts.MinChunkSize, opts.MaxChunkSize, opts.HighWatermark, opts.LowWatermark)

	tsIdx := probe.Columns.IndexOf(timestampColumn)

	chunksProcessed := 0
	for {
		if ctx.Err() != nil || (opts.Cancel != nil && opts.Cancel.IsSet()) {
			return errs.New(errs.Cancelled, "processor", "cancelled at chunk boundary").WithStats(jc.Stats.Snapshot()).WithCorrelation(jc.CorrelationID)
		}
		if !opts.Deadline.IsZero() && time.Now().After(opts.Deadline) {
			return errs.New(errs.TimedOut, "processor", "deadline exceeded at chunk boundary").WithStats(jc.Stats.Snapshot()).WithCorrelation(jc.CorrelationID)
		}
		if opts.MemBudgetBytes > 0 && memmon.HardCapExceeded(mon.Utilization(), opts.HardCap) {
			return errs.New(errs.OutOfMemoryBudget, "processor", "memory utilization exceeded hard cap").WithStats(jc.Stats.Snapshot()).WithCorrelation(jc.CorrelationID)
		}

		chunk, readErr := reader.ReadChunk(policy.Current())
		if readErr != nil && readErr != io.EOF {
			return attachJobContext(readErr, jc)
		}

		jc.Stats.AddRead(int64(chunk.Len()))

		var filtered filterpipe.Result
		if opts.FilterWorkers > 1 {
			filtered = filterpipe.ApplyParallel(chunk, opts.FilterWorkers)
		} else {
			filtered = filterpipe.Apply(chunk)
		}
		for reason, n := range filtered.Dropped {
			jc.Stats.AddDropped(reason, n)
		}

		survivors := filtered.Kept
		if tsIdx >= 0 {
			deduped := csvio.NewChunk(survivors.Columns, survivors.Len())
			for _, row := range survivors.Rows {
				key := canon.Key(row.Cells[tsIdx])
				existed, dErr := dset.ContainsOrInsert(key)
				if dErr != nil {
					return attachJobContext(dErr, jc)
				}
				if existed {
					jc.Stats.AddDropped("duplicate", 1)
					row.Drop()
					continue
				}
				deduped.Rows = append(deduped.Rows, row)
			}
			survivors = deduped
		}

		if !dryRun {
			if err := writer.Append(survivors); err != nil {
				return attachJobContext(err, jc)
			}
			jc.Stats.AddWritten(int64(survivors.Len()))
		}
		survivors.FreeAll()

		chunksProcessed++
		fraction := 0.0
		if reader.Size() > 0 {
			fraction = float64(reader.BytesRead()) / float64(reader.Size())
		}
		opts.Reporter.Emit(progress.Event{
			Kind:               progress.EventChunk,
			Component:          "processor",
			RowsRead:           jc.Stats.RowsRead,
			RowsWritten:        jc.Stats.RowsWritten,
			ApproxFractionDone: fraction,
			ChunkSize:          policy.Current(),
		})

		if readErr == io.EOF {
			break
		}
		if dryRun && chunksProcessed >= opts.DryRunChunks {
			break
		}
		policy.Observe(mon.Utilization())
	}

	if !dryRun {
		if err := writer.Finalize(); err != nil {
			return attachJobContext(err, jc)
		}
	}

	opts.Reporter.Emit(progress.Event{Kind: progress.EventDone, Component: "processor", Message: fmt.Sprintf("rows_written=%d", jc.Stats.RowsWritten)})
	return nil
}

func attachJobContext(err error, jc *jobctx.Context) error {
	var e *errs.Error
	if as, ok := err.(*errs.Error); ok {
		e = as
	} else {
		e = errs.Wrap(errs.IoFatal, "processor", err.Error(), err)
	}
	return e.WithStats(jc.Stats.Snapshot()).WithCorrelation(jc.CorrelationID)
}
