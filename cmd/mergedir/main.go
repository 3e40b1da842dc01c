// Command mergedir runs the Folder Merger (spec.md §4.6) over every CSV
// file directly under a directory: validate a shared schema, dedup across
// all files with one shared DedupSet, and concatenate the survivors into
// one output file. Thin composition layer, grounded on
// cmd/importer/main.go's Deps-injection shape.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"csvengine/internal/config"
	"csvengine/internal/errs"
	"csvengine/internal/foldermerge"
	"csvengine/internal/jobctx"
	"csvengine/internal/ledger"
	"csvengine/internal/lockfile"
	"csvengine/internal/processor"
	"csvengine/internal/progress"
)

// Params holds mergedir's own CLI flags, registered alongside
// internal/config's flags on one shared FlagSet.
type Params struct {
	Dir    string
	Output string
}

func registerParams(fs *flag.FlagSet, getenv func(string) string) *Params {
	p := &Params{}
	fs.StringVar(&p.Dir, "dir", getenv("MERGEDIR_INPUT"), "Path to the input directory of CSV files")
	fs.StringVar(&p.Output, "output", getenv("MERGEDIR_OUTPUT"), "Path to the merged output CSV file")
	return p
}

// Deps holds injectable dependencies so run() is fully testable.
type Deps struct {
	AcquireLock  func(path string, staleAge time.Duration) (*lockfile.Lock, error)
	OpenLedger   func(ctx context.Context, backend, dsn string) (ledger.Ledger, error)
	NewJobCtx    func(inputPaths []string, outputPath string) (*jobctx.Context, error)
	RunFolderMerge func(ctx context.Context, jc *jobctx.Context, dirPath, outputPath string, opts foldermerge.Options) error
}

func defaultDeps() Deps {
	return Deps{
		AcquireLock:    lockfile.Acquire,
		OpenLedger:     ledger.Open,
		NewJobCtx:      jobctx.New,
		RunFolderMerge: foldermerge.Run,
	}
}

func run(ctx context.Context, cfg *config.EngineConfig, p *Params, deps Deps) error {
	if p.Dir == "" || p.Output == "" {
		return fmt.Errorf("mergedir: both -dir and -output are required")
	}

	staleAge := time.Duration(cfg.StaleLockAge) * time.Second
	lock, err := deps.AcquireLock(p.Output, staleAge)
	if err != nil {
		return fmt.Errorf("acquire output lock: %w", err)
	}
	defer lock.Release()

	led, err := deps.OpenLedger(ctx, cfg.Ledger, cfg.LedgerDSN)
	if err != nil {
		return fmt.Errorf("open ledger: %w", err)
	}
	defer led.Close(ctx)

	jc, err := deps.NewJobCtx([]string{p.Dir}, p.Output)
	if err != nil {
		return fmt.Errorf("create job context: %w", err)
	}
	defer jc.Cleanup()

	jobRun := ledger.JobRun{
		ID:            jc.CorrelationID,
		Component:     "foldermerge",
		InputPaths:    []string{p.Dir},
		OutputPath:    p.Output,
		StartedAt:     time.Now(),
		CorrelationID: jc.CorrelationID,
	}
	if err := led.RecordStart(ctx, jobRun); err != nil {
		log.Printf("mergedir: ledger RecordStart failed: %v", err)
	}

	var deadline time.Time
	if cfg.DeadlineSeconds > 0 {
		deadline = time.Now().Add(time.Duration(cfg.DeadlineSeconds) * time.Second)
	}

	opts := foldermerge.Options{
		AllowedExtensions: cfg.AllowedExtensions,
		ProcessorOptions: processorOptionsFrom(cfg, deadline),
	}

	runErr := deps.RunFolderMerge(ctx, jc, p.Dir, p.Output, opts)

	status := "succeeded"
	errMsg := ""
	if runErr != nil {
		status = "failed"
		errMsg = runErr.Error()
		if eerr, ok := runErr.(*errs.Error); ok && eerr.Kind == errs.Cancelled {
			status = "cancelled"
		}
	}
	if err := led.RecordFinish(ctx, jobRun.ID, status, jc.Stats.Snapshot(), errMsg); err != nil {
		log.Printf("mergedir: ledger RecordFinish failed: %v", err)
	}

	return runErr
}

// processorOptionsFrom builds the per-file processor.Options foldermerge
// applies to each enumerated file, sharing every chunking/memory/timing
// tunable with the standalone cleancsv command.
func processorOptionsFrom(cfg *config.EngineConfig, deadline time.Time) processor.Options {
	return processor.Options{
		ChunkSize:      cfg.ChunkSize,
		MinChunkSize:   cfg.MinChunkSize,
		MaxChunkSize:   cfg.MaxChunkSize,
		MaxMemKeys:     cfg.MaxMemKeys,
		MaxBackups:     cfg.MaxBackups,
		BackupMaxAge:   time.Duration(cfg.BackupMaxAge) * 24 * time.Hour,
		HighWatermark:  cfg.HighWatermark,
		LowWatermark:   cfg.LowWatermark,
		HardCap:        cfg.HardCap,
		MemBudgetBytes: cfg.MemBudgetBytes,
		MaxFileBytes:   cfg.MaxFileBytes,
		Deadline:       deadline,
		Cancel:         &progress.CancelToken{},
		Reporter:       progress.NewReporter(logProgress),
	}
}

func logProgress(ev progress.Event) {
	log.Printf("[%s] %s rows_read=%d rows_written=%d chunk_size=%d", ev.Component, ev.Kind, ev.RowsRead, ev.RowsWritten, ev.ChunkSize)
}

func main() {
	fs := flag.NewFlagSet("mergedir", flag.ExitOnError)
	p := registerParams(fs, os.Getenv)
	cfg := config.LoadFromArgs(fs, os.Getenv, os.Args[1:])

	if err := run(context.Background(), cfg, p, defaultDeps()); err != nil {
		log.Fatal(err)
	}
}
