// Command cleancsv runs the Streaming Processor (spec.md §4.5) over a
// single input CSV file: chunked read, filter, dedup, write. It is a thin
// composition layer with minimal logic and clear seams to enable hermetic
// tests, grounded on cmd/importer/main.go's Deps-injection shape.
//
// Design goals:
//   - Keep main() tiny and delegate to run() for testability.
//   - Avoid hidden globals and make behavior obvious from Deps.
//   - Prefer explicit, readable control flow over cleverness.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"csvengine/internal/config"
	"csvengine/internal/dedup"
	"csvengine/internal/errs"
	"csvengine/internal/jobctx"
	"csvengine/internal/ledger"
	"csvengine/internal/lockfile"
	"csvengine/internal/processor"
	"csvengine/internal/progress"
)

// Params holds the CLI-specific flags not owned by internal/config's
// ambient EngineConfig.
type Params struct {
	Input  string
	Output string
}

// registerParams defines cleancsv's own flags on fs without parsing, so a
// caller can register both these and internal/config's flags on the same
// FlagSet before issuing a single fs.Parse (config.LoadFromArgs does the
// parsing). Registering on a shared set is what lets -input/-output
// coexist with -chunk_size and friends on one command line.
func registerParams(fs *flag.FlagSet, getenv func(string) string) *Params {
	p := &Params{}
	fs.StringVar(&p.Input, "input", getenv("CLEANCSV_INPUT"), "Path to the input CSV file")
	fs.StringVar(&p.Output, "output", getenv("CLEANCSV_OUTPUT"), "Path to the output CSV file")
	return p
}

// Deps holds injectable dependencies so run() is fully testable.
type Deps struct {
	AcquireLock func(path string, staleAge time.Duration) (*lockfile.Lock, error)
	OpenLedger  func(ctx context.Context, backend, dsn string) (ledger.Ledger, error)
	NewJobCtx   func(inputPaths []string, outputPath string) (*jobctx.Context, error)
	RunProcessor func(ctx context.Context, jc *jobctx.Context, inputPath, outputPath string, opts processor.Options, shared *dedup.Set) error
}

func defaultDeps() Deps {
	return Deps{
		AcquireLock:  lockfile.Acquire,
		OpenLedger:   ledger.Open,
		NewJobCtx:    jobctx.New,
		RunProcessor: processor.Run,
	}
}

// run executes one clean-csv job: acquire the output lock, open the
// configured ledger, build a job context, run the Streaming Processor, and
// record the outcome. Any error is returned to the caller with no
// os.Exit, so tests can assert on it directly.
func run(ctx context.Context, cfg *config.EngineConfig, p *Params, deps Deps) error {
	if p.Input == "" || p.Output == "" {
		return fmt.Errorf("cleancsv: both -input and -output are required")
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

	jc, err := deps.NewJobCtx([]string{p.Input}, p.Output)
	if err != nil {
		return fmt.Errorf("create job context: %w", err)
	}
	defer jc.Cleanup()

	jobRun := ledger.JobRun{
		ID:            jc.CorrelationID,
		Component:     "processor",
		InputPaths:    []string{p.Input},
		OutputPath:    p.Output,
		StartedAt:     time.Now(),
		CorrelationID: jc.CorrelationID,
	}
	if err := led.RecordStart(ctx, jobRun); err != nil {
		log.Printf("cleancsv: ledger RecordStart failed: %v", err)
	}

	var deadline time.Time
	if cfg.DeadlineSeconds > 0 {
		deadline = time.Now().Add(time.Duration(cfg.DeadlineSeconds) * time.Second)
	}

	opts := processor.Options{
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
		DryRunChunks:   cfg.DryRunChunks,
		Cancel:         &progress.CancelToken{},
		Reporter:       progress.NewReporter(logProgress),
	}

	runErr := deps.RunProcessor(ctx, jc, p.Input, p.Output, opts, nil)

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
		log.Printf("cleancsv: ledger RecordFinish failed: %v", err)
	}

	return runErr
}

func logProgress(ev progress.Event) {
	log.Printf("[%s] %s rows_read=%d rows_written=%d chunk_size=%d", ev.Component, ev.Kind, ev.RowsRead, ev.RowsWritten, ev.ChunkSize)
}

// main is intentionally tiny. It loads config and params, builds real
// deps, and runs.
func main() {
	fs := flag.NewFlagSet("cleancsv", flag.ExitOnError)
	p := registerParams(fs, os.Getenv)
	cfg := config.LoadFromArgs(fs, os.Getenv, os.Args[1:])

	if err := run(context.Background(), cfg, p, defaultDeps()); err != nil {
		log.Fatal(err)
	}
}
