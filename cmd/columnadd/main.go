// Command columnadd runs the Index Builder and Streaming Joiner
// (spec.md §4.7-§4.8): build a sorted key index over an "LMD" file, then
// stream a "Details" file and append the requested carry columns by
// looking up each row's canonicalized TestDateUTC key. Thin composition
// layer, grounded on cmd/importer/main.go's Deps-injection shape.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"csvengine/internal/config"
	"csvengine/internal/errs"
	"csvengine/internal/indexjoin"
	"csvengine/internal/jobctx"
	"csvengine/internal/ledger"
	"csvengine/internal/lockfile"
	"csvengine/internal/progress"
)

// Params holds columnadd's own CLI flags, registered alongside
// internal/config's flags on one shared FlagSet.
type Params struct {
	LMD          string
	Details      string
	Output       string
	CarryColumns []string
}

func registerParams(fs *flag.FlagSet, getenv func(string) string) *Params {
	p := &Params{}
	fs.StringVar(&p.LMD, "lmd", getenv("COLUMNADD_LMD"), "Path to the LMD CSV file the index is built from")
	fs.StringVar(&p.Details, "details", getenv("COLUMNADD_DETAILS"), "Path to the Details CSV file to enrich")
	fs.StringVar(&p.Output, "output", getenv("COLUMNADD_OUTPUT"), "Path to the enriched output CSV file")
	p.CarryColumns = splitAndTrim(getenv("COLUMNADD_CARRY_COLUMNS"))
	fs.Func("carry_columns", "Comma-separated list of LMD columns to carry onto the Details output", func(s string) error {
		p.CarryColumns = splitAndTrim(s)
		return nil
	})
	return p
}

func splitAndTrim(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Deps holds injectable dependencies so run() is fully testable.
type Deps struct {
	AcquireLock func(path string, staleAge time.Duration) (*lockfile.Lock, error)
	OpenLedger  func(ctx context.Context, backend, dsn string) (ledger.Ledger, error)
	NewJobCtx   func(inputPaths []string, outputPath string) (*jobctx.Context, error)
	BuildIndex  func(ctx context.Context, tempDir, lmdPath string, carryColumns []string, runBytes int64, chunkSize int, maxFileBytes int64) (*indexjoin.Index, error)
	Join        func(ctx context.Context, jc *jobctx.Context, idx *indexjoin.Index, detailsPath, outputPath string, opts indexjoin.JoinOptions) error
}

func defaultDeps() Deps {
	return Deps{
		AcquireLock: lockfile.Acquire,
		OpenLedger:  ledger.Open,
		NewJobCtx:   jobctx.New,
		BuildIndex:  indexjoin.BuildIndex,
		Join:        indexjoin.Join,
	}
}

func run(ctx context.Context, cfg *config.EngineConfig, p *Params, deps Deps) error {
	if p.LMD == "" || p.Details == "" || p.Output == "" {
		return fmt.Errorf("columnadd: -lmd, -details, and -output are all required")
	}
	if len(p.CarryColumns) == 0 {
		return fmt.Errorf("columnadd: -carry_columns must name at least one LMD column")
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

	jc, err := deps.NewJobCtx([]string{p.LMD, p.Details}, p.Output)
	if err != nil {
		return fmt.Errorf("create job context: %w", err)
	}
	defer jc.Cleanup()

	jobRun := ledger.JobRun{
		ID:            jc.CorrelationID,
		Component:     "joiner",
		InputPaths:    []string{p.LMD, p.Details},
		OutputPath:    p.Output,
		StartedAt:     time.Now(),
		CorrelationID: jc.CorrelationID,
	}
	if err := led.RecordStart(ctx, jobRun); err != nil {
		log.Printf("columnadd: ledger RecordStart failed: %v", err)
	}

	runErr := buildAndJoin(ctx, jc, cfg, p, deps)

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
		log.Printf("columnadd: ledger RecordFinish failed: %v", err)
	}

	return runErr
}

func buildAndJoin(ctx context.Context, jc *jobctx.Context, cfg *config.EngineConfig, p *Params, deps Deps) error {
	idx, err := deps.BuildIndex(ctx, jc.TempDir, p.LMD, p.CarryColumns, cfg.IndexRunBytes, cfg.ChunkSize, cfg.MaxFileBytes)
	if err != nil {
		return fmt.Errorf("build index: %w", err)
	}
	defer idx.Close()

	var deadline time.Time
	if cfg.DeadlineSeconds > 0 {
		deadline = time.Now().Add(time.Duration(cfg.DeadlineSeconds) * time.Second)
	}

	opts := indexjoin.JoinOptions{
		ChunkSize:     cfg.ChunkSize,
		MaxBackups:    cfg.MaxBackups,
		BackupMaxAge:  time.Duration(cfg.BackupMaxAge) * 24 * time.Hour,
		MaxJoinMemory: cfg.MaxJoinMemory,
		HardCap:       cfg.HardCap,
		MaxFileBytes:  cfg.MaxFileBytes,
		Deadline:      deadline,
		Cancel:        &progress.CancelToken{},
		Reporter:      progress.NewReporter(logProgress),
	}

	return deps.Join(ctx, jc, idx, p.Details, p.Output, opts)
}

func logProgress(ev progress.Event) {
	log.Printf("[%s] %s rows_read=%d rows_written=%d", ev.Component, ev.Kind, ev.RowsRead, ev.RowsWritten)
}

func main() {
	fs := flag.NewFlagSet("columnadd", flag.ExitOnError)
	p := registerParams(fs, os.Getenv)
	cfg := config.LoadFromArgs(fs, os.Getenv, os.Args[1:])

	if err := run(context.Background(), cfg, p, defaultDeps()); err != nil {
		log.Fatal(err)
	}
}
