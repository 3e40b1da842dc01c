package main

import (
	"context"
	"errors"
	"flag"
	"testing"
	"time"

	"csvengine/internal/config"
	"csvengine/internal/dedup"
	"csvengine/internal/jobctx"
	"csvengine/internal/ledger"
	"csvengine/internal/lockfile"
	"csvengine/internal/processor"
)

func testCfgAndParams(t *testing.T, extra []string) (*config.EngineConfig, *Params) {
	t.Helper()
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	p := registerParams(fs, func(string) string { return "" })
	args := append([]string{"-input=in.csv", "-output=out.csv"}, extra...)
	cfg := config.LoadFromArgs(fs, func(string) string { return "" }, args)
	return cfg, p
}

func fakeDeps(processorErr error) (Deps, *bool) {
	recordedFinish := false
	return Deps{
		AcquireLock: func(path string, staleAge time.Duration) (*lockfile.Lock, error) { return nil, nil },
		OpenLedger: func(ctx context.Context, backend, dsn string) (ledger.Ledger, error) {
			return &fakeLedger{onFinish: func() { recordedFinish = true }}, nil
		},
		NewJobCtx: func(inputPaths []string, outputPath string) (*jobctx.Context, error) {
			return jobctx.New(inputPaths, outputPath)
		},
		RunProcessor: func(ctx context.Context, jc *jobctx.Context, inputPath, outputPath string, opts processor.Options, shared *dedup.Set) error {
			return processorErr
		},
	}, &recordedFinish
}

type fakeLedger struct {
	onFinish func()
}

func (f *fakeLedger) RecordStart(ctx context.Context, run ledger.JobRun) error { return nil }
func (f *fakeLedger) RecordFinish(ctx context.Context, id, status string, stats map[string]int64, errMsg string) error {
	if f.onFinish != nil {
		f.onFinish()
	}
	return nil
}
func (f *fakeLedger) Close(ctx context.Context) error { return nil }

func TestRunRequiresInputAndOutput(t *testing.T) {
	cfg, _ := testCfgAndParams(t, nil)
	p := &Params{}
	deps, _ := fakeDeps(nil)
	if err := run(context.Background(), cfg, p, deps); err == nil {
		t.Fatalf("expected error for missing -input/-output")
	}
}

func TestRunSucceedsAndRecordsLedgerFinish(t *testing.T) {
	dir := t.TempDir()
	cfg, _ := testCfgAndParams(t, nil)
	p := &Params{Input: dir + "/in.csv", Output: dir + "/out.csv"}
	deps, finished := fakeDeps(nil)

	if err := run(context.Background(), cfg, p, deps); err != nil {
		t.Fatalf("run: %v", err)
	}
	if !*finished {
		t.Fatalf("expected ledger RecordFinish to be called")
	}
}

func TestRunPropagatesProcessorError(t *testing.T) {
	dir := t.TempDir()
	cfg, _ := testCfgAndParams(t, nil)
	p := &Params{Input: dir + "/in.csv", Output: dir + "/out.csv"}
	wantErr := errors.New("boom")
	deps, finished := fakeDeps(wantErr)

	err := run(context.Background(), cfg, p, deps)
	if !errors.Is(err, wantErr) {
		t.Fatalf("expected wrapped %v, got %v", wantErr, err)
	}
	if !*finished {
		t.Fatalf("expected ledger RecordFinish to be called even on failure")
	}
}

func TestDefaultDepsProvidesNonNilWiring(t *testing.T) {
	d := defaultDeps()
	if d.AcquireLock == nil || d.OpenLedger == nil || d.NewJobCtx == nil || d.RunProcessor == nil {
		t.Fatalf("all default deps must be non-nil")
	}
}
