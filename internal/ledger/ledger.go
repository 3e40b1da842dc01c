// Package ledger implements the Job Run Ledger: an optional, pluggable
// record of every engine job's start/finish state, written to one of
// three interchangeable SQL backends. It is an ambient component (not
// named by spec.md, supplemented per SPEC_FULL.md §2/§6) that exists so
// an operator running the engine against a fleet of machines can query
// "what ran, when, with what result" from a central store rather than
// grepping log files.
//
// Grounded on internal/db/db.go's DB/Tx interface-seam pattern: three
// backends (sqlite, postgres, mssql) satisfy one narrow Ledger interface,
// generalizing the teacher's three domain tables (ownership,
// tech_inspections, rsv_zpravy) into the single job_runs table this
// engine actually needs.
package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// JobRun is one row of the ledger: the lifecycle of a single engine job.
type JobRun struct {
	ID            string
	Component     string // "processor", "foldermerge", or "joiner"
	InputPaths    []string
	OutputPath    string
	StartedAt     time.Time
	FinishedAt    time.Time
	Status        string // "running", "succeeded", "failed", "cancelled"
	Stats         map[string]int64
	ErrorMessage  string
	CorrelationID string
}

// Ledger is the narrow interface every backend satisfies. Components call
// RecordStart once at job entry and RecordFinish exactly once at job exit
// (success, failure, or cancellation) — mirroring internal/jobctx.Context's
// own single-owner lifecycle.
type Ledger interface {
	RecordStart(ctx context.Context, run JobRun) error
	RecordFinish(ctx context.Context, id string, status string, stats map[string]int64, errMsg string) error
	Close(ctx context.Context) error
}

// NoopLedger discards every call. Used when the engine is run with no
// ledger backend configured (config.EngineConfig.Ledger == "").
type NoopLedger struct{}

func (NoopLedger) RecordStart(context.Context, JobRun) error                            { return nil }
func (NoopLedger) RecordFinish(context.Context, string, string, map[string]int64, string) error { return nil }
func (NoopLedger) Close(context.Context) error                                          { return nil }

// Open dispatches to the configured backend. backend must be one of "",
// "sqlite", "postgres", or "mssql"; an empty string returns a NoopLedger.
func Open(ctx context.Context, backend, dsn string) (Ledger, error) {
	switch backend {
	case "":
		return NoopLedger{}, nil
	case "sqlite":
		return newSQLiteLedger(dsn)
	case "postgres":
		return newPostgresLedger(ctx, dsn)
	case "mssql":
		return newMSSQLLedger(dsn)
	default:
		return nil, fmt.Errorf("ledger: unknown backend %q", backend)
	}
}

// encodeStats serializes a stats map to JSON for storage in a single TEXT
// column across all three backends, keeping the schema identical
// regardless of which drop-reason counters a given job happened to emit.
// Standard library encoding/json: none of the teacher pack's modules pull
// in a third-party JSON library (no json-iterator, no segmentio/encoding),
// so there is nothing from the examples to wire here.
func encodeStats(stats map[string]int64) (string, error) {
	if stats == nil {
		return "{}", nil
	}
	b, err := json.Marshal(stats)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// encodeStrings serializes an ordered string list (e.g. a job's input
// paths) to JSON for storage in a single TEXT column.
func encodeStrings(values []string) (string, error) {
	if values == nil {
		return "[]", nil
	}
	b, err := json.Marshal(values)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
