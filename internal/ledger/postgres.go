// postgres.go implements the Postgres Ledger backend. Directly adapted
// from internal/db/postgres.go's pgConnLike interface seam (minimal subset
// of *pgx.Conn used, so unit tests can inject a fake without a live
// database), generalized from the teacher's three domain tables to the
// ledger's single job_runs table.
package ledger

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// pgConnLike mirrors internal/db/postgres.go's seam: the minimal subset of
// *pgx.Conn the ledger actually calls.
type pgConnLike interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Close(ctx context.Context) error
}

type postgresLedger struct {
	conn pgConnLike
}

func newPostgresLedger(ctx context.Context, dsn string) (Ledger, error) {
	c, err := pgx.Connect(ctx, dsn)
	if err != nil {
		return nil, err
	}
	l := &postgresLedger{conn: c}
	if _, err := c.Exec(ctx, postgresSchemaDDL); err != nil {
		c.Close(ctx)
		return nil, err
	}
	return l, nil
}

// newPostgresLedgerFromConn constructs a postgresLedger from a pgConnLike
// fake. Used exclusively in unit tests, mirroring
// internal/db/postgres.go's newPgDBFromConn.
func newPostgresLedgerFromConn(c pgConnLike) *postgresLedger { return &postgresLedger{conn: c} }

const postgresSchemaDDL = `CREATE TABLE IF NOT EXISTS job_runs (
	id TEXT PRIMARY KEY,
	component TEXT NOT NULL,
	input_paths TEXT NOT NULL,
	output_path TEXT NOT NULL,
	started_at TIMESTAMPTZ NOT NULL,
	finished_at TIMESTAMPTZ,
	status TEXT NOT NULL,
	stats TEXT,
	error_message TEXT,
	correlation_id TEXT
)`

func (l *postgresLedger) RecordStart(ctx context.Context, run JobRun) error {
	inputs, err := encodeStrings(run.InputPaths)
	if err != nil {
		return err
	}
	_, err = l.conn.Exec(ctx, `
		INSERT INTO job_runs (id, component, input_paths, output_path, started_at, status, correlation_id)
		VALUES ($1, $2, $3, $4, $5, 'running', $6)`,
		run.ID, run.Component, inputs, run.OutputPath, run.StartedAt.UTC(), run.CorrelationID,
	)
	return err
}

func (l *postgresLedger) RecordFinish(ctx context.Context, id, status string, stats map[string]int64, errMsg string) error {
	encoded, err := encodeStats(stats)
	if err != nil {
		return err
	}
	_, err = l.conn.Exec(ctx, `
		UPDATE job_runs SET status = $1, finished_at = $2, stats = $3, error_message = $4 WHERE id = $5`,
		status, time.Now().UTC(), encoded, errMsg, id,
	)
	return err
}

func (l *postgresLedger) Close(ctx context.Context) error {
	return l.conn.Close(ctx)
}
