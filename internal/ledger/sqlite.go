// sqlite.go implements the embedded-file Ledger backend, for single-machine
// or development use where a full Postgres/MSSQL deployment is overkill.
// Grounded on the same modernc.org/sqlite usage as internal/dedup and
// internal/indexjoin — the pack's recurring embedded-store primitive,
// applied a third time here instead of introducing a fourth storage
// mechanism.
package ledger

import (
	"context"
	"database/sql"
	"time"

	_ "modernc.org/sqlite"
)

type sqliteLedger struct {
	db *sql.DB
}

func newSQLiteLedger(path string) (Ledger, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(schemaDDL); err != nil {
		db.Close()
		return nil, err
	}
	return &sqliteLedger{db: db}, nil
}

// schemaDDL is the sqlite dialect of the job_runs table. postgres.go and
// mssql.go each carry their own copy (postgresSchemaDDL, mssqlSchemaDDL)
// with that dialect's column types (TIMESTAMPTZ, NVARCHAR/DATETIME2); the
// differences are small enough that duplicating the DDL per file is
// clearer than abstracting it.
const schemaDDL = `CREATE TABLE IF NOT EXISTS job_runs (
	id TEXT PRIMARY KEY,
	component TEXT NOT NULL,
	input_paths TEXT NOT NULL,
	output_path TEXT NOT NULL,
	started_at TEXT NOT NULL,
	finished_at TEXT,
	status TEXT NOT NULL,
	stats TEXT,
	error_message TEXT,
	correlation_id TEXT
)`

func (l *sqliteLedger) RecordStart(ctx context.Context, run JobRun) error {
	inputs, err := encodeStrings(run.InputPaths)
	if err != nil {
		return err
	}
	_, err = l.db.ExecContext(ctx, `
		INSERT INTO job_runs (id, component, input_paths, output_path, started_at, status, correlation_id)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.Component, inputs, run.OutputPath, run.StartedAt.UTC().Format(time.RFC3339Nano), "running", run.CorrelationID,
	)
	return err
}

func (l *sqliteLedger) RecordFinish(ctx context.Context, id, status string, stats map[string]int64, errMsg string) error {
	encoded, err := encodeStats(stats)
	if err != nil {
		return err
	}
	_, err = l.db.ExecContext(ctx, `
		UPDATE job_runs SET status = ?, finished_at = ?, stats = ?, error_message = ? WHERE id = ?`,
		status, time.Now().UTC().Format(time.RFC3339Nano), encoded, errMsg, id,
	)
	return err
}

func (l *sqliteLedger) Close(ctx context.Context) error {
	return l.db.Close()
}
