// mssql.go implements the MSSQL Ledger backend over database/sql, favoring
// portability the way internal/db/mssql.go does: plain parameterized
// statements rather than an engine-native bulk path, since the ledger
// writes one row per job rather than bulk-copying millions.
package ledger

import (
	"context"
	"database/sql"
	"time"

	_ "github.com/microsoft/go-mssqldb"
)

type mssqlLedger struct {
	db *sql.DB
}

func newMSSQLLedger(dsn string) (Ledger, error) {
	d, err := sql.Open("sqlserver", dsn)
	if err != nil {
		return nil, err
	}
	if err := d.Ping(); err != nil {
		d.Close()
		return nil, err
	}
	if _, err := d.Exec(mssqlSchemaDDL); err != nil {
		d.Close()
		return nil, err
	}
	return &mssqlLedger{db: d}, nil
}

const mssqlSchemaDDL = `IF NOT EXISTS (SELECT * FROM sysobjects WHERE name='job_runs' AND xtype='U')
CREATE TABLE job_runs (
	id NVARCHAR(64) PRIMARY KEY,
	component NVARCHAR(64) NOT NULL,
	input_paths NVARCHAR(MAX) NOT NULL,
	output_path NVARCHAR(MAX) NOT NULL,
	started_at DATETIME2 NOT NULL,
	finished_at DATETIME2,
	status NVARCHAR(32) NOT NULL,
	stats NVARCHAR(MAX),
	error_message NVARCHAR(MAX),
	correlation_id NVARCHAR(64)
)`

func (l *mssqlLedger) RecordStart(ctx context.Context, run JobRun) error {
	inputs, err := encodeStrings(run.InputPaths)
	if err != nil {
		return err
	}
	_, err = l.db.ExecContext(ctx, `
		INSERT INTO job_runs (id, component, input_paths, output_path, started_at, status, correlation_id)
		VALUES (@p1, @p2, @p3, @p4, @p5, 'running', @p6)`,
		run.ID, run.Component, inputs, run.OutputPath, run.StartedAt.UTC(), run.CorrelationID,
	)
	return err
}

func (l *mssqlLedger) RecordFinish(ctx context.Context, id, status string, stats map[string]int64, errMsg string) error {
	encoded, err := encodeStats(stats)
	if err != nil {
		return err
	}
	_, err = l.db.ExecContext(ctx, `
		UPDATE job_runs SET status = @p1, finished_at = @p2, stats = @p3, error_message = @p4 WHERE id = @p5`,
		status, time.Now().UTC(), encoded, errMsg, id,
	)
	return err
}

func (l *mssqlLedger) Close(ctx context.Context) error {
	return l.db.Close()
}
