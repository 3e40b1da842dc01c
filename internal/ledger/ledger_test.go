package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

func TestOpenNoopBackend(t *testing.T) {
	l, err := Open(context.Background(), "", "")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer l.Close(context.Background())

	if err := l.RecordStart(context.Background(), JobRun{ID: "x"}); err != nil {
		t.Fatalf("RecordStart on noop should succeed: %v", err)
	}
	if err := l.RecordFinish(context.Background(), "x", "succeeded", nil, ""); err != nil {
		t.Fatalf("RecordFinish on noop should succeed: %v", err)
	}
}

func TestOpenUnknownBackend(t *testing.T) {
	if _, err := Open(context.Background(), "oracle", "dsn"); err == nil {
		t.Fatalf("expected error for unknown backend")
	}
}

func TestSQLiteLedgerRoundTrip(t *testing.T) {
	path := t.TempDir() + "/ledger.sqlite"
	l, err := newSQLiteLedger(path)
	if err != nil {
		t.Fatalf("newSQLiteLedger: %v", err)
	}
	defer l.Close(context.Background())

	run := JobRun{
		ID:            "job-1",
		Component:     "processor",
		InputPaths:    []string{"a.csv"},
		OutputPath:    "out.csv",
		StartedAt:     time.Now(),
		CorrelationID: "corr-1",
	}
	if err := l.RecordStart(context.Background(), run); err != nil {
		t.Fatalf("RecordStart: %v", err)
	}
	if err := l.RecordFinish(context.Background(), "job-1", "succeeded", map[string]int64{"rows_written": 10}, ""); err != nil {
		t.Fatalf("RecordFinish: %v", err)
	}
}

// fakePgConnLedger implements pgConnLike for hermetic postgres ledger
// tests, mirroring internal/db/postgres_adapter_test.go's fakePgConn.
type fakePgConnLedger struct {
	execCalls []string
	closed    bool
}

func (f *fakePgConnLedger) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	f.execCalls = append(f.execCalls, sql)
	return pgconn.CommandTag{}, nil
}

func (f *fakePgConnLedger) Close(ctx context.Context) error {
	f.closed = true
	return nil
}

func TestPostgresLedgerRecordsCallsAgainstFakeConn(t *testing.T) {
	fake := &fakePgConnLedger{}
	l := newPostgresLedgerFromConn(fake)

	run := JobRun{ID: "job-2", Component: "joiner", InputPaths: []string{"details.csv"}, OutputPath: "out.csv", StartedAt: time.Now()}
	if err := l.RecordStart(context.Background(), run); err != nil {
		t.Fatalf("RecordStart: %v", err)
	}
	if err := l.RecordFinish(context.Background(), "job-2", "failed", map[string]int64{"rows_read": 5}, "boom"); err != nil {
		t.Fatalf("RecordFinish: %v", err)
	}
	if len(fake.execCalls) != 2 {
		t.Fatalf("want 2 Exec calls (insert + update), got %d", len(fake.execCalls))
	}
	if err := l.Close(context.Background()); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if !fake.closed {
		t.Fatalf("expected underlying connection to be closed")
	}
}
