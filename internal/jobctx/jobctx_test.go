package jobctx

import (
	"os"
	"path/filepath"
	"testing"
)

func TestNewCreatesTempDirAndCorrelationID(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "out.csv")

	ctx, err := New([]string{filepath.Join(dir, "in.csv")}, out)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer ctx.Cleanup()

	if ctx.CorrelationID == "" {
		t.Fatalf("expected non-empty correlation id")
	}
	if _, err := os.Stat(ctx.TempDir); err != nil {
		t.Fatalf("temp dir not created: %v", err)
	}
	if filepath.Dir(ctx.TempDir) != dir {
		t.Fatalf("temp dir %q not a sibling of output dir %q", ctx.TempDir, dir)
	}
}

func TestArtifactsCleanedUp(t *testing.T) {
	dir := t.TempDir()
	ctx, err := New(nil, filepath.Join(dir, "out.csv"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	a := ctx.NewArtifact("staging.csv")
	if err := os.WriteFile(a.Path, []byte("x"), 0o644); err != nil {
		t.Fatalf("write artifact: %v", err)
	}

	if err := ctx.Cleanup(); err != nil {
		t.Fatalf("Cleanup: %v", err)
	}
	if _, err := os.Stat(ctx.TempDir); !os.IsNotExist(err) {
		t.Fatalf("expected temp dir removed, got err=%v", err)
	}
}

func TestStatsSnapshotAndSummary(t *testing.T) {
	s := NewStats()
	s.AddRead(10)
	s.AddWritten(7)
	s.AddDropped("lane", 2)
	s.AddDropped("trailing", 1)
	s.AddFailedCanonicalize(0)

	snap := s.Snapshot()
	if snap["rows_read"] != 10 || snap["rows_written"] != 7 {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
	if snap["dropped_lane"] != 2 || snap["dropped_trailing"] != 1 {
		t.Fatalf("unexpected drop counts: %+v", snap)
	}

	if sum := s.Summary(); sum == "" {
		t.Fatalf("expected non-empty summary")
	}

	// Row conservation invariant (spec.md §8.1): rows_read = rows_written + sum(dropped) + failed_canon
	var droppedTotal int64
	for k, v := range snap {
		if k != "rows_read" && k != "rows_written" && k != "rows_failed_canonicalization" {
			droppedTotal += v
		}
	}
	if snap["rows_read"] != snap["rows_written"]+droppedTotal+snap["rows_failed_canonicalization"] {
		t.Fatalf("row conservation invariant violated: %+v", snap)
	}
}
