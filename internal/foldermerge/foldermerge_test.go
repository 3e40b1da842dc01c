package foldermerge

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"csvengine/internal/jobctx"
	"csvengine/internal/processor"
	"csvengine/internal/progress"
)

const header = "TestDateUTC,RawSlope170,RawSlope270,TrailingFactor,tsdSlopeMinY,tsdSlopeMaxY,Lane,Ignore\n"

func writeFile(t *testing.T, dir, name string, rows []string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	var sb strings.Builder
	sb.WriteString(header)
	for _, r := range rows {
		sb.WriteString(r)
		sb.WriteString("\n")
	}
	if err := os.WriteFile(path, []byte(sb.String()), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

// TestFolderMergeCrossFileDedup reproduces spec.md §8 seed scenario 3: two
// files each containing T1,T2; the merged output has each key once, with
// the second file's occurrences counted as duplicate drops.
func TestFolderMergeCrossFileDedup(t *testing.T) {
	inDir := t.TempDir()
	writeFile(t, inDir, "a_file1.csv", []string{
		"2024-01-01T00:00:00.000Z,1.0,1.0,0.5,1,2,N1,false",
		"2024-01-01T00:00:01.000Z,1.0,1.0,0.5,1,2,N1,false",
	})
	writeFile(t, inDir, "b_file2.csv", []string{
		"2024-01-01T00:00:00.000Z,1.0,1.0,0.5,1,2,N1,false",
		"2024-01-01T00:00:01.000Z,1.0,1.0,0.5,1,2,N1,false",
	})

	outDir := t.TempDir()
	output := filepath.Join(outDir, "merged.csv")

	jc, err := jobctx.New([]string{inDir}, output)
	if err != nil {
		t.Fatalf("jobctx.New: %v", err)
	}
	defer jc.Cleanup()

	opts := Options{
		AllowedExtensions: []string{".csv"},
		ProcessorOptions: processor.Options{
			ChunkSize:     10,
			MinChunkSize:  1,
			MaxChunkSize:  100,
			MaxMemKeys:    1000,
			MaxBackups:    3,
			HighWatermark: 75,
			LowWatermark:  40,
			HardCap:       90,
			Reporter:      progress.NewReporter(nil),
		},
	}

	if err := Run(context.Background(), jc, inDir, output, opts); err != nil {
		t.Fatalf("Run: %v", err)
	}

	data, err := os.ReadFile(output)
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	if len(lines) != 3 {
		t.Fatalf("want header + 2 rows, got %d: %q", len(lines), lines)
	}
	if jc.Stats.Dropped["duplicate"] != 2 {
		t.Fatalf("want 2 duplicate drops (both rows of the second file), got %d", jc.Stats.Dropped["duplicate"])
	}
}

func TestFolderMergeRejectsSchemaMismatch(t *testing.T) {
	inDir := t.TempDir()
	writeFile(t, inDir, "a_file1.csv", []string{"2024-01-01T00:00:00.000Z,1.0,1.0,0.5,1,2,N1,false"})

	path := filepath.Join(inDir, "b_file2.csv")
	if err := os.WriteFile(path, []byte("DifferentColumn,Other\nx,y\n"), 0o644); err != nil {
		t.Fatalf("write mismatched file: %v", err)
	}

	outDir := t.TempDir()
	output := filepath.Join(outDir, "merged.csv")

	jc, err := jobctx.New([]string{inDir}, output)
	if err != nil {
		t.Fatalf("jobctx.New: %v", err)
	}
	defer jc.Cleanup()

	opts := Options{
		AllowedExtensions: []string{".csv"},
		ProcessorOptions: processor.Options{
			ChunkSize:     10,
			MinChunkSize:  1,
			MaxChunkSize:  100,
			MaxMemKeys:    1000,
			MaxBackups:    3,
			HighWatermark: 75,
			LowWatermark:  40,
			HardCap:       90,
			Reporter:      progress.NewReporter(nil),
		},
	}

	err = Run(context.Background(), jc, inDir, output, opts)
	if err == nil {
		t.Fatalf("expected SchemaMismatch error")
	}
	if !strings.Contains(err.Error(), "SchemaMismatch") {
		t.Fatalf("want SchemaMismatch error, got %v", err)
	}
}
