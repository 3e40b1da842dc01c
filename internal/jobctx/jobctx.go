// Package jobctx defines the per-job scoped state shared across the
// engine's components: input/output paths, the job's private temp
// directory, and the stats accumulator. A JobContext owns everything
// beneath it and is responsible for releasing it on every exit path.
package jobctx

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
)

// TempArtifact is any file created under the job's temp directory. It is
// owned by the JobContext and removed when the job ends, regardless of
// success or failure.
type TempArtifact struct {
	Path string
}

// Stats accumulates rows read/written and per-reason drop counts for a
// single job. All mutation happens on the worker thread; Snapshot is safe
// to call from elsewhere (e.g. from an error payload) because it copies
// under a mutex.
type Stats struct {
	mu                     sync.Mutex
	RowsRead               int64
	RowsWritten            int64
	RowsFailedCanonicalize int64
	Dropped                map[string]int64
}

// NewStats returns an empty Stats accumulator.
func NewStats() *Stats {
	return &Stats{Dropped: make(map[string]int64)}
}

// AddRead increments the rows-read counter by n.
func (s *Stats) AddRead(n int64) {
	s.mu.Lock()
	s.RowsRead += n
	s.mu.Unlock()
}

// AddWritten increments the rows-written counter by n.
func (s *Stats) AddWritten(n int64) {
	s.mu.Lock()
	s.RowsWritten += n
	s.mu.Unlock()
}

// AddDropped increments the named drop-reason counter by n.
func (s *Stats) AddDropped(reason string, n int64) {
	s.mu.Lock()
	s.Dropped[reason] += n
	s.mu.Unlock()
}

// AddFailedCanonicalize increments the canonicalization-failure counter.
func (s *Stats) AddFailedCanonicalize(n int64) {
	s.mu.Lock()
	s.RowsFailedCanonicalize += n
	s.mu.Unlock()
}

// Snapshot returns a point-in-time copy safe to attach to an error or log
// line.
func (s *Stats) Snapshot() map[string]int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]int64, len(s.Dropped)+3)
	out["rows_read"] = s.RowsRead
	out["rows_written"] = s.RowsWritten
	out["rows_failed_canonicalization"] = s.RowsFailedCanonicalize
	for k, v := range s.Dropped {
		out["dropped_"+k] = v
	}
	return out
}

// Summary renders a human-readable drop-reason histogram, a supplemented
// feature (SPEC_FULL.md §9) carried from the original implementation's
// end-of-job report.
func (s *Stats) Summary() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := fmt.Sprintf("rows_read=%d rows_written=%d failed_canonicalization=%d", s.RowsRead, s.RowsWritten, s.RowsFailedCanonicalize)
	for reason, n := range s.Dropped {
		out += fmt.Sprintf(" dropped[%s]=%d", reason, n)
	}
	return out
}

// Context is the per-job scoped state. It owns the job's temp directory and
// every TempArtifact created within it.
type Context struct {
	CorrelationID string
	InputPaths    []string
	OutputPath    string
	TempDir       string
	Stats         *Stats

	mu        sync.Mutex
	artifacts []*TempArtifact
}

// New creates a Context with a fresh temp directory on the same filesystem
// as outputPath (a sibling directory, so a later atomic rename into
// outputPath's directory is guaranteed to succeed).
func New(inputPaths []string, outputPath string) (*Context, error) {
	outDir := filepath.Dir(outputPath)
	if outDir == "" {
		outDir = "."
	}
	tmp, err := os.MkdirTemp(outDir, ".csvengine-job-*")
	if err != nil {
		return nil, fmt.Errorf("create job temp dir: %w", err)
	}
	return &Context{
		CorrelationID: uuid.NewString(),
		InputPaths:    inputPaths,
		OutputPath:    outputPath,
		TempDir:       tmp,
		Stats:         NewStats(),
	}, nil
}

// NewArtifact allocates a new TempArtifact path within the job's temp
// directory and records it for cleanup. It does not create the file.
func (c *Context) NewArtifact(name string) *TempArtifact {
	a := &TempArtifact{Path: filepath.Join(c.TempDir, name)}
	c.mu.Lock()
	c.artifacts = append(c.artifacts, a)
	c.mu.Unlock()
	return a
}

// Cleanup removes the job's entire temp directory (and therefore every
// TempArtifact within it) unconditionally. It is safe to call multiple
// times and safe to call on every exit path (success, error, or cancel).
func (c *Context) Cleanup() error {
	if c.TempDir == "" {
		return nil
	}
	return os.RemoveAll(c.TempDir)
}
