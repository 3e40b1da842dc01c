package lockfile

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestAcquireAndRelease(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "out.csv")

	lock, err := Acquire(out, time.Hour)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if _, err := os.Stat(out + ".lock"); err != nil {
		t.Fatalf("lock file not created: %v", err)
	}

	if err := lock.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if _, err := os.Stat(out + ".lock"); !os.IsNotExist(err) {
		t.Fatalf("expected lock file removed")
	}
}

func TestAcquireRejectsLiveLock(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "out.csv")

	lock, err := Acquire(out, time.Hour)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	defer lock.Release()

	if _, err := Acquire(out, time.Hour); err == nil {
		t.Fatalf("expected second Acquire to fail while lock is live")
	}
}

func TestAcquireStealsStaleLockFromDeadPID(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "out.csv")
	lp := out + ".lock"

	// A pid that is very unlikely to exist, with a stale timestamp.
	deadContent := "999999\n2000-01-01T00:00:00Z\n"
	if err := os.WriteFile(lp, []byte(deadContent), 0o644); err != nil {
		t.Fatalf("seed stale lock: %v", err)
	}

	lock, err := Acquire(out, time.Hour)
	if err != nil {
		t.Fatalf("expected stale lock to be stolen, got err: %v", err)
	}
	defer lock.Release()
}
