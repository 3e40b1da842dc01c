// Package lockfile implements the advisory "P.lock" protocol from spec.md
// §6: for an output path P, a sibling file P.lock holds the owning pid and
// an acquisition timestamp for the duration of a job. A lock file older
// than a configured stale age whose owning pid no longer exists may be
// stolen by a new job.
package lockfile

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"csvengine/internal/errs"
)

// Lock represents an acquired advisory lock on an output path. Release must
// be called on every exit path.
type Lock struct {
	path string
}

// pathFor returns the sibling lock file path for output path p.
func pathFor(p string) string { return p + ".lock" }

// Acquire attempts to take the lock for output path p. If a live lock is
// already held, it returns an *errs.Error of kind errs.OutputLocked.
// staleAge is the duration after which a lock owned by a dead process may
// be stolen.
func Acquire(p string, staleAge time.Duration) (*Lock, error) {
	lp := pathFor(p)

	if existing, ok := readLock(lp); ok {
		if !isStale(existing, staleAge) {
			return nil, errs.New(errs.OutputLocked, "lockfile", fmt.Sprintf("lock file %s held by pid %d since %s", lp, existing.pid, existing.acquired))
		}
		// Stale: steal it.
		_ = os.Remove(lp)
	}

	content := fmt.Sprintf("%d\n%s\n", os.Getpid(), time.Now().UTC().Format(time.RFC3339Nano))
	f, err := os.OpenFile(lp, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return nil, errs.New(errs.OutputLocked, "lockfile", fmt.Sprintf("lock file %s already exists", lp))
		}
		return nil, fmt.Errorf("create lock file %s: %w", lp, err)
	}
	defer f.Close()
	if _, err := f.WriteString(content); err != nil {
		_ = os.Remove(lp)
		return nil, fmt.Errorf("write lock file %s: %w", lp, err)
	}
	return &Lock{path: lp}, nil
}

// Release removes the lock file. It is safe to call on a nil Lock.
func (l *Lock) Release() error {
	if l == nil {
		return nil
	}
	return os.Remove(l.path)
}

type lockInfo struct {
	pid      int
	acquired time.Time
}

func readLock(lp string) (lockInfo, bool) {
	b, err := os.ReadFile(lp)
	if err != nil {
		return lockInfo{}, false
	}
	lines := strings.SplitN(strings.TrimSpace(string(b)), "\n", 2)
	if len(lines) < 2 {
		return lockInfo{}, false
	}
	pid, err := strconv.Atoi(strings.TrimSpace(lines[0]))
	if err != nil {
		return lockInfo{}, false
	}
	ts, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(lines[1]))
	if err != nil {
		return lockInfo{}, false
	}
	return lockInfo{pid: pid, acquired: ts}, true
}

func isStale(info lockInfo, staleAge time.Duration) bool {
	if time.Since(info.acquired) < staleAge {
		return false
	}
	return !processAlive(info.pid)
}

// processAlive reports whether a process with the given pid appears to be
// running. The platform-specific check lives in lockfile_unix.go /
// lockfile_windows.go.
func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	return platformProcessAlive(pid)
}
