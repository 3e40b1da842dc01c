//go:build !windows

package lockfile

import (
	"os"
	"syscall"
)

// platformProcessAlive sends signal 0 to pid, which checks existence and
// permission without actually delivering a signal.
func platformProcessAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}
