//go:build windows

package lockfile

import "os"

// platformProcessAlive on Windows falls back to a best-effort FindProcess
// check; os.Process.Signal is not meaningfully supported there.
func platformProcessAlive(pid int) bool {
	_, err := os.FindProcess(pid)
	return err == nil
}
