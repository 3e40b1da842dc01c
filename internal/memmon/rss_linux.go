//go:build linux

package memmon

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// readRSS reads the process's resident set size from /proc/self/status.
// golang.org/x/sys exposes raw Rusage structures but no portable "give me
// RSS in bytes" call, so Linux reads /proc directly; x/sys/unix.Getrusage
// is used by the non-Linux variant in rss_other.go.
func readRSS() (int64, error) {
	f, err := os.Open("/proc/self/status")
	if err != nil {
		return 0, err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := sc.Text()
		if strings.HasPrefix(line, "VmRSS:") {
			fields := strings.Fields(line)
			if len(fields) < 2 {
				return 0, fmt.Errorf("unexpected VmRSS line format: %q", line)
			}
			kb, err := strconv.ParseInt(fields[1], 10, 64)
			if err != nil {
				return 0, err
			}
			return kb * 1024, nil
		}
	}
	return 0, fmt.Errorf("VmRSS not found in /proc/self/status")
}
