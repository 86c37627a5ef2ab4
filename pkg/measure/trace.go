package measure

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

var (
	procMounts    = "/proc/mounts"
	mountReadFile = os.ReadFile
	traceWrite    = os.WriteFile
)

// debugfsMount returns where debugfs is mounted, or "" when it is not.
func debugfsMount() (string, error) {
	data, err := mountReadFile(procMounts)
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", procMounts, err)
	}
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) >= 3 && fields[2] == "debugfs" {
			return fields[1], nil
		}
	}
	return "", sc.Err()
}

// clearTrace empties the kernel trace buffer so a breaktrace run only keeps
// the events leading up to the breach. It reports whether a buffer was found.
func clearTrace() (bool, error) {
	dir, err := debugfsMount()
	if err != nil || dir == "" {
		return false, err
	}
	trace := filepath.Join(dir, "tracing", "trace")
	if err := traceWrite(trace, []byte("0"), 0o644); err != nil {
		return false, fmt.Errorf("clearing %s: %w", trace, err)
	}
	return true, nil
}
