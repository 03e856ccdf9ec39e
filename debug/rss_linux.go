//go:build linux

package debug

import (
	"fmt"
	"os"
)

// readRSS returns the resident set size from /proc/self/statm. The second
// field is the resident page count.
func readRSS() (uint64, error) {
	data, err := os.ReadFile("/proc/self/statm")
	if err != nil {
		return 0, err
	}
	var size, resident uint64
	if _, err := fmt.Sscanf(string(data), "%d %d", &size, &resident); err != nil {
		return 0, fmt.Errorf("parse statm: %w", err)
	}
	return resident * uint64(os.Getpagesize()), nil
}
