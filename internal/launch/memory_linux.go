//go:build linux

package launch

import (
	"os"
	"strconv"
	"strings"
)

// totalRAMGB reads total system memory from /proc/meminfo.
func totalRAMGB() int {
	data, err := os.ReadFile("/proc/meminfo")
	if err != nil {
		return 8 // conservative fallback
	}

	for _, line := range strings.Split(string(data), "\n") {
		fields := strings.Fields(line)
		if len(fields) < 2 || fields[0] != "MemTotal:" {
			continue
		}
		kb, err := strconv.ParseUint(fields[1], 10, 64)
		if err != nil {
			break
		}
		return int(kb / (1024 * 1024))
	}
	return 8
}
