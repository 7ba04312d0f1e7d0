package battery

import (
	"strconv"
	"strings"
)

// ParseDumpLevel extracts the battery level from a dumpsys-style report.
// It looks for the first line that starts with "level:" or "level =" and
// parses the text after the first colon as an integer. Lines that fail to
// parse are skipped. A "level = N" line has no colon and never yields a
// value.
func ParseDumpLevel(dump string) (int, bool) {
	for _, line := range strings.Split(dump, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "level:") && !strings.HasPrefix(line, "level =") {
			continue
		}

		parts := strings.Split(line, ":")
		if len(parts) < 2 {
			continue
		}

		level, err := strconv.Atoi(strings.TrimSpace(parts[1]))
		if err != nil || level < 0 {
			continue
		}

		return level, true
	}

	return 0, false
}

// HasFastHint reports whether the dump mentions fast charging anywhere.
func HasFastHint(dump string) bool {
	return strings.Contains(strings.ToLower(dump), "fast")
}
