package scheduler

import (
	"strconv"
	"strings"
)

// DefaultIntervalSeconds is the scan interval used when a schedule does not
// match the two recognized shapes. Six hours.
const DefaultIntervalSeconds = 6 * 60 * 60

// CronToSeconds maps the supported schedule shapes onto a plain interval:
//
//	0 */N * * *  → N hours
//	*/N * * * *  → N minutes
//
// Anything else falls back to DefaultIntervalSeconds. Scheduling here is
// interval-since-last-scan, not wall-clock alignment, so only the period of
// the expression matters.
func CronToSeconds(expr string) int {
	fields := strings.Fields(expr)
	if len(fields) != 5 {
		return DefaultIntervalSeconds
	}

	if fields[0] == "0" && isStarTail(fields[2:]) {
		if n, ok := everyN(fields[1]); ok {
			return n * 60 * 60
		}
	}
	if isStarTail(fields[1:]) {
		if n, ok := everyN(fields[0]); ok {
			return n * 60
		}
	}
	return DefaultIntervalSeconds
}

func isStarTail(fields []string) bool {
	for _, f := range fields {
		if f != "*" {
			return false
		}
	}
	return true
}

func everyN(field string) (int, bool) {
	rest, ok := strings.CutPrefix(field, "*/")
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(rest)
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}
