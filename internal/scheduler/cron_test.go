package scheduler

import "testing"

func TestCronToSeconds(t *testing.T) {
	cases := []struct {
		expr string
		want int
	}{
		{"0 */6 * * *", 6 * 3600},
		{"0 */1 * * *", 3600},
		{"0 */24 * * *", 24 * 3600},
		{"*/15 * * * *", 15 * 60},
		{"*/1 * * * *", 60},
		{"0 0 * * *", DefaultIntervalSeconds},    // daily-at-midnight shape unsupported
		{"30 2 * * *", DefaultIntervalSeconds},   // fixed time unsupported
		{"0 */6 * * 1", DefaultIntervalSeconds},  // weekday constraint unsupported
		{"*/0 * * * *", DefaultIntervalSeconds},  // zero interval
		{"*/-5 * * * *", DefaultIntervalSeconds}, // negative interval
		{"*/x * * * *", DefaultIntervalSeconds},
		{"not a cron", DefaultIntervalSeconds},
		{"", DefaultIntervalSeconds},
	}
	for _, tc := range cases {
		if got := CronToSeconds(tc.expr); got != tc.want {
			t.Errorf("CronToSeconds(%q) = %d, want %d", tc.expr, got, tc.want)
		}
	}
}
