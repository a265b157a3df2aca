package store

import (
	"fmt"
	"time"
)

const timeLayout = "2006-01-02 15:04:05"

// scanTime parses timestamps written by SQLite defaults (local time, no zone).
func scanTime(s string) time.Time {
	t, _ := time.ParseInLocation(timeLayout, s, time.Local)
	return t
}

// formatTime renders an explicit timestamp. The zone offset is kept so the
// calendar day can be recovered in the writer's local time.
func formatTime(t time.Time) string {
	return t.Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return scanTime(s)
	}
	return t
}

// formatDays renders a SQLite date modifier for n days ago.
func formatDays(n int) string {
	return fmt.Sprintf("-%d days", n)
}
