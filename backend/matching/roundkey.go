package matching

import (
	"fmt"
	"time"
)

// CurrentRoundKey returns the weekly round key for t, e.g. "2026-W42".
// Weeks follow ISO 8601, so the first days of January may belong to the
// previous year's last week.
func CurrentRoundKey(t time.Time) string {
	year, week := t.ISOWeek()
	return fmt.Sprintf("%d-W%02d", year, week)
}
