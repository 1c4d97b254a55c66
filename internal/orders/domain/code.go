package domain

import (
	"fmt"
	"time"
)

// OrderCodeDay truncates t to the UTC day that scopes the order code sequence.
func OrderCodeDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// FormatOrderCode renders ORD-YYYYMMDD-NNNN. Sequences past 9999 widen the suffix.
func FormatOrderCode(day time.Time, seq int) string {
	return fmt.Sprintf("ORD-%s-%04d", day.UTC().Format("20060102"), seq)
}
