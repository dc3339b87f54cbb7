// Package format turns durations, timestamps and job status strings into
// display text. All functions are pure.
package format

import (
	"fmt"
	"strings"
	"time"
)

// NotAvailable is shown for absent or negative values.
const NotAvailable = "N/A"

const timestampLayout = "2006-01-02 15:04:05 -07:00"

// Duration renders d as "1h 2m 3s", "2m 3s", "3s", "250ms" or "<1ms".
// Negative durations render as NotAvailable.
func Duration(d time.Duration) string {
	switch {
	case d < 0:
		return NotAvailable
	case d >= time.Hour:
		return fmt.Sprintf("%dh %dm %ds", int(d.Hours()), minutesPart(d), secondsPart(d))
	case d >= time.Minute:
		return fmt.Sprintf("%dm %ds", minutesPart(d), secondsPart(d))
	case d >= time.Second:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d >= time.Millisecond:
		return fmt.Sprintf("%dms", d.Milliseconds())
	default:
		return "<1ms"
	}
}

// OptionalDuration is Duration for values that may be absent.
func OptionalDuration(d *time.Duration) string {
	if d == nil {
		return NotAvailable
	}
	return Duration(*d)
}

// Timestamp renders t in the local zone with its offset.
func Timestamp(t *time.Time) string {
	if t == nil {
		return NotAvailable
	}
	return t.Local().Format(timestampLayout)
}

// StatusBadgeClass maps a job status to the CSS badge class the UI uses.
func StatusBadgeClass(status string) string {
	switch strings.ToLower(status) {
	case "completed", "success":
		return "badge-success"
	case "failed", "error":
		return "badge-danger"
	case "running", "in progress", "processing":
		return "badge-primary"
	case "pending", "queued":
		return "badge-warning"
	default:
		return "badge-secondary"
	}
}

func minutesPart(d time.Duration) int {
	return int(d.Minutes()) % 60
}

func secondsPart(d time.Duration) int {
	return int(d.Seconds()) % 60
}
