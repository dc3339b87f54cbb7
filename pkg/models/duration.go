package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Duration is a time.Duration with a JSON codec that understands what the
// pipeline server emits: TimeSpan strings ("01:02:03", "1.02:03:04.5"),
// Go duration strings ("90s") and plain numbers of seconds.
type Duration time.Duration

// timeSpanPattern matches [-][d.]hh:mm:ss[.fffffff].
var timeSpanPattern = regexp.MustCompile(`^(-)?(?:(\d+)\.)?(\d{1,2}):(\d{2}):(\d{2})(?:\.(\d{1,7}))?$`)

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// DurationPtr converts an optional wire duration to an optional time.Duration.
func DurationPtr(d *Duration) *time.Duration {
	if d == nil {
		return nil
	}
	v := d.Std()
	return &v
}

// MarshalJSON writes the TimeSpan form so the server can read it back.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(formatTimeSpan(time.Duration(d)))
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		return nil
	}

	if len(data) > 0 && data[0] != '"' {
		secs, err := strconv.ParseFloat(string(data), 64)
		if err != nil {
			return fmt.Errorf("invalid duration %s: %w", data, err)
		}
		ns := secs * float64(time.Second)
		if math.IsNaN(ns) || ns >= math.MaxInt64 || ns < math.MinInt64 {
			return fmt.Errorf("invalid duration %s: out of range", data)
		}
		*d = Duration(ns)
		return nil
	}

	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// ParseDuration parses a TimeSpan or Go duration string.
func ParseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if m := timeSpanPattern.FindStringSubmatch(s); m != nil {
		days, err := strconv.ParseInt(orZero(m[2]), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid duration %q: out of range", s)
		}
		hours, _ := strconv.ParseInt(m[3], 10, 64)
		mins, _ := strconv.ParseInt(m[4], 10, 64)
		secs, _ := strconv.ParseInt(m[5], 10, 64)
		if hours > 23 || mins > 59 || secs > 59 {
			return 0, fmt.Errorf("invalid duration %q: component out of range", s)
		}

		// TimeSpan fractions are 100ns ticks, right-padded to seven digits.
		var ticks int64
		if m[6] != "" {
			ticks, _ = strconv.ParseInt(m[6]+strings.Repeat("0", 7-len(m[6])), 10, 64)
		}

		rest := time.Duration(hours)*time.Hour +
			time.Duration(mins)*time.Minute +
			time.Duration(secs)*time.Second +
			time.Duration(ticks)*100
		// rest is under a day, so only the day count can push past int64.
		if days > int64((math.MaxInt64-rest)/(24*time.Hour)) {
			return 0, fmt.Errorf("invalid duration %q: out of range", s)
		}
		total := time.Duration(days)*24*time.Hour + rest
		if m[1] == "-" {
			total = -total
		}
		return total, nil
	}

	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q", s)
	}
	return d, nil
}

func formatTimeSpan(d time.Duration) string {
	sign := ""
	if d < 0 {
		sign = "-"
		d = -d
	}

	days := d / (24 * time.Hour)
	d -= days * 24 * time.Hour
	hours := d / time.Hour
	d -= hours * time.Hour
	mins := d / time.Minute
	d -= mins * time.Minute
	secs := d / time.Second
	ticks := (d - secs*time.Second) / 100

	var b strings.Builder
	b.WriteString(sign)
	if days > 0 {
		fmt.Fprintf(&b, "%d.", days)
	}
	fmt.Fprintf(&b, "%02d:%02d:%02d", hours, mins, secs)
	if ticks > 0 {
		fmt.Fprintf(&b, ".%07d", ticks)
	}
	return b.String()
}

func orZero(s string) string {
	if s == "" {
		return "0"
	}
	return s
}
