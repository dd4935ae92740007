package types

import (
	"fmt"
	"time"
)

const invalidDate = "Invalid date"

// FormatDate renders an RFC3339 timestamp as "Jan 02, 2006"
func FormatDate(value string) string {
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return invalidDate
	}
	return t.Format("Jan 02, 2006")
}

// FormatDateTime renders an RFC3339 timestamp as "Jan 02, 2006 15:04"
func FormatDateTime(value string) string {
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return invalidDate
	}
	return t.Format("Jan 02, 2006 15:04")
}

// FormatTimeAgo renders t relative to now, e.g. "5 minutes ago"
func FormatTimeAgo(t, now time.Time) string {
	if t.IsZero() {
		return invalidDate
	}

	d := now.Sub(t)
	suffix := "ago"
	if d < 0 {
		d = -d
		suffix = "from now"
	}

	switch {
	case d < 45*time.Second:
		return "less than a minute " + suffix
	case d < 90*time.Second:
		return "1 minute " + suffix
	case d < 45*time.Minute:
		return fmt.Sprintf("%d minutes %s", int(d.Round(time.Minute)/time.Minute), suffix)
	case d < 90*time.Minute:
		return "about 1 hour " + suffix
	case d < 24*time.Hour:
		return fmt.Sprintf("about %d hours %s", int(d.Round(time.Hour)/time.Hour), suffix)
	case d < 48*time.Hour:
		return "1 day " + suffix
	case d < 30*24*time.Hour:
		return fmt.Sprintf("%d days %s", int(d/(24*time.Hour)), suffix)
	default:
		return fmt.Sprintf("about %d months %s", int(d/(30*24*time.Hour)), suffix)
	}
}
