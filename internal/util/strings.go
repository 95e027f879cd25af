package util

import (
	"fmt"
	"strings"
	"time"
)

// DefaultString returns the fallback value if v is empty or consists entirely
// of whitespace; otherwise it returns v unchanged.
func DefaultString(v, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}

// EmptyDash returns "-" if s is blank, for table output where an empty cell
// would be ambiguous.
func EmptyDash(s string) string {
	return DefaultString(s, "-")
}

// FormatUptime renders an elapsed duration like "2h 14m" or "3d 1h".
// Sub-minute uptimes round up to "1m" so a freshly started tunnel never
// shows an empty value.
func FormatUptime(d time.Duration) string {
	secs := int64(d.Seconds())
	if secs < 0 {
		secs = 0
	}
	days := secs / 86400
	hours := (secs % 86400) / 3600
	minutes := (secs % 3600) / 60

	switch {
	case days > 0:
		return fmt.Sprintf("%dd %dh", days, hours)
	case hours > 0:
		return fmt.Sprintf("%dh %dm", hours, minutes)
	default:
		if minutes < 1 {
			minutes = 1
		}
		return fmt.Sprintf("%dm", minutes)
	}
}
