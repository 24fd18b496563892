package timeutils

import (
	"fmt"
	"strings"
	"time"
)

var zonedLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999Z0700",
}

var localLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	LayoutDate,
}

// ParseObserved parses a remote timestamp. Zoned values are converted to UTC;
// values without a zone are taken as they are. The result never carries
// sub-second precision.
func ParseObserved(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, fmt.Errorf("empty timestamp")
	}
	for _, layout := range zonedLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t.UTC().Truncate(time.Second), nil
		}
	}
	for _, layout := range localLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t.Truncate(time.Second), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", value)
}

// FormatObserved renders t in LayoutObserved without any zone information.
func FormatObserved(t time.Time) string {
	return t.Format(LayoutObserved)
}

// NormalizeObserved rewrites a stored observed date into LayoutObserved when
// it parses, and returns it unchanged otherwise.
func NormalizeObserved(value string) string {
	t, err := ParseObserved(value)
	if err != nil {
		return value
	}
	return FormatObserved(t)
}

// Stamp renders t as a filename-safe sortable stamp.
func Stamp(t time.Time) string {
	return t.Format(LayoutStamp)
}

// NowUTC returns the current time in UTC truncated to whole seconds.
func NowUTC() time.Time {
	return time.Now().UTC().Truncate(time.Second)
}
