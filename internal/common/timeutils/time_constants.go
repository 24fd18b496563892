package timeutils

import "time"

// Common time layout constants
const (
	LayoutRFC3339 = time.RFC3339
	LayoutDate    = "2006-01-02"
	// LayoutObserved is how observed dates and bookkeeping timestamps are
	// persisted. Values in this layout order lexicographically.
	LayoutObserved = "2006-01-02T15:04:05"
	// LayoutStamp names archive artifacts.
	LayoutStamp = "20060102T150405"
)
