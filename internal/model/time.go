package model

import "time"

// NormalizeUTC converts a timestamp to UTC so that a zone-aware instant and
// its UTC equivalent compare and persist identically. Zero times pass through.
func NormalizeUTC(t time.Time) time.Time {
	if t.IsZero() {
		return t
	}
	return t.UTC()
}

// FormatEventTime renders a timestamp for event payloads as UTC ISO-8601
// with a trailing "Z".
func FormatEventTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
