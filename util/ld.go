package util

import (
	"fmt"
	"strings"
	"time"
)

// ldDateLayouts are the formats remote servers are known to emit.
var ldDateLayouts = []string{
	"2006-01-02T15:04:05.000Z07:00",
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
}

// FormatLDDate renders a timestamp the way the fediverse expects it:
// UTC, millisecond precision, trailing Z.
func FormatLDDate(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000") + "Z"
}

// ParseLDDate parses a published/endTime value from an activity document.
// Returns nil for an empty value so callers can default it.
func ParseLDDate(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	s = strings.TrimSpace(s)
	for _, layout := range ldDateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			t = t.UTC()
			return &t, nil
		}
	}
	return nil, fmt.Errorf("unparseable date: %q", s)
}
