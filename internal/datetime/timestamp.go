package datetime

import (
	"fmt"
	"strings"
	"time"
)

// CanonicalLayout is the timestamp format stored in vault frontmatter:
// ISO-8601 UTC with an explicit +00:00 offset.
const CanonicalLayout = "2006-01-02T15:04:05+00:00"

// FormatCanonical renders t as a canonical UTC timestamp string.
func FormatCanonical(t time.Time) string {
	return t.UTC().Format(CanonicalLayout)
}

// ParseCanonical parses a canonical timestamp. It also accepts RFC 3339
// variants ("Z" suffix, non-UTC offsets) and normalizes them to UTC.
func ParseCanonical(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(CanonicalLayout, s); err == nil {
		return t.UTC(), nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	return time.Time{}, fmt.Errorf("invalid timestamp %q", s)
}
