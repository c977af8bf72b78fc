// Package datetime provides timezone resolution, canonical timestamp
// formatting, and DST-correct local-day arithmetic.
package datetime

import (
	"strings"
	"time"
)

// ResolveTimezone validates a configured IANA timezone name and returns the
// loaded location. Empty or invalid names fall back to the host timezone,
// then to UTC.
func ResolveTimezone(configured string) *time.Location {
	trimmed := strings.TrimSpace(configured)
	if trimmed != "" {
		if loc, err := time.LoadLocation(trimmed); err == nil {
			return loc
		}
	}
	if loc := time.Now().Location(); loc != nil && loc.String() != "" {
		return loc
	}
	return time.UTC
}

// IsValidTimezone reports whether tz names a loadable IANA timezone.
func IsValidTimezone(tz string) bool {
	if strings.TrimSpace(tz) == "" {
		return false
	}
	_, err := time.LoadLocation(tz)
	return err == nil
}
