package vault

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

const maxSlugLen = 50

var (
	idPattern      = regexp.MustCompile(`^([a-z]+)-(\d{8})-(\d{4})-([a-z0-9]+(?:-[a-z0-9]+)*)$`)
	slugStrip      = regexp.MustCompile(`[^a-z0-9]+`)
	hyphenCollapse = regexp.MustCompile(`-{2,}`)
)

// Slugify reduces a title to a lowercase ASCII slug: [a-z0-9-], collapsed
// hyphens, no edge hyphens, at most 50 characters. Returns "" when nothing
// usable remains.
func Slugify(title string) string {
	s := strings.ToLower(strings.TrimSpace(title))
	s = slugStrip.ReplaceAllString(s, "-")
	s = hyphenCollapse.ReplaceAllString(s, "-")
	s = strings.Trim(s, "-")
	if len(s) > maxSlugLen {
		s = s[:maxSlugLen]
		s = strings.Trim(s, "-")
	}
	return s
}

// NewID builds an entity ID: <kind>-<YYYYMMDD>-<HHmm>-<slug>, with the
// timestamp rendered in loc. A title that yields no slug falls back to a
// short random hex suffix.
func NewID(kind, title string, now time.Time, loc *time.Location) string {
	slug := Slugify(title)
	if slug == "" {
		slug = strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	}
	return fmt.Sprintf("%s-%s-%s", kind, now.In(loc).Format("20060102-1504"), slug)
}

// WithSuffix appends a numeric collision suffix to an ID.
func WithSuffix(id string, n int) string {
	return fmt.Sprintf("%s-%d", id, n)
}

// ValidID reports whether id matches the entity ID grammar.
func ValidID(id string) bool {
	m := idPattern.FindStringSubmatch(id)
	if m == nil {
		return false
	}
	return len(m[4]) <= maxSlugLen+4 // collision suffixes may extend the slug
}

// KindOf extracts the kind prefix from an entity ID, or "" when the ID does
// not parse.
func KindOf(id string) string {
	m := idPattern.FindStringSubmatch(id)
	if m == nil {
		return ""
	}
	return m[1]
}
