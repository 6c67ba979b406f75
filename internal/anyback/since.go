package anyback

import (
	"fmt"
	"strings"
	"time"
)

// SinceMode selects whether an incremental backup includes objects modified
// exactly at the since timestamp.
type SinceMode string

const (
	SinceExclusive SinceMode = "exclusive"
	SinceInclusive SinceMode = "inclusive"
)

// ParseSinceMode validates a --since-mode value. Empty means exclusive.
func ParseSinceMode(s string) (SinceMode, error) {
	switch m := SinceMode(strings.ToLower(strings.TrimSpace(s))); m {
	case "":
		return SinceExclusive, nil
	case SinceExclusive, SinceInclusive:
		return m, nil
	default:
		return "", fmt.Errorf("%w: since mode %q (expected exclusive or inclusive)", ErrInvalid, s)
	}
}

// Match reports whether an object modified at t is newer than since.
func (m SinceMode) Match(t, since time.Time) bool {
	if m == SinceInclusive {
		return !t.Before(since)
	}
	return t.After(since)
}

var localLayouts = []string{
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04",
	"2006-01-02",
	"2006-01",
	"2006",
}

// ParseSince parses a --since value. RFC3339 values keep their offset. Values
// suffixed with " UTC" or "+0"/"+00" are read as UTC. Anything else is read
// as (possibly partial) local time in loc.
func ParseSince(raw string, loc *time.Location) (time.Time, error) {
	s := strings.TrimSpace(raw)
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, nil
	}
	for _, suffix := range []string{" UTC", " utc", "+00", "+0"} {
		if rest, ok := strings.CutSuffix(s, suffix); ok {
			if t, ok := parseLocal(strings.TrimSpace(rest), time.UTC); ok {
				return t, nil
			}
		}
	}
	if t, ok := parseLocal(s, loc); ok {
		return t, nil
	}
	return time.Time{}, fmt.Errorf("%w: --since value %q: expected RFC3339 with offset, or local time such as 2026-01-12T10:11:22, 2026-01-12, 2026-01 or 2026", ErrInvalid, raw)
}

func parseLocal(s string, loc *time.Location) (time.Time, bool) {
	for _, layout := range localLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// FormatTimestamp renders t as RFC3339 at second precision, using Z for UTC.
func FormatTimestamp(t time.Time) string {
	if _, offset := t.Zone(); offset == 0 {
		return t.UTC().Format(time.RFC3339)
	}
	return t.Format(time.RFC3339)
}

// FormatDisplay renders t for humans, e.g. "2026-01-12 10:11:22 UTC".
func FormatDisplay(t time.Time) string {
	if _, offset := t.Zone(); offset == 0 {
		return t.Format("2006-01-02 15:04:05") + " UTC"
	}
	return t.Format("2006-01-02 15:04:05 -07:00")
}
