// Package timeparsing parses the time expressions accepted by --since and
// similar flags.
//
// Parsing is layered:
//  1. Compact duration (-6h, 2d, +1w)
//  2. Absolute timestamp (RFC3339, date-only)
//  3. Natural language (yesterday, 2 days ago, last monday)
package timeparsing

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
)

// compactDurationRe matches compact duration patterns: [+-]?(\d+)([mhdwy]|mo)
// "m" is minutes; months use "mo".
var compactDurationRe = regexp.MustCompile(`^([+-]?)(\d+)(mo|[mhdwy])$`)

// ParseCompactDuration parses compact duration syntax relative to now.
//
// Units: m (minutes), h (hours), d (days), w (weeks), mo (months), y (years).
// No sign means forward in time.
func ParseCompactDuration(s string, now time.Time) (time.Time, error) {
	amount, unit, err := splitCompact(s)
	if err != nil {
		return time.Time{}, err
	}
	return applyDuration(now, amount, unit), nil
}

func splitCompact(s string) (int, string, error) {
	matches := compactDurationRe.FindStringSubmatch(strings.TrimSpace(s))
	if matches == nil {
		return 0, "", fmt.Errorf("not a compact duration: %q", s)
	}
	amount, err := strconv.Atoi(matches[2])
	if err != nil {
		return 0, "", fmt.Errorf("invalid duration amount: %q", matches[2])
	}
	if matches[1] == "-" {
		amount = -amount
	}
	return amount, matches[3], nil
}

func applyDuration(base time.Time, amount int, unit string) time.Time {
	switch unit {
	case "m":
		return base.Add(time.Duration(amount) * time.Minute)
	case "h":
		return base.Add(time.Duration(amount) * time.Hour)
	case "d":
		return base.AddDate(0, 0, amount)
	case "w":
		return base.AddDate(0, 0, amount*7)
	case "mo":
		return base.AddDate(0, amount, 0)
	case "y":
		return base.AddDate(amount, 0, 0)
	default:
		return base
	}
}

// IsCompactDuration reports whether s matches compact duration syntax.
func IsCompactDuration(s string) bool {
	return compactDurationRe.MatchString(strings.TrimSpace(s))
}

var absoluteLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
}

// ParseAbsolute parses RFC3339 and date-only timestamps. Layouts without a
// zone are read in loc.
func ParseAbsolute(s string, loc *time.Location) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range absoluteLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("not an absolute timestamp: %q", s)
}

var parser = func() *when.Parser {
	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)
	return w
}()

// ParseNaturalLanguage parses expressions like "tomorrow", "2 days ago" or
// "next monday at 9am" relative to now.
func ParseNaturalLanguage(s string, now time.Time) (time.Time, error) {
	r, err := parser.Parse(s, now)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing %q: %w", s, err)
	}
	if r == nil {
		return time.Time{}, fmt.Errorf("no time expression in %q", s)
	}
	return r.Time, nil
}

// ParseRelativeTime tries each layer in order and returns the first match.
func ParseRelativeTime(s string, now time.Time) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty time expression")
	}
	if t, err := ParseCompactDuration(s, now); err == nil {
		return t, nil
	}
	if t, err := ParseAbsolute(s, now.Location()); err == nil {
		return t, nil
	}
	if t, err := ParseNaturalLanguage(s, now); err == nil {
		return t, nil
	}
	return time.Time{}, fmt.Errorf("cannot parse time %q: use a duration like 2d or 6h, a date like 2006-01-02, or a phrase like \"yesterday\"", s)
}

// ParseSince is ParseRelativeTime for lower bounds: an unsigned compact
// duration means that long ago, so "2d" and "-2d" are equivalent.
func ParseSince(s string, now time.Time) (time.Time, error) {
	var t time.Time
	if amount, unit, err := splitCompact(s); err == nil {
		if amount > 0 && !strings.HasPrefix(strings.TrimSpace(s), "+") {
			amount = -amount
		}
		t = applyDuration(now, amount, unit)
	} else if t, err = ParseRelativeTime(s, now); err != nil {
		return time.Time{}, err
	}
	if t.After(now) {
		return time.Time{}, fmt.Errorf("--since %q is in the future", s)
	}
	return t, nil
}
