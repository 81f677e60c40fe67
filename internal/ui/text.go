package ui

import (
	"strconv"
	"strings"
	"time"
	"unicode/utf8"
)

// Truncate shortens text to maxLen runes with a "..." suffix.
func Truncate(text string, maxLen int) string {
	if utf8.RuneCountInString(text) <= maxLen {
		return text
	}
	if maxLen <= 3 {
		return "..."
	}
	runes := []rune(text)
	return string(runes[:maxLen-3]) + "..."
}

// OneLine collapses whitespace and newlines so message text fits a table cell.
func OneLine(text string, maxLen int) string {
	return Truncate(strings.Join(strings.Fields(text), " "), maxLen)
}

// Indent prefixes every line of text.
func Indent(text, prefix string) string {
	lines := strings.Split(strings.TrimRight(text, "\n"), "\n")
	for i, l := range lines {
		lines[i] = prefix + l
	}
	return strings.Join(lines, "\n")
}

// Ago renders t relative to now ("3m ago", "2d ago"), or "-" for the zero time.
func Ago(t, now time.Time) string {
	if t.IsZero() {
		return "-"
	}
	d := now.Sub(t)
	suffix := " ago"
	if d < 0 {
		d, suffix = -d, " from now"
	}
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return strconv.Itoa(int(d/time.Minute)) + "m" + suffix
	case d < 24*time.Hour:
		return strconv.Itoa(int(d/time.Hour)) + "h" + suffix
	default:
		return strconv.Itoa(int(d/(24*time.Hour))) + "d" + suffix
	}
}
