package timeparsing

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Wednesday, January 15, 2025, 10:00 UTC
var now = time.Date(2025, 1, 15, 10, 0, 0, 0, time.UTC)

func TestParseCompactDuration(t *testing.T) {
	tests := []struct {
		input string
		want  time.Time
	}{
		{"+6h", now.Add(6 * time.Hour)},
		{"6h", now.Add(6 * time.Hour)},
		{"-6h", now.Add(-6 * time.Hour)},
		{"30m", now.Add(30 * time.Minute)},
		{"-1d", time.Date(2025, 1, 14, 10, 0, 0, 0, time.UTC)},
		{"-2w", time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)},
		{"+3mo", time.Date(2025, 4, 15, 10, 0, 0, 0, time.UTC)},
		{"1y", time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC)},
		{"100d", time.Date(2025, 4, 25, 10, 0, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseCompactDuration(tt.input, now)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	for _, bad := range []string{"", "d", "6", "+-6h", "6x", "6 h", "1.5h", "h6"} {
		_, err := ParseCompactDuration(bad, now)
		assert.Error(t, err, bad)
		assert.False(t, IsCompactDuration(bad), bad)
	}
}

func TestParseAbsolute(t *testing.T) {
	got, err := ParseAbsolute("2025-01-20", time.UTC)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 1, 20, 0, 0, 0, 0, time.UTC), got)

	got, err = ParseAbsolute("2025-01-20T08:30:00-03:00", time.UTC)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 1, 20, 11, 30, 0, 0, time.UTC), got.UTC())

	got, err = ParseAbsolute("2025-01-20 08:30", time.UTC)
	require.NoError(t, err)
	assert.Equal(t, 8, got.Hour())

	_, err = ParseAbsolute("20/01/2025", time.UTC)
	assert.Error(t, err)
}

func TestParseNaturalLanguage(t *testing.T) {
	tests := []struct {
		input string
		day   int
	}{
		{"tomorrow", 16},
		{"yesterday", 14},
		{"next monday", 20},
		{"2 days ago", 13},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseNaturalLanguage(tt.input, now)
			require.NoError(t, err)
			assert.Equal(t, time.January, got.Month())
			assert.Equal(t, tt.day, got.Day())
		})
	}

	_, err := ParseNaturalLanguage("not a time at all", now)
	assert.Error(t, err)
}

func TestParseRelativeTimeLayers(t *testing.T) {
	// Compact durations win over everything else.
	got, err := ParseRelativeTime("+1d", now)
	require.NoError(t, err)
	assert.Equal(t, now.AddDate(0, 0, 1), got)

	got, err = ParseRelativeTime(" 2025-01-20 ", now)
	require.NoError(t, err)
	assert.Equal(t, 20, got.Day())

	got, err = ParseRelativeTime("yesterday", now)
	require.NoError(t, err)
	assert.Equal(t, 14, got.Day())

	_, err = ParseRelativeTime("", now)
	assert.Error(t, err)
	_, err = ParseRelativeTime("gibberish", now)
	assert.ErrorContains(t, err, "cannot parse time")
}

func TestParseSince(t *testing.T) {
	for _, in := range []string{"2d", "-2d"} {
		got, err := ParseSince(in, now)
		require.NoError(t, err, in)
		assert.Equal(t, now.AddDate(0, 0, -2), got, in)
	}

	got, err := ParseSince("90m", now)
	require.NoError(t, err)
	assert.Equal(t, now.Add(-90*time.Minute), got)

	got, err = ParseSince("2025-01-01", now)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), got)

	_, err = ParseSince("2025-02-01", now)
	assert.ErrorContains(t, err, "future")

	for _, in := range []string{"+2d", "+1h", " +30m"} {
		_, err = ParseSince(in, now)
		assert.ErrorContains(t, err, "future", in)
	}

	got, err = ParseSince("+0d", now)
	require.NoError(t, err)
	assert.Equal(t, now, got)
}
