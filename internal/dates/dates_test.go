package dates

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestExtract_DefaultPatterns(t *testing.T) {
	e := MustExtractor()

	cases := []struct {
		path string
		want time.Time
	}{
		{"/data/obs/tas_2024-03-20.nc", day(2024, 3, 20)},
		{"/data/obs/tas_2024_03_20.nc", day(2024, 3, 20)},
		{"/data/obs/tas_20240320.nc", day(2024, 3, 20)},
		{"/data/obs/monthly_2024-03.nc", day(2024, 3, 1)},
		{"/data/2019-01-05/readme.txt", day(2019, 1, 5)},
	}
	for _, tc := range cases {
		got, ok := e.Extract(tc.path)
		require.True(t, ok, tc.path)
		assert.Equal(t, tc.want, got, tc.path)
	}
}

func TestExtract_NameBeforeDirectory(t *testing.T) {
	e := MustExtractor()
	got, ok := e.Extract("/archive/2001-01-01/run_2020-06-30.log")
	require.True(t, ok)
	assert.Equal(t, day(2020, 6, 30), got)
}

func TestExtract_NoDate(t *testing.T) {
	e := MustExtractor()
	_, ok := e.Extract("/data/cmip5/file123.nc")
	assert.False(t, ok)

	_, ok = e.Extract("/data/run_20241399.nc")
	assert.False(t, ok, "invalid month must not parse")
}

func TestExtract_Deterministic(t *testing.T) {
	e := MustExtractor()
	a, okA := e.Extract("/x/tas_20240320.nc")
	b, okB := e.Extract("/x/tas_20240320.nc")
	assert.Equal(t, okA, okB)
	assert.Equal(t, a, b)
}

func TestExtract_CustomPatternOrder(t *testing.T) {
	e, err := NewExtractor(Pattern{Regex: `y(\d{4})`, Layout: "2006"})
	require.NoError(t, err)

	got, ok := e.Extract("/data/y1999/f_2024-01-01.nc")
	require.True(t, ok)
	assert.Equal(t, day(1999, 1, 1), got)
}

func TestNewExtractor_Errors(t *testing.T) {
	_, err := NewExtractor(Pattern{Regex: `(`, Layout: "2006"})
	assert.Error(t, err)

	_, err = NewExtractor(Pattern{Regex: `\d+`})
	assert.Error(t, err)
}

func TestParseThreshold(t *testing.T) {
	got, err := ParseThreshold("2025-03-07")
	require.NoError(t, err)
	assert.Equal(t, day(2025, 3, 7), got)

	got, err = ParseThreshold("2025-03-07T12:00:00+02:00")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 3, 7, 10, 0, 0, 0, time.UTC), got)

	_, err = ParseThreshold("last tuesday")
	assert.Error(t, err)
}

func TestAgeDays(t *testing.T) {
	now := time.Date(2025, 1, 11, 6, 0, 0, 0, time.UTC)
	assert.Equal(t, 10, AgeDays(now, day(2025, 1, 1)))
	assert.Equal(t, 0, AgeDays(now, day(2025, 1, 11)))
	assert.Equal(t, -1, AgeDays(now, day(2025, 1, 12)))
	assert.Equal(t, -2, AgeDays(now, day(2025, 1, 13)))
}

func TestFormat_Canonical(t *testing.T) {
	assert.Equal(t, "2024-03-20", Format(day(2024, 3, 20)))
	assert.Equal(t, "2024-03-19T20:00:00Z",
		Format(time.Date(2024, 3, 20, 1, 0, 0, 0, time.FixedZone("x", 5*3600))))

	// Lexical order follows instant order across both forms.
	assert.Less(t, Format(day(2024, 3, 20)), Format(day(2024, 3, 20).Add(time.Hour)))
	assert.Less(t, Format(day(2024, 3, 19).Add(23*time.Hour)), Format(day(2024, 3, 20)))
}
