// Package dates derives calendar dates from file paths and parses rule date
// thresholds.
package dates

import (
	"fmt"
	"math"
	"path"
	"regexp"
	"strings"
	"time"
)

// Pattern pairs a regular expression with the time layout used to parse its
// match. When Regex has a capture group the first group is parsed, otherwise
// the whole match.
type Pattern struct {
	Regex  string `yaml:"regex" json:"regex"`
	Layout string `yaml:"layout" json:"layout"`
}

// DefaultPatterns are tried in order; longer forms come first so that
// 2024-03-20 is never read as 2024-03.
var DefaultPatterns = []Pattern{
	{Regex: `(?:^|[^0-9])(\d{4}-\d{2}-\d{2})(?:[^0-9]|$)`, Layout: "2006-01-02"},
	{Regex: `(?:^|[^0-9])(\d{4}_\d{2}_\d{2})(?:[^0-9]|$)`, Layout: "2006_01_02"},
	{Regex: `(?:^|[^0-9])(\d{8})(?:[^0-9]|$)`, Layout: "20060102"},
	{Regex: `(?:^|[^0-9])(\d{4}-\d{2})(?:[^0-9]|$)`, Layout: "2006-01"},
}

type compiled struct {
	re     *regexp.Regexp
	layout string
}

// Extractor applies a fixed ordered set of patterns. It holds no mutable
// state and is safe for concurrent use.
type Extractor struct {
	patterns []compiled
}

// NewExtractor compiles patterns; with none given DefaultPatterns is used.
func NewExtractor(patterns ...Pattern) (*Extractor, error) {
	if len(patterns) == 0 {
		patterns = DefaultPatterns
	}
	e := &Extractor{patterns: make([]compiled, 0, len(patterns))}
	for i, p := range patterns {
		if p.Layout == "" {
			return nil, fmt.Errorf("dates: pattern %d: layout is required", i)
		}
		re, err := regexp.Compile(p.Regex)
		if err != nil {
			return nil, fmt.Errorf("dates: pattern %d: %w", i, err)
		}
		e.patterns = append(e.patterns, compiled{re: re, layout: p.Layout})
	}
	return e, nil
}

// MustExtractor is NewExtractor for static pattern sets.
func MustExtractor(patterns ...Pattern) *Extractor {
	e, err := NewExtractor(patterns...)
	if err != nil {
		panic(err)
	}
	return e
}

// Extract returns the first date any pattern yields, trying the base name
// before the full path. The result is midnight UTC.
func (e *Extractor) Extract(p string) (time.Time, bool) {
	candidates := []string{path.Base(p)}
	if full := strings.TrimSpace(p); full != candidates[0] {
		candidates = append(candidates, full)
	}
	for _, s := range candidates {
		for _, c := range e.patterns {
			if t, ok := c.find(s); ok {
				return t, true
			}
		}
	}
	return time.Time{}, false
}

func (c compiled) find(s string) (time.Time, bool) {
	for _, m := range c.re.FindAllStringSubmatch(s, -1) {
		raw := m[0]
		if len(m) > 1 {
			raw = m[1]
		}
		t, err := time.ParseInLocation(c.layout, raw, time.UTC)
		if err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// ParseThreshold parses a rule date bound: a plain date or an RFC3339 instant.
func ParseThreshold(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.ParseInLocation(time.DateOnly, s, time.UTC); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("dates: unparseable threshold %q", s)
	}
	return t.UTC(), nil
}

// AgeDays is the number of whole days between d and now, floored, so dates
// later than now have a negative age.
func AgeDays(now, d time.Time) int {
	return int(math.Floor(now.Sub(d).Hours() / 24))
}

// Format renders t in the canonical form stored for thresholds: a plain date
// at midnight UTC, RFC3339 in UTC otherwise. Canonical values of either form
// order lexically the same way as the instants they denote.
func Format(t time.Time) string {
	t = t.UTC()
	if t.Equal(t.Truncate(24 * time.Hour)) {
		return t.Format(time.DateOnly)
	}
	return t.Format(time.RFC3339)
}
