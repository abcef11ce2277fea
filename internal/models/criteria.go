package models

import (
	"errors"
	"path"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/ansuz/internal/dates"
)

// CriteriaSet scopes a rule. Every field is optional; an absent field leaves
// that dimension unconstrained. An empty set matches every record.
type CriteriaSet struct {
	Path        string `json:"path,omitempty" yaml:"path,omitempty"`
	Under       string `json:"under,omitempty" yaml:"under,omitempty"`
	Ext         string `json:"ext,omitempty" yaml:"ext,omitempty"`
	Larger      *int64 `json:"larger,omitempty" yaml:"larger,omitempty"`
	Smaller     *int64 `json:"smaller,omitempty" yaml:"smaller,omitempty"`
	BeforeDate  string `json:"before_date,omitempty" yaml:"before_date,omitempty"`
	AfterDate   string `json:"after_date,omitempty" yaml:"after_date,omitempty"`
	YoungerDays *int   `json:"younger_days,omitempty" yaml:"younger_days,omitempty"`
	OlderDays   *int   `json:"older_days,omitempty" yaml:"older_days,omitempty"`
}

// Specificity is the number of constrained fields.
func (c CriteriaSet) Specificity() int {
	n := 0
	for _, set := range []bool{
		c.Path != "",
		c.Under != "",
		c.Ext != "",
		c.Larger != nil,
		c.Smaller != nil,
		c.BeforeDate != "",
		c.AfterDate != "",
		c.YoungerDays != nil,
		c.OlderDays != nil,
	} {
		if set {
			n++
		}
	}
	return n
}

// IsEmpty reports whether the set is global (matches every record).
func (c CriteriaSet) IsEmpty() bool {
	return c.Specificity() == 0
}

// Normalize returns a copy with canonical path and extension forms:
// paths are cleaned and ext always carries a leading dot.
func (c CriteriaSet) Normalize() CriteriaSet {
	out := c
	if out.Path != "" {
		out.Path = path.Clean(out.Path)
	}
	if out.Under != "" {
		out.Under = path.Clean(out.Under)
	}
	out.Ext = NormalizeExt(out.Ext)
	out.BeforeDate = canonicalDate(out.BeforeDate)
	out.AfterDate = canonicalDate(out.AfterDate)
	return out
}

// canonicalDate rewrites a parseable threshold in UTC canonical form and
// leaves anything else untouched for validation to report.
func canonicalDate(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return s
	}
	t, err := dates.ParseThreshold(s)
	if err != nil {
		return s
	}
	return dates.Format(t)
}

// NormalizeExt adds the leading dot to a bare extension.
func NormalizeExt(ext string) string {
	ext = strings.TrimSpace(ext)
	if ext == "" || strings.HasPrefix(ext, ".") {
		return ext
	}
	return "." + ext
}

// Equal reports field-by-field equality, comparing pointer fields by value.
func (c CriteriaSet) Equal(o CriteriaSet) bool {
	return c.Path == o.Path &&
		c.Under == o.Under &&
		c.Ext == o.Ext &&
		eqPtr(c.Larger, o.Larger) &&
		eqPtr(c.Smaller, o.Smaller) &&
		c.BeforeDate == o.BeforeDate &&
		c.AfterDate == o.AfterDate &&
		eqPtr(c.YoungerDays, o.YoungerDays) &&
		eqPtr(c.OlderDays, o.OlderDays)
}

func eqPtr[T comparable](a, b *T) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// Validate rejects criteria that could never be evaluated.
func (c CriteriaSet) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Ext, validation.By(noSlash)),
		validation.Field(&c.Larger, validation.Min(int64(0))),
		validation.Field(&c.Smaller, validation.Min(int64(0))),
		validation.Field(&c.BeforeDate, validation.By(threshold)),
		validation.Field(&c.AfterDate, validation.By(threshold)),
		validation.Field(&c.YoungerDays, validation.Min(0)),
		validation.Field(&c.OlderDays, validation.Min(0)),
	)
}

func noSlash(v any) error {
	if s, _ := v.(string); strings.Contains(s, "/") {
		return errors.New("must not contain a path separator")
	}
	return nil
}

func threshold(v any) error {
	s, _ := v.(string)
	if s == "" {
		return nil
	}
	_, err := dates.ParseThreshold(s)
	return err
}

// Int64 and Int return pointers for literal criteria values.
func Int64(v int64) *int64 { return &v }

func Int(v int) *int { return &v }
