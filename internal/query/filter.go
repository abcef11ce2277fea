// Package query compiles a file record into a backend-agnostic pre-filter
// over stored rules.
//
// A Filter is a conjunction of clauses. Each clause passes a rule when the
// rule leaves the clause's field unset or when any of the clause's conditions
// holds for the rule's value. A separate expiry bound drops rules whose
// expires_at is at or before ActiveAt. Compiled filters are deliberately
// looser than criteria.Matches: they may admit rules that do not match, but
// never reject one that does.
package query

import (
	"fmt"
	"strings"
	"time"

	"github.com/starford/ansuz/internal/dates"
	"github.com/starford/ansuz/internal/models"
)

// Field names a CriteriaSet dimension as stored on a rule.
type Field string

const (
	FieldPath        Field = "applies_to.path"
	FieldUnder       Field = "applies_to.under"
	FieldExt         Field = "applies_to.ext"
	FieldLarger      Field = "applies_to.larger"
	FieldSmaller     Field = "applies_to.smaller"
	FieldBeforeDate  Field = "applies_to.before_date"
	FieldAfterDate   Field = "applies_to.after_date"
	FieldYoungerDays Field = "applies_to.younger_days"
	FieldOlderDays   Field = "applies_to.older_days"
)

// Fields lists every criteria field in clause order.
var Fields = []Field{
	FieldPath, FieldUnder, FieldExt,
	FieldLarger, FieldSmaller,
	FieldBeforeDate, FieldAfterDate,
	FieldYoungerDays, FieldOlderDays,
}

// Op is a comparison between the rule's field value (left) and the
// condition value (right).
type Op string

const (
	OpEq  Op = "eq"
	OpIn  Op = "in"
	OpGte Op = "gte"
	OpLte Op = "lte"
)

// Condition is one {field, operator, value} triple.
type Condition struct {
	Field Field `json:"field"`
	Op    Op    `json:"op"`
	Value any   `json:"value"`
}

// Clause is satisfied when the rule has no value for Field or any condition in
// AnyOf holds. An empty AnyOf admits only rules without the field.
type Clause struct {
	Field Field       `json:"field"`
	AnyOf []Condition `json:"any_of"`
}

// Filter is the compiled pre-filter.
type Filter struct {
	Clauses  []Clause  `json:"clauses"`
	ActiveAt time.Time `json:"active_at"`
}

// Value returns the rule's value for f in canonical form and whether it is set.
func Value(c models.CriteriaSet, f Field) (any, bool) {
	switch f {
	case FieldPath:
		return c.Path, c.Path != ""
	case FieldUnder:
		return c.Under, c.Under != ""
	case FieldExt:
		return c.Ext, c.Ext != ""
	case FieldLarger:
		if c.Larger == nil {
			return nil, false
		}
		return *c.Larger, true
	case FieldSmaller:
		if c.Smaller == nil {
			return nil, false
		}
		return *c.Smaller, true
	case FieldBeforeDate:
		return c.BeforeDate, c.BeforeDate != ""
	case FieldAfterDate:
		return c.AfterDate, c.AfterDate != ""
	case FieldYoungerDays:
		if c.YoungerDays == nil {
			return nil, false
		}
		return int64(*c.YoungerDays), true
	case FieldOlderDays:
		if c.OlderDays == nil {
			return nil, false
		}
		return int64(*c.OlderDays), true
	}
	return nil, false
}

// Admits evaluates the filter against a rule in memory. Rule criteria are
// compared in canonical form, the way stores persist them.
func (f Filter) Admits(r models.AnnotationRule) bool {
	if !f.ActiveAt.IsZero() && r.Expired(f.ActiveAt) {
		return false
	}
	c := r.AppliesTo.Normalize()
	for _, cl := range f.Clauses {
		v, ok := Value(c, cl.Field)
		if !ok {
			continue
		}
		if !cl.holds(v) {
			return false
		}
	}
	return true
}

func (cl Clause) holds(v any) bool {
	for _, cond := range cl.AnyOf {
		if cond.holds(v) {
			return true
		}
	}
	return false
}

func (c Condition) holds(v any) bool {
	switch c.Op {
	case OpEq:
		return compare(c.Field, v, c.Value) == 0
	case OpIn:
		vals, _ := c.Value.([]string)
		for _, want := range vals {
			if compare(c.Field, v, want) == 0 {
				return true
			}
		}
		return false
	case OpGte:
		return compare(c.Field, v, c.Value) >= 0
	case OpLte:
		return compare(c.Field, v, c.Value) <= 0
	}
	return false
}

// compare orders a rule value against a condition value. Date thresholds
// compare as instants; a threshold that does not parse compares equal so
// the rule is admitted and rejected later by the matcher, which reports it.
func compare(f Field, a, b any) int {
	switch f {
	case FieldBeforeDate, FieldAfterDate:
		ta, errA := dates.ParseThreshold(fmt.Sprint(a))
		tb, errB := dates.ParseThreshold(fmt.Sprint(b))
		if errA != nil || errB != nil {
			return 0
		}
		return ta.Compare(tb)
	}
	ia, okA := toInt64(a)
	ib, okB := toInt64(b)
	if okA && okB {
		switch {
		case ia < ib:
			return -1
		case ia > ib:
			return 1
		}
		return 0
	}
	return strings.Compare(fmt.Sprint(a), fmt.Sprint(b))
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	}
	return 0, false
}

// String renders the filter for logs.
func (f Filter) String() string {
	parts := make([]string, 0, len(f.Clauses)+1)
	for _, cl := range f.Clauses {
		alts := []string{fmt.Sprintf("%s missing", cl.Field)}
		for _, c := range cl.AnyOf {
			alts = append(alts, fmt.Sprintf("%s %s %v", c.Field, c.Op, c.Value))
		}
		parts = append(parts, "("+strings.Join(alts, " OR ")+")")
	}
	if !f.ActiveAt.IsZero() {
		parts = append(parts, fmt.Sprintf("(expires_at missing OR expires_at > %s)", f.ActiveAt.Format(time.RFC3339)))
	}
	return strings.Join(parts, " AND ")
}
