package query

import (
	"time"

	"github.com/starford/ansuz/internal/criteria"
	"github.com/starford/ansuz/internal/dates"
	"github.com/starford/ansuz/internal/models"
)

// Compile builds the pre-filter for fc, with expiry evaluated at now.
//
// Size bounds compile to inclusive comparisons and date clauses are omitted
// down to "field missing" when fc has no extracted date, because such rules
// can never match it.
func Compile(fc models.FileContext, now time.Time) Filter {
	f := Filter{ActiveAt: now}

	f.Clauses = append(f.Clauses,
		in(FieldPath, fc.Path, criteria.Clean(fc.Path), fc.Dir(), criteria.Clean(fc.Dir())),
		in(FieldUnder, append([]string{fc.Path}, criteria.Ancestors(fc.Path)...)...),
		in(FieldExt, criteria.ExtensionsOf(fc.BaseName())...),
		cmp(FieldLarger, OpLte, fc.Size),
		cmp(FieldSmaller, OpGte, fc.Size),
	)

	if fc.ExtractedDate == nil {
		for _, fld := range []Field{FieldBeforeDate, FieldAfterDate, FieldYoungerDays, FieldOlderDays} {
			f.Clauses = append(f.Clauses, Clause{Field: fld})
		}
		return f
	}

	d := dates.Format(*fc.ExtractedDate)
	age := int64(dates.AgeDays(now, *fc.ExtractedDate))
	f.Clauses = append(f.Clauses,
		cmp(FieldBeforeDate, OpGte, d),
		cmp(FieldAfterDate, OpLte, d),
		cmp(FieldYoungerDays, OpGte, age),
		cmp(FieldOlderDays, OpLte, age),
	)
	return f
}

func cmp(f Field, op Op, v any) Clause {
	return Clause{Field: f, AnyOf: []Condition{{Field: f, Op: op, Value: v}}}
}

func in(f Field, values ...string) Clause {
	seen := make(map[string]struct{}, len(values))
	var uniq []string
	for _, v := range values {
		if v == "" {
			continue
		}
		if _, dup := seen[v]; dup {
			continue
		}
		seen[v] = struct{}{}
		uniq = append(uniq, v)
	}
	if len(uniq) == 0 {
		return Clause{Field: f}
	}
	return Clause{Field: f, AnyOf: []Condition{{Field: f, Op: OpIn, Value: uniq}}}
}
