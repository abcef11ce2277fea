package index

import (
	"context"
	"fmt"
	"strings"

	"github.com/starford/ansuz/internal/models"
	"github.com/starford/ansuz/internal/query"
)

var fieldColumns = map[query.Field]string{
	query.FieldPath:        "path",
	query.FieldUnder:       "under",
	query.FieldExt:         "ext",
	query.FieldLarger:      "larger",
	query.FieldSmaller:     "smaller",
	query.FieldBeforeDate:  "before_date",
	query.FieldAfterDate:   "after_date",
	query.FieldYoungerDays: "younger_days",
	query.FieldOlderDays:   "older_days",
}

// Query returns the rules admitted by f. Each clause becomes
// "(col IS NULL OR ...)" and the expiry bound "(expires_at IS NULL OR expires_at > ?)".
func (db *DB) Query(ctx context.Context, f query.Filter) ([]models.AnnotationRule, error) {
	where, args, err := compileSQL(f)
	if err != nil {
		return nil, err
	}
	rows, err := db.conn.QueryContext(ctx, `SELECT `+ruleColumns+` FROM rules WHERE `+where, args...)
	if err != nil {
		return nil, fmt.Errorf("index: query rules: %w", err)
	}
	return collect(rows)
}

func compileSQL(f query.Filter) (string, []any, error) {
	parts := []string{"1 = 1"}
	var args []any
	for _, cl := range f.Clauses {
		col, ok := fieldColumns[cl.Field]
		if !ok {
			return "", nil, fmt.Errorf("index: unknown filter field %q", cl.Field)
		}
		alts := []string{col + " IS NULL"}
		for _, c := range cl.AnyOf {
			switch c.Op {
			case query.OpEq:
				alts = append(alts, col+" = ?")
				args = append(args, c.Value)
			case query.OpGte:
				alts = append(alts, col+" >= ?")
				args = append(args, c.Value)
			case query.OpLte:
				alts = append(alts, col+" <= ?")
				args = append(args, c.Value)
			case query.OpIn:
				vals, _ := c.Value.([]string)
				if len(vals) == 0 {
					continue
				}
				alts = append(alts, col+" IN ("+placeholders(len(vals))+")")
				for _, v := range vals {
					args = append(args, v)
				}
			default:
				return "", nil, fmt.Errorf("index: unsupported operator %q", c.Op)
			}
		}
		parts = append(parts, "("+strings.Join(alts, " OR ")+")")
	}
	if !f.ActiveAt.IsZero() {
		parts = append(parts, "(expires_at IS NULL OR expires_at > ?)")
		args = append(args, f.ActiveAt.UnixNano())
	}
	return strings.Join(parts, " AND "), args, nil
}
