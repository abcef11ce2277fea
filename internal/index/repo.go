package index

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/starford/ansuz/internal/apperr"
	"github.com/starford/ansuz/internal/models"
)

const ruleColumns = `id, path, under, ext, larger, smaller, before_date, after_date,
	younger_days, older_days, annotation, merge_strategy, metadata, created_at, expires_at`

// ListOptions narrows List. Under selects rules scoped at or below a
// directory, Keys selects rules whose annotation sets any of the given keys.
type ListOptions struct {
	Under  string
	Ext    string
	Keys   []string
	Source string
	Limit  int
	Offset int
}

// execer is satisfied by both *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Put validates and stores a new rule, returning the assigned id.
func (db *DB) Put(ctx context.Context, rule models.AnnotationRule) (string, error) {
	return insertRule(ctx, db.conn, rule, "")
}

func insertRule(ctx context.Context, ex execer, rule models.AnnotationRule, source string) (string, error) {
	if rule.ID != "" {
		return "", fmt.Errorf("index: put: id is assigned by the store: %w", apperr.ErrInvalid)
	}
	rule.AppliesTo = rule.AppliesTo.Normalize()
	rule.MergeStrategy = rule.MergeStrategy.Normalize()
	if err := rule.Validate(); err != nil {
		return "", fmt.Errorf("index: put: %w: %v", apperr.ErrInvalid, err)
	}
	if rule.CreatedAt.IsZero() {
		rule.CreatedAt = time.Now()
	}

	annJSON, err := json.Marshal(rule.Annotation)
	if err != nil {
		return "", fmt.Errorf("index: put: encode annotation: %w", err)
	}
	metaJSON, err := json.Marshal(nonNilMap(rule.Metadata))
	if err != nil {
		return "", fmt.Errorf("index: put: encode metadata: %w", err)
	}

	id := uuid.New().String()
	c := rule.AppliesTo
	_, err = ex.ExecContext(ctx, `
		INSERT INTO rules (`+ruleColumns+`, source)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, id, nullString(c.Path), nullString(c.Under), nullString(c.Ext),
		c.Larger, c.Smaller, nullString(c.BeforeDate), nullString(c.AfterDate),
		c.YoungerDays, c.OlderDays,
		string(annJSON), string(rule.MergeStrategy), string(metaJSON),
		rule.CreatedAt.UnixNano(), nullTime(rule.ExpiresAt), source)
	if err != nil {
		return "", fmt.Errorf("index: insert rule: %w", err)
	}
	return id, nil
}

// DeleteMatching removes every rule whose criteria equal c exactly, field by
// field, after normalisation. An empty c deletes the global rules only.
func (db *DB) DeleteMatching(ctx context.Context, c models.CriteriaSet) (int, error) {
	c = c.Normalize()
	res, err := db.conn.ExecContext(ctx, `
		DELETE FROM rules
		WHERE path IS ? AND under IS ? AND ext IS ?
		  AND larger IS ? AND smaller IS ?
		  AND before_date IS ? AND after_date IS ?
		  AND younger_days IS ? AND older_days IS ?
	`, nullString(c.Path), nullString(c.Under), nullString(c.Ext),
		c.Larger, c.Smaller, nullString(c.BeforeDate), nullString(c.AfterDate),
		c.YoungerDays, c.OlderDays)
	if err != nil {
		return 0, fmt.Errorf("index: delete matching: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("index: delete matching: %w", err)
	}
	return int(n), nil
}

// Get returns one rule by id.
func (db *DB) Get(ctx context.Context, id string) (*models.AnnotationRule, error) {
	row := db.conn.QueryRowContext(ctx, `SELECT `+ruleColumns+` FROM rules WHERE id = ?`, id)
	r, err := scanRule(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("index: rule %s: %w", id, apperr.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("index: get rule: %w", err)
	}
	return &r, nil
}

// List returns a page of rules ordered by creation, with the total count.
func (db *DB) List(ctx context.Context, opts ListOptions) ([]models.AnnotationRule, int, error) {
	if opts.Limit <= 0 {
		opts.Limit = 50
	}
	if opts.Offset < 0 {
		opts.Offset = 0
	}

	var where []string
	var args []any
	if opts.Under != "" {
		under := strings.TrimSuffix(opts.Under, "/")
		if under == "" {
			where = append(where, "under IS NOT NULL")
		} else {
			where = append(where, "(under = ? OR substr(under, 1, ?) = ?)")
			args = append(args, under, len(under)+1, under+"/")
		}
	}
	if opts.Ext != "" {
		where = append(where, "ext = ?")
		args = append(args, models.NormalizeExt(opts.Ext))
	}
	if len(opts.Keys) > 0 {
		where = append(where, "EXISTS (SELECT 1 FROM json_each(rules.annotation) WHERE json_each.key IN ("+placeholders(len(opts.Keys))+"))")
		for _, k := range opts.Keys {
			args = append(args, k)
		}
	}
	if opts.Source != "" {
		where = append(where, "source = ?")
		args = append(args, opts.Source)
	}
	cond := ""
	if len(where) > 0 {
		cond = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := db.conn.QueryRowContext(ctx, `SELECT count(*) FROM rules`+cond, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("index: count rules: %w", err)
	}

	rows, err := db.conn.QueryContext(ctx,
		`SELECT `+ruleColumns+` FROM rules`+cond+` ORDER BY created_at, id LIMIT ? OFFSET ?`,
		append(args, opts.Limit, opts.Offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("index: list rules: %w", err)
	}
	out, err := collect(rows)
	if err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRule(s scanner) (models.AnnotationRule, error) {
	var (
		r                                          models.AnnotationRule
		path, under, ext, beforeDate, afterDate    sql.NullString
		larger, smaller, younger, older, expiresAt sql.NullInt64
		annJSON, strategy, metaJSON                string
		createdAt                                  int64
	)
	if err := s.Scan(&r.ID, &path, &under, &ext, &larger, &smaller, &beforeDate, &afterDate,
		&younger, &older, &annJSON, &strategy, &metaJSON, &createdAt, &expiresAt); err != nil {
		return r, err
	}

	r.AppliesTo = models.CriteriaSet{
		Path:       path.String,
		Under:      under.String,
		Ext:        ext.String,
		BeforeDate: beforeDate.String,
		AfterDate:  afterDate.String,
	}
	if larger.Valid {
		r.AppliesTo.Larger = models.Int64(larger.Int64)
	}
	if smaller.Valid {
		r.AppliesTo.Smaller = models.Int64(smaller.Int64)
	}
	if younger.Valid {
		r.AppliesTo.YoungerDays = models.Int(int(younger.Int64))
	}
	if older.Valid {
		r.AppliesTo.OlderDays = models.Int(int(older.Int64))
	}
	r.MergeStrategy = models.MergeStrategy(strategy)
	r.CreatedAt = time.Unix(0, createdAt).UTC()
	if expiresAt.Valid {
		t := time.Unix(0, expiresAt.Int64).UTC()
		r.ExpiresAt = &t
	}
	if err := decodeObject(annJSON, &r.Annotation); err != nil {
		return r, fmt.Errorf("index: decode annotation of %s: %w", r.ID, err)
	}
	if err := decodeObject(metaJSON, &r.Metadata); err != nil {
		return r, fmt.Errorf("index: decode metadata of %s: %w", r.ID, err)
	}
	return r, nil
}

// decodeObject keeps numbers as json.Number so integers survive exactly.
func decodeObject(s string, v *map[string]any) error {
	dec := json.NewDecoder(strings.NewReader(s))
	dec.UseNumber()
	return dec.Decode(v)
}

func collect(rows *sql.Rows) ([]models.AnnotationRule, error) {
	defer rows.Close()
	var out []models.AnnotationRule
	for rows.Next() {
		r, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UnixNano()
}

func nonNilMap(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
