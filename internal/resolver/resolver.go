// Package resolver answers "which annotations apply to this path" by chaining
// the file index, the rule store pre-filter, local re-verification and merge.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"time"

	"github.com/starford/ansuz/internal/apperr"
	"github.com/starford/ansuz/internal/criteria"
	"github.com/starford/ansuz/internal/dates"
	"github.com/starford/ansuz/internal/merge"
	"github.com/starford/ansuz/internal/models"
	"github.com/starford/ansuz/internal/query"
)

// Store is the rule persistence collaborator.
type Store interface {
	// Put saves a new rule and returns its assigned id.
	Put(ctx context.Context, rule models.AnnotationRule) (string, error)
	// DeleteMatching removes every rule whose criteria equal c.
	DeleteMatching(ctx context.Context, c models.CriteriaSet) (int, error)
	// Query returns, in no particular order, a superset of the rules that
	// can match under f.
	Query(ctx context.Context, f query.Filter) ([]models.AnnotationRule, error)
}

// FileIndex looks records up by path. Unknown paths yield apperr.ErrNotFound.
type FileIndex interface {
	GetRecord(ctx context.Context, path string) (models.FileContext, error)
}

// Resolution is the full outcome of one resolve call.
type Resolution struct {
	Record     models.FileContext    `json:"record"`
	Annotation map[string]any        `json:"annotation"`
	Applied    []string              `json:"applied"`
	Skipped    []criteria.Diagnostic `json:"skipped,omitempty"`
	Candidates int                   `json:"candidates"`
	Filter     query.Filter          `json:"-"`
}

// Resolver is stateless across calls; any number of resolutions may run in
// parallel.
type Resolver struct {
	store     Store
	files     FileIndex
	logger    *slog.Logger
	clock     func() time.Time
	extractor *dates.Extractor
	timeout   time.Duration
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithLogger sets the logger used for skipped-rule diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(r *Resolver) { r.logger = l }
}

// WithClock overrides the evaluation instant source.
func WithClock(now func() time.Time) Option {
	return func(r *Resolver) { r.clock = now }
}

// WithExtractor fills in ExtractedDate for records the index returns without one.
func WithExtractor(e *dates.Extractor) Option {
	return func(r *Resolver) { r.extractor = e }
}

// WithTimeout bounds each store query. Zero leaves it to the caller's context.
func WithTimeout(d time.Duration) Option {
	return func(r *Resolver) { r.timeout = d }
}

// New creates a Resolver over explicitly injected collaborators.
func New(store Store, files FileIndex, opts ...Option) *Resolver {
	r := &Resolver{
		store:  store,
		files:  files,
		logger: slog.Default(),
		clock:  time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve returns the merged annotation for path; an empty mapping when no
// rule applies.
func (r *Resolver) Resolve(ctx context.Context, path string) (map[string]any, error) {
	res, err := r.Explain(ctx, path)
	if err != nil {
		return nil, err
	}
	return res.Annotation, nil
}

// Annotated returns the record's own fields overlaid with its annotation.
func (r *Resolver) Annotated(ctx context.Context, path string) (map[string]any, error) {
	res, err := r.Explain(ctx, path)
	if err != nil {
		return nil, err
	}
	out := res.Record.Fields()
	maps.Copy(out, res.Annotation)
	return out, nil
}

// Explain runs a resolution and reports how it was reached.
func (r *Resolver) Explain(ctx context.Context, path string) (*Resolution, error) {
	fc, err := r.files.GetRecord(ctx, path)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return nil, fmt.Errorf("resolver: %s: %w", path, err)
		}
		return nil, fmt.Errorf("resolver: lookup %s: %w: %v", path, apperr.ErrUnavailable, err)
	}
	if fc.ExtractedDate == nil && r.extractor != nil {
		if d, ok := r.extractor.Extract(fc.Path); ok {
			fc.ExtractedDate = &d
		}
	}

	now := r.clock()
	filter := query.Compile(fc, now)

	candidates, err := r.query(ctx, filter)
	if err != nil {
		return nil, err
	}

	matched, skipped := criteria.Filter(candidates, fc, now)
	for _, d := range skipped {
		r.logger.Warn("resolver: skipped malformed rule",
			slog.String("rule_id", d.RuleID),
			slog.String("path", fc.Path),
			slog.String("error", d.Err.Error()))
	}

	ordered := merge.Sort(matched)
	applied := make([]string, len(ordered))
	for i, rule := range ordered {
		applied[i] = rule.ID
	}

	r.logger.Debug("resolver: resolved",
		slog.String("path", fc.Path),
		slog.Int("candidates", len(candidates)),
		slog.Int("matched", len(matched)))

	return &Resolution{
		Record:     fc,
		Annotation: merge.Merge(ordered),
		Applied:    applied,
		Skipped:    skipped,
		Candidates: len(candidates),
		Filter:     filter,
	}, nil
}

// query fetches candidates all-or-nothing: a failed or cancelled query
// yields no candidates at all.
func (r *Resolver) query(ctx context.Context, f query.Filter) ([]models.AnnotationRule, error) {
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}
	rules, err := r.store.Query(ctx, f)
	if err == nil {
		err = ctx.Err()
	}
	if err != nil {
		return nil, fmt.Errorf("resolver: query store: %w: %v", apperr.ErrUnavailable, err)
	}
	return rules, nil
}
