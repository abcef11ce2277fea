// Package testutil provides shared test doubles and temporary databases.
package testutil

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/starford/ansuz/internal/apperr"
	"github.com/starford/ansuz/internal/index"
	"github.com/starford/ansuz/internal/models"
	"github.com/starford/ansuz/internal/query"
)

// TestDB creates a temporary SQLite rule store that is automatically cleaned up.
func TestDB(t *testing.T) *index.DB {
	t.Helper()
	dbFile, err := os.CreateTemp("", "ansuz-test-*.db")
	if err != nil {
		t.Fatal(err)
	}
	dbFile.Close()
	t.Cleanup(func() { os.Remove(dbFile.Name()) })

	db, err := index.Open(dbFile.Name())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// MemoryStore is an in-memory resolver.Store evaluating filters with
// query.Filter.Admits. Err, when set, is returned by Query.
type MemoryStore struct {
	mu      sync.Mutex
	rules   []models.AnnotationRule
	next    int
	Err     error
	Queries int
}

// NewMemoryStore returns a store preloaded with rules, assigning ids r1, r2...
// to those that have none.
func NewMemoryStore(rules ...models.AnnotationRule) *MemoryStore {
	s := &MemoryStore{}
	for _, r := range rules {
		s.add(r)
	}
	return s
}

func (s *MemoryStore) add(r models.AnnotationRule) string {
	s.next++
	if r.ID == "" {
		r.ID = fmt.Sprintf("r%d", s.next)
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Date(2025, 1, 1, 0, 0, s.next, 0, time.UTC)
	}
	s.rules = append(s.rules, r)
	return r.ID
}

func (s *MemoryStore) Put(_ context.Context, r models.AnnotationRule) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r.ID != "" {
		return "", apperr.ErrInvalid
	}
	return s.add(r), nil
}

func (s *MemoryStore) DeleteMatching(_ context.Context, c models.CriteriaSet) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c = c.Normalize()
	kept := s.rules[:0]
	n := 0
	for _, r := range s.rules {
		if r.AppliesTo.Normalize().Equal(c) {
			n++
			continue
		}
		kept = append(kept, r)
	}
	s.rules = kept
	return n, nil
}

func (s *MemoryStore) Query(ctx context.Context, f query.Filter) ([]models.AnnotationRule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Queries++
	if s.Err != nil {
		return nil, s.Err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []models.AnnotationRule
	// Reverse insertion order: callers must not rely on store ordering.
	for i := len(s.rules) - 1; i >= 0; i-- {
		if f.Admits(s.rules[i]) {
			out = append(out, s.rules[i])
		}
	}
	return out, nil
}

// Files is a map-backed FileIndex.
type Files map[string]models.FileContext

func (f Files) GetRecord(_ context.Context, path string) (models.FileContext, error) {
	fc, ok := f[path]
	if !ok {
		return models.FileContext{}, fmt.Errorf("testutil: %s: %w", path, apperr.ErrNotFound)
	}
	return fc, nil
}

// SampleRules are the reference rules used across packages: .nc format,
// a tape plan pinned to /data/cmip5 and a tiny-file note under /data.
func SampleRules() []models.AnnotationRule {
	return []models.AnnotationRule{
		{
			AppliesTo:     models.CriteriaSet{Ext: ".nc"},
			Annotation:    map[string]any{"format": "NetCDF-4"},
			MergeStrategy: models.MergeDefault,
			Metadata:      map[string]any{"created_by": "scanner"},
		},
		{
			AppliesTo:     models.CriteriaSet{Path: "/data/cmip5"},
			Annotation:    map[string]any{"storage_plan": "tape only"},
			MergeStrategy: models.MergeOverride,
			Metadata:      map[string]any{"created_by": "SJP"},
		},
		{
			AppliesTo:     models.CriteriaSet{Under: "/data", Smaller: models.Int64(1000)},
			Annotation:    map[string]any{"note": "tiny file"},
			MergeStrategy: models.MergeAddition,
		},
	}
}
