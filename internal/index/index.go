package index

import (
	"context"

	"github.com/starford/ansuz/internal/models"
	"github.com/starford/ansuz/internal/resolver"
)

// RuleIndex defines the rule store operations.
// Consumers should depend on this interface rather than the concrete *DB type
// to facilitate testing with mocks.
type RuleIndex interface {
	resolver.Store
	Get(ctx context.Context, id string) (*models.AnnotationRule, error)
	List(ctx context.Context, opts ListOptions) ([]models.AnnotationRule, int, error)
	ReplaceSource(ctx context.Context, source, checksum string, rules []models.AnnotationRule) error
	DeleteSource(ctx context.Context, source string) error
	SourceChecksums(ctx context.Context) (map[string]string, error)
	Close() error
}

// Verify *DB satisfies RuleIndex at compile time.
var _ RuleIndex = (*DB)(nil)
