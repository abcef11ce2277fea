// Package ruleservice coordinates the rule store, the resolver and change
// notifications for the API and MCP layers.
package ruleservice

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/starford/ansuz/internal/apperr"
	"github.com/starford/ansuz/internal/index"
	"github.com/starford/ansuz/internal/models"
	"github.com/starford/ansuz/internal/resolver"
	"github.com/starford/ansuz/internal/rulefile"
	"github.com/starford/ansuz/internal/sse"
)

// Publisher receives store change notifications.
type Publisher interface {
	PublishChange(typ string, data any)
}

// Service coordinates rule store and resolver operations.
type Service struct {
	db     index.RuleIndex
	res    *resolver.Resolver
	events Publisher
	logger *slog.Logger
}

// NewService creates a rule service. events may be nil.
func NewService(db index.RuleIndex, res *resolver.Resolver, events Publisher, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{db: db, res: res, events: events, logger: logger}
}

func (s *Service) publish(typ string, data any) {
	if s.events != nil {
		s.events.PublishChange(typ, data)
	}
}

// CreateRule stores a new rule and returns it as persisted.
func (s *Service) CreateRule(ctx context.Context, rule models.AnnotationRule) (*models.AnnotationRule, error) {
	if rule.ID != "" {
		return nil, fmt.Errorf("ruleservice: id is assigned by the store: %w", apperr.ErrInvalid)
	}
	id, err := s.db.Put(ctx, rule)
	if err != nil {
		return nil, err
	}
	stored, err := s.db.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	s.logger.Info("rule created", slog.String("rule_id", id))
	s.publish(sse.TypeRuleCreated, map[string]string{"id": id})
	return stored, nil
}

// GetRule returns one rule by id.
func (s *Service) GetRule(ctx context.Context, id string) (*models.AnnotationRule, error) {
	return s.db.Get(ctx, id)
}

// ListRules returns a page of rules and the total matching opts.
func (s *Service) ListRules(ctx context.Context, opts index.ListOptions) ([]models.AnnotationRule, int, error) {
	rules, total, err := s.db.List(ctx, opts)
	if err != nil {
		return nil, 0, err
	}
	if rules == nil {
		rules = []models.AnnotationRule{}
	}
	return rules, total, nil
}

// DeleteMatching removes every rule whose criteria equal c exactly.
func (s *Service) DeleteMatching(ctx context.Context, c models.CriteriaSet) (int, error) {
	n, err := s.db.DeleteMatching(ctx, c)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.logger.Info("rules deleted", slog.Int("count", n))
		s.publish(sse.TypeRulesDeleted, map[string]any{"applies_to": c, "deleted": n})
	}
	return n, nil
}

// Resolve returns the merged annotation for path.
func (s *Service) Resolve(ctx context.Context, path string) (map[string]any, error) {
	return s.res.Resolve(ctx, path)
}

// Explain returns the full resolution for path.
func (s *Service) Explain(ctx context.Context, path string) (*resolver.Resolution, error) {
	return s.res.Explain(ctx, path)
}

// Annotated returns the record for path overlaid with its annotation.
func (s *Service) Annotated(ctx context.Context, path string) (map[string]any, error) {
	return s.res.Annotated(ctx, path)
}

// SyncRules loads the rule dir into the store once.
func (s *Service) SyncRules(ctx context.Context, dir *rulefile.Dir) (rulefile.Report, error) {
	rep, err := rulefile.Sync(ctx, s.db, dir, s.logger)
	if err != nil {
		return rep, err
	}
	for _, p := range rep.Removed {
		s.OnSourceChange(rulefile.KindRemoved, p)
	}
	for _, p := range rep.Loaded {
		s.OnSourceChange(rulefile.KindLoaded, p)
	}
	return rep, nil
}

// OnSourceChange is the rulefile.EventCallback used by the watcher.
func (s *Service) OnSourceChange(kind, source string) {
	data := map[string]string{"source": source}
	switch kind {
	case rulefile.KindLoaded:
		s.publish(sse.TypeSourceLoaded, data)
	case rulefile.KindRemoved:
		s.publish(sse.TypeSourceRemoved, data)
	}
}

// WatchRules follows the rule dir until ctx is done.
func (s *Service) WatchRules(ctx context.Context, dir *rulefile.Dir) error {
	return rulefile.Watch(ctx, s.db, dir, s.logger, s.OnSourceChange)
}
