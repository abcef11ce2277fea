package api

import (
	"time"

	"github.com/starford/ansuz/internal/criteria"
	"github.com/starford/ansuz/internal/models"
)

// CreateRuleRequest is the request body for creating a rule. Ids and creation
// times are assigned by the store.
type CreateRuleRequest struct {
	AppliesTo     models.CriteriaSet   `json:"applies_to"`
	Annotation    map[string]any       `json:"annotation"`
	MergeStrategy models.MergeStrategy `json:"merge_strategy,omitempty"`
	Metadata      map[string]any       `json:"metadata,omitempty"`
	ExpiresAt     *time.Time           `json:"expires_at,omitempty"`
}

func (req CreateRuleRequest) rule() models.AnnotationRule {
	return models.AnnotationRule{
		AppliesTo:     req.AppliesTo,
		Annotation:    req.Annotation,
		MergeStrategy: req.MergeStrategy,
		Metadata:      req.Metadata,
		ExpiresAt:     req.ExpiresAt,
	}
}

// RuleListResponse wraps paginated rule listings.
type RuleListResponse struct {
	Rules []models.AnnotationRule `json:"rules"`
	Total int                     `json:"total"`
}

// DeleteResponse reports how many rules a delete removed.
type DeleteResponse struct {
	Deleted int `json:"deleted"`
}

// ResolveResponse carries the merged annotation for one path.
type ResolveResponse struct {
	Path       string         `json:"path"`
	Annotation map[string]any `json:"annotation"`
}

// ExplainResponse reports how a resolution was reached.
type ExplainResponse struct {
	Record     models.FileContext    `json:"record"`
	Annotation map[string]any        `json:"annotation"`
	Applied    []string              `json:"applied"`
	Skipped    []criteria.Diagnostic `json:"skipped"`
	Candidates int                   `json:"candidates"`
	Filter     string                `json:"filter"`
}
