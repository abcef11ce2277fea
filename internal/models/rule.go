// Package models defines the domain types for Ansuz.
package models

import (
	"fmt"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// MergeStrategy controls how a rule's annotation combines with values already
// accumulated from less specific rules.
type MergeStrategy string

const (
	MergeDefault  MergeStrategy = "default"
	MergeOverride MergeStrategy = "override"
	MergeAddition MergeStrategy = "addition"
)

// Normalize maps the empty strategy to MergeDefault.
func (s MergeStrategy) Normalize() MergeStrategy {
	if s == "" {
		return MergeDefault
	}
	return s
}

// Valid reports whether s is a known strategy (empty counts as default).
func (s MergeStrategy) Valid() bool {
	switch s.Normalize() {
	case MergeDefault, MergeOverride, MergeAddition:
		return true
	}
	return false
}

// AnnotationRule pairs optional matching criteria with an annotation payload.
// Rules are immutable once stored; changing one means deleting and re-creating it.
type AnnotationRule struct {
	ID            string         `json:"id,omitempty" yaml:"id,omitempty"`
	AppliesTo     CriteriaSet    `json:"applies_to" yaml:"applies_to"`
	Annotation    map[string]any `json:"annotation" yaml:"annotation"`
	MergeStrategy MergeStrategy  `json:"merge_strategy" yaml:"merge_strategy"`
	Metadata      map[string]any `json:"metadata,omitempty" yaml:"metadata,omitempty"`
	CreatedAt     time.Time      `json:"created_at" yaml:"created_at,omitempty"`
	ExpiresAt     *time.Time     `json:"expires_at,omitempty" yaml:"expires_at,omitempty"`
}

// Expired reports whether the rule's expiry is at or before now.
func (r *AnnotationRule) Expired(now time.Time) bool {
	return r.ExpiresAt != nil && !r.ExpiresAt.After(now)
}

// Validate checks the rule payload before it is stored.
func (r *AnnotationRule) Validate() error {
	if err := validation.ValidateStruct(r,
		validation.Field(&r.Annotation, validation.Required),
		validation.Field(&r.MergeStrategy, validation.By(func(any) error {
			if !r.MergeStrategy.Valid() {
				return fmt.Errorf("unknown merge strategy %q", r.MergeStrategy)
			}
			return nil
		})),
	); err != nil {
		return err
	}
	return r.AppliesTo.Validate()
}
