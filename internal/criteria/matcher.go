// Package criteria decides whether a rule's scope covers a file record.
//
// Matching is a pure function of the criteria, the record and the evaluation
// instant: every constrained field must hold, unconstrained fields hold
// vacuously. It is safe to call concurrently.
package criteria

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/starford/ansuz/internal/dates"
	"github.com/starford/ansuz/internal/models"
)

// Diagnostic records a rule that was skipped because it could not be evaluated.
type Diagnostic struct {
	RuleID string `json:"rule_id"`
	Err    error  `json:"-"`
}

func (d Diagnostic) Error() string {
	return fmt.Sprintf("rule %s: %v", d.RuleID, d.Err)
}

// MarshalJSON renders the cause as a string next to the rule id.
func (d Diagnostic) MarshalJSON() ([]byte, error) {
	out := struct {
		RuleID string `json:"rule_id"`
		Error  string `json:"error,omitempty"`
	}{RuleID: d.RuleID}
	if d.Err != nil {
		out.Error = d.Err.Error()
	}
	return json.Marshal(out)
}

// Matches reports whether c covers fc at instant now. The error is non-nil
// only when c itself is malformed (an unparseable date threshold).
func Matches(c models.CriteriaSet, fc models.FileContext, now time.Time) (bool, error) {
	var before, after time.Time
	var err error
	if c.BeforeDate != "" {
		if before, err = dates.ParseThreshold(c.BeforeDate); err != nil {
			return false, fmt.Errorf("criteria: before_date: %w", err)
		}
	}
	if c.AfterDate != "" {
		if after, err = dates.ParseThreshold(c.AfterDate); err != nil {
			return false, fmt.Errorf("criteria: after_date: %w", err)
		}
	}

	if c.Path != "" {
		p := Clean(c.Path)
		if p != Clean(fc.Path) && p != Clean(fc.Dir()) {
			return false, nil
		}
	}
	if c.Under != "" && !Within(fc.Path, c.Under) {
		return false, nil
	}
	if c.Ext != "" && !hasExt(fc.BaseName(), models.NormalizeExt(c.Ext)) {
		return false, nil
	}
	if c.Larger != nil && fc.Size <= *c.Larger {
		return false, nil
	}
	if c.Smaller != nil && fc.Size >= *c.Smaller {
		return false, nil
	}

	needsDate := c.BeforeDate != "" || c.AfterDate != "" || c.YoungerDays != nil || c.OlderDays != nil
	if !needsDate {
		return true, nil
	}
	if fc.ExtractedDate == nil {
		return false, nil
	}
	d := *fc.ExtractedDate
	if c.BeforeDate != "" && !d.Before(before) {
		return false, nil
	}
	if c.AfterDate != "" && !d.After(after) {
		return false, nil
	}
	age := dates.AgeDays(now, d)
	if c.YoungerDays != nil && age >= *c.YoungerDays {
		return false, nil
	}
	if c.OlderDays != nil && age <= *c.OlderDays {
		return false, nil
	}
	return true, nil
}

// Filter keeps the live rules whose criteria cover fc. Expired rules are
// dropped before matching; malformed ones are skipped and reported.
func Filter(rules []models.AnnotationRule, fc models.FileContext, now time.Time) ([]models.AnnotationRule, []Diagnostic) {
	var matched []models.AnnotationRule
	var skipped []Diagnostic
	for _, r := range rules {
		if r.Expired(now) {
			continue
		}
		ok, err := Matches(r.AppliesTo, fc, now)
		if err != nil {
			skipped = append(skipped, Diagnostic{RuleID: r.ID, Err: err})
			continue
		}
		if ok {
			matched = append(matched, r)
		}
	}
	return matched, skipped
}

func hasExt(name, ext string) bool {
	return len(name) > len(ext) && strings.HasSuffix(name, ext)
}
