// Package rulefile loads annotation rules from YAML documents on disk and
// keeps the rule store in step with them.
package rulefile

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/starford/ansuz/internal/apperr"
	"github.com/starford/ansuz/internal/models"
)

// Document is the on-disk shape of a rule file. A file may also hold a bare
// sequence of rules.
type Document struct {
	Rules []models.AnnotationRule `yaml:"rules"`
}

// Parse decodes and validates every rule in data. Ids are ignored: the store
// assigns them. An empty document yields no rules and no error.
func Parse(data []byte) ([]models.AnnotationRule, error) {
	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("rulefile: decode: %w: %v", apperr.ErrInvalid, err)
	}
	if len(root.Content) == 0 {
		return nil, nil
	}

	var rules []models.AnnotationRule
	node := root.Content[0]
	switch node.Kind {
	case yaml.SequenceNode:
		if err := node.Decode(&rules); err != nil {
			return nil, fmt.Errorf("rulefile: decode: %w: %v", apperr.ErrInvalid, err)
		}
	case yaml.MappingNode:
		var doc Document
		if err := node.Decode(&doc); err != nil {
			return nil, fmt.Errorf("rulefile: decode: %w: %v", apperr.ErrInvalid, err)
		}
		rules = doc.Rules
	default:
		return nil, fmt.Errorf("rulefile: decode: %w: expected a mapping or sequence", apperr.ErrInvalid)
	}

	for i := range rules {
		rules[i].ID = ""
		rules[i].MergeStrategy = rules[i].MergeStrategy.Normalize()
		if err := rules[i].Validate(); err != nil {
			return nil, fmt.Errorf("rulefile: rule %d: %w: %v", i, apperr.ErrInvalid, err)
		}
	}
	return rules, nil
}
