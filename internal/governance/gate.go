// Package governance evaluates phase gates: declarative checkpoints of
// required documents, role approvals, and validation rules that a workflow
// must clear before a phase transition.
package governance

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// DocumentRequirement names a document a gate needs present.
type DocumentRequirement struct {
	Type     string `yaml:"type" json:"type"`
	Name     string `yaml:"name" json:"name"`
	Required bool   `yaml:"required" json:"required"`
}

// ApprovalRequirement names a role whose approval a gate needs.
type ApprovalRequirement struct {
	Role     string `yaml:"role" json:"role"`
	Required bool   `yaml:"required" json:"required"`
}

// ValidationRule names a programmatic check, resolved through the validator
// registry at evaluation time.
type ValidationRule struct {
	ID          string   `yaml:"id" json:"id"`
	Description string   `yaml:"description" json:"description"`
	Threshold   *float64 `yaml:"threshold,omitempty" json:"threshold,omitempty"`
}

// PhaseGate is one declarative checkpoint.
type PhaseGate struct {
	Phase             string                `yaml:"phase" json:"phase"`
	DisplayName       string                `yaml:"display_name" json:"display_name"`
	RequiredDocuments []DocumentRequirement `yaml:"required_documents" json:"required_documents"`
	RequiredApprovals []ApprovalRequirement `yaml:"required_approvals" json:"required_approvals"`
	ValidationRules   []ValidationRule      `yaml:"validation_rules" json:"validation_rules"`
}

// Catalog is the full set of gates for a deployment.
type Catalog struct {
	Gates []PhaseGate `yaml:"gates"`
}

// Gate returns the gate for a phase, if declared.
func (c *Catalog) Gate(phase string) (PhaseGate, bool) {
	for _, gate := range c.Gates {
		if gate.Phase == phase {
			return gate, true
		}
	}
	return PhaseGate{}, false
}

// ParseCatalog decodes a YAML gate catalog.
func ParseCatalog(data []byte) (*Catalog, error) {
	var catalog Catalog
	if err := yaml.Unmarshal(data, &catalog); err != nil {
		return nil, fmt.Errorf("parse gate catalog: %w", err)
	}
	seen := make(map[string]bool, len(catalog.Gates))
	for _, gate := range catalog.Gates {
		if gate.Phase == "" {
			return nil, fmt.Errorf("parse gate catalog: gate without phase")
		}
		if seen[gate.Phase] {
			return nil, fmt.Errorf("parse gate catalog: duplicate phase %q", gate.Phase)
		}
		seen[gate.Phase] = true
	}
	return &catalog, nil
}

// LoadCatalog reads and parses a YAML gate catalog file.
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read gate catalog: %w", err)
	}
	return ParseCatalog(data)
}
