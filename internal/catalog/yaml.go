package catalog

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

const SchemaV1 = "dataguard.rules.v1"

type document struct {
	Schema   string    `yaml:"schema"`
	RuleSets []RuleSet `yaml:"rule_sets"`
}

// ParseRuleSets decodes a YAML rule document.
func ParseRuleSets(input []byte) ([]RuleSet, error) {
	var doc document
	if err := yaml.Unmarshal(input, &doc); err != nil {
		return nil, fmt.Errorf("decode rules: %w", err)
	}
	if strings.TrimSpace(doc.Schema) != SchemaV1 {
		return nil, fmt.Errorf("rules.schema must be %q", SchemaV1)
	}
	if len(doc.RuleSets) == 0 {
		return nil, errors.New("rules.rule_sets must be non-empty")
	}
	for i, rs := range doc.RuleSets {
		if err := rs.Validate(); err != nil {
			return nil, fmt.Errorf("rules.rule_sets[%d]: %w", i, err)
		}
	}
	return doc.RuleSets, nil
}

// Load returns the built-in catalog, overlaid with the rule sets in path when
// path is non-empty.
func Load(path string) (*Catalog, error) {
	base := Default()
	if strings.TrimSpace(path) == "" {
		return base, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rules: %w", err)
	}
	sets, err := ParseRuleSets(raw)
	if err != nil {
		return nil, err
	}
	return base.Merge(sets...)
}

// Export renders every rule set of c as a rule document that
// ParseRuleSets accepts.
func (c *Catalog) Export() ([]byte, error) {
	doc := document{Schema: SchemaV1}
	for _, name := range c.EntityTypes() {
		doc.RuleSets = append(doc.RuleSets, c.sets[name])
	}
	out, err := yaml.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encode rules: %w", err)
	}
	return out, nil
}
