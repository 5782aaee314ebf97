// Package catalog holds the declarative validation rules, one RuleSet per
// entity type. A Catalog is immutable once built and safe to share.
package catalog

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

type FieldType string

const (
	FieldEmail  FieldType = "email"
	FieldRUT    FieldType = "rut"
	FieldPhone  FieldType = "phone"
	FieldMaxLen FieldType = "maxlen"
)

type BusinessKind string

const (
	// KindUnique rejects a value already present in the record store.
	KindUnique BusinessKind = "unique"
	// KindEnum restricts a field to Values.
	KindEnum BusinessKind = "enum"
	// KindRequires demands Other whenever Field is set.
	KindRequires BusinessKind = "requires"
	// KindOrder demands Field <= Other when both are set.
	KindOrder BusinessKind = "order"
)

type FieldRule struct {
	Type FieldType `json:"type" yaml:"type"`
	Max  int       `json:"max,omitempty" yaml:"max,omitempty"`
}

// Blocking reports whether a violation of this rule is an error rather than a warning.
func (f FieldRule) Blocking() bool {
	return f.Type == FieldEmail || f.Type == FieldRUT
}

type Reference struct {
	TargetType  string `json:"target_type" yaml:"target_type"`
	TargetField string `json:"target_field" yaml:"target_field"`
	Nullable    bool   `json:"nullable,omitempty" yaml:"nullable,omitempty"`
}

type BusinessRule struct {
	ID       string       `json:"id" yaml:"id"`
	Critical bool         `json:"critical,omitempty" yaml:"critical,omitempty"`
	Kind     BusinessKind `json:"kind" yaml:"kind"`
	Field    string       `json:"field" yaml:"field"`
	Other    string       `json:"other,omitempty" yaml:"other,omitempty"`
	Values   []string     `json:"values,omitempty" yaml:"values,omitempty"`
	Message  string       `json:"message,omitempty" yaml:"message,omitempty"`
}

type RuleSet struct {
	EntityType  string               `json:"entity_type" yaml:"entity_type"`
	Required    []string             `json:"required" yaml:"required"`
	Identifying []string             `json:"identifying,omitempty" yaml:"identifying,omitempty"`
	IDField     string               `json:"id_field,omitempty" yaml:"id_field,omitempty"`
	TenantField string               `json:"tenant_field,omitempty" yaml:"tenant_field,omitempty"`
	Fields      map[string]FieldRule `json:"fields,omitempty" yaml:"fields,omitempty"`
	References  map[string]Reference `json:"references,omitempty" yaml:"references,omitempty"`
	Business    []BusinessRule       `json:"business,omitempty" yaml:"business,omitempty"`
}

// ID returns the single-entity id field, "id" unless overridden.
func (r RuleSet) ID() string {
	if strings.TrimSpace(r.IDField) == "" {
		return "id"
	}
	return r.IDField
}

// IdentifyingFields returns the allow-list of fields that pin down one record.
// The id field is always part of it.
func (r RuleSet) IdentifyingFields() []string {
	out := []string{r.ID()}
	for _, f := range r.Identifying {
		if f != r.ID() {
			out = append(out, f)
		}
	}
	return out
}

func (r RuleSet) IsIdentifying(field string) bool {
	for _, f := range r.IdentifyingFields() {
		if f == field {
			return true
		}
	}
	return false
}

func (r RuleSet) IsRequired(field string) bool {
	for _, f := range r.Required {
		if f == field {
			return true
		}
	}
	return false
}

// MultiTenant reports whether records of this type are scoped by a tenant field.
func (r RuleSet) MultiTenant() bool {
	return strings.TrimSpace(r.TenantField) != ""
}

func (r RuleSet) Validate() error {
	name := strings.TrimSpace(r.EntityType)
	if name == "" {
		return errors.New("entity_type is required")
	}
	prefix := "rule_set[" + name + "]"
	for i, f := range r.Required {
		if strings.TrimSpace(f) == "" {
			return fmt.Errorf("%s.required[%d] is empty", prefix, i)
		}
	}
	for field, rule := range r.Fields {
		switch rule.Type {
		case FieldEmail, FieldRUT, FieldPhone:
		case FieldMaxLen:
			if rule.Max <= 0 {
				return fmt.Errorf("%s.fields[%s].max must be positive", prefix, field)
			}
		default:
			return fmt.Errorf("%s.fields[%s].type unsupported: %q", prefix, field, rule.Type)
		}
	}
	for field, ref := range r.References {
		if strings.TrimSpace(ref.TargetType) == "" || strings.TrimSpace(ref.TargetField) == "" {
			return fmt.Errorf("%s.references[%s] needs target_type and target_field", prefix, field)
		}
	}
	seen := make(map[string]struct{}, len(r.Business))
	for i, rule := range r.Business {
		id := strings.TrimSpace(rule.ID)
		if id == "" {
			return fmt.Errorf("%s.business[%d].id is required", prefix, i)
		}
		if _, ok := seen[id]; ok {
			return fmt.Errorf("%s.business[%d].id must be unique (duplicate %q)", prefix, i, id)
		}
		seen[id] = struct{}{}
		if strings.TrimSpace(rule.Field) == "" {
			return fmt.Errorf("%s.business[%d].field is required", prefix, i)
		}
		switch rule.Kind {
		case KindUnique:
		case KindEnum:
			if len(rule.Values) == 0 {
				return fmt.Errorf("%s.business[%d].values must be non-empty for enum", prefix, i)
			}
		case KindRequires, KindOrder:
			if strings.TrimSpace(rule.Other) == "" {
				return fmt.Errorf("%s.business[%d].other is required for %s", prefix, i, rule.Kind)
			}
		default:
			return fmt.Errorf("%s.business[%d].kind unsupported: %q", prefix, i, rule.Kind)
		}
	}
	return nil
}

type Catalog struct {
	sets map[string]RuleSet
}

// New builds a catalog. Later rule sets replace earlier ones for the same entity type.
func New(sets ...RuleSet) (*Catalog, error) {
	c := &Catalog{sets: make(map[string]RuleSet, len(sets))}
	for _, rs := range sets {
		if err := rs.Validate(); err != nil {
			return nil, err
		}
		c.sets[strings.TrimSpace(rs.EntityType)] = rs
	}
	return c, nil
}

// Merge returns a new catalog with overlay rule sets replacing those of c.
func (c *Catalog) Merge(overlay ...RuleSet) (*Catalog, error) {
	base := make([]RuleSet, 0, len(c.sets)+len(overlay))
	for _, name := range c.EntityTypes() {
		base = append(base, c.sets[name])
	}
	return New(append(base, overlay...)...)
}

func (c *Catalog) Lookup(entityType string) (RuleSet, bool) {
	if c == nil {
		return RuleSet{}, false
	}
	rs, ok := c.sets[strings.TrimSpace(entityType)]
	return rs, ok
}

func (c *Catalog) EntityTypes() []string {
	if c == nil {
		return nil
	}
	out := make([]string, 0, len(c.sets))
	for name := range c.sets {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
