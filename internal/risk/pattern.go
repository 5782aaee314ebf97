package risk

import (
	"slices"
	"sort"
	"strings"

	"github.com/animus-labs/dataguard/internal/catalog"
)

type Level string

const (
	LevelLow      Level = "LOW"
	LevelMedium   Level = "MEDIUM"
	LevelHigh     Level = "HIGH"
	LevelCritical Level = "CRITICAL"
)

type Kind string

const (
	KindInsert Kind = "INSERT"
	KindUpdate Kind = "UPDATE"
	KindDelete Kind = "DELETE"
	KindSelect Kind = "SELECT"
)

// ParseKind accepts any casing and reports whether the kind is known.
func ParseKind(s string) (Kind, bool) {
	k := Kind(strings.ToUpper(strings.TrimSpace(s)))
	switch k {
	case KindInsert, KindUpdate, KindDelete, KindSelect:
		return k, true
	}
	return k, false
}

// OperationDescriptor is the shape of a mutation or query about to be sent to
// the record store. Only field names are carried, never values.
type OperationDescriptor struct {
	Kind          Kind     `json:"kind"`
	EntityType    string   `json:"entity_type"`
	PayloadFields []string `json:"payload_fields,omitempty"`
	FilterFields  []string `json:"filter_fields,omitempty"`
}

// Describe builds a descriptor from a payload and filter, keeping the
// non-blank field names in sorted order.
func Describe(kind Kind, entityType string, payload, filter map[string]any) OperationDescriptor {
	return OperationDescriptor{
		Kind:          kind,
		EntityType:    entityType,
		PayloadFields: fieldNames(payload),
		FilterFields:  fieldNames(filter),
	}
}

func fieldNames(m map[string]any) []string {
	if len(m) == 0 {
		return nil
	}
	out := make([]string, 0, len(m))
	for k, v := range m {
		if s, ok := v.(string); (ok && strings.TrimSpace(s) == "") || v == nil {
			continue
		}
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func (d OperationDescriptor) hasPayload(field string) bool {
	return slices.Contains(d.PayloadFields, field)
}

func (d OperationDescriptor) hasFilter(field string) bool {
	return slices.Contains(d.FilterFields, field)
}

// Trigger is a pure predicate over a descriptor and the rule set of its
// entity type. The returned detail lands in the warning's technical context.
type Trigger func(d OperationDescriptor, rs catalog.RuleSet) (detail string, matched bool)

type Pattern struct {
	ID               string
	Level            Level
	PredictedFailure string
	PreventionAdvice string
	Trigger          Trigger
}

// DefaultPatterns returns the built-in pattern catalog in evaluation order.
func DefaultPatterns() []Pattern {
	return []Pattern{
		{
			ID:               "malformed_update_target",
			Level:            LevelCritical,
			PredictedFailure: "malformed update target: the filter does not pin down a single record",
			PreventionAdvice: "filter the update by one of the identifying fields",
			Trigger: func(d OperationDescriptor, rs catalog.RuleSet) (string, bool) {
				if d.Kind != KindUpdate {
					return "", false
				}
				return missingIdentifier(d, rs)
			},
		},
		{
			ID:               "insert_missing_required",
			Level:            LevelHigh,
			PredictedFailure: "insert will violate validation: required fields are missing",
			PreventionAdvice: "fill every required field before submitting",
			Trigger: func(d OperationDescriptor, rs catalog.RuleSet) (string, bool) {
				if d.Kind != KindInsert {
					return "", false
				}
				var missing []string
				for _, f := range rs.Required {
					if !d.hasPayload(f) {
						missing = append(missing, f)
					}
				}
				if len(missing) == 0 {
					return "", false
				}
				return "missing: " + strings.Join(missing, ", "), true
			},
		},
		{
			ID:               "tenant_and_id_filter",
			Level:            LevelCritical,
			PredictedFailure: "filter may be rejected by the remote authorization layer",
			PreventionAdvice: "filter by the entity id alone and let the record store enforce tenant scope",
			Trigger: func(d OperationDescriptor, rs catalog.RuleSet) (string, bool) {
				if !rs.MultiTenant() || !d.hasFilter(rs.TenantField) || !d.hasFilter(rs.ID()) {
					return "", false
				}
				return "filter combines " + rs.TenantField + " with " + rs.ID(), true
			},
		},
		{
			ID:               "cross_tenant_select",
			Level:            LevelHigh,
			PredictedFailure: "cross-tenant leak risk: query is not scoped to a tenant",
			PreventionAdvice: "add the tenant field to the query filter",
			Trigger: func(d OperationDescriptor, rs catalog.RuleSet) (string, bool) {
				if d.Kind != KindSelect || !rs.MultiTenant() || d.hasFilter(rs.TenantField) {
					return "", false
				}
				return "tenant field " + rs.TenantField + " absent from filter", true
			},
		},
		{
			ID:               "unbounded_delete",
			Level:            LevelCritical,
			PredictedFailure: "unbounded delete: the filter may match many records",
			PreventionAdvice: "delete by one of the identifying fields",
			Trigger: func(d OperationDescriptor, rs catalog.RuleSet) (string, bool) {
				if d.Kind != KindDelete {
					return "", false
				}
				return missingIdentifier(d, rs)
			},
		},
		{
			ID:               "identity_field_rewrite",
			Level:            LevelMedium,
			PredictedFailure: "identity field rewrite: references to this record may break",
			PreventionAdvice: "confirm the identifying value is meant to change",
			Trigger: func(d OperationDescriptor, rs catalog.RuleSet) (string, bool) {
				if d.Kind != KindUpdate {
					return "", false
				}
				var touched []string
				for _, f := range rs.IdentifyingFields() {
					// re-sending the value used in the filter is not a rewrite
					if d.hasPayload(f) && !d.hasFilter(f) {
						touched = append(touched, f)
					}
				}
				if len(touched) == 0 {
					return "", false
				}
				return "payload sets " + strings.Join(touched, ", "), true
			},
		},
	}
}

func missingIdentifier(d OperationDescriptor, rs catalog.RuleSet) (string, bool) {
	identifying := rs.IdentifyingFields()
	for _, f := range identifying {
		if d.hasFilter(f) {
			return "", false
		}
	}
	return "filter has none of " + strings.Join(identifying, ", "), true
}
