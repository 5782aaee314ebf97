package audit

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"golang.org/x/text/unicode/norm"
)

type ChangeType string

const (
	ChangeAdded    ChangeType = "ADDED"
	ChangeRemoved  ChangeType = "REMOVED"
	ChangeModified ChangeType = "MODIFIED"
)

type Change struct {
	Field string     `json:"field"`
	Old   any        `json:"old,omitempty"`
	New   any        `json:"new,omitempty"`
	Type  ChangeType `json:"type"`
}

// Canonical renders v as JSON with sorted object keys and NFC-normalized
// strings, so values that differ only in key order or Unicode composition
// compare equal.
func Canonical(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var generic any
	if err := dec.Decode(&generic); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	out, err := json.Marshal(normalize(generic))
	if err != nil {
		return nil, fmt.Errorf("marshal canonical: %w", err)
	}
	return out, nil
}

func normalize(v any) any {
	switch val := v.(type) {
	case string:
		return norm.NFC.String(val)
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[norm.NFC.String(k)] = normalize(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = normalize(item)
		}
		return out
	default:
		return v
	}
}

func sameValue(a, b any) bool {
	ca, errA := Canonical(a)
	cb, errB := Canonical(b)
	if errA != nil || errB != nil {
		return fmt.Sprint(a) == fmt.Sprint(b)
	}
	return bytes.Equal(ca, cb)
}

// Diff compares two snapshots over the union of their keys. Unchanged keys
// are omitted and the result is sorted by field name.
func Diff(before, after map[string]any) []Change {
	fields := make(map[string]struct{}, len(before)+len(after))
	for k := range before {
		fields[k] = struct{}{}
	}
	for k := range after {
		fields[k] = struct{}{}
	}
	names := make([]string, 0, len(fields))
	for k := range fields {
		names = append(names, k)
	}
	sort.Strings(names)

	var changes []Change
	for _, f := range names {
		oldV, hadOld := before[f]
		newV, hasNew := after[f]
		switch {
		case !hadOld:
			changes = append(changes, Change{Field: f, New: newV, Type: ChangeAdded})
		case !hasNew:
			changes = append(changes, Change{Field: f, Old: oldV, Type: ChangeRemoved})
		case !sameValue(oldV, newV):
			changes = append(changes, Change{Field: f, Old: oldV, New: newV, Type: ChangeModified})
		}
	}
	return changes
}

// Summary renders a count phrase such as "2 fields modified, 1 added".
func Summary(changes []Change) string {
	counts := map[ChangeType]int{}
	for _, c := range changes {
		counts[c.Type]++
	}
	var parts []string
	for _, t := range []ChangeType{ChangeModified, ChangeAdded, ChangeRemoved} {
		n := counts[t]
		if n == 0 {
			continue
		}
		verb := strings.ToLower(string(t))
		if len(parts) == 0 {
			noun := "fields"
			if n == 1 {
				noun = "field"
			}
			parts = append(parts, fmt.Sprintf("%d %s %s", n, noun, verb))
			continue
		}
		parts = append(parts, fmt.Sprintf("%d %s", n, verb))
	}
	if len(parts) == 0 {
		return "no changes"
	}
	return strings.Join(parts, ", ")
}
