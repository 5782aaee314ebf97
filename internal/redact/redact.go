// Package redact strips secrets and bounds string sizes before any record
// copy is persisted.
package redact

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
	"time"
	"unicode/utf8"
)

const (
	Marker = "[REDACTED]"

	// AuditMaxLen bounds string fields embedded in audit snapshots.
	AuditMaxLen = 1000
	// PreviewMaxLen bounds string fields in validation previews.
	PreviewMaxLen = 100
)

var sensitiveFragments = []string{"password", "passwd", "contrasena", "contraseña", "token", "secret", "clave"}

// Sensitive reports whether a field name looks like it holds a credential.
// Matching is case-insensitive; "key" only matches as a suffix (api_key,
// privateKey) so ordinary names like "keyword" pass.
func Sensitive(field string) bool {
	name := strings.ToLower(strings.TrimSpace(field))
	if name == "" {
		return false
	}
	for _, frag := range sensitiveFragments {
		if strings.Contains(name, frag) {
			return true
		}
	}
	return strings.HasSuffix(name, "key")
}

// Truncate cuts s to max runes and appends an explicit marker.
func Truncate(s string, max int) string {
	if max <= 0 || utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	return fmt.Sprintf("%s...[truncated %d chars]", string(runes[:max]), len(runes)-max)
}

// Snapshot returns a deep copy of in with sensitive fields redacted and
// strings longer than maxLen truncated. Nested maps and slices are walked.
func Snapshot(in map[string]any, maxLen int) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		if Sensitive(k) {
			out[k] = Marker
			continue
		}
		out[k] = value(v, maxLen)
	}
	return out
}

// Field sanitizes a single value stored under name.
func Field(name string, v any, maxLen int) any {
	if Sensitive(name) {
		return Marker
	}
	return value(v, maxLen)
}

func value(v any, maxLen int) any {
	switch val := v.(type) {
	case nil:
		return nil
	case string:
		return Truncate(val, maxLen)
	case map[string]any:
		return Snapshot(val, maxLen)
	case map[string]string:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = Field(k, item, maxLen)
		}
		return out
	case []any:
		cp := make([]any, len(val))
		for i, item := range val {
			cp[i] = value(item, maxLen)
		}
		return cp
	case []map[string]any:
		cp := make([]any, len(val))
		for i, item := range val {
			cp[i] = Snapshot(item, maxLen)
		}
		return cp
	case []string:
		cp := make([]any, len(val))
		for i, item := range val {
			cp[i] = Truncate(item, maxLen)
		}
		return cp
	case bool, int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64,
		float32, float64, json.Number, time.Time:
		return v
	default:
		return reflected(reflect.ValueOf(v), maxLen)
	}
}

// reflected handles the container shapes the type switch does not name:
// maps keyed by strings, slices and arrays, pointers, and structs. Structs
// are walked through their JSON form so json tags decide the field names.
func reflected(rv reflect.Value, maxLen int) any {
	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return nil
		}
		return value(rv.Elem().Interface(), maxLen)
	case reflect.Map:
		if rv.IsNil() {
			return nil
		}
		if rv.Type().Key().Kind() != reflect.String {
			return viaJSON(rv.Interface(), maxLen)
		}
		out := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			k := iter.Key().String()
			out[k] = Field(k, iter.Value().Interface(), maxLen)
		}
		return out
	case reflect.Slice, reflect.Array:
		if rv.Kind() == reflect.Slice && rv.IsNil() {
			return nil
		}
		if rv.Type().Elem().Kind() == reflect.Uint8 {
			return rv.Interface()
		}
		cp := make([]any, rv.Len())
		for i := range cp {
			cp[i] = value(rv.Index(i).Interface(), maxLen)
		}
		return cp
	case reflect.Struct:
		return viaJSON(rv.Interface(), maxLen)
	case reflect.String:
		return Truncate(rv.String(), maxLen)
	default:
		return rv.Interface()
	}
}

// viaJSON walks v as its generic JSON decoding. Values that cannot be
// encoded are replaced by the marker rather than kept verbatim.
func viaJSON(v any, maxLen int) any {
	blob, err := json.Marshal(v)
	if err != nil {
		return Marker
	}
	dec := json.NewDecoder(bytes.NewReader(blob))
	dec.UseNumber()
	var generic any
	if err := dec.Decode(&generic); err != nil {
		return Marker
	}
	return value(generic, maxLen)
}
