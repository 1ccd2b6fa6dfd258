// Package attributes turns semi-structured records (decoded span or entity
// JSON) into the flat field map consumed by the rule evaluator.
package attributes

import (
	"encoding/json"
	"sort"
	"strconv"
	"strings"
)

// Resolve looks up a dotted path such as "gen_ai.usage.cost" in record.
// At every level a key that matches the remaining path verbatim wins, so
// attribute maps that already use dotted keys resolve directly. Numeric
// segments index into arrays. The second result is false when the path is
// absent or does not end at a scalar.
func Resolve(record map[string]any, path string) (any, bool) {
	if record == nil || path == "" {
		return nil, false
	}
	v, ok := resolve(record, path)
	if !ok || !IsScalar(v) {
		return nil, false
	}
	return v, true
}

func resolve(node any, path string) (any, bool) {
	switch n := node.(type) {
	case map[string]any:
		if v, ok := n[path]; ok {
			return v, true
		}
		// Try the longest key prefix first so "a.b" beats "a" for "a.b.c".
		for i := strings.LastIndex(path, "."); i > 0; i = strings.LastIndex(path[:i], ".") {
			child, ok := n[path[:i]]
			if !ok {
				continue
			}
			if v, ok := resolve(child, path[i+1:]); ok {
				return v, true
			}
		}
	case []any:
		head, rest, nested := strings.Cut(path, ".")
		idx, err := strconv.Atoi(head)
		if err != nil || idx < 0 || idx >= len(n) {
			return nil, false
		}
		if !nested {
			return n[idx], true
		}
		return resolve(n[idx], rest)
	}
	return nil, false
}

// Extract resolves only the named fields. Fields that do not resolve to a
// scalar are left out, which the evaluator treats as missing.
func Extract(record map[string]any, fields []string) map[string]any {
	out := make(map[string]any, len(fields))
	for _, f := range fields {
		if v, ok := Resolve(record, f); ok {
			out[f] = v
		}
	}
	return out
}

// Flatten returns every scalar leaf of record keyed by its dotted path.
// Array elements are keyed by index ("messages.0.role").
func Flatten(record map[string]any) map[string]any {
	out := make(map[string]any)
	flatten("", record, out)
	return out
}

func flatten(prefix string, node any, out map[string]any) {
	switch n := node.(type) {
	case map[string]any:
		keys := make([]string, 0, len(n))
		for k := range n {
			keys = append(keys, k)
		}
		// Sorted so collisions between "a.b" keys and nested a{b} resolve
		// the same way on every call.
		sort.Strings(keys)
		for _, k := range keys {
			flatten(join(prefix, k), n[k], out)
		}
	case []any:
		for i, v := range n {
			flatten(join(prefix, strconv.Itoa(i)), v, out)
		}
	default:
		if prefix != "" && IsScalar(n) {
			out[prefix] = n
		}
	}
}

func join(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return prefix + "." + key
}

// IsScalar reports whether v is a value the evaluator can compare.
func IsScalar(v any) bool {
	switch v.(type) {
	case string, bool, json.Number,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64:
		return true
	}
	return false
}
