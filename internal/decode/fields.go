package decode

import (
	"encoding/json"
	"strconv"
	"strings"
)

// stringifyJSONValue renders a decoded JSON scalar as text.
func stringifyJSONValue(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	default:
		if b, err := json.Marshal(v); err == nil {
			return string(b)
		}
	}
	return ""
}

// stringField returns the first non-empty string value among keys.
// Only JSON strings qualify.
func stringField(raw map[string]any, keys ...string) string {
	for _, k := range keys {
		if s, ok := raw[k].(string); ok && strings.TrimSpace(s) != "" {
			return s
		}
	}
	return ""
}

// lookupPath resolves a dotted path through nested objects.
func lookupPath(raw map[string]any, path string) (any, bool) {
	cur := any(raw)
	for _, part := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		if cur, ok = m[part]; !ok {
			return nil, false
		}
	}
	return cur, true
}

// stringPath returns the first non-empty string among dotted paths.
func stringPath(raw map[string]any, paths ...string) string {
	for _, p := range paths {
		if v, ok := lookupPath(raw, p); ok {
			if s, ok := v.(string); ok && strings.TrimSpace(s) != "" {
				return s
			}
		}
	}
	return ""
}

// flattenInto copies raw into dst, joining nested object keys with dots.
// Top-level keys listed in skip are left out.
func flattenInto(dst map[string]any, prefix string, raw map[string]any, skip map[string]struct{}) {
	for k, v := range raw {
		if prefix == "" {
			if _, ok := skip[k]; ok {
				continue
			}
		}
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if nested, ok := v.(map[string]any); ok && len(nested) > 0 {
			flattenInto(dst, key, nested, nil)
			continue
		}
		dst[key] = v
	}
}

func keySet(keys ...string) map[string]struct{} {
	out := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		out[k] = struct{}{}
	}
	return out
}

// sanitizeMessage collapses control whitespace so one event stays one line.
func sanitizeMessage(message string) string {
	clean := strings.TrimRight(message, "\r\n")
	clean = strings.ReplaceAll(clean, "\t", " ")
	clean = strings.ReplaceAll(clean, "\r", " ")
	return clean
}
