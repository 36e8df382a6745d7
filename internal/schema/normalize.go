// Package schema rewrites client-supplied JSON Schemas so they satisfy the
// upstream's strict-mode constraints, mirroring the recursive map-walking
// style the teacher's providers package uses for tree transforms.
package schema

// disallowedFormats lists "format" values the upstream rejects under strict
// mode. Stripped rather than erroring: any JSON shape is tolerated.
var disallowedFormats = map[string]bool{
	"uri": true,
}

// Normalize clones and rewrites a JSON Schema object so it satisfies strict
// mode: every object node gets required=union(required,properties) and
// additionalProperties=false, and disallowed format values are stripped.
// The input is never mutated; the result is safe to call again (idempotent).
func Normalize(in any) any {
	return normalize(in)
}

func normalize(in any) any {
	switch v := in.(type) {
	case map[string]any:
		return normalizeObject(v)
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = normalize(item)
		}
		return out
	default:
		return v
	}
}

func normalizeObject(v map[string]any) map[string]any {
	out := make(map[string]any, len(v))
	for k, val := range v {
		out[k] = normalize(val)
	}

	if typ, _ := out["type"].(string); typ == "object" {
		if props, ok := out["properties"].(map[string]any); ok {
			out["required"] = unionRequired(out["required"], props)
		}
		out["additionalProperties"] = false
	}

	if f, ok := out["format"].(string); ok && disallowedFormats[f] {
		delete(out, "format")
	}

	return out
}

func unionRequired(existing any, props map[string]any) []any {
	seen := make(map[string]bool, len(props))
	var union []any

	if list, ok := existing.([]any); ok {
		for _, item := range list {
			if name, ok := item.(string); ok && !seen[name] {
				seen[name] = true
				union = append(union, name)
			}
		}
	}

	for name := range props {
		if !seen[name] {
			seen[name] = true
			union = append(union, name)
		}
	}

	return union
}
