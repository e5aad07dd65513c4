package correlate

import "sort"

// FindIdentifier searches a decoded JSON value depth-first for a post
// identifier: any field literally named "rest_id" or "id" with a string
// value, at any nesting depth. "rest_id" is preferred at each level
// because the platform uses it for the canonical numeric id. Keys are
// visited in sorted order so the search is deterministic.
func FindIdentifier(v interface{}) (string, bool) {
	switch node := v.(type) {
	case map[string]interface{}:
		if id, ok := stringField(node, "rest_id"); ok {
			return id, true
		}
		if id, ok := stringField(node, "id"); ok {
			return id, true
		}

		keys := make([]string, 0, len(node))
		for k := range node {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		for _, k := range keys {
			if id, ok := FindIdentifier(node[k]); ok {
				return id, true
			}
		}
	case []interface{}:
		for _, item := range node {
			if id, ok := FindIdentifier(item); ok {
				return id, true
			}
		}
	}
	return "", false
}

func stringField(m map[string]interface{}, key string) (string, bool) {
	raw, ok := m[key]
	if !ok {
		return "", false
	}
	s, ok := raw.(string)
	if !ok || s == "" {
		return "", false
	}
	return s, true
}
