package search

import "encoding/json"

// extractParamKeys recursively extracts dotted key paths from a task's
// decoded parameter blob, counting how often each path appears across a
// sample. Only the first element of a list-of-objects is walked, under a
// `[0]` suffix — enough to surface the shape without exploding key counts
// on long lists.
func extractParamKeys(raw []byte, prefix string, counts map[string]int, maxDepth int) {
	var data map[string]any
	if err := json.Unmarshal(raw, &data); err != nil {
		return
	}
	walkParamKeys(data, prefix, counts, maxDepth)
}

func walkParamKeys(data map[string]any, prefix string, counts map[string]int, maxDepth int) {
	if maxDepth <= 0 {
		return
	}
	for key, value := range data {
		fullKey := prefix + "." + key
		counts[fullKey]++

		switch v := value.(type) {
		case map[string]any:
			walkParamKeys(v, fullKey, counts, maxDepth-1)
		case []any:
			if len(v) > 0 {
				if obj, ok := v[0].(map[string]any); ok {
					walkParamKeys(obj, fullKey+"[0]", counts, maxDepth-1)
				}
			}
		}
	}
}
