package agent

import "strings"

// ExtractJSONObject cuts the outermost JSON object out of a model reply that
// may wrap it in prose or a markdown fence. Input without an object is
// returned trimmed so the decoder reports the real problem.
func ExtractJSONObject(s string) string {
	raw := strings.TrimSpace(s)
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start >= 0 && end > start {
		return raw[start : end+1]
	}
	return raw
}
