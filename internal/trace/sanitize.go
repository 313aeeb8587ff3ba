package trace

import "strings"

// SanitizeStepName converts a human step label into a filesystem-safe
// directory token: lowercased, with every run of non-alphanumeric characters
// collapsed to a single underscore and leading/trailing underscores trimmed.
// An empty result falls back to "step". Two steps may share a token; only the
// step index is unique.
func SanitizeStepName(name string) string {
	var b strings.Builder
	prevSep := false
	for _, ch := range strings.ToLower(strings.TrimSpace(name)) {
		if (ch >= 'a' && ch <= 'z') || (ch >= '0' && ch <= '9') {
			b.WriteRune(ch)
			prevSep = false
			continue
		}
		if !prevSep {
			b.WriteByte('_')
			prevSep = true
		}
	}
	s := strings.Trim(b.String(), "_")
	if s == "" {
		return "step"
	}
	return s
}
