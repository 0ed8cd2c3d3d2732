package dialog

import "strings"

// repeatsRecent reports whether candidate matches (case/space-insensitive)
// any of the last few assistant turns verbatim — spec.md §4.5's
// anti-repetition rule checks the last 3 assistant turns.
func repeatsRecent(candidate string, recent []string) bool {
	norm := normalize(candidate)
	if norm == "" {
		return false
	}
	for _, r := range recent {
		if normalize(r) == norm {
			return true
		}
	}
	return false
}

func normalize(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}
