package filter

import "github.com/agnivade/levenshtein"

// containsNearMatch reports whether any substring of haystack sits at
// edit distance one or less from needle. Normalized content has no
// spaces, so matching slides rune windows sized within one of the
// needle instead of splitting on word boundaries.
func containsNearMatch(haystack, needle string) bool {
	n := []rune(needle)
	h := []rune(haystack)
	if len(n) == 0 || len(h) == 0 {
		return false
	}

	for width := len(n) - 1; width <= len(n)+1; width++ {
		if width <= 0 || width > len(h) {
			continue
		}
		for i := 0; i+width <= len(h); i++ {
			if levenshtein.ComputeDistance(string(h[i:i+width]), needle) <= 1 {
				return true
			}
		}
	}
	return false
}
