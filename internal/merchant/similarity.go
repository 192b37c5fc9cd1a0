package merchant

import "strings"

// Similarity scores two merchant strings in [0,1] by the Jaccard overlap of their
// trigram sets, computed over the normalized forms. Either side normalizing to
// the empty string scores 0.
func Similarity(a, b string) float64 {
	ta := Trigrams(a)
	tb := Trigrams(b)
	if len(ta) == 0 || len(tb) == 0 {
		return 0
	}

	shared := 0
	for g := range ta {
		if _, ok := tb[g]; ok {
			shared++
		}
	}

	union := len(ta) + len(tb) - shared
	return float64(shared) / float64(union)
}

// Trigrams returns the set of three-rune substrings of the normalized input.
// Each word is padded with two leading spaces and one trailing space, the same
// convention pg_trgm uses, so short words still yield trigrams.
func Trigrams(s string) map[string]struct{} {
	normalized := Normalize(s)
	if normalized == "" {
		return nil
	}

	set := make(map[string]struct{})
	for _, word := range strings.Fields(normalized) {
		padded := []rune("  " + word + " ")
		for i := 0; i+3 <= len(padded); i++ {
			set[string(padded[i:i+3])] = struct{}{}
		}
	}
	return set
}
