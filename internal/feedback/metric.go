package feedback

import "strings"

// TokenOverlap scores a predicted answer against ground truth as the
// fraction of distinct ground-truth tokens present in the prediction.
// Returns a value in [0, 1]; 0 when the ground truth has no tokens.
func TokenOverlap(prediction, truth string) float64 {
	truthTokens := tokenSet(truth)
	if len(truthTokens) == 0 {
		return 0
	}
	predTokens := tokenSet(prediction)

	matched := 0
	for tok := range truthTokens {
		if predTokens[tok] {
			matched++
		}
	}
	return float64(matched) / float64(len(truthTokens))
}

// tokenSet lowercases and splits on non-alphanumeric runes, so "4."
// and "4" compare equal.
func tokenSet(s string) map[string]bool {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !isAlphanumeric(r)
	})
	set := make(map[string]bool, len(fields))
	for _, f := range fields {
		set[f] = true
	}
	return set
}

func isAlphanumeric(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9')
}
