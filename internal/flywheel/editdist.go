// Package flywheel turns approvals, edits and activity history into durable
// preference memories that feed back into future drafts.
package flywheel

// EditDistance returns the Levenshtein distance between draft and final,
// normalized by the longer length to [0, 1]. Two empty strings are identical
// (0); an edit against an empty string is a total rewrite (1).
func EditDistance(draft, final string) float64 {
	a := []rune(draft)
	b := []rune(final)
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	longer := len(a)
	if len(b) > longer {
		longer = len(b)
	}
	if len(a) == 0 || len(b) == 0 {
		return 1
	}

	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)
	for j := 0; j <= len(b); j++ {
		prev[j] = j
	}
	for i := 1; i <= len(a); i++ {
		curr[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			curr[j] = min3(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return float64(prev[len(b)]) / float64(longer)
}

func min3(a, b, c int) int {
	if b < a {
		a = b
	}
	if c < a {
		a = c
	}
	return a
}
