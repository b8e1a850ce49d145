// Package similarity scores how close two strings are.
package similarity

import "strings"

// Levenshtein returns the edit distance between two strings (rune-aware).
// Uses a space-optimized two-row DP implementation.
func Levenshtein(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	la, lb := len(ra), len(rb)
	if la == 0 {
		return lb
	}
	if lb == 0 {
		return la
	}

	prev := make([]int, lb+1)
	curr := make([]int, lb+1)
	for j := range prev {
		prev[j] = j
	}

	for i := 1; i <= la; i++ {
		curr[0] = i
		for j := 1; j <= lb; j++ {
			if ra[i-1] == rb[j-1] {
				curr[j] = prev[j-1]
				continue
			}
			curr[j] = min(prev[j], prev[j-1], curr[j-1]) + 1
		}
		prev, curr = curr, prev
	}

	return prev[lb]
}

// Ratio returns a similarity score in [0, 1] (1 = identical).
func Ratio(a, b string) float64 {
	if a == b {
		return 1.0
	}
	maxLen := max(len([]rune(a)), len([]rune(b)))
	if maxLen == 0 {
		return 1.0
	}
	return 1.0 - float64(Levenshtein(a, b))/float64(maxLen)
}

// LengthBound is an upper bound on Ratio computed from lengths alone. Callers
// use it to skip the edit distance when the threshold is out of reach.
func LengthBound(a, b string) float64 {
	la, lb := len([]rune(a)), len([]rune(b))
	maxLen := max(la, lb)
	if maxLen == 0 {
		return 1.0
	}
	diff := la - lb
	if diff < 0 {
		diff = -diff
	}
	return 1.0 - float64(diff)/float64(maxLen)
}

// NormalizeSpace collapses every whitespace run to a single space.
func NormalizeSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
