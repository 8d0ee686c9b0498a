// Package match reconciles source column names against the canonical
// field catalog. The scorer is a deterministic heuristic; the resolver
// applies threshold policy on top of it.
package match

import "strings"

// Normalize lowers the string and strips underscores, hyphens, and
// whitespace, so that "First Name", "first_name", and "firstName"
// compare equal up to case.
func Normalize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range strings.ToLower(s) {
		switch r {
		case '_', '-', ' ', '\t', '\n', '\r':
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Score returns a similarity value in [0,1] between a column name and
// a candidate field key. Both inputs are normalized first. Exact match
// scores 1.0; containment either way scores 0.8; otherwise the score
// is 1 minus the Levenshtein distance over the longer length.
//
// Score is symmetric and pure. Two empty strings score 1.0; an empty
// string against anything non-empty scores 0.0.
func Score(a, b string) float64 {
	an := Normalize(a)
	bn := Normalize(b)

	if an == bn {
		return 1.0
	}
	if an == "" || bn == "" {
		return 0.0
	}
	if strings.Contains(an, bn) || strings.Contains(bn, an) {
		return 0.8
	}

	ar := []rune(an)
	br := []rune(bn)
	maxLen := len(ar)
	if len(br) > maxLen {
		maxLen = len(br)
	}
	return 1.0 - float64(levenshtein(ar, br))/float64(maxLen)
}

// levenshtein computes the edit distance between two rune slices using
// unit-cost insert, delete, and substitute. Two-row DP keeps the
// allocation proportional to the shorter input.
func levenshtein(a, b []rune) int {
	if len(a) < len(b) {
		a, b = b, a
	}
	if len(b) == 0 {
		return len(a)
	}

	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)
	for j := range prev {
		prev[j] = j
	}

	for i := 1; i <= len(a); i++ {
		curr[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			curr[j] = min3(
				prev[j]+1,      // delete
				curr[j-1]+1,    // insert
				prev[j-1]+cost, // substitute
			)
		}
		prev, curr = curr, prev
	}
	return prev[len(b)]
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
