package registry

import (
	"regexp"
	"strings"
)

var whitespaceRE = regexp.MustCompile(`\s+`)

// NormalizeName canonicalizes a human reference for lookup: trim, lowercase,
// collapse internal whitespace.
func NormalizeName(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	name = whitespaceRE.ReplaceAllString(name, " ")
	return name
}

// plausibleMatch reports whether a normalized query name plausibly refers to
// a normalized stored reference. Every query token must match some reference
// token, either as a prefix or within a bounded edit distance.
func plausibleMatch(query, ref string) bool {
	queryTokens := strings.Fields(query)
	refTokens := strings.Fields(ref)
	if len(queryTokens) == 0 || len(refTokens) == 0 {
		return false
	}

	for _, qt := range queryTokens {
		if !tokenMatches(qt, refTokens) {
			return false
		}
	}
	return true
}

func tokenMatches(qt string, refTokens []string) bool {
	for _, rt := range refTokens {
		if len(qt) >= 2 && strings.HasPrefix(rt, qt) {
			return true
		}
		if len(qt) >= 4 && editDistance(qt, rt) <= editBound(qt) {
			return true
		}
	}
	return false
}

// editBound allows more typo slack for longer tokens. Two edits from length
// five up covers the common transposed-letter typo ("sarha" for "sarah").
func editBound(token string) int {
	if len(token) >= 5 {
		return 2
	}
	return 1
}

// editDistance is the Levenshtein distance between two short tokens.
func editDistance(a, b string) int {
	if a == b {
		return 0
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
			curr[j] = minInt(prev[j]+1, minInt(curr[j-1]+1, prev[j-1]+cost))
		}
		prev, curr = curr, prev
	}
	return prev[len(b)]
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
