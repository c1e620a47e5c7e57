package quality

import (
	"strings"
	"unicode"
)

// Similarity returns 1 - levenshtein(a,b)/max(len(a),len(b)) over word
// tokens, a normalized similarity in [0,1]. Tokens are lowercased and
// stripped of surrounding punctuation, so trailing question marks and
// casing do not mask a repeated question. Two empty strings are identical.
func Similarity(a, b string) float64 {
	ta, tb := tokenize(a), tokenize(b)
	longest := len(ta)
	if len(tb) > longest {
		longest = len(tb)
	}
	if longest == 0 {
		return 1.0
	}
	return 1.0 - float64(levenshtein(ta, tb))/float64(longest)
}

func tokenize(s string) []string {
	fields := strings.Fields(strings.ToLower(s))
	out := fields[:0]
	for _, f := range fields {
		f = strings.TrimFunc(f, unicode.IsPunct)
		if f != "" {
			out = append(out, f)
		}
	}
	return out
}

// levenshtein computes edit distance over tokens with a two-row table.
func levenshtein(a, b []string) int {
	if len(a) == 0 {
		return len(b)
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
			curr[j] = min3(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
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
