// Package casenum turns free-text user input into case-number tokens.
package casenum

import (
	"strings"
	"unicode"
)

// Parse splits text on commas, semicolons and whitespace and returns the
// normalized, de-duplicated case numbers in first-seen order.
func Parse(text string) []string {
	fields := strings.FieldsFunc(text, func(r rune) bool {
		return r == ',' || r == ';' || unicode.IsSpace(r)
	})
	return Normalize(fields)
}

// Normalize trims and upper-cases each token, dropping empties and duplicates.
func Normalize(tokens []string) []string {
	seen := make(map[string]struct{}, len(tokens))
	out := make([]string, 0, len(tokens))
	for _, t := range tokens {
		t = strings.ToUpper(strings.TrimSpace(t))
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}
