// Package textnorm canonicalizes question text before any keyword or fuzzy
// matching. Questions arrive with mixed full-width/half-width punctuation and
// latin case; matching runs on the folded form so keyword tables stay small.
package textnorm

import (
	"strings"

	"golang.org/x/text/width"
)

// Normalize folds full-width characters to their half-width equivalents,
// lowercases latin letters, and trims surrounding whitespace.
func Normalize(s string) string {
	folded := width.Fold.String(s)
	return strings.ToLower(strings.TrimSpace(folded))
}

// ContainsAny reports whether the normalized text contains any of the given
// keywords, returning the matched ones in keyword order.
func ContainsAny(text string, keywords []string) []string {
	norm := Normalize(text)
	var matched []string
	for _, kw := range keywords {
		if kw == "" {
			continue
		}
		if strings.Contains(norm, Normalize(kw)) {
			matched = append(matched, kw)
		}
	}
	return matched
}
