package geo

import (
	"sort"
	"strings"

	"github.com/agext/levenshtein"
)

// The resolver scores a catalog name against the whole question text with
// four similarity measures and keeps the maximum. Substring containment is
// the common case for CJK questions, so partial ratio dominates in practice.

// ratio is the plain edit-distance similarity scaled to 0-100.
func ratio(a, b string) float64 {
	if a == "" || b == "" {
		return 0
	}
	return levenshtein.Similarity(a, b, nil) * 100
}

// partialRatio slides the shorter string across the longer one and returns
// the best window ratio. An exact substring yields 100.
func partialRatio(a, b string) float64 {
	shorter, longer := []rune(a), []rune(b)
	if len(shorter) > len(longer) {
		shorter, longer = longer, shorter
	}
	if len(shorter) == 0 {
		return 0
	}
	if strings.Contains(string(longer), string(shorter)) {
		return 100
	}
	best := 0.0
	for i := 0; i+len(shorter) <= len(longer); i++ {
		window := string(longer[i : i+len(shorter)])
		if s := ratio(string(shorter), window); s > best {
			best = s
		}
	}
	return best
}

// tokens splits on whitespace. CJK text usually yields a single token, which
// makes the token ratios degrade gracefully to the plain ratio.
func tokens(s string) []string {
	return strings.Fields(s)
}

// tokenSortRatio compares the strings with their tokens sorted, neutralizing
// word order.
func tokenSortRatio(a, b string) float64 {
	return ratio(sortedJoin(tokens(a)), sortedJoin(tokens(b)))
}

// tokenSetRatio compares intersection-anchored reconstructions of the two
// token sets, rewarding shared vocabulary regardless of extra words.
func tokenSetRatio(a, b string) float64 {
	setA := toSet(tokens(a))
	setB := toSet(tokens(b))

	var inter, diffA, diffB []string
	for tok := range setA {
		if setB[tok] {
			inter = append(inter, tok)
		} else {
			diffA = append(diffA, tok)
		}
	}
	for tok := range setB {
		if !setA[tok] {
			diffB = append(diffB, tok)
		}
	}

	base := sortedJoin(inter)
	combA := strings.TrimSpace(base + " " + sortedJoin(diffA))
	combB := strings.TrimSpace(base + " " + sortedJoin(diffB))

	best := ratio(base, combA)
	if s := ratio(base, combB); s > best {
		best = s
	}
	if s := ratio(combA, combB); s > best {
		best = s
	}
	return best
}

// Score returns the maximum of the four similarity measures, 0-100.
func Score(name, question string) float64 {
	best := ratio(name, question)
	if s := partialRatio(name, question); s > best {
		best = s
	}
	if s := tokenSortRatio(name, question); s > best {
		best = s
	}
	if s := tokenSetRatio(name, question); s > best {
		best = s
	}
	return best
}

func sortedJoin(toks []string) string {
	sorted := append([]string(nil), toks...)
	sort.Strings(sorted)
	return strings.Join(sorted, " ")
}

func toSet(toks []string) map[string]bool {
	set := make(map[string]bool, len(toks))
	for _, t := range toks {
		set[t] = true
	}
	return set
}
