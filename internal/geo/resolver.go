// Package geo resolves fuzzy location mentions in free-text questions
// against static name→code catalogs at three administrative levels.
package geo

import (
	"sort"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/enviroquery/aqroute/internal/model"
	"github.com/enviroquery/aqroute/internal/textnorm"
)

// DefaultConfidenceFloor filters candidates before level grouping.
const DefaultConfidenceFloor = 70

// DefaultMaxResults caps the number of candidates returned per question.
const DefaultMaxResults = 10

// Threshold is the per-candidate acceptance threshold. Base 60; city names
// carry more ambiguity so precision matters more (+10); very short names
// match too easily (+10); long names tolerate more edit noise (-5).
func Threshold(level model.Level, nameLen int) float64 {
	t := 60.0
	if level == model.LevelCity {
		t += 10
	}
	switch {
	case nameLen <= 3:
		t += 10
	case nameLen >= 8:
		t -= 5
	}
	return t
}

// Resolver fuzzy-matches question text against a catalog. A question may
// legitimately reference many locations across levels at once, so no
// single-result assumption is made anywhere.
type Resolver struct {
	catalog    *Catalog
	maxResults int
}

// NewResolver builds a resolver over the given catalog.
func NewResolver(catalog *Catalog, maxResults int) *Resolver {
	if maxResults <= 0 {
		maxResults = DefaultMaxResults
	}
	return &Resolver{catalog: catalog, maxResults: maxResults}
}

// Resolve scores every catalog name against the whole question text and
// returns the candidates clearing their dynamic threshold, sorted by
// confidence descending and capped. An empty result is a valid outcome,
// never an error: callers treat it as a reason to abandon the report path.
func (r *Resolver) Resolve(question string) []model.LocationCandidate {
	norm := textnorm.Normalize(question)
	if norm == "" {
		return nil
	}

	var out []model.LocationCandidate
	for _, level := range model.Levels() {
		for name, code := range r.catalog.ByLevel(level) {
			nameLen := utf8.RuneCountInString(name)
			if nameLen < 2 {
				continue
			}
			normName := textnorm.Normalize(name)

			source := model.MatchFuzzy
			score := Score(normName, norm)
			if strings.Contains(norm, normName) {
				score = 100
				source = model.MatchExact
			}
			if score < Threshold(level, nameLen) {
				continue
			}
			out = append(out, model.LocationCandidate{
				Name:       name,
				Level:      level,
				Code:       code,
				Confidence: score,
				Source:     source,
			})
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Confidence > out[j].Confidence
	})
	if len(out) > r.maxResults {
		out = out[:r.maxResults]
	}

	zap.L().Debug("geo: resolved locations",
		zap.Int("candidates", len(out)),
		zap.String("question", question),
	)
	return out
}

// GroupByLevel filters candidates below the confidence floor and groups the
// survivors by administrative level. Candidates below the floor never reach
// grouping.
func GroupByLevel(cands []model.LocationCandidate, floor float64) map[model.Level][]model.LocationCandidate {
	grouped := make(map[model.Level][]model.LocationCandidate)
	for _, c := range cands {
		if c.Confidence < floor {
			continue
		}
		grouped[c.Level] = append(grouped[c.Level], c)
	}
	return grouped
}
