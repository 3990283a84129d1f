// Package params collapses competing extracted candidates into a single
// value per field and converts resolved parameters into per-level outbound
// requests.
package params

import (
	"github.com/enviroquery/aqroute/internal/model"
	"github.com/enviroquery/aqroute/internal/textnorm"
)

// UniqueStrings de-duplicates a string list preserving first-seen order.
// It is idempotent and mandatory on every outbound code and time array:
// duplicate station codes in a dispatched call produce server-side failures.
func UniqueStrings(in []string) []string {
	if len(in) == 0 {
		return in
	}
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

// DedupLocations removes duplicate candidates (same level and code),
// preserving order.
func DedupLocations(cands []model.LocationCandidate) []model.LocationCandidate {
	type key struct {
		level model.Level
		code  string
	}
	seen := make(map[key]bool, len(cands))
	out := make([]model.LocationCandidate, 0, len(cands))
	for _, c := range cands {
		k := key{c.Level, c.Code}
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, c)
	}
	return out
}

// dataSourceKeywords maps data-series mentions to wire codes.
var dataSourceKeywords = map[string]model.DataSource{
	"原始实况": model.SourceRawLive,
	"审核实况": model.SourceReviewedLive,
	"原始标况": model.SourceRawStandard,
	"审核标况": model.SourceReviewedStandard,
}

// sourcePreference orders competing data-source mentions: reviewed live >
// raw live > reviewed standard > raw standard.
var sourcePreference = map[model.DataSource]int{
	model.SourceReviewedLive:     4,
	model.SourceRawLive:          3,
	model.SourceReviewedStandard: 2,
	model.SourceRawStandard:      1,
}

// ExtractDataSource finds data-series mentions in the question and keeps
// the single preferred one. No mention defaults to reviewed live data.
func ExtractDataSource(question string) model.DataSource {
	best := model.SourceReviewedLive
	bestRank := 0
	for kw, src := range dataSourceKeywords {
		if len(textnorm.ContainsAny(question, []string{kw})) == 0 {
			continue
		}
		if rank := sourcePreference[src]; rank > bestRank {
			best, bestRank = src, rank
		}
	}
	return best
}
