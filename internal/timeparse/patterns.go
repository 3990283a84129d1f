package timeparse

import (
	"os"
	"regexp"
	"sort"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// Kind classifies an extracted time expression. It drives both the
// deterministic parse rules and the precision ladder used by deduplication.
type Kind string

const (
	KindMachineRange  Kind = "machine_range"
	KindAbsoluteDate  Kind = "absolute_date"
	KindAbsoluteMonth Kind = "absolute_month"
	KindAbsoluteYear  Kind = "absolute_year"
	KindQuarter       Kind = "quarter"
	KindMonthDay      Kind = "month_day"
	KindMonthOnly     Kind = "month_only"
	KindRecentN       Kind = "recent_n"
	KindRelativeDay   Kind = "relative_day"
	KindRelativeWeek  Kind = "relative_week"
	KindRelativeMonth Kind = "relative_month"
	KindRelativeYear  Kind = "relative_year"
)

// Precision ranks expression kinds for the deduplication ladder: absolute
// date > absolute month > named relative specific > named relative vague >
// current period.
func Precision(k Kind) int {
	switch k {
	case KindMachineRange, KindAbsoluteDate:
		return 100
	case KindAbsoluteMonth, KindAbsoluteYear, KindQuarter, KindMonthDay:
		return 80
	case KindRecentN, KindRecentVagueMarker:
		return 60
	case KindMonthOnly:
		return 40
	case KindRelativeDay, KindRelativeWeek, KindRelativeMonth, KindRelativeYear:
		return 20
	default:
		return 0
	}
}

// KindRecentVagueMarker tags specific named relatives like 昨天/上周/去年 that
// reference a concrete past period rather than the current one.
const KindRecentVagueMarker Kind = "relative_specific"

// PatternDef is one configurable extraction pattern. The pattern file is
// editable without code change; compiled-in defaults cover the full set.
type PatternDef struct {
	Name     string `yaml:"name"`
	Expr     string `yaml:"expr"`
	Priority int    `yaml:"priority"`
	Enabled  *bool  `yaml:"enabled,omitempty"`
	Kind     Kind   `yaml:"kind"`
}

type compiledPattern struct {
	def PatternDef
	re  *regexp.Regexp
}

// DefaultPatterns returns the built-in extraction pattern table. Lower
// priority number wins during overlap resolution.
func DefaultPatterns() []PatternDef {
	return []PatternDef{
		{Name: "machine_range", Kind: KindMachineRange, Priority: 1,
			Expr: `\d{4}-\d{2}-\d{2} \d{2}:\d{2}:\d{2}\s*(?:[,~]|至|到)\s*\d{4}-\d{2}-\d{2} \d{2}:\d{2}:\d{2}`},
		{Name: "absolute_date_cn", Kind: KindAbsoluteDate, Priority: 2,
			Expr: `\d{4}年\d{1,2}月\d{1,2}[日号]`},
		{Name: "absolute_date", Kind: KindAbsoluteDate, Priority: 2,
			Expr: `\d{4}[-/]\d{1,2}[-/]\d{1,2}`},
		{Name: "quarter", Kind: KindQuarter, Priority: 3,
			Expr: `(?:\d{4}年)?第?[一二三四1-4]季度`},
		{Name: "absolute_month", Kind: KindAbsoluteMonth, Priority: 3,
			Expr: `\d{4}年\d{1,2}月`},
		{Name: "absolute_year", Kind: KindAbsoluteYear, Priority: 4,
			Expr: `\d{4}年`},
		{Name: "month_day", Kind: KindMonthDay, Priority: 4,
			Expr: `\d{1,2}月\d{1,2}[日号]`},
		{Name: "recent_n_days", Kind: KindRecentN, Priority: 4,
			Expr: `(?:最近|过去|近)(?:\d+|[一二三四五六七八九十]+)天`},
		{Name: "month_only", Kind: KindMonthOnly, Priority: 5,
			Expr: `\d{1,2}月`},
		{Name: "relative_day", Kind: KindRelativeDay, Priority: 5,
			Expr: `今天|今日|昨天|昨日|前天`},
		{Name: "relative_week", Kind: KindRelativeWeek, Priority: 5,
			Expr: `本周|这周|上周`},
		{Name: "relative_month", Kind: KindRelativeMonth, Priority: 5,
			Expr: `本月|这个月|上个月|上月`},
		{Name: "relative_year", Kind: KindRelativeYear, Priority: 5,
			Expr: `今年|去年|前年`},
	}
}

// LoadPatterns reads pattern definitions from a YAML file, falling back to
// the defaults when path is empty. Disabled patterns are dropped.
func LoadPatterns(path string) ([]PatternDef, error) {
	if path == "" {
		return DefaultPatterns(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "timeparse: read patterns %s", path)
	}
	var file struct {
		Patterns []PatternDef `yaml:"time_patterns"`
	}
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, eris.Wrapf(err, "timeparse: parse patterns %s", path)
	}
	if len(file.Patterns) == 0 {
		return DefaultPatterns(), nil
	}
	return file.Patterns, nil
}

func compilePatterns(defs []PatternDef) ([]compiledPattern, error) {
	out := make([]compiledPattern, 0, len(defs))
	for _, def := range defs {
		if def.Enabled != nil && !*def.Enabled {
			continue
		}
		re, err := regexp.Compile(def.Expr)
		if err != nil {
			return nil, eris.Wrapf(err, "timeparse: compile pattern %q", def.Name)
		}
		out = append(out, compiledPattern{def: def, re: re})
	}
	return out, nil
}

// Phrase is one extracted time expression with its position in the question.
type Phrase struct {
	Text     string
	Kind     Kind
	Priority int
	Start    int // byte offset
	End      int
}

// Extract finds the longest, highest-priority, non-overlapping time
// expressions in the question. Matches are sorted by (priority ascending,
// length descending) and accepted greedily; the survivors are returned in
// question order.
func (r *Resolver) Extract(question string) []Phrase {
	var all []Phrase
	for _, p := range r.patterns {
		for _, loc := range p.re.FindAllStringIndex(question, -1) {
			all = append(all, Phrase{
				Text:     question[loc[0]:loc[1]],
				Kind:     specialize(p.def.Kind, question[loc[0]:loc[1]]),
				Priority: p.def.Priority,
				Start:    loc[0],
				End:      loc[1],
			})
		}
	}
	sort.SliceStable(all, func(i, j int) bool {
		if all[i].Priority != all[j].Priority {
			return all[i].Priority < all[j].Priority
		}
		return (all[i].End - all[i].Start) > (all[j].End - all[j].Start)
	})

	var accepted []Phrase
	for _, ph := range all {
		if overlapsAny(ph, accepted) {
			continue
		}
		accepted = append(accepted, ph)
	}
	sort.SliceStable(accepted, func(i, j int) bool {
		return accepted[i].Start < accepted[j].Start
	})
	if len(accepted) > 0 {
		zap.L().Debug("timeparse: extracted phrases", zap.Int("count", len(accepted)))
	}
	return accepted
}

// specialize distinguishes current-period relatives (今天/本周/本月/今年) from
// concrete past relatives (昨天/上周/上月/去年), which sit higher on the
// precision ladder.
func specialize(k Kind, text string) Kind {
	switch k {
	case KindRelativeDay:
		if text == "今天" || text == "今日" {
			return KindRelativeDay
		}
		return KindRecentVagueMarker
	case KindRelativeWeek:
		if text == "上周" {
			return KindRecentVagueMarker
		}
	case KindRelativeMonth:
		if text == "上月" || text == "上个月" {
			return KindRecentVagueMarker
		}
	case KindRelativeYear:
		if text == "去年" || text == "前年" {
			return KindRecentVagueMarker
		}
	}
	return k
}

func overlapsAny(p Phrase, accepted []Phrase) bool {
	for _, a := range accepted {
		if p.Start < a.End && a.Start < p.End {
			return true
		}
	}
	return false
}

// MostPrecise picks the single most precise phrase from a set of competing
// candidates using the precision ladder, preferring earlier position on ties.
func MostPrecise(phrases []Phrase) (Phrase, bool) {
	if len(phrases) == 0 {
		return Phrase{}, false
	}
	best := phrases[0]
	for _, p := range phrases[1:] {
		if Precision(p.Kind) > Precision(best.Kind) {
			best = p
		}
	}
	return best, true
}
