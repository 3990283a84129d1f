package timeparse

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/enviroquery/aqroute/internal/model"
	"github.com/enviroquery/aqroute/internal/textnorm"
)

// ComparisonType classifies what kind of comparison a question asks for.
type ComparisonType string

const (
	// ComparisonPeriod is period-over-period: the same-length window
	// immediately preceding the main range.
	ComparisonPeriod ComparisonType = "period_over_period"
	// ComparisonYear is year-over-year: the same window one year prior.
	ComparisonYear ComparisonType = "year_over_year"
	// ComparisonGeneric is an unspecified comparison, defaulting to
	// period-over-period unless the question mentions last year.
	ComparisonGeneric ComparisonType = "generic"
)

var (
	periodKeywords  = []string{"环比", "较上期", "上期", "上月", "上周"}
	yearKeywords    = []string{"同比", "较去年", "去年同期", "上年同期"}
	genericKeywords = []string{"对比", "比较", "变化", "相比"}
	lastYearHints   = []string{"去年", "上年"}
)

// DetectComparisonType inspects the question for comparison vocabulary.
// Year-over-year keywords win over period keywords; a generic comparison
// resolves by whether last year is mentioned.
func DetectComparisonType(question string) ComparisonType {
	if len(textnorm.ContainsAny(question, yearKeywords)) > 0 {
		return ComparisonYear
	}
	if len(textnorm.ContainsAny(question, periodKeywords)) > 0 {
		return ComparisonPeriod
	}
	if len(textnorm.ContainsAny(question, genericKeywords)) > 0 {
		if len(textnorm.ContainsAny(question, lastYearHints)) > 0 {
			return ComparisonYear
		}
		return ComparisonPeriod
	}
	return ComparisonGeneric
}

// DeriveContrast computes the contrast range arithmetically from the main
// range and the comparison type.
func DeriveContrast(main model.TimeRange, ct ComparisonType) model.TimeRange {
	switch ct {
	case ComparisonYear:
		return model.TimeRange{
			Start: yearBefore(main.Start),
			End:   yearBefore(main.End),
		}
	default:
		// Same-length window ending the day before the main range starts.
		days := int(main.End.Sub(main.Start).Hours()/24) + 1
		end := main.Start.AddDate(0, 0, -1)
		start := end.AddDate(0, 0, -(days - 1))
		return model.DayRange(start, end)
	}
}

// yearBefore shifts a timestamp one year back, clamping Feb 29 to Feb 28.
func yearBefore(t time.Time) time.Time {
	year, month, day := t.Year()-1, t.Month(), t.Day()
	if month == time.February && day == 29 {
		day = 28
	}
	return time.Date(year, month, day, t.Hour(), t.Minute(), t.Second(), 0, t.Location())
}

// ResolveContrast resolves the comparison range for a question whose main
// range is already known. Arithmetic derivation from the detected comparison
// type is tried first; an explicit second time phrase falls through to the
// generic three-tier resolver; anything else goes to model-assisted recovery.
func (r *Resolver) ResolveContrast(ctx context.Context, question string, main model.TimeRange, now time.Time) Resolution {
	ct := DetectComparisonType(question)
	if ct == ComparisonPeriod || ct == ComparisonYear {
		rng := DeriveContrast(main, ct)
		zap.L().Debug("timeparse: contrast derived",
			zap.String("comparison_type", string(ct)),
			zap.Strings("range", rng.Wire()),
		)
		return Resolution{State: StateResolved, Range: &rng}
	}

	// Look for an explicit second phrase distinct from the main window.
	phrases := r.Extract(question)
	mainWire := main.Wire()
	for _, ph := range phrases {
		res := r.resolvePhrase(ctx, question, ph, now)
		if res.State != StateResolved {
			continue
		}
		w := res.Range.Wire()
		if w[0] != mainWire[0] || w[1] != mainWire[1] {
			return res
		}
	}

	if r.recover == nil {
		return Resolution{State: StateFailed, Reason: "无法确定对比时间"}
	}
	out := r.recover.RecoverTime(ctx, question, "对比时间")
	if out.OK {
		if rng, ok := model.ParseWireRange(out.TimeRange); ok {
			return Resolution{State: StateResolved, Range: &rng}
		}
	}
	return Resolution{State: StateFailed, Reason: "对比时间恢复失败: " + out.Reason}
}
