// Package timeparse resolves ambiguous time expressions into canonical
// inclusive ranges via three tiers: deterministic pattern rules, a
// current-year completion retry, and a model-assisted recovery call.
package timeparse

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/enviroquery/aqroute/internal/model"
)

// State discriminates the resolution sum type. The orchestrator branches on
// this value; there is no control-flow escape for the "model completed the
// whole call" case.
type State int

const (
	// StateResolved means Range holds a concrete time range.
	StateResolved State = iota
	// StateCompleted means the model-assisted tier returned a full outbound
	// parameter object instead of just a range; Params holds it and the
	// caller dispatches directly, bypassing ordinary validation.
	StateCompleted
	// StateFailed is a definitive parse failure; the caller must abandon
	// the report path.
	StateFailed
)

// Resolution is the value returned by every resolution attempt.
type Resolution struct {
	State  State
	Range  *model.TimeRange
	Phrase Phrase
	Params map[string]any
	Reason string
}

// Recoverer hands an unresolvable phrase to the model-assisted repair path.
// A nil Recoverer disables tier 3.
type Recoverer interface {
	RecoverTime(ctx context.Context, question, phrase string) RecoveryOutcome
}

// RecoveryOutcome is the normalized reply from the repair path: either a
// bare two-element wire time array, a full parameter object the model built
// around the corrected time, or a failure reason.
type RecoveryOutcome struct {
	TimeRange []string
	Params    map[string]any
	OK        bool
	Reason    string
}

// Resolver implements the three-tier resolution.
type Resolver struct {
	patterns []compiledPattern
	recover  Recoverer
}

// NewResolver compiles the pattern table. defs may come from LoadPatterns.
func NewResolver(defs []PatternDef, rec Recoverer) (*Resolver, error) {
	compiled, err := compilePatterns(defs)
	if err != nil {
		return nil, err
	}
	return &Resolver{patterns: compiled, recover: rec}, nil
}

// ResolveMain resolves the main time range for a question against the
// reference clock. With no time phrase at all the question defaults to
// today's full-day range.
func (r *Resolver) ResolveMain(ctx context.Context, question string, now time.Time) Resolution {
	phrases := r.Extract(question)
	if len(phrases) == 0 {
		today := model.DayRange(now, now)
		return Resolution{
			State:  StateResolved,
			Range:  &today,
			Phrase: Phrase{Text: "今天", Kind: KindRelativeDay},
		}
	}

	phrase, _ := MostPrecise(phrases)
	return r.resolvePhrase(ctx, question, phrase, now)
}

// resolvePhrase runs the tiers for one extracted phrase.
func (r *Resolver) resolvePhrase(ctx context.Context, question string, phrase Phrase, now time.Time) Resolution {
	// Tier 1: deterministic rules.
	if rng, err := parsePhrase(phrase, now); err == nil {
		return Resolution{State: StateResolved, Range: &rng, Phrase: phrase}
	}

	// Tier 2: current-year completion for bare month / month-day.
	if phrase.Kind == KindMonthDay || phrase.Kind == KindMonthOnly {
		completed := completeYear(phrase.Text, now)
		if retried := r.Extract(completed); len(retried) > 0 {
			if rng, err := parsePhrase(retried[0], now); err == nil {
				zap.L().Debug("timeparse: year completion succeeded",
					zap.String("phrase", phrase.Text),
					zap.String("completed", completed),
				)
				return Resolution{State: StateResolved, Range: &rng, Phrase: retried[0]}
			}
		}
	}

	// Tier 3: model-assisted recovery.
	return r.recoverPhrase(ctx, question, phrase)
}

func (r *Resolver) recoverPhrase(ctx context.Context, question string, phrase Phrase) Resolution {
	if r.recover == nil {
		return Resolution{
			State:  StateFailed,
			Phrase: phrase,
			Reason: "无法解析时间表达: " + phrase.Text,
		}
	}

	out := r.recover.RecoverTime(ctx, question, phrase.Text)
	if !out.OK {
		return Resolution{
			State:  StateFailed,
			Phrase: phrase,
			Reason: "时间解析失败: " + out.Reason,
		}
	}
	if rng, ok := model.ParseWireRange(out.TimeRange); ok {
		return Resolution{State: StateResolved, Range: &rng, Phrase: phrase}
	}
	if len(out.Params) > 0 {
		// The model completed the full call parameters around the corrected
		// time; dispatch directly from them.
		if rng, ok := rangeFromParams(out.Params); ok {
			return Resolution{State: StateCompleted, Range: &rng, Phrase: phrase, Params: out.Params}
		}
		return Resolution{State: StateCompleted, Phrase: phrase, Params: out.Params}
	}
	return Resolution{
		State:  StateFailed,
		Phrase: phrase,
		Reason: "时间解析失败: 恢复结果不包含有效时间范围",
	}
}

// rangeFromParams unwraps a TimePoint array embedded in a larger parameter
// object.
func rangeFromParams(params map[string]any) (model.TimeRange, bool) {
	raw, ok := params["TimePoint"]
	if !ok {
		return model.TimeRange{}, false
	}
	return model.ParseWireRange(toStringSlice(raw))
}

func toStringSlice(v any) []string {
	switch vv := v.(type) {
	case []string:
		return vv
	case []any:
		out := make([]string, 0, len(vv))
		for _, e := range vv {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}
