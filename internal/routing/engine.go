// Package routing makes the top-level per-question routing decision and the
// secondary report-operation selection, both from keyword evidence alone.
package routing

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/enviroquery/aqroute/internal/model"
	"github.com/enviroquery/aqroute/internal/textnorm"
)

// Route is the top-level destination for a question.
type Route string

const (
	// RouteReport sends the question through the report-API pipeline.
	RouteReport Route = "report_api"
	// RouteSQL sends the question to the alternate query-generation path.
	RouteSQL Route = "nl2sql"
)

// Decision explains one routing call.
type Decision struct {
	Route           Route     `json:"route"`
	Confidence      float64   `json:"confidence"`
	MatchedKeywords []string  `json:"matched_keywords,omitempty"`
	Reason          string    `json:"reason"`
	DecidedAt       time.Time `json:"decided_at"`
}

// DecisionLog persists routing decisions for offline analysis. Implemented
// by the ledger store; a nil log disables persistence.
type DecisionLog interface {
	AppendDecision(ctx context.Context, question string, d Decision) error
}

// Engine is the state-free report-first router: questions go to the report
// path unless an exclusion keyword matches.
type Engine struct {
	exclusions []string
	log        DecisionLog
}

// NewEngine builds a router over the configured exclusion keywords.
func NewEngine(cfg KeywordConfig, log DecisionLog) *Engine {
	return &Engine{exclusions: cfg.SQLExclusion, log: log}
}

// Decide classifies one question. An empty exclusion configuration routes
// everything to the report path. A routing failure, a panicking decision
// log included, degrades to FallbackDecision rather than taking the
// pipeline down.
func (e *Engine) Decide(ctx context.Context, question string) (d Decision) {
	defer func() {
		if r := recover(); r != nil {
			zap.L().Error("routing: decide failed, defaulting to report path", zap.Any("cause", r))
			d = FallbackDecision("routing internal error")
		}
	}()

	d = Decision{DecidedAt: time.Now().UTC()}

	if len(e.exclusions) == 0 {
		d.Route, d.Confidence, d.Reason = RouteReport, 0.9, "no exclusion keywords configured"
	} else if matched := textnorm.ContainsAny(question, e.exclusions); len(matched) > 0 {
		d.Route, d.Confidence, d.Reason = RouteSQL, 1.0, "sql exclusion keyword matched"
		d.MatchedKeywords = matched
	} else {
		d.Route, d.Confidence, d.Reason = RouteReport, 0.9, "report-first default"
	}

	if e.log != nil {
		if err := e.log.AppendDecision(ctx, question, d); err != nil {
			zap.L().Warn("routing: decision log append failed", zap.Error(err))
		}
	}
	zap.L().Info("routing: decision",
		zap.String("route", string(d.Route)),
		zap.Float64("confidence", d.Confidence),
	)
	return d
}

// FallbackDecision is the degraded decision used when routing itself
// errors: default to the report path at half confidence.
func FallbackDecision(reason string) Decision {
	return Decision{
		Route:      RouteReport,
		Confidence: 0.5,
		Reason:     reason,
		DecidedAt:  time.Now().UTC(),
	}
}

// ToolSelector chooses between the two report operations on keyword
// evidence. It never triggers model calls; reselection after downstream
// validation failure is the fallback manager's job.
type ToolSelector struct {
	comparison []string
}

// NewToolSelector builds a selector over the configured comparison keywords.
func NewToolSelector(cfg KeywordConfig) *ToolSelector {
	return &ToolSelector{comparison: cfg.Comparison}
}

// Select returns the comparison tool when any comparison keyword matches,
// otherwise the summary tool.
func (s *ToolSelector) Select(question string) model.ToolSelection {
	if matched := textnorm.ContainsAny(question, s.comparison); len(matched) > 0 {
		return model.ToolSelection{
			Tool:            model.ToolComparison,
			MatchedKeywords: matched,
			Confidence:      1.0,
		}
	}
	return model.ToolSelection{Tool: model.ToolSummary, Confidence: 0.9}
}
