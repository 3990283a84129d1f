// Package fallback runs the model-assisted repair path. Every stalled
// pipeline stage funnels into one Manager.Handle call that renders a
// situation-specific prompt, makes a bounded model call, and normalizes the
// reply into a closed action set the orchestrator can branch on.
package fallback

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/enviroquery/aqroute/internal/resilience"
	"github.com/enviroquery/aqroute/internal/timeparse"
	"github.com/enviroquery/aqroute/pkg/llm"
)

// Situation names one of the stall points the pipeline can hand to the model.
type Situation string

const (
	SituationTimeParsing      Situation = "time_parsing"
	SituationParamSupplement  Situation = "parameter_supplement"
	SituationContrastRecovery Situation = "contrast_recovery"
	SituationAPIError         Situation = "api_error_recovery"
	SituationComplexQuery     Situation = "complex_query"
)

// Status reports how the repair attempt itself went.
type Status string

const (
	StatusSuccess  Status = "success"
	StatusFailed   Status = "failed"
	StatusDisabled Status = "disabled"
	StatusError    Status = "error"
)

// Action is what the orchestrator should do next. The set is closed; every
// model reply is normalized into exactly one of these.
type Action string

const (
	ActionContinue     Action = "continue"
	ActionRetry        Action = "retry"
	ActionRouteSQL     Action = "route_to_sql"
	ActionDirectAnswer Action = "direct_answer"
)

// Input carries the situation-specific evidence for one repair attempt.
type Input struct {
	// Phrase is the unparseable time expression (time parsing, contrast).
	Phrase string
	// Partial holds the parameters extracted so far (supplement, contrast).
	Partial map[string]any
	// Request is the outbound request that failed (API error recovery).
	Request map[string]any
	// Issues is the classifier's parameter evidence (API error recovery).
	Issues []string
	// ErrorInfo is the raw upstream error text, if any.
	ErrorInfo string
}

// Result is the normalized outcome of one repair attempt.
type Result struct {
	Status     Status
	Action     Action
	Data       map[string]any
	Answer     string
	Reason     string
	Confidence float64
}

// Config bounds the repair path.
type Config struct {
	// Timeout bounds each model call. Default: 10s.
	Timeout time.Duration
	// MaxAttempts is the total model-call attempts per Handle. Default: 2.
	MaxAttempts int
	// Disabled situations short-circuit to route_to_sql without a model call.
	Disabled map[Situation]bool
}

// Manager is the single entry point for model-assisted repair.
type Manager struct {
	client      llm.Client
	timeout     time.Duration
	maxAttempts int
	disabled    map[Situation]bool
}

// NewManager builds a Manager around a model client.
func NewManager(client llm.Client, cfg Config) *Manager {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 2
	}
	return &Manager{
		client:      client,
		timeout:     cfg.Timeout,
		maxAttempts: cfg.MaxAttempts,
		disabled:    cfg.Disabled,
	}
}

// Handle runs one repair attempt for the given situation.
func (m *Manager) Handle(ctx context.Context, sit Situation, question string, in Input) Result {
	if m.disabled[sit] {
		return Result{
			Status: StatusDisabled,
			Action: ActionRouteSQL,
			Reason: "该场景的模型兜底已禁用",
		}
	}
	if m.client == nil {
		return Result{
			Status: StatusDisabled,
			Action: ActionRouteSQL,
			Reason: "未配置模型客户端",
		}
	}

	prompt := renderPrompt(sit, question, in)

	reply, err := resilience.DoVal(ctx, resilience.RetryConfig{
		MaxAttempts:    m.maxAttempts,
		InitialBackoff: 200 * time.Millisecond,
		ShouldRetry:    func(error) bool { return true },
		OnRetry:        resilience.RetryLogger("fallback", string(sit)),
	}, func(ctx context.Context) (string, error) {
		callCtx, cancel := context.WithTimeout(ctx, m.timeout)
		defer cancel()
		return m.client.Complete(callCtx, prompt)
	})
	if err != nil {
		zap.L().Warn("fallback: model call failed",
			zap.String("situation", string(sit)),
			zap.Error(err),
		)
		return Result{
			Status: StatusError,
			Action: ActionRouteSQL,
			Reason: eris.ToString(err, false),
		}
	}

	obj, err := ExtractJSON(reply)
	if err != nil {
		zap.L().Warn("fallback: unparseable model reply",
			zap.String("situation", string(sit)),
			zap.Error(err),
		)
		return Result{
			Status: StatusError,
			Action: ActionRouteSQL,
			Reason: "模型回复无法解析为JSON",
		}
	}

	res := normalize(sit, obj)
	zap.L().Info("fallback: repair attempt",
		zap.String("situation", string(sit)),
		zap.String("status", string(res.Status)),
		zap.String("action", string(res.Action)),
		zap.Float64("confidence", res.Confidence),
	)
	return res
}

// normalize is the one place a raw model reply becomes a Result. The action
// switch is exhaustive over the closed set; anything else fails the attempt.
func normalize(sit Situation, obj map[string]any) Result {
	res := Result{
		Data:       asMap(obj["parameters"]),
		Answer:     asString(obj["answer"]),
		Reason:     asString(obj["reason"]),
		Confidence: asFloat(obj["confidence"], 0.8),
	}

	// Bare time_range replies are folded into the parameter shape so every
	// caller reads one field.
	if tr, ok := obj["time_range"]; ok && res.Data == nil {
		res.Data = map[string]any{"TimePoint": tr}
	}

	switch Action(asString(obj["action"])) {
	case ActionContinue:
		res.Action = ActionContinue
		if len(res.Data) == 0 {
			res.Status = StatusFailed
			res.Reason = "continue动作缺少parameters"
			res.Action = ActionRouteSQL
			return res
		}
		res.Status = StatusSuccess
	case ActionRetry:
		res.Action = ActionRetry
		if sit == SituationAPIError && len(res.Data) == 0 {
			res.Status = StatusFailed
			res.Reason = "retry动作缺少修正后的parameters"
			res.Action = ActionRouteSQL
			return res
		}
		res.Status = StatusSuccess
	case ActionRouteSQL:
		res.Action = ActionRouteSQL
		res.Status = StatusSuccess
	case ActionDirectAnswer:
		res.Action = ActionDirectAnswer
		if res.Answer == "" {
			res.Status = StatusFailed
			res.Reason = "direct_answer动作缺少answer"
			res.Action = ActionRouteSQL
			return res
		}
		res.Status = StatusSuccess
	default:
		res.Status = StatusFailed
		res.Action = ActionRouteSQL
		res.Reason = "模型返回未知动作: " + asString(obj["action"])
	}
	return res
}

// RecoverTime adapts the manager to the time resolver's recovery port.
func (m *Manager) RecoverTime(ctx context.Context, question, phrase string) timeparse.RecoveryOutcome {
	res := m.Handle(ctx, SituationTimeParsing, question, Input{Phrase: phrase})
	if res.Status != StatusSuccess || res.Action == ActionRouteSQL {
		return timeparse.RecoveryOutcome{OK: false, Reason: res.Reason}
	}

	// A reply holding only TimePoint is a bare range; anything richer is a
	// full parameter object the model completed around the corrected time.
	if tp, ok := res.Data["TimePoint"]; ok && len(res.Data) == 1 {
		return timeparse.RecoveryOutcome{OK: true, TimeRange: asStringSlice(tp)}
	}
	if len(res.Data) > 0 {
		return timeparse.RecoveryOutcome{OK: true, Params: res.Data}
	}
	return timeparse.RecoveryOutcome{OK: false, Reason: "恢复结果不包含时间范围"}
}

func asMap(v any) map[string]any {
	m, _ := v.(map[string]any)
	return m
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

func asFloat(v any, def float64) float64 {
	switch vv := v.(type) {
	case float64:
		return vv
	case int:
		return float64(vv)
	default:
		return def
	}
}

func asStringSlice(v any) []string {
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
