// Package orchestrator runs the per-question state machine: route, resolve
// locations and time, select the tool, validate, fan out one reporting call
// per resolved location, and merge. Every run ends in exactly one Outcome,
// either a structured answer or a redirect to the alternate path.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/enviroquery/aqroute/internal/fallback"
	"github.com/enviroquery/aqroute/internal/geo"
	"github.com/enviroquery/aqroute/internal/model"
	"github.com/enviroquery/aqroute/internal/monitoring"
	"github.com/enviroquery/aqroute/internal/params"
	"github.com/enviroquery/aqroute/internal/routing"
	"github.com/enviroquery/aqroute/internal/taxonomy"
	"github.com/enviroquery/aqroute/internal/timeparse"
	"github.com/enviroquery/aqroute/pkg/reportapi"
)

// Repairer is the model-assisted repair port. fallback.Manager satisfies it.
type Repairer interface {
	Handle(ctx context.Context, sit fallback.Situation, question string, in fallback.Input) fallback.Result
}

// Config bounds the pipeline.
type Config struct {
	// ComplexityThreshold is the time-phrase count at which a question goes
	// to complex-query handling. Default: 2.
	ComplexityThreshold int
	// DispatchConcurrency bounds the parallel reporting calls. Default: 4.
	DispatchConcurrency int
	// CallTimeout bounds each reporting call. Default: 30s.
	CallTimeout time.Duration
	// RecoveryRetryCap caps model-assisted retries per dispatch. Default: 1.
	RecoveryRetryCap int
	// ConfidenceFloor is the grouping floor for location candidates, 0-100.
	ConfidenceFloor float64
}

func (c Config) withDefaults() Config {
	if c.ComplexityThreshold <= 0 {
		c.ComplexityThreshold = 2
	}
	if c.DispatchConcurrency <= 0 {
		c.DispatchConcurrency = 4
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = 30 * time.Second
	}
	if c.RecoveryRetryCap < 0 {
		c.RecoveryRetryCap = 0
	}
	if c.ConfidenceFloor <= 0 {
		c.ConfidenceFloor = geo.DefaultConfidenceFloor
	}
	return c
}

// Deps are the collaborators the orchestrator composes. Repair and Monitor
// may be nil; a nil Repair degrades every repair point to a redirect.
type Deps struct {
	Geo     *geo.Resolver
	Times   *timeparse.Resolver
	Tools   *routing.ToolSelector
	Router  *routing.Engine
	Report  reportapi.Client
	Repair  Repairer
	Monitor *monitoring.Monitor
}

// Orchestrator is the per-question pipeline.
type Orchestrator struct {
	deps Deps
	cfg  Config
	now  func() time.Time
}

// New creates an Orchestrator.
func New(deps Deps, cfg Config) *Orchestrator {
	return &Orchestrator{
		deps: deps,
		cfg:  cfg.withDefaults(),
		now:  time.Now,
	}
}

// Handle answers one question. It never returns an error: failures become
// redirect outcomes with a human-readable reason.
func (o *Orchestrator) Handle(ctx context.Context, question string) model.Outcome {
	requestID := uuid.NewString()
	started := o.now()

	decision := o.deps.Router.Decide(ctx, question)
	outcome := o.run(ctx, requestID, question, decision)

	if o.deps.Monitor != nil {
		route := decision.Route
		if outcome.Redirect != nil {
			route = routing.RouteSQL
		}
		o.deps.Monitor.RecordRun(route, outcome.Answer != nil, o.now().Sub(started))
	}

	zap.L().Info("orchestrator: run finished",
		zap.String("request_id", requestID),
		zap.Bool("answered", outcome.Answer != nil),
		zap.Duration("latency", o.now().Sub(started)),
	)
	return outcome
}

func (o *Orchestrator) run(ctx context.Context, requestID, question string, decision routing.Decision) model.Outcome {
	if decision.Route == routing.RouteSQL {
		return model.RouteToSQL(requestID, decision.Reason)
	}

	// Step 1: locations.
	grouped := geo.GroupByLevel(o.deps.Geo.Resolve(question), o.cfg.ConfidenceFloor)
	if len(grouped) == 0 {
		return model.RouteToSQL(requestID, "未识别到有效的地理位置")
	}

	// Step 2: tool selection and main time.
	tool := o.deps.Tools.Select(question)
	mainRes := o.deps.Times.ResolveMain(ctx, question, o.now())
	switch mainRes.State {
	case timeparse.StateFailed:
		return model.RouteToSQL(requestID, mainRes.Reason)
	case timeparse.StateCompleted:
		// The repair path already completed the full call parameters;
		// dispatch them directly, bypassing complexity and validation.
		req, err := params.RequestFromMap(mainRes.Params)
		if err != nil {
			return model.RouteToSQL(requestID, "时间恢复返回的参数不完整")
		}
		return o.dispatchDirect(ctx, requestID, question, req)
	}

	// Step 3: complexity check.
	if phrases := o.deps.Times.Extract(question); len(phrases) >= o.cfg.ComplexityThreshold {
		return o.handleComplex(ctx, requestID, question, phrases)
	}

	// Step 4: unified validation.
	ps := &model.ExtractedParameterSet{
		Question:         question,
		LocationsByLevel: grouped,
		MainTime:         mainRes.Range,
		DataSource:       params.ExtractDataSource(question),
		Tool:             tool.Tool,
	}
	if ps.Tool == model.ToolComparison {
		contrast := o.deps.Times.ResolveContrast(ctx, question, *ps.MainTime, o.now())
		if contrast.State == timeparse.StateResolved {
			ps.ContrastTime = contrast.Range
		}
	}
	if missing := params.Validate(ps); len(missing) > 0 {
		return o.supplementAndDispatch(ctx, requestID, question, ps, missing)
	}

	// Steps 5-6: fan out and merge.
	dispatches, err := params.BuildDispatches(ps)
	if err != nil {
		return model.RouteToSQL(requestID, "参数转换失败: "+err.Error())
	}
	return o.dispatchAll(ctx, requestID, question, ps.Tool, dispatches)
}

// handleComplex hands a multi-window question to the complex-query repair
// path. Success is either a direct answer or a corrected parameter set.
func (o *Orchestrator) handleComplex(ctx context.Context, requestID, question string, phrases []timeparse.Phrase) model.Outcome {
	if o.deps.Repair == nil {
		return model.RouteToSQL(requestID, "问题包含多个时间范围，超出报表路径能力")
	}

	texts := make([]string, len(phrases))
	for i, p := range phrases {
		texts[i] = p.Text
	}
	res := o.deps.Repair.Handle(ctx, fallback.SituationComplexQuery, question, fallback.Input{
		Partial: map[string]any{"time_phrases": texts},
	})

	switch {
	case res.Status == fallback.StatusSuccess && res.Action == fallback.ActionDirectAnswer:
		return model.Answered(requestID, model.Answer{DirectText: res.Answer})
	case res.Status == fallback.StatusSuccess && res.Action == fallback.ActionContinue:
		req, err := params.RequestFromMap(res.Data)
		if err != nil {
			return model.RouteToSQL(requestID, "复杂查询简化结果不完整")
		}
		return o.dispatchDirect(ctx, requestID, question, req)
	default:
		reason := res.Reason
		if reason == "" {
			reason = "复杂查询无法简化为单一时间范围"
		}
		return model.RouteToSQL(requestID, reason)
	}
}

// supplementAndDispatch asks the repair path to fill validation gaps. When
// the only gap is the contrast range the dedicated contrast-recovery
// situation runs instead of the generic supplement. The repair reply is
// overlaid on the extracted parameters and dispatched directly rather than
// re-entering validation.
func (o *Orchestrator) supplementAndDispatch(ctx context.Context, requestID, question string, ps *model.ExtractedParameterSet, missing []string) model.Outcome {
	if o.deps.Repair == nil {
		return model.RouteToSQL(requestID, fmt.Sprintf("参数不完整: %v", missing))
	}

	sit := fallback.SituationParamSupplement
	if len(missing) == 1 && missing[0] == "contrast_time" {
		sit = fallback.SituationContrastRecovery
	}

	partial := partialParams(ps, missing)
	res := o.deps.Repair.Handle(ctx, sit, question, fallback.Input{Partial: partial})
	if res.Status != fallback.StatusSuccess || res.Action != fallback.ActionContinue {
		reason := res.Reason
		if reason == "" {
			reason = fmt.Sprintf("参数补全失败: %v", missing)
		}
		return model.RouteToSQL(requestID, reason)
	}

	merged := make(map[string]any, len(partial)+len(res.Data))
	for k, v := range partial {
		merged[k] = v
	}
	for k, v := range res.Data {
		merged[k] = v
	}
	req, err := params.RequestFromMap(merged)
	if err != nil {
		return model.RouteToSQL(requestID, "补全后的参数仍不完整")
	}
	return o.dispatchDirect(ctx, requestID, question, req)
}

// dispatchDirect issues a single repair-completed request.
func (o *Orchestrator) dispatchDirect(ctx context.Context, requestID, question string, req model.ReportRequest) model.Outcome {
	tool := model.ToolSummary
	if len(req.ContrastTime) == 2 {
		tool = model.ToolComparison
	}
	level := model.Level(req.AreaType)
	dispatch := params.Dispatch{
		Level: level,
		Location: model.LocationCandidate{
			Name:  firstOrEmpty(req.StationCode),
			Level: level,
			Code:  firstOrEmpty(req.StationCode),
		},
		Request: req,
	}
	return o.dispatchAll(ctx, requestID, question, tool, []params.Dispatch{dispatch})
}

// callFailure carries what the recovery phase needs about one failed
// dispatch.
type callFailure struct {
	idx     int
	cls     taxonomy.HTTPClassification
	body    string
	errorID string
}

// dispatchAll fans out one call per dispatch with bounded concurrency,
// recovers what it can, then merges. Partial success is preserved per
// location.
func (o *Orchestrator) dispatchAll(ctx context.Context, requestID, question string, tool model.Tool, dispatches []params.Dispatch) model.Outcome {
	results := make([]model.CallResult, len(dispatches))
	failures := make([]*callFailure, len(dispatches))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.cfg.DispatchConcurrency)
	for i, d := range dispatches {
		g.Go(func() error {
			results[i], failures[i] = o.executeCall(gctx, question, d)
			if failures[i] != nil {
				failures[i].idx = i
			}
			return nil
		})
	}
	_ = g.Wait()

	o.recoverFailures(ctx, question, dispatches, results, failures)

	answer := model.Answer{Tool: tool, Calls: results}
	var succeeded int
	for _, call := range results {
		if !call.Success {
			continue
		}
		succeeded++
		answer.TotalCount += call.TotalCount
		for _, rec := range call.Records {
			tagged := make(model.Record, len(rec)+3)
			for k, v := range rec {
				tagged[k] = v
			}
			tagged[model.TagLevel] = call.Level.String()
			tagged[model.TagAreaType] = int(call.Level)
			tagged[model.TagLocation] = call.LocationName
			answer.Records = append(answer.Records, tagged)
		}
	}

	if succeeded == 0 {
		return model.RouteToSQL(requestID, zeroSuccessReason(results))
	}
	return model.Answered(requestID, answer)
}

// executeCall runs one reporting call with its own timeout. Failures are
// classified and recorded; the recovery phase runs later, over all failed
// dispatches at once.
func (o *Orchestrator) executeCall(ctx context.Context, question string, d params.Dispatch) (model.CallResult, *callFailure) {
	result := model.CallResult{
		Level:        d.Level,
		LocationName: d.Location.Name,
		Code:         d.Location.Code,
		Request:      d.Request,
	}

	payload, err := o.callReport(ctx, d.Request)
	if err == nil {
		result.Success = true
		result.Records = payload.Records
		result.TotalCount = payload.TotalCount
		return result, nil
	}

	status, body := statusAndBody(err)
	result.Error = err.Error()
	result.HTTPStatus = status

	cls, errorID := o.classifyFailure(ctx, question, d, status, body, err)
	return result, &callFailure{cls: cls, body: body, errorID: errorID}
}

// recoverFailures runs capped model-assisted recovery over the recoverable
// failures of one fan-out, strongest classification first, and writes
// recovered results back in place.
func (o *Orchestrator) recoverFailures(ctx context.Context, question string, dispatches []params.Dispatch, results []model.CallResult, failures []*callFailure) {
	if o.deps.Repair == nil || o.cfg.RecoveryRetryCap == 0 {
		return
	}

	var candidates []*callFailure
	for _, f := range failures {
		if f != nil && f.cls.Recoverable {
			candidates = append(candidates, f)
		}
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return taxonomy.RecoveryPriority(candidates[i].cls) < taxonomy.RecoveryPriority(candidates[j].cls)
	})

	for _, f := range candidates {
		d := dispatches[f.idx]
		for attempt := 0; attempt < o.cfg.RecoveryRetryCap; attempt++ {
			recovered, ok := o.recoverCall(ctx, question, d, f.cls, f.body, f.errorID)
			if !ok {
				break
			}
			recovered.Level = d.Level
			recovered.LocationName = d.Location.Name
			recovered.Code = d.Location.Code
			// Success or not, one model-assisted retry settles this location.
			results[f.idx] = recovered
			break
		}
	}
}

// classifyFailure records the failure and returns its HTTP classification
// plus the recorded error ID. Non-HTTP failures go through the message
// taxonomy and are not recoverable at the per-call level.
func (o *Orchestrator) classifyFailure(ctx context.Context, question string, d params.Dispatch, status int, body string, err error) (taxonomy.HTTPClassification, string) {
	cls := taxonomy.Classify(err.Error(), taxonomy.StageDispatch)
	httpCls := taxonomy.HTTPClassification{Recoverable: false, Action: taxonomy.ActionRouteSQL}
	if status > 0 {
		httpCls = taxonomy.ClassifyHTTP(status, body, d.Request)
	}

	var errorID string
	if o.deps.Monitor != nil {
		rec := o.deps.Monitor.RecordError(ctx, question, cls, err.Error(), map[string]any{
			"status":   status,
			"location": d.Location.Name,
			"level":    d.Level.String(),
			"category": httpCls.Category,
		})
		errorID = rec.ID
	}
	return httpCls, errorID
}

// recoverCall makes one api-error-recovery attempt. ok is false when the
// repair path produced nothing dispatchable.
func (o *Orchestrator) recoverCall(ctx context.Context, question string, d params.Dispatch, cls taxonomy.HTTPClassification, body, errorID string) (model.CallResult, bool) {
	res := o.deps.Repair.Handle(ctx, fallback.SituationAPIError, question, fallback.Input{
		Request:   requestAsMap(d.Request),
		Issues:    cls.Issues,
		ErrorInfo: body,
	})

	usable := res.Status == fallback.StatusSuccess && res.Action == fallback.ActionRetry && len(res.Data) > 0
	if o.deps.Monitor != nil && errorID != "" {
		o.deps.Monitor.RecordRecovery(ctx, errorID, taxonomy.StrategyParameterFix, usable)
	}
	if !usable {
		return model.CallResult{}, false
	}

	req, err := params.RequestFromMap(res.Data)
	if err != nil {
		return model.CallResult{}, false
	}
	if req.AreaType == 0 && d.Request.AreaType != 0 {
		req.AreaType = d.Request.AreaType
	}

	result := model.CallResult{Request: req, Recovered: true}
	payload, err := o.callReport(ctx, req)
	if err != nil {
		status, _ := statusAndBody(err)
		result.Error = err.Error()
		result.HTTPStatus = status
		return result, true
	}
	result.Success = true
	result.Records = payload.Records
	result.TotalCount = payload.TotalCount
	return result, true
}

func (o *Orchestrator) callReport(ctx context.Context, req model.ReportRequest) (*reportapi.Payload, error) {
	callCtx, cancel := context.WithTimeout(ctx, o.cfg.CallTimeout)
	defer cancel()

	if len(req.ContrastTime) == 2 {
		return o.deps.Report.Comparison(callCtx, req)
	}
	return o.deps.Report.Summary(callCtx, req)
}

func zeroSuccessReason(results []model.CallResult) string {
	for _, call := range results {
		if call.HTTPStatus != 0 {
			return fmt.Sprintf("所有报表调用失败（HTTP %d），转入备用路径", call.HTTPStatus)
		}
	}
	return "所有报表调用失败，转入备用路径"
}

func statusAndBody(err error) (int, string) {
	if se, ok := reportapi.AsStatusError(err); ok {
		return se.Status, se.Body
	}
	return 0, err.Error()
}

func requestAsMap(req model.ReportRequest) map[string]any {
	raw, err := json.Marshal(req)
	if err != nil {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil
	}
	return m
}

func partialParams(ps *model.ExtractedParameterSet, missing []string) map[string]any {
	partial := map[string]any{"missing": missing}
	for _, level := range model.Levels() {
		if len(ps.LocationsByLevel[level]) > 0 {
			partial["AreaType"] = int(level)
			break
		}
	}
	if ps.MainTime != nil && ps.MainTime.Valid() {
		partial["TimePoint"] = ps.MainTime.Wire()
	}
	if ps.ContrastTime != nil && ps.ContrastTime.Valid() {
		partial["ContrastTime"] = ps.ContrastTime.Wire()
	}
	var codes []string
	for _, level := range model.Levels() {
		for _, loc := range ps.LocationsByLevel[level] {
			codes = append(codes, loc.Code)
		}
	}
	if len(codes) > 0 {
		partial["StationCode"] = params.UniqueStrings(codes)
	}
	partial["DataSource"] = int(ps.DataSource)
	return partial
}

func firstOrEmpty(ss []string) string {
	if len(ss) == 0 {
		return ""
	}
	return ss[0]
}
