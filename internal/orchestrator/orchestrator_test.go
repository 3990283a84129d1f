package orchestrator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/enviroquery/aqroute/internal/fallback"
	"github.com/enviroquery/aqroute/internal/geo"
	"github.com/enviroquery/aqroute/internal/model"
	"github.com/enviroquery/aqroute/internal/monitoring"
	"github.com/enviroquery/aqroute/internal/routing"
	"github.com/enviroquery/aqroute/internal/timeparse"
	"github.com/enviroquery/aqroute/pkg/reportapi"
)

// fakeReport scripts the reporting backend per request.
type fakeReport struct {
	mu          sync.Mutex
	summaries   []model.ReportRequest
	comparisons []model.ReportRequest
	reply       func(req model.ReportRequest) (*reportapi.Payload, error)
}

func okPayload(req model.ReportRequest) (*reportapi.Payload, error) {
	return &reportapi.Payload{
		Records:    []model.Record{{"AQI": 58, "Code": firstOrEmpty(req.StationCode)}},
		TotalCount: 1,
	}, nil
}

func (f *fakeReport) Summary(_ context.Context, req model.ReportRequest) (*reportapi.Payload, error) {
	f.mu.Lock()
	f.summaries = append(f.summaries, req)
	f.mu.Unlock()
	if f.reply != nil {
		return f.reply(req)
	}
	return okPayload(req)
}

func (f *fakeReport) Comparison(_ context.Context, req model.ReportRequest) (*reportapi.Payload, error) {
	f.mu.Lock()
	f.comparisons = append(f.comparisons, req)
	f.mu.Unlock()
	if f.reply != nil {
		return f.reply(req)
	}
	return okPayload(req)
}

func (f *fakeReport) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.summaries) + len(f.comparisons)
}

// fakeRepair records the situations it was asked about and replies from a
// fixed script.
type fakeRepair struct {
	mu         sync.Mutex
	situations []fallback.Situation
	inputs     []fallback.Input
	result     fallback.Result
}

func (f *fakeRepair) Handle(_ context.Context, sit fallback.Situation, _ string, in fallback.Input) fallback.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.situations = append(f.situations, sit)
	f.inputs = append(f.inputs, in)
	return f.result
}

func testCatalog() *geo.Catalog {
	return &geo.Catalog{
		Cities:    map[string]string{"广州市": "440100", "深圳市": "440300"},
		Districts: map[string]string{"天河区": "440106"},
		Stations:  map[string]string{"体育西路站": "1001A"},
	}
}

type fixture struct {
	report  *fakeReport
	repair  *fakeRepair
	monitor *monitoring.Monitor
	orch    *Orchestrator
}

type fixtureOpt func(*Deps, *routing.KeywordConfig)

func withRecoverer(rec timeparse.Recoverer) fixtureOpt {
	return func(d *Deps, _ *routing.KeywordConfig) {
		times, _ := timeparse.NewResolver(timeparse.DefaultPatterns(), rec)
		d.Times = times
	}
}

func withExclusions(words ...string) fixtureOpt {
	return func(_ *Deps, kw *routing.KeywordConfig) {
		kw.SQLExclusion = words
	}
}

func withoutRepair() fixtureOpt {
	return func(d *Deps, _ *routing.KeywordConfig) { d.Repair = nil }
}

func newFixture(t *testing.T, cfg Config, opts ...fixtureOpt) *fixture {
	t.Helper()

	times, err := timeparse.NewResolver(timeparse.DefaultPatterns(), nil)
	require.NoError(t, err)

	f := &fixture{
		report:  &fakeReport{},
		repair:  &fakeRepair{},
		monitor: monitoring.NewMonitor(100, nil),
	}
	kw := routing.DefaultKeywords()
	deps := Deps{
		Geo:     geo.NewResolver(testCatalog(), 10),
		Times:   times,
		Report:  f.report,
		Repair:  f.repair,
		Monitor: f.monitor,
	}
	for _, opt := range opts {
		opt(&deps, &kw)
	}
	deps.Tools = routing.NewToolSelector(kw)
	deps.Router = routing.NewEngine(kw, nil)

	f.orch = New(deps, cfg)
	return f
}

func TestHandle_SummarySuccess(t *testing.T) {
	f := newFixture(t, Config{})

	out := f.orch.Handle(context.Background(), "广州市今天空气质量")

	require.NotNil(t, out.Answer)
	assert.NotEmpty(t, out.RequestID)
	assert.Equal(t, model.ToolSummary, out.Answer.Tool)

	require.Len(t, f.report.summaries, 1)
	req := f.report.summaries[0]
	assert.Equal(t, model.TimeTypeAny, req.TimeType)
	assert.Equal(t, []string{"440100"}, req.StationCode)
	assert.Equal(t, int(model.LevelCity), req.AreaType)

	require.Len(t, out.Answer.Records, 1)
	rec := out.Answer.Records[0]
	assert.Equal(t, "广州市", rec[model.TagLocation])
	assert.Equal(t, "city", rec[model.TagLevel])
	assert.Equal(t, int(model.LevelCity), rec[model.TagAreaType])
}

func TestHandle_ExclusionKeywordRedirects(t *testing.T) {
	f := newFixture(t, Config{}, withExclusions("排名"))

	out := f.orch.Handle(context.Background(), "广州市空气质量排名")

	require.NotNil(t, out.Redirect)
	assert.Zero(t, f.report.callCount())
}

func TestHandle_NoLocationRedirects(t *testing.T) {
	f := newFixture(t, Config{})

	out := f.orch.Handle(context.Background(), "空气质量如何")

	require.NotNil(t, out.Redirect)
	assert.Contains(t, out.Redirect.Reason, "地理位置")
	assert.Zero(t, f.report.callCount())
}

func TestHandle_MultiLocationFanOut(t *testing.T) {
	f := newFixture(t, Config{})

	out := f.orch.Handle(context.Background(), "广州市深圳市今天空气质量")

	require.NotNil(t, out.Answer)
	require.Len(t, out.Answer.Calls, 2)
	assert.Equal(t, 2, out.Answer.TotalCount)

	locations := map[any]bool{}
	for _, rec := range out.Answer.Records {
		locations[rec[model.TagLocation]] = true
	}
	assert.True(t, locations["广州市"])
	assert.True(t, locations["深圳市"])
}

func TestHandle_PartialSuccessPreserved(t *testing.T) {
	f := newFixture(t, Config{}, withoutRepair())
	f.report.reply = func(req model.ReportRequest) (*reportapi.Payload, error) {
		if firstOrEmpty(req.StationCode) == "440300" {
			return nil, &reportapi.StatusError{Status: 503, Body: "upstream down"}
		}
		return okPayload(req)
	}

	out := f.orch.Handle(context.Background(), "广州市深圳市今天空气质量")

	require.NotNil(t, out.Answer, "one failed location must not discard the other")
	require.Len(t, out.Answer.Calls, 2)

	var failed *model.CallResult
	for i := range out.Answer.Calls {
		if !out.Answer.Calls[i].Success {
			failed = &out.Answer.Calls[i]
		}
	}
	require.NotNil(t, failed)
	assert.Equal(t, 503, failed.HTTPStatus)
	assert.Equal(t, "深圳市", failed.LocationName)
	require.Len(t, out.Answer.Records, 1)
	assert.Equal(t, "广州市", out.Answer.Records[0][model.TagLocation])
}

func TestHandle_ZeroSuccessRedirects(t *testing.T) {
	f := newFixture(t, Config{}, withoutRepair())
	f.report.reply = func(model.ReportRequest) (*reportapi.Payload, error) {
		return nil, &reportapi.StatusError{Status: 503, Body: "upstream down"}
	}

	out := f.orch.Handle(context.Background(), "广州市今天空气质量")

	require.NotNil(t, out.Redirect)
	assert.Contains(t, out.Redirect.Reason, "503")
}

func TestHandle_RecoverableErrorRepairedAndRetried(t *testing.T) {
	f := newFixture(t, Config{RecoveryRetryCap: 1})
	f.repair.result = fallback.Result{
		Status: fallback.StatusSuccess,
		Action: fallback.ActionRetry,
		Data: map[string]any{
			"TimePoint":   []any{"2025-08-15 00:00:00", "2025-08-15 23:59:59"},
			"StationCode": []any{"440100"},
			"AreaType":    2,
		},
	}
	var calls int
	var mu sync.Mutex
	f.report.reply = func(req model.ReportRequest) (*reportapi.Payload, error) {
		mu.Lock()
		calls++
		first := calls == 1
		mu.Unlock()
		if first {
			return nil, &reportapi.StatusError{Status: 400, Body: "bad request"}
		}
		return okPayload(req)
	}

	out := f.orch.Handle(context.Background(), "广州市今天空气质量")

	require.NotNil(t, out.Answer)
	require.Len(t, out.Answer.Calls, 1)
	assert.True(t, out.Answer.Calls[0].Success)
	assert.True(t, out.Answer.Calls[0].Recovered)

	require.Len(t, f.repair.situations, 1)
	assert.Equal(t, fallback.SituationAPIError, f.repair.situations[0])

	snap := f.monitor.Snapshot()
	assert.Equal(t, 1, snap.ErrorTotal)
	assert.Equal(t, 1, snap.RecoveryAttempts)
}

func TestHandle_FailedRecoveryRetryIsTerminal(t *testing.T) {
	f := newFixture(t, Config{RecoveryRetryCap: 2})
	f.repair.result = fallback.Result{
		Status: fallback.StatusSuccess,
		Action: fallback.ActionRetry,
		Data: map[string]any{
			"TimePoint":   []any{"2025-08-15 00:00:00", "2025-08-15 23:59:59"},
			"StationCode": []any{"440100"},
			"AreaType":    2,
		},
	}
	f.report.reply = func(model.ReportRequest) (*reportapi.Payload, error) {
		return nil, &reportapi.StatusError{Status: 500, Body: `{"msg":"invalid TimePoint format"}`}
	}

	out := f.orch.Handle(context.Background(), "广州市今天空气质量")

	require.NotNil(t, out.Redirect)
	assert.Contains(t, out.Redirect.Reason, "500")

	// One original call plus one retried call, then the location is settled:
	// the cap does not buy a second repair round after a failed retry.
	assert.Equal(t, 2, f.report.callCount())
	require.Len(t, f.repair.situations, 1)
	assert.Equal(t, fallback.SituationAPIError, f.repair.situations[0])

	snap := f.monitor.Snapshot()
	assert.Equal(t, 1, snap.ErrorTotal)
	assert.Equal(t, 1, snap.RecoveryAttempts)
}

func TestHandle_RecoveryOrderedByClassificationPriority(t *testing.T) {
	f := newFixture(t, Config{RecoveryRetryCap: 1})
	f.report.reply = func(req model.ReportRequest) (*reportapi.Payload, error) {
		if firstOrEmpty(req.StationCode) == "440300" {
			return nil, &reportapi.StatusError{Status: 400, Body: "bad request"}
		}
		return nil, &reportapi.StatusError{Status: 404, Body: "not found"}
	}

	f.orch.Handle(context.Background(), "广州市深圳市今天空气质量")

	// Both failures are recoverable; the 400 classifies stronger than the
	// weakly recoverable 404, so its repair attempt runs first whatever
	// order the dispatches finished in.
	require.Len(t, f.repair.situations, 2)
	first, ok := f.repair.inputs[0].Request["StationCode"].([]any)
	require.True(t, ok)
	assert.Equal(t, "440300", first[0])
	second, ok := f.repair.inputs[1].Request["StationCode"].([]any)
	require.True(t, ok)
	assert.Equal(t, "440100", second[0])
}

func TestHandle_RecoveryCapZeroSkipsRepair(t *testing.T) {
	f := newFixture(t, Config{RecoveryRetryCap: 0})
	f.report.reply = func(model.ReportRequest) (*reportapi.Payload, error) {
		return nil, &reportapi.StatusError{Status: 400, Body: "bad request"}
	}

	out := f.orch.Handle(context.Background(), "广州市今天空气质量")

	require.NotNil(t, out.Redirect)
	assert.Empty(t, f.repair.situations)
}

func TestHandle_ComplexQueryDirectAnswer(t *testing.T) {
	f := newFixture(t, Config{ComplexityThreshold: 2})
	f.repair.result = fallback.Result{
		Status: fallback.StatusSuccess,
		Action: fallback.ActionDirectAnswer,
		Answer: "今天与昨天广州市空气质量均为优",
	}

	out := f.orch.Handle(context.Background(), "广州市今天和昨天的空气质量")

	require.NotNil(t, out.Answer)
	assert.Equal(t, "今天与昨天广州市空气质量均为优", out.Answer.DirectText)
	assert.Zero(t, f.report.callCount())

	require.Len(t, f.repair.situations, 1)
	assert.Equal(t, fallback.SituationComplexQuery, f.repair.situations[0])
	assert.Len(t, f.repair.inputs[0].Partial["time_phrases"], 2)
}

func TestHandle_ComplexQueryContinueDispatches(t *testing.T) {
	f := newFixture(t, Config{ComplexityThreshold: 2})
	f.repair.result = fallback.Result{
		Status: fallback.StatusSuccess,
		Action: fallback.ActionContinue,
		Data: map[string]any{
			"TimePoint":   []any{"2025-08-14 00:00:00", "2025-08-15 23:59:59"},
			"StationCode": []any{"440100"},
			"AreaType":    2,
		},
	}

	out := f.orch.Handle(context.Background(), "广州市今天和昨天的空气质量")

	require.NotNil(t, out.Answer)
	require.Len(t, f.report.summaries, 1)
	assert.Equal(t, []string{"2025-08-14 00:00:00", "2025-08-15 23:59:59"},
		f.report.summaries[0].TimePoint)
}

func TestHandle_ComplexQueryWithoutRepairRedirects(t *testing.T) {
	f := newFixture(t, Config{ComplexityThreshold: 2}, withoutRepair())

	out := f.orch.Handle(context.Background(), "广州市今天和昨天的空气质量")

	require.NotNil(t, out.Redirect)
	assert.Zero(t, f.report.callCount())
}

func TestHandle_ComparisonDerivesContrast(t *testing.T) {
	f := newFixture(t, Config{})

	out := f.orch.Handle(context.Background(), "广州市今天空气质量同比情况")

	require.NotNil(t, out.Answer)
	assert.Equal(t, model.ToolComparison, out.Answer.Tool)
	require.Len(t, f.report.comparisons, 1)
	assert.Len(t, f.report.comparisons[0].ContrastTime, 2)
	assert.Empty(t, f.report.summaries)
}

func TestHandle_ComparisonMissingContrastRecovered(t *testing.T) {
	// "差异" selects the comparison tool but is not comparison vocabulary the
	// arithmetic derivation understands, and the question names no explicit
	// second period, so validation comes up short with exactly the contrast
	// range missing.
	f := newFixture(t, Config{})
	f.repair.result = fallback.Result{
		Status: fallback.StatusSuccess,
		Action: fallback.ActionContinue,
		Data: map[string]any{
			"ContrastTime": []any{"2024-08-15 00:00:00", "2024-08-15 23:59:59"},
		},
	}

	out := f.orch.Handle(context.Background(), "广州市今天空气质量差异")

	require.NotNil(t, out.Answer)
	require.Len(t, f.repair.situations, 1)
	assert.Equal(t, fallback.SituationContrastRecovery, f.repair.situations[0])

	// The recovered contrast range is overlaid on the extracted parameters.
	require.Len(t, f.report.comparisons, 1)
	req := f.report.comparisons[0]
	assert.Equal(t, []string{"2024-08-15 00:00:00", "2024-08-15 23:59:59"}, req.ContrastTime)
	assert.Len(t, req.TimePoint, 2)
	assert.Equal(t, []string{"440100"}, req.StationCode)
	assert.Equal(t, int(model.LevelCity), req.AreaType)
}

func TestHandle_TimeParseFailureRedirects(t *testing.T) {
	f := newFixture(t, Config{}, withoutRepair())

	// Impossible date, and no recoverer wired into the resolver.
	out := f.orch.Handle(context.Background(), "广州市2月30日空气质量")

	require.NotNil(t, out.Redirect)
	assert.Zero(t, f.report.callCount())
}

func TestHandle_CompletedParamsShortCircuit(t *testing.T) {
	rec := recovererFunc(func(context.Context, string, string) timeparse.RecoveryOutcome {
		return timeparse.RecoveryOutcome{
			OK: true,
			Params: map[string]any{
				"TimePoint":   []any{"2025-02-01 00:00:00", "2025-02-28 23:59:59"},
				"StationCode": []any{"440100"},
				"AreaType":    2,
			},
		}
	})
	f := newFixture(t, Config{}, withRecoverer(rec))

	out := f.orch.Handle(context.Background(), "广州市2月30日空气质量")

	require.NotNil(t, out.Answer)
	require.Len(t, f.report.summaries, 1)
	assert.Equal(t, "2025-02-01 00:00:00", f.report.summaries[0].TimePoint[0])
	// The completed parameter object bypasses the repair manager entirely.
	assert.Empty(t, f.repair.situations)
}

func TestHandle_RecordsRunMetrics(t *testing.T) {
	f := newFixture(t, Config{})

	f.orch.Handle(context.Background(), "广州市今天空气质量")
	f.orch.Handle(context.Background(), "空气质量如何")

	snap := f.monitor.Snapshot()
	assert.Equal(t, 2, snap.RunTotal)
	assert.Equal(t, 1, snap.RunSuccess)
	assert.InDelta(t, 0.5, snap.SQLRouteRate, 1e-9)
}

func TestHandle_CallTimeoutBounds(t *testing.T) {
	f := newFixture(t, Config{CallTimeout: 20 * time.Millisecond}, withoutRepair())
	f.report.reply = func(model.ReportRequest) (*reportapi.Payload, error) {
		time.Sleep(100 * time.Millisecond)
		return nil, context.DeadlineExceeded
	}

	start := time.Now()
	out := f.orch.Handle(context.Background(), "广州市今天空气质量")

	require.NotNil(t, out.Redirect)
	assert.Less(t, time.Since(start), time.Second)
}

type recovererFunc func(ctx context.Context, question, phrase string) timeparse.RecoveryOutcome

func (f recovererFunc) RecoverTime(ctx context.Context, question, phrase string) timeparse.RecoveryOutcome {
	return f(ctx, question, phrase)
}
