package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/enviroquery/aqroute/internal/config"
	"github.com/enviroquery/aqroute/internal/model"
	"github.com/enviroquery/aqroute/internal/monitoring"
	"github.com/enviroquery/aqroute/internal/routing"
	"github.com/enviroquery/aqroute/internal/store"
)

type stubRunner struct {
	outcome model.Outcome
	asked   []string
}

func (s *stubRunner) Handle(_ context.Context, question string) model.Outcome {
	s.asked = append(s.asked, question)
	return s.outcome
}

func testDeps(t *testing.T, runner *stubRunner) serverDeps {
	t.Helper()
	ledger, err := store.NewSQLite(t.TempDir() + "/ledger.db")
	require.NoError(t, err)
	require.NoError(t, ledger.Migrate(context.Background()))
	t.Cleanup(func() { ledger.Close() })

	return serverDeps{
		runner:  runner,
		monitor: monitoring.NewMonitor(100, nil),
		alerter: monitoring.NewAlerter(config.MonitoringConfig{
			ErrorRate:   0.3,
			SQLRate:     0.5,
			LatencySecs: 20,
		}),
		ledger: ledger,
	}
}

func TestServe_Health(t *testing.T) {
	srv := httptest.NewServer(newRouter(testDeps(t, &stubRunner{})))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestServe_QueryAnswered(t *testing.T) {
	runner := &stubRunner{outcome: model.Answered("req-1", model.Answer{
		Tool:       model.ToolSummary,
		TotalCount: 1,
	})}
	srv := httptest.NewServer(newRouter(testDeps(t, runner)))
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/v1/query", "application/json",
		strings.NewReader(`{"question":"广州市今天空气质量"}`))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, runner.asked, 1)
	assert.Equal(t, "广州市今天空气质量", runner.asked[0])
}

func TestServe_QueryRejectsEmptyQuestion(t *testing.T) {
	runner := &stubRunner{}
	srv := httptest.NewServer(newRouter(testDeps(t, runner)))
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/v1/query", "application/json",
		strings.NewReader(`{}`))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Empty(t, runner.asked)
}

func TestServe_QueryRejectsBadBody(t *testing.T) {
	srv := httptest.NewServer(newRouter(testDeps(t, &stubRunner{})))
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/v1/query", "application/json",
		strings.NewReader(`not json`))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestServe_MonitorSummary(t *testing.T) {
	deps := testDeps(t, &stubRunner{})
	deps.monitor.RecordRun(routing.RouteReport, true, 0)
	deps.breakers = func() map[string]string {
		return map[string]string{"summary": "closed", "token": "open"}
	}
	srv := httptest.NewServer(newRouter(deps))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/v1/monitor/summary")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Breakers map[string]string `json:"breakers"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "open", body.Breakers["token"])
}

func TestServe_LedgerDecisions(t *testing.T) {
	deps := testDeps(t, &stubRunner{})
	require.NoError(t, deps.ledger.AppendDecision(context.Background(), "问题", routing.Decision{
		Route:      routing.RouteReport,
		Confidence: 0.9,
	}))
	srv := httptest.NewServer(newRouter(deps))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/v1/ledger/decisions?limit=10")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestQueryLimit_Bounds(t *testing.T) {
	for q, want := range map[string]int{
		"":           50,
		"limit=0":    50,
		"limit=abc":  50,
		"limit=9999": 50,
		"limit=25":   25,
	} {
		req := httptest.NewRequest(http.MethodGet, "/v1/ledger/errors?"+q, nil)
		assert.Equal(t, want, queryLimit(req), q)
	}
}
