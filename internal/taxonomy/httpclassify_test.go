package taxonomy

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/enviroquery/aqroute/internal/model"
)

func goodRequest() model.ReportRequest {
	return model.ReportRequest{
		AreaType:    2,
		TimeType:    model.TimeTypeAny,
		TimePoint:   []string{"2025-08-15 00:00:00", "2025-08-15 23:59:59"},
		StationCode: []string{"440100"},
		DataSource:  1,
	}
}

func TestClassifyHTTP_500EmptyTimePointIsRecoverable(t *testing.T) {
	req := goodRequest()
	req.TimePoint = nil

	got := ClassifyHTTP(500, `{"success":false}`, req)

	assert.True(t, got.Recoverable)
	assert.Equal(t, "parameter_error_500", got.Category)
	assert.Equal(t, ActionAdjustParameters, got.Action)
	assert.Contains(t, got.Issues, "TimePoint为空")
}

func TestClassifyHTTP_500LegacyTimeTypeFlagged(t *testing.T) {
	req := goodRequest()
	req.TimeType = model.TimeTypeQuarter

	got := ClassifyHTTP(500, "", req)

	assert.True(t, got.Recoverable)
	assert.NotEmpty(t, got.Issues)
}

func TestClassifyHTTP_500MessageKeywords(t *testing.T) {
	got := ClassifyHTTP(500, `{"msg":"TimePoint validation failed"}`, goodRequest())

	assert.True(t, got.Recoverable)
	assert.Equal(t, "parameter_validation_error", got.Category)
	assert.Equal(t, 0.7, got.Confidence)
}

func TestClassifyHTTP_500ServerInternalNotRecoverable(t *testing.T) {
	got := ClassifyHTTP(500, `{"msg":"unexpected null reference"}`, goodRequest())

	assert.False(t, got.Recoverable)
	assert.Equal(t, "server_internal_error", got.Category)
	assert.Equal(t, ActionRouteSQL, got.Action)
}

func TestClassifyHTTP_StatusTable(t *testing.T) {
	tests := []struct {
		status      int
		recoverable bool
		confidence  float64
	}{
		{400, true, 0.9},
		{401, false, 1.0},
		{403, false, 1.0},
		{404, true, 0.6},
		{502, false, 0.9},
		{503, false, 0.9},
		{504, false, 0.9},
		{418, false, 0.7},
	}
	for _, tt := range tests {
		got := ClassifyHTTP(tt.status, "", goodRequest())
		assert.Equal(t, tt.recoverable, got.Recoverable, "status %d", tt.status)
		assert.Equal(t, tt.confidence, got.Confidence, "status %d", tt.status)
	}
}

func TestAnalyzeRequestIssues_CleanRequest(t *testing.T) {
	assert.Empty(t, AnalyzeRequestIssues(goodRequest()))
}

func TestAnalyzeRequestIssues_EmptyContrastArray(t *testing.T) {
	req := goodRequest()
	req.ContrastTime = []string{}

	assert.Contains(t, AnalyzeRequestIssues(req), "ContrastTime为空数组")
}

func TestAnalyzeRequestIssues_OutOfRangeTimeType(t *testing.T) {
	req := goodRequest()
	req.TimeType = 99

	issues := AnalyzeRequestIssues(req)

	assert.Contains(t, issues, "TimeType值超出范围: 99")
}

func TestRecoveryPriority_Ordering(t *testing.T) {
	paramErr := HTTPClassification{Category: "parameter_error_500", Confidence: 0.8}
	notFound := HTTPClassification{Category: "resource_not_found", Confidence: 0.6}
	unknown := HTTPClassification{Category: "unknown_error", Confidence: 0.3}

	assert.Less(t, RecoveryPriority(paramErr), RecoveryPriority(notFound))
	assert.Less(t, RecoveryPriority(notFound), RecoveryPriority(unknown))
}
