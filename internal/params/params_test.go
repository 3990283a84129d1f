package params

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/enviroquery/aqroute/internal/model"
)

func TestUniqueStrings_Idempotent(t *testing.T) {
	in := []string{"1001A", "1002A", "1001A", "", "1003A", "1002A"}

	once := UniqueStrings(in)
	twice := UniqueStrings(once)

	assert.Equal(t, []string{"1001A", "1002A", "1003A"}, once)
	assert.Equal(t, once, twice)
}

func TestUniqueStrings_Empty(t *testing.T) {
	assert.Empty(t, UniqueStrings(nil))
}

func TestDedupLocations_PreservesOrder(t *testing.T) {
	cands := []model.LocationCandidate{
		{Name: "广州市", Level: model.LevelCity, Code: "440100"},
		{Name: "深圳市", Level: model.LevelCity, Code: "440300"},
		{Name: "广州市", Level: model.LevelCity, Code: "440100"},
	}

	out := DedupLocations(cands)

	require.Len(t, out, 2)
	assert.Equal(t, "440100", out[0].Code)
	assert.Equal(t, "440300", out[1].Code)
}

func TestExtractDataSource(t *testing.T) {
	tests := []struct {
		question string
		want     model.DataSource
	}{
		{"广州市今天空气质量", model.SourceReviewedLive},
		{"原始实况数据", model.SourceRawLive},
		{"审核标况的优良率", model.SourceReviewedStandard},
		{"原始实况和审核实况都查一下", model.SourceReviewedLive},
	}
	for _, tt := range tests {
		t.Run(tt.question, func(t *testing.T) {
			assert.Equal(t, tt.want, ExtractDataSource(tt.question))
		})
	}
}

func testParamSet(tool model.Tool) *model.ExtractedParameterSet {
	main := model.DayRange(
		time.Date(2025, time.August, 15, 0, 0, 0, 0, time.Local),
		time.Date(2025, time.August, 15, 0, 0, 0, 0, time.Local),
	)
	contrast := model.DayRange(
		time.Date(2024, time.August, 15, 0, 0, 0, 0, time.Local),
		time.Date(2024, time.August, 15, 0, 0, 0, 0, time.Local),
	)
	ps := &model.ExtractedParameterSet{
		Question: "测试",
		LocationsByLevel: map[model.Level][]model.LocationCandidate{
			model.LevelCity: {
				{Name: "广州市", Level: model.LevelCity, Code: "440100", Confidence: 100},
				{Name: "深圳市", Level: model.LevelCity, Code: "440300", Confidence: 100},
			},
		},
		MainTime:   &main,
		DataSource: model.SourceReviewedLive,
		Tool:       tool,
	}
	if tool == model.ToolComparison {
		ps.ContrastTime = &contrast
	}
	return ps
}

func TestValidate_CompleteSummary(t *testing.T) {
	assert.Empty(t, Validate(testParamSet(model.ToolSummary)))
}

func TestValidate_ComparisonMissingContrast(t *testing.T) {
	ps := testParamSet(model.ToolComparison)
	ps.ContrastTime = nil

	missing := Validate(ps)

	assert.Equal(t, []string{"contrast_time"}, missing)
}

func TestValidate_NoLocations(t *testing.T) {
	ps := testParamSet(model.ToolSummary)
	ps.LocationsByLevel = nil

	assert.Contains(t, Validate(ps), "locations")
}

func TestBuildDispatches_OnePerLocation(t *testing.T) {
	ps := testParamSet(model.ToolComparison)

	dispatches, err := BuildDispatches(ps)

	require.NoError(t, err)
	require.Len(t, dispatches, 2)
	for _, d := range dispatches {
		assert.Equal(t, int(model.LevelCity), d.Request.AreaType)
		assert.Equal(t, model.TimeTypeAny, d.Request.TimeType)
		assert.Len(t, d.Request.StationCode, 1)
		assert.Equal(t, []string{"2025-08-15 00:00:00", "2025-08-15 23:59:59"}, d.Request.TimePoint)
		assert.Equal(t, []string{"2024-08-15 00:00:00", "2024-08-15 23:59:59"}, d.Request.ContrastTime)
	}
	assert.Equal(t, "440100", dispatches[0].Request.StationCode[0])
	assert.Equal(t, "440300", dispatches[1].Request.StationCode[0])
}

func TestBuildDispatches_IncompleteRejected(t *testing.T) {
	ps := testParamSet(model.ToolComparison)
	ps.ContrastTime = nil

	_, err := BuildDispatches(ps)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "contrast_time")
}

func TestBuildDispatches_DuplicateLocationsCollapsed(t *testing.T) {
	ps := testParamSet(model.ToolSummary)
	ps.LocationsByLevel[model.LevelCity] = append(
		ps.LocationsByLevel[model.LevelCity],
		model.LocationCandidate{Name: "广州市", Level: model.LevelCity, Code: "440100"},
	)

	dispatches, err := BuildDispatches(ps)

	require.NoError(t, err)
	assert.Len(t, dispatches, 2)
}

func TestRequestFromMap(t *testing.T) {
	req, err := RequestFromMap(map[string]any{
		"AreaType":    float64(2),
		"TimePoint":   []any{"2025-08-15 00:00:00", "2025-08-15 23:59:59", "2025-08-15 00:00:00"},
		"StationCode": []any{"440100", "440100"},
	})

	require.NoError(t, err)
	assert.Equal(t, 2, req.AreaType)
	assert.Equal(t, model.TimeTypeAny, req.TimeType)
	assert.Equal(t, []string{"440100"}, req.StationCode)
	assert.Len(t, req.TimePoint, 2)
}

func TestRequestFromMap_MissingTimePoint(t *testing.T) {
	_, err := RequestFromMap(map[string]any{"StationCode": []any{"440100"}})
	assert.Error(t, err)
}
