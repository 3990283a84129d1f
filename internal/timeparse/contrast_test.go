package timeparse

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/enviroquery/aqroute/internal/model"
)

func mustRange(t *testing.T, start, end string) model.TimeRange {
	t.Helper()
	r, ok := model.ParseWireRange([]string{start, end})
	require.True(t, ok)
	return r
}

func TestDetectComparisonType(t *testing.T) {
	tests := []struct {
		question string
		want     ComparisonType
	}{
		{"广州市空气质量同比变化", ComparisonYear},
		{"广州市空气质量环比变化", ComparisonPeriod},
		{"较去年同期如何", ComparisonYear},
		{"和去年比较怎么样", ComparisonYear},
		{"对比一下两个时段", ComparisonPeriod},
		{"广州市今天空气质量", ComparisonGeneric},
	}
	for _, tt := range tests {
		t.Run(tt.question, func(t *testing.T) {
			assert.Equal(t, tt.want, DetectComparisonType(tt.question))
		})
	}
}

func TestDeriveContrast_YearOverYear(t *testing.T) {
	main := mustRange(t, "2025-08-01 00:00:00", "2025-08-15 23:59:59")

	got := DeriveContrast(main, ComparisonYear)

	assert.Equal(t, []string{"2024-08-01 00:00:00", "2024-08-15 23:59:59"}, got.Wire())
}

func TestDeriveContrast_LeapDayClamped(t *testing.T) {
	main := mustRange(t, "2024-02-29 00:00:00", "2024-02-29 23:59:59")

	got := DeriveContrast(main, ComparisonYear)

	assert.Equal(t, []string{"2023-02-28 00:00:00", "2023-02-28 23:59:59"}, got.Wire())
}

func TestDeriveContrast_PeriodOverPeriod(t *testing.T) {
	main := mustRange(t, "2025-08-01 00:00:00", "2025-08-15 23:59:59")

	got := DeriveContrast(main, ComparisonPeriod)

	// Same-length (15 day) window ending the day before the main start.
	assert.Equal(t, []string{"2025-07-17 00:00:00", "2025-07-31 23:59:59"}, got.Wire())
}

func TestResolveContrast_YearKeyword(t *testing.T) {
	r := newTestResolver(t, nil)
	main := mustRange(t, "2025-08-15 00:00:00", "2025-08-15 23:59:59")

	res := r.ResolveContrast(context.Background(), "广州市与深圳市空气质量同比变化", main, refNow)

	require.Equal(t, StateResolved, res.State)
	assert.Equal(t, []string{"2024-08-15 00:00:00", "2024-08-15 23:59:59"}, res.Range.Wire())
}

func TestResolveContrast_ExplicitSecondPhrase(t *testing.T) {
	r := newTestResolver(t, nil)
	main := mustRange(t, "2025-06-01 00:00:00", "2025-06-30 23:59:59")

	res := r.ResolveContrast(context.Background(), "2025年6月与2024年6月的优良天数", main, refNow)

	require.Equal(t, StateResolved, res.State)
	assert.Equal(t, []string{"2024-06-01 00:00:00", "2024-06-30 23:59:59"}, res.Range.Wire())
}

func TestResolveContrast_NoEvidenceFailsWithoutRecoverer(t *testing.T) {
	r := newTestResolver(t, nil)
	main := model.DayRange(refNow, refNow)

	res := r.ResolveContrast(context.Background(), "广州市空气质量", main, refNow)

	assert.Equal(t, StateFailed, res.State)
}

func TestYearBefore_PlainShift(t *testing.T) {
	in := time.Date(2025, time.March, 15, 0, 0, 0, 0, time.Local)
	assert.Equal(t, 2024, yearBefore(in).Year())
	assert.Equal(t, time.March, yearBefore(in).Month())
}
