package geo

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/enviroquery/aqroute/internal/model"
)

func testCatalog() *Catalog {
	return &Catalog{
		Stations: map[string]string{
			"广雅中学": "1001A",
			"市八十六中": "1002A",
		},
		Districts: map[string]string{
			"天河区": "440106",
			"越秀区": "440104",
		},
		Cities: map[string]string{
			"广州市": "440100",
			"深圳市": "440300",
			"佛山市": "440600",
		},
	}
}

func TestThreshold_Table(t *testing.T) {
	tests := []struct {
		name    string
		level   model.Level
		nameLen int
		want    float64
	}{
		{"station short name", model.LevelStation, 3, 70},
		{"station mid name", model.LevelStation, 5, 60},
		{"station long name", model.LevelStation, 8, 55},
		{"district mid name", model.LevelDistrict, 4, 60},
		{"city mid name", model.LevelCity, 4, 70},
		{"city short name", model.LevelCity, 3, 80},
		{"city long name", model.LevelCity, 9, 65},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Threshold(tt.level, tt.nameLen))
		})
	}
}

func TestResolve_ExactCityMention(t *testing.T) {
	r := NewResolver(testCatalog(), 0)

	cands := r.Resolve("广州市今天空气质量")

	require.NotEmpty(t, cands)
	top := cands[0]
	assert.Equal(t, "广州市", top.Name)
	assert.Equal(t, model.LevelCity, top.Level)
	assert.Equal(t, "440100", top.Code)
	assert.GreaterOrEqual(t, top.Confidence, 90.0)
	assert.Equal(t, model.MatchExact, top.Source)
}

func TestResolve_MultipleCities(t *testing.T) {
	r := NewResolver(testCatalog(), 0)

	cands := r.Resolve("广州市与深圳市空气质量同比变化")

	var cities []string
	for _, c := range cands {
		if c.Level == model.LevelCity {
			cities = append(cities, c.Name)
		}
	}
	assert.ElementsMatch(t, []string{"广州市", "深圳市"}, cities)
}

func TestResolve_NoMatchReturnsEmptyNotError(t *testing.T) {
	r := NewResolver(testCatalog(), 0)

	assert.Empty(t, r.Resolve("数据库里一共有多少条记录"))
	assert.Empty(t, r.Resolve(""))
}

func TestResolve_MixedLevels(t *testing.T) {
	r := NewResolver(testCatalog(), 0)

	cands := r.Resolve("天河区和广雅中学的空气质量")
	grouped := GroupByLevel(cands, DefaultConfidenceFloor)

	require.Len(t, grouped[model.LevelDistrict], 1)
	require.Len(t, grouped[model.LevelStation], 1)
	assert.Equal(t, "440106", grouped[model.LevelDistrict][0].Code)
	assert.Equal(t, "1001A", grouped[model.LevelStation][0].Code)
}

func TestResolve_CapsResults(t *testing.T) {
	r := NewResolver(testCatalog(), 1)

	cands := r.Resolve("广州市与深圳市和佛山市")
	assert.Len(t, cands, 1)
}

func TestGroupByLevel_FloorExcludesLowConfidence(t *testing.T) {
	cands := []model.LocationCandidate{
		{Name: "广州市", Level: model.LevelCity, Confidence: 95},
		{Name: "佛山市", Level: model.LevelCity, Confidence: 69.5},
	}

	grouped := GroupByLevel(cands, 70)

	require.Len(t, grouped[model.LevelCity], 1)
	assert.Equal(t, "广州市", grouped[model.LevelCity][0].Name)
}

func TestScore_SubstringIsPerfect(t *testing.T) {
	assert.Equal(t, 100.0, Score("天河区", "天河区昨天的pm2.5"))
}

func TestScore_NearMissBelowExact(t *testing.T) {
	s := Score("越秀区", "天河区昨天的pm2.5")
	assert.Less(t, s, 100.0)
}
