package params

import (
	"github.com/rotisserie/eris"

	"github.com/enviroquery/aqroute/internal/model"
)

// Validate checks the dispatch invariants for a parameter set: at least one
// resolved location, exactly one main time range, and a contrast range when
// the comparison tool is selected. It returns the missing field names.
func Validate(ps *model.ExtractedParameterSet) []string {
	var missing []string
	if ps.LocationCount() == 0 {
		missing = append(missing, "locations")
	}
	if ps.MainTime == nil || !ps.MainTime.Valid() {
		missing = append(missing, "time_point")
	}
	if ps.Tool == model.ToolComparison {
		if ps.ContrastTime == nil || !ps.ContrastTime.Valid() {
			missing = append(missing, "contrast_time")
		}
	}
	return missing
}

// Dispatch pairs one resolved location with the wire request built for it.
// The orchestrator issues one outbound call per dispatch.
type Dispatch struct {
	Level    model.Level
	Location model.LocationCandidate
	Request  model.ReportRequest
}

// BuildDispatches converts a validated parameter set into one outbound
// request per (level, location) pair. The post-conversion dedup pass runs
// on every code and time array before anything is dispatched.
func BuildDispatches(ps *model.ExtractedParameterSet) ([]Dispatch, error) {
	if missing := Validate(ps); len(missing) > 0 {
		return nil, eris.Errorf("params: incomplete parameter set, missing %v", missing)
	}

	timePoint := UniqueStrings(ps.MainTime.Wire())
	var contrast []string
	if ps.Tool == model.ToolComparison {
		contrast = UniqueStrings(ps.ContrastTime.Wire())
	}

	var out []Dispatch
	for _, level := range model.Levels() {
		for _, loc := range DedupLocations(ps.LocationsByLevel[level]) {
			out = append(out, Dispatch{
				Level:    level,
				Location: loc,
				Request: model.ReportRequest{
					AreaType:     int(level),
					TimeType:     model.TimeTypeAny,
					TimePoint:    timePoint,
					ContrastTime: contrast,
					StationCode:  UniqueStrings([]string{loc.Code}),
					DataSource:   int(ps.DataSource),
				},
			})
		}
	}
	return out, nil
}

// RequestFromMap rebuilds a wire request from a loosely-typed parameter
// object, as returned by the model-assisted repair path. Arrays are
// de-duplicated on the way through.
func RequestFromMap(m map[string]any) (model.ReportRequest, error) {
	req := model.ReportRequest{
		TimeType:   model.TimeTypeAny,
		DataSource: int(model.SourceReviewedLive),
	}
	if v, ok := asInt(m["AreaType"]); ok {
		req.AreaType = v
	}
	if v, ok := asInt(m["TimeType"]); ok {
		req.TimeType = v
	}
	if v, ok := asInt(m["DataSource"]); ok {
		req.DataSource = v
	}
	req.TimePoint = UniqueStrings(asStrings(m["TimePoint"]))
	req.ContrastTime = UniqueStrings(asStrings(m["ContrastTime"]))
	req.StationCode = UniqueStrings(asStrings(m["StationCode"]))

	if len(req.TimePoint) == 0 {
		return req, eris.New("params: parameter object missing TimePoint")
	}
	if len(req.StationCode) == 0 {
		return req, eris.New("params: parameter object missing StationCode")
	}
	return req, nil
}

func asInt(v any) (int, bool) {
	switch vv := v.(type) {
	case int:
		return vv, true
	case int64:
		return int(vv), true
	case float64:
		return int(vv), true
	default:
		return 0, false
	}
}

func asStrings(v any) []string {
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
