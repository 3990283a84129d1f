package model

import (
	"time"
)

// Level is the administrative granularity of a geographic entity. The
// numeric values double as the AreaType wire codes of the reporting API.
type Level int

const (
	LevelStation  Level = 0
	LevelDistrict Level = 1
	LevelCity     Level = 2
)

// String returns the canonical level name used in logs and record tags.
func (l Level) String() string {
	switch l {
	case LevelStation:
		return "station"
	case LevelDistrict:
		return "district"
	case LevelCity:
		return "city"
	default:
		return "unknown"
	}
}

// Levels lists all administrative levels in resolution order.
func Levels() []Level {
	return []Level{LevelStation, LevelDistrict, LevelCity}
}

// DataSource is the wire code for the backend data series a report reads
// from. Reviewed live data is the default series.
type DataSource int

const (
	SourceRawLive          DataSource = 0
	SourceReviewedLive     DataSource = 1
	SourceRawStandard      DataSource = 2
	SourceReviewedStandard DataSource = 3
)

func (d DataSource) String() string {
	switch d {
	case SourceRawLive:
		return "raw_live"
	case SourceReviewedLive:
		return "reviewed_live"
	case SourceRawStandard:
		return "raw_standard"
	case SourceReviewedStandard:
		return "reviewed_standard"
	default:
		return "unknown"
	}
}

// Tool identifies one of the two external reporting operations.
type Tool string

const (
	ToolSummary    Tool = "summary"
	ToolComparison Tool = "comparison"
)

// MatchSource records how a location candidate was matched.
type MatchSource string

const (
	MatchExact MatchSource = "exact"
	MatchFuzzy MatchSource = "fuzzy"
)

// LocationCandidate is one confidence-scored catalog match for a location
// mention in the question. Immutable once produced.
type LocationCandidate struct {
	Name       string      `json:"name"`
	Level      Level       `json:"level"`
	Code       string      `json:"code"`
	Confidence float64     `json:"confidence"` // 0-100
	Source     MatchSource `json:"source"`
}

// WireTimeLayout is the second-precision format the reporting API expects.
const WireTimeLayout = "2006-01-02 15:04:05"

// TimeRange is an inclusive [Start, End] window. At most two exist per
// request: the main range and an optional contrast range.
type TimeRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Valid reports whether the range is non-empty and ordered.
func (r TimeRange) Valid() bool {
	return !r.Start.IsZero() && !r.End.IsZero() && !r.End.Before(r.Start)
}

// Wire renders the range as the two-element array the reporting API expects.
func (r TimeRange) Wire() []string {
	return []string{r.Start.Format(WireTimeLayout), r.End.Format(WireTimeLayout)}
}

// DayRange returns the full-day range covering start..end at day precision,
// with 00:00:00 and 23:59:59 bounds.
func DayRange(start, end time.Time) TimeRange {
	return TimeRange{
		Start: time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, start.Location()),
		End:   time.Date(end.Year(), end.Month(), end.Day(), 23, 59, 59, 0, end.Location()),
	}
}

// ParseWireRange parses a two-element wire time array back into a TimeRange.
func ParseWireRange(arr []string) (TimeRange, bool) {
	if len(arr) != 2 {
		return TimeRange{}, false
	}
	start, err := time.ParseInLocation(WireTimeLayout, arr[0], time.Local)
	if err != nil {
		return TimeRange{}, false
	}
	end, err := time.ParseInLocation(WireTimeLayout, arr[1], time.Local)
	if err != nil {
		return TimeRange{}, false
	}
	r := TimeRange{Start: start, End: end}
	if !r.Valid() {
		return TimeRange{}, false
	}
	return r, true
}

// ToolSelection is the keyword-evidence classification of a question into
// one of the two external operations.
type ToolSelection struct {
	Tool            Tool     `json:"tool"`
	MatchedKeywords []string `json:"matched_keywords,omitempty"`
	Confidence      float64  `json:"confidence"`
}

// ExtractedParameterSet accumulates the resolved parameters for one
// question. Each pipeline stage validates and writes only its own fields.
type ExtractedParameterSet struct {
	Question         string
	LocationsByLevel map[Level][]LocationCandidate
	MainTime         *TimeRange
	ContrastTime     *TimeRange
	DataSource       DataSource
	Tool             Tool
}

// LocationCount returns the total number of resolved locations across levels.
func (p *ExtractedParameterSet) LocationCount() int {
	n := 0
	for _, cands := range p.LocationsByLevel {
		n += len(cands)
	}
	return n
}
