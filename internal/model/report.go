package model

// TimeType wire codes. The reporting backend nominally supports several
// report-period types, but only "any range" (8) behaves reliably; the other
// codes are kept for error analysis of requests built elsewhere.
const (
	TimeTypeWeek    = 3
	TimeTypeMonth   = 4
	TimeTypeQuarter = 5
	TimeTypeYear    = 7
	TimeTypeAny     = 8
)

// ReportRequest is the wire request shared by the summary and comparison
// operations. ContrastTime is present only for comparison calls.
type ReportRequest struct {
	AreaType     int      `json:"AreaType"`
	TimeType     int      `json:"TimeType"`
	TimePoint    []string `json:"TimePoint"`
	ContrastTime []string `json:"ContrastTime,omitempty"`
	StationCode  []string `json:"StationCode"`
	DataSource   int      `json:"DataSource"`
}

// Record is one row of a report payload, tagged during merge with the
// level and location it came from.
type Record map[string]any

// Tag keys added to merged records.
const (
	TagLevel    = "_level"
	TagAreaType = "_area_type"
	TagLocation = "_location"
)

// CallResult is the outcome of one outbound call for one resolved
// (level, location) pair. Partial success across locations is expected and
// preserved rather than collapsed.
type CallResult struct {
	Level        Level         `json:"level"`
	LocationName string        `json:"location_name"`
	Code         string        `json:"code"`
	Success      bool          `json:"success"`
	Records      []Record      `json:"records,omitempty"`
	TotalCount   int           `json:"total_count,omitempty"`
	Error        string        `json:"error,omitempty"`
	HTTPStatus   int           `json:"http_status,omitempty"`
	Request      ReportRequest `json:"request"`
	Recovered    bool          `json:"recovered,omitempty"`
}

// Answer is a completed pipeline response: merged per-location payloads.
type Answer struct {
	Tool       Tool         `json:"tool"`
	Records    []Record     `json:"records"`
	TotalCount int          `json:"total_count"`
	Calls      []CallResult `json:"calls"`
	DirectText string       `json:"direct_text,omitempty"`
}

// Redirect is the terminal "use the alternate path" signal. It is an
// outcome, not an error, and always carries a human-readable reason.
type Redirect struct {
	Reason string `json:"reason"`
}

// Outcome is the single terminal result of a pipeline run. Exactly one of
// Answer and Redirect is non-nil; a run never ends in a silent empty success.
type Outcome struct {
	RequestID string    `json:"request_id"`
	Answer    *Answer   `json:"answer,omitempty"`
	Redirect  *Redirect `json:"redirect,omitempty"`
}

// Answered builds a successful outcome.
func Answered(requestID string, a Answer) Outcome {
	return Outcome{RequestID: requestID, Answer: &a}
}

// RouteToSQL builds the alternate-path outcome with the given reason.
func RouteToSQL(requestID, reason string) Outcome {
	return Outcome{RequestID: requestID, Redirect: &Redirect{Reason: reason}}
}
