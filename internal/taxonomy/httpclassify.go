package taxonomy

import (
	"fmt"
	"strings"

	"github.com/enviroquery/aqroute/internal/model"
)

// HTTPAction is the suggested next step after an HTTP failure.
type HTTPAction string

const (
	ActionAdjustParameters  HTTPAction = "llm_parameter_adjustment"
	ActionCorrectParameters HTTPAction = "llm_parameter_correction"
	ActionRouteSQL          HTTPAction = "route_to_sql"
)

// HTTPClassification is the verdict on one failed outbound call.
type HTTPClassification struct {
	Category    string     `json:"category"`
	Recoverable bool       `json:"recoverable"`
	Action      HTTPAction `json:"suggested_action"`
	Confidence  float64    `json:"confidence"`
	Issues      []string   `json:"issues,omitempty"`
	Status      int        `json:"http_status"`
}

// parameter-shaped keywords looked for in 500 response bodies.
var paramKeywords = []string{
	"parameter", "invalid", "missing", "required",
	"timepoint", "stationcode", "contrasttime",
	"validation", "format", "range",
}

// ClassifyHTTP inspects the status code, response body, and the outbound
// request that produced the failure. Server 500s are only treated as
// recoverable when there is parameter-shaped evidence; auth and gateway
// failures route straight to the alternate path.
func ClassifyHTTP(status int, body string, req model.ReportRequest) HTTPClassification {
	switch {
	case status == 500:
		return classify500(body, req)
	case status == 400:
		return HTTPClassification{
			Category:    "bad_request",
			Recoverable: true,
			Action:      ActionCorrectParameters,
			Confidence:  0.9,
			Issues:      AnalyzeRequestIssues(req),
			Status:      status,
		}
	case status == 401 || status == 403:
		return HTTPClassification{
			Category:    "authentication_error",
			Recoverable: false,
			Action:      ActionRouteSQL,
			Confidence:  1.0,
			Status:      status,
		}
	case status == 404:
		return HTTPClassification{
			Category:    "resource_not_found",
			Recoverable: true,
			Action:      ActionAdjustParameters,
			Confidence:  0.6,
			Status:      status,
		}
	case status == 502 || status == 503 || status == 504:
		return HTTPClassification{
			Category:    "server_error",
			Recoverable: false,
			Action:      ActionRouteSQL,
			Confidence:  0.9,
			Status:      status,
		}
	default:
		return HTTPClassification{
			Category:    "unknown_error",
			Recoverable: false,
			Action:      ActionRouteSQL,
			Confidence:  0.7,
			Status:      status,
		}
	}
}

func classify500(body string, req model.ReportRequest) HTTPClassification {
	if issues := AnalyzeRequestIssues(req); len(issues) > 0 {
		return HTTPClassification{
			Category:    "parameter_error_500",
			Recoverable: true,
			Action:      ActionAdjustParameters,
			Confidence:  0.8,
			Issues:      issues,
			Status:      500,
		}
	}

	lower := strings.ToLower(body)
	var matched []string
	for _, kw := range paramKeywords {
		if strings.Contains(lower, kw) {
			matched = append(matched, kw)
		}
	}
	if len(matched) > 0 {
		return HTTPClassification{
			Category:    "parameter_validation_error",
			Recoverable: true,
			Action:      ActionCorrectParameters,
			Confidence:  0.7,
			Issues:      matched,
			Status:      500,
		}
	}

	return HTTPClassification{
		Category:    "server_internal_error",
		Recoverable: false,
		Action:      ActionRouteSQL,
		Confidence:  0.9,
		Status:      500,
	}
}

// AnalyzeRequestIssues looks for parameter-shaped problems in an outbound
// request: empty or malformed arrays, out-of-range enum codes, and the
// legacy report-period codes that the backend handles unreliably.
func AnalyzeRequestIssues(req model.ReportRequest) []string {
	var issues []string

	if len(req.TimePoint) == 0 {
		issues = append(issues, "TimePoint为空")
	} else {
		for _, tp := range req.TimePoint {
			if strings.TrimSpace(tp) == "" {
				issues = append(issues, "TimePoint包含无效时间格式")
				break
			}
		}
	}

	if req.ContrastTime != nil && len(req.ContrastTime) == 0 {
		issues = append(issues, "ContrastTime为空数组")
	}

	if len(req.StationCode) == 0 {
		issues = append(issues, "StationCode为空")
	} else {
		for _, code := range req.StationCode {
			if strings.TrimSpace(code) == "" {
				issues = append(issues, "StationCode包含无效编码")
				break
			}
		}
	}

	if req.AreaType < 0 || req.AreaType > 2 {
		issues = append(issues, "AreaType值无效")
	}

	switch req.TimeType {
	case model.TimeTypeAny:
		// The only reliable code.
	case model.TimeTypeWeek, model.TimeTypeMonth, model.TimeTypeQuarter, model.TimeTypeYear:
		issues = append(issues, fmt.Sprintf("TimeType=%d可能存在兼容性问题，建议使用%d", req.TimeType, model.TimeTypeAny))
	default:
		issues = append(issues, fmt.Sprintf("TimeType值超出范围: %d", req.TimeType))
	}

	return issues
}

// RecoveryPriority orders simultaneous candidate recoveries; lower runs
// first. Category sets the base, confidence adjusts it.
func RecoveryPriority(c HTTPClassification) int {
	base := map[string]int{
		"parameter_error_500":        1,
		"parameter_validation_error": 2,
		"bad_request":                3,
		"resource_not_found":         4,
		"unknown_error":              9,
	}
	p, ok := base[c.Category]
	if !ok {
		p = 8
	}
	switch {
	case c.Confidence >= 0.8:
	case c.Confidence >= 0.6:
		p++
	default:
		p += 2
	}
	return p
}
