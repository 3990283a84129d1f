// Package taxonomy maps raw failure signals onto a closed set of error
// kinds, each carrying a severity and a default recovery strategy. Every
// failure in the pipeline is classified here exactly once before any
// recovery decision is made.
package taxonomy

import (
	"regexp"

	"github.com/enviroquery/aqroute/internal/textnorm"
)

// Kind is the closed error-kind set.
type Kind string

const (
	KindParameterExtraction Kind = "parameter_extraction_failed"
	KindParameterValidation Kind = "parameter_validation_failed"
	KindToolSelection       Kind = "tool_selection_failed"
	KindAPIExecution        Kind = "api_execution_failed"
	KindTimeParsing         Kind = "time_parsing_failed"
	KindLocationParsing     Kind = "location_parsing_failed"
	KindNetwork             Kind = "network_error"
	KindAuthentication      Kind = "authentication_error"
	KindDataFormat          Kind = "data_format_error"
	KindUnknown             Kind = "unknown_error"
)

// Severity buckets drive how aggressively a kind is recovered.
type Severity string

const (
	SeverityLow      Severity = "low"      // simple retry suffices
	SeverityMedium   Severity = "medium"   // model-assisted reanalysis
	SeverityHigh     Severity = "high"     // redirect to the alternate path
	SeverityCritical Severity = "critical" // systemic
)

// Strategy is the default recovery strategy per kind.
type Strategy string

const (
	StrategyReanalysis        Strategy = "llm_reanalysis"
	StrategyParameterFix      Strategy = "llm_parameter_fixing"
	StrategyToolReselection   Strategy = "llm_tool_reselection"
	StrategyRetryOrAlternate  Strategy = "retry_or_llm_alternative"
	StrategyTimeClarification Strategy = "llm_time_clarification"
	StrategyGeoClarification  Strategy = "llm_location_clarification"
	StrategySimpleRetry       Strategy = "simple_retry"
	StrategySQLFallback       Strategy = "sql_fallback"
	StrategyDataReinterpret   Strategy = "llm_data_interpretation"
	StrategyFullAnalysis      Strategy = "comprehensive_llm_analysis"
)

// Stage tags where in the pipeline a failure surfaced; it breaks ties when
// the message alone is ambiguous.
type Stage string

const (
	StageExtraction    Stage = "parameter_extraction"
	StageValidation    Stage = "parameter_validation"
	StageToolSelection Stage = "tool_selection"
	StageDispatch      Stage = "api_execution"
)

var severityByKind = map[Kind]Severity{
	KindParameterExtraction: SeverityMedium,
	KindParameterValidation: SeverityMedium,
	KindToolSelection:       SeverityHigh,
	KindAPIExecution:        SeverityMedium,
	KindTimeParsing:         SeverityMedium,
	KindLocationParsing:     SeverityMedium,
	KindNetwork:             SeverityLow,
	KindAuthentication:      SeverityHigh,
	KindDataFormat:          SeverityMedium,
	KindUnknown:             SeverityHigh,
}

var strategyByKind = map[Kind]Strategy{
	KindParameterExtraction: StrategyReanalysis,
	KindParameterValidation: StrategyParameterFix,
	KindToolSelection:       StrategyToolReselection,
	KindAPIExecution:        StrategyRetryOrAlternate,
	KindTimeParsing:         StrategyTimeClarification,
	KindLocationParsing:     StrategyGeoClarification,
	KindNetwork:             StrategySimpleRetry,
	KindAuthentication:      StrategySQLFallback,
	KindDataFormat:          StrategyDataReinterpret,
	KindUnknown:             StrategyFullAnalysis,
}

var patternsByKind = map[Kind][]*regexp.Regexp{
	KindParameterExtraction: compileAll(
		`缺少必需参数`,
		`参数.*不能为空`,
		`无法解析.*参数`,
		`参数格式不正确`,
		`missing required parameter`,
		`parameter.*is required`,
	),
	KindTimeParsing: compileAll(
		`无法解析.*时间`,
		`时间格式.*错误`,
		`时间范围.*无效`,
		`不支持的时间格式`,
		`时间解析失败`,
		`invalid time format`,
		`time parsing failed`,
	),
	KindLocationParsing: compileAll(
		`无法确定位置`,
		`地理位置.*不存在`,
		`站点.*未找到`,
		`区域.*无效`,
		`location not found`,
		`invalid location`,
	),
	KindAPIExecution: compileAll(
		`api调用失败`,
		`连接超时`,
		`网络错误`,
		`服务不可用`,
		`认证失败`,
		`权限不足`,
		`api rate limit`,
		`connection timeout`,
		`network error`,
		`service unavailable`,
	),
}

func compileAll(exprs ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(exprs))
	for i, e := range exprs {
		out[i] = regexp.MustCompile(`(?i)` + e)
	}
	return out
}

// Classification is the result of classifying one failure.
type Classification struct {
	Kind       Kind     `json:"kind"`
	Severity   Severity `json:"severity"`
	Strategy   Strategy `json:"strategy"`
	Confidence float64  `json:"confidence"`
	Message    string   `json:"message"`
	Stage      Stage    `json:"stage,omitempty"`
}

// Classify maps an error message plus its stage tag onto exactly one kind.
func Classify(message string, stage Stage) Classification {
	kind := determineKind(message, stage)
	return Classification{
		Kind:       kind,
		Severity:   severityByKind[kind],
		Strategy:   strategyByKind[kind],
		Confidence: confidence(message, kind),
		Message:    message,
		Stage:      stage,
	}
}

func determineKind(message string, stage Stage) Kind {
	if message == "" {
		return KindUnknown
	}
	norm := textnorm.Normalize(message)

	// Pattern families, most specific first.
	for _, kind := range []Kind{KindParameterExtraction, KindTimeParsing, KindLocationParsing, KindAPIExecution} {
		if countMatches(norm, patternsByKind[kind]) > 0 {
			return kind
		}
	}

	// Fall back to the stage tag.
	switch stage {
	case StageExtraction:
		return KindParameterExtraction
	case StageToolSelection:
		return KindToolSelection
	case StageDispatch:
		return KindAPIExecution
	case StageValidation:
		return KindParameterValidation
	}

	// Last-resort keyword sniffing.
	switch {
	case contains(norm, "认证", "authentication"):
		return KindAuthentication
	case contains(norm, "网络", "network"):
		return KindNetwork
	case contains(norm, "格式", "format"):
		return KindDataFormat
	}
	return KindUnknown
}

// confidence grows with the number of matching patterns, capped at 0.9.
func confidence(message string, kind Kind) float64 {
	patterns, ok := patternsByKind[kind]
	if !ok {
		return 0.5
	}
	matches := countMatches(textnorm.Normalize(message), patterns)
	if matches == 0 {
		return 0.5
	}
	c := 0.6 + float64(matches)*0.1
	if c > 0.9 {
		c = 0.9
	}
	return c
}

func countMatches(norm string, patterns []*regexp.Regexp) int {
	n := 0
	for _, re := range patterns {
		if re.MatchString(norm) {
			n++
		}
	}
	return n
}

func contains(norm string, subs ...string) bool {
	return len(textnorm.ContainsAny(norm, subs)) > 0
}
