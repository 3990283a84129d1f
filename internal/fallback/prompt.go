package fallback

import (
	"encoding/json"
	"fmt"
	"strings"
)

const replyContract = `请只返回一个JSON对象，格式:
{
  "action": "continue" | "retry" | "route_to_sql" | "direct_answer",
  "parameters": { ... },
  "answer": "...",
  "reason": "...",
  "confidence": 0.0-1.0
}
无法处理时返回 action="route_to_sql" 并在reason中说明原因。`

// renderPrompt builds the situation-specific prompt. Evidence blocks are
// emitted only when present so the model never sees empty scaffolding.
func renderPrompt(sit Situation, question string, in Input) string {
	var b strings.Builder

	switch sit {
	case SituationTimeParsing:
		b.WriteString("你是空气质量报表系统的时间解析助手。规则解析器无法解析用户问题中的时间表达。\n")
		fmt.Fprintf(&b, "用户问题: %s\n", question)
		fmt.Fprintf(&b, "无法解析的时间表达: %s\n", in.Phrase)
		b.WriteString("请推断用户意图的时间范围，在parameters中返回 \"TimePoint\": [\"YYYY-MM-DD HH:MM:SS\", \"YYYY-MM-DD HH:MM:SS\"]；")
		b.WriteString("若能补全整个查询参数，也可以在parameters中返回完整参数对象。\n")
	case SituationParamSupplement:
		b.WriteString("你是空气质量报表系统的参数补全助手。从用户问题中提取的参数不完整。\n")
		fmt.Fprintf(&b, "用户问题: %s\n", question)
		writeJSONBlock(&b, "已提取的参数", in.Partial)
		b.WriteString("请补全缺失字段并在parameters中返回完整参数，action=continue；无法补全则route_to_sql。\n")
	case SituationContrastRecovery:
		b.WriteString("你是空气质量报表系统的对比时间助手。问题包含对比意图但对比时间范围无法确定。\n")
		fmt.Fprintf(&b, "用户问题: %s\n", question)
		writeJSONBlock(&b, "主时间范围等已知参数", in.Partial)
		b.WriteString("请在parameters中返回 \"ContrastTime\": [\"YYYY-MM-DD HH:MM:SS\", \"YYYY-MM-DD HH:MM:SS\"]，action=continue。\n")
	case SituationAPIError:
		b.WriteString("你是空气质量报表系统的接口错误恢复助手。报表接口调用失败，可能是参数问题。\n")
		fmt.Fprintf(&b, "用户问题: %s\n", question)
		writeJSONBlock(&b, "失败的请求参数", in.Request)
		if len(in.Issues) > 0 {
			fmt.Fprintf(&b, "参数检查发现的问题: %s\n", strings.Join(in.Issues, "; "))
		}
		if in.ErrorInfo != "" {
			fmt.Fprintf(&b, "接口错误信息: %s\n", in.ErrorInfo)
		}
		b.WriteString("若能修正参数，在parameters中返回修正后的完整请求并action=retry；否则route_to_sql。\n")
	case SituationComplexQuery:
		b.WriteString("你是空气质量数据助手。该问题包含多个时间范围，超出报表接口单次调用的能力。\n")
		fmt.Fprintf(&b, "用户问题: %s\n", question)
		writeJSONBlock(&b, "已提取的参数", in.Partial)
		b.WriteString("若可以直接给出答案，action=direct_answer并填写answer；")
		b.WriteString("若可以简化为单一时间范围的查询，在parameters中返回简化后的参数并action=continue；否则route_to_sql。\n")
	default:
		fmt.Fprintf(&b, "用户问题: %s\n", question)
	}

	b.WriteString("\n")
	b.WriteString(replyContract)
	return b.String()
}

func writeJSONBlock(b *strings.Builder, label string, m map[string]any) {
	if len(m) == 0 {
		return
	}
	raw, err := json.Marshal(m)
	if err != nil {
		return
	}
	fmt.Fprintf(b, "%s: %s\n", label, raw)
}
