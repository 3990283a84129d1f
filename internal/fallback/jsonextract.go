package fallback

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/rotisserie/eris"
)

var jsonFence = regexp.MustCompile("(?s)```(?:json)?\\s*(\\{.*?\\})\\s*```")

// ExtractJSON pulls the first JSON object out of a free-text model reply.
// A fenced ```json block wins; otherwise the first balanced {...} is used.
func ExtractJSON(text string) (map[string]any, error) {
	if m := jsonFence.FindStringSubmatch(text); m != nil {
		return decodeObject(m[1])
	}
	if raw, ok := firstBalancedObject(text); ok {
		return decodeObject(raw)
	}
	return nil, eris.New("fallback: no JSON object in model reply")
}

func decodeObject(raw string) (map[string]any, error) {
	var obj map[string]any
	if err := json.Unmarshal([]byte(raw), &obj); err != nil {
		return nil, eris.Wrap(err, "fallback: decode model JSON")
	}
	return obj, nil
}

// firstBalancedObject scans for the first brace-balanced object, skipping
// braces inside string literals.
func firstBalancedObject(text string) (string, bool) {
	start := strings.IndexByte(text, '{')
	if start < 0 {
		return "", false
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return text[start : i+1], true
			}
		}
	}
	return "", false
}
