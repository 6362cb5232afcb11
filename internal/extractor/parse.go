package extractor

import (
	"encoding/json"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/capbothers/pim-cli/internal/model"
)

// ParseFields pulls a JSON object out of a model response. It first looks
// for a ```json fenced block, then falls back to the outermost braces;
// models wrap output in prose often enough that strict parsing would throw
// away good extractions.
func ParseFields(text string) (model.FieldMap, error) {
	candidate := fencedJSON(text)
	if candidate == "" {
		candidate = braceSpan(text)
	}
	if candidate == "" {
		return nil, eris.New("extractor: no JSON object in response")
	}

	var fields model.FieldMap
	if err := json.Unmarshal([]byte(candidate), &fields); err != nil {
		return nil, eris.Wrap(err, "extractor: parse response JSON")
	}
	return fields, nil
}

func fencedJSON(text string) string {
	start := strings.Index(text, "```json")
	if start < 0 {
		return ""
	}
	rest := text[start+len("```json"):]
	end := strings.Index(rest, "```")
	if end < 0 {
		return ""
	}
	return strings.TrimSpace(rest[:end])
}

func braceSpan(text string) string {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return ""
	}
	return text[start : end+1]
}
