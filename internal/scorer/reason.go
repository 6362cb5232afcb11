package scorer

import (
	"fmt"
	"strings"
)

// LowConfidenceReason derives a human-readable explanation for a field's
// low score, mirroring ScoreField's early-exit rules so the review export
// tells the operator why the field needs their eyes.
func LowConfidenceReason(field string, value any, confidence float64) string {
	lower := strings.ToLower(strings.TrimSpace(fmt.Sprintf("%v", value)))
	if value == nil {
		lower = ""
	}

	for _, tok := range hedgeTokens {
		if strings.Contains(lower, tok) {
			return "Contains guess indicator"
		}
	}

	if lower == "" || placeholders[lower] {
		return "Placeholder/empty value"
	}

	fieldLower := strings.ToLower(field)
	if strings.Contains(fieldLower, "description") || strings.Contains(fieldLower, "feature") {
		return "Free text field (needs review)"
	}

	switch {
	case confidence < 0.3:
		return "Very low confidence"
	case confidence < 0.5:
		return "Low confidence"
	default:
		return "Below threshold"
	}
}
