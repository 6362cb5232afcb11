// Package apply pushes approved records downstream. The gate decides which
// fields go out: extracted fields must clear the confidence threshold,
// while operator-reviewed values pass unconditionally.
package apply

import (
	"sort"

	"github.com/capbothers/pim-cli/internal/model"
)

// GateResult is the per-record outcome of the apply gate.
type GateResult struct {
	// Fields is the final map to push downstream.
	Fields model.FieldMap
	// AutoApplied lists fields that cleared the threshold on their own.
	AutoApplied []string
	// ReviewedApplied lists fields carrying an operator-approved value.
	ReviewedApplied []string
	// Skipped lists extracted fields held back for low confidence with no
	// reviewed value to fall back on.
	Skipped []string
}

// MergeFieldsForShopify gates a record's fields for the downstream push.
//
// Extracted fields are included only when their recorded confidence meets
// the threshold; unscored fields never pass on their own. Reviewed values
// then overlay the result unconditionally. A field that is both confident
// and reviewed counts as reviewed, never twice.
func MergeFieldsForShopify(rec *model.StagedRecord, threshold float64) GateResult {
	result := GateResult{Fields: model.FieldMap{}}

	var scores map[string]model.FieldScore
	if rec.Confidence != nil {
		scores = rec.Confidence.FieldScores
	}

	for field, value := range rec.ExtractedData {
		if _, reviewed := rec.ReviewedData[field]; reviewed {
			continue
		}
		score, scored := scores[field]
		if scored && score.Confidence >= threshold {
			result.Fields[field] = value
			result.AutoApplied = append(result.AutoApplied, field)
		} else {
			result.Skipped = append(result.Skipped, field)
		}
	}

	for field, value := range rec.ReviewedData {
		result.Fields[field] = value
		result.ReviewedApplied = append(result.ReviewedApplied, field)
	}

	sort.Strings(result.AutoApplied)
	sort.Strings(result.ReviewedApplied)
	sort.Strings(result.Skipped)
	return result
}

// AppliedFields converts the gate result into the persisted audit form.
func (g GateResult) AppliedFields() *model.AppliedFields {
	fields := make([]string, 0, len(g.Fields))
	for field := range g.Fields {
		fields = append(fields, field)
	}
	sort.Strings(fields)
	return &model.AppliedFields{
		Fields:          fields,
		AutoApplied:     g.AutoApplied,
		ReviewedApplied: g.ReviewedApplied,
	}
}
