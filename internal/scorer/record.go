package scorer

import (
	"fmt"
	"math"
	"strings"

	"go.uber.org/zap"

	"github.com/capbothers/pim-cli/internal/model"
)

// FilterToSchema restricts a field map to the fields a collection
// recognizes. An empty valid set fails open: an unrecognized collection
// must not silently discard explorable data, so the input is returned
// unchanged.
func FilterToSchema(data model.FieldMap, validFields map[string]bool) model.FieldMap {
	if len(validFields) == 0 {
		return data
	}
	filtered := make(model.FieldMap, len(data))
	for field, value := range data {
		if validFields[field] {
			filtered[field] = value
		}
	}
	return filtered
}

// ScoreRecord scores every non-empty field of an extraction and partitions
// the result into auto-apply and review sets. Pure given the scorer's
// threshold; re-running on the same input yields an identical summary.
//
// Fields with nil or blank values are not scored at all: "field was not
// observed" is a different condition from "field was observed with a bad
// value", and must not drag the overall mean down.
func (s *Scorer) ScoreRecord(extracted model.FieldMap, validFields map[string]bool) *model.ConfidenceSummary {
	filtered := FilterToSchema(extracted, validFields)

	fieldScores := make(map[string]model.FieldScore, len(filtered))
	autoApply := model.FieldMap{}
	review := model.FieldMap{}
	total := 0.0
	count := 0

	for field, value := range filtered {
		if value == nil {
			continue
		}
		if str, ok := value.(string); ok && strings.TrimSpace(str) == "" {
			continue
		}

		confidence := s.ScoreField(field, value)
		auto := confidence >= s.threshold

		fieldScores[field] = model.FieldScore{
			Value:      value,
			Confidence: round3(confidence),
			AutoApply:  auto,
		}
		if auto {
			autoApply[field] = value
		} else {
			review[field] = value
		}

		total += confidence
		count++
	}

	overall := 0.0
	if count > 0 {
		overall = total / float64(count)
	}

	summary := &model.ConfidenceSummary{
		OverallConfidence: round3(overall),
		FieldScores:       fieldScores,
		AutoApplyFields:   autoApply,
		ReviewFields:      review,
		Summary:           fmt.Sprintf("%d/%d fields auto-applied, %d for review", len(autoApply), count, len(review)),
		Threshold:         s.threshold,
		FilteredFields:    len(filtered),
		TotalFields:       len(extracted),
	}

	zap.L().Debug("scorer: record scored",
		zap.Float64("overall", summary.OverallConfidence),
		zap.Int("auto_apply", len(autoApply)),
		zap.Int("review", len(review)),
	)

	return summary
}

// RejectHedgedFields drops fields scoring below the threshold, keeping only
// confident extractions. Used when a caller wants pre-filtered data rather
// than a full summary.
func (s *Scorer) RejectHedgedFields(extracted model.FieldMap) model.FieldMap {
	filtered := make(model.FieldMap, len(extracted))
	for field, value := range extracted {
		if s.ScoreField(field, value) >= s.threshold {
			filtered[field] = value
		}
	}
	return filtered
}

func round3(f float64) float64 {
	return math.Round(f*1000) / 1000
}
