package scorer

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/capbothers/pim-cli/internal/model"
)

func TestScoreField_EarlyExits(t *testing.T) {
	s := New(DefaultThreshold)

	tests := []struct {
		name  string
		field string
		value any
		want  float64
	}{
		{"nil value", "bowl_depth_mm", nil, 0.0},
		{"empty string", "material", "", 0.0},
		{"whitespace only", "material", "   ", 0.0},
		{"placeholder n/a", "material", "N/A", 0.0},
		{"placeholder unknown", "material", "Unknown", 0.0},
		{"placeholder tbd", "warranty_years", "TBD", 0.0},
		{"hedge approx", "bowl_depth_mm", "approx 450mm", 0.2},
		{"hedge estimated", "flow_rate", "estimated 6L/min", 0.2},
		{"hedge tilde", "width_mm", "~500", 0.2},
		{"hedge about", "height_mm", "about 200", 0.2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, s.ScoreField(tt.field, tt.value), 0.001)
		})
	}
}

func TestScoreField_Dimensions(t *testing.T) {
	s := New(DefaultThreshold)

	assert.InDelta(t, 1.0, s.ScoreField("bowl_depth_mm", "450mm"), 0.001)
	assert.InDelta(t, 0.95, s.ScoreField("bowl_depth_mm", "450"), 0.001)
	assert.InDelta(t, 0.95, s.ScoreField("width_mm", 450), 0.001)
	assert.InDelta(t, 0.85, s.ScoreField("clearance_mm", "400-450mm"), 0.001)
	assert.InDelta(t, 0.3, s.ScoreField("bowl_depth_mm", "quite deep"), 0.001)
}

func TestScoreField_Booleans(t *testing.T) {
	s := New(DefaultThreshold)

	assert.InDelta(t, 0.9, s.ScoreField("has_overflow", "Yes"), 0.001)
	assert.InDelta(t, 0.9, s.ScoreField("is_undermount", "true"), 0.001)
	assert.InDelta(t, 0.9, s.ScoreField("includes_waste", "No"), 0.001)
	assert.InDelta(t, 0.75, s.ScoreField("includes_waste", "Included"), 0.001)
	assert.InDelta(t, 0.4, s.ScoreField("has_overflow", "sometimes"), 0.001)
}

func TestScoreField_Materials(t *testing.T) {
	s := New(DefaultThreshold)

	assert.InDelta(t, 0.9, s.ScoreField("material", "Stainless Steel"), 0.001)
	assert.InDelta(t, 0.8, s.ScoreField("material", "304 Stainless Steel"), 0.001)
	assert.InDelta(t, 0.95, s.ScoreField("material", "304 Stainless"), 0.001)
	assert.InDelta(t, 0.4, s.ScoreField("bowl_material", "something shiny"), 0.001)
}

func TestScoreField_EnumsAndRatings(t *testing.T) {
	s := New(DefaultThreshold)

	assert.InDelta(t, 0.8, s.ScoreField("installation_type", "Undermount"), 0.001)
	assert.InDelta(t, 0.6, s.ScoreField("installation_type", "Undermount or topmount with clips"), 0.001)
	assert.InDelta(t, 0.4, s.ScoreField("mounting_type", "depends on the benchtop and how the installer wants to do it"), 0.001)

	assert.InDelta(t, 0.95, s.ScoreField("wels_rating", "4 star"), 0.001)
	assert.InDelta(t, 0.85, s.ScoreField("wels_rating", "4"), 0.001)
	assert.InDelta(t, 0.9, s.ScoreField("warranty", "10 years"), 0.001)
	assert.InDelta(t, 0.85, s.ScoreField("grade", "A+"), 0.001)
}

func TestScoreField_PriceAndFreeText(t *testing.T) {
	s := New(DefaultThreshold)

	assert.InDelta(t, 0.9, s.ScoreField("price", "$249.00"), 0.001)
	assert.InDelta(t, 0.6, s.ScoreField("price", "AUD 249"), 0.001)
	assert.InDelta(t, 0.3, s.ScoreField("price", "call for quote"), 0.001)

	assert.InDelta(t, 0.5, s.ScoreField("description", "A generously sized sink."), 0.001)
	assert.InDelta(t, 0.5, s.ScoreField("care_instructions", "Wipe with a damp cloth"), 0.001)
}

func TestScoreField_UnknownFamilyDefaults(t *testing.T) {
	s := New(DefaultThreshold)
	assert.InDelta(t, 0.5, s.ScoreField("colour", "Gunmetal"), 0.001)
}

func TestScoreField_Deterministic(t *testing.T) {
	s := New(DefaultThreshold)
	first := s.ScoreField("bowl_depth_mm", "450mm")
	for range 5 {
		assert.Equal(t, first, s.ScoreField("bowl_depth_mm", "450mm"))
	}
}

func TestScoreRecord(t *testing.T) {
	s := New(DefaultThreshold)
	valid := map[string]bool{
		"bowl_depth_mm": true, "has_overflow": true,
		"material": true, "description": true,
	}

	summary := s.ScoreRecord(model.FieldMap{
		"bowl_depth_mm": "450mm",            // 1.0
		"has_overflow":  "Yes",              // 0.9
		"material":      "approx steel",     // 0.2 (hedged)
		"description":   "A spacious sink.", // 0.5
	}, valid)

	// Mean of 1.0, 0.9, 0.2, 0.5.
	assert.InDelta(t, 0.65, summary.OverallConfidence, 0.001)
	assert.Len(t, summary.FieldScores, 4)
	assert.Contains(t, summary.AutoApplyFields, "bowl_depth_mm")
	assert.Contains(t, summary.AutoApplyFields, "has_overflow")
	assert.Contains(t, summary.ReviewFields, "material")
	assert.Contains(t, summary.ReviewFields, "description")
	assert.Equal(t, "2/4 fields auto-applied, 2 for review", summary.Summary)
	assert.InDelta(t, DefaultThreshold, summary.Threshold, 0.001)
}

func TestScoreRecord_SkipsUnobservedFields(t *testing.T) {
	s := New(DefaultThreshold)
	valid := map[string]bool{"bowl_depth_mm": true, "material": true, "has_overflow": true}

	summary := s.ScoreRecord(model.FieldMap{
		"bowl_depth_mm": "450mm",
		"material":      nil,
		"has_overflow":  "  ",
	}, valid)

	// Unobserved fields neither score nor drag the mean down.
	assert.Len(t, summary.FieldScores, 1)
	assert.InDelta(t, 1.0, summary.OverallConfidence, 0.001)
}

func TestScoreRecord_FiltersToSchema(t *testing.T) {
	s := New(DefaultThreshold)

	summary := s.ScoreRecord(model.FieldMap{
		"bowl_depth_mm": "450mm",
		"internal_note": "do not ship",
	}, map[string]bool{"bowl_depth_mm": true})

	assert.Len(t, summary.FieldScores, 1)
	assert.Equal(t, 1, summary.FilteredFields)
	assert.Equal(t, 2, summary.TotalFields)
}

func TestScoreRecord_Idempotent(t *testing.T) {
	s := New(DefaultThreshold)
	data := model.FieldMap{"bowl_depth_mm": "450mm", "material": "Brass"}
	valid := map[string]bool{"bowl_depth_mm": true, "material": true}

	first := s.ScoreRecord(data, valid)
	second := s.ScoreRecord(data, valid)
	assert.Equal(t, first, second)
}

func TestFilterToSchema_EmptySetFailsOpen(t *testing.T) {
	data := model.FieldMap{"anything": "goes"}
	assert.Equal(t, data, FilterToSchema(data, nil))
	assert.Equal(t, data, FilterToSchema(data, map[string]bool{}))
}

func TestRejectHedgedFields(t *testing.T) {
	s := New(DefaultThreshold)

	kept := s.RejectHedgedFields(model.FieldMap{
		"bowl_depth_mm": "450mm",
		"width_mm":      "approx 500",
	})
	assert.Contains(t, kept, "bowl_depth_mm")
	assert.NotContains(t, kept, "width_mm")
}

func TestLowConfidenceReason(t *testing.T) {
	tests := []struct {
		name       string
		field      string
		value      any
		confidence float64
		want       string
	}{
		{"hedged", "bowl_depth_mm", "approx 450mm", 0.2, "Contains guess indicator"},
		{"placeholder", "material", "N/A", 0.0, "Placeholder/empty value"},
		{"nil", "material", nil, 0.0, "Placeholder/empty value"},
		{"free text", "description", "A nice sink", 0.5, "Free text field (needs review)"},
		{"very low", "bowl_depth_mm", "deep", 0.25, "Very low confidence"},
		{"low", "has_overflow", "maybe", 0.4, "Low confidence"},
		{"below threshold", "colour", "Gunmetal", 0.55, "Below threshold"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, LowConfidenceReason(tt.field, tt.value, tt.confidence))
		})
	}
}
