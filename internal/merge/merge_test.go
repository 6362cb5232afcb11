package merge

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capbothers/pim-cli/internal/model"
)

func defaultOptions() Options {
	return Options{FillEmpty: true, FixErrors: true, ConfidenceThreshold: 0.6}
}

func TestForGapsAndFixes_FillsGaps(t *testing.T) {
	existing := model.FieldMap{
		"material":      nil,
		"bowl_depth_mm": "",
		"width_mm":      0,
		"title":         "Undermount Sink",
	}
	extracted := model.FieldMap{
		"material":      "Stainless Steel",
		"bowl_depth_mm": "200mm",
		"width_mm":      450,
	}

	result := ForGapsAndFixes(existing, extracted, nil, defaultOptions())

	assert.Equal(t, "Stainless Steel", result.Merged["material"])
	assert.Equal(t, "200mm", result.Merged["bowl_depth_mm"])
	assert.Equal(t, 450, result.Merged["width_mm"])
	assert.Equal(t, "Undermount Sink", result.Merged["title"])
	assert.Len(t, result.Changes, 3)
	assert.Contains(t, result.Changes, "Filled material: Stainless Steel")
}

func TestForGapsAndFixes_EmptyExtractedValuesIgnored(t *testing.T) {
	existing := model.FieldMap{"material": "Brass"}
	extracted := model.FieldMap{"material": "", "finish": nil}

	result := ForGapsAndFixes(existing, extracted, nil, defaultOptions())
	assert.Equal(t, "Brass", result.Merged["material"])
	assert.NotContains(t, result.Merged, "finish")
	assert.Empty(t, result.Changes)
}

func TestForGapsAndFixes_FixRequiresConfidence(t *testing.T) {
	existing := model.FieldMap{"material": "Brass"}
	extracted := model.FieldMap{"material": "Stainless Steel"}

	low := ForGapsAndFixes(existing, extracted,
		map[string]float64{"material": 0.4}, defaultOptions())
	assert.Equal(t, "Brass", low.Merged["material"])
	assert.Empty(t, low.Changes)

	high := ForGapsAndFixes(existing, extracted,
		map[string]float64{"material": 0.9}, defaultOptions())
	assert.Equal(t, "Stainless Steel", high.Merged["material"])
	require.Len(t, high.Changes, 1)
	assert.Equal(t, "Fixed material: Brass → Stainless Steel", high.Changes[0])
}

func TestForGapsAndFixes_UnscoredFieldsGetDefaultConfidence(t *testing.T) {
	existing := model.FieldMap{"material": "Brass"}
	extracted := model.FieldMap{"material": "Ceramic"}

	// No recorded score: DefaultFieldConfidence (0.6) meets the threshold.
	result := ForGapsAndFixes(existing, extracted, nil, defaultOptions())
	assert.Equal(t, "Ceramic", result.Merged["material"])
}

func TestForGapsAndFixes_DisabledPolicies(t *testing.T) {
	existing := model.FieldMap{"material": nil, "finish": "Chrome"}
	extracted := model.FieldMap{"material": "Brass", "finish": "Matte Black"}

	result := ForGapsAndFixes(existing, extracted,
		map[string]float64{"material": 0.9, "finish": 0.9},
		Options{FillEmpty: false, FixErrors: false})

	assert.Nil(t, result.Merged["material"])
	assert.Equal(t, "Chrome", result.Merged["finish"])
	assert.Empty(t, result.Changes)
}

func TestForGapsAndFixes_DoesNotMutateInput(t *testing.T) {
	existing := model.FieldMap{"material": ""}
	extracted := model.FieldMap{"material": "Brass"}

	_ = ForGapsAndFixes(existing, extracted, nil, defaultOptions())
	assert.Equal(t, "", existing["material"])
}

func TestShouldFix_CaseInsensitiveEqual(t *testing.T) {
	assert.False(t, shouldFix("Stainless Steel", "stainless steel", "material"))
	assert.False(t, shouldFix("  Brass ", "brass", "material"))
}

func TestShouldFix_SubstringSuppressesFix(t *testing.T) {
	// Genuine refinement is suppressed.
	assert.False(t, shouldFix("Stainless Steel", "304 Stainless Steel", "material"))
	assert.False(t, shouldFix("304 Stainless Steel", "Stainless Steel", "material"))

	// So is accidental substring overlap of unrelated values. Preserved
	// behavior: changing it would churn long-stable catalog fields.
	assert.False(t, shouldFix("Black", "Blackwood", "finish"))
}

func TestShouldFix_DimensionNoiseTolerance(t *testing.T) {
	// Under 5% relative difference on _mm fields is measurement noise.
	assert.False(t, shouldFix(450.0, 460.0, "bowl_depth_mm"))
	assert.True(t, shouldFix(450.0, 500.0, "bowl_depth_mm"))
	// Non-dimension numeric fields have no tolerance.
	assert.True(t, shouldFix(4.0, 4.1, "wels_rating"))
}

func TestShouldFix_NilAndTypeMismatch(t *testing.T) {
	assert.True(t, shouldFix(nil, "Brass", "material"))
	assert.True(t, shouldFix("450", 450, "bowl_depth_mm"))
}

func TestScalarEqual_NumericCrossType(t *testing.T) {
	assert.True(t, scalarEqual(450, 450.0))
	assert.True(t, scalarEqual(int64(450), 450))
	assert.False(t, scalarEqual(450, 451))
	assert.True(t, scalarEqual("x", "x"))
}

func TestMergeExtracted_Conservative(t *testing.T) {
	existing := model.FieldMap{"material": "Brass", "finish": ""}
	extracted := model.FieldMap{"material": "Ceramic", "finish": "Chrome", "colour": "White"}

	merged := MergeExtracted(existing, extracted, StrategyConservative)
	assert.Equal(t, "Brass", merged["material"]) // never overwritten
	assert.Equal(t, "Chrome", merged["finish"])  // empty filled
	assert.Equal(t, "White", merged["colour"])   // missing filled
}

func TestMergeExtracted_Aggressive(t *testing.T) {
	existing := model.FieldMap{"material": "Brass"}
	extracted := model.FieldMap{"material": "Ceramic"}

	merged := MergeExtracted(existing, extracted, StrategyAggressive)
	assert.Equal(t, "Ceramic", merged["material"])
}

func TestMergeExtracted_NilExisting(t *testing.T) {
	merged := MergeExtracted(nil, model.FieldMap{"material": "Brass"}, StrategyReviewedPriority)
	assert.Equal(t, "Brass", merged["material"])
}
