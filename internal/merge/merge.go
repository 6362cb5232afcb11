// Package merge combines extracted field values from multiple candidate
// sources into one field map under fill/fix policies.
//
// The two-tier policy is deliberate: gaps are always safe to fill because
// there is no existing value to lose, while fixing a present value requires
// both confidence above threshold and a semantic-difference test. Blindly
// overwriting good catalog data with noisy scraped data is the failure mode
// this package exists to prevent.
package merge

import (
	"fmt"
	"math"
	"reflect"
	"strings"

	"go.uber.org/zap"

	"github.com/capbothers/pim-cli/internal/model"
)

// DefaultFieldConfidence is assumed for fields with no recorded score.
const DefaultFieldConfidence = 0.6

// Strategy names a confidence-free merge policy for MergeExtracted.
type Strategy string

const (
	// StrategyConservative only fills fields whose existing value is
	// missing or empty.
	StrategyConservative Strategy = "conservative"
	// StrategyReviewedPriority behaves like conservative; callers use it
	// when the extracted map already carries operator-reviewed values.
	StrategyReviewedPriority Strategy = "reviewed_priority"
	// StrategyAggressive overwrites unconditionally. Only for callers that
	// applied their own confidence gating upstream.
	StrategyAggressive Strategy = "aggressive"
)

// Options configures ForGapsAndFixes.
type Options struct {
	FillEmpty           bool
	FixErrors           bool
	ConfidenceThreshold float64
}

// ForGapsAndFixes merges newly extracted values into an existing field map.
//
// Per field present in extracted with a non-empty value:
//   - Fill rule: if the existing value is nil, empty, or numeric zero, adopt
//     the extracted value unconditionally.
//   - Fix rule: only with confidence >= threshold, differing values, and a
//     passing should-fix test.
//   - Otherwise keep the existing value.
//
// The returned change list is human-readable audit text, never parsed back.
func ForGapsAndFixes(existing, extracted model.FieldMap, fieldConfidence map[string]float64, opts Options) model.MergeResult {
	merged := existing.Clone()
	if merged == nil {
		merged = model.FieldMap{}
	}
	var changes []string

	for field, extractedValue := range extracted {
		if isEmptyValue(extractedValue) {
			continue
		}

		existingValue := existing[field]
		confidence := DefaultFieldConfidence
		if c, ok := fieldConfidence[field]; ok {
			confidence = c
		}

		if opts.FillEmpty && isGap(existingValue) {
			merged[field] = extractedValue
			changes = append(changes, fmt.Sprintf("Filled %s: %v", field, extractedValue))
			continue
		}

		if opts.FixErrors && confidence >= opts.ConfidenceThreshold {
			if !scalarEqual(existingValue, extractedValue) && shouldFix(existingValue, extractedValue, field) {
				merged[field] = extractedValue
				changes = append(changes, fmt.Sprintf("Fixed %s: %v → %v", field, existingValue, extractedValue))
				continue
			}
		}
	}

	if len(changes) > 0 {
		zap.L().Debug("merge: applied changes", zap.Strings("changes", changes))
	}

	return model.MergeResult{Merged: merged, Changes: changes}
}

// MergeExtracted merges without per-field confidence, under a named strategy.
func MergeExtracted(existing, extracted model.FieldMap, strategy Strategy) model.FieldMap {
	merged := existing.Clone()
	if merged == nil {
		merged = model.FieldMap{}
	}

	switch strategy {
	case StrategyAggressive:
		for field, value := range extracted {
			merged[field] = value
		}
	default: // conservative and reviewed_priority: fill-only
		for field, value := range extracted {
			if isEmptyValue(value) {
				continue
			}
			if existingValue, ok := merged[field]; !ok || isEmptyValue(existingValue) {
				merged[field] = value
			}
		}
	}

	return merged
}

// shouldFix decides whether a present existing value should be replaced.
// It suppresses churn from case variations, substring overlap, and sub-5%
// dimension noise; a type mismatch is always a genuine difference.
func shouldFix(existing, extracted any, field string) bool {
	if existing == nil || extracted == nil {
		return true
	}

	existingStr, existingIsStr := existing.(string)
	extractedStr, extractedIsStr := extracted.(string)

	if existingIsStr && extractedIsStr {
		existingLower := strings.ToLower(strings.TrimSpace(existingStr))
		extractedLower := strings.ToLower(strings.TrimSpace(extractedStr))
		if existingLower == extractedLower {
			return false
		}
		// Containment counts as a non-difference ("Stainless Steel" vs
		// "304 Stainless Steel"), including true substrings of unrelated
		// values ("Black" vs "Blackwood").
		if strings.Contains(extractedLower, existingLower) || strings.Contains(existingLower, extractedLower) {
			return false
		}
		return true
	}

	existingNum, existingIsNum := asFloat(existing)
	extractedNum, extractedIsNum := asFloat(extracted)

	if existingIsNum && extractedIsNum {
		// Dimensions tolerate 5% relative difference as measurement noise.
		if strings.HasSuffix(field, "_mm") && existingNum > 0 {
			if math.Abs(extractedNum-existingNum)/existingNum < 0.05 {
				return false
			}
		}
		return true
	}

	if reflect.TypeOf(existing) != reflect.TypeOf(extracted) {
		return true
	}

	return true
}

// isGap reports whether an existing value counts as fillable: nil, empty
// or whitespace string, or numeric zero.
func isGap(v any) bool {
	if isEmptyValue(v) {
		return true
	}
	if n, ok := asFloat(v); ok && n == 0 {
		return true
	}
	return false
}

// isEmptyValue reports whether an extracted value carries no information.
func isEmptyValue(v any) bool {
	if v == nil {
		return true
	}
	if s, ok := v.(string); ok {
		return strings.TrimSpace(s) == ""
	}
	return false
}

// scalarEqual compares two scalar values, treating numerically equal
// int/float pairs as equal so 450 never "differs" from 450.0.
func scalarEqual(a, b any) bool {
	if a == b {
		return true
	}
	an, aok := asFloat(a)
	bn, bok := asFloat(b)
	return aok && bok && an == bn
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}
