// Package scorer assigns per-field confidence to extracted product data and
// aggregates field scores into a record-level confidence summary.
package scorer

import (
	"fmt"
	"regexp"
	"strings"
)

// Thresholds for auto-applying extracted fields.
const (
	DefaultThreshold        = 0.6
	HighConfidenceThreshold = 0.8
)

// placeholders are values that mean "not observed" regardless of field.
var placeholders = map[string]bool{
	"n/a": true, "unknown": true, "tbd": true, "null": true, "none": true,
}

// hedgeTokens mark a value the extractor guessed rather than read.
var hedgeTokens = []string{"approx", "estimated", "about", "around", "roughly", "~"}

var (
	reNumber        = regexp.MustCompile(`^\d+(\.\d+)?$`)
	reNumberUnit    = regexp.MustCompile(`(?i)^\d+(\.\d+)?\s*(mm|cm|m|inches|in|ft)$`)
	reNumberRange   = regexp.MustCompile(`(?i)^\d+\s*-\s*\d+\s*(mm|cm|m|inches)?$`)
	reStarRating    = regexp.MustCompile(`(?i)^\d+(\.\d+)?\s*star`)
	reWarrantyYears = regexp.MustCompile(`(?i)^\d+\s*year`)
	reLetterGrade   = regexp.MustCompile(`(?i)^(grade\s*)?[A-F][+-]?$`)
	rePrice         = regexp.MustCompile(`^[$]?\d+(\.\d{2})?$`)
	reAnyDigit      = regexp.MustCompile(`\d+`)
	reGradeMaterial = regexp.MustCompile(`\d{3,4}\s+stainless`)
)

var dimensionHints = []string{
	"_mm", "_cm", "_m", "_inches", "_ft",
	"length", "width", "height", "depth", "diameter",
	"size", "dimension", "clearance",
}

var knownMaterials = []string{
	"stainless steel", "brass", "copper", "ceramic", "porcelain",
	"chrome", "nickel", "granite", "quartz", "acrylic", "vitreous china",
	"plastic", "pvc", "abs", "glass", "stone",
}

var freeTextHints = []string{"description", "feature", "care", "instruction", "body"}

// fieldRule pairs a field-name predicate with the scoring function for that
// field family. Rules are evaluated in order; the first match wins, so
// specific families must precede generic fallbacks.
type fieldRule struct {
	name  string
	match func(field string) bool
	score func(value string) float64
}

// fieldRules is the ordered dispatch table for field-family scoring.
var fieldRules = []fieldRule{
	{
		name:  "dimension",
		match: func(f string) bool { return containsAny(f, dimensionHints) },
		score: scoreDimension,
	},
	{
		name: "boolean",
		match: func(f string) bool {
			return strings.HasPrefix(f, "is_") || strings.HasPrefix(f, "has_") || strings.HasPrefix(f, "includes_")
		},
		score: scoreBoolean,
	},
	{
		name:  "material",
		match: func(f string) bool { return strings.Contains(f, "material") },
		score: scoreMaterial,
	},
	{
		name:  "enum",
		match: func(f string) bool { return containsAny(f, []string{"installation", "mounting", "type"}) },
		score: scoreEnum,
	},
	{
		name:  "rating",
		match: func(f string) bool { return containsAny(f, []string{"wels", "rating", "grade", "warranty"}) },
		score: scoreRating,
	},
	{
		name:  "price",
		match: func(f string) bool { return strings.Contains(f, "price") },
		score: scorePrice,
	},
	{
		name:  "free_text",
		match: func(f string) bool { return containsAny(f, freeTextHints) },
		score: func(string) float64 { return 0.5 },
	},
}

// Scorer scores extracted product fields. It is stateless apart from its
// configured threshold and safe for concurrent use.
type Scorer struct {
	threshold float64
}

// New creates a Scorer with the given auto-apply threshold.
func New(threshold float64) *Scorer {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Scorer{threshold: threshold}
}

// Threshold returns the configured auto-apply threshold.
func (s *Scorer) Threshold() float64 { return s.threshold }

// ScoreField scores confidence for a single field. Deterministic: the same
// (field, value) pair always yields the same score, with no I/O.
//
// Early exits run before family dispatch: placeholder/empty values score
// 0.0 and hedged values score 0.2 regardless of field family.
func (s *Scorer) ScoreField(field string, value any) float64 {
	valueStr := strings.TrimSpace(fmt.Sprintf("%v", value))
	if value == nil {
		valueStr = ""
	}
	lower := strings.ToLower(valueStr)

	if valueStr == "" || placeholders[lower] {
		return 0.0
	}

	for _, tok := range hedgeTokens {
		if strings.Contains(lower, tok) {
			return 0.2
		}
	}

	fieldLower := strings.ToLower(field)
	for _, rule := range fieldRules {
		if rule.match(fieldLower) {
			return rule.score(valueStr)
		}
	}

	return 0.5
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

func scoreDimension(value string) float64 {
	switch {
	case reNumberUnit.MatchString(value):
		return 1.0
	case reNumber.MatchString(value):
		return 0.95
	case reNumberRange.MatchString(value):
		return 0.85
	default:
		return 0.3
	}
}

func scoreBoolean(value string) float64 {
	switch strings.ToLower(value) {
	case "true", "false", "yes", "no", "1", "0":
		return 0.9
	case "included", "not included", "available", "n/a":
		return 0.75
	default:
		return 0.4
	}
}

func scoreMaterial(value string) float64 {
	lower := strings.ToLower(value)
	for _, mat := range knownMaterials {
		if lower == mat {
			return 0.9
		}
	}
	for _, mat := range knownMaterials {
		if strings.Contains(lower, mat) {
			return 0.8
		}
	}
	// Grade-coded material like "304 Stainless" that names no full
	// vocabulary term on its own.
	if reGradeMaterial.MatchString(lower) {
		return 0.95
	}
	return 0.4
}

func scoreEnum(value string) float64 {
	words := len(strings.Fields(value))
	switch {
	case words <= 3:
		return 0.8
	case words <= 6:
		return 0.6
	default:
		return 0.4
	}
}

func scoreRating(value string) float64 {
	switch {
	case reStarRating.MatchString(value):
		return 0.95
	case reNumber.MatchString(value):
		return 0.85
	case reWarrantyYears.MatchString(value):
		return 0.9
	case reLetterGrade.MatchString(value):
		return 0.85
	default:
		return 0.5
	}
}

func scorePrice(value string) float64 {
	switch {
	case rePrice.MatchString(value):
		return 0.9
	case reAnyDigit.MatchString(value):
		return 0.6
	default:
		return 0.3
	}
}
