// Package registry loads and indexes per-collection product schemas:
// valid field names, semantic field types, extraction field lists, and
// confidence thresholds.
package registry

import (
	"os"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// DefaultThreshold is the auto-apply confidence threshold used when a
// collection does not configure its own.
const DefaultThreshold = 0.6

// ErrUnknownCollection is returned when a collection name is not configured.
var ErrUnknownCollection = eris.New("registry: unknown collection")

// FieldType is the semantic type of a schema field, used for UI rendering
// and extraction prompt construction.
type FieldType string

const (
	FieldTypeText    FieldType = "text"
	FieldTypeNumber  FieldType = "number"
	FieldTypeBoolean FieldType = "boolean"
)

// CollectionSchema describes one product collection (e.g. sinks, taps).
type CollectionSchema struct {
	Name                string   `yaml:"name"`
	Description         string   `yaml:"description"`
	ConfidenceThreshold float64  `yaml:"confidence_threshold"`
	ExtractionFields    []string `yaml:"extraction_fields"`
	QualityFields       []string `yaml:"quality_fields"`
	ValidFields         []string `yaml:"valid_fields"`
	// StandardizationHints are appended to extraction prompts so the
	// extractor emits the exact enum values the schema expects.
	StandardizationHints string `yaml:"standardization_hints"`

	validSet map[string]bool
}

// ValidFieldSet returns the set of field names this collection recognizes.
// Empty when the collection declares no fields (filtering then fails open).
func (c *CollectionSchema) ValidFieldSet() map[string]bool {
	return c.validSet
}

// FieldTypeOf infers the semantic type of a field from its name.
func (c *CollectionSchema) FieldTypeOf(field string) FieldType {
	lower := strings.ToLower(field)
	if strings.HasPrefix(lower, "is_") || strings.HasPrefix(lower, "has_") || strings.HasPrefix(lower, "includes_") {
		return FieldTypeBoolean
	}
	for _, hint := range []string{"_mm", "width", "depth", "height", "length", "diameter", "capacity", "flow", "litres"} {
		if strings.Contains(lower, hint) {
			return FieldTypeNumber
		}
	}
	if strings.Contains(lower, "year") || strings.Contains(lower, "count") || strings.Contains(lower, "number") {
		return FieldTypeNumber
	}
	return FieldTypeText
}

// Registry is an indexed set of collection schemas.
type Registry struct {
	byName map[string]*CollectionSchema
}

// Load reads collection schemas from a YAML file.
// The file has a top-level "collections" key mapping name -> schema.
func Load(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "registry: read %s", path)
	}
	return Parse(data)
}

// Parse builds a Registry from raw YAML.
func Parse(data []byte) (*Registry, error) {
	var wrapper struct {
		Collections map[string]*CollectionSchema `yaml:"collections"`
	}
	if err := yaml.Unmarshal(data, &wrapper); err != nil {
		return nil, eris.Wrap(err, "registry: parse collections")
	}

	r := &Registry{byName: make(map[string]*CollectionSchema, len(wrapper.Collections))}
	for name, schema := range wrapper.Collections {
		if schema == nil {
			schema = &CollectionSchema{}
		}
		if schema.Name == "" {
			schema.Name = name
		}
		if schema.ConfidenceThreshold == 0 {
			schema.ConfidenceThreshold = DefaultThreshold
		}
		// valid_fields defaults to the union of extraction and quality fields.
		fields := schema.ValidFields
		if len(fields) == 0 {
			fields = append(append([]string{}, schema.ExtractionFields...), schema.QualityFields...)
		}
		schema.validSet = make(map[string]bool, len(fields))
		for _, f := range fields {
			schema.validSet[f] = true
		}
		r.byName[name] = schema
	}
	return r, nil
}

// Get returns the schema for a collection, or ErrUnknownCollection.
func (r *Registry) Get(name string) (*CollectionSchema, error) {
	if schema, ok := r.byName[name]; ok {
		return schema, nil
	}
	return nil, eris.Wrapf(ErrUnknownCollection, "%q", name)
}

// Names returns all configured collection names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.byName))
	for name := range r.byName {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ThresholdFor returns the collection's configured auto-apply threshold,
// falling back to DefaultThreshold for unknown collections so that an
// unrecognized name degrades rather than fails.
func (r *Registry) ThresholdFor(name string) float64 {
	if schema, ok := r.byName[name]; ok {
		return schema.ConfidenceThreshold
	}
	return DefaultThreshold
}
