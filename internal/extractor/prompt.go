package extractor

import (
	"fmt"
	"strings"

	"github.com/capbothers/pim-cli/internal/registry"
)

// systemPrompt builds the shared, cacheable part of the extraction prompt
// for a collection: the field list grouped by semantic type plus any
// standardization hints from the schema.
func systemPrompt(schema *registry.CollectionSchema) string {
	var b strings.Builder
	b.WriteString("You extract structured product specifications from supplier documents.\n")
	fmt.Fprintf(&b, "Product collection: %s", schema.Name)
	if schema.Description != "" {
		fmt.Fprintf(&b, " (%s)", schema.Description)
	}
	b.WriteString("\n\nExtract only these fields:\n")

	var dimensions, booleans, others []string
	for _, field := range schema.ExtractionFields {
		switch schema.FieldTypeOf(field) {
		case registry.FieldTypeNumber:
			dimensions = append(dimensions, field)
		case registry.FieldTypeBoolean:
			booleans = append(booleans, field)
		default:
			others = append(others, field)
		}
	}
	writeFieldGroup(&b, "Dimensions and quantities (numeric, include units where shown)", dimensions)
	writeFieldGroup(&b, "Yes/no attributes (answer Yes or No)", booleans)
	writeFieldGroup(&b, "Other attributes", others)

	if schema.StandardizationHints != "" {
		b.WriteString("\nStandardize values as follows:\n")
		b.WriteString(schema.StandardizationHints)
		b.WriteString("\n")
	}

	b.WriteString("\nRespond with a single JSON object mapping field names to values.\n")
	b.WriteString("Omit any field the document does not state. Never guess or estimate.\n")
	return b.String()
}

func writeFieldGroup(b *strings.Builder, label string, fields []string) {
	if len(fields) == 0 {
		return
	}
	fmt.Fprintf(b, "\n%s:\n", label)
	for _, field := range fields {
		fmt.Fprintf(b, "  - %s\n", field)
	}
}

// userPrompt carries the per-product part: title and spec text.
func userPrompt(req Request) string {
	var b strings.Builder
	if req.Title != "" {
		fmt.Fprintf(&b, "Product: %s\n", req.Title)
	}
	if req.SKU != "" {
		fmt.Fprintf(&b, "SKU: %s\n", req.SKU)
	}
	b.WriteString("\nSpecification document:\n")
	b.WriteString(req.SpecText)
	return b.String()
}
