package shopify

import (
	"fmt"
	"sort"
)

// MetafieldNamespace is where per-field spec data lands on a product.
const MetafieldNamespace = "specs"

// SplitFields partitions a flat field map into the top-level product update
// and the metafields carrying everything else. Field names match Shopify's
// product resource for the handful of top-level fields; all other fields
// become metafields under MetafieldNamespace, sorted by key.
func SplitFields(fields map[string]any) (ProductUpdate, []Metafield) {
	var update ProductUpdate
	var metafields []Metafield

	for field, value := range fields {
		str := fmt.Sprintf("%v", value)
		switch field {
		case "title":
			update.Title = &str
		case "body_html", "description":
			update.BodyHTML = &str
		case "vendor":
			update.Vendor = &str
		case "product_type":
			update.ProductType = &str
		case "tags":
			update.Tags = &str
		default:
			metafields = append(metafields, Metafield{
				Namespace: MetafieldNamespace,
				Key:       field,
				Value:     str,
				Type:      metafieldType(value),
			})
		}
	}

	sort.Slice(metafields, func(i, j int) bool { return metafields[i].Key < metafields[j].Key })
	return update, metafields
}

func metafieldType(value any) string {
	switch value.(type) {
	case bool:
		return "boolean"
	case int, int32, int64:
		return "number_integer"
	case float32, float64:
		return "number_decimal"
	default:
		return "single_line_text_field"
	}
}
