// Package feed imports supplier product feeds into the staging queue.
// Feeds arrive over HTTP, FTP, or the local filesystem, in CSV, XLSX,
// XML, or JSON, optionally zipped. Every imported record starts pending.
package feed

import (
	"path/filepath"
	"strings"
)

// Source describes one supplier feed. Loaded from the feeds section of the
// schema config file.
type Source struct {
	Name       string `yaml:"name"`
	Collection string `yaml:"collection"`
	// URL accepts http(s)://, ftp://, or a local file path.
	URL    string `yaml:"url"`
	Format string `yaml:"format"` // csv, xlsx, xml, json; inferred from the extension when empty

	// CSV / XLSX options.
	Delimiter string `yaml:"delimiter"`
	SheetName string `yaml:"sheet_name"`
	SkipRows  int    `yaml:"skip_rows"`

	// XMLElement names the per-product element in XML feeds. Default "product".
	XMLElement string `yaml:"xml_element"`

	// ArchiveEntry names the file to import when a zipped feed bundles
	// several exports. Empty means the archive holds exactly one file.
	ArchiveEntry string `yaml:"archive_entry"`

	// ETag from the previous import of this feed. When set, HTTP sources
	// are fetched conditionally and an unchanged feed is skipped.
	ETag string `yaml:"etag"`

	// Mapping maps record attributes (sku, title, vendor, supplier_name,
	// product_url, spec_sheet_url, shopify_product_id) to feed column
	// names. Unmapped attributes use the attribute name as the column.
	Mapping map[string]string `yaml:"mapping"`
}

// recordAttributes are the staged-record attributes a feed can populate.
var recordAttributes = []string{
	"sku", "title", "vendor", "supplier_name",
	"product_url", "spec_sheet_url", "shopify_product_id",
}

// column resolves the feed column name for a record attribute.
func (s Source) column(attr string) string {
	if col, ok := s.Mapping[attr]; ok && col != "" {
		return col
	}
	return attr
}

// format resolves the feed format, preferring the explicit setting and
// falling back to the file extension (after unwrapping .zip).
func (s Source) format(path string) string {
	if s.Format != "" {
		return strings.ToLower(s.Format)
	}
	return strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
}
