package model

import "time"

// RecordStatus represents the lifecycle state of a staged record.
type RecordStatus string

const (
	StatusPending    RecordStatus = "pending"
	StatusProcessing RecordStatus = "processing"
	StatusReady      RecordStatus = "ready"
	StatusApproved   RecordStatus = "approved"
	StatusApplied    RecordStatus = "applied"
	StatusError      RecordStatus = "error"
)

// Terminal reports whether no further transitions are allowed from s.
func (s RecordStatus) Terminal() bool {
	return s == StatusApplied || s == StatusError
}

// FieldMap is a flat mapping from field name to a scalar value
// (string, number, bool, or nil). No structural nesting.
type FieldMap map[string]any

// Clone returns a shallow copy of the map. Safe because values are scalars.
func (m FieldMap) Clone() FieldMap {
	if m == nil {
		return nil
	}
	out := make(FieldMap, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// FieldScore is the scored verdict for a single extracted field.
// Immutable once computed for a given (field, value, collection) triple.
type FieldScore struct {
	Value      any     `json:"value"`
	Confidence float64 `json:"confidence"`
	AutoApply  bool    `json:"auto_apply"`
}

// ConfidenceSummary is the aggregate scoring result for one record.
type ConfidenceSummary struct {
	OverallConfidence float64               `json:"overall_confidence"`
	FieldScores       map[string]FieldScore `json:"field_scores"`
	AutoApplyFields   FieldMap              `json:"auto_apply_fields"`
	ReviewFields      FieldMap              `json:"review_fields"`
	Summary           string                `json:"summary"`
	Threshold         float64               `json:"threshold"`
	FilteredFields    int                   `json:"filtered_fields"`
	TotalFields       int                   `json:"total_fields"`
}

// MergeResult holds the outcome of a multi-source merge. Changes are
// human-readable descriptions for audit logging, never machine-parsed.
type MergeResult struct {
	Merged  FieldMap `json:"merged"`
	Changes []string `json:"changes"`
}

// AppliedFields records what was pushed downstream for a record and why.
type AppliedFields struct {
	Fields          []string  `json:"fields"`
	AutoApplied     []string  `json:"auto_applied"`
	ReviewedApplied []string  `json:"reviewed_applied"`
	AppliedAt       time.Time `json:"applied_at"`
}

// StagedRecord is the unit of work moving through the pipeline for one SKU.
// ExtractedData is immutable once set; ReviewedData holds only fields an
// operator touched and always takes precedence over ExtractedData.
type StagedRecord struct {
	ID               string             `json:"id"`
	SKU              string             `json:"sku"`
	TargetCollection string             `json:"target_collection"`
	Status           RecordStatus       `json:"status"`
	RunID            string             `json:"run_id,omitempty"`
	Title            string             `json:"title,omitempty"`
	Vendor           string             `json:"vendor,omitempty"`
	SupplierName     string             `json:"supplier_name,omitempty"`
	ProductURL       string             `json:"product_url,omitempty"`
	SpecSheetURL     string             `json:"spec_sheet_url,omitempty"`
	ShopifyProductID string             `json:"shopify_product_id,omitempty"`
	ExtractedData    FieldMap           `json:"extracted_data,omitempty"`
	ReviewedData     FieldMap           `json:"reviewed_data,omitempty"`
	Confidence       *ConfidenceSummary `json:"confidence_summary,omitempty"`
	Applied          *AppliedFields     `json:"applied_fields,omitempty"`
	ErrorMessage     string             `json:"error_message,omitempty"`
	CreatedAt        time.Time          `json:"created_at"`
	UpdatedAt        time.Time          `json:"updated_at"`
	ProcessedAt      *time.Time         `json:"processed_at,omitempty"`
	ApprovedAt       *time.Time         `json:"approved_at,omitempty"`
	AppliedAt        *time.Time         `json:"applied_at,omitempty"`
}

// EffectiveFields merges extracted and reviewed data, reviewed winning.
func (r *StagedRecord) EffectiveFields() FieldMap {
	merged := r.ExtractedData.Clone()
	if merged == nil {
		merged = FieldMap{}
	}
	for k, v := range r.ReviewedData {
		merged[k] = v
	}
	return merged
}

// ExtractionResult is what the raw extractor collaborator returns.
// A failed extraction is reported via Err, never raised into scoring.
type ExtractionResult struct {
	Success    bool     `json:"success"`
	Fields     FieldMap `json:"fields,omitempty"`
	RawText    string   `json:"raw_text,omitempty"`
	SourceURL  string   `json:"source_url,omitempty"`
	Collection string   `json:"collection,omitempty"`
	Err        string   `json:"error,omitempty"`
}
