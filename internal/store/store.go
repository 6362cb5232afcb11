// Package store persists staged records and their lifecycle state. Two
// implementations are provided: SQLite for single-operator local use and
// Postgres for shared deployments. JSON sub-documents (extracted data,
// confidence summaries) are marshalled at the storage boundary only; callers
// always see typed model structs.
package store

import (
	"context"

	"github.com/capbothers/pim-cli/internal/model"
)

// ListFilter specifies criteria for listing staged records.
type ListFilter struct {
	Status     model.RecordStatus `json:"status,omitempty"`
	Collection string             `json:"collection,omitempty"`
	RunID      string             `json:"run_id,omitempty"`
	Limit      int                `json:"limit,omitempty"`
	Offset     int                `json:"offset,omitempty"`
}

// Stats summarizes queue occupancy by status and collection.
type Stats struct {
	Total        int                        `json:"total"`
	ByStatus     map[model.RecordStatus]int `json:"by_status"`
	ByCollection map[string]int             `json:"by_collection"`
}

// Store defines the persistence interface for the staging pipeline.
//
// UpdateStatus records lifecycle side effects: moving to ready stamps
// processed_at, approved stamps approved_at, and applied stamps applied_at.
// An empty errMsg clears any previous error message.
type Store interface {
	Create(ctx context.Context, rec *model.StagedRecord) (*model.StagedRecord, error)
	GetByID(ctx context.Context, id string) (*model.StagedRecord, error)
	GetBySKU(ctx context.Context, sku, collection string) (*model.StagedRecord, error)
	List(ctx context.Context, filter ListFilter) ([]model.StagedRecord, error)

	UpdateStatus(ctx context.Context, id string, status model.RecordStatus, errMsg string) error
	UpdateExtracted(ctx context.Context, id string, data model.FieldMap) error
	UpdateConfidence(ctx context.Context, id string, summary *model.ConfidenceSummary) error
	UpdateReviewed(ctx context.Context, id string, reviewed model.FieldMap) error
	UpdateApplied(ctx context.Context, id string, applied *model.AppliedFields) error

	// ListNeedingReview returns records in ready status whose confidence
	// summary flagged at least one field for review.
	ListNeedingReview(ctx context.Context, collection string) ([]model.StagedRecord, error)

	Stats(ctx context.Context) (*Stats, error)

	Migrate(ctx context.Context) error
	Close() error
}
