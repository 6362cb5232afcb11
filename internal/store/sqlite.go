package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/capbothers/pim-cli/internal/model"
)

// ErrNotFound is returned when a record lookup matches nothing.
var ErrNotFound = eris.New("store: record not found")

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS staged_records (
	id                 TEXT PRIMARY KEY,
	sku                TEXT NOT NULL,
	target_collection  TEXT NOT NULL,
	status             TEXT NOT NULL DEFAULT 'pending',
	run_id             TEXT NOT NULL DEFAULT '',
	title              TEXT NOT NULL DEFAULT '',
	vendor             TEXT NOT NULL DEFAULT '',
	supplier_name      TEXT NOT NULL DEFAULT '',
	product_url        TEXT NOT NULL DEFAULT '',
	spec_sheet_url     TEXT NOT NULL DEFAULT '',
	shopify_product_id TEXT NOT NULL DEFAULT '',
	extracted_data     TEXT,
	reviewed_data      TEXT,
	confidence         TEXT,
	applied            TEXT,
	error_message      TEXT NOT NULL DEFAULT '',
	created_at         DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at         DATETIME NOT NULL DEFAULT (datetime('now')),
	processed_at       DATETIME,
	approved_at        DATETIME,
	applied_at         DATETIME,
	UNIQUE (sku, target_collection)
);

CREATE INDEX IF NOT EXISTS idx_staged_records_status ON staged_records(status);
CREATE INDEX IF NOT EXISTS idx_staged_records_collection ON staged_records(target_collection);
CREATE INDEX IF NOT EXISTS idx_staged_records_run_id ON staged_records(run_id);
`

const sqliteRecordColumns = `id, sku, target_collection, status, run_id, title, vendor,
	supplier_name, product_url, spec_sheet_url, shopify_product_id,
	extracted_data, reviewed_data, confidence, applied, error_message,
	created_at, updated_at, processed_at, approved_at, applied_at`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Create(ctx context.Context, rec *model.StagedRecord) (*model.StagedRecord, error) {
	out := *rec
	if out.ID == "" {
		out.ID = uuid.New().String()
	}
	if out.Status == "" {
		out.Status = model.StatusPending
	}
	now := time.Now().UTC()
	out.CreatedAt = now
	out.UpdatedAt = now

	extractedJSON, reviewedJSON, confidenceJSON, appliedJSON, err := marshalRecordDocs(&out)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: marshal record")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO staged_records
		 (id, sku, target_collection, status, run_id, title, vendor, supplier_name,
		  product_url, spec_sheet_url, shopify_product_id, extracted_data, reviewed_data,
		  confidence, applied, error_message, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		out.ID, out.SKU, out.TargetCollection, string(out.Status), out.RunID,
		out.Title, out.Vendor, out.SupplierName, out.ProductURL, out.SpecSheetURL,
		out.ShopifyProductID, extractedJSON, reviewedJSON, confidenceJSON, appliedJSON,
		out.ErrorMessage, now, now,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: insert record %s", out.SKU)
	}
	return &out, nil
}

func (s *SQLiteStore) GetByID(ctx context.Context, id string) (*model.StagedRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sqliteRecordColumns+` FROM staged_records WHERE id = ?`, id)
	rec, err := scanSQLiteRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, eris.Wrapf(ErrNotFound, "id %s", id)
		}
		return nil, eris.Wrapf(err, "sqlite: get record %s", id)
	}
	return rec, nil
}

func (s *SQLiteStore) GetBySKU(ctx context.Context, sku, collection string) (*model.StagedRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sqliteRecordColumns+` FROM staged_records WHERE sku = ? AND target_collection = ?`,
		sku, collection)
	rec, err := scanSQLiteRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, eris.Wrapf(ErrNotFound, "sku %s in %s", sku, collection)
		}
		return nil, eris.Wrapf(err, "sqlite: get record sku %s", sku)
	}
	return rec, nil
}

func (s *SQLiteStore) List(ctx context.Context, filter ListFilter) ([]model.StagedRecord, error) {
	query := `SELECT ` + sqliteRecordColumns + ` FROM staged_records WHERE 1=1`
	var args []any

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if filter.Collection != "" {
		query += ` AND target_collection = ?`
		args = append(args, filter.Collection)
	}
	if filter.RunID != "" {
		query += ` AND run_id = ?`
		args = append(args, filter.RunID)
	}
	query += ` ORDER BY created_at DESC, id`

	limit := filter.Limit
	if limit <= 0 {
		limit = 500
	}
	query += ` LIMIT ?`
	args = append(args, limit)
	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list records")
	}
	defer rows.Close()

	var records []model.StagedRecord
	for rows.Next() {
		rec, err := scanSQLiteRecord(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan record")
		}
		records = append(records, *rec)
	}
	return records, eris.Wrap(rows.Err(), "sqlite: list records iterate")
}

func (s *SQLiteStore) UpdateStatus(ctx context.Context, id string, status model.RecordStatus, errMsg string) error {
	now := time.Now().UTC()
	query := `UPDATE staged_records SET status = ?, error_message = ?, updated_at = ?`
	args := []any{string(status), errMsg, now}

	// Lifecycle side-effect timestamps are stamped exactly once, on the
	// transition that reaches the state.
	switch status {
	case model.StatusReady:
		query += `, processed_at = ?`
		args = append(args, now)
	case model.StatusApproved:
		query += `, approved_at = ?`
		args = append(args, now)
	case model.StatusApplied:
		query += `, applied_at = ?`
		args = append(args, now)
	}
	query += ` WHERE id = ?`
	args = append(args, id)

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update status %s", id)
	}
	return checkRowsAffected(res, id)
}

func (s *SQLiteStore) UpdateExtracted(ctx context.Context, id string, data model.FieldMap) error {
	dataJSON, err := json.Marshal(data)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal extracted data")
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE staged_records SET extracted_data = ?, updated_at = ? WHERE id = ?`,
		string(dataJSON), time.Now().UTC(), id)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update extracted %s", id)
	}
	return checkRowsAffected(res, id)
}

func (s *SQLiteStore) UpdateConfidence(ctx context.Context, id string, summary *model.ConfidenceSummary) error {
	summaryJSON, err := json.Marshal(summary)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal confidence")
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE staged_records SET confidence = ?, updated_at = ? WHERE id = ?`,
		string(summaryJSON), time.Now().UTC(), id)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update confidence %s", id)
	}
	return checkRowsAffected(res, id)
}

func (s *SQLiteStore) UpdateReviewed(ctx context.Context, id string, reviewed model.FieldMap) error {
	reviewedJSON, err := json.Marshal(reviewed)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal reviewed data")
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE staged_records SET reviewed_data = ?, updated_at = ? WHERE id = ?`,
		string(reviewedJSON), time.Now().UTC(), id)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update reviewed %s", id)
	}
	return checkRowsAffected(res, id)
}

func (s *SQLiteStore) UpdateApplied(ctx context.Context, id string, applied *model.AppliedFields) error {
	appliedJSON, err := json.Marshal(applied)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal applied fields")
	}
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`UPDATE staged_records SET applied = ?, status = ?, applied_at = ?, updated_at = ? WHERE id = ?`,
		string(appliedJSON), string(model.StatusApplied), now, now, id)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update applied %s", id)
	}
	return checkRowsAffected(res, id)
}

func (s *SQLiteStore) ListNeedingReview(ctx context.Context, collection string) ([]model.StagedRecord, error) {
	records, err := s.List(ctx, ListFilter{Status: model.StatusReady, Collection: collection})
	if err != nil {
		return nil, err
	}
	return filterNeedingReview(records), nil
}

func (s *SQLiteStore) Stats(ctx context.Context) (*Stats, error) {
	stats := &Stats{
		ByStatus:     map[model.RecordStatus]int{},
		ByCollection: map[string]int{},
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT status, target_collection, COUNT(*) FROM staged_records GROUP BY status, target_collection`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: stats")
	}
	defer rows.Close()

	for rows.Next() {
		var status, collection string
		var count int
		if err := rows.Scan(&status, &collection, &count); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan stats")
		}
		stats.ByStatus[model.RecordStatus(status)] += count
		stats.ByCollection[collection] += count
		stats.Total += count
	}
	return stats, eris.Wrap(rows.Err(), "sqlite: stats iterate")
}

// scanner abstracts *sql.Row and *sql.Rows for shared record scanning.
type scanner interface {
	Scan(dest ...any) error
}

func scanSQLiteRecord(row scanner) (*model.StagedRecord, error) {
	var rec model.StagedRecord
	var status string
	var extractedJSON, reviewedJSON, confidenceJSON, appliedJSON sql.NullString
	var processedAt, approvedAt, appliedAt sql.NullTime

	err := row.Scan(
		&rec.ID, &rec.SKU, &rec.TargetCollection, &status, &rec.RunID,
		&rec.Title, &rec.Vendor, &rec.SupplierName, &rec.ProductURL,
		&rec.SpecSheetURL, &rec.ShopifyProductID,
		&extractedJSON, &reviewedJSON, &confidenceJSON, &appliedJSON,
		&rec.ErrorMessage, &rec.CreatedAt, &rec.UpdatedAt,
		&processedAt, &approvedAt, &appliedAt,
	)
	if err != nil {
		return nil, err
	}

	rec.Status = model.RecordStatus(status)
	if processedAt.Valid {
		rec.ProcessedAt = &processedAt.Time
	}
	if approvedAt.Valid {
		rec.ApprovedAt = &approvedAt.Time
	}
	if appliedAt.Valid {
		rec.AppliedAt = &appliedAt.Time
	}

	if err := unmarshalRecordDocs(&rec,
		nullBytes(extractedJSON), nullBytes(reviewedJSON),
		nullBytes(confidenceJSON), nullBytes(appliedJSON)); err != nil {
		return nil, err
	}
	return &rec, nil
}

func nullBytes(s sql.NullString) []byte {
	if !s.Valid || s.String == "" {
		return nil
	}
	return []byte(s.String)
}

func checkRowsAffected(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "id %s", id)
	}
	return nil
}

// marshalRecordDocs serializes the record's JSON sub-documents, emitting nil
// for absent ones so they round-trip as SQL NULL.
func marshalRecordDocs(rec *model.StagedRecord) (extracted, reviewed, confidence, applied any, err error) {
	if rec.ExtractedData != nil {
		b, merr := json.Marshal(rec.ExtractedData)
		if merr != nil {
			return nil, nil, nil, nil, merr
		}
		extracted = string(b)
	}
	if rec.ReviewedData != nil {
		b, merr := json.Marshal(rec.ReviewedData)
		if merr != nil {
			return nil, nil, nil, nil, merr
		}
		reviewed = string(b)
	}
	if rec.Confidence != nil {
		b, merr := json.Marshal(rec.Confidence)
		if merr != nil {
			return nil, nil, nil, nil, merr
		}
		confidence = string(b)
	}
	if rec.Applied != nil {
		b, merr := json.Marshal(rec.Applied)
		if merr != nil {
			return nil, nil, nil, nil, merr
		}
		applied = string(b)
	}
	return extracted, reviewed, confidence, applied, nil
}

func unmarshalRecordDocs(rec *model.StagedRecord, extracted, reviewed, confidence, applied []byte) error {
	if len(extracted) > 0 {
		if err := json.Unmarshal(extracted, &rec.ExtractedData); err != nil {
			return eris.Wrap(err, "store: unmarshal extracted data")
		}
	}
	if len(reviewed) > 0 {
		if err := json.Unmarshal(reviewed, &rec.ReviewedData); err != nil {
			return eris.Wrap(err, "store: unmarshal reviewed data")
		}
	}
	if len(confidence) > 0 {
		rec.Confidence = &model.ConfidenceSummary{}
		if err := json.Unmarshal(confidence, rec.Confidence); err != nil {
			return eris.Wrap(err, "store: unmarshal confidence")
		}
	}
	if len(applied) > 0 {
		rec.Applied = &model.AppliedFields{}
		if err := json.Unmarshal(applied, rec.Applied); err != nil {
			return eris.Wrap(err, "store: unmarshal applied fields")
		}
	}
	return nil
}

// filterNeedingReview keeps records whose summary flagged review fields.
// Records with no summary yet are kept too: they have not been scored, and
// hiding them from review would silently drop work.
func filterNeedingReview(records []model.StagedRecord) []model.StagedRecord {
	var out []model.StagedRecord
	for _, rec := range records {
		if rec.Confidence == nil || len(rec.Confidence.ReviewFields) > 0 {
			out = append(out, rec)
		}
	}
	return out
}
