package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/capbothers/pim-cli/internal/model"
)

// Pool is the subset of pgxpool.Pool the store uses. Satisfied by
// pgxmock.PgxPoolIface, which keeps the Postgres store unit-testable
// without a live database.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements lists queries to prepare on each new connection for
// faster execution of the most frequently used store operations.
var preparedStatements = map[string]string{
	"get_record_by_id":  `SELECT ` + pgRecordColumns + ` FROM staged_records WHERE id = $1`,
	"get_record_by_sku": `SELECT ` + pgRecordColumns + ` FROM staged_records WHERE sku = $1 AND target_collection = $2`,
	"update_extracted":  `UPDATE staged_records SET extracted_data = $1, updated_at = $2 WHERE id = $3`,
	"update_confidence": `UPDATE staged_records SET confidence = $1, updated_at = $2 WHERE id = $3`,
	"update_reviewed":   `UPDATE staged_records SET reviewed_data = $1, updated_at = $2 WHERE id = $3`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	// Apply pool sizing from config with sensible defaults.
	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	// Prepare frequently-used statements on each new connection.
	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS staged_records (
	id                 TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
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
	extracted_data     JSONB,
	reviewed_data      JSONB,
	confidence         JSONB,
	applied            JSONB,
	error_message      TEXT NOT NULL DEFAULT '',
	created_at         TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at         TIMESTAMPTZ NOT NULL DEFAULT now(),
	processed_at       TIMESTAMPTZ,
	approved_at        TIMESTAMPTZ,
	applied_at         TIMESTAMPTZ,
	UNIQUE (sku, target_collection)
);

CREATE INDEX IF NOT EXISTS idx_staged_records_status ON staged_records(status);
CREATE INDEX IF NOT EXISTS idx_staged_records_collection ON staged_records(target_collection);
CREATE INDEX IF NOT EXISTS idx_staged_records_run_id ON staged_records(run_id);
CREATE INDEX IF NOT EXISTS idx_staged_records_status_collection ON staged_records(status, target_collection);
`

const pgRecordColumns = `id, sku, target_collection, status, run_id, title, vendor,
	supplier_name, product_url, spec_sheet_url, shopify_product_id,
	extracted_data, reviewed_data, confidence, applied, error_message,
	created_at, updated_at, processed_at, approved_at, applied_at`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) Create(ctx context.Context, rec *model.StagedRecord) (*model.StagedRecord, error) {
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
		return nil, eris.Wrap(err, "postgres: marshal record")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO staged_records
		 (id, sku, target_collection, status, run_id, title, vendor, supplier_name,
		  product_url, spec_sheet_url, shopify_product_id, extracted_data, reviewed_data,
		  confidence, applied, error_message, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`,
		out.ID, out.SKU, out.TargetCollection, string(out.Status), out.RunID,
		out.Title, out.Vendor, out.SupplierName, out.ProductURL, out.SpecSheetURL,
		out.ShopifyProductID, extractedJSON, reviewedJSON, confidenceJSON, appliedJSON,
		out.ErrorMessage, now, now,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: insert record %s", out.SKU)
	}
	return &out, nil
}

func (s *PostgresStore) GetByID(ctx context.Context, id string) (*model.StagedRecord, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+pgRecordColumns+` FROM staged_records WHERE id = $1`, id)
	rec, err := scanPostgresRecord(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, eris.Wrapf(ErrNotFound, "id %s", id)
		}
		return nil, eris.Wrapf(err, "postgres: get record %s", id)
	}
	return rec, nil
}

func (s *PostgresStore) GetBySKU(ctx context.Context, sku, collection string) (*model.StagedRecord, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+pgRecordColumns+` FROM staged_records WHERE sku = $1 AND target_collection = $2`,
		sku, collection)
	rec, err := scanPostgresRecord(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, eris.Wrapf(ErrNotFound, "sku %s in %s", sku, collection)
		}
		return nil, eris.Wrapf(err, "postgres: get record sku %s", sku)
	}
	return rec, nil
}

func (s *PostgresStore) List(ctx context.Context, filter ListFilter) ([]model.StagedRecord, error) {
	query := `SELECT ` + pgRecordColumns + ` FROM staged_records WHERE true`
	args := []any{}
	argIdx := 1

	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	if filter.Collection != "" {
		query += fmt.Sprintf(` AND target_collection = $%d`, argIdx)
		args = append(args, filter.Collection)
		argIdx++
	}
	if filter.RunID != "" {
		query += fmt.Sprintf(` AND run_id = $%d`, argIdx)
		args = append(args, filter.RunID)
		argIdx++
	}
	query += ` ORDER BY created_at DESC, id`

	limit := filter.Limit
	if limit <= 0 {
		limit = 500
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list records")
	}
	defer rows.Close()

	var records []model.StagedRecord
	for rows.Next() {
		rec, err := scanPostgresRecord(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan record")
		}
		records = append(records, *rec)
	}
	return records, eris.Wrap(rows.Err(), "postgres: list records iterate")
}

func (s *PostgresStore) UpdateStatus(ctx context.Context, id string, status model.RecordStatus, errMsg string) error {
	now := time.Now().UTC()
	query := `UPDATE staged_records SET status = $1, error_message = $2, updated_at = $3`
	args := []any{string(status), errMsg, now}
	argIdx := 4

	switch status {
	case model.StatusReady:
		query += fmt.Sprintf(`, processed_at = $%d`, argIdx)
		args = append(args, now)
		argIdx++
	case model.StatusApproved:
		query += fmt.Sprintf(`, approved_at = $%d`, argIdx)
		args = append(args, now)
		argIdx++
	case model.StatusApplied:
		query += fmt.Sprintf(`, applied_at = $%d`, argIdx)
		args = append(args, now)
		argIdx++
	}
	query += fmt.Sprintf(` WHERE id = $%d`, argIdx)
	args = append(args, id)

	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return eris.Wrapf(err, "postgres: update status %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "id %s", id)
	}
	return nil
}

func (s *PostgresStore) UpdateExtracted(ctx context.Context, id string, data model.FieldMap) error {
	dataJSON, err := json.Marshal(data)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal extracted data")
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE staged_records SET extracted_data = $1, updated_at = $2 WHERE id = $3`,
		dataJSON, time.Now().UTC(), id)
	if err != nil {
		return eris.Wrapf(err, "postgres: update extracted %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "id %s", id)
	}
	return nil
}

func (s *PostgresStore) UpdateConfidence(ctx context.Context, id string, summary *model.ConfidenceSummary) error {
	summaryJSON, err := json.Marshal(summary)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal confidence")
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE staged_records SET confidence = $1, updated_at = $2 WHERE id = $3`,
		summaryJSON, time.Now().UTC(), id)
	if err != nil {
		return eris.Wrapf(err, "postgres: update confidence %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "id %s", id)
	}
	return nil
}

func (s *PostgresStore) UpdateReviewed(ctx context.Context, id string, reviewed model.FieldMap) error {
	reviewedJSON, err := json.Marshal(reviewed)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal reviewed data")
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE staged_records SET reviewed_data = $1, updated_at = $2 WHERE id = $3`,
		reviewedJSON, time.Now().UTC(), id)
	if err != nil {
		return eris.Wrapf(err, "postgres: update reviewed %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "id %s", id)
	}
	return nil
}

func (s *PostgresStore) UpdateApplied(ctx context.Context, id string, applied *model.AppliedFields) error {
	appliedJSON, err := json.Marshal(applied)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal applied fields")
	}
	now := time.Now().UTC()
	tag, err := s.pool.Exec(ctx,
		`UPDATE staged_records SET applied = $1, status = $2, applied_at = $3, updated_at = $4 WHERE id = $5`,
		appliedJSON, string(model.StatusApplied), now, now, id)
	if err != nil {
		return eris.Wrapf(err, "postgres: update applied %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "id %s", id)
	}
	return nil
}

func (s *PostgresStore) ListNeedingReview(ctx context.Context, collection string) ([]model.StagedRecord, error) {
	records, err := s.List(ctx, ListFilter{Status: model.StatusReady, Collection: collection})
	if err != nil {
		return nil, err
	}
	return filterNeedingReview(records), nil
}

func (s *PostgresStore) Stats(ctx context.Context) (*Stats, error) {
	stats := &Stats{
		ByStatus:     map[model.RecordStatus]int{},
		ByCollection: map[string]int{},
	}

	rows, err := s.pool.Query(ctx,
		`SELECT status, target_collection, COUNT(*) FROM staged_records GROUP BY status, target_collection`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: stats")
	}
	defer rows.Close()

	for rows.Next() {
		var status, collection string
		var count int
		if err := rows.Scan(&status, &collection, &count); err != nil {
			return nil, eris.Wrap(err, "postgres: scan stats")
		}
		stats.ByStatus[model.RecordStatus(status)] += count
		stats.ByCollection[collection] += count
		stats.Total += count
	}
	return stats, eris.Wrap(rows.Err(), "postgres: stats iterate")
}

func scanPostgresRecord(row pgx.Row) (*model.StagedRecord, error) {
	var rec model.StagedRecord
	var status string
	var extractedJSON, reviewedJSON, confidenceJSON, appliedJSON []byte
	var processedAt, approvedAt, appliedAt *time.Time

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
	rec.ProcessedAt = processedAt
	rec.ApprovedAt = approvedAt
	rec.AppliedAt = appliedAt

	if err := unmarshalRecordDocs(&rec, extractedJSON, reviewedJSON, confidenceJSON, appliedJSON); err != nil {
		return nil, err
	}
	return &rec, nil
}
