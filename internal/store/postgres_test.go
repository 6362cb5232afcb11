package store

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capbothers/pim-cli/internal/model"
)

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	s := &PostgresStore{pool: mock}
	return s, mock
}

func TestPostgresStore_GetByID_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT .+ FROM staged_records WHERE id = \$1`).
		WithArgs("nonexistent-id").
		WillReturnError(pgx.ErrNoRows)

	_, err := s.GetByID(context.Background(), "nonexistent-id")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetBySKU_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT .+ FROM staged_records WHERE sku = \$1 AND target_collection = \$2`).
		WithArgs("SINK-404", "sinks").
		WillReturnError(pgx.ErrNoRows)

	_, err := s.GetBySKU(context.Background(), "SINK-404", "sinks")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Create_Insert(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO staged_records`).
		WithArgs(pgxmock.AnyArg(), "SINK-001", "sinks", "pending", "",
			"Undermount Sink", "", "", "", "", "",
			pgxmock.AnyArg(), nil, nil, nil, "", pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	rec, err := s.Create(context.Background(), &model.StagedRecord{
		SKU:              "SINK-001",
		TargetCollection: "sinks",
		Title:            "Undermount Sink",
		ExtractedData:    model.FieldMap{"material": "Brass"},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, rec.ID)
	assert.Equal(t, model.StatusPending, rec.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpdateStatus_ReadyStampsProcessedAt(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE staged_records SET status = \$1, error_message = \$2, updated_at = \$3, processed_at = \$4 WHERE id = \$5`).
		WithArgs("ready", "", pgxmock.AnyArg(), pgxmock.AnyArg(), "rec-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err := s.UpdateStatus(context.Background(), "rec-1", model.StatusReady, "")
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpdateStatus_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE staged_records SET status`).
		WithArgs("processing", "", pgxmock.AnyArg(), "missing").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := s.UpdateStatus(context.Background(), "missing", model.StatusProcessing, "")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpdateApplied_SetsStatusAndTimestamp(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE staged_records SET applied = \$1, status = \$2, applied_at = \$3, updated_at = \$4 WHERE id = \$5`).
		WithArgs(pgxmock.AnyArg(), "applied", pgxmock.AnyArg(), pgxmock.AnyArg(), "rec-2").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err := s.UpdateApplied(context.Background(), "rec-2", &model.AppliedFields{
		Fields:      []string{"material"},
		AutoApplied: []string{"material"},
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Stats(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	rows := pgxmock.NewRows([]string{"status", "target_collection", "count"}).
		AddRow("pending", "sinks", 3).
		AddRow("ready", "sinks", 2).
		AddRow("ready", "taps", 1)
	mock.ExpectQuery(`SELECT status, target_collection, COUNT`).
		WillReturnRows(rows)

	stats, err := s.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 6, stats.Total)
	assert.Equal(t, 3, stats.ByStatus[model.StatusPending])
	assert.Equal(t, 3, stats.ByStatus[model.StatusReady])
	assert.Equal(t, 5, stats.ByCollection["sinks"])
	assert.NoError(t, mock.ExpectationsWereMet())
}
