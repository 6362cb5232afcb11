// Package queue enforces the staged-record lifecycle on top of the store.
//
// Records move pending -> processing -> ready -> approved -> applied, one
// step at a time. Any non-terminal state may fall to error. Applied and
// error are terminal; the only way out of error is an explicit Retry.
package queue

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/capbothers/pim-cli/internal/model"
	"github.com/capbothers/pim-cli/internal/store"
)

// ErrInvalidTransition is returned when a requested status change would
// skip a lifecycle step or leave a terminal state.
var ErrInvalidTransition = eris.New("queue: invalid transition")

// statusAliases maps legacy status spellings still present in old feed
// exports onto the canonical set.
var statusAliases = map[string]model.RecordStatus{
	"extracting": model.StatusProcessing,
}

// nextStatus holds the single allowed forward step from each state.
var nextStatus = map[model.RecordStatus]model.RecordStatus{
	model.StatusPending:    model.StatusProcessing,
	model.StatusProcessing: model.StatusReady,
	model.StatusReady:      model.StatusApproved,
	model.StatusApproved:   model.StatusApplied,
}

// Normalize parses a status string, accepting known aliases.
func Normalize(raw string) (model.RecordStatus, error) {
	s := model.RecordStatus(strings.ToLower(strings.TrimSpace(raw)))
	if alias, ok := statusAliases[string(s)]; ok {
		return alias, nil
	}
	switch s {
	case model.StatusPending, model.StatusProcessing, model.StatusReady,
		model.StatusApproved, model.StatusApplied, model.StatusError:
		return s, nil
	}
	return "", eris.Errorf("queue: unknown status %q", raw)
}

// CanTransition reports whether from -> to is a legal lifecycle step.
// Same-state transitions are legal (and are no-ops when executed).
func CanTransition(from, to model.RecordStatus) bool {
	if from == to {
		return true
	}
	if from.Terminal() {
		return false
	}
	if to == model.StatusError {
		return true
	}
	return nextStatus[from] == to
}

// Service applies lifecycle rules to records in the store.
type Service struct {
	store store.Store
}

// New creates a queue service over the given store.
func New(st store.Store) *Service {
	return &Service{store: st}
}

// Enqueue stages a new record in pending status.
func (s *Service) Enqueue(ctx context.Context, rec *model.StagedRecord) (*model.StagedRecord, error) {
	rec.Status = model.StatusPending
	created, err := s.store.Create(ctx, rec)
	if err != nil {
		return nil, eris.Wrapf(err, "queue: enqueue %s", rec.SKU)
	}
	zap.L().Info("queue: record staged",
		zap.String("sku", created.SKU),
		zap.String("collection", created.TargetCollection),
	)
	return created, nil
}

// Transition moves a record to the given status, enforcing lifecycle order.
// Transitioning a record to its current status is an idempotent no-op.
// errMsg is recorded only on error transitions.
func (s *Service) Transition(ctx context.Context, id string, to model.RecordStatus, errMsg string) (*model.StagedRecord, error) {
	rec, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if rec.Status == to {
		return rec, nil
	}
	if !CanTransition(rec.Status, to) {
		return nil, eris.Wrapf(ErrInvalidTransition, "%s -> %s for %s", rec.Status, to, rec.SKU)
	}

	if to != model.StatusError {
		errMsg = ""
	}
	if err := s.store.UpdateStatus(ctx, id, to, errMsg); err != nil {
		return nil, err
	}

	zap.L().Info("queue: status changed",
		zap.String("sku", rec.SKU),
		zap.String("from", string(rec.Status)),
		zap.String("to", string(to)),
	)
	return s.store.GetByID(ctx, id)
}

// Fail moves a record to error with the given message. Failing an
// already-failed record updates nothing.
func (s *Service) Fail(ctx context.Context, id string, cause error) (*model.StagedRecord, error) {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	return s.Transition(ctx, id, model.StatusError, msg)
}

// Retry resets an errored record to pending so the pipeline picks it up
// again. This is the only permitted exit from a terminal state; applied
// records can never be retried.
func (s *Service) Retry(ctx context.Context, id string) (*model.StagedRecord, error) {
	rec, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec.Status != model.StatusError {
		return nil, eris.Wrapf(ErrInvalidTransition, "retry from %s for %s", rec.Status, rec.SKU)
	}
	if err := s.store.UpdateStatus(ctx, id, model.StatusPending, ""); err != nil {
		return nil, err
	}
	return s.store.GetByID(ctx, id)
}

// Pending lists records awaiting extraction for a collection.
func (s *Service) Pending(ctx context.Context, collection string, limit int) ([]model.StagedRecord, error) {
	return s.store.List(ctx, store.ListFilter{
		Status:     model.StatusPending,
		Collection: collection,
		Limit:      limit,
	})
}

// Stats returns queue occupancy counts.
func (s *Service) Stats(ctx context.Context) (*store.Stats, error) {
	return s.store.Stats(ctx)
}
