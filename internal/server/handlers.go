package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/capbothers/pim-cli/internal/model"
	"github.com/capbothers/pim-cli/internal/queue"
	"github.com/capbothers/pim-cli/internal/registry"
	"github.com/capbothers/pim-cli/internal/store"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleListQueue lists staged records, filtered by the status, collection,
// run_id, and limit query parameters.
func (s *Server) handleListQueue(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	filter := store.ListFilter{
		Collection: q.Get("collection"),
		RunID:      q.Get("run_id"),
	}
	if raw := q.Get("status"); raw != "" {
		status, err := queue.Normalize(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		filter.Status = status
	}
	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		filter.Limit = limit
	}

	records, err := s.store.List(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"records": records,
		"count":   len(records),
	})
}

func (s *Server) handleQueueStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.Stats(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// getRecord resolves the record addressed by the sku path parameter and the
// collection query parameter.
func (s *Server) getRecord(w http.ResponseWriter, r *http.Request) *model.StagedRecord {
	sku := chi.URLParam(r, "sku")
	collection := r.URL.Query().Get("collection")
	if collection == "" {
		writeError(w, http.StatusBadRequest, "collection query parameter is required")
		return nil
	}

	rec, err := s.store.GetBySKU(r.Context(), sku, collection)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "record not found")
		} else {
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return nil
	}
	return rec
}

func (s *Server) handleGetRecord(w http.ResponseWriter, r *http.Request) {
	if rec := s.getRecord(w, r); rec != nil {
		writeJSON(w, http.StatusOK, rec)
	}
}

// handleReview merges reviewer-corrected field values into the record's
// reviewed data. Values already reviewed are overwritten; extracted data is
// never touched.
func (s *Server) handleReview(w http.ResponseWriter, r *http.Request) {
	rec := s.getRecord(w, r)
	if rec == nil {
		return
	}

	var body struct {
		Fields model.FieldMap `json:"fields"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(body.Fields) == 0 {
		writeError(w, http.StatusBadRequest, "fields is required")
		return
	}

	reviewed := rec.ReviewedData.Clone()
	if reviewed == nil {
		reviewed = model.FieldMap{}
	}
	for field, value := range body.Fields {
		reviewed[field] = value
	}

	if err := s.store.UpdateReviewed(r.Context(), rec.ID, reviewed); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	zap.L().Info("server: record reviewed",
		zap.String("sku", rec.SKU),
		zap.Int("fields", len(body.Fields)),
	)

	updated, err := s.store.GetByID(r.Context(), rec.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

// handleApprove moves a ready record to approved.
func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	rec := s.getRecord(w, r)
	if rec == nil {
		return
	}

	updated, err := s.queue.Transition(r.Context(), rec.ID, model.StatusApproved, "")
	if err != nil {
		if errors.Is(err, queue.ErrInvalidTransition) {
			writeError(w, http.StatusConflict, err.Error())
		} else {
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) handleSchema(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "collection")
	schema, err := s.registry.Get(name)
	if err != nil {
		if errors.Is(err, registry.ErrUnknownCollection) {
			writeError(w, http.StatusNotFound, err.Error())
		} else {
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}

	fieldTypes := make(map[string]registry.FieldType, len(schema.ExtractionFields))
	for _, field := range schema.ExtractionFields {
		fieldTypes[field] = schema.FieldTypeOf(field)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"name":                 schema.Name,
		"description":          schema.Description,
		"confidence_threshold": schema.ConfidenceThreshold,
		"extraction_fields":    schema.ExtractionFields,
		"field_types":          fieldTypes,
	})
}
