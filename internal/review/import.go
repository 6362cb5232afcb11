package review

import (
	"context"
	"encoding/csv"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
	"go.uber.org/zap"

	"github.com/capbothers/pim-cli/internal/model"
	"github.com/capbothers/pim-cli/internal/store"
)

// Approval is one operator-approved field value read back from a sheet.
type Approval struct {
	QueueID string
	SKU     string
	Field   string
	Value   string
	Notes   string
}

// ImportSummary reports what an import run changed.
type ImportSummary struct {
	RecordsUpdated int `json:"records_updated"`
	FieldsApplied  int `json:"fields_applied"`
	RowsSkipped    int `json:"rows_skipped"`
}

// Read parses a completed review sheet, choosing the format from the
// extension. Rows without an approved value are ignored; structurally
// malformed rows are skipped and counted, never fatal.
func Read(path string) ([]Approval, int, error) {
	if strings.EqualFold(filepath.Ext(path), ".xlsx") {
		return ReadXLSXSheet(path)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, eris.Wrapf(err, "review: open %s", path)
	}
	defer f.Close()
	return ReadCSV(f)
}

// ReadCSV parses approvals from CSV in Columns order.
func ReadCSV(r io.Reader) ([]Approval, int, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err != nil {
		return nil, 0, eris.Wrap(err, "review: read header")
	}
	idx := columnIndex(header)

	var approvals []Approval
	skipped := 0
	for {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			skipped++
			continue
		}
		approval, ok := rowToApproval(row, idx)
		if !ok {
			skipped++
			continue
		}
		if approval.Value == "" {
			continue
		}
		approvals = append(approvals, approval)
	}
	return approvals, skipped, nil
}

// ReadXLSXSheet parses approvals from the first sheet of a workbook.
func ReadXLSXSheet(path string) ([]Approval, int, error) {
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, 0, eris.Wrapf(err, "review: open %s", path)
	}
	if len(f.Sheets) == 0 {
		return nil, 0, eris.Errorf("review: %s has no sheets", path)
	}
	sheet := f.Sheets[0]
	if len(sheet.Rows) == 0 {
		return nil, 0, nil
	}

	header := make([]string, len(sheet.Rows[0].Cells))
	for i, cell := range sheet.Rows[0].Cells {
		header[i] = cell.String()
	}
	idx := columnIndex(header)

	var approvals []Approval
	skipped := 0
	for _, xr := range sheet.Rows[1:] {
		row := make([]string, len(xr.Cells))
		for i, cell := range xr.Cells {
			row[i] = cell.String()
		}
		approval, ok := rowToApproval(row, idx)
		if !ok {
			skipped++
			continue
		}
		if approval.Value == "" {
			continue
		}
		approvals = append(approvals, approval)
	}
	return approvals, skipped, nil
}

// Apply stores approvals as reviewed data. Approvals are grouped per record
// and merged over any existing reviewed data; when the same field appears
// more than once the last row wins.
func Apply(ctx context.Context, st store.Store, approvals []Approval) (*ImportSummary, error) {
	byRecord := map[string]map[string]string{}
	var order []string
	for _, a := range approvals {
		if byRecord[a.QueueID] == nil {
			byRecord[a.QueueID] = map[string]string{}
			order = append(order, a.QueueID)
		}
		byRecord[a.QueueID][a.Field] = a.Value
	}

	summary := &ImportSummary{}
	for _, id := range order {
		rec, err := st.GetByID(ctx, id)
		if err != nil {
			// Stale queue_id in the sheet; count the whole record as skipped.
			zap.L().Warn("review: unknown record in sheet", zap.String("queue_id", id))
			summary.RowsSkipped += len(byRecord[id])
			continue
		}

		reviewed := rec.ReviewedData.Clone()
		if reviewed == nil {
			reviewed = model.FieldMap{}
		}
		for field, value := range byRecord[id] {
			reviewed[field] = value
			summary.FieldsApplied++
		}
		if err := st.UpdateReviewed(ctx, id, reviewed); err != nil {
			return nil, eris.Wrapf(err, "review: apply approvals for %s", rec.SKU)
		}
		summary.RecordsUpdated++
	}

	zap.L().Info("review: import applied",
		zap.Int("records", summary.RecordsUpdated),
		zap.Int("fields", summary.FieldsApplied),
		zap.Int("skipped", summary.RowsSkipped),
	)
	return summary, nil
}

// Import reads a completed sheet and applies it in one step.
func Import(ctx context.Context, st store.Store, path string) (*ImportSummary, error) {
	approvals, skipped, err := Read(path)
	if err != nil {
		return nil, err
	}
	summary, err := Apply(ctx, st, approvals)
	if err != nil {
		return nil, err
	}
	summary.RowsSkipped += skipped
	return summary, nil
}

func columnIndex(header []string) map[string]int {
	idx := make(map[string]int, len(header))
	for i, name := range header {
		idx[strings.ToLower(strings.TrimSpace(name))] = i
	}
	return idx
}

func rowToApproval(row []string, idx map[string]int) (Approval, bool) {
	get := func(col string) (string, bool) {
		i, ok := idx[col]
		if !ok || i >= len(row) {
			return "", false
		}
		return strings.TrimSpace(row[i]), true
	}

	queueID, ok1 := get("queue_id")
	field, ok2 := get("field_name")
	if !ok1 || !ok2 || queueID == "" || field == "" {
		return Approval{}, false
	}
	sku, _ := get("sku")
	value, _ := get("approved_value")
	notes, _ := get("notes")
	return Approval{QueueID: queueID, SKU: sku, Field: field, Value: value, Notes: notes}, true
}
