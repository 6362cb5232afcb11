// Package review round-trips low-confidence fields through an operator
// spreadsheet. Export produces one row per field needing review; import
// reads the operator's approved values back and stores them as reviewed
// data, which always outranks extracted data downstream.
package review

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
	"go.uber.org/zap"

	"github.com/capbothers/pim-cli/internal/model"
	"github.com/capbothers/pim-cli/internal/scorer"
)

// Columns is the review sheet header, in order. approved_value and notes
// are left blank on export and filled in by the operator.
var Columns = []string{
	"queue_id", "sku", "collection", "title", "supplier_name",
	"product_url", "spec_sheet_url", "field_name", "extracted_value",
	"confidence_score", "reason", "approved_value", "notes",
}

// Row is one field of one record awaiting operator review.
type Row struct {
	QueueID        string
	SKU            string
	Collection     string
	Title          string
	SupplierName   string
	ProductURL     string
	SpecSheetURL   string
	FieldName      string
	ExtractedValue string
	Confidence     float64
	Reason         string
}

// BuildRows selects the fields needing review across the given records.
//
// A record contributes rows when its overall confidence is below the
// collection threshold or when any individual field was flagged for review.
// Fields the operator has already reviewed are excluded so a re-export
// never asks the same question twice.
func BuildRows(records []model.StagedRecord, thresholdFor func(collection string) float64) []Row {
	var rows []Row
	for i := range records {
		rec := &records[i]
		if rec.Confidence == nil {
			continue
		}
		threshold := thresholdFor(rec.TargetCollection)
		if rec.Confidence.OverallConfidence >= threshold && len(rec.Confidence.ReviewFields) == 0 {
			continue
		}

		fields := make([]string, 0, len(rec.Confidence.ReviewFields))
		for field := range rec.Confidence.ReviewFields {
			fields = append(fields, field)
		}
		sort.Strings(fields)

		for _, field := range fields {
			if _, done := rec.ReviewedData[field]; done {
				continue
			}
			value := rec.Confidence.ReviewFields[field]
			confidence := 0.0
			if fs, ok := rec.Confidence.FieldScores[field]; ok {
				confidence = fs.Confidence
			}
			rows = append(rows, Row{
				QueueID:        rec.ID,
				SKU:            rec.SKU,
				Collection:     rec.TargetCollection,
				Title:          rec.Title,
				SupplierName:   rec.SupplierName,
				ProductURL:     rec.ProductURL,
				SpecSheetURL:   rec.SpecSheetURL,
				FieldName:      field,
				ExtractedValue: fmt.Sprintf("%v", value),
				Confidence:     confidence,
				Reason:         scorer.LowConfidenceReason(field, value, confidence),
			})
		}
	}
	return rows
}

// Export writes rows to path, choosing the format from the extension:
// .xlsx gets a spreadsheet, anything else CSV.
func Export(path string, rows []Row) error {
	if strings.EqualFold(filepath.Ext(path), ".xlsx") {
		return WriteXLSX(path, rows)
	}
	f, err := os.Create(path)
	if err != nil {
		return eris.Wrapf(err, "review: create %s", path)
	}
	defer f.Close()
	if err := WriteCSV(f, rows); err != nil {
		return err
	}
	zap.L().Info("review: exported", zap.String("path", path), zap.Int("rows", len(rows)))
	return nil
}

// WriteCSV writes the header and rows in Columns order.
func WriteCSV(w io.Writer, rows []Row) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Columns); err != nil {
		return eris.Wrap(err, "review: write header")
	}
	for _, row := range rows {
		if err := cw.Write(row.strings()); err != nil {
			return eris.Wrapf(err, "review: write row %s/%s", row.SKU, row.FieldName)
		}
	}
	cw.Flush()
	return eris.Wrap(cw.Error(), "review: flush csv")
}

// WriteXLSX writes rows as a single-sheet workbook.
func WriteXLSX(path string, rows []Row) error {
	f := xlsx.NewFile()
	sheet, err := f.AddSheet("Review")
	if err != nil {
		return eris.Wrap(err, "review: add sheet")
	}

	header := sheet.AddRow()
	for _, col := range Columns {
		header.AddCell().SetString(col)
	}
	for _, row := range rows {
		xr := sheet.AddRow()
		for _, cell := range row.strings() {
			xr.AddCell().SetString(cell)
		}
	}

	if err := f.Save(path); err != nil {
		return eris.Wrapf(err, "review: save %s", path)
	}
	zap.L().Info("review: exported", zap.String("path", path), zap.Int("rows", len(rows)))
	return nil
}

func (r Row) strings() []string {
	return []string{
		r.QueueID, r.SKU, r.Collection, r.Title, r.SupplierName,
		r.ProductURL, r.SpecSheetURL, r.FieldName, r.ExtractedValue,
		fmt.Sprintf("%.3f", r.Confidence), r.Reason, "", "",
	}
}
