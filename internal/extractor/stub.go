package extractor

import (
	"context"

	"github.com/capbothers/pim-cli/internal/model"
)

// StubExtractor returns canned fields keyed by SKU. Used by tests and the
// dry-run mode of the extract command.
type StubExtractor struct {
	// FieldsBySKU maps SKU to the fields to return. SKUs not present
	// produce a failed result.
	FieldsBySKU map[string]model.FieldMap
}

func (s *StubExtractor) Extract(ctx context.Context, req Request) (*model.ExtractionResult, error) {
	fields, ok := s.FieldsBySKU[req.SKU]
	if !ok || len(fields) == 0 {
		return failedResult(req, "no data extracted"), nil
	}
	return &model.ExtractionResult{
		Success:    true,
		Fields:     fields.Clone(),
		SourceURL:  req.SourceURL,
		Collection: req.Collection,
	}, nil
}

func (s *StubExtractor) ExtractBatch(ctx context.Context, reqs []Request) (map[string]*model.ExtractionResult, error) {
	results := make(map[string]*model.ExtractionResult, len(reqs))
	for _, req := range reqs {
		result, err := s.Extract(ctx, req)
		if err != nil {
			return nil, err
		}
		results[req.SKU] = result
	}
	return results, nil
}
