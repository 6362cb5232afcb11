// Package pipeline drives staged records through extraction and scoring:
// pending records are claimed, their spec documents fetched, fields
// extracted and merged over any prior data, confidence scored, and the
// record parked in ready (or error) for review.
package pipeline

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/capbothers/pim-cli/internal/extractor"
	"github.com/capbothers/pim-cli/internal/fetcher"
	"github.com/capbothers/pim-cli/internal/merge"
	"github.com/capbothers/pim-cli/internal/model"
	"github.com/capbothers/pim-cli/internal/queue"
	"github.com/capbothers/pim-cli/internal/registry"
	"github.com/capbothers/pim-cli/internal/scorer"
	"github.com/capbothers/pim-cli/internal/store"
)

// maxSpecDocBytes caps how much of a spec document is read. Supplier PDFs
// rendered to text stay well under this.
const maxSpecDocBytes = 2 << 20

// maxReportedErrors caps how many per-record errors a summary carries.
const maxReportedErrors = 10

// Runner orchestrates one extract-and-score pass.
type Runner struct {
	store       store.Store
	queue       *queue.Service
	registry    *registry.Registry
	extractor   extractor.Extractor
	http        *fetcher.HTTPFetcher
	concurrency int
	batchSize   int
}

// RunnerOption adjusts runner behavior.
type RunnerOption func(*Runner)

// WithBatchSize routes extraction through the batch API in chunks of n
// records. Sizes below 2 keep the sequential per-record path.
func WithBatchSize(n int) RunnerOption {
	return func(r *Runner) {
		if n > 1 {
			r.batchSize = n
		}
	}
}

// NewRunner wires a Runner from its collaborators.
func NewRunner(st store.Store, reg *registry.Registry, ex extractor.Extractor, concurrency int, opts ...RunnerOption) *Runner {
	if concurrency <= 0 {
		concurrency = 4
	}
	r := &Runner{
		store:       st,
		queue:       queue.New(st),
		registry:    reg,
		extractor:   ex,
		http:        fetcher.NewHTTPFetcher(fetcher.HTTPOptions{}),
		concurrency: concurrency,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RunSummary reports the outcome of one pipeline pass.
type RunSummary struct {
	Processed int      `json:"processed"`
	Ready     int      `json:"ready"`
	Failed    int      `json:"failed"`
	Errors    []string `json:"errors,omitempty"`
}

// Run processes pending records for a collection. Per-record failures move
// that record to error and are tallied; they never abort the pass.
func (r *Runner) Run(ctx context.Context, collection string, limit int) (*RunSummary, error) {
	records, err := r.queue.Pending(ctx, collection, limit)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: list pending")
	}

	if r.batchSize > 1 && len(records) > 1 {
		return r.runBatched(ctx, collection, records)
	}

	summary := &RunSummary{}
	var mu sync.Mutex

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)

	for i := range records {
		rec := records[i]
		g.Go(func() error {
			err := r.processOne(ctx, &rec)

			mu.Lock()
			defer mu.Unlock()
			summary.Processed++
			if err != nil {
				summary.Failed++
				if len(summary.Errors) < maxReportedErrors {
					summary.Errors = append(summary.Errors, fmt.Sprintf("%s: %v", rec.SKU, err))
				}
			} else {
				summary.Ready++
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return summary, eris.Wrap(err, "pipeline: run")
	}

	zap.L().Info("pipeline: pass complete",
		zap.String("collection", collection),
		zap.Int("processed", summary.Processed),
		zap.Int("ready", summary.Ready),
		zap.Int("failed", summary.Failed),
	)
	return summary, nil
}

// processOne takes a record from pending to ready. Any failure parks the
// record in error with the cause and is returned for the summary.
func (r *Runner) processOne(ctx context.Context, rec *model.StagedRecord) error {
	req, schema, err := r.prepare(ctx, rec)
	if err != nil {
		return err
	}

	result, err := r.extractor.Extract(ctx, req)
	if err != nil {
		_, _ = r.queue.Fail(ctx, rec.ID, err)
		return err
	}
	return r.finish(ctx, rec, schema, result)
}

// runBatched prepares all records concurrently, then submits extraction
// through the batch API in chunks of batchSize.
func (r *Runner) runBatched(ctx context.Context, collection string, records []model.StagedRecord) (*RunSummary, error) {
	summary := &RunSummary{}
	var mu sync.Mutex
	tally := func(sku string, err error) {
		mu.Lock()
		defer mu.Unlock()
		summary.Processed++
		if err != nil {
			summary.Failed++
			if len(summary.Errors) < maxReportedErrors {
				summary.Errors = append(summary.Errors, fmt.Sprintf("%s: %v", sku, err))
			}
		} else {
			summary.Ready++
		}
	}

	type prepared struct {
		rec    *model.StagedRecord
		schema *registry.CollectionSchema
		req    extractor.Request
	}
	var (
		prepMu sync.Mutex
		preps  []prepared
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)
	for i := range records {
		rec := &records[i]
		g.Go(func() error {
			req, schema, err := r.prepare(gctx, rec)
			if err != nil {
				tally(rec.SKU, err)
				return nil
			}
			prepMu.Lock()
			preps = append(preps, prepared{rec: rec, schema: schema, req: req})
			prepMu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return summary, eris.Wrap(err, "pipeline: prepare batch")
	}

	for start := 0; start < len(preps); start += r.batchSize {
		end := start + r.batchSize
		if end > len(preps) {
			end = len(preps)
		}
		chunk := preps[start:end]

		reqs := make([]extractor.Request, len(chunk))
		for i, p := range chunk {
			reqs[i] = p.req
		}
		results, err := r.extractor.ExtractBatch(ctx, reqs)
		if err != nil {
			// The whole chunk failed before any result came back.
			wrapped := eris.Wrap(err, "pipeline: extract batch")
			for _, p := range chunk {
				_, _ = r.queue.Fail(ctx, p.rec.ID, wrapped)
				tally(p.rec.SKU, wrapped)
			}
			continue
		}
		for _, p := range chunk {
			result, ok := results[p.rec.SKU]
			if !ok {
				missing := eris.Errorf("pipeline: no batch result for %s", p.rec.SKU)
				_, _ = r.queue.Fail(ctx, p.rec.ID, missing)
				tally(p.rec.SKU, missing)
				continue
			}
			tally(p.rec.SKU, r.finish(ctx, p.rec, p.schema, result))
		}
	}

	zap.L().Info("pipeline: batched pass complete",
		zap.String("collection", collection),
		zap.Int("processed", summary.Processed),
		zap.Int("ready", summary.Ready),
		zap.Int("failed", summary.Failed),
	)
	return summary, nil
}

// prepare claims a record and assembles its extraction request: schema
// lookup, transition to processing, spec document fetch.
func (r *Runner) prepare(ctx context.Context, rec *model.StagedRecord) (extractor.Request, *registry.CollectionSchema, error) {
	schema, err := r.registry.Get(rec.TargetCollection)
	if err != nil {
		_, _ = r.queue.Fail(ctx, rec.ID, err)
		return extractor.Request{}, nil, err
	}

	if _, err := r.queue.Transition(ctx, rec.ID, model.StatusProcessing, ""); err != nil {
		return extractor.Request{}, nil, err
	}

	specText, err := r.fetchSpecText(ctx, rec)
	if err != nil {
		_, _ = r.queue.Fail(ctx, rec.ID, err)
		return extractor.Request{}, nil, err
	}

	return extractor.Request{
		SKU:        rec.SKU,
		Collection: rec.TargetCollection,
		Schema:     schema,
		Title:      rec.Title,
		SpecText:   specText,
		SourceURL:  rec.SpecSheetURL,
	}, schema, nil
}

// finish scores a successful extraction and moves the record to ready.
func (r *Runner) finish(ctx context.Context, rec *model.StagedRecord, schema *registry.CollectionSchema, result *model.ExtractionResult) error {
	if !result.Success {
		failure := eris.Errorf("pipeline: %s", result.Err)
		_, _ = r.queue.Fail(ctx, rec.ID, failure)
		return failure
	}

	if err := r.scoreAndStore(ctx, rec, schema, result.Fields); err != nil {
		_, _ = r.queue.Fail(ctx, rec.ID, err)
		return err
	}

	_, err := r.queue.Transition(ctx, rec.ID, model.StatusReady, "")
	return err
}

// Rescore recomputes a record's confidence summary from its stored
// extracted data, without re-extraction.
func (r *Runner) Rescore(ctx context.Context, sku, collection string) (*model.ConfidenceSummary, error) {
	rec, err := r.store.GetBySKU(ctx, sku, collection)
	if err != nil {
		return nil, err
	}
	schema, err := r.registry.Get(rec.TargetCollection)
	if err != nil {
		return nil, err
	}

	s := scorer.New(schema.ConfidenceThreshold)
	summary := s.ScoreRecord(rec.ExtractedData, schema.ValidFieldSet())
	if err := r.store.UpdateConfidence(ctx, rec.ID, summary); err != nil {
		return nil, err
	}
	return summary, nil
}

// scoreAndStore merges freshly extracted fields over any prior data,
// persists the merged map, and stores the confidence summary.
func (r *Runner) scoreAndStore(ctx context.Context, rec *model.StagedRecord, schema *registry.CollectionSchema, fields model.FieldMap) error {
	s := scorer.New(schema.ConfidenceThreshold)
	filtered := scorer.FilterToSchema(fields, schema.ValidFieldSet())

	fieldConfidence := make(map[string]float64, len(filtered))
	for field, value := range filtered {
		fieldConfidence[field] = s.ScoreField(field, value)
	}

	// Prior extracted data (e.g. the Shopify baseline captured at staging
	// time) is kept; new values fill gaps and fix confident differences.
	merged := merge.ForGapsAndFixes(rec.ExtractedData, filtered, fieldConfidence, merge.Options{
		FillEmpty:           true,
		FixErrors:           true,
		ConfidenceThreshold: schema.ConfidenceThreshold,
	})
	if err := r.store.UpdateExtracted(ctx, rec.ID, merged.Merged); err != nil {
		return err
	}

	summary := s.ScoreRecord(merged.Merged, schema.ValidFieldSet())
	return r.store.UpdateConfidence(ctx, rec.ID, summary)
}

// fetchSpecText retrieves the text the extractor reads: the spec sheet URL
// when present, otherwise the product page.
func (r *Runner) fetchSpecText(ctx context.Context, rec *model.StagedRecord) (string, error) {
	url := rec.SpecSheetURL
	if url == "" {
		url = rec.ProductURL
	}
	if url == "" {
		return "", eris.Errorf("pipeline: %s has no spec sheet or product URL", rec.SKU)
	}

	body, err := r.http.Download(ctx, url)
	if err != nil {
		return "", eris.Wrapf(err, "pipeline: fetch %s", url)
	}
	defer body.Close()

	data, err := io.ReadAll(io.LimitReader(body, maxSpecDocBytes))
	if err != nil {
		return "", eris.Wrapf(err, "pipeline: read %s", url)
	}
	text := strings.TrimSpace(string(data))
	if text == "" {
		return "", eris.Errorf("pipeline: %s returned an empty document", url)
	}
	return text, nil
}
