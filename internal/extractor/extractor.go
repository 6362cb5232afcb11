// Package extractor turns raw supplier spec text into structured product
// fields using Claude. Extraction failures are reported inside the result,
// never as errors: a record with nothing extracted still flows through
// scoring and lands in review rather than vanishing.
package extractor

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/capbothers/pim-cli/internal/model"
	"github.com/capbothers/pim-cli/internal/registry"
	"github.com/capbothers/pim-cli/internal/resilience"
	"github.com/capbothers/pim-cli/pkg/anthropic"
)

// Defaults for the extraction model.
const (
	DefaultModel     = "claude-haiku-4-5-20251001"
	DefaultMaxTokens = 2048
)

// Request describes one extraction job.
type Request struct {
	SKU        string
	Collection string
	Schema     *registry.CollectionSchema
	Title      string
	SpecText   string
	SourceURL  string
}

// Extractor extracts structured fields from supplier spec text.
type Extractor interface {
	Extract(ctx context.Context, req Request) (*model.ExtractionResult, error)
	// ExtractBatch processes many requests through the batch API, returning
	// results keyed by SKU. Per-item failures appear as failed results.
	ExtractBatch(ctx context.Context, reqs []Request) (map[string]*model.ExtractionResult, error)
}

// claudeExtractor implements Extractor over the Anthropic API.
type claudeExtractor struct {
	client    anthropic.Client
	model     string
	maxTokens int64
}

// Option configures the Claude extractor.
type Option func(*claudeExtractor)

// WithModel overrides the extraction model.
func WithModel(model string) Option {
	return func(e *claudeExtractor) {
		if model != "" {
			e.model = model
		}
	}
}

// WithMaxTokens overrides the response token budget.
func WithMaxTokens(n int64) Option {
	return func(e *claudeExtractor) {
		if n > 0 {
			e.maxTokens = n
		}
	}
}

// New creates a Claude-backed extractor.
func New(client anthropic.Client, opts ...Option) Extractor {
	e := &claudeExtractor{
		client:    client,
		model:     DefaultModel,
		maxTokens: DefaultMaxTokens,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *claudeExtractor) Extract(ctx context.Context, req Request) (*model.ExtractionResult, error) {
	if strings.TrimSpace(req.SpecText) == "" {
		return failedResult(req, "no spec text to extract from"), nil
	}

	var resp *anthropic.MessageResponse
	retryCfg := resilience.DefaultRetryConfig()
	retryCfg.OnRetry = resilience.RetryLogger("anthropic", "create_message")
	err := resilience.Do(ctx, retryCfg, func(ctx context.Context) error {
		var apiErr error
		resp, apiErr = e.client.CreateMessage(ctx, e.messageRequest(req))
		return apiErr
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		zap.L().Warn("extractor: api call failed",
			zap.String("sku", req.SKU), zap.Error(err))
		return failedResult(req, err.Error()), nil
	}
	resp.Usage.LogCost(e.model, "extract")

	return e.resultFromText(req, resp.Text()), nil
}

func (e *claudeExtractor) ExtractBatch(ctx context.Context, reqs []Request) (map[string]*model.ExtractionResult, error) {
	results := make(map[string]*model.ExtractionResult, len(reqs))
	if len(reqs) == 0 {
		return results, nil
	}

	// Warm the prompt cache with one sequential request before submitting
	// the batch; every batch item shares the same system prompt.
	primer := e.messageRequest(reqs[0])
	if _, err := anthropic.PrimerRequest(ctx, e.client, primer); err != nil {
		zap.L().Warn("extractor: primer request failed, continuing", zap.Error(err))
	}

	items := make([]anthropic.BatchRequestItem, len(reqs))
	for i, req := range reqs {
		items[i] = anthropic.BatchRequestItem{
			CustomID: req.SKU,
			Params:   e.messageRequest(req),
		}
	}

	batch, err := e.client.CreateBatch(ctx, anthropic.BatchRequest{Requests: items})
	if err != nil {
		return nil, err
	}
	zap.L().Info("extractor: batch submitted",
		zap.String("batch_id", batch.ID), zap.Int("items", len(items)))

	if _, err := anthropic.PollBatch(ctx, e.client, batch.ID); err != nil {
		return nil, err
	}
	iter, err := e.client.GetBatchResults(ctx, batch.ID)
	if err != nil {
		return nil, err
	}
	collected, err := anthropic.CollectBatchResultsDetailed(iter)
	if err != nil {
		return nil, err
	}

	for _, req := range reqs {
		if resp, ok := collected.Succeeded[req.SKU]; ok {
			results[req.SKU] = e.resultFromText(req, resp.Text())
		}
	}
	for _, failure := range collected.Failures {
		for _, req := range reqs {
			if req.SKU == failure.CustomID {
				results[req.SKU] = failedResult(req, fmt.Sprintf("batch item %s", failure.Type))
				break
			}
		}
	}
	return results, nil
}

func (e *claudeExtractor) messageRequest(req Request) anthropic.MessageRequest {
	return anthropic.MessageRequest{
		Model:     e.model,
		MaxTokens: e.maxTokens,
		System:    anthropic.BuildCachedSystemBlocks(systemPrompt(req.Schema)),
		Messages: []anthropic.Message{
			{Role: "user", Content: userPrompt(req)},
		},
	}
}

func (e *claudeExtractor) resultFromText(req Request, text string) *model.ExtractionResult {
	fields, err := ParseFields(text)
	if err != nil {
		zap.L().Warn("extractor: unparseable response",
			zap.String("sku", req.SKU), zap.Error(err))
		return failedResult(req, "no data extracted")
	}
	if len(fields) == 0 {
		return failedResult(req, "no data extracted")
	}
	return &model.ExtractionResult{
		Success:    true,
		Fields:     fields,
		RawText:    text,
		SourceURL:  req.SourceURL,
		Collection: req.Collection,
	}
}

func failedResult(req Request, reason string) *model.ExtractionResult {
	return &model.ExtractionResult{
		Success:    false,
		SourceURL:  req.SourceURL,
		Collection: req.Collection,
		Err:        reason,
	}
}
