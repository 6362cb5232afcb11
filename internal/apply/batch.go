package apply

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/capbothers/pim-cli/internal/model"
	"github.com/capbothers/pim-cli/internal/resilience"
	"github.com/capbothers/pim-cli/internal/store"
	"github.com/capbothers/pim-cli/pkg/shopify"
)

// maxReportedErrors caps how many per-record errors a summary carries.
const maxReportedErrors = 10

// Pusher applies approved records to Shopify. A circuit breaker guards the
// API so an outage mid-batch fails the remaining records fast instead of
// hammering a down endpoint.
type Pusher struct {
	store       store.Store
	client      shopify.Client
	threshold   func(collection string) float64
	concurrency int
	breaker     *resilience.CircuitBreaker
}

// NewPusher creates a Pusher. thresholdFor resolves the auto-apply
// confidence threshold per collection.
func NewPusher(st store.Store, client shopify.Client, thresholdFor func(string) float64, concurrency int) *Pusher {
	if concurrency <= 0 {
		concurrency = 4
	}
	return &Pusher{
		store:       st,
		client:      client,
		threshold:   thresholdFor,
		concurrency: concurrency,
		breaker:     resilience.NewCircuitBreaker(resilience.DefaultCircuitBreakerConfig()),
	}
}

// RunSummary reports the outcome of one apply run.
type RunSummary struct {
	Applied int      `json:"applied"`
	Failed  int      `json:"failed"`
	Skipped int      `json:"skipped"`
	Errors  []string `json:"errors,omitempty"`
}

// Run pushes every approved record in the collection (all collections when
// empty). Per-record failures mark that record errored and are reported in
// the summary; they never abort the rest of the batch.
func (p *Pusher) Run(ctx context.Context, collection string, limit int) (*RunSummary, error) {
	records, err := p.store.List(ctx, store.ListFilter{
		Status:     model.StatusApproved,
		Collection: collection,
		Limit:      limit,
	})
	if err != nil {
		return nil, eris.Wrap(err, "apply: list approved")
	}

	summary := &RunSummary{}
	var mu sync.Mutex

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(p.concurrency)

	for i := range records {
		rec := records[i]
		g.Go(func() error {
			outcome, err := p.applyOne(ctx, &rec)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil:
				summary.Failed++
				if len(summary.Errors) < maxReportedErrors {
					summary.Errors = append(summary.Errors, fmt.Sprintf("%s: %v", rec.SKU, err))
				}
			case outcome == nil:
				summary.Skipped++
			default:
				summary.Applied++
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return summary, eris.Wrap(err, "apply: batch")
	}

	zap.L().Info("apply: run complete",
		zap.String("collection", collection),
		zap.Int("applied", summary.Applied),
		zap.Int("failed", summary.Failed),
		zap.Int("skipped", summary.Skipped),
	)
	return summary, nil
}

// RunSKU pushes a single approved record by SKU. Returns the applied field
// report, or nil when the record was skipped by the gate.
func (p *Pusher) RunSKU(ctx context.Context, sku, collection string) (*model.AppliedFields, error) {
	rec, err := p.store.GetBySKU(ctx, sku, collection)
	if err != nil {
		return nil, err
	}
	if rec.Status != model.StatusApproved {
		return nil, eris.Errorf("apply: %s is %s, not approved", sku, rec.Status)
	}
	return p.applyOne(ctx, rec)
}

// applyOne pushes a single record. A nil, nil return means the record was
// skipped (nothing to push or no linked product).
func (p *Pusher) applyOne(ctx context.Context, rec *model.StagedRecord) (*model.AppliedFields, error) {
	if rec.ShopifyProductID == "" {
		zap.L().Warn("apply: record has no product link", zap.String("sku", rec.SKU))
		return nil, nil
	}

	gate := MergeFieldsForShopify(rec, p.threshold(rec.TargetCollection))
	if len(gate.Fields) == 0 {
		zap.L().Info("apply: nothing passed the gate", zap.String("sku", rec.SKU))
		return nil, nil
	}

	if err := p.push(ctx, rec.ShopifyProductID, gate.Fields); err != nil {
		// Transient failures (5xx, 429, open circuit) leave the record
		// approved so the next run picks it up again.
		if resilience.IsTransient(err) || errors.Is(err, resilience.ErrCircuitOpen) {
			zap.L().Warn("apply: transient push failure, record stays approved",
				zap.String("sku", rec.SKU), zap.Error(err))
			return nil, err
		}
		if serr := p.store.UpdateStatus(ctx, rec.ID, model.StatusError, err.Error()); serr != nil {
			zap.L().Error("apply: failed to mark record errored",
				zap.String("sku", rec.SKU), zap.Error(serr))
		}
		return nil, err
	}

	applied := gate.AppliedFields()
	if err := p.store.UpdateApplied(ctx, rec.ID, applied); err != nil {
		return nil, eris.Wrapf(err, "apply: persist applied fields %s", rec.SKU)
	}
	return applied, nil
}

func (p *Pusher) push(ctx context.Context, productID string, fields model.FieldMap) error {
	update, metafields := shopify.SplitFields(fields)

	return p.breaker.Execute(ctx, func(ctx context.Context) error {
		if update != (shopify.ProductUpdate{}) {
			if _, err := p.client.UpdateProduct(ctx, productID, update); err != nil {
				return classifyPushError(err)
			}
		}
		for _, mf := range metafields {
			if err := p.client.SetMetafield(ctx, productID, mf); err != nil {
				return classifyPushError(err)
			}
		}
		return nil
	})
}

// classifyPushError marks retryable Shopify responses as transient so the
// caller (and the circuit breaker) can tell them from permanent rejections
// like a 422 validation error.
func classifyPushError(err error) error {
	var apiErr *shopify.APIError
	if errors.As(err, &apiErr) && resilience.IsTransientHTTPStatus(apiErr.StatusCode) {
		return resilience.NewTransientError(err, apiErr.StatusCode)
	}
	return err
}
