// Package shopify provides rate-limited access to the Shopify Admin REST API.
package shopify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"
)

// defaultAPIVersion is the Admin API version requests are pinned to.
const defaultAPIVersion = "2024-01"

// maxRetries bounds retry attempts after a 429 response.
const maxRetries = 3

// Client defines the Shopify Admin API operations used by the pipeline.
type Client interface {
	GetProduct(ctx context.Context, productID string) (*Product, error)
	UpdateProduct(ctx context.Context, productID string, update ProductUpdate) (*Product, error)
	SetMetafield(ctx context.Context, productID string, metafield Metafield) error
	ListMetafields(ctx context.Context, productID string) ([]Metafield, error)
}

// Product is the subset of the Shopify product resource the pipeline reads.
type Product struct {
	ID          int64  `json:"id"`
	Title       string `json:"title"`
	BodyHTML    string `json:"body_html"`
	Vendor      string `json:"vendor"`
	ProductType string `json:"product_type"`
	Tags        string `json:"tags"`
	Handle      string `json:"handle"`
	Status      string `json:"status"`
}

// ProductUpdate carries the top-level product fields to change. Nil pointers
// are omitted so untouched fields stay as they are.
type ProductUpdate struct {
	Title       *string `json:"title,omitempty"`
	BodyHTML    *string `json:"body_html,omitempty"`
	Vendor      *string `json:"vendor,omitempty"`
	ProductType *string `json:"product_type,omitempty"`
	Tags        *string `json:"tags,omitempty"`
}

// Metafield is a namespaced key/value attached to a product.
type Metafield struct {
	ID        int64  `json:"id,omitempty"`
	Namespace string `json:"namespace"`
	Key       string `json:"key"`
	Value     string `json:"value"`
	Type      string `json:"type"`
}

// APIError is returned when Shopify responds with a non-2xx status.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("shopify: HTTP %d: %s", e.StatusCode, e.Body)
}

// Option configures the httpClient.
type Option func(*httpClient)

// WithBaseURL overrides the derived store URL. Used in tests.
func WithBaseURL(url string) Option {
	return func(c *httpClient) {
		c.baseURL = url
	}
}

// WithHTTPClient sets a custom *http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithRateLimit sets a per-second request limit. Shopify's REST bucket
// refills at 2 requests per second for standard plans.
func WithRateLimit(rps float64) Option {
	return func(c *httpClient) {
		if rps > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(rps), max(int(rps), 1))
		}
	}
}

// httpClient implements Client using net/http.
type httpClient struct {
	baseURL     string
	accessToken string
	http        *http.Client
	limiter     *rate.Limiter
}

// NewClient creates a Shopify client for the given store domain
// (e.g. "acme-supply.myshopify.com") and Admin API access token.
func NewClient(storeDomain, accessToken string, opts ...Option) Client {
	c := &httpClient{
		baseURL:     fmt.Sprintf("https://%s/admin/api/%s", storeDomain, defaultAPIVersion),
		accessToken: accessToken,
		http: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		limiter: rate.NewLimiter(rate.Limit(2), 2),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *httpClient) GetProduct(ctx context.Context, productID string) (*Product, error) {
	var resp struct {
		Product Product `json:"product"`
	}
	if err := c.request(ctx, http.MethodGet, fmt.Sprintf("/products/%s.json", productID), nil, &resp); err != nil {
		return nil, eris.Wrap(err, fmt.Sprintf("shopify: get product %s", productID))
	}
	return &resp.Product, nil
}

func (c *httpClient) UpdateProduct(ctx context.Context, productID string, update ProductUpdate) (*Product, error) {
	body := map[string]any{"product": update}
	var resp struct {
		Product Product `json:"product"`
	}
	if err := c.request(ctx, http.MethodPut, fmt.Sprintf("/products/%s.json", productID), body, &resp); err != nil {
		return nil, eris.Wrap(err, fmt.Sprintf("shopify: update product %s", productID))
	}
	return &resp.Product, nil
}

func (c *httpClient) SetMetafield(ctx context.Context, productID string, metafield Metafield) error {
	body := map[string]any{"metafield": metafield}
	var resp struct {
		Metafield Metafield `json:"metafield"`
	}
	err := c.request(ctx, http.MethodPost, fmt.Sprintf("/products/%s/metafields.json", productID), body, &resp)
	return eris.Wrap(err, fmt.Sprintf("shopify: set metafield %s.%s on %s", metafield.Namespace, metafield.Key, productID))
}

func (c *httpClient) ListMetafields(ctx context.Context, productID string) ([]Metafield, error) {
	var resp struct {
		Metafields []Metafield `json:"metafields"`
	}
	if err := c.request(ctx, http.MethodGet, fmt.Sprintf("/products/%s/metafields.json", productID), nil, &resp); err != nil {
		return nil, eris.Wrap(err, fmt.Sprintf("shopify: list metafields %s", productID))
	}
	return resp.Metafields, nil
}

// request performs one API call, honoring the rate limiter and retrying
// when Shopify's leaky bucket overflows with a 429.
func (c *httpClient) request(ctx context.Context, method, path string, body, out any) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return eris.Wrap(err, "marshal request")
		}
	}

	for attempt := 0; ; attempt++ {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return eris.Wrap(err, "rate limit")
			}
		}

		var reader io.Reader
		if payload != nil {
			reader = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
		if err != nil {
			return eris.Wrap(err, "create request")
		}
		req.Header.Set("X-Shopify-Access-Token", c.accessToken)
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		retry, err := c.do(req, out)
		if err == nil {
			return nil
		}
		if !retry || attempt >= maxRetries {
			return err
		}

		select {
		case <-time.After(retryDelay(err)):
		case <-ctx.Done():
			return eris.Wrap(ctx.Err(), "retry wait")
		}
	}
}

func (c *httpClient) do(req *http.Request, out any) (retry bool, err error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return false, eris.Wrap(err, "execute request")
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return false, eris.Wrap(err, "read response body")
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: resp.Header.Get("Retry-After")}
		return true, apiErr
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return false, &APIError{StatusCode: resp.StatusCode, Body: string(data)}
	}

	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return false, eris.Wrap(err, "decode response")
		}
	}
	return false, nil
}

// retryDelay derives the backoff from a 429's Retry-After header,
// defaulting to one second.
func retryDelay(err error) time.Duration {
	apiErr, ok := err.(*APIError)
	if !ok {
		return time.Second
	}
	if secs, perr := strconv.ParseFloat(apiErr.Body, 64); perr == nil && secs > 0 {
		return time.Duration(secs * float64(time.Second))
	}
	return time.Second
}
