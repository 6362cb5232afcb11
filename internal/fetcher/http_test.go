package fetcher

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

func newTestFetcher() *HTTPFetcher {
	return NewHTTPFetcher(HTTPOptions{
		UserAgent:  "test-agent",
		Timeout:    5 * time.Second,
		MaxRetries: 3,
	})
}

func TestNewHTTPFetcher_Defaults(t *testing.T) {
	f := NewHTTPFetcher(HTTPOptions{})
	assert.Equal(t, "pim-cli/1.0", f.opts.UserAgent)
	assert.Equal(t, 30*time.Second, f.opts.Timeout)
	assert.Equal(t, 3, f.opts.MaxRetries)
	assert.InDelta(t, float64(defaultHostRPS), f.opts.HostRPS, 0.001)
}

func TestDownload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "test-agent", r.Header.Get("User-Agent"))
		w.Write([]byte("sku,material\nSINK-001,Stainless Steel\n"))
	}))
	defer srv.Close()

	f := newTestFetcher()
	body, err := f.Download(context.Background(), srv.URL+"/feed.csv")
	require.NoError(t, err)
	defer body.Close()

	data, err := io.ReadAll(body)
	require.NoError(t, err)
	assert.Contains(t, string(data), "SINK-001")
}

func TestDownload_Non200(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	f := newTestFetcher()
	_, err := f.Download(context.Background(), srv.URL+"/feed.csv")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected status 403")
}

func TestDownload_4xxNotRetried(t *testing.T) {
	for _, code := range []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusNotFound} {
		t.Run(http.StatusText(code), func(t *testing.T) {
			var attempts atomic.Int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				attempts.Add(1)
				w.WriteHeader(code)
			}))
			defer srv.Close()

			_, err := newTestFetcher().Download(context.Background(), srv.URL+"/feed")
			require.Error(t, err)
			assert.Equal(t, int32(1), attempts.Load())
		})
	}
}

func TestDownload_InvalidURL(t *testing.T) {
	f := newTestFetcher()
	_, err := f.Download(context.Background(), "://invalid-url")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "create request")
}

func TestDownload_ContextCancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	f := newTestFetcher()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.Download(ctx, srv.URL+"/feed")
	require.Error(t, err)
}

func TestDownloadToFile(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("file content here"))
	}))
	defer srv.Close()

	f := newTestFetcher()
	path := filepath.Join(t.TempDir(), "feed.csv")

	n, err := f.DownloadToFile(context.Background(), srv.URL+"/feed.csv", path)
	require.NoError(t, err)
	assert.Equal(t, int64(17), n)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "file content here", string(data))
}

func TestDownloadToFile_CreateFileError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("data"))
	}))
	defer srv.Close()

	f := newTestFetcher()
	_, err := f.DownloadToFile(context.Background(), srv.URL+"/feed", "/nonexistent/dir/feed.csv")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "create file")
}

func TestDownloadToFile_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	f := newTestFetcher()
	_, err := f.DownloadToFile(context.Background(), srv.URL+"/missing", filepath.Join(t.TempDir(), "out"))
	require.Error(t, err)
}

func TestRetryOnServerError(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte("success"))
	}))
	defer srv.Close()

	body, err := newTestFetcher().Download(context.Background(), srv.URL+"/feed")
	require.NoError(t, err)
	defer body.Close()

	data, err := io.ReadAll(body)
	require.NoError(t, err)
	assert.Equal(t, "success", string(data))
	assert.Equal(t, int32(3), attempts.Load())
}

func TestRetryExhausted(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	f := NewHTTPFetcher(HTTPOptions{
		UserAgent:  "test-agent",
		Timeout:    5 * time.Second,
		MaxRetries: 2,
	})

	_, err := f.Download(context.Background(), srv.URL+"/feed")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "all retries exhausted")
}

func TestRetryOnNetworkError(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if attempts.Add(1) < 3 {
			if hj, ok := w.(http.Hijacker); ok {
				conn, _, _ := hj.Hijack()
				conn.Close() //nolint:errcheck
				return
			}
		}
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	f := NewHTTPFetcher(HTTPOptions{
		UserAgent:  "test-agent",
		Timeout:    2 * time.Second,
		MaxRetries: 3,
	})

	body, err := f.Download(context.Background(), srv.URL+"/feed")
	require.NoError(t, err)
	defer body.Close()

	data, err := io.ReadAll(body)
	require.NoError(t, err)
	assert.Equal(t, "ok", string(data))
	assert.GreaterOrEqual(t, attempts.Load(), int32(3))
}

func TestRateLimiting_PinnedHost(t *testing.T) {
	var reqTimes []time.Time
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqTimes = append(reqTimes, time.Now())
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	f := NewHTTPFetcher(HTTPOptions{
		UserAgent:  "test-agent",
		Timeout:    5 * time.Second,
		MaxRetries: 1,
		RateLimiters: map[string]*rate.Limiter{
			srv.Listener.Addr().String(): rate.NewLimiter(2, 1),
		},
	})

	ctx := context.Background()
	for range 3 {
		body, err := f.Download(ctx, srv.URL+"/feed")
		require.NoError(t, err)
		body.Close()
	}

	require.GreaterOrEqual(t, len(reqTimes), 3)
	duration := reqTimes[len(reqTimes)-1].Sub(reqTimes[0])
	assert.GreaterOrEqual(t, duration.Milliseconds(), int64(500), "requests should be rate limited")
}

func TestRateLimiterWaitCancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	// Zero-burst limiter blocks until the context gives up.
	f := NewHTTPFetcher(HTTPOptions{
		UserAgent:  "test-agent",
		MaxRetries: 1,
		RateLimiters: map[string]*rate.Limiter{
			srv.Listener.Addr().String(): rate.NewLimiter(rate.Every(10*time.Second), 0),
		},
	})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := f.Download(ctx, srv.URL+"/feed")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rate limiter wait")
}

func TestDownloadIfChanged_NotModified(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("If-None-Match") == `"etag1"` {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Write([]byte("should not reach"))
	}))
	defer srv.Close()

	f := newTestFetcher()
	body, etag, changed, err := f.DownloadIfChanged(context.Background(), srv.URL+"/feed", `"etag1"`)
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Nil(t, body)
	assert.Equal(t, `"etag1"`, etag)
}

func TestDownloadIfChanged_Changed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("ETag", `"etag2"`)
		w.Write([]byte("new feed rows"))
	}))
	defer srv.Close()

	f := newTestFetcher()
	body, etag, changed, err := f.DownloadIfChanged(context.Background(), srv.URL+"/feed", `"etag1"`)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, `"etag2"`, etag)

	data, err := io.ReadAll(body)
	body.Close()
	require.NoError(t, err)
	assert.Equal(t, "new feed rows", string(data))
}

func TestDownloadIfChanged_NoPriorETag(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get("If-None-Match"))
		w.Header().Set("ETag", `"new-etag"`)
		w.Write([]byte("content"))
	}))
	defer srv.Close()

	f := newTestFetcher()
	body, etag, changed, err := f.DownloadIfChanged(context.Background(), srv.URL+"/feed", "")
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, `"new-etag"`, etag)
	data, _ := io.ReadAll(body)
	body.Close()
	assert.Equal(t, "content", string(data))
}

func TestDownloadIfChanged_Error(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	f := newTestFetcher()
	_, _, _, err := f.DownloadIfChanged(context.Background(), srv.URL+"/feed", `"etag1"`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected status 403")
}

func TestDownloadIfChanged_InvalidURL(t *testing.T) {
	f := newTestFetcher()
	_, _, _, err := f.DownloadIfChanged(context.Background(), "://invalid", "etag")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "create request")
}

func TestBackoff_MaxCap(t *testing.T) {
	f := newTestFetcher()

	// A late attempt would back off for ages without the cap; the short
	// context proves the wait is interruptible.
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	f.backoff(ctx, 20)
	assert.Less(t, time.Since(start), time.Second)
}

func TestBackoff_ContextCancelled(t *testing.T) {
	f := newTestFetcher()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	f.backoff(ctx, 0)
	assert.Less(t, time.Since(start), 100*time.Millisecond)
}

func TestHTTPTransport_PoolingConfig(t *testing.T) {
	f := NewHTTPFetcher(HTTPOptions{UserAgent: "test"})
	transport, ok := f.client.Transport.(*http.Transport)
	require.True(t, ok)
	assert.Equal(t, 10, transport.MaxIdleConnsPerHost)
	assert.Equal(t, 20, transport.MaxConnsPerHost)
}

func TestLimiterFor_PinnedHost(t *testing.T) {
	f := NewHTTPFetcher(HTTPOptions{
		UserAgent: "test",
		RateLimiters: map[string]*rate.Limiter{
			"portal.supplier-a.com": rate.NewLimiter(5, 5),
		},
	})

	lim := f.limiterFor("https://portal.supplier-a.com/export.csv")
	assert.InDelta(t, 5.0, float64(lim.Limit()), 0.001)
}

func TestLimiterFor_UnknownHost(t *testing.T) {
	f := newTestFetcher()
	lim := f.limiterFor("https://unknown-host.com/path")
	require.NotNil(t, lim)
	assert.InDelta(t, 20.0, float64(lim.Limit()), 0.001)
}

func TestLimiterFor_InvalidURL(t *testing.T) {
	f := newTestFetcher()
	assert.NotNil(t, f.limiterFor("://invalid-url"))
}

func TestAdaptiveLimiterFor_CreatesPerHost(t *testing.T) {
	f := NewHTTPFetcher(HTTPOptions{UserAgent: "test"})

	lim := f.adaptiveLimiterFor("https://specs.supplier-a.com/sheets/sink.pdf")
	require.NotNil(t, lim)
	assert.InDelta(t, float64(defaultHostRPS), float64(lim.Limit()), 0.1)

	// Same host shares the limiter; a different host gets its own.
	assert.Same(t, lim, f.adaptiveLimiterFor("https://specs.supplier-a.com/other"))
	assert.NotSame(t, lim, f.adaptiveLimiterFor("https://cdn.supplier-b.com/feed.csv"))
}

func TestAdaptiveLimiterFor_CustomRate(t *testing.T) {
	f := NewHTTPFetcher(HTTPOptions{UserAgent: "test", HostRPS: 10})
	lim := f.adaptiveLimiterFor("https://specs.supplier-a.com/sheet")
	require.NotNil(t, lim)
	assert.InDelta(t, 10.0, float64(lim.Limit()), 0.1)
}

func TestAdaptiveLimiterFor_PinnedHostUsesFixedLimit(t *testing.T) {
	f := NewHTTPFetcher(HTTPOptions{
		UserAgent: "test",
		RateLimiters: map[string]*rate.Limiter{
			"portal.supplier-a.com": rate.NewLimiter(1, 1),
		},
	})

	assert.Nil(t, f.adaptiveLimiterFor("https://portal.supplier-a.com/export"))
}

func TestAdaptiveLimiterFor_InvalidURL(t *testing.T) {
	f := NewHTTPFetcher(HTTPOptions{UserAgent: "test"})
	assert.Nil(t, f.adaptiveLimiterFor("://invalid"))
}

func TestAdaptiveLimiter_OnSuccess_IncreasesRate(t *testing.T) {
	lim := NewAdaptiveLimiter(10, 10)

	lim.OnSuccess()
	assert.InDelta(t, 12.0, float64(lim.Limit()), 0.1)

	lim.OnSuccess()
	assert.InDelta(t, 14.4, float64(lim.Limit()), 0.1)
}

func TestAdaptiveLimiter_OnRateLimit_DecreasesRate(t *testing.T) {
	lim := NewAdaptiveLimiter(10, 10)

	lim.OnRateLimit()
	assert.InDelta(t, 5.0, float64(lim.Limit()), 0.1)

	lim.OnRateLimit()
	assert.InDelta(t, 2.5, float64(lim.Limit()), 0.1)
}

func TestAdaptiveLimiter_OnSuccess_CapsAt2x(t *testing.T) {
	lim := NewAdaptiveLimiter(10, 10)
	for range 20 {
		lim.OnSuccess()
	}
	assert.InDelta(t, 20.0, float64(lim.Limit()), 0.1)
}

func TestAdaptiveLimiter_OnRateLimit_FloorAtQuarter(t *testing.T) {
	lim := NewAdaptiveLimiter(10, 10)
	for range 10 {
		lim.OnRateLimit()
	}
	assert.InDelta(t, 2.5, float64(lim.Limit()), 0.1)
}

func TestAdaptiveLimiter_Wait(t *testing.T) {
	lim := NewAdaptiveLimiter(1000, 10)
	assert.NoError(t, lim.Wait(context.Background()))
}

func TestAdaptiveLimiter_Wait_ContextCancelled(t *testing.T) {
	lim := NewAdaptiveLimiter(0.001, 0)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Error(t, lim.Wait(ctx))
}

func TestDoWithRetry_429_AdaptiveBackoff(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) <= 2 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	f := NewHTTPFetcher(HTTPOptions{
		UserAgent:  "test-agent",
		Timeout:    10 * time.Second,
		MaxRetries: 3,
	})

	// Pre-seed a high-rate adaptive limiter for the test host so the
	// retries do not slow the test down.
	u, _ := url.Parse(srv.URL)
	f.adaptiveLimiters[u.Host] = NewAdaptiveLimiter(100, 100)
	initialRate := f.adaptiveLimiters[u.Host].Limit()

	body, err := f.Download(context.Background(), srv.URL+"/feed")
	require.NoError(t, err)
	defer body.Close()

	data, _ := io.ReadAll(body)
	assert.Equal(t, "ok", string(data))
	assert.Equal(t, int32(3), attempts.Load())

	// Two 429 halvings and one success bump leave the rate below where
	// it started.
	assert.Less(t, float64(f.adaptiveLimiters[u.Host].Limit()), float64(initialRate))
}
