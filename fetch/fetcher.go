// Package fetch issues HTTP requests to the marketplace with jitter, request
// pacing, per-request timeouts and exponential-backoff retries.
package fetch

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"toribot/metrics"
	"toribot/utils"
)

const defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 " +
	"(KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// Error describes a failed fetch. Transient errors (timeouts, connection
// resets, 5xx, 429) are retried; the rest fail immediately.
type Error struct {
	URL       string
	Status    int
	Transient bool
	Err       error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
	}
	return fmt.Sprintf("fetch %s: status %d", e.URL, e.Status)
}

func (e *Error) Unwrap() error { return e.Err }

// Retryable implements the classification hook of utils.RetryConfig.
func (e *Error) Retryable() bool { return e.Transient }

// Options carries the per-request knobs, taken from a settings snapshot so a
// settings update applies on the next cycle.
type Options struct {
	Timeout    time.Duration
	MaxRetries int
	BaseDelay  time.Duration // first back-off delay; doubles per attempt
	MaxDelay   time.Duration // back-off cap
	MaxJitter  time.Duration // randomized pre-request delay in [0, MaxJitter)
	UserAgent  string
}

func (o Options) withDefaults() Options {
	if o.Timeout <= 0 {
		o.Timeout = 15 * time.Second
	}
	if o.BaseDelay <= 0 {
		o.BaseDelay = time.Second
	}
	if o.MaxDelay <= 0 {
		o.MaxDelay = 30 * time.Second
	}
	if o.UserAgent == "" {
		o.UserAgent = defaultUserAgent
	}
	return o
}

// PageFetcher retrieves one URL and returns the response status and body.
// Implementations must be safe for concurrent use.
type PageFetcher interface {
	Get(ctx context.Context, url string, opts Options) (int, []byte, error)
}

// Fetcher is the plain-HTTP PageFetcher. A shared token bucket paces all
// outbound requests regardless of which loop issues them.
type Fetcher struct {
	client  *http.Client
	limiter *rate.Limiter
	metrics *metrics.Metrics
	logger  *utils.Logger
}

// New creates a Fetcher. limiter and m may be nil (no pacing, no counters).
func New(limiter *rate.Limiter, m *metrics.Metrics, logger *utils.Logger) *Fetcher {
	return &Fetcher{
		// Per-request timeouts come from Options via the request context.
		client:  &http.Client{},
		limiter: limiter,
		metrics: m,
		logger:  logger,
	}
}

// Get fetches url. It sleeps a random jitter interval, waits for the rate
// limiter, then attempts the request up to MaxRetries+1 times with doubling
// back-off. Non-2xx statuses other than 429/5xx fail without retry.
func (f *Fetcher) Get(ctx context.Context, url string, opts Options) (int, []byte, error) {
	opts = opts.withDefaults()

	if opts.MaxJitter > 0 {
		select {
		case <-ctx.Done():
			return 0, nil, ctx.Err()
		case <-time.After(time.Duration(rand.Int63n(int64(opts.MaxJitter)))):
		}
	}

	if f.limiter != nil {
		if err := f.limiter.Wait(ctx); err != nil {
			return 0, nil, err
		}
	}

	var status int
	var body []byte

	retrier := &utils.RetryConfig{
		MaxAttempts: opts.MaxRetries + 1,
		BaseDelay:   opts.BaseDelay,
		MaxDelay:    opts.MaxDelay,
		Logger:      f.logger,
	}

	attempt := 0
	err := retrier.Do(ctx, "GET "+url, func() error {
		attempt++
		if f.metrics != nil {
			f.metrics.FetchAttempts.Inc()
			if attempt > 1 {
				f.metrics.FetchRetries.Inc()
			}
		}

		st, b, err := f.doOnce(ctx, url, opts)
		if err != nil {
			return err
		}
		status, body = st, b
		return nil
	})

	if err != nil {
		if f.metrics != nil {
			f.metrics.FetchFailures.Inc()
		}
		return status, nil, err
	}
	return status, body, nil
}

func (f *Fetcher) doOnce(ctx context.Context, url string, opts Options) (int, []byte, error) {
	reqCtx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
	if err != nil {
		// Malformed URL; retrying cannot help.
		return 0, nil, &Error{URL: url, Err: err, Transient: false}
	}
	req.Header.Set("User-Agent", opts.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/json;q=0.9,*/*;q=0.8")

	resp, err := f.client.Do(req)
	if err != nil {
		// Timeouts and connection errors are transient.
		return 0, nil, &Error{URL: url, Err: err, Transient: true}
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, &Error{URL: url, Err: err, Transient: true}
	}

	switch {
	case resp.StatusCode >= 500, resp.StatusCode == http.StatusTooManyRequests:
		return resp.StatusCode, nil, &Error{URL: url, Status: resp.StatusCode, Transient: true}
	case resp.StatusCode >= 400:
		return resp.StatusCode, nil, &Error{URL: url, Status: resp.StatusCode, Transient: false}
	}

	return resp.StatusCode, b, nil
}
