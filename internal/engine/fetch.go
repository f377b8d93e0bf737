// Package engine provides the shared fetch client and harness used by all
// analysis engines.
package engine

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/haybaler/perception/internal/analysis"
	"github.com/haybaler/perception/internal/ratelimit"
)

// FetchConfig controls the shared page fetcher.
type FetchConfig struct {
	UserAgent string
	Timeout   time.Duration
}

// Page is the result of fetching one resource.
type Page struct {
	URL        string
	FinalURL   string
	StatusCode int
	Headers    http.Header
	Body       []byte
	Duration   time.Duration
}

// OK reports whether the response carried a 2xx status.
func (p Page) OK() bool {
	return p.StatusCode >= 200 && p.StatusCode < 300
}

// Fetcher performs single GETs through a Colly collector with per-host
// pacing and a short retry on transient network conditions. Non-2xx
// responses are data, not errors: engines score them.
type Fetcher struct {
	cfg           FetchConfig
	baseCollector *colly.Collector
	limiter       *ratelimit.Limiter
	retry         analysis.RetryPolicy
}

// NewFetcher builds a Fetcher.
func NewFetcher(cfg FetchConfig, limiter *ratelimit.Limiter, retry analysis.RetryPolicy) *Fetcher {
	if cfg.UserAgent == "" {
		cfg.UserAgent = "perception-bot/1.0 (+https://github.com/haybaler/perception)"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if retry == nil {
		retry = analysis.NewExponentialRetryPolicy()
	}
	c := colly.NewCollector(colly.Async(false))
	c.IgnoreRobotsTxt = true // engines inspect robots.txt themselves
	c.WithTransport(newHTTPTransport())
	return &Fetcher{
		cfg:           cfg,
		baseCollector: c,
		limiter:       limiter,
		retry:         retry,
	}
}

// Fetch executes a GET honoring the context deadline, pacing, and retries.
func (f *Fetcher) Fetch(ctx context.Context, url string) (Page, error) {
	var lastErr error
	for attempt := 0; ; attempt++ {
		if f.limiter != nil {
			if err := f.limiter.Wait(ctx, url); err != nil {
				return Page{}, err
			}
		}
		page, err := f.fetchOnce(ctx, url)
		if err == nil {
			return page, nil
		}
		lastErr = err
		if !f.retry.ShouldRetry(err, attempt) {
			break
		}
		select {
		case <-ctx.Done():
			return Page{}, fmt.Errorf("fetch canceled: %w", ctx.Err())
		case <-time.After(f.retry.Backoff(attempt)):
		}
	}
	return Page{}, lastErr
}

func (f *Fetcher) fetchOnce(ctx context.Context, url string) (Page, error) {
	collector := f.baseCollector.Clone()
	collector.UserAgent = f.cfg.UserAgent
	collector.IgnoreRobotsTxt = true

	timeout := f.cfg.Timeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < timeout {
			timeout = remaining
		}
	}
	if timeout <= 0 {
		return Page{}, fmt.Errorf("fetch %s: %w", url, context.DeadlineExceeded)
	}
	collector.SetRequestTimeout(timeout)

	var (
		result   Page
		fetchErr error
	)
	start := time.Now()

	collector.OnResponse(func(r *colly.Response) {
		result = Page{
			URL:        url,
			FinalURL:   r.Request.URL.String(),
			StatusCode: r.StatusCode,
			Headers:    r.Headers.Clone(),
			Body:       append([]byte(nil), r.Body...),
			Duration:   time.Since(start),
		}
	})

	collector.OnError(func(r *colly.Response, err error) {
		// Colly reports non-2xx statuses through OnError; the status is
		// still an analyzable observation about the target.
		if r != nil && r.StatusCode != 0 {
			headers := http.Header{}
			if r.Headers != nil {
				headers = r.Headers.Clone()
			}
			result = Page{
				URL:        url,
				FinalURL:   r.Request.URL.String(),
				StatusCode: r.StatusCode,
				Headers:    headers,
				Body:       append([]byte(nil), r.Body...),
				Duration:   time.Since(start),
			}
			return
		}
		fetchErr = err
	})

	visitErr := f.runCollector(ctx, collector, url)
	// Visit reports an error for non-2xx statuses too; a populated result
	// means the server answered and the status is the observation.
	if result.StatusCode != 0 {
		return result, nil
	}
	if visitErr != nil {
		return Page{}, visitErr
	}
	if fetchErr != nil {
		return Page{}, fmt.Errorf("fetch %s: %w", url, fetchErr)
	}
	return Page{}, fmt.Errorf("fetch %s: no response", url)
}

func (f *Fetcher) runCollector(ctx context.Context, collector *colly.Collector, url string) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return fmt.Errorf("visit %s: %w", url, err)
		}
		return nil
	}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
