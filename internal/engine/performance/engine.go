// Package performance measures Core Web Vitals through the PageSpeed Insights
// API, falling back to direct load-time measurement when no API key is
// configured or the API is unavailable.
package performance

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/haybaler/perception/internal/analysis"
	"github.com/haybaler/perception/internal/engine"
)

// DefaultAPIURL is the PageSpeed Insights endpoint.
const DefaultAPIURL = "https://www.googleapis.com/pagespeedonline/v5/runPagespeed"

// Core Web Vitals thresholds per the Google definitions.
const (
	lcpGoodSeconds = 2.5
	lcpPoorSeconds = 4.0
	inpGoodMillis  = 200
	inpPoorMillis  = 500
	clsGood        = 0.1
	clsPoor        = 0.25
)

// Config controls the performance engine.
type Config struct {
	// APIKey enables PageSpeed Insights lookups when set.
	APIKey string
	// APIURL overrides the PageSpeed endpoint. Used in tests.
	APIURL string
	// APITimeout bounds one PageSpeed call. The API is slow; default 60s.
	APITimeout time.Duration
}

// Engine implements Core Web Vitals analysis.
type Engine struct {
	cfg     Config
	client  *http.Client
	fetcher *engine.Fetcher
	clock   analysis.Clock
}

// New builds a performance Engine. The fetcher serves the fallback path when
// PageSpeed data cannot be obtained.
func New(cfg Config, fetcher *engine.Fetcher, clock analysis.Clock) *Engine {
	if cfg.APIURL == "" {
		cfg.APIURL = DefaultAPIURL
	}
	if cfg.APITimeout <= 0 {
		cfg.APITimeout = 60 * time.Second
	}
	return &Engine{
		cfg:     cfg,
		client:  &http.Client{Timeout: cfg.APITimeout},
		fetcher: fetcher,
		clock:   clock,
	}
}

// Name returns the registry name.
func (e *Engine) Name() analysis.EngineName {
	return analysis.EnginePerformance
}

// vitals holds the mobile-strategy Core Web Vitals the score derives from.
// Estimated is set on the fallback path, where load time stands in for LCP
// and interactivity metrics are unavailable.
type vitals struct {
	lcpSeconds float64
	inpMillis  float64
	cls        float64
	estimated  bool
}

// Analyze obtains Core Web Vitals for the URL. PageSpeed data is preferred;
// direct measurement is the fallback. Only a failure of both paths is an
// engine error.
func (e *Engine) Analyze(ctx context.Context, rawURL string) (analysis.EngineOutcome, error) {
	start := e.clock.Now()

	var (
		v   vitals
		err error
	)
	if e.cfg.APIKey != "" {
		v, err = e.fetchPageSpeed(ctx, rawURL)
	}
	if e.cfg.APIKey == "" || err != nil {
		v, err = e.measureDirect(ctx, rawURL)
		if err != nil {
			return analysis.EngineOutcome{}, fmt.Errorf("measure page: %w", err)
		}
	}

	outcome := analysis.EngineOutcome{
		Engine:          analysis.EnginePerformance,
		Status:          analysis.OutcomeSuccess,
		Score:           score(v),
		Recommendations: recommendations(v),
		ExecutionTime:   e.clock.Now().Sub(start),
		AnalyzedAt:      start,
	}
	return outcome, nil
}

type pagespeedResponse struct {
	LighthouseResult struct {
		Audits map[string]struct {
			NumericValue float64 `json:"numericValue"`
			DisplayValue string  `json:"displayValue"`
		} `json:"audits"`
	} `json:"lighthouseResult"`
}

// fetchPageSpeed queries the mobile strategy. Mobile metrics drive scoring
// under mobile-first indexing.
func (e *Engine) fetchPageSpeed(ctx context.Context, rawURL string) (vitals, error) {
	params := url.Values{}
	params.Set("url", rawURL)
	params.Set("key", e.cfg.APIKey)
	params.Set("strategy", "mobile")
	params.Set("category", "PERFORMANCE")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.cfg.APIURL+"?"+params.Encode(), nil)
	if err != nil {
		return vitals{}, fmt.Errorf("build pagespeed request: %w", err)
	}
	resp, err := e.client.Do(req)
	if err != nil {
		return vitals{}, fmt.Errorf("pagespeed request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return vitals{}, fmt.Errorf("pagespeed api returned %d", resp.StatusCode)
	}

	var payload pagespeedResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return vitals{}, fmt.Errorf("decode pagespeed response: %w", err)
	}

	audits := payload.LighthouseResult.Audits
	v := vitals{}
	if a, ok := audits["largest-contentful-paint"]; ok {
		v.lcpSeconds = a.NumericValue / 1000
	}
	if a, ok := audits["interaction-to-next-paint"]; ok {
		v.inpMillis = a.NumericValue
	}
	if a, ok := audits["cumulative-layout-shift"]; ok {
		v.cls = a.NumericValue
	}
	return v, nil
}

// measureDirect times a plain page fetch and uses the load time as an LCP
// proxy. Interactivity and layout shift cannot be observed without a
// rendering pass.
func (e *Engine) measureDirect(ctx context.Context, rawURL string) (vitals, error) {
	page, err := e.fetcher.Fetch(ctx, rawURL)
	if err != nil {
		return vitals{}, err
	}
	if !page.OK() {
		return vitals{}, &analysis.OutcomeError{
			Kind:    analysis.ErrKindHTTP,
			Message: fmt.Sprintf("page returned status %d", page.StatusCode),
		}
	}
	return vitals{
		lcpSeconds: page.Duration.Seconds(),
		estimated:  true,
	}, nil
}

func score(v vitals) int {
	s := 100
	switch {
	case v.lcpSeconds > lcpPoorSeconds:
		s -= 40
	case v.lcpSeconds > lcpGoodSeconds:
		s -= 20
	}
	switch {
	case v.inpMillis > inpPoorMillis:
		s -= 30
	case v.inpMillis > inpGoodMillis:
		s -= 15
	}
	switch {
	case v.cls > clsPoor:
		s -= 30
	case v.cls > clsGood:
		s -= 15
	}
	if s < 0 {
		s = 0
	}
	return s
}

func recommendations(v vitals) []analysis.Recommendation {
	var recs []analysis.Recommendation
	if v.lcpSeconds > lcpGoodSeconds {
		detail := fmt.Sprintf("LCP is %.2fs (target: <=2.5s)", v.lcpSeconds)
		if v.estimated {
			detail = fmt.Sprintf("Measured load time is %.2fs (target: <=2.5s)", v.lcpSeconds)
		}
		recs = append(recs, analysis.Recommendation{
			Issue:    "Poor Largest Contentful Paint",
			Detail:   detail,
			Category: analysis.EnginePerformance,
			Priority: analysis.PriorityHigh,
			Impact:   "LCP directly affects Core Web Vitals score and user experience",
		})
	}
	if v.inpMillis > inpGoodMillis {
		recs = append(recs, analysis.Recommendation{
			Issue:    "Poor Interaction to Next Paint",
			Detail:   fmt.Sprintf("INP is %.0fms (target: <=200ms)", v.inpMillis),
			Category: analysis.EnginePerformance,
			Priority: analysis.PriorityHigh,
			Impact:   "INP affects user interaction responsiveness and Core Web Vitals",
		})
	}
	if v.cls > clsGood {
		recs = append(recs, analysis.Recommendation{
			Issue:    "Poor Cumulative Layout Shift",
			Detail:   fmt.Sprintf("CLS is %.3f (target: <=0.1)", v.cls),
			Category: analysis.EnginePerformance,
			Priority: analysis.PriorityMedium,
			Impact:   "CLS affects visual stability and user experience",
		})
	}
	return recs
}
