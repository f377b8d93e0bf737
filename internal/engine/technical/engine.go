// Package technical checks the factors that determine whether a crawler can
// reach, fetch, and index a page: HTTP status, robots.txt directives, sitemap
// presence, linked resources, and transport security.
package technical

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"net/url"
	"time"

	"github.com/temoto/robotstxt"

	"github.com/haybaler/perception/internal/analysis"
	"github.com/haybaler/perception/internal/engine"
)

// Sitemap locations probed when robots.txt declares none.
var sitemapPaths = []string{"/sitemap.xml", "/sitemap_index.xml", "/sitemaps.xml"}

// Engine implements the technical accessibility analysis.
type Engine struct {
	fetcher *engine.Fetcher
	clock   analysis.Clock
}

// New builds a technical Engine on the shared fetcher.
func New(fetcher *engine.Fetcher, clock analysis.Clock) *Engine {
	return &Engine{fetcher: fetcher, clock: clock}
}

// Name returns the registry name.
func (e *Engine) Name() analysis.EngineName {
	return analysis.EngineTechnical
}

// checks holds the raw observations the score and recommendations are
// derived from.
type checks struct {
	statusCode    int
	httpOK        bool
	https         bool
	robotsExists  bool
	urlAllowed    bool
	sitemapFound  bool
	sitemapURLs   int
	cssFound      bool
	jsFound       bool
	finalURL      string
	responseTime  time.Duration
	contentLength int
}

// Analyze fetches the page and runs the accessibility checks. The page fetch
// failing is an engine error; every other probe degrades to its permissive
// default so one unreachable auxiliary resource cannot fail the run.
func (e *Engine) Analyze(ctx context.Context, rawURL string) (analysis.EngineOutcome, error) {
	start := e.clock.Now()

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return analysis.EngineOutcome{}, fmt.Errorf("parse url: %w", err)
	}

	page, err := e.fetcher.Fetch(ctx, rawURL)
	if err != nil {
		return analysis.EngineOutcome{}, fmt.Errorf("fetch page: %w", err)
	}

	c := checks{
		statusCode:    page.StatusCode,
		httpOK:        page.StatusCode == 200,
		https:         parsed.Scheme == "https",
		finalURL:      page.FinalURL,
		responseTime:  page.Duration,
		contentLength: len(page.Body),
	}
	e.checkRobots(ctx, parsed, rawURL, &c)
	e.checkSitemaps(ctx, parsed, &c)
	checkResources(page.Body, &c)

	outcome := analysis.EngineOutcome{
		Engine:          analysis.EngineTechnical,
		Status:          analysis.OutcomeSuccess,
		Score:           score(c),
		Recommendations: recommendations(c),
		ExecutionTime:   e.clock.Now().Sub(start),
		AnalyzedAt:      start,
	}
	return outcome, nil
}

// checkRobots fetches robots.txt and evaluates whether the URL is allowed.
// A missing or unreadable robots.txt means allowed.
func (e *Engine) checkRobots(ctx context.Context, parsed *url.URL, rawURL string, c *checks) {
	c.urlAllowed = true
	robotsURL := parsed.Scheme + "://" + parsed.Host + "/robots.txt"
	page, err := e.fetcher.Fetch(ctx, robotsURL)
	if err != nil || page.StatusCode != 200 {
		return
	}
	c.robotsExists = true
	robots, err := robotstxt.FromBytes(page.Body)
	if err != nil {
		return
	}
	path := parsed.Path
	if path == "" {
		path = "/"
	}
	if parsed.RawQuery != "" {
		path += "?" + parsed.RawQuery
	}
	googlebot := robots.FindGroup("Googlebot").Test(path)
	wildcard := robots.FindGroup("*").Test(path)
	c.urlAllowed = googlebot || wildcard
}

func (e *Engine) checkSitemaps(ctx context.Context, parsed *url.URL, c *checks) {
	base := parsed.Scheme + "://" + parsed.Host
	for _, path := range sitemapPaths {
		page, err := e.fetcher.Fetch(ctx, base+path)
		if err != nil || page.StatusCode != 200 {
			continue
		}
		urls, ok := parseSitemap(page.Body)
		if ok {
			c.sitemapFound = true
			c.sitemapURLs += urls
		}
	}
}

// sitemapDoc covers both urlset and sitemapindex documents; only the entry
// count matters here.
type sitemapDoc struct {
	XMLName  xml.Name
	URLs     []struct{} `xml:"url"`
	Sitemaps []struct{} `xml:"sitemap"`
}

func parseSitemap(body []byte) (int, bool) {
	var doc sitemapDoc
	if err := xml.Unmarshal(body, &doc); err != nil {
		return 0, false
	}
	switch doc.XMLName.Local {
	case "urlset":
		return len(doc.URLs), true
	case "sitemapindex":
		return len(doc.Sitemaps), true
	default:
		return 0, false
	}
}

func checkResources(body []byte, c *checks) {
	lower := bytes.ToLower(body)
	c.cssFound = bytes.Contains(lower, []byte("<link")) || bytes.Contains(lower, []byte(".css"))
	c.jsFound = bytes.Contains(lower, []byte("<script")) || bytes.Contains(lower, []byte(".js"))
}

func score(c checks) int {
	s := 100
	if !c.httpOK {
		s -= 50
	}
	if !c.urlAllowed {
		s -= 20
	}
	if !c.sitemapFound {
		s -= 15
	}
	if !c.cssFound {
		s -= 10
	}
	if !c.jsFound {
		s -= 5
	}
	if s < 0 {
		s = 0
	}
	return s
}

func recommendations(c checks) []analysis.Recommendation {
	var recs []analysis.Recommendation
	if !c.httpOK {
		recs = append(recs, analysis.Recommendation{
			Issue:    "HTTP Status Error",
			Detail:   fmt.Sprintf("Page returns %d instead of 200", c.statusCode),
			Category: analysis.EngineTechnical,
			Priority: analysis.PriorityHigh,
			Impact:   "Search engines cannot index pages that return error status codes",
		})
	}
	if !c.urlAllowed {
		recs = append(recs, analysis.Recommendation{
			Issue:    "Robots.txt Blocking",
			Detail:   "URL is blocked by robots.txt directives",
			Category: analysis.EngineTechnical,
			Priority: analysis.PriorityHigh,
			Impact:   "Blocked URLs cannot be crawled or indexed",
		})
	}
	if !c.sitemapFound {
		recs = append(recs, analysis.Recommendation{
			Issue:    "No Sitemap Found",
			Detail:   "No XML sitemap detected at common locations",
			Category: analysis.EngineTechnical,
			Priority: analysis.PriorityMedium,
			Impact:   "Sitemaps help search engines discover and understand site structure",
		})
	}
	if !c.https {
		recs = append(recs, analysis.Recommendation{
			Issue:    "No HTTPS",
			Detail:   "Page is not served over HTTPS",
			Category: analysis.EngineTechnical,
			Priority: analysis.PriorityHigh,
			Impact:   "HTTPS is a ranking factor and required for modern web security",
		})
	}
	return recs
}
