// Package seo analyzes on-page search optimization signals: title and meta
// description, heading hierarchy, URL shape, image alt coverage, content depth,
// and structured data.
package seo

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/haybaler/perception/internal/analysis"
	"github.com/haybaler/perception/internal/engine"
)

const (
	titleMinLen    = 30
	titleMaxLen    = 60
	metaDescMinLen = 120
	metaDescMaxLen = 160
	minWordCount   = 300
	altTextTarget  = 90.0
)

// Engine implements on-page SEO analysis.
type Engine struct {
	fetcher *engine.Fetcher
	clock   analysis.Clock
}

// New builds an SEO Engine on the shared fetcher.
func New(fetcher *engine.Fetcher, clock analysis.Clock) *Engine {
	return &Engine{fetcher: fetcher, clock: clock}
}

// Name returns the registry name.
func (e *Engine) Name() analysis.EngineName {
	return analysis.EngineSEO
}

type pageSignals struct {
	titleExists    bool
	titleLen       int
	titleOptimal   bool
	metaDescExists bool
	metaDescLen    int
	h1Count        int
	singleH1       bool
	urlDescriptive bool
	wordCount      int
	wordsOK        bool
	imageCount     int
	altPercentage  float64
	structuredData bool
}

// Analyze fetches and parses the page. A non-success status or an unparsable
// body is an engine error; SEO signals only exist for a rendered document.
func (e *Engine) Analyze(ctx context.Context, rawURL string) (analysis.EngineOutcome, error) {
	start := e.clock.Now()

	page, err := e.fetcher.Fetch(ctx, rawURL)
	if err != nil {
		return analysis.EngineOutcome{}, fmt.Errorf("fetch page: %w", err)
	}
	if !page.OK() {
		return analysis.EngineOutcome{}, &analysis.OutcomeError{
			Kind:    analysis.ErrKindHTTP,
			Message: fmt.Sprintf("page returned status %d", page.StatusCode),
		}
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page.Body))
	if err != nil {
		return analysis.EngineOutcome{}, &analysis.OutcomeError{
			Kind:    analysis.ErrKindParse,
			Message: fmt.Sprintf("parse html: %v", err),
		}
	}

	sig := inspect(doc, rawURL)
	outcome := analysis.EngineOutcome{
		Engine:          analysis.EngineSEO,
		Status:          analysis.OutcomeSuccess,
		Score:           score(sig),
		Recommendations: recommendations(sig),
		ExecutionTime:   e.clock.Now().Sub(start),
		AnalyzedAt:      start,
	}
	return outcome, nil
}

func inspect(doc *goquery.Document, rawURL string) pageSignals {
	var sig pageSignals

	title := strings.TrimSpace(doc.Find("title").First().Text())
	sig.titleExists = title != ""
	sig.titleLen = len(title)
	sig.titleOptimal = sig.titleLen >= titleMinLen && sig.titleLen <= titleMaxLen

	if desc, ok := doc.Find(`meta[name="description"]`).First().Attr("content"); ok {
		desc = strings.TrimSpace(desc)
		sig.metaDescExists = desc != ""
		sig.metaDescLen = len(desc)
	}

	sig.h1Count = doc.Find("h1").Length()
	sig.singleH1 = sig.h1Count == 1

	sig.urlDescriptive = descriptiveURL(rawURL)

	text := strings.TrimSpace(doc.Find("body").Text())
	sig.wordCount = len(strings.Fields(text))
	sig.wordsOK = sig.wordCount >= minWordCount

	images := doc.Find("img")
	sig.imageCount = images.Length()
	if sig.imageCount > 0 {
		withAlt := 0
		images.Each(func(_ int, s *goquery.Selection) {
			if alt, ok := s.Attr("alt"); ok && strings.TrimSpace(alt) != "" {
				withAlt++
			}
		})
		sig.altPercentage = float64(withAlt) / float64(sig.imageCount) * 100
	} else {
		sig.altPercentage = 100
	}

	sig.structuredData = doc.Find(`script[type="application/ld+json"]`).Length() > 0

	return sig
}

// descriptiveURL reports whether the path reads as words rather than opaque
// identifiers. A root URL counts as descriptive.
func descriptiveURL(rawURL string) bool {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	path := strings.Trim(parsed.Path, "/")
	if path == "" {
		return true
	}
	for _, segment := range strings.Split(path, "/") {
		if !segmentHasWords(segment) {
			return false
		}
	}
	return true
}

func segmentHasWords(segment string) bool {
	letters := 0
	for _, r := range segment {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') {
			letters++
		}
	}
	// Mostly-numeric segments (ids, hashes) are not descriptive.
	return letters*2 > len(segment)
}

func score(sig pageSignals) int {
	s := 100
	if !sig.titleOptimal {
		s -= 25
	}
	if !sig.metaDescExists {
		s -= 20
	}
	if !sig.singleH1 {
		s -= 15
	}
	if !sig.urlDescriptive {
		s -= 15
	}
	if !sig.wordsOK {
		s -= 25
	}
	if s < 0 {
		s = 0
	}
	return s
}

func recommendations(sig pageSignals) []analysis.Recommendation {
	var recs []analysis.Recommendation
	if !sig.titleExists {
		recs = append(recs, analysis.Recommendation{
			Issue:    "Missing Title Tag",
			Detail:   "Page does not have a title tag",
			Category: analysis.EngineSEO,
			Priority: analysis.PriorityHigh,
			Impact:   "Title tags are crucial for search rankings and click-through rates",
		})
	} else if !sig.titleOptimal {
		recs = append(recs, analysis.Recommendation{
			Issue:    "Title Tag Length",
			Detail:   fmt.Sprintf("Title tag is %d characters", sig.titleLen),
			Category: analysis.EngineSEO,
			Priority: analysis.PriorityMedium,
			Impact:   "Proper title length ensures full display in search results",
		})
	}
	if !sig.metaDescExists {
		recs = append(recs, analysis.Recommendation{
			Issue:    "Missing Meta Description",
			Detail:   "Page does not have a meta description",
			Category: analysis.EngineSEO,
			Priority: analysis.PriorityMedium,
			Impact:   "Meta descriptions influence click-through rates from search results",
		})
	}
	if !sig.singleH1 {
		recs = append(recs, analysis.Recommendation{
			Issue:    "H1 Tag Issues",
			Detail:   fmt.Sprintf("Page has %d H1 tags", sig.h1Count),
			Category: analysis.EngineSEO,
			Priority: analysis.PriorityMedium,
			Impact:   "Proper header structure helps search engines understand content organization",
		})
	}
	if !sig.wordsOK {
		recs = append(recs, analysis.Recommendation{
			Issue:    "Insufficient Content",
			Detail:   fmt.Sprintf("Page has only %d words", sig.wordCount),
			Category: analysis.EngineSEO,
			Priority: analysis.PriorityMedium,
			Impact:   "Comprehensive content typically ranks better in search results",
		})
	}
	if sig.altPercentage < altTextTarget {
		recs = append(recs, analysis.Recommendation{
			Issue:    "Missing Alt Text",
			Detail:   fmt.Sprintf("Only %.1f%% of images have alt text", sig.altPercentage),
			Category: analysis.EngineSEO,
			Priority: analysis.PriorityMedium,
			Impact:   "Alt text improves accessibility and helps search engines understand images",
		})
	}
	return recs
}
