// Package mobile analyzes mobile-friendliness: viewport configuration,
// responsive design signals, touch target sizing, text readability, and
// content sizing. Pages that look client-rendered are optionally re-fetched
// through a headless browser before inspection.
package mobile

import (
	"bytes"
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/haybaler/perception/internal/analysis"
	"github.com/haybaler/perception/internal/engine"
)

var (
	fontSizeRe   = regexp.MustCompile(`font-size:\s*(\d+)px`)
	fixedWidthRe = regexp.MustCompile(`width:\s*\d+px`)
)

// Engine implements mobile-friendliness analysis.
type Engine struct {
	fetcher  *engine.Fetcher
	renderer Renderer
	clock    analysis.Clock
	logger   *zap.Logger
}

// New builds a mobile Engine. renderer may be nil, in which case only the
// static document is inspected.
func New(fetcher *engine.Fetcher, renderer Renderer, clock analysis.Clock, logger *zap.Logger) *Engine {
	return &Engine{fetcher: fetcher, renderer: renderer, clock: clock, logger: logger}
}

// Name returns the registry name.
func (e *Engine) Name() analysis.EngineName {
	return analysis.EngineMobile
}

type mobileSignals struct {
	viewportExists     bool
	viewportConfigured bool
	responsive         bool
	touchFriendly      bool
	touchPercentage    float64
	textReadable       bool
	readablePercentage float64
	avoidsHScroll      bool
	rendered           bool
}

// Analyze fetches and inspects the page. When a renderer is configured and
// the static HTML looks client-rendered, the DOM is taken from headless
// Chrome instead; renderer failures fall back to the static document.
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

	rendered := false
	if e.renderer != nil && looksClientRendered(doc) {
		if html, renderErr := e.renderer.Render(ctx, rawURL); renderErr == nil {
			if renderedDoc, parseErr := goquery.NewDocumentFromReader(strings.NewReader(html)); parseErr == nil {
				doc = renderedDoc
				rendered = true
			}
		} else if e.logger != nil {
			e.logger.Warn("headless render failed, using static document",
				zap.String("url", rawURL),
				zap.Error(renderErr))
		}
	}

	sig := inspect(doc)
	sig.rendered = rendered

	outcome := analysis.EngineOutcome{
		Engine:          analysis.EngineMobile,
		Status:          analysis.OutcomeSuccess,
		Score:           score(sig),
		Recommendations: recommendations(sig),
		ExecutionTime:   e.clock.Now().Sub(start),
		AnalyzedAt:      start,
	}
	return outcome, nil
}

// looksClientRendered flags documents whose body carries almost no text but
// loads scripts, the shape of a JS single-page app shell.
func looksClientRendered(doc *goquery.Document) bool {
	text := strings.TrimSpace(doc.Find("body").Text())
	scripts := doc.Find("script[src]").Length()
	return len(strings.Fields(text)) < 20 && scripts > 0
}

func inspect(doc *goquery.Document) mobileSignals {
	var sig mobileSignals

	if content, ok := doc.Find(`meta[name="viewport"]`).First().Attr("content"); ok {
		lower := strings.ToLower(content)
		sig.viewportExists = true
		sig.viewportConfigured = strings.Contains(lower, "width=device-width") &&
			strings.Contains(lower, "initial-scale=1")
	}

	sig.responsive = detectResponsive(doc)
	sig.touchFriendly, sig.touchPercentage = inspectTouchTargets(doc)
	sig.textReadable, sig.readablePercentage = inspectTextReadability(doc)
	sig.avoidsHScroll = inspectContentSizing(doc)

	return sig
}

// detectResponsive looks for media queries in style blocks. External
// stylesheets are assumed responsive; fetching and parsing CSS is out of
// reach here.
func detectResponsive(doc *goquery.Document) bool {
	responsive := false
	doc.Find("style").Each(func(_ int, s *goquery.Selection) {
		if strings.Contains(s.Text(), "@media") {
			responsive = true
		}
	})
	if responsive {
		return true
	}
	return doc.Find(`link[rel="stylesheet"]`).Length() > 0
}

func inspectTouchTargets(doc *goquery.Document) (bool, float64) {
	interactive := doc.Find("a, button, input, select, textarea")
	total := interactive.Length()
	if total == 0 {
		return true, 100
	}
	sized := 0
	interactive.Each(func(_ int, s *goquery.Selection) {
		style, _ := s.Attr("style")
		class, _ := s.Attr("class")
		classLower := strings.ToLower(class)
		if strings.Contains(style, "padding") ||
			strings.Contains(classLower, "btn") ||
			strings.Contains(classLower, "touch") ||
			goquery.NodeName(s) == "button" {
			sized++
		}
	})
	pct := float64(sized) / float64(total) * 100
	return pct > 80, pct
}

func inspectTextReadability(doc *goquery.Document) (bool, float64) {
	elements := doc.Find("p, div, span, li")
	total := elements.Length()
	if total == 0 {
		return true, 100
	}
	small := 0
	elements.Each(func(_ int, s *goquery.Selection) {
		style, ok := s.Attr("style")
		if !ok {
			return
		}
		m := fontSizeRe.FindStringSubmatch(style)
		if m == nil {
			return
		}
		if size, err := strconv.Atoi(m[1]); err == nil && size < 12 {
			small++
		}
	})
	pct := float64(total-small) / float64(total) * 100
	return float64(small)/float64(total) < 0.1, pct
}

// inspectContentSizing flags fixed pixel widths wider than a phone viewport,
// the usual cause of horizontal scrolling.
func inspectContentSizing(doc *goquery.Document) bool {
	elements := doc.Find("div, img, table, iframe")
	total := elements.Length()
	if total == 0 {
		return true
	}
	fixed := 0
	elements.Each(func(_ int, s *goquery.Selection) {
		style, _ := s.Attr("style")
		if fixedWidthRe.MatchString(style) {
			fixed++
			return
		}
		if width, ok := s.Attr("width"); ok {
			if w, err := strconv.Atoi(width); err == nil && w > 320 {
				fixed++
			}
		}
	})
	return float64(fixed)/float64(total) < 0.1
}

func score(sig mobileSignals) int {
	s := 100
	if !sig.viewportConfigured {
		s -= 40
	}
	if !sig.responsive {
		s -= 30
	}
	if !sig.touchFriendly {
		s -= 20
	}
	if !sig.viewportExists {
		s -= 10
	}
	if s < 0 {
		s = 0
	}
	return s
}

func recommendations(sig mobileSignals) []analysis.Recommendation {
	var recs []analysis.Recommendation
	if !sig.viewportConfigured {
		recs = append(recs, analysis.Recommendation{
			Issue:    "Viewport Not Configured",
			Detail:   "Page lacks proper viewport meta tag configuration",
			Category: analysis.EngineMobile,
			Priority: analysis.PriorityHigh,
			Impact:   "Proper viewport configuration is essential for mobile-friendly display",
		})
	}
	if !sig.responsive {
		recs = append(recs, analysis.Recommendation{
			Issue:    "Not Responsive",
			Detail:   "Page does not appear to use responsive design",
			Category: analysis.EngineMobile,
			Priority: analysis.PriorityHigh,
			Impact:   "Non-responsive sites provide poor user experience on mobile devices",
		})
	}
	if !sig.touchFriendly {
		recs = append(recs, analysis.Recommendation{
			Issue:    "Small Touch Targets",
			Detail:   fmt.Sprintf("Touch-friendly elements: %.1f%%", sig.touchPercentage),
			Category: analysis.EngineMobile,
			Priority: analysis.PriorityMedium,
			Impact:   "Small touch targets are difficult to tap on mobile devices",
		})
	}
	if !sig.textReadable {
		recs = append(recs, analysis.Recommendation{
			Issue:    "Small Text Size",
			Detail:   fmt.Sprintf("Text readability score: %.1f%%", sig.readablePercentage),
			Category: analysis.EngineMobile,
			Priority: analysis.PriorityMedium,
			Impact:   "Small text is difficult to read on mobile devices",
		})
	}
	if !sig.avoidsHScroll {
		recs = append(recs, analysis.Recommendation{
			Issue:    "Horizontal Scrolling",
			Detail:   "Page content may require horizontal scrolling on mobile",
			Category: analysis.EngineMobile,
			Priority: analysis.PriorityMedium,
			Impact:   "Horizontal scrolling creates poor mobile user experience",
		})
	}
	return recs
}
