package mobile

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/haybaler/perception/internal/analysis"
	"github.com/haybaler/perception/internal/engine"
)

type stubClock struct{ t time.Time }

func (c stubClock) Now() time.Time { return c.t }

type stubRenderer struct {
	html  string
	err   error
	calls int
}

func (r *stubRenderer) Render(ctx context.Context, rawURL string) (string, error) {
	r.calls++
	return r.html, r.err
}

func newEngine(t *testing.T, renderer Renderer) *Engine {
	t.Helper()
	fetcher := engine.NewFetcher(engine.FetchConfig{Timeout: 5 * time.Second}, nil, nil)
	return New(fetcher, renderer, stubClock{t: time.Unix(1700000000, 0).UTC()}, zap.NewNop())
}

func serve(t *testing.T, html string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(html))
	}))
	t.Cleanup(srv.Close)
	return srv
}

const friendlyPage = `<html><head>
	<meta name="viewport" content="width=device-width, initial-scale=1">
	<style>@media (max-width: 600px) { body { font-size: 16px } }</style>
</head><body>
	<p>Plenty of readable body copy goes here for the inspection pass to chew on without tripping the app shell heuristic.</p>
	<button class="btn">Tap me</button>
</body></html>`

const unfriendlyPage = `<html><head></head><body>
	<div style="width: 1200px">wide fixed content that only works on desktop screens and forces sideways panning</div>
	<p style="font-size: 8px">tiny print nobody can read on a phone without pinching and zooming constantly</p>
	<a href="/x">bare link</a><a href="/y">another</a><a href="/z">third</a>
</body></html>`

func TestAnalyzeFriendlyPage(t *testing.T) {
	t.Parallel()

	srv := serve(t, friendlyPage)
	outcome, err := newEngine(t, nil).Analyze(context.Background(), srv.URL+"/")
	require.NoError(t, err)
	require.Equal(t, analysis.OutcomeSuccess, outcome.Status)
	require.Equal(t, 100, outcome.Score)
	require.Empty(t, outcome.Recommendations)
}

func TestAnalyzeUnfriendlyPage(t *testing.T) {
	t.Parallel()

	srv := serve(t, unfriendlyPage)
	outcome, err := newEngine(t, nil).Analyze(context.Background(), srv.URL+"/")
	require.NoError(t, err)

	// No viewport at all, no responsive signals, bare links only.
	require.Equal(t, 0, outcome.Score)

	issues := issueSet(outcome.Recommendations)
	require.Contains(t, issues, "Viewport Not Configured")
	require.Contains(t, issues, "Not Responsive")
	require.Contains(t, issues, "Small Touch Targets")
	require.Contains(t, issues, "Small Text Size")
	require.Contains(t, issues, "Horizontal Scrolling")
}

func TestAnalyzePromotesAppShellToRenderer(t *testing.T) {
	t.Parallel()

	shell := `<html><head></head><body><div id="root"></div><script src="/app.js"></script></body></html>`
	srv := serve(t, shell)

	renderer := &stubRenderer{html: friendlyPage}
	outcome, err := newEngine(t, renderer).Analyze(context.Background(), srv.URL+"/")
	require.NoError(t, err)
	require.Equal(t, 1, renderer.calls)

	// The rendered DOM, not the shell, is what gets inspected.
	require.Equal(t, 100, outcome.Score)
}

func TestAnalyzeRendererFailureFallsBack(t *testing.T) {
	t.Parallel()

	shell := `<html><head><meta name="viewport" content="width=device-width, initial-scale=1"><link rel="stylesheet" href="/a.css"></head><body><div id="root"></div><script src="/app.js"></script></body></html>`
	srv := serve(t, shell)

	renderer := &stubRenderer{err: errors.New("chrome crashed")}
	outcome, err := newEngine(t, renderer).Analyze(context.Background(), srv.URL+"/")
	require.NoError(t, err)
	require.Equal(t, 1, renderer.calls)

	// Static shell still scores on its own merits.
	require.Equal(t, analysis.OutcomeSuccess, outcome.Status)
	require.Equal(t, 100, outcome.Score)
}

func TestAnalyzeStaticPageSkipsRenderer(t *testing.T) {
	t.Parallel()

	srv := serve(t, friendlyPage)
	renderer := &stubRenderer{html: unfriendlyPage}
	outcome, err := newEngine(t, renderer).Analyze(context.Background(), srv.URL+"/")
	require.NoError(t, err)
	require.Zero(t, renderer.calls)
	require.Equal(t, 100, outcome.Score)
}

func TestLooksClientRendered(t *testing.T) {
	t.Parallel()

	shell, err := goquery.NewDocumentFromReader(strings.NewReader(
		`<html><body><div id="app"></div><script src="/b.js"></script></body></html>`))
	require.NoError(t, err)
	require.True(t, looksClientRendered(shell))

	static, err := goquery.NewDocumentFromReader(strings.NewReader(
		`<html><body><p>` + strings.Repeat("word ", 40) + `</p></body></html>`))
	require.NoError(t, err)
	require.False(t, looksClientRendered(static))
}

func issueSet(recs []analysis.Recommendation) map[string]bool {
	set := make(map[string]bool, len(recs))
	for _, r := range recs {
		set[r.Issue] = true
	}
	return set
}
