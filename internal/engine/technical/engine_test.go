package technical

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/haybaler/perception/internal/analysis"
	"github.com/haybaler/perception/internal/engine"
)

type stubClock struct{ t time.Time }

func (c stubClock) Now() time.Time { return c.t }

func newEngine(t *testing.T) *Engine {
	t.Helper()
	fetcher := engine.NewFetcher(engine.FetchConfig{Timeout: 5 * time.Second}, nil, nil)
	return New(fetcher, stubClock{t: time.Unix(1700000000, 0).UTC()})
}

func TestAnalyzeHealthyPage(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><head><link rel="stylesheet" href="/app.css"><script src="/app.js"></script></head><body>ok</body></html>`))
	})
	mux.HandleFunc("/robots.txt", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("User-agent: *\nAllow: /\n"))
	})
	mux.HandleFunc("/sitemap.xml", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<?xml version="1.0"?><urlset xmlns="http://www.sitemaps.org/schemas/sitemap/0.9"><url><loc>/</loc></url></urlset>`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	outcome, err := newEngine(t).Analyze(context.Background(), srv.URL+"/")
	require.NoError(t, err)
	require.Equal(t, analysis.OutcomeSuccess, outcome.Status)
	require.Equal(t, 100, outcome.Score)

	issues := issueSet(outcome.Recommendations)
	require.Contains(t, issues, "No HTTPS")
	require.NotContains(t, issues, "HTTP Status Error")
}

func TestAnalyzeBrokenPage(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	outcome, err := newEngine(t).Analyze(context.Background(), srv.URL+"/missing")
	require.NoError(t, err)
	require.Equal(t, analysis.OutcomeSuccess, outcome.Status)

	// 100 less 50 for the 404, 15 for no sitemap, 10 and 5 for no
	// css/js references (the 404 body mentions neither).
	require.Equal(t, 20, outcome.Score)
	require.Contains(t, issueSet(outcome.Recommendations), "HTTP Status Error")
}

func TestAnalyzeRobotsBlocked(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><head><script src="/a.js"></script><link href="/a.css"></head></html>`))
	})
	mux.HandleFunc("/robots.txt", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("User-agent: *\nDisallow: /\n"))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	outcome, err := newEngine(t).Analyze(context.Background(), srv.URL+"/page")
	require.NoError(t, err)

	require.Contains(t, issueSet(outcome.Recommendations), "Robots.txt Blocking")
	// The fetcher ignores robots directives, so the page itself still
	// loads. 100 less 20 robots, 15 sitemap.
	require.Equal(t, 65, outcome.Score)
}

func TestAnalyzeUnreachableHost(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := newEngine(t).Analyze(ctx, "http://127.0.0.1:1/")
	require.Error(t, err)
}

func TestParseSitemapIndex(t *testing.T) {
	t.Parallel()

	count, ok := parseSitemap([]byte(`<?xml version="1.0"?><sitemapindex xmlns="http://www.sitemaps.org/schemas/sitemap/0.9"><sitemap><loc>a</loc></sitemap><sitemap><loc>b</loc></sitemap></sitemapindex>`))
	require.True(t, ok)
	require.Equal(t, 2, count)

	_, ok = parseSitemap([]byte(`<html>not a sitemap</html>`))
	require.False(t, ok)
}

func issueSet(recs []analysis.Recommendation) map[string]bool {
	set := make(map[string]bool, len(recs))
	for _, r := range recs {
		set[r.Issue] = true
	}
	return set
}
