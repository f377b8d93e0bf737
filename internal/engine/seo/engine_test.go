package seo

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
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

func serve(t *testing.T, html string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(html))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestAnalyzeWellOptimizedPage(t *testing.T) {
	t.Parallel()

	body := strings.Repeat("coffee roasting techniques and equipment reviews ", 60)
	html := fmt.Sprintf(`<html><head>
		<title>Complete Guide to Home Coffee Roasting Gear</title>
		<meta name="description" content="%s">
		<script type="application/ld+json">{"@type":"Article"}</script>
	</head><body><h1>Coffee Roasting</h1><p>%s</p><img src="a.png" alt="roaster"></body></html>`,
		strings.Repeat("x", 130), body)

	srv := serve(t, html)
	outcome, err := newEngine(t).Analyze(context.Background(), srv.URL+"/guides/coffee-roasting")
	require.NoError(t, err)
	require.Equal(t, analysis.OutcomeSuccess, outcome.Status)
	require.Equal(t, 100, outcome.Score)
	require.Empty(t, outcome.Recommendations)
}

func TestAnalyzeBarePage(t *testing.T) {
	t.Parallel()

	srv := serve(t, `<html><head></head><body><p>thin</p></body></html>`)
	outcome, err := newEngine(t).Analyze(context.Background(), srv.URL+"/")
	require.NoError(t, err)

	// No title, no meta description, no h1, thin content. The root path
	// counts as descriptive, so only four deductions apply.
	require.Equal(t, 15, outcome.Score)

	issues := issueSet(outcome.Recommendations)
	require.Contains(t, issues, "Missing Title Tag")
	require.Contains(t, issues, "Missing Meta Description")
	require.Contains(t, issues, "H1 Tag Issues")
	require.Contains(t, issues, "Insufficient Content")
}

func TestAnalyzeTitleLengthAndAltText(t *testing.T) {
	t.Parallel()

	body := strings.Repeat("word ", 400)
	html := fmt.Sprintf(`<html><head><title>Short</title><meta name="description" content="%s"></head>
		<body><h1>One</h1><p>%s</p><img src="a.png"><img src="b.png" alt="b"></body></html>`,
		strings.Repeat("y", 130), body)

	srv := serve(t, html)
	outcome, err := newEngine(t).Analyze(context.Background(), srv.URL+"/articles/topic")
	require.NoError(t, err)

	// Only the title deduction applies to the score; alt coverage is
	// advisory.
	require.Equal(t, 75, outcome.Score)

	issues := issueSet(outcome.Recommendations)
	require.Contains(t, issues, "Title Tag Length")
	require.Contains(t, issues, "Missing Alt Text")
	require.NotContains(t, issues, "Missing Title Tag")
}

func TestAnalyzeErrorStatus(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := newEngine(t).Analyze(context.Background(), srv.URL+"/")
	require.Error(t, err)

	var oe *analysis.OutcomeError
	require.ErrorAs(t, err, &oe)
	require.Equal(t, analysis.ErrKindHTTP, oe.Kind)
}

func TestDescriptiveURL(t *testing.T) {
	t.Parallel()

	cases := []struct {
		url  string
		want bool
	}{
		{"https://example.com/", true},
		{"https://example.com/guides/coffee-roasting", true},
		{"https://example.com/p/1234567", false},
		{"https://example.com/a1b2c3d4e5f6", false},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, descriptiveURL(tc.url), tc.url)
	}
}

func issueSet(recs []analysis.Recommendation) map[string]bool {
	set := make(map[string]bool, len(recs))
	for _, r := range recs {
		set[r.Issue] = true
	}
	return set
}
