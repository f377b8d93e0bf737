package analysis

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNormalizeURL(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "bare host gains root path", in: "https://example.com", want: "https://example.com/"},
		{name: "root trailing slash kept", in: "https://example.com/", want: "https://example.com/"},
		{name: "non-root trailing slash trimmed", in: "https://example.com/blog/", want: "https://example.com/blog"},
		{name: "host lowercased", in: "https://EXAMPLE.com/Path", want: "https://example.com/Path"},
		{name: "default https port removed", in: "https://example.com:443/x", want: "https://example.com/x"},
		{name: "default http port removed", in: "http://example.com:80/x", want: "http://example.com/x"},
		{name: "query params sorted", in: "https://example.com/?b=2&a=1", want: "https://example.com/?a=1&b=2"},
		{name: "fragment dropped", in: "https://example.com/page#section", want: "https://example.com/page"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, err := NormalizeURL(tc.in)
			require.NoError(t, err)
			require.Equal(t, tc.want, got)
		})
	}
}

func TestNormalizeURL_QueryOrderCollides(t *testing.T) {
	t.Parallel()

	a, err := NormalizeURL("https://example.com/search?q=go&page=2")
	require.NoError(t, err)
	b, err := NormalizeURL("https://example.com/search?page=2&q=go")
	require.NoError(t, err)
	require.Equal(t, a, b)
}

func TestParseRequestURL(t *testing.T) {
	t.Parallel()

	got, err := ParseRequestURL(" https://Example.com ")
	require.NoError(t, err)
	require.Equal(t, "https://example.com/", got)

	for _, bad := range []string{"", "not a url at all://", "ftp://example.com", "/relative/path", "example.com"} {
		_, err := ParseRequestURL(bad)
		var verr *ValidationError
		require.ErrorAs(t, err, &verr, "input %q", bad)
	}
}
