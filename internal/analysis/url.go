package analysis

import (
	"fmt"
	"net/url"
	"strings"
)

// NormalizeURL standardizes a URL into its canonical cache-key form.
// It lowercases the scheme and host, removes default ports and fragments,
// sorts query parameters, and trims the trailing slash from non-root paths
// so https://example.com and https://example.com/ collide.
func NormalizeURL(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)

	if u.Scheme == "http" && strings.HasSuffix(u.Host, ":80") {
		u.Host = strings.TrimSuffix(u.Host, ":80")
	}
	if u.Scheme == "https" && strings.HasSuffix(u.Host, ":443") {
		u.Host = strings.TrimSuffix(u.Host, ":443")
	}

	u.Fragment = ""

	if u.Path == "" {
		u.Path = "/"
	} else if u.Path != "/" {
		u.Path = strings.TrimSuffix(u.Path, "/")
	}

	// Sort query parameters
	q := u.Query()
	u.RawQuery = q.Encode()

	return u.String(), nil
}

// ParseRequestURL validates that raw is an absolute http/https URL and
// returns its normalized form. Anything else is a ValidationError.
func ParseRequestURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", NewValidationError("url", "must not be empty")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", NewValidationError("url", "must be a valid URL")
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return "", NewValidationError("url", "scheme must be http or https")
	}
	if u.Host == "" {
		return "", NewValidationError("url", "must be absolute")
	}
	normalized, err := NormalizeURL(raw)
	if err != nil {
		return "", NewValidationError("url", "must be a valid URL")
	}
	return normalized, nil
}
