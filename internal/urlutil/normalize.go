// Package urlutil implements the URL normalization rules applied
// everywhere scan URLs are compared or deduplicated.
package urlutil

import (
	"fmt"
	"net/url"
	"strings"
)

// Normalize canonicalizes a raw URL for dedup comparison: lowercases
// scheme and host, strips fragments unless they use the #/ hash-routing
// convention, and strips trailing slashes from non-root paths. The same
// rule must be applied at every comparison site or the crawler will
// re-fetch logically identical pages.
func Normalize(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	parsed, err := url.Parse(trimmed)
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	if parsed.Scheme == "" || (parsed.Host == "" && parsed.Opaque != "") {
		// A bare "example.com/about" parses entirely into Path, and
		// "example.com:8080/x" parses as an opaque URL, so the scheme
		// default has to happen before parsing.
		parsed, err = url.Parse("https://" + trimmed)
		if err != nil {
			return "", fmt.Errorf("parse url: %w", err)
		}
	}
	parsed.Scheme = strings.ToLower(parsed.Scheme)
	parsed.Host = strings.ToLower(parsed.Host)
	if parsed.Host == "" {
		return "", fmt.Errorf("url %q has no host", raw)
	}

	if !strings.HasPrefix(parsed.Fragment, "/") {
		parsed.Fragment = ""
	}

	if parsed.Path == "" {
		parsed.Path = "/"
	} else if parsed.Path != "/" {
		parsed.Path = strings.TrimRight(parsed.Path, "/")
		if parsed.Path == "" {
			parsed.Path = "/"
		}
	}

	return parsed.String(), nil
}

// SameHost reports whether two normalized URLs share a hostname,
// treating a www prefix as equivalent to the bare domain.
func SameHost(a, b string) bool {
	ua, err := url.Parse(a)
	if err != nil {
		return false
	}
	ub, err := url.Parse(b)
	if err != nil {
		return false
	}
	return stripWWW(ua.Hostname()) == stripWWW(ub.Hostname())
}

// Host extracts the lowercase hostname of a URL, or "" when unparsable.
func Host(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}

// Resolve resolves a possibly relative href against a base page URL and
// normalizes the result.
func Resolve(base, href string) (string, error) {
	b, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	h, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return "", fmt.Errorf("parse href: %w", err)
	}
	return Normalize(b.ResolveReference(h).String())
}

func stripWWW(host string) string {
	return strings.TrimPrefix(strings.ToLower(host), "www.")
}
