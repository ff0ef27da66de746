package fetch

import (
	"bytes"
	"strings"
)

// shellDetector flags responses whose HTML is a JavaScript shell with
// no server-rendered content, so the fetch can be promoted to the
// headless renderer.
type shellDetector struct {
	bodyLengthThreshold int
}

func newShellDetector(threshold int) *shellDetector {
	if threshold == 0 {
		threshold = 2048
	}
	return &shellDetector{bodyLengthThreshold: threshold}
}

var spaMarkers = [][]byte{
	[]byte("__next"),
	[]byte("id=\"root\""),
	[]byte("id=\"app\""),
	[]byte("data-reactroot"),
}

func (d *shellDetector) looksLikeShell(statusCode int, body []byte) bool {
	if statusCode != 200 {
		return false
	}
	if len(body) == 0 {
		return true
	}
	if len(body) < d.bodyLengthThreshold && scriptDensityHigh(body) {
		return true
	}
	for _, marker := range spaMarkers {
		if bytes.Contains(body, marker) && visibleTextSparse(body) {
			return true
		}
	}
	return false
}

func scriptDensityHigh(body []byte) bool {
	lower := strings.ToLower(string(body))
	total := len(lower)
	if total == 0 {
		return false
	}

	const (
		openTag  = "<script"
		closeTag = "</script>"
	)
	scriptCoverage := 0
	searchPos := 0

	for {
		relativeStart := strings.Index(lower[searchPos:], openTag)
		if relativeStart == -1 {
			break
		}
		start := searchPos + relativeStart

		tagClose := strings.IndexByte(lower[start:], '>')
		if tagClose == -1 {
			// Treat the rest of the document as part of the malformed script.
			scriptCoverage += total - start
			break
		}
		contentStart := start + tagClose + 1

		relativeEnd := strings.Index(lower[contentStart:], closeTag)
		var nextSearch int
		if relativeEnd == -1 {
			// Script tag never closes; count the rest.
			nextSearch = total
		} else {
			nextSearch = contentStart + relativeEnd + len(closeTag)
		}

		scriptCoverage += nextSearch - start
		searchPos = nextSearch
	}

	if scriptCoverage == 0 {
		return false
	}
	return scriptCoverage*100/total >= 25
}

// visibleTextSparse is a cheap check that an SPA mount point is not
// accompanied by meaningful server-rendered text.
func visibleTextSparse(body []byte) bool {
	lower := strings.ToLower(string(body))
	textish := 0
	for _, tag := range []string{"<p", "<h1", "<h2", "<li", "<article"} {
		textish += strings.Count(lower, tag)
	}
	return textish < 3
}
