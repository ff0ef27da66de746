package fetch

import (
	"bytes"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/tracklens/sitescanner/internal/scan"
	"github.com/tracklens/sitescanner/internal/urlutil"
)

const (
	maxHeadings       = 12
	maxMetaTags       = 16
	maxLinks          = 150
	summaryMaxRunes   = 320
	authWallMinStatus = 401
)

var ctaKeywords = []string{
	"get started", "sign up", "signup", "start free", "free trial",
	"book now", "book a demo", "request a quote", "contact us",
	"buy now", "add to cart", "subscribe", "download", "join now",
	"schedule", "get a quote", "order now",
}

var loginKeywords = []string{
	"log in", "login", "sign in", "signin", "member login",
	"please log in", "members only", "subscribers only",
	"create an account to continue",
}

var videoHosts = []string{"youtube.com", "youtu.be", "vimeo.com", "wistia", "loom.com"}

// technology markers matched against markup and script sources.
var technologyMarkers = map[string]string{
	"wp-content":         "wordpress",
	"wp-json":            "wordpress",
	"woocommerce":        "woocommerce",
	"cdn.shopify.com":    "shopify",
	"squarespace.com":    "squarespace",
	"wixstatic.com":      "wix",
	"webflow":            "webflow",
	"hs-scripts.com":     "hubspot",
	"data-reactroot":     "react",
	"__next":             "nextjs",
	"data-v-app":         "vue",
	"ng-version":         "angular",
	"cdn.sanity.io":      "sanity",
	"assets.squarespace": "squarespace",
}

// analytics markers matched against script sources and inline snippets.
var analyticsMarkers = map[string]string{
	"googletagmanager.com/gtm.js":     "gtm",
	"googletagmanager.com/gtag/js":    "ga4",
	"google-analytics.com/analytics":  "universal-analytics",
	"connect.facebook.net":            "meta-pixel",
	"static.hotjar.com":               "hotjar",
	"cdn.segment.com":                 "segment",
	"clarity.ms":                      "clarity",
	"plausible.io/js":                 "plausible",
	"cdn.heapanalytics.com":           "heap",
	"snap.licdn.com":                  "linkedin-insight",
	"static.ads-twitter.com":          "twitter-pixel",
	"googleads.g.doubleclick.net":     "google-ads",
	"www.googleadservices.com/pagead": "google-ads",
}

// extract parses an HTML document into the structured fetch result the
// chunk processor consumes.
func extract(pageURL string, statusCode int, body []byte) (scan.FetchResult, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return scan.FetchResult{}, err
	}

	result := scan.FetchResult{
		URL:      pageURL,
		Title:    strings.TrimSpace(doc.Find("title").First().Text()),
		MetaTags: extractMetaTags(doc),
		Body:     body,
	}
	result.Headings = extractHeadings(doc)
	result.Signals = extractSignals(doc)
	result.Links = extractLinks(doc, pageURL)
	result.ContentSummary = summarize(doc)

	lowerBody := strings.ToLower(string(body))
	result.Technologies = matchMarkers(lowerBody, technologyMarkers)
	result.Analytics = matchMarkers(lowerBody, analyticsMarkers)
	result.AuthWallDetected = detectAuthWall(pageURL, statusCode, doc, result.Title)

	return result, nil
}

func extractHeadings(doc *goquery.Document) []string {
	var headings []string
	doc.Find("h1, h2").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		text := strings.TrimSpace(sel.Text())
		if text != "" {
			headings = append(headings, text)
		}
		return len(headings) < maxHeadings
	})
	return headings
}

func extractMetaTags(doc *goquery.Document) map[string]string {
	tags := make(map[string]string)
	doc.Find("meta").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		name, ok := sel.Attr("name")
		if !ok {
			name, ok = sel.Attr("property")
		}
		content, hasContent := sel.Attr("content")
		if ok && hasContent && name != "" && content != "" {
			tags[strings.ToLower(name)] = content
		}
		return len(tags) < maxMetaTags
	})
	if len(tags) == 0 {
		return nil
	}
	return tags
}

func extractSignals(doc *goquery.Document) scan.PageSignals {
	signals := scan.PageSignals{
		HasForm:      doc.Find("form").Length() > 0,
		HasPhoneLink: doc.Find(`a[href^="tel:"]`).Length() > 0,
		HasEmailLink: doc.Find(`a[href^="mailto:"]`).Length() > 0,
	}

	if doc.Find("video").Length() > 0 {
		signals.HasVideo = true
	} else {
		doc.Find("iframe[src]").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
			src, _ := sel.Attr("src")
			for _, host := range videoHosts {
				if strings.Contains(src, host) {
					signals.HasVideo = true
					return false
				}
			}
			return true
		})
	}

	doc.Find("a, button, input[type=submit]").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		text := strings.ToLower(strings.TrimSpace(sel.Text()))
		if text == "" {
			text, _ = sel.Attr("value")
			text = strings.ToLower(text)
		}
		for _, kw := range ctaKeywords {
			if strings.Contains(text, kw) {
				signals.HasCTA = true
				return false
			}
		}
		return true
	})

	return signals
}

func extractLinks(doc *goquery.Document, pageURL string) []string {
	var links []string
	seen := make(map[string]struct{})
	doc.Find("a[href]").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		href, _ := sel.Attr("href")
		href = strings.TrimSpace(href)
		if href == "" || strings.HasPrefix(href, "javascript:") ||
			strings.HasPrefix(href, "mailto:") || strings.HasPrefix(href, "tel:") {
			return true
		}
		resolved, err := urlutil.Resolve(pageURL, href)
		if err != nil {
			return true
		}
		if _, dup := seen[resolved]; dup {
			return true
		}
		seen[resolved] = struct{}{}
		links = append(links, resolved)
		return len(links) < maxLinks
	})
	return links
}

func summarize(doc *goquery.Document) string {
	var sb strings.Builder
	doc.Find("p").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		text := strings.Join(strings.Fields(sel.Text()), " ")
		if text == "" {
			return true
		}
		if sb.Len() > 0 {
			sb.WriteByte(' ')
		}
		sb.WriteString(text)
		return sb.Len() < summaryMaxRunes*4
	})
	summary := sb.String()
	runes := []rune(summary)
	if len(runes) > summaryMaxRunes {
		summary = string(runes[:summaryMaxRunes])
	}
	return summary
}

func matchMarkers(lowerBody string, markers map[string]string) []string {
	var found []string
	seen := make(map[string]struct{})
	for marker, label := range markers {
		if !strings.Contains(lowerBody, marker) {
			continue
		}
		if _, dup := seen[label]; dup {
			continue
		}
		seen[label] = struct{}{}
		found = append(found, label)
	}
	return found
}

// detectAuthWall decides whether the page is a login or paywall
// barrier rather than real content.
func detectAuthWall(pageURL string, statusCode int, doc *goquery.Document, title string) bool {
	if statusCode == 401 || statusCode == 403 {
		return true
	}
	lowerPath := strings.ToLower(pageURL)
	onLoginPath := strings.Contains(lowerPath, "/login") ||
		strings.Contains(lowerPath, "/signin") ||
		strings.Contains(lowerPath, "/sign-in") ||
		strings.Contains(lowerPath, "/auth/")

	hasPassword := doc.Find(`input[type="password"]`).Length() > 0
	if hasPassword && onLoginPath {
		return true
	}

	lowerTitle := strings.ToLower(title)
	for _, kw := range loginKeywords {
		if strings.Contains(lowerTitle, kw) {
			return hasPassword
		}
	}
	return false
}
