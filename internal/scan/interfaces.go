package scan

import (
	"context"
	"time"
)

// FetchRequest captures everything needed to fetch and extract one page.
type FetchRequest struct {
	URL         string
	Credentials *Credentials
}

// PageSignals are the boolean conversion signals extracted from a page.
type PageSignals struct {
	HasForm      bool `json:"has_form"`
	HasCTA       bool `json:"has_cta"`
	HasVideo     bool `json:"has_video"`
	HasPhoneLink bool `json:"has_phone_link"`
	HasEmailLink bool `json:"has_email_link"`
}

// FetchResult is the structured extraction returned by a Fetcher.
type FetchResult struct {
	URL            string
	Title          string
	Headings       []string
	MetaTags       map[string]string
	ContentSummary string
	Signals        PageSignals
	Links          []string
	Technologies   []string
	Analytics      []string
	// AuthWallDetected marks a login or paywall barrier. It is a state
	// signal, not an error; the chunk processor pauses the phase.
	AuthWallDetected bool
	Body             []byte
}

// Fetcher fetches one page and extracts structured signals from it.
type Fetcher interface {
	Fetch(ctx context.Context, req FetchRequest) (FetchResult, error)
}

// CrawlSummary is the classifier input assembled from a finished
// discovery pass.
type CrawlSummary struct {
	WebsiteURL      string         `json:"website_url"`
	PageTypes       map[string]int `json:"page_types"`
	URLPatterns     []string       `json:"url_patterns"`
	HomepageTitle   string         `json:"homepage_title"`
	HomepageContent string         `json:"homepage_content"`
	Technologies    []string       `json:"technologies"`
}

// NicheResult is the classifier verdict on a site's business category.
type NicheResult struct {
	Niche       string   `json:"niche"`
	Confidence  float64  `json:"confidence"`
	SubCategory string   `json:"sub_category"`
	Signals     []string `json:"signals"`
}

// Classifier infers the business niche of a scanned site.
type Classifier interface {
	Classify(ctx context.Context, summary CrawlSummary) (NicheResult, error)
}

// Notifier publishes scan lifecycle events to interested downstreams.
type Notifier interface {
	ScanFinished(ctx context.Context, s *Scan) error
}

// Clock abstracts time for deterministic tests.
type Clock interface {
	Now() time.Time
}

// IDGenerator mints identifiers for scans, pages, and recommendations.
type IDGenerator interface {
	NewID() string
}
