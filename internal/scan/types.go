// Package scan defines core types shared across subsystems.
package scan

import (
	"time"
)

// Status represents the lifecycle state of a scan.
type Status string

// Scan status values persisted in the scan store.
const (
	StatusDiscovering          Status = "DISCOVERING"
	StatusCrawling             Status = "CRAWLING"
	StatusNicheDetected        Status = "NICHE_DETECTED"
	StatusAwaitingConfirmation Status = "AWAITING_CONFIRMATION"
	StatusDeepCrawling         Status = "DEEP_CRAWLING"
	StatusAnalyzing            Status = "ANALYZING"
	StatusAwaitingAuth         Status = "AWAITING_AUTH"
	StatusCompleted            Status = "COMPLETED"
	StatusFailed               Status = "FAILED"
	StatusCancelled            Status = "CANCELLED"
)

// Terminal reports whether no further transitions are accepted from s.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// Phase identifies which crawl pass a chunk call targets.
type Phase string

// Crawl phases.
const (
	PhaseDiscovery Phase = "discovery"
	PhaseDeepCrawl Phase = "deep_crawl"
)

// CrawlStatus returns the non-terminal status a phase runs in.
func (p Phase) CrawlStatus() Status {
	if p == PhaseDeepCrawl {
		return StatusDeepCrawling
	}
	return StatusCrawling
}

// Key is the composite ownership key for a scan. Every store read and
// write filters on all three fields to enforce tenant isolation.
type Key struct {
	ScanID     string
	CustomerID string
	TenantID   string
}

// QueuedURL is one entry in a scan's pending URL queue.
type QueuedURL struct {
	URL    string `json:"url"`
	Depth  int    `json:"depth"`
	Source string `json:"source"`
}

// Queue entry sources.
const (
	SourceHomepage = "homepage"
	SourceSitemap  = "sitemap"
	SourceCrawl    = "crawl"
	SourceSiteMap  = "site_map"
)

// Discovery accumulates light signals gathered during the discovery
// phase. It is merged, never overwritten wholesale.
type Discovery struct {
	Technologies        []string `json:"technologies"`
	ExistingAnalytics   []string `json:"existing_analytics"`
	SitemapFound        bool     `json:"sitemap_found"`
	RobotsFound         bool     `json:"robots_found"`
	TotalURLsDiscovered int      `json:"total_urls_discovered"`
}

// Merge folds another accumulator into d: sets union, flags or-combine,
// counters add.
func (d *Discovery) Merge(other Discovery) {
	d.Technologies = mergeUnique(d.Technologies, other.Technologies)
	d.ExistingAnalytics = mergeUnique(d.ExistingAnalytics, other.ExistingAnalytics)
	d.SitemapFound = d.SitemapFound || other.SitemapFound
	d.RobotsFound = d.RobotsFound || other.RobotsFound
	d.TotalURLsDiscovered += other.TotalURLsDiscovered
}

func mergeUnique(dst, src []string) []string {
	if len(src) == 0 {
		return dst
	}
	seen := make(map[string]struct{}, len(dst)+len(src))
	for _, v := range dst {
		seen[v] = struct{}{}
	}
	for _, v := range src {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		dst = append(dst, v)
	}
	return dst
}

// Scan is one crawl attempt for one customer's website.
type Scan struct {
	ID         string `json:"id"`
	CustomerID string `json:"customer_id"`
	TenantID   string `json:"tenant_id"`

	Status Status `json:"status"`
	// ResumeStatus records the crawling status an auth wall interrupted,
	// so provide-credentials can return the scan to the exact phase.
	ResumeStatus Status `json:"resume_status,omitempty"`

	WebsiteURL string `json:"website_url"`
	MaxPages   int    `json:"max_pages"`
	MaxDepth   int    `json:"max_depth"`

	URLQueue    []QueuedURL     `json:"url_queue"`
	CrawledURLs map[string]bool `json:"crawled_urls"`
	Discovery   Discovery       `json:"live_discovery"`

	DetectedNiche    string   `json:"detected_niche,omitempty"`
	NicheConfidence  float64  `json:"niche_confidence,omitempty"`
	NicheSubCategory string   `json:"niche_sub_category,omitempty"`
	NicheSignals     []string `json:"niche_signals,omitempty"`
	ConfirmedNiche   string   `json:"confirmed_niche,omitempty"`

	DetectedTechnologies []string `json:"detected_technologies,omitempty"`
	ExistingTracking     []string `json:"existing_tracking,omitempty"`
	SiteMap              []string `json:"site_map,omitempty"`

	TotalPagesScanned      int    `json:"total_pages_scanned"`
	TotalRecommendations   int    `json:"total_recommendations"`
	TrackingReadinessScore int    `json:"tracking_readiness_score"`
	ReadinessNarrative     string `json:"readiness_narrative,omitempty"`

	ErrorMessage string `json:"error_message,omitempty"`

	// Version is the optimistic-concurrency token; the store rejects
	// writes whose expected version no longer matches.
	Version int64 `json:"version"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Key returns the composite ownership key for the scan.
func (s *Scan) Key() Key {
	return Key{ScanID: s.ID, CustomerID: s.CustomerID, TenantID: s.TenantID}
}

// Crawled reports whether a normalized URL has already been fetched.
func (s *Scan) Crawled(url string) bool {
	return s.CrawledURLs[url]
}

// Enqueued reports whether a normalized URL is already queued.
func (s *Scan) Enqueued(url string) bool {
	for _, q := range s.URLQueue {
		if q.URL == url {
			return true
		}
	}
	return false
}

// PageBudgetLeft returns how many more URLs may enter the crawl
// pipeline without exceeding MaxPages across both phases.
func (s *Scan) PageBudgetLeft() int {
	left := s.MaxPages - len(s.CrawledURLs) - len(s.URLQueue)
	if left < 0 {
		return 0
	}
	return left
}

// Page is persisted for each fetched page. It is immutable once
// created.
type Page struct {
	ID             string            `json:"id"`
	ScanID         string            `json:"scan_id"`
	URL            string            `json:"url"`
	Title          string            `json:"title"`
	PageType       string            `json:"page_type"`
	HasForm        bool              `json:"has_form"`
	HasCTA         bool              `json:"has_cta"`
	HasVideo       bool              `json:"has_video"`
	HasPhoneLink   bool              `json:"has_phone_link"`
	HasEmailLink   bool              `json:"has_email_link"`
	Headings       []string          `json:"headings,omitempty"`
	MetaTags       map[string]string `json:"meta_tags,omitempty"`
	ContentSummary string            `json:"content_summary,omitempty"`
	SnapshotURI    string            `json:"snapshot_uri,omitempty"`
	FetchedAt      time.Time         `json:"fetched_at"`
}

// RecommendationStatus tracks the accept state of one recommendation.
type RecommendationStatus string

// Recommendation statuses.
const (
	RecommendationPending  RecommendationStatus = "PENDING"
	RecommendationAccepted RecommendationStatus = "ACCEPTED"
)

// Recommendation is one proposed tracking event derived from crawl
// findings. Append-only per scan.
type Recommendation struct {
	ID        string               `json:"id"`
	ScanID    string               `json:"scan_id"`
	EventName string               `json:"event_name"`
	Trigger   string               `json:"trigger"`
	Rationale string               `json:"rationale"`
	Priority  int                  `json:"priority"`
	Status    RecommendationStatus `json:"status"`
	CreatedAt time.Time            `json:"created_at"`
}

// Credentials are ephemeral, per-call login input for pages behind an
// authentication wall. The chunk processor never persists them.
type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// SiteCredential is a customer-scoped, domain-keyed stored login.
// Referenced but not owned by any single scan.
type SiteCredential struct {
	ID         string    `json:"id"`
	CustomerID string    `json:"customer_id"`
	TenantID   string    `json:"tenant_id"`
	Domain     string    `json:"domain"`
	Username   string    `json:"username"`
	Password   string    `json:"-"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}
