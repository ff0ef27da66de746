package engine

import (
	"context"
	"fmt"
	"net/url"
	"sort"

	"go.uber.org/zap"

	"github.com/tracklens/sitescanner/internal/scan"
	"github.com/tracklens/sitescanner/internal/urlutil"
)

const maxURLPatterns = 40

// DetectNiche classifies the site from the drained discovery pass and
// writes the verdict plus the derived summaries. Low-confidence
// verdicts land in AWAITING_CONFIRMATION instead of NICHE_DETECTED.
func (e *Engine) DetectNiche(ctx context.Context, key scan.Key) (*scan.Scan, error) {
	s, err := e.store.GetScan(ctx, key)
	if err != nil {
		return nil, err
	}
	if err := scan.CheckTrigger(scan.TriggerDetectNiche, s.Status); err != nil {
		return nil, err
	}
	if len(s.URLQueue) > 0 {
		return nil, fmt.Errorf("%w: %d urls pending", ErrQueueNotEmpty, len(s.URLQueue))
	}

	pages, err := e.store.ListPages(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("loading pages for classification: %w", err)
	}

	summary := buildCrawlSummary(s, pages)
	result, err := e.classifier.Classify(ctx, summary)
	if err != nil {
		// The fallback classifier absorbs outages; an error here means
		// even the degraded path failed.
		return nil, fmt.Errorf("classifying niche: %w", err)
	}

	s.DetectedNiche = result.Niche
	s.NicheConfidence = result.Confidence
	s.NicheSubCategory = result.SubCategory
	s.NicheSignals = result.Signals

	s.DetectedTechnologies = append([]string(nil), s.Discovery.Technologies...)
	s.ExistingTracking = append([]string(nil), s.Discovery.ExistingAnalytics...)
	sort.Strings(s.SiteMap)

	if result.Confidence >= e.cfg.ConfidenceThreshold {
		s.Status = scan.StatusNicheDetected
	} else {
		s.Status = scan.StatusAwaitingConfirmation
	}

	if err := e.store.UpdateScan(ctx, s, s.Version); err != nil {
		return nil, err
	}

	e.logger.Info("niche detected",
		zap.String("scan_id", s.ID),
		zap.String("niche", result.Niche),
		zap.Float64("confidence", result.Confidence),
		zap.String("status", string(s.Status)),
	)
	return s, nil
}

// ConfirmNiche records the user's verdict and seeds the deep-crawl
// queue with discovered-but-uncrawled URLs, bounded by the remaining
// page budget.
func (e *Engine) ConfirmNiche(ctx context.Context, key scan.Key, confirmed string) (*scan.Scan, error) {
	s, err := e.store.GetScan(ctx, key)
	if err != nil {
		return nil, err
	}
	if err := scan.CheckTrigger(scan.TriggerConfirmNiche, s.Status); err != nil {
		return nil, err
	}

	if confirmed == "" {
		confirmed = s.DetectedNiche
	}
	s.ConfirmedNiche = confirmed

	budget := s.PageBudgetLeft()
	for _, u := range s.SiteMap {
		if budget <= 0 {
			break
		}
		if s.Crawled(u) || s.Enqueued(u) {
			continue
		}
		s.URLQueue = append(s.URLQueue, scan.QueuedURL{
			URL:    u,
			Depth:  1,
			Source: scan.SourceSiteMap,
		})
		budget--
	}
	s.Status = scan.StatusDeepCrawling

	if err := e.store.UpdateScan(ctx, s, s.Version); err != nil {
		return nil, err
	}

	e.logger.Info("niche confirmed, deep crawl queued",
		zap.String("scan_id", s.ID),
		zap.String("confirmed_niche", confirmed),
		zap.Int("queued_urls", len(s.URLQueue)),
	)
	return s, nil
}

// CredentialsInput resumes a scan paused at an authentication wall.
type CredentialsInput struct {
	Key         scan.Key
	Credentials scan.Credentials
	// Save stores the login for the site's domain so later scans can
	// reuse it. The scan record itself never holds credentials.
	Save bool
}

// ProvideCredentials returns an AWAITING_AUTH scan to the exact phase
// the wall interrupted. The caller passes the same credentials to the
// next process-chunk call; this operation only unblocks the status.
func (e *Engine) ProvideCredentials(ctx context.Context, in CredentialsInput) (*scan.Scan, error) {
	s, err := e.store.GetScan(ctx, in.Key)
	if err != nil {
		return nil, err
	}
	if err := scan.CheckTrigger(scan.TriggerProvideCredentials, s.Status); err != nil {
		return nil, err
	}

	resumed := s.ResumeStatus
	if resumed == "" {
		resumed = scan.StatusCrawling
	}
	s.Status = resumed
	s.ResumeStatus = ""

	if err := e.store.UpdateScan(ctx, s, s.Version); err != nil {
		return nil, err
	}

	if in.Save && e.creds != nil {
		e.saveCredential(ctx, s, in.Credentials)
	}

	e.logger.Info("credentials provided, scan resumed",
		zap.String("scan_id", s.ID),
		zap.String("status", string(s.Status)),
	)
	return s, nil
}

func (e *Engine) saveCredential(ctx context.Context, s *scan.Scan, creds scan.Credentials) {
	now := e.clock.Now()
	err := e.creds.Upsert(ctx, &scan.SiteCredential{
		ID:         e.ids.NewID(),
		CustomerID: s.CustomerID,
		TenantID:   s.TenantID,
		Domain:     urlutil.Host(s.WebsiteURL),
		Username:   creds.Username,
		Password:   creds.Password,
		CreatedAt:  now,
		UpdatedAt:  now,
	})
	if err != nil {
		e.logger.Warn("storing site credential failed",
			zap.String("scan_id", s.ID),
			zap.Error(err),
		)
	}
}

// buildCrawlSummary assembles the classifier input from the discovery
// pass: a page-type histogram, URL path patterns, homepage content, and
// the technology signals.
func buildCrawlSummary(s *scan.Scan, pages []scan.Page) scan.CrawlSummary {
	summary := scan.CrawlSummary{
		WebsiteURL:   s.WebsiteURL,
		PageTypes:    map[string]int{},
		Technologies: append([]string(nil), s.Discovery.Technologies...),
	}
	for _, p := range pages {
		summary.PageTypes[p.PageType]++
		if p.PageType == "homepage" && summary.HomepageTitle == "" {
			summary.HomepageTitle = p.Title
			summary.HomepageContent = p.ContentSummary
		}
	}
	if summary.HomepageTitle == "" && len(pages) > 0 {
		summary.HomepageTitle = pages[0].Title
		summary.HomepageContent = pages[0].ContentSummary
	}

	for _, raw := range s.SiteMap {
		if len(summary.URLPatterns) >= maxURLPatterns {
			break
		}
		if u, err := url.Parse(raw); err == nil && u.Path != "" && u.Path != "/" {
			summary.URLPatterns = append(summary.URLPatterns, u.Path)
		}
	}
	return summary
}
