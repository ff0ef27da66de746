package engine

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/tracklens/sitescanner/internal/metrics"
	"github.com/tracklens/sitescanner/internal/recommend"
	"github.com/tracklens/sitescanner/internal/scan"
	"github.com/tracklens/sitescanner/internal/store"
	"github.com/tracklens/sitescanner/internal/urlutil"
)

// ChunkInput is one process-chunk invocation.
type ChunkInput struct {
	Key         scan.Key
	Phase       scan.Phase
	ChunkSize   int
	Credentials *scan.Credentials
}

// ChunkResult is the progress snapshot returned to the client loop.
type ChunkResult struct {
	PagesProcessed int         `json:"pages_processed"`
	QueueRemaining int         `json:"queue_remaining"`
	AuthRequired   bool        `json:"auth_required"`
	Status         scan.Status `json:"status"`
}

// ProcessChunk pops up to the chunk-size ceiling of URLs off the queue,
// fetches each sequentially, and persists the whole batch in one
// atomic write. An authentication wall pauses the phase with the
// blocking URL left at the queue front.
func (e *Engine) ProcessChunk(ctx context.Context, in ChunkInput) (ChunkResult, error) {
	start := e.clock.Now()
	res, err := e.processChunk(ctx, in)

	outcome := "ok"
	switch {
	case err != nil:
		outcome = "error"
	case res.AuthRequired:
		outcome = "auth_required"
	}
	metrics.ObserveChunk(string(in.Phase), outcome, e.clock.Now().Sub(start))
	return res, err
}

func (e *Engine) processChunk(ctx context.Context, in ChunkInput) (ChunkResult, error) {
	s, err := e.store.GetScan(ctx, in.Key)
	if err != nil {
		return ChunkResult{}, err
	}

	trigger := scan.TriggerProcessChunkDiscovery
	if in.Phase == scan.PhaseDeepCrawl {
		trigger = scan.TriggerProcessChunkDeep
	}
	if err := scan.CheckTrigger(trigger, s.Status); err != nil {
		return ChunkResult{Status: s.Status}, err
	}
	expectedVersion := s.Version

	creds := e.resolveCredentials(ctx, s, in.Credentials)

	size := chunkSize(in.Phase, in.ChunkSize)
	var (
		newPages  []scan.Page
		succeeded int
		attempted int
	)
	authRequired := false

	for len(s.URLQueue) > 0 && attempted < size {
		entry := s.URLQueue[0]
		attempted++

		req := scan.FetchRequest{URL: entry.URL, Credentials: creds}
		result, ferr := e.fetcher.Fetch(ctx, req)
		if ferr != nil {
			if ctx.Err() != nil {
				return ChunkResult{}, ctx.Err()
			}
			e.logger.Warn("page fetch failed, skipping",
				zap.String("scan_id", s.ID),
				zap.String("url", entry.URL),
				zap.Error(ferr),
			)
			e.popFront(s, entry.URL)
			continue
		}

		if result.AuthWallDetected {
			metrics.ObserveAuthWall()
			if creds == nil {
				// Pause with the blocking URL still at the front so the
				// next call, with credentials, retries it.
				s.ResumeStatus = s.Status
				s.Status = scan.StatusAwaitingAuth
				authRequired = true
				attempted--
				break
			}
			// Credentials supplied but the wall persists: bad login.
			// Skip the page so the crawl keeps moving.
			e.logger.Warn("auth wall persists with credentials, skipping page",
				zap.String("scan_id", s.ID),
				zap.String("url", entry.URL),
			)
			e.popFront(s, entry.URL)
			continue
		}

		e.popFront(s, entry.URL)
		succeeded++
		newPages = append(newPages, e.buildPage(ctx, s, entry.URL, result))
		s.Discovery.Merge(scan.Discovery{
			Technologies:      result.Technologies,
			ExistingAnalytics: result.Analytics,
		})

		if in.Phase == scan.PhaseDiscovery {
			e.enqueueLinks(s, entry, result.Links)
		}
	}

	if attempted > 0 && succeeded == 0 && !authRequired {
		// Nothing is persisted, so a retry cannot duplicate pages.
		return ChunkResult{Status: s.Status}, fmt.Errorf("%w: %d urls attempted", ErrChunkFailed, attempted)
	}

	var newRecs []scan.Recommendation
	if in.Phase == scan.PhaseDeepCrawl && len(s.URLQueue) == 0 && !authRequired {
		s.Status = scan.StatusAnalyzing
		newRecs, err = e.finalize(ctx, s, newPages)
		if err != nil {
			return ChunkResult{}, err
		}
	}

	if err := e.store.ApplyChunk(ctx, s, newPages, newRecs, expectedVersion); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return e.onWriteConflict(ctx, in, s)
		}
		return ChunkResult{}, err
	}

	if s.Status == scan.StatusCompleted {
		metrics.ObserveScanFinished(string(scan.StatusCompleted))
		e.notifyFinished(ctx, s)
	}

	e.logger.Info("chunk processed",
		zap.String("scan_id", s.ID),
		zap.String("phase", string(in.Phase)),
		zap.Int("pages_processed", succeeded),
		zap.Int("queue_remaining", len(s.URLQueue)),
		zap.String("status", string(s.Status)),
	)
	return ChunkResult{
		PagesProcessed: succeeded,
		QueueRemaining: len(s.URLQueue),
		AuthRequired:   authRequired,
		Status:         s.Status,
	}, nil
}

// onWriteConflict re-reads the record after a CAS rejection. A racing
// transition (typically cancel) wins silently; a concurrent chunk call
// for the same phase surfaces the conflict as retriable.
func (e *Engine) onWriteConflict(ctx context.Context, in ChunkInput, stale *scan.Scan) (ChunkResult, error) {
	fresh, err := e.store.GetScan(ctx, in.Key)
	if err != nil {
		return ChunkResult{}, err
	}
	if fresh.Status != in.Phase.CrawlStatus() {
		e.logger.Info("chunk write abandoned, scan transitioned concurrently",
			zap.String("scan_id", stale.ID),
			zap.String("status", string(fresh.Status)),
		)
		return ChunkResult{
			QueueRemaining: len(fresh.URLQueue),
			Status:         fresh.Status,
		}, nil
	}
	return ChunkResult{Status: fresh.Status}, store.ErrConflict
}

// finalize runs recommendation synthesis for a drained deep-crawl
// queue and moves the scan to COMPLETED.
func (e *Engine) finalize(ctx context.Context, s *scan.Scan, chunkPages []scan.Page) ([]scan.Recommendation, error) {
	stored, err := e.store.ListPages(ctx, s.Key())
	if err != nil {
		return nil, fmt.Errorf("loading pages for analysis: %w", err)
	}
	allPages := append(stored, chunkPages...)

	recs, summary := e.synth.Synthesize(s, allPages)
	s.TotalPagesScanned = len(allPages)
	s.TotalRecommendations = len(recs)
	s.TrackingReadinessScore = summary.ReadinessScore
	s.ReadinessNarrative = summary.Narrative
	s.Status = scan.StatusCompleted
	return recs, nil
}

func (e *Engine) notifyFinished(ctx context.Context, s *scan.Scan) {
	if e.notifier == nil {
		return
	}
	if err := e.notifier.ScanFinished(ctx, s); err != nil {
		e.logger.Warn("scan-finished notification failed",
			zap.String("scan_id", s.ID),
			zap.Error(err),
		)
	}
}

// popFront removes the head of the queue and records the URL as
// crawled, keeping the queue and crawled set disjoint.
func (e *Engine) popFront(s *scan.Scan, url string) {
	s.URLQueue = s.URLQueue[1:]
	if s.CrawledURLs == nil {
		s.CrawledURLs = map[string]bool{}
	}
	s.CrawledURLs[url] = true
}

// enqueueLinks appends newly seen same-host links during discovery,
// bounded by maxDepth and the remaining page budget. Links past either
// bound are still recorded as discovered.
func (e *Engine) enqueueLinks(s *scan.Scan, parent scan.QueuedURL, links []string) {
	for _, link := range links {
		if !urlutil.SameHost(s.WebsiteURL, link) {
			continue
		}
		if s.Crawled(link) || s.Enqueued(link) || contains(s.SiteMap, link) {
			continue
		}
		s.SiteMap = append(s.SiteMap, link)
		s.Discovery.TotalURLsDiscovered++

		if parent.Depth >= s.MaxDepth {
			continue
		}
		if s.PageBudgetLeft() <= 0 {
			continue
		}
		s.URLQueue = append(s.URLQueue, scan.QueuedURL{
			URL:    link,
			Depth:  parent.Depth + 1,
			Source: scan.SourceCrawl,
		})
	}
}

func (e *Engine) buildPage(ctx context.Context, s *scan.Scan, url string, result scan.FetchResult) scan.Page {
	page := scan.Page{
		ID:             e.ids.NewID(),
		ScanID:         s.ID,
		URL:            url,
		Title:          result.Title,
		PageType:       recommend.ClassifyPageType(url, result.Title),
		HasForm:        result.Signals.HasForm,
		HasCTA:         result.Signals.HasCTA,
		HasVideo:       result.Signals.HasVideo,
		HasPhoneLink:   result.Signals.HasPhoneLink,
		HasEmailLink:   result.Signals.HasEmailLink,
		Headings:       result.Headings,
		MetaTags:       result.MetaTags,
		ContentSummary: result.ContentSummary,
		FetchedAt:      e.clock.Now(),
	}
	if e.snapshots != nil && len(result.Body) > 0 {
		uri, err := e.snapshots.Save(ctx, s.ID, url, result.Body)
		if err != nil {
			e.logger.Warn("page snapshot failed",
				zap.String("scan_id", s.ID),
				zap.String("url", url),
				zap.Error(err),
			)
		} else {
			page.SnapshotURI = uri
		}
	}
	return page
}

// resolveCredentials falls back to the customer's stored login for the
// site's domain when the call carries none.
func (e *Engine) resolveCredentials(ctx context.Context, s *scan.Scan, supplied *scan.Credentials) *scan.Credentials {
	if supplied != nil || e.creds == nil {
		return supplied
	}
	stored, err := e.creds.GetByDomain(ctx, s.CustomerID, s.TenantID, urlutil.Host(s.WebsiteURL))
	if err != nil || stored == nil {
		return nil
	}
	return &scan.Credentials{Username: stored.Username, Password: stored.Password}
}

func chunkSize(phase scan.Phase, requested int) int {
	def, ceiling := DiscoveryChunkDefault, DiscoveryChunkCap
	if phase == scan.PhaseDeepCrawl {
		def, ceiling = DeepChunkDefault, DeepChunkCap
	}
	if requested <= 0 {
		return def
	}
	if requested > ceiling {
		return ceiling
	}
	return requested
}

func contains(list []string, v string) bool {
	for _, existing := range list {
		if existing == v {
			return true
		}
	}
	return false
}
