// Package engine orchestrates the scan lifecycle: seeding, chunked
// crawling, niche detection, and final recommendation synthesis. All
// state lives in the scan store; every operation here is one
// read-modify-write against it.
package engine

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/tracklens/sitescanner/internal/metrics"
	"github.com/tracklens/sitescanner/internal/recommend"
	"github.com/tracklens/sitescanner/internal/scan"
	"github.com/tracklens/sitescanner/internal/seeder"
	"github.com/tracklens/sitescanner/internal/store"
	"github.com/tracklens/sitescanner/internal/urlutil"
)

// ErrChunkFailed signals that every fetch in a chunk failed. Nothing
// was persisted, so the caller may retry safely.
var ErrChunkFailed = errors.New("chunk failed: no page could be fetched")

// ErrQueueNotEmpty rejects niche detection while discovery URLs remain.
var ErrQueueNotEmpty = errors.New("url queue not drained")

// Chunk sizing per phase. Deep-crawl pages cost more per fetch, so the
// nominal default is smaller but the ceiling is higher.
const (
	DiscoveryChunkDefault = 8
	DiscoveryChunkCap     = 10
	DeepChunkDefault      = 5
	DeepChunkCap          = 15
)

// Config bounds scans created without explicit limits.
type Config struct {
	DefaultMaxPages     int
	DefaultMaxDepth     int
	MaxPagesCeiling     int
	ConfidenceThreshold float64
	SeedURLCeiling      int
}

func (c *Config) applyDefaults() {
	if c.DefaultMaxPages <= 0 {
		c.DefaultMaxPages = 30
	}
	if c.DefaultMaxDepth <= 0 {
		c.DefaultMaxDepth = 3
	}
	if c.MaxPagesCeiling <= 0 {
		c.MaxPagesCeiling = 200
	}
	if c.ConfidenceThreshold <= 0 {
		c.ConfidenceThreshold = 0.6
	}
	if c.SeedURLCeiling <= 0 {
		c.SeedURLCeiling = 200
	}
}

// SnapshotStore archives raw page bodies. Optional; a nil store
// disables snapshots.
type SnapshotStore interface {
	Save(ctx context.Context, scanID, pageURL string, body []byte) (string, error)
}

// CredentialStore persists customer-scoped site logins. Optional.
type CredentialStore interface {
	Upsert(ctx context.Context, cred *scan.SiteCredential) error
	GetByDomain(ctx context.Context, customerID, tenantID, domain string) (*scan.SiteCredential, error)
}

// Engine wires the scan store, fetcher, seeder, classifier, and
// synthesizer into the client-driven scan operations.
type Engine struct {
	cfg        Config
	store      store.ScanStore
	fetcher    scan.Fetcher
	classifier scan.Classifier
	seeder     *seeder.Seeder
	synth      *recommend.Synthesizer
	notifier   scan.Notifier
	snapshots  SnapshotStore
	creds      CredentialStore
	clock      scan.Clock
	ids        scan.IDGenerator
	logger     *zap.Logger
}

// Options carries the optional collaborators.
type Options struct {
	Notifier    scan.Notifier
	Snapshots   SnapshotStore
	Credentials CredentialStore
}

// New builds an Engine. The store, fetcher, classifier, seeder, clock,
// and id generator are required.
func New(
	cfg Config,
	st store.ScanStore,
	fetcher scan.Fetcher,
	classifier scan.Classifier,
	sd *seeder.Seeder,
	synth *recommend.Synthesizer,
	clock scan.Clock,
	ids scan.IDGenerator,
	logger *zap.Logger,
	opts Options,
) *Engine {
	cfg.applyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		cfg:        cfg,
		store:      st,
		fetcher:    fetcher,
		classifier: classifier,
		seeder:     sd,
		synth:      synth,
		notifier:   opts.Notifier,
		snapshots:  opts.Snapshots,
		creds:      opts.Credentials,
		clock:      clock,
		ids:        ids,
		logger:     logger,
	}
}

// StartInput creates one scan for one customer's website.
type StartInput struct {
	CustomerID string
	TenantID   string
	WebsiteURL string
	MaxPages   int
	MaxDepth   int
}

// Start creates the scan record, probes the target site, seeds the URL
// queue from robots/sitemap discovery, and moves the scan to CRAWLING.
// An unreachable site yields a FAILED scan, not an error.
func (e *Engine) Start(ctx context.Context, in StartInput) (*scan.Scan, error) {
	homepage, err := urlutil.Normalize(in.WebsiteURL)
	if err != nil {
		return nil, fmt.Errorf("invalid website url %q: %w", in.WebsiteURL, err)
	}

	maxPages := in.MaxPages
	if maxPages <= 0 {
		maxPages = e.cfg.DefaultMaxPages
	}
	if maxPages > e.cfg.MaxPagesCeiling {
		maxPages = e.cfg.MaxPagesCeiling
	}
	maxDepth := in.MaxDepth
	if maxDepth <= 0 {
		maxDepth = e.cfg.DefaultMaxDepth
	}

	now := e.clock.Now()
	s := &scan.Scan{
		ID:          e.ids.NewID(),
		CustomerID:  in.CustomerID,
		TenantID:    in.TenantID,
		Status:      scan.StatusDiscovering,
		WebsiteURL:  homepage,
		MaxPages:    maxPages,
		MaxDepth:    maxDepth,
		CrawledURLs: map[string]bool{},
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := e.store.CreateScan(ctx, s); err != nil {
		return nil, err
	}

	if err := e.seeder.Probe(ctx, homepage); err != nil {
		e.logger.Warn("target site unreachable at scan start",
			zap.String("scan_id", s.ID),
			zap.String("website_url", homepage),
			zap.Error(err),
		)
		s.Status = scan.StatusFailed
		s.ErrorMessage = fmt.Sprintf("site unreachable: %v", err)
		if uerr := e.store.UpdateScan(ctx, s, s.Version); uerr != nil {
			return nil, uerr
		}
		metrics.ObserveScanFinished(string(scan.StatusFailed))
		e.notifyFinished(ctx, s)
		return s, nil
	}

	result := e.seeder.Discover(ctx, homepage)
	seedCeiling := maxPages
	if e.cfg.SeedURLCeiling < seedCeiling {
		seedCeiling = e.cfg.SeedURLCeiling
	}
	s.URLQueue = seeder.SeedQueue(homepage, result, seedCeiling)
	s.Discovery.Merge(scan.Discovery{
		SitemapFound:        result.SitemapFound,
		RobotsFound:         result.RobotsFound,
		TotalURLsDiscovered: len(s.URLQueue),
	})
	for _, q := range s.URLQueue {
		s.SiteMap = appendUnique(s.SiteMap, q.URL)
	}
	s.Status = scan.StatusCrawling

	if err := e.store.UpdateScan(ctx, s, s.Version); err != nil {
		return nil, err
	}

	e.logger.Info("scan started",
		zap.String("scan_id", s.ID),
		zap.String("customer_id", s.CustomerID),
		zap.String("website_url", homepage),
		zap.Int("seeded_urls", len(s.URLQueue)),
		zap.Bool("sitemap_found", result.SitemapFound),
	)
	return s, nil
}

// Get loads the freshest copy of a scan.
func (e *Engine) Get(ctx context.Context, key scan.Key) (*scan.Scan, error) {
	return e.store.GetScan(ctx, key)
}

// Pages lists the scan's crawled pages.
func (e *Engine) Pages(ctx context.Context, key scan.Key) ([]scan.Page, error) {
	return e.store.ListPages(ctx, key)
}

// Recommendations lists the scan's recommendations in insertion order.
func (e *Engine) Recommendations(ctx context.Context, key scan.Key) ([]scan.Recommendation, error) {
	return e.store.ListRecommendations(ctx, key)
}

// Cancel moves a non-terminal scan to CANCELLED. It retries version
// conflicts so a cancel is never lost to a racing chunk write.
func (e *Engine) Cancel(ctx context.Context, key scan.Key) (*scan.Scan, error) {
	for attempt := 0; attempt < 3; attempt++ {
		s, err := e.store.GetScan(ctx, key)
		if err != nil {
			return nil, err
		}
		if err := scan.CheckTrigger(scan.TriggerCancel, s.Status); err != nil {
			return nil, err
		}
		s.Status = scan.StatusCancelled
		s.ResumeStatus = ""
		err = e.store.UpdateScan(ctx, s, s.Version)
		if errors.Is(err, store.ErrConflict) {
			continue
		}
		if err != nil {
			return nil, err
		}
		metrics.ObserveScanFinished(string(scan.StatusCancelled))
		e.notifyFinished(ctx, s)
		e.logger.Info("scan cancelled", zap.String("scan_id", s.ID))
		return s, nil
	}
	return nil, store.ErrConflict
}

// AcceptRecommendation marks one recommendation ACCEPTED. Legal from
// any scan status; recommendation state is scoped to the child record.
func (e *Engine) AcceptRecommendation(ctx context.Context, key scan.Key, recID string) error {
	return e.store.SetRecommendationStatus(ctx, key, recID, scan.RecommendationAccepted)
}

// BulkAcceptRecommendations accepts each listed recommendation,
// stopping at the first store error.
func (e *Engine) BulkAcceptRecommendations(ctx context.Context, key scan.Key, recIDs []string) error {
	for _, id := range recIDs {
		if err := e.store.SetRecommendationStatus(ctx, key, id, scan.RecommendationAccepted); err != nil {
			return fmt.Errorf("accepting recommendation %s: %w", id, err)
		}
	}
	return nil
}

func appendUnique(list []string, v string) []string {
	for _, existing := range list {
		if existing == v {
			return list
		}
	}
	return append(list, v)
}
