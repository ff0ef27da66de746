// Package seeder discovers candidate URLs for a domain from robots.txt
// and sitemap files before any page is crawled.
package seeder

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/temoto/robotstxt"
	"go.uber.org/zap"

	"github.com/tracklens/sitescanner/internal/scan"
	"github.com/tracklens/sitescanner/internal/urlutil"
)

const (
	defaultURLCeiling   = 200
	defaultTimeout      = 10 * time.Second
	maxSitemapDepth     = 3
	maxSitemapBodyBytes = 10 << 20
)

// Config controls seeder behavior.
type Config struct {
	UserAgent  string
	Timeout    time.Duration
	URLCeiling int
}

// Result is the discovery outcome for one domain. A missing or
// malformed robots/sitemap degrades to an empty URL list; the seeder
// never fails its caller.
type Result struct {
	URLs         []string
	SitemapFound bool
	RobotsFound  bool
}

// Seeder reads robots.txt and expands sitemaps into a bounded,
// deduplicated URL list.
type Seeder struct {
	cfg    Config
	client *http.Client
	logger *zap.Logger
}

// New builds a Seeder.
func New(cfg Config, logger *zap.Logger) *Seeder {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.URLCeiling <= 0 {
		cfg.URLCeiling = defaultURLCeiling
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Seeder{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger,
	}
}

// Discover fetches robots.txt for the site, follows its Sitemap
// directives (falling back to the conventional /sitemap.xml), and
// returns up to the configured ceiling of normalized leaf URLs. The
// homepage is the caller's guaranteed seed, not this component's.
func (s *Seeder) Discover(ctx context.Context, websiteURL string) Result {
	base, err := urlutil.Normalize(websiteURL)
	if err != nil {
		s.logger.Warn("seed discovery skipped for unparsable url",
			zap.String("url", websiteURL), zap.Error(err))
		return Result{}
	}
	parsed, err := url.Parse(base)
	if err != nil || parsed.Host == "" {
		s.logger.Warn("seed discovery skipped for unparsable url",
			zap.String("url", websiteURL), zap.Error(err))
		return Result{}
	}
	origin := parsed.Scheme + "://" + parsed.Host

	result := Result{}
	sitemapURLs := s.readRobots(ctx, origin, &result)
	if len(sitemapURLs) == 0 {
		sitemapURLs = []string{origin + "/sitemap.xml"}
	}

	seen := make(map[string]struct{}, s.cfg.URLCeiling)
	for _, sm := range sitemapURLs {
		if len(result.URLs) >= s.cfg.URLCeiling {
			break
		}
		s.expandSitemap(ctx, sm, base, 0, seen, &result)
	}
	return result
}

// Probe verifies the target site answers at all. Any HTTP response,
// including errors like 404 or 503, counts as reachable; only a
// transport-level failure does not.
func (s *Seeder) Probe(ctx context.Context, websiteURL string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, websiteURL, nil)
	if err != nil {
		return fmt.Errorf("build probe request: %w", err)
	}
	s.setUserAgent(req)
	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("probe %s: %w", websiteURL, err)
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<16))
	_ = resp.Body.Close()
	return nil
}

// readRobots parses robots.txt and returns its Sitemap directives.
func (s *Seeder) readRobots(ctx context.Context, origin string, result *Result) []string {
	body, ok := s.get(ctx, origin+"/robots.txt")
	if !ok {
		return nil
	}
	robots, err := robotstxt.FromBytes(body)
	if err != nil {
		s.logger.Debug("malformed robots.txt ignored", zap.String("origin", origin), zap.Error(err))
		return nil
	}
	result.RobotsFound = true
	return append([]string(nil), robots.Sitemaps...)
}

// sitemapDoc covers both urlset and sitemapindex documents; only one
// of the two slices is populated per file.
type sitemapDoc struct {
	XMLName  xml.Name     `xml:""`
	URLs     []sitemapLoc `xml:"url"`
	Sitemaps []sitemapLoc `xml:"sitemap"`
}

type sitemapLoc struct {
	Loc string `xml:"loc"`
}

func (s *Seeder) expandSitemap(
	ctx context.Context,
	sitemapURL string,
	base string,
	depth int,
	seen map[string]struct{},
	result *Result,
) {
	if depth >= maxSitemapDepth || len(result.URLs) >= s.cfg.URLCeiling {
		return
	}
	body, ok := s.get(ctx, sitemapURL)
	if !ok {
		return
	}
	var doc sitemapDoc
	if err := xml.Unmarshal(body, &doc); err != nil {
		s.logger.Debug("malformed sitemap ignored", zap.String("sitemap", sitemapURL), zap.Error(err))
		return
	}
	result.SitemapFound = true

	for _, entry := range doc.Sitemaps {
		if len(result.URLs) >= s.cfg.URLCeiling {
			return
		}
		s.expandSitemap(ctx, strings.TrimSpace(entry.Loc), base, depth+1, seen, result)
	}
	for _, entry := range doc.URLs {
		if len(result.URLs) >= s.cfg.URLCeiling {
			return
		}
		normalized, err := urlutil.Normalize(entry.Loc)
		if err != nil || !urlutil.SameHost(normalized, base) {
			continue
		}
		if _, dup := seen[normalized]; dup {
			continue
		}
		seen[normalized] = struct{}{}
		result.URLs = append(result.URLs, normalized)
	}
}

// get returns the body for 2xx responses and false for everything else.
func (s *Seeder) get(ctx context.Context, rawURL string) ([]byte, bool) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, false
	}
	s.setUserAgent(req)
	resp, err := s.client.Do(req)
	if err != nil {
		s.logger.Debug("seed fetch failed", zap.String("url", rawURL), zap.Error(err))
		return nil, false
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, false
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxSitemapBodyBytes))
	if err != nil {
		return nil, false
	}
	return body, true
}

func (s *Seeder) setUserAgent(req *http.Request) {
	if s.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", s.cfg.UserAgent)
	}
}

// SeedQueue converts a discovery result plus the guaranteed homepage
// into the initial URL queue, deduplicated, homepage first.
func SeedQueue(homepage string, result Result, ceiling int) []scan.QueuedURL {
	queue := []scan.QueuedURL{{URL: homepage, Depth: 0, Source: scan.SourceHomepage}}
	seen := map[string]struct{}{homepage: {}}
	for _, u := range result.URLs {
		if ceiling > 0 && len(queue) >= ceiling {
			break
		}
		if _, dup := seen[u]; dup {
			continue
		}
		seen[u] = struct{}{}
		queue = append(queue, scan.QueuedURL{URL: u, Depth: 1, Source: scan.SourceSitemap})
	}
	return queue
}
