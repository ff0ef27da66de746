// Package fetch implements the page fetch/extract capability using the
// Colly collector, with optional headless promotion for script-heavy
// pages.
package fetch

import (
	"context"
	"encoding/base64"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/tracklens/sitescanner/internal/metrics"
	"github.com/tracklens/sitescanner/internal/scan"
	"github.com/tracklens/sitescanner/internal/urlutil"
)

// Config controls collector behavior.
type Config struct {
	UserAgent    string
	Timeout      time.Duration
	PerHostRPS   float64
	PerHostBurst int
}

// PageFetcher implements scan.Fetcher using Colly for the fast path
// and an optional headless renderer for pages the detector flags as
// JavaScript shells.
type PageFetcher struct {
	cfg           Config
	baseCollector *colly.Collector
	limiter       *hostLimiter
	headless      *Headless
	detector      *shellDetector
	logger        *zap.Logger
}

// New builds a PageFetcher. headless may be nil to disable promotion.
func New(cfg Config, headless *Headless, logger *zap.Logger) *PageFetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	c := colly.NewCollector(colly.Async(false))
	c.WithTransport(newHTTPTransport())

	return &PageFetcher{
		cfg:           cfg,
		baseCollector: c,
		limiter:       newHostLimiter(cfg.PerHostRPS, cfg.PerHostBurst),
		headless:      headless,
		detector:      newShellDetector(0),
		logger:        logger,
	}
}

// Fetch executes one HTTP GET and extracts structured signals from the
// response document.
func (f *PageFetcher) Fetch(ctx context.Context, req scan.FetchRequest) (scan.FetchResult, error) {
	if err := f.limiter.Wait(ctx, urlutil.Host(req.URL)); err != nil {
		return scan.FetchResult{}, err
	}

	statusCode, body, err := f.visit(ctx, req)
	if err != nil {
		metrics.ObserveFetch(req.URL, "error")
		return scan.FetchResult{}, err
	}

	if f.headless != nil && f.detector.looksLikeShell(statusCode, body) {
		if rendered, rerr := f.headless.Render(ctx, req.URL); rerr == nil {
			body = rendered
		} else {
			f.logger.Warn("headless promotion failed, using fast-path body",
				zap.String("url", req.URL), zap.Error(rerr))
		}
	}

	result, err := extract(req.URL, statusCode, body)
	if err != nil {
		metrics.ObserveFetch(req.URL, "error")
		return scan.FetchResult{}, fmt.Errorf("extract %s: %w", req.URL, err)
	}
	if result.AuthWallDetected {
		metrics.ObserveFetch(req.URL, "auth_wall")
	} else {
		metrics.ObserveFetch(req.URL, "ok")
	}
	return result, nil
}

func (f *PageFetcher) visit(ctx context.Context, req scan.FetchRequest) (int, []byte, error) {
	collector := f.baseCollector.Clone()
	if f.cfg.UserAgent != "" {
		collector.UserAgent = f.cfg.UserAgent
	}
	collector.IgnoreRobotsTxt = true
	collector.SetRequestTimeout(f.cfg.Timeout)

	var (
		statusCode int
		body       []byte
		fetchErr   error
	)
	collector.OnRequest(func(r *colly.Request) {
		if req.Credentials != nil {
			r.Headers.Set("Authorization", basicAuth(req.Credentials))
		}
	})
	collector.OnResponse(func(r *colly.Response) {
		statusCode = r.StatusCode
		body = append([]byte(nil), r.Body...)
	})
	collector.OnError(func(r *colly.Response, err error) {
		// 401/403 responses arrive through OnError; they are auth
		// signals, not fetch failures.
		if r != nil && (r.StatusCode == 401 || r.StatusCode == 403) {
			statusCode = r.StatusCode
			body = append([]byte(nil), r.Body...)
			return
		}
		fetchErr = err
	})

	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(req.URL)
	}()

	select {
	case <-ctx.Done():
		return 0, nil, fmt.Errorf("fetch canceled: %w", ctx.Err())
	case err := <-done:
		if statusCode == 401 || statusCode == 403 {
			return statusCode, body, nil
		}
		if err != nil {
			return 0, nil, fmt.Errorf("visit %s: %w", req.URL, err)
		}
		if fetchErr != nil {
			return 0, nil, fmt.Errorf("fetch %s: %w", req.URL, fetchErr)
		}
		return statusCode, body, nil
	}
}

func basicAuth(creds *scan.Credentials) string {
	raw := creds.Username + ":" + creds.Password
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(raw))
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}

// hostLimiter keeps one token bucket per hostname so sequential chunk
// fetches stay polite toward the target site.
type hostLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rps      float64
	burst    int
}

func newHostLimiter(rps float64, burst int) *hostLimiter {
	if rps <= 0 {
		rps = 2
	}
	if burst <= 0 {
		burst = 1
	}
	return &hostLimiter{
		limiters: make(map[string]*rate.Limiter),
		rps:      rps,
		burst:    burst,
	}
}

func (l *hostLimiter) Wait(ctx context.Context, host string) error {
	l.mu.Lock()
	limiter, ok := l.limiters[host]
	if !ok {
		limiter = rate.NewLimiter(rate.Limit(l.rps), l.burst)
		l.limiters[host] = limiter
	}
	l.mu.Unlock()

	start := time.Now()
	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait for %s: %w", host, err)
	}
	metrics.ObserveRateLimitDelay(host, time.Since(start))
	return nil
}
