package stream

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/tracklens/sitescanner/internal/metrics"
	"github.com/tracklens/sitescanner/internal/scan"
	"github.com/tracklens/sitescanner/internal/store"
)

const (
	defaultInterval    = 2 * time.Second
	defaultMaxDuration = 15 * time.Minute
)

// Config controls polling cadence and the stream lifetime cap.
type Config struct {
	Interval    time.Duration
	MaxDuration time.Duration
}

// Poller drives one SSE subscription per Stream call by re-reading the
// scan record on a fixed interval and diffing against the last
// snapshot.
type Poller struct {
	cfg    Config
	store  store.ScanStore
	logger *zap.Logger
}

// New builds a Poller over the scan store.
func New(cfg Config, st store.ScanStore, logger *zap.Logger) *Poller {
	if cfg.Interval <= 0 {
		cfg.Interval = defaultInterval
	}
	if cfg.MaxDuration <= 0 {
		cfg.MaxDuration = defaultMaxDuration
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Poller{cfg: cfg, store: st, logger: logger}
}

// Stream polls the scan until a terminal status, the max stream
// duration, or context cancellation, whichever comes first. It emits
// one event per observed status transition plus page-count updates
// while a crawl phase is running. An emit error (client gone) ends the
// stream silently.
func (p *Poller) Stream(ctx context.Context, key scan.Key, emit func(Event) error) error {
	metrics.IncActiveStreams()
	defer metrics.DecActiveStreams()

	s, err := p.store.GetScan(ctx, key)
	if err != nil {
		return err
	}

	last := snapshot(s)
	if err := emit(p.event(EventStatus, s, last)); err != nil {
		return nil
	}
	if s.Status.Terminal() {
		err = emit(p.event(terminalEventType(s.Status), s, last))
		_ = err
		return nil
	}

	deadline := time.NewTimer(p.cfg.MaxDuration)
	defer deadline.Stop()
	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-deadline.C:
			p.logger.Debug("progress stream hit max duration",
				zap.String("scan_id", key.ScanID))
			return nil
		case <-ticker.C:
		}

		s, err := p.store.GetScan(ctx, key)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}
		current := snapshot(s)

		if current.Status != last.Status {
			if err := emit(p.event(EventStatus, s, current)); err != nil {
				return nil
			}
		} else if crawling(current.Status) && current.PagesCrawled > last.PagesCrawled {
			if err := emit(p.event(EventPageCrawled, s, current)); err != nil {
				return nil
			}
		}
		last = current

		if current.Status.Terminal() {
			err := emit(p.event(terminalEventType(current.Status), s, current))
			_ = err
			return nil
		}
	}
}

func (p *Poller) event(eventType string, s *scan.Scan, payload Payload) Event {
	return Event{
		Type:      eventType,
		ScanID:    s.ID,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	}
}

func crawling(status scan.Status) bool {
	return status == scan.StatusCrawling || status == scan.StatusDeepCrawling
}
