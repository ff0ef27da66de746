// Package memory provides an in-memory ScanStore for development and
// testing.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/tracklens/sitescanner/internal/scan"
	"github.com/tracklens/sitescanner/internal/store"
)

// ScanStore keeps scans, pages, and recommendations in maps guarded by
// one RWMutex. Records are deep-copied on the way in and out so callers
// never alias stored state.
type ScanStore struct {
	mu    sync.RWMutex
	scans map[string]*scan.Scan
	pages map[string][]scan.Page
	recs  map[string][]scan.Recommendation
}

// NewScanStore constructs an empty ScanStore.
func NewScanStore() *ScanStore {
	return &ScanStore{
		scans: make(map[string]*scan.Scan),
		pages: make(map[string][]scan.Page),
		recs:  make(map[string][]scan.Recommendation),
	}
}

// CreateScan stores a new scan, rejecting a second non-terminal scan
// for the same customer.
func (s *ScanStore) CreateScan(_ context.Context, sc *scan.Scan) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.scans {
		if existing.CustomerID == sc.CustomerID &&
			existing.TenantID == sc.TenantID &&
			!existing.Status.Terminal() {
			return store.ErrActiveScanExists
		}
	}
	cp := cloneScan(sc)
	cp.Version = 1
	s.scans[sc.ID] = cp
	sc.Version = cp.Version
	return nil
}

// GetScan returns a copy of the scan matching all three key fields.
func (s *ScanStore) GetScan(_ context.Context, key scan.Key) (*scan.Scan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sc, err := s.lookup(key)
	if err != nil {
		return nil, err
	}
	return cloneScan(sc), nil
}

// UpdateScan replaces the record when the stored version matches.
func (s *ScanStore) UpdateScan(_ context.Context, sc *scan.Scan, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.replace(sc, nil, nil, expectedVersion)
}

// ApplyChunk replaces the record and appends pages/recommendations in
// one critical section.
func (s *ScanStore) ApplyChunk(
	_ context.Context,
	sc *scan.Scan,
	pages []scan.Page,
	recs []scan.Recommendation,
	expectedVersion int64,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.replace(sc, pages, recs, expectedVersion)
}

// ListPages returns all pages recorded for the scan.
func (s *ScanStore) ListPages(_ context.Context, key scan.Key) ([]scan.Page, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, err := s.lookup(key); err != nil {
		return nil, err
	}
	pages := s.pages[key.ScanID]
	out := make([]scan.Page, len(pages))
	copy(out, pages)
	return out, nil
}

// ListRecommendations returns the scan's recommendations in insertion
// order.
func (s *ScanStore) ListRecommendations(_ context.Context, key scan.Key) ([]scan.Recommendation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, err := s.lookup(key); err != nil {
		return nil, err
	}
	recs := s.recs[key.ScanID]
	out := make([]scan.Recommendation, len(recs))
	copy(out, recs)
	return out, nil
}

// SetRecommendationStatus updates one recommendation's accept state.
func (s *ScanStore) SetRecommendationStatus(
	_ context.Context,
	key scan.Key,
	recID string,
	status scan.RecommendationStatus,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.lookup(key); err != nil {
		return err
	}
	recs := s.recs[key.ScanID]
	for i := range recs {
		if recs[i].ID == recID {
			recs[i].Status = status
			return nil
		}
	}
	return store.ErrNotFound
}

// lookup must be called with the mutex held.
func (s *ScanStore) lookup(key scan.Key) (*scan.Scan, error) {
	sc, ok := s.scans[key.ScanID]
	if !ok || sc.CustomerID != key.CustomerID || sc.TenantID != key.TenantID {
		return nil, store.ErrNotFound
	}
	return sc, nil
}

// replace must be called with the mutex held.
func (s *ScanStore) replace(
	sc *scan.Scan,
	pages []scan.Page,
	recs []scan.Recommendation,
	expectedVersion int64,
) error {
	current, err := s.lookup(sc.Key())
	if err != nil {
		return err
	}
	if current.Version != expectedVersion {
		return store.ErrConflict
	}
	cp := cloneScan(sc)
	cp.Version = expectedVersion + 1
	cp.UpdatedAt = time.Now().UTC()
	s.scans[sc.ID] = cp
	s.pages[sc.ID] = append(s.pages[sc.ID], pages...)
	s.recs[sc.ID] = append(s.recs[sc.ID], recs...)
	sc.Version = cp.Version
	sc.UpdatedAt = cp.UpdatedAt
	return nil
}

func cloneScan(src *scan.Scan) *scan.Scan {
	cp := *src
	cp.URLQueue = append([]scan.QueuedURL(nil), src.URLQueue...)
	if src.CrawledURLs != nil {
		cp.CrawledURLs = make(map[string]bool, len(src.CrawledURLs))
		for k, v := range src.CrawledURLs {
			cp.CrawledURLs[k] = v
		}
	}
	cp.Discovery.Technologies = append([]string(nil), src.Discovery.Technologies...)
	cp.Discovery.ExistingAnalytics = append([]string(nil), src.Discovery.ExistingAnalytics...)
	cp.NicheSignals = append([]string(nil), src.NicheSignals...)
	cp.DetectedTechnologies = append([]string(nil), src.DetectedTechnologies...)
	cp.ExistingTracking = append([]string(nil), src.ExistingTracking...)
	cp.SiteMap = append([]string(nil), src.SiteMap...)
	return &cp
}
