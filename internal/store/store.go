package store

import (
	"context"
	"errors"

	"github.com/tracklens/sitescanner/internal/scan"
)

// ErrNotFound signals that no scan matches the composite key.
var ErrNotFound = errors.New("scan not found")

// ErrConflict signals an optimistic-concurrency rejection: the stored
// record moved past the expected version. Retriable after a re-read.
var ErrConflict = errors.New("scan version conflict")

// ErrActiveScanExists rejects creation while the customer already has a
// non-terminal scan.
var ErrActiveScanExists = errors.New("customer already has an active scan")

// ScanStore is the single source of truth shared by the chunk
// processor, the transition handlers, and the progress stream. All
// writes are read-modify-write against one record, guarded by the
// scan's version token.
type ScanStore interface {
	// CreateScan persists a new scan, enforcing the one-active-scan-per-
	// customer invariant.
	CreateScan(ctx context.Context, s *scan.Scan) error

	// GetScan loads the freshest copy of a scan or returns ErrNotFound.
	// All three key fields are matched.
	GetScan(ctx context.Context, key scan.Key) (*scan.Scan, error)

	// UpdateScan replaces the scan record if its stored version still
	// equals expectedVersion, bumping the version on success.
	UpdateScan(ctx context.Context, s *scan.Scan, expectedVersion int64) error

	// ApplyChunk atomically replaces the scan record and inserts the
	// chunk's new pages and, at completion, its recommendations. The
	// whole write succeeds or fails together.
	ApplyChunk(ctx context.Context, s *scan.Scan, pages []scan.Page, recs []scan.Recommendation, expectedVersion int64) error

	// ListPages returns all pages recorded for the scan.
	ListPages(ctx context.Context, key scan.Key) ([]scan.Page, error)

	// ListRecommendations returns the scan's recommendations in
	// insertion order.
	ListRecommendations(ctx context.Context, key scan.Key) ([]scan.Recommendation, error)

	// SetRecommendationStatus updates one recommendation's accept state.
	SetRecommendationStatus(ctx context.Context, key scan.Key, recID string, status scan.RecommendationStatus) error
}
