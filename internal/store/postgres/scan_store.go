// Package postgres provides the Postgres-backed ScanStore.
//
// Expected schema:
//
//	CREATE TABLE scans (
//	    id          TEXT PRIMARY KEY,
//	    customer_id TEXT NOT NULL,
//	    tenant_id   TEXT NOT NULL,
//	    status      TEXT NOT NULL,
//	    version     BIGINT NOT NULL,
//	    state       JSONB NOT NULL,
//	    created_at  TIMESTAMPTZ NOT NULL,
//	    updated_at  TIMESTAMPTZ NOT NULL
//	);
//	CREATE INDEX scans_owner_idx ON scans (customer_id, tenant_id, status);
//
//	CREATE TABLE scan_pages (
//	    seq     BIGSERIAL PRIMARY KEY,
//	    id      TEXT NOT NULL,
//	    scan_id TEXT NOT NULL REFERENCES scans (id),
//	    data    JSONB NOT NULL
//	);
//
//	CREATE TABLE scan_recommendations (
//	    seq     BIGSERIAL PRIMARY KEY,
//	    id      TEXT NOT NULL,
//	    scan_id TEXT NOT NULL REFERENCES scans (id),
//	    status  TEXT NOT NULL,
//	    data    JSONB NOT NULL
//	);
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tracklens/sitescanner/internal/scan"
	"github.com/tracklens/sitescanner/internal/store"
)

// Config controls the Postgres connection pool backing the scan store.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

// pgxPool is the subset of pgxpool.Pool the store needs, satisfied by
// pgxmock in tests.
type pgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
	Close()
}

// executor covers the Exec surface shared by the pool and an open
// transaction, so the version-guarded update can run in either.
type executor interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// ScanStore implements store.ScanStore on Postgres. The full scan
// record rides in a JSONB column; the indexed columns exist only for
// the one-active-scan guard and the version predicate.
type ScanStore struct {
	pool pgxPool
}

// NewScanStore connects a pool and returns the store.
func NewScanStore(ctx context.Context, cfg Config) (*ScanStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &ScanStore{pool: pool}, nil
}

// NewScanStoreWithPool constructs a store from an existing pool
// (primarily for testing).
func NewScanStoreWithPool(pool pgxPool) (*ScanStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &ScanStore{pool: pool}, nil
}

// Close closes the underlying connection pool.
func (s *ScanStore) Close() {
	s.pool.Close()
}

const createScanSQL = `
	INSERT INTO scans (id, customer_id, tenant_id, status, version, state, created_at, updated_at)
	SELECT $1, $2, $3, $4, 1, $5, $6, $6
	WHERE NOT EXISTS (
		SELECT 1 FROM scans
		WHERE customer_id = $2 AND tenant_id = $3
		  AND status NOT IN ('COMPLETED', 'FAILED', 'CANCELLED')
	);`

// CreateScan inserts a new scan unless the customer already has a
// non-terminal one. The guard and the insert run as one statement so
// concurrent creates cannot both slip past the check.
func (s *ScanStore) CreateScan(ctx context.Context, sc *scan.Scan) error {
	sc.Version = 1
	state, err := json.Marshal(sc)
	if err != nil {
		return fmt.Errorf("marshal scan: %w", err)
	}
	tag, err := s.pool.Exec(ctx, createScanSQL,
		sc.ID, sc.CustomerID, sc.TenantID, string(sc.Status), state, sc.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert scan: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrActiveScanExists
	}
	return nil
}

const getScanSQL = `
	SELECT state FROM scans
	WHERE id = $1 AND customer_id = $2 AND tenant_id = $3;`

// GetScan loads the freshest copy of the scan or returns ErrNotFound.
func (s *ScanStore) GetScan(ctx context.Context, key scan.Key) (*scan.Scan, error) {
	var state []byte
	err := s.pool.QueryRow(ctx, getScanSQL, key.ScanID, key.CustomerID, key.TenantID).Scan(&state)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("get scan: %w", err)
	}
	var sc scan.Scan
	if err := json.Unmarshal(state, &sc); err != nil {
		return nil, fmt.Errorf("unmarshal scan: %w", err)
	}
	return &sc, nil
}

// UpdateScan replaces the record when the stored version still matches.
func (s *ScanStore) UpdateScan(ctx context.Context, sc *scan.Scan, expectedVersion int64) error {
	return s.updateScan(ctx, s.pool, sc, expectedVersion)
}

const applyChunkPageSQL = `
	INSERT INTO scan_pages (id, scan_id, data) VALUES ($1, $2, $3);`

const applyChunkRecSQL = `
	INSERT INTO scan_recommendations (id, scan_id, status, data) VALUES ($1, $2, $3, $4);`

// ApplyChunk writes the scan record plus the chunk's pages and
// recommendations in one transaction, so a version conflict leaves no
// partial rows behind.
func (s *ScanStore) ApplyChunk(
	ctx context.Context,
	sc *scan.Scan,
	pages []scan.Page,
	recs []scan.Recommendation,
	expectedVersion int64,
) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin chunk tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op after commit

	if err := s.updateScan(ctx, tx, sc, expectedVersion); err != nil {
		return err
	}
	for _, p := range pages {
		data, err := json.Marshal(p)
		if err != nil {
			return fmt.Errorf("marshal page: %w", err)
		}
		if _, err := tx.Exec(ctx, applyChunkPageSQL, p.ID, p.ScanID, data); err != nil {
			return fmt.Errorf("insert page: %w", err)
		}
	}
	for _, r := range recs {
		data, err := json.Marshal(r)
		if err != nil {
			return fmt.Errorf("marshal recommendation: %w", err)
		}
		if _, err := tx.Exec(ctx, applyChunkRecSQL, r.ID, r.ScanID, string(r.Status), data); err != nil {
			return fmt.Errorf("insert recommendation: %w", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit chunk tx: %w", err)
	}
	return nil
}

const listPagesSQL = `
	SELECT data FROM scan_pages WHERE scan_id = $1 ORDER BY seq;`

// ListPages returns all pages recorded for the scan.
func (s *ScanStore) ListPages(ctx context.Context, key scan.Key) ([]scan.Page, error) {
	if err := s.exists(ctx, key); err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx, listPagesSQL, key.ScanID)
	if err != nil {
		return nil, fmt.Errorf("list pages: %w", err)
	}
	defer rows.Close()

	var pages []scan.Page
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scan page row: %w", err)
		}
		var p scan.Page
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, fmt.Errorf("unmarshal page: %w", err)
		}
		pages = append(pages, p)
	}
	return pages, rows.Err()
}

const listRecsSQL = `
	SELECT data FROM scan_recommendations WHERE scan_id = $1 ORDER BY seq;`

// ListRecommendations returns the scan's recommendations in insertion
// order.
func (s *ScanStore) ListRecommendations(ctx context.Context, key scan.Key) ([]scan.Recommendation, error) {
	if err := s.exists(ctx, key); err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx, listRecsSQL, key.ScanID)
	if err != nil {
		return nil, fmt.Errorf("list recommendations: %w", err)
	}
	defer rows.Close()

	var recs []scan.Recommendation
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scan recommendation row: %w", err)
		}
		var r scan.Recommendation
		if err := json.Unmarshal(data, &r); err != nil {
			return nil, fmt.Errorf("unmarshal recommendation: %w", err)
		}
		recs = append(recs, r)
	}
	return recs, rows.Err()
}

const setRecStatusSQL = `
	UPDATE scan_recommendations
	SET status = $1, data = jsonb_set(data, '{status}', to_jsonb($1::text))
	WHERE scan_id = $2 AND id = $3;`

// SetRecommendationStatus updates one recommendation's accept state,
// keeping the JSONB copy in step with the column.
func (s *ScanStore) SetRecommendationStatus(
	ctx context.Context,
	key scan.Key,
	recID string,
	status scan.RecommendationStatus,
) error {
	if err := s.exists(ctx, key); err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx, setRecStatusSQL, string(status), key.ScanID, recID)
	if err != nil {
		return fmt.Errorf("set recommendation status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

const updateScanSQL = `
	UPDATE scans
	SET status = $1, version = $2, state = $3, updated_at = $4
	WHERE id = $5 AND customer_id = $6 AND tenant_id = $7 AND version = $8;`

const existsSQL = `
	SELECT 1 FROM scans
	WHERE id = $1 AND customer_id = $2 AND tenant_id = $3;`

// updateScan performs the version-guarded write on either the pool or
// an open transaction. A miss is disambiguated into ErrNotFound or
// ErrConflict with a follow-up existence probe.
func (s *ScanStore) updateScan(ctx context.Context, ex executor, sc *scan.Scan, expectedVersion int64) error {
	sc.Version = expectedVersion + 1
	sc.UpdatedAt = time.Now().UTC()
	state, err := json.Marshal(sc)
	if err != nil {
		return fmt.Errorf("marshal scan: %w", err)
	}
	tag, err := ex.Exec(ctx, updateScanSQL,
		string(sc.Status), sc.Version, state, sc.UpdatedAt,
		sc.ID, sc.CustomerID, sc.TenantID, expectedVersion,
	)
	if err != nil {
		return fmt.Errorf("update scan: %w", err)
	}
	if tag.RowsAffected() == 0 {
		sc.Version = expectedVersion
		if err := s.exists(ctx, sc.Key()); err != nil {
			return err
		}
		return store.ErrConflict
	}
	return nil
}

func (s *ScanStore) exists(ctx context.Context, key scan.Key) error {
	var one int
	err := s.pool.QueryRow(ctx, existsSQL, key.ScanID, key.CustomerID, key.TenantID).Scan(&one)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.ErrNotFound
		}
		return fmt.Errorf("probe scan: %w", err)
	}
	return nil
}
