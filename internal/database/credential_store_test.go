// Package database_test contains unit tests for the credential store.
package database_test

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tracklens/sitescanner/internal/database"
	"github.com/tracklens/sitescanner/internal/scan"
	"github.com/tracklens/sitescanner/internal/store"
)

func newMockStore(t *testing.T) (*database.CredentialStore, sqlmock.Sqlmock) {
	t.Helper()
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { mockDB.Close() }) //nolint:errcheck
	return &database.CredentialStore{DB: sqlx.NewDb(mockDB, "sqlmock")}, mock
}

func TestCredentialStoreUpsert(t *testing.T) {
	cs, mock := newMockStore(t)

	now := time.Unix(1700000000, 0).UTC()
	cred := &scan.SiteCredential{
		ID:         "cred-1",
		CustomerID: "cust-1",
		TenantID:   "tenant-1",
		Domain:     "example.com",
		Username:   "admin",
		Password:   "hunter2",
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO site_credentials")).
		WithArgs(cred.ID, cred.CustomerID, cred.TenantID, cred.Domain,
			cred.Username, cred.Password, cred.UpdatedAt).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, cs.Upsert(context.Background(), cred))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCredentialStoreGetByDomain(t *testing.T) {
	cs, mock := newMockStore(t)

	now := time.Unix(1700000000, 0).UTC()
	rows := sqlmock.NewRows([]string{
		"id", "customer_id", "tenant_id", "domain", "username", "password", "created_at", "updated_at",
	}).AddRow("cred-1", "cust-1", "tenant-1", "example.com", "admin", "hunter2", now, now)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, customer_id, tenant_id, domain, username, password, created_at, updated_at")).
		WithArgs("cust-1", "tenant-1", "example.com").
		WillReturnRows(rows)

	cred, err := cs.GetByDomain(context.Background(), "cust-1", "tenant-1", "example.com")
	require.NoError(t, err)
	assert.Equal(t, "admin", cred.Username)
	assert.Equal(t, "hunter2", cred.Password)
	assert.Equal(t, now, cred.UpdatedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCredentialStoreGetByDomainNotFound(t *testing.T) {
	cs, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, customer_id, tenant_id, domain, username, password, created_at, updated_at")).
		WithArgs("cust-1", "tenant-1", "nosuch.example").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := cs.GetByDomain(context.Background(), "cust-1", "tenant-1", "nosuch.example")
	require.ErrorIs(t, err, store.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}
