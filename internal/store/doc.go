// Package store declares the persistence contract for scan records.
//
// ScanStore is the single seam between the scan engine and storage:
// implementations live in the memory and postgres subpackages and must
// honor the sentinel errors declared here (ErrNotFound, ErrConflict,
// ErrActiveScanExists). This package must not import database drivers
// or concrete clients.
package store
