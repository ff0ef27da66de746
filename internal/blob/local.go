// Package blob stores page snapshots captured during a crawl. The
// local backend serves development; production uses the GCS backend.
package blob

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tracklens/sitescanner/internal/hash/sha256"
)

// LocalConfig captures the parameters for the filesystem snapshot
// store.
type LocalConfig struct {
	// BaseDir is the root directory where snapshots will be stored.
	BaseDir string
	// Prefix is prepended to every object path.
	Prefix string
}

// LocalStore writes snapshots to the local filesystem.
type LocalStore struct {
	baseDir string
	prefix  string
	hasher  *sha256.Hasher
}

// NewLocalStore creates a filesystem-backed snapshot store, creating
// the base directory if needed and verifying it is writable.
func NewLocalStore(cfg LocalConfig) (*LocalStore, error) {
	if strings.TrimSpace(cfg.BaseDir) == "" {
		return nil, fmt.Errorf("base directory is required")
	}
	info, err := os.Stat(cfg.BaseDir)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("stat base directory: %w", err)
		}
		if mkErr := os.MkdirAll(cfg.BaseDir, 0o750); mkErr != nil {
			return nil, fmt.Errorf("create base directory: %w", mkErr)
		}
	} else if !info.IsDir() {
		return nil, fmt.Errorf("base directory path is not a directory")
	}

	testFile := filepath.Join(cfg.BaseDir, ".writable_test")
	if err := os.WriteFile(testFile, []byte("test"), 0o600); err != nil {
		return nil, fmt.Errorf("base directory is not writable: %w", err)
	}
	if err := os.Remove(testFile); err != nil {
		return nil, fmt.Errorf("clean up write probe: %w", err)
	}

	return &LocalStore{
		baseDir: cfg.BaseDir,
		prefix:  cfg.Prefix,
		hasher:  sha256.New(),
	}, nil
}

// Save writes the page body under the scan's directory and returns a
// file:// URI.
func (s *LocalStore) Save(_ context.Context, scanID, pageURL string, body []byte) (string, error) {
	rel, err := objectPath(s.prefix, scanID, pageURL, s.hasher)
	if err != nil {
		return "", err
	}
	fullPath := filepath.Join(s.baseDir, filepath.FromSlash(rel))

	// Reject anything that escapes the base directory.
	cleanBase := filepath.Clean(s.baseDir)
	if !strings.HasPrefix(filepath.Clean(fullPath), cleanBase+string(filepath.Separator)) {
		return "", fmt.Errorf("path traversal detected")
	}
	if err := os.MkdirAll(filepath.Dir(fullPath), 0o750); err != nil {
		return "", fmt.Errorf("create snapshot directory: %w", err)
	}
	if err := os.WriteFile(fullPath, body, 0o600); err != nil {
		return "", fmt.Errorf("write snapshot: %w", err)
	}
	return fmt.Sprintf("file://%s", fullPath), nil
}

// objectPath builds "<prefix>/<scanID>/<sha256-of-url>.html". Hashing
// the URL keeps the name filesystem- and GCS-safe regardless of query
// strings or unicode paths.
func objectPath(prefix, scanID, pageURL string, hasher *sha256.Hasher) (string, error) {
	if scanID == "" || pageURL == "" {
		return "", fmt.Errorf("scan id and page url are required")
	}
	digest, err := hasher.Hash([]byte(pageURL))
	if err != nil {
		return "", fmt.Errorf("hash page url: %w", err)
	}
	parts := []string{scanID, digest + ".html"}
	if prefix != "" {
		parts = append([]string{strings.Trim(prefix, "/")}, parts...)
	}
	return strings.Join(parts, "/"), nil
}
