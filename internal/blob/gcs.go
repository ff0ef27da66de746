package blob

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"cloud.google.com/go/storage"

	"github.com/tracklens/sitescanner/internal/hash/sha256"
)

// GCSConfig captures the parameters required to write snapshots to
// Google Cloud Storage.
type GCSConfig struct {
	Bucket string
	Prefix string
}

// GCSStore writes snapshots to a configured GCS bucket.
type GCSStore struct {
	client *storage.Client
	bucket string
	prefix string
	hasher *sha256.Hasher
}

// NewGCSStore creates a GCS-backed snapshot store.
func NewGCSStore(client *storage.Client, cfg GCSConfig) (*GCSStore, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	return &GCSStore{
		client: client,
		bucket: cfg.Bucket,
		prefix: cfg.Prefix,
		hasher: sha256.New(),
	}, nil
}

// Save uploads the page body and returns a gs:// URI.
func (s *GCSStore) Save(ctx context.Context, scanID, pageURL string, body []byte) (string, error) {
	path, err := objectPath(s.prefix, scanID, pageURL, s.hasher)
	if err != nil {
		return "", err
	}
	writer := s.client.Bucket(s.bucket).Object(path).NewWriter(ctx)
	writer.ContentType = "text/html"
	if _, err := io.Copy(writer, bytes.NewReader(body)); err != nil {
		if closeErr := writer.Close(); closeErr != nil {
			return "", fmt.Errorf("copy snapshot: %w (close writer: %v)", err, closeErr)
		}
		return "", fmt.Errorf("copy snapshot: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("close writer: %w", err)
	}
	return fmt.Sprintf("gs://%s/%s", s.bucket, path), nil
}
