package archival

import (
	"context"
	"errors"
	"fmt"
	"io"

	"cloud.google.com/go/storage"
)

// GCSSink archives sealed batch bundles to Google Cloud Storage.
type GCSSink struct {
	client *storage.Client
	bucket string
	prefix string
}

// GCSConfig configures a GCSSink.
type GCSConfig struct {
	Bucket string
	Prefix string
}

// NewGCSSink builds a sink from cfg, grounded on teacher
// pkg/artifacts.NewGCSStore's application-default-credentials client.
func NewGCSSink(ctx context.Context, cfg GCSConfig) (*GCSSink, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("archival: create gcs client: %w", err)
	}
	return &GCSSink{client: client, bucket: cfg.Bucket, prefix: cfg.Prefix}, nil
}

func (s *GCSSink) object(batchID string) *storage.ObjectHandle {
	return s.client.Bucket(s.bucket).Object(bundleKey(s.prefix, batchID))
}

func (s *GCSSink) PutBundle(ctx context.Context, bundle Bundle) error {
	data, err := marshalBundle(bundle)
	if err != nil {
		return err
	}

	w := s.object(bundle.Batch.ID).NewWriter(ctx)
	w.ContentType = "application/json"
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return fmt.Errorf("archival: gcs write %s: %w", bundle.Batch.ID, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("archival: gcs close %s: %w", bundle.Batch.ID, err)
	}
	return nil
}

func (s *GCSSink) GetBundle(ctx context.Context, batchID string) (Bundle, error) {
	r, err := s.object(batchID).NewReader(ctx)
	if err != nil {
		return Bundle{}, fmt.Errorf("archival: gcs get %s: %w", batchID, err)
	}
	defer func() { _ = r.Close() }()

	data, err := io.ReadAll(r)
	if err != nil {
		return Bundle{}, fmt.Errorf("archival: read gcs body for %s: %w", batchID, err)
	}
	return unmarshalBundle(data)
}

func (s *GCSSink) Exists(ctx context.Context, batchID string) (bool, error) {
	_, err := s.object(batchID).Attrs(ctx)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, storage.ErrObjectNotExist) {
		return false, nil
	}
	return false, fmt.Errorf("archival: gcs attrs %s: %w", batchID, err)
}

// Close releases the underlying GCS client.
func (s *GCSSink) Close() error {
	return s.client.Close()
}
