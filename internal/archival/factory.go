package archival

import (
	"context"
	"fmt"
)

// Config selects and configures the archival tagged variant, mirroring the
// shape of config.ArchivalConfig (kept separate to avoid an import cycle
// between internal/config and internal/archival).
type Config struct {
	Backend string // "s3" or "gcs"
	Bucket  string
	Prefix  string
	Region  string // s3 only
}

// NewSink builds the configured tagged variant, grounded on teacher
// pkg/artifacts.NewStoreFromEnv's switch-on-backend-string factory (§9:
// "tagged variants, no reflection").
func NewSink(ctx context.Context, cfg Config) (Sink, error) {
	switch cfg.Backend {
	case "s3":
		if cfg.Bucket == "" {
			return nil, fmt.Errorf("archival: bucket is required for s3 backend")
		}
		return NewS3Sink(ctx, S3Config{Bucket: cfg.Bucket, Region: cfg.Region, Prefix: cfg.Prefix})
	case "gcs":
		if cfg.Bucket == "" {
			return nil, fmt.Errorf("archival: bucket is required for gcs backend")
		}
		return NewGCSSink(ctx, GCSConfig{Bucket: cfg.Bucket, Prefix: cfg.Prefix})
	default:
		return nil, fmt.Errorf("archival: unsupported backend %q (want s3 or gcs)", cfg.Backend)
	}
}
