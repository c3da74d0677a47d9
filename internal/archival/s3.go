package archival

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// S3Sink archives sealed batch bundles to AWS S3.
type S3Sink struct {
	client *s3.Client
	bucket string
	prefix string
}

// S3Config configures an S3Sink.
type S3Config struct {
	Bucket   string
	Region   string
	Endpoint string // optional custom endpoint (MinIO, LocalStack)
	Prefix   string
}

// NewS3Sink builds a sink from cfg, grounded on teacher
// pkg/artifacts.NewS3Store's AWS config loading and custom-endpoint support.
func NewS3Sink(ctx context.Context, cfg S3Config) (*S3Sink, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("archival: load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	return &S3Sink{client: client, bucket: cfg.Bucket, prefix: cfg.Prefix}, nil
}

func (s *S3Sink) PutBundle(ctx context.Context, bundle Bundle) error {
	data, err := marshalBundle(bundle)
	if err != nil {
		return err
	}
	key := bundleKey(s.prefix, bundle.Batch.ID)

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("archival: s3 put %s: %w", bundle.Batch.ID, err)
	}
	return nil
}

func (s *S3Sink) GetBundle(ctx context.Context, batchID string) (Bundle, error) {
	key := bundleKey(s.prefix, batchID)
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return Bundle{}, fmt.Errorf("archival: s3 get %s: %w", batchID, err)
	}
	defer func() { _ = out.Body.Close() }()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return Bundle{}, fmt.Errorf("archival: read s3 body for %s: %w", batchID, err)
	}
	return unmarshalBundle(data)
}

func (s *S3Sink) Exists(ctx context.Context, batchID string) (bool, error) {
	key := bundleKey(s.prefix, batchID)
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err == nil {
		return true, nil
	}
	var notFound *types.NotFound
	if errors.As(err, &notFound) {
		return false, nil
	}
	return false, fmt.Errorf("archival: s3 head %s: %w", batchID, err)
}
