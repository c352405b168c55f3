package storage

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"go.uber.org/zap"

	"merchant-verification/internal/config"
	"merchant-verification/internal/model"
	"merchant-verification/internal/util"
)

var ErrBucketNotConfigured = errors.New("storage bucket not configured")

// ObjectPutter is the subset of the S3 client the blob store needs.
type ObjectPutter interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	HeadBucket(ctx context.Context, in *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
}

// S3BlobStore uploads verification artifacts to a private bucket with
// server-side encryption. Objects are never overwritten because every path
// carries a fresh artifact ID.
type S3BlobStore struct {
	client ObjectPutter
	cfg    config.StorageConfig
}

func NewS3BlobStore(client ObjectPutter, cfg config.StorageConfig) (*S3BlobStore, error) {
	if cfg.Bucket == "" {
		return nil, ErrBucketNotConfigured
	}
	return &S3BlobStore{client: client, cfg: cfg}, nil
}

// NewS3Client builds an S3 client from the default credential chain. A custom
// endpoint targets S3-compatible stores such as MinIO.
func NewS3Client(ctx context.Context, cfg config.StorageConfig) (*s3.Client, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}
	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	}), nil
}

func (s *S3BlobStore) Put(ctx context.Context, path string, upload *model.Upload) (string, error) {
	input := &s3.PutObjectInput{
		Bucket:               aws.String(s.cfg.Bucket),
		Key:                  aws.String(path),
		Body:                 upload.Body,
		ContentType:          aws.String(upload.MimeType),
		ServerSideEncryption: types.ServerSideEncryptionAes256,
	}
	if upload.Size > 0 {
		input.ContentLength = aws.Int64(upload.Size)
	}

	if _, err := s.client.PutObject(ctx, input); err != nil {
		util.Error("Failed to upload verification artifact",
			zap.String("bucket", s.cfg.Bucket),
			zap.String("path", path),
			zap.Error(err))
		return "", fmt.Errorf("failed to upload %s: %w", path, err)
	}

	return s.ObjectURL(path), nil
}

// ObjectURL returns the address reviewers use to fetch an artifact.
func (s *S3BlobStore) ObjectURL(path string) string {
	escaped := escapePath(path)
	if s.cfg.PublicBaseURL != "" {
		return strings.TrimRight(s.cfg.PublicBaseURL, "/") + "/" + escaped
	}
	if s.cfg.Endpoint != "" {
		return strings.TrimRight(s.cfg.Endpoint, "/") + "/" + s.cfg.Bucket + "/" + escaped
	}
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", s.cfg.Bucket, s.cfg.Region, escaped)
}

func (s *S3BlobStore) HealthCheck(ctx context.Context) error {
	if _, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.cfg.Bucket)}); err != nil {
		return fmt.Errorf("s3 health check failed: %w", err)
	}
	return nil
}

func escapePath(path string) string {
	parts := strings.Split(path, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return strings.Join(parts, "/")
}
