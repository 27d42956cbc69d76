package archive

import (
	"context"
	"fmt"
	"io"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinIOConfig holds object storage settings for archive snapshots
type MinIOConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	UseSSL    bool
	Bucket    string
}

// MinIOUploader implements Uploader on top of an S3 compatible bucket
type MinIOUploader struct {
	core   *minio.Core
	bucket string
}

// NewMinIOUploader validates cfg and creates the client. No request is made.
func NewMinIOUploader(cfg MinIOConfig) (*MinIOUploader, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("minio endpoint is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("minio bucket is required")
	}
	if cfg.AccessKey == "" || cfg.SecretKey == "" {
		return nil, fmt.Errorf("minio credentials are required")
	}

	core, err := minio.NewCore(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio core failed: %w", err)
	}
	return &MinIOUploader{core: core, bucket: cfg.Bucket}, nil
}

// Upload stores r under key in the configured bucket
func (u *MinIOUploader) Upload(ctx context.Context, key string, r io.Reader, size int64) error {
	if key == "" {
		return fmt.Errorf("key is required")
	}
	opts := minio.PutObjectOptions{ContentType: "application/zstd"}
	if _, err := u.core.PutObject(ctx, u.bucket, key, r, size, "", "", opts); err != nil {
		return fmt.Errorf("minio put object failed: %w", err)
	}
	return nil
}
