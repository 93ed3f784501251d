package postproc

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"creel/internal/config"
)

// MinioUploader archives finished recordings to an S3-compatible
// bucket.
type MinioUploader struct {
	client *minio.Client
	bucket string
}

// NewMinioUploader connects to the configured endpoint and ensures the
// bucket exists. Returns nil without error when uploads are disabled.
func NewMinioUploader(cfg *config.Config) (*MinioUploader, error) {
	if !cfg.Upload.Enabled {
		return nil, nil
	}
	endpoint := strings.TrimSpace(cfg.Upload.Endpoint)
	if endpoint == "" {
		return nil, fmt.Errorf("upload enabled but endpoint missing")
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.Upload.AccessKey, cfg.Upload.SecretKey, ""),
		Secure: cfg.Upload.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("initialize upload client: %w", err)
	}

	bucket := strings.TrimSpace(cfg.Upload.Bucket)
	if bucket == "" {
		bucket = "recordings"
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return nil, fmt.Errorf("check upload bucket: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create upload bucket: %w", err)
		}
	}

	return &MinioUploader{client: client, bucket: bucket}, nil
}

// Upload stores localPath in the bucket under objectName.
func (u *MinioUploader) Upload(ctx context.Context, localPath, objectName string) error {
	_, err := u.client.FPutObject(ctx, u.bucket, objectName, localPath, minio.PutObjectOptions{
		ContentType: "video/mp2t",
	})
	if err != nil {
		return fmt.Errorf("put object %s: %w", objectName, err)
	}
	return nil
}
