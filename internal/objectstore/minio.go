package objectstore

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/josephversace/caile-evidence/internal/config"
)

// MinioGateway implements Gateway against MinIO/S3.
type MinioGateway struct {
	client *minio.Client
	bucket string
	region string
}

// NewMinioGateway creates a MinIO client from the Config.
func NewMinioGateway(cfg *config.Config) (*MinioGateway, error) {
	client, err := minio.New(cfg.S3Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.S3AccessKey, cfg.S3SecretKey, ""),
		Secure: cfg.S3UseSSL,
		Region: cfg.S3Region,
	})
	if err != nil {
		return nil, fmt.Errorf("init minio: %w", err)
	}
	return &MinioGateway{
		client: client,
		bucket: cfg.EvidenceBucket,
		region: cfg.S3Region,
	}, nil
}

// EnsureBucket makes sure the evidence bucket exists before use.
func (g *MinioGateway) EnsureBucket(ctx context.Context) error {
	exists, err := g.client.BucketExists(ctx, g.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", g.bucket, err)
	}
	if !exists {
		if err := g.client.MakeBucket(ctx, g.bucket, minio.MakeBucketOptions{Region: g.region}); err != nil {
			return fmt.Errorf("make bucket %s: %w", g.bucket, err)
		}
	}
	return nil
}

// PresignUpload issues a signed PUT URL for path.
func (g *MinioGateway) PresignUpload(ctx context.Context, path string, expiry time.Duration) (string, map[string]string, error) {
	u, err := g.client.PresignedPutObject(ctx, g.bucket, path, expiry)
	if err != nil {
		return "", nil, fmt.Errorf("presign upload: %w", err)
	}
	return u.String(), map[string]string{"Content-Type": "application/octet-stream"}, nil
}

// ObjectExists probes storage for the object.
func (g *MinioGateway) ObjectExists(ctx context.Context, path string) (bool, error) {
	_, err := g.client.StatObject(ctx, g.bucket, path, minio.StatObjectOptions{})
	if err != nil {
		resp := minio.ToErrorResponse(err)
		if resp.Code == "NoSuchKey" || resp.Code == "NoSuchObject" {
			return false, nil
		}
		return false, fmt.Errorf("stat object: %w", err)
	}
	return true, nil
}

// FetchObject reads the object back in full.
func (g *MinioGateway) FetchObject(ctx context.Context, path string) ([]byte, error) {
	obj, err := g.client.GetObject(ctx, g.bucket, path, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("get object: %w", err)
	}
	defer obj.Close()
	buf, err := io.ReadAll(obj)
	if err != nil {
		return nil, fmt.Errorf("read object: %w", err)
	}
	return buf, nil
}

// PresignDownload issues a signed GET URL, used by the ops CLI to hand an
// examiner a direct read link.
func (g *MinioGateway) PresignDownload(ctx context.Context, path string, expiry time.Duration) (string, error) {
	u, err := g.client.PresignedGetObject(ctx, g.bucket, path, expiry, url.Values{})
	if err != nil {
		return "", fmt.Errorf("presign download: %w", err)
	}
	return u.String(), nil
}
