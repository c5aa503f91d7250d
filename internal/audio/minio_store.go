package audio

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinioStore uploads artifacts to S3-compatible storage and hands out
// pre-signed GET URLs.
type MinioStore struct {
	client *minio.Client
	bucket string
	expiry time.Duration
}

// NewMinioStore connects to MinIO and ensures the bucket exists.
func NewMinioStore(ctx context.Context, endpoint, accessKey, secretKey, bucket string, useSSL bool, expiry time.Duration) (*MinioStore, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("init minio client: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket: %w", err)
		}
	}
	// presigned URLs cannot outlive seven days
	if expiry <= 0 || expiry > 7*24*time.Hour {
		expiry = DefaultArtifactTTL
	}
	return &MinioStore{client: client, bucket: bucket, expiry: expiry}, nil
}

func (m *MinioStore) Save(ctx context.Context, name string, data []byte, contentType string) (Artifact, error) {
	_, err := m.client.PutObject(ctx, m.bucket, name, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return Artifact{}, fmt.Errorf("put object: %w", err)
	}
	u, err := m.client.PresignedGetObject(ctx, m.bucket, name, m.expiry, nil)
	if err != nil {
		return Artifact{}, fmt.Errorf("presign get: %w", err)
	}
	return Artifact{Name: name, URL: u.String(), ContentType: contentType, Size: int64(len(data))}, nil
}
