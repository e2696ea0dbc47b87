package storage

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

const minioStagingPrefix = "staging/"

// MinioStore keeps covers in an S3-compatible bucket. Staging uploads to a
// temporary key and commits with a server-side copy, mirroring the disk
// store's rename.
type MinioStore struct {
	client *minio.Client
	bucket string
}

// NewMinioStore connects to MinIO and ensures the bucket exists.
func NewMinioStore(endpoint, accessKey, secretKey, bucket string, useSSL bool) (*MinioStore, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("init minio client: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
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
	return &MinioStore{client: client, bucket: bucket}, nil
}

type minioStaged struct {
	store      *MinioStore
	stagingKey string
	finalKey   string
}

// Stage uploads to a staging key; the object only becomes visible under its
// final name on Commit.
func (m *MinioStore) Stage(ctx context.Context, filename string, r io.Reader, size int64, contentType string) (StagedCover, error) {
	stagingKey := minioStagingPrefix + uuid.NewString()
	_, err := m.client.PutObject(ctx, m.bucket, stagingKey, r, size, minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return nil, fmt.Errorf("stage object: %w", err)
	}
	return &minioStaged{store: m, stagingKey: stagingKey, finalKey: filename}, nil
}

func (s *minioStaged) Commit(ctx context.Context) error {
	_, err := s.store.client.CopyObject(ctx,
		minio.CopyDestOptions{Bucket: s.store.bucket, Object: s.finalKey},
		minio.CopySrcOptions{Bucket: s.store.bucket, Object: s.stagingKey},
	)
	if err != nil {
		return fmt.Errorf("publish object: %w", err)
	}
	return s.store.remove(ctx, s.stagingKey)
}

func (s *minioStaged) Discard(ctx context.Context) error {
	return s.store.remove(ctx, s.stagingKey)
}

// Open streams a stored object.
func (m *MinioStore) Open(ctx context.Context, filename string) (io.ReadCloser, error) {
	obj, err := m.client.GetObject(ctx, m.bucket, filename, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("get object: %w", err)
	}
	// GetObject is lazy; surface missing keys here instead of mid-stream.
	if _, err := obj.Stat(); err != nil {
		obj.Close()
		return nil, fmt.Errorf("stat object: %w", err)
	}
	return obj, nil
}

// Remove deletes a stored object.
func (m *MinioStore) Remove(ctx context.Context, filename string) error {
	return m.remove(ctx, filename)
}

func (m *MinioStore) remove(ctx context.Context, key string) error {
	if err := m.client.RemoveObject(ctx, m.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("remove object: %w", err)
	}
	return nil
}
