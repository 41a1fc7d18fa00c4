package blob

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/poiesic/docrag/core"
	"github.com/poiesic/docrag/storage"
)

// DefaultBucket is the bucket uploads go to when none is configured.
const DefaultBucket = "pdf-documents"

// MinioConfig holds the connection settings of an S3-compatible store.
type MinioConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Secure    bool
}

// MinioStore keeps blobs as objects in one bucket of an S3-compatible server.
type MinioStore struct {
	client *minio.Client
	bucket string
	logger *slog.Logger
}

var _ storage.BlobStore = (*MinioStore)(nil)

// NewMinioStore connects to the server and creates the bucket if it doesn't exist.
func NewMinioStore(ctx context.Context, cfg MinioConfig) (*MinioStore, error) {
	if cfg.Bucket == "" {
		cfg.Bucket = DefaultBucket
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.Secure,
	})
	if err != nil {
		return nil, err
	}

	s := &MinioStore{
		client: client,
		bucket: cfg.Bucket,
		logger: slog.Default().With("component", "blob-minio", "bucket", cfg.Bucket),
	}
	if err := s.ensureBucket(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *MinioStore) ensureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("checking bucket %s: %w", s.bucket, err)
	}
	if exists {
		s.logger.Info("bucket exists")
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("creating bucket %s: %w", s.bucket, err)
	}
	s.logger.Info("created bucket")
	return nil
}

// Put uploads r as a new object.
func (s *MinioStore) Put(ctx context.Context, r io.Reader, size int64, ext string) (string, error) {
	key := NewKey(ext)
	info, err := s.client.PutObject(ctx, s.bucket, key, r, size, minio.PutObjectOptions{
		ContentType: contentType(ext),
	})
	if err != nil {
		s.logger.Error("failed to upload blob", "key", key, "err", err)
		return "", err
	}
	s.logger.Debug("uploaded blob", "key", key, "size", info.Size)
	return key, nil
}

// Get opens the object. The object is stat'ed first so a missing key fails here.
func (s *MinioStore) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, s.wrap(key, err)
	}
	if _, err := obj.Stat(); err != nil {
		obj.Close()
		return nil, s.wrap(key, err)
	}
	return obj, nil
}

// Delete removes the object. S3 deletes of missing keys succeed.
func (s *MinioStore) Delete(ctx context.Context, key string) error {
	if err := s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		s.logger.Error("failed to delete blob", "key", key, "err", err)
		return err
	}
	return nil
}

// URL returns a presigned GET URL.
func (s *MinioStore) URL(ctx context.Context, key string, expiry time.Duration) (string, error) {
	if _, err := s.client.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{}); err != nil {
		return "", s.wrap(key, err)
	}
	u, err := s.client.PresignedGetObject(ctx, s.bucket, key, expiry, nil)
	if err != nil {
		return "", err
	}
	return u.String(), nil
}

func (s *MinioStore) wrap(key string, err error) error {
	if minio.ToErrorResponse(err).Code == "NoSuchKey" {
		return fmt.Errorf("blob %q: %w", key, core.ErrNotFound)
	}
	return err
}

func contentType(ext string) string {
	switch ext {
	case "pdf", ".pdf":
		return "application/pdf"
	default:
		return "application/octet-stream"
	}
}
