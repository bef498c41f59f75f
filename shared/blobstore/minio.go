package blobstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Config holds connection settings for the S3-compatible object store.
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	UseSSL    bool
}

// Client wraps a minio connection. One client serves the cdn and preconvert
// buckets through per-bucket Store views.
type Client struct {
	mc     *minio.Client
	logger *slog.Logger
}

// NewClient connects to the object store.
func NewClient(config *Config, logger *slog.Logger) (*Client, error) {
	mc, err := minio.New(config.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(config.AccessKey, config.SecretKey, ""),
		Secure: config.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create object store client: %w", err)
	}

	logger.Info("Object store client initialized",
		slog.String("endpoint", config.Endpoint),
		slog.Bool("ssl", config.UseSSL),
	)

	return &Client{mc: mc, logger: logger}, nil
}

// Bucket returns a Store scoped to one bucket.
func (c *Client) Bucket(name string) Store {
	return &bucketStore{mc: c.mc, bucket: name, logger: c.logger}
}

type bucketStore struct {
	mc     *minio.Client
	bucket string
	logger *slog.Logger
}

func (b *bucketStore) Exists(ctx context.Context, key string) (bool, error) {
	_, err := b.mc.StatObject(ctx, b.bucket, key, minio.StatObjectOptions{})
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return false, nil
		}
		return false, fmt.Errorf("failed to stat %s/%s: %w", b.bucket, key, err)
	}
	return true, nil
}

func (b *bucketStore) GetJSON(ctx context.Context, key string, v any) (bool, error) {
	obj, err := b.mc.GetObject(ctx, b.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return false, fmt.Errorf("failed to get %s/%s: %w", b.bucket, key, err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		// minio defers missing-key errors to the first read
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return false, nil
		}
		return false, fmt.Errorf("failed to read %s/%s: %w", b.bucket, key, err)
	}

	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("failed to decode %s/%s: %w", b.bucket, key, err)
	}
	return true, nil
}

func (b *bucketStore) PutJSON(ctx context.Context, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode %s/%s: %w", b.bucket, key, err)
	}
	return b.Put(ctx, key, bytes.NewReader(data), int64(len(data)), "application/json")
}

func (b *bucketStore) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error {
	_, err := b.mc.PutObject(ctx, b.bucket, key, r, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return fmt.Errorf("failed to put %s/%s: %w", b.bucket, key, err)
	}

	b.logger.Debug("Object written",
		slog.String("bucket", b.bucket),
		slog.String("key", key),
		slog.Int64("size", size),
	)
	return nil
}

func (b *bucketStore) Delete(ctx context.Context, key string) error {
	err := b.mc.RemoveObject(ctx, b.bucket, key, minio.RemoveObjectOptions{})
	if err != nil {
		return fmt.Errorf("failed to delete %s/%s: %w", b.bucket, key, err)
	}
	return nil
}

func (b *bucketStore) ListPrefix(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	for obj := range b.mc.ListObjects(ctx, b.bucket, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: true,
	}) {
		if obj.Err != nil {
			return nil, fmt.Errorf("failed to list %s/%s: %w", b.bucket, prefix, obj.Err)
		}
		keys = append(keys, obj.Key)
	}
	return keys, nil
}
