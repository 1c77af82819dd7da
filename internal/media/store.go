package media

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/npezzotti/go-supportchat/internal/config"
)

// ImageStore turns an inbound image reference into the value that gets
// persisted on the message.
type ImageStore interface {
	Offload(ctx context.Context, roomId, image string) (string, error)
}

// ObjectStore provides access to object storage.
type ObjectStore interface {
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
}

// MinioStore implements ObjectStore for MinIO/S3 compatible storage.
type MinioStore struct {
	client *minio.Client
	bucket string
}

// NewMinioStore connects to MinIO and ensures the bucket exists.
func NewMinioStore(ctx context.Context, cfg config.MediaConfig) (*MinioStore, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("init minio client: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket: %w", err)
		}
	}

	return &MinioStore{client: client, bucket: cfg.Bucket}, nil
}

func (m *MinioStore) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error {
	_, err := m.client.PutObject(ctx, m.bucket, key, r, size, minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return fmt.Errorf("put object: %w", err)
	}
	return nil
}

// BaseURL is the public location objects are served from when no explicit
// public URL is configured.
func (m *MinioStore) BaseURL() string {
	return strings.TrimSuffix(m.client.EndpointURL().String(), "/") + "/" + m.bucket
}

// Offloader uploads inline data URLs and replaces them with a public link.
// Anything that is already a link passes through untouched.
type Offloader struct {
	objects   ObjectStore
	publicURL string
}

func NewOffloader(objects ObjectStore, publicURL string) *Offloader {
	return &Offloader{
		objects:   objects,
		publicURL: strings.TrimSuffix(publicURL, "/"),
	}
}

func (o *Offloader) Offload(ctx context.Context, roomId, image string) (string, error) {
	if !IsDataURL(image) {
		return image, nil
	}

	contentType, data, err := ParseDataURL(image)
	if err != nil {
		return "", err
	}

	key := fmt.Sprintf("%s/%s%s", roomId, uuid.NewString(), extension(contentType))
	if err := o.objects.Put(ctx, key, bytes.NewReader(data), int64(len(data)), contentType); err != nil {
		return "", err
	}

	return o.publicURL + "/" + key, nil
}

func extension(contentType string) string {
	switch contentType {
	case "image/jpeg":
		return ".jpg"
	case "image/png":
		return ".png"
	case "image/gif":
		return ".gif"
	case "image/webp":
		return ".webp"
	default:
		return ""
	}
}
