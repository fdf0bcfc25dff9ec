package media_storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/khoahotran/chatmedia/internal/application/service"
	"github.com/khoahotran/chatmedia/internal/config"
)

// MinioStore keeps objects in an S3 compatible bucket.
type MinioStore struct {
	client  *minio.Client
	bucket  string
	baseURL string
}

var _ service.StreamingBlobStore = (*MinioStore)(nil)

// NewMinioStore connects and makes sure the bucket exists.
func NewMinioStore(cfg config.Config) (*MinioStore, error) {
	m := cfg.Minio
	client, err := minio.New(m.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(m.AccessKey, m.SecretKey, ""),
		Secure: m.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("init minio client: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	exists, err := client.BucketExists(ctx, m.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, m.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket: %w", err)
		}
	}

	baseURL := cfg.Storage.PublicBaseURL
	if baseURL == "" || baseURL == "/uploads/multimedia" {
		scheme := "http"
		if m.UseSSL {
			scheme = "https"
		}
		baseURL = fmt.Sprintf("%s://%s/%s", scheme, m.Endpoint, m.Bucket)
	}
	return &MinioStore{client: client, bucket: m.Bucket, baseURL: baseURL}, nil
}

func (s *MinioStore) Put(ctx context.Context, key string, data []byte, contentType string) (service.PutResult, error) {
	return s.PutStream(ctx, key, bytes.NewReader(data), int64(len(data)), contentType)
}

func (s *MinioStore) PutStream(ctx context.Context, key string, r io.Reader, size int64, contentType string) (service.PutResult, error) {
	k, err := cleanKey(key)
	if err != nil {
		return service.PutResult{}, err
	}
	info, err := s.client.PutObject(ctx, s.bucket, k, r, size, minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return service.PutResult{}, fmt.Errorf("put object: %w", err)
	}
	return service.PutResult{Key: k, URL: s.PublicURL(k), Size: info.Size}, nil
}

func (s *MinioStore) Get(ctx context.Context, key string) ([]byte, error) {
	rc, err := s.GetStream(ctx, key)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, translateMinioErr(err)
	}
	return data, nil
}

// GetStream stats the object first so a missing key surfaces here rather
// than on the first Read.
func (s *MinioStore) GetStream(ctx context.Context, key string) (io.ReadCloser, error) {
	k, err := cleanKey(key)
	if err != nil {
		return nil, err
	}
	obj, err := s.client.GetObject(ctx, s.bucket, k, minio.GetObjectOptions{})
	if err != nil {
		return nil, translateMinioErr(err)
	}
	if _, err := obj.Stat(); err != nil {
		obj.Close()
		return nil, translateMinioErr(err)
	}
	return obj, nil
}

func (s *MinioStore) Delete(ctx context.Context, key string) error {
	k, err := cleanKey(key)
	if err != nil {
		return err
	}
	if err := s.client.RemoveObject(ctx, s.bucket, k, minio.RemoveObjectOptions{}); err != nil {
		if translateMinioErr(err) == service.ErrObjectNotFound {
			return nil
		}
		return fmt.Errorf("delete object: %w", err)
	}
	return nil
}

func (s *MinioStore) PublicURL(key string) string {
	return joinURL(s.baseURL, key)
}

func translateMinioErr(err error) error {
	switch minio.ToErrorResponse(err).Code {
	case "NoSuchKey", "NotFound":
		return service.ErrObjectNotFound
	}
	return fmt.Errorf("get object: %w", err)
}
