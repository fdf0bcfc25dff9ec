package media_storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cloudinary/cloudinary-go/v2"
	"github.com/cloudinary/cloudinary-go/v2/api"
	"github.com/cloudinary/cloudinary-go/v2/api/uploader"

	"github.com/khoahotran/chatmedia/internal/application/service"
	"github.com/khoahotran/chatmedia/internal/config"
	"github.com/khoahotran/chatmedia/pkg/logger"
)

const cloudinaryResourceType = "raw"

// CloudinaryStore stores objects as raw Cloudinary assets whose public id
// is the object key. It has no streaming read path.
type CloudinaryStore struct {
	cld       *cloudinary.Cloudinary
	cloudName string
	http      *http.Client
}

var _ service.BlobStore = (*CloudinaryStore)(nil)

func NewCloudinaryStore(cfg config.Config, log logger.Logger) (*CloudinaryStore, error) {
	if cfg.Cloudinary.CloudName == "" {
		return nil, fmt.Errorf("cloudinary cloud_name has not config")
	}

	cld, err := cloudinary.NewFromParams(
		cfg.Cloudinary.CloudName,
		cfg.Cloudinary.ApiKey,
		cfg.Cloudinary.ApiSecret,
	)
	if err != nil {
		return nil, fmt.Errorf("cannot init cloudinary: %w", err)
	}

	log.Info("Connect Cloudinary successfully")
	return &CloudinaryStore{
		cld:       cld,
		cloudName: cfg.Cloudinary.CloudName,
		http:      &http.Client{Timeout: 2 * time.Minute},
	}, nil
}

func (s *CloudinaryStore) Put(ctx context.Context, key string, data []byte, contentType string) (service.PutResult, error) {
	k, err := cleanKey(key)
	if err != nil {
		return service.PutResult{}, err
	}
	result, err := s.cld.Upload.Upload(ctx, bytes.NewReader(data), uploader.UploadParams{
		PublicID:     k,
		ResourceType: cloudinaryResourceType,
		Overwrite:    api.Bool(true),
	})
	if err != nil {
		return service.PutResult{}, fmt.Errorf("failed to upload cloudinary: %w", err)
	}
	if result.Error.Message != "" {
		return service.PutResult{}, fmt.Errorf("failed to upload cloudinary: %s", result.Error.Message)
	}
	url := result.SecureURL
	if url == "" {
		url = s.PublicURL(k)
	}
	return service.PutResult{Key: k, URL: url, Size: int64(len(data))}, nil
}

func (s *CloudinaryStore) Get(ctx context.Context, key string) ([]byte, error) {
	k, err := cleanKey(key)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.PublicURL(k), nil)
	if err != nil {
		return nil, fmt.Errorf("build cloudinary request: %w", err)
	}
	resp, err := s.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch cloudinary object: %w", err)
	}
	defer resp.Body.Close()
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, service.ErrObjectNotFound
	case resp.StatusCode >= 300:
		return nil, fmt.Errorf("fetch cloudinary object: status %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

func (s *CloudinaryStore) Delete(ctx context.Context, key string) error {
	k, err := cleanKey(key)
	if err != nil {
		return err
	}
	_, err = s.cld.Upload.Destroy(ctx, uploader.DestroyParams{
		PublicID:     k,
		ResourceType: cloudinaryResourceType,
	})
	if err != nil {
		return fmt.Errorf("failed to delete cloudinary: %w", err)
	}
	return nil
}

func (s *CloudinaryStore) PublicURL(key string) string {
	return joinURL(fmt.Sprintf("https://res.cloudinary.com/%s/%s/upload", s.cloudName, cloudinaryResourceType), key)
}
