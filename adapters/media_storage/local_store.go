package media_storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"path"

	"github.com/google/uuid"
	"github.com/spf13/afero"

	"github.com/khoahotran/chatmedia/internal/application/service"
)

// LocalStore keeps objects on a filesystem rooted at the configured
// directory. Files are written to a temporary name and renamed into place.
type LocalStore struct {
	fs      afero.Fs
	baseURL string
}

var _ service.StreamingBlobStore = (*LocalStore)(nil)

func NewLocalStore(root, publicBaseURL string) (*LocalStore, error) {
	osFs := afero.NewOsFs()
	if err := osFs.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create storage root: %w", err)
	}
	return NewLocalStoreFs(afero.NewBasePathFs(osFs, root), publicBaseURL), nil
}

// NewLocalStoreFs wraps an existing fs, e.g. afero.NewMemMapFs in tests.
func NewLocalStoreFs(fsys afero.Fs, publicBaseURL string) *LocalStore {
	return &LocalStore{fs: fsys, baseURL: publicBaseURL}
}

// Fs exposes the backing filesystem so the HTTP layer can serve it.
func (s *LocalStore) Fs() afero.Fs {
	return s.fs
}

func (s *LocalStore) Put(ctx context.Context, key string, data []byte, contentType string) (service.PutResult, error) {
	return s.PutStream(ctx, key, bytesReader(data), int64(len(data)), contentType)
}

func (s *LocalStore) PutStream(ctx context.Context, key string, r io.Reader, size int64, contentType string) (service.PutResult, error) {
	k, err := cleanKey(key)
	if err != nil {
		return service.PutResult{}, err
	}
	if err := ctx.Err(); err != nil {
		return service.PutResult{}, err
	}
	if err := s.fs.MkdirAll(path.Dir(k), 0o755); err != nil {
		return service.PutResult{}, fmt.Errorf("create object dir: %w", err)
	}

	tmp := k + ".part-" + uuid.NewString()
	f, err := s.fs.Create(tmp)
	if err != nil {
		return service.PutResult{}, fmt.Errorf("create object: %w", err)
	}
	n, copyErr := io.Copy(f, ctxReader{ctx: ctx, r: r})
	closeErr := f.Close()
	if copyErr == nil {
		copyErr = closeErr
	}
	if copyErr == nil && size >= 0 && n != size {
		copyErr = fmt.Errorf("short write: got %d of %d bytes", n, size)
	}
	if copyErr != nil {
		_ = s.fs.Remove(tmp)
		return service.PutResult{}, fmt.Errorf("write object %s: %w", k, copyErr)
	}
	if err := s.fs.Rename(tmp, k); err != nil {
		_ = s.fs.Remove(tmp)
		return service.PutResult{}, fmt.Errorf("commit object %s: %w", k, err)
	}
	return service.PutResult{Key: k, URL: s.PublicURL(k), Size: n}, nil
}

func (s *LocalStore) Get(ctx context.Context, key string) ([]byte, error) {
	rc, err := s.GetStream(ctx, key)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

func (s *LocalStore) GetStream(ctx context.Context, key string) (io.ReadCloser, error) {
	k, err := cleanKey(key)
	if err != nil {
		return nil, err
	}
	f, err := s.fs.Open(k)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, service.ErrObjectNotFound
		}
		return nil, fmt.Errorf("open object %s: %w", k, err)
	}
	return f, nil
}

// Delete is idempotent.
func (s *LocalStore) Delete(ctx context.Context, key string) error {
	k, err := cleanKey(key)
	if err != nil {
		return err
	}
	if err := s.fs.Remove(k); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("delete object %s: %w", k, err)
	}
	return nil
}

func (s *LocalStore) PublicURL(key string) string {
	return joinURL(s.baseURL, key)
}
