package media_storage

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/khoahotran/chatmedia/internal/application/service"
)

func newMemStore() *LocalStore {
	return NewLocalStoreFs(afero.NewMemMapFs(), "/uploads/multimedia")
}

func TestLocalStore_PutGetDelete(t *testing.T) {
	ctx := context.Background()
	s := newMemStore()

	res, err := s.Put(ctx, "staging/abc-photo.jpg", []byte("hello"), "image/jpeg")
	require.NoError(t, err)
	assert.Equal(t, "staging/abc-photo.jpg", res.Key)
	assert.Equal(t, int64(5), res.Size)
	assert.Equal(t, "/uploads/multimedia/staging/abc-photo.jpg", res.URL)

	data, err := s.Get(ctx, "staging/abc-photo.jpg")
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))

	require.NoError(t, s.Delete(ctx, "staging/abc-photo.jpg"))
	_, err = s.Get(ctx, "staging/abc-photo.jpg")
	assert.ErrorIs(t, err, service.ErrObjectNotFound)

	// deleting twice is fine
	assert.NoError(t, s.Delete(ctx, "staging/abc-photo.jpg"))
}

func TestLocalStore_Stream(t *testing.T) {
	ctx := context.Background()
	s := newMemStore()
	body := strings.Repeat("x", 1<<16)

	res, err := s.PutStream(ctx, "final/a/b/clip.mp4", strings.NewReader(body), int64(len(body)), "video/mp4")
	require.NoError(t, err)
	assert.Equal(t, int64(len(body)), res.Size)

	rc, err := s.GetStream(ctx, "final/a/b/clip.mp4")
	require.NoError(t, err)
	defer rc.Close()
	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, body, string(got))
}

func TestLocalStore_ShortStreamLeavesNothing(t *testing.T) {
	ctx := context.Background()
	s := newMemStore()

	_, err := s.PutStream(ctx, "staging/x.bin", strings.NewReader("abc"), 10, "application/octet-stream")
	require.Error(t, err)

	_, err = s.Get(ctx, "staging/x.bin")
	assert.ErrorIs(t, err, service.ErrObjectNotFound)

	entries, err := afero.ReadDir(s.Fs(), "staging")
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestLocalStore_RejectsTraversal(t *testing.T) {
	s := newMemStore()
	_, err := s.Put(context.Background(), "../etc/passwd", []byte("x"), "text/plain")
	assert.Error(t, err)
	_, err = s.Put(context.Background(), "", []byte("x"), "text/plain")
	assert.Error(t, err)
}

func TestPublicURL_EscapesSegments(t *testing.T) {
	s := NewLocalStoreFs(afero.NewMemMapFs(), "https://cdn.example.com/media/")
	assert.Equal(t, "https://cdn.example.com/media/final/o/m/1-my%20clip%3F.mp4", s.PublicURL("final/o/m/1-my clip?.mp4"))
}
