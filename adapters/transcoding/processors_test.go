package transcoding

import (
	"context"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"os"
	"path/filepath"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/khoahotran/chatmedia/pkg/logger"
)

var testBins = Binaries{FFmpeg: "/usr/bin/ffmpeg", FFprobe: "/usr/bin/ffprobe"}

func writeJPEG(t *testing.T, path string, w, h int) {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x += 10 {
		img.Set(x, h/2, color.RGBA{R: 200, A: 255})
	}
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, jpeg.Encode(f, img, nil))
	require.NoError(t, f.Close())
}

func TestImageProcessor_JPEG(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "input.jpg")
	writeJPEG(t, in, 2000, 1000)

	res, err := NewImageProcessor(200).Process(context.Background(), in, dir, "image/jpeg")
	require.NoError(t, err)

	require.NotNil(t, res.Width)
	require.NotNil(t, res.Height)
	assert.Equal(t, 2000, *res.Width)
	assert.Equal(t, 1000, *res.Height)
	assert.Equal(t, "jpeg", res.Metadata.Format)
	assert.Equal(t, "image/jpeg", res.ArtifactContentType)

	thumb, err := imaging.Open(res.ThumbnailPath)
	require.NoError(t, err)
	assert.Equal(t, 200, thumb.Bounds().Dx())
	assert.Equal(t, 100, thumb.Bounds().Dy())
}

func TestImageProcessor_OtherFormatsBecomeJPEG(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "input.gif")
	img := imaging.New(64, 32, color.White)
	require.NoError(t, imaging.Save(img, in))

	res, err := NewImageProcessor(16).Process(context.Background(), in, dir, "image/gif")
	require.NoError(t, err)
	assert.Equal(t, ".jpg", res.ArtifactExt)
	assert.Equal(t, "jpeg", res.Metadata.Format)
}

func TestImageProcessor_PNGKeepsFormat(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "input.png")
	require.NoError(t, imaging.Save(imaging.New(40, 40, color.Black), in))

	res, err := NewImageProcessor(20).Process(context.Background(), in, dir, "image/png")
	require.NoError(t, err)
	assert.Equal(t, "image/png", res.ArtifactContentType)
	assert.Equal(t, "png", res.Metadata.Format)
}

func TestImageProcessor_CorruptInput(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "input.jpg")
	require.NoError(t, os.WriteFile(in, []byte("not an image"), 0o644))

	_, err := NewImageProcessor(200).Process(context.Background(), in, dir, "image/jpeg")
	assert.Error(t, err)
}

func TestVideoProcessor_TranscodesAndThumbnails(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "input.mov")
	require.NoError(t, os.WriteFile(in, []byte("mov"), 0o644))
	r := &fakeRunner{probeOut: sampleProbe}

	res, err := NewVideoProcessor(r, testBins, "fast", 320, logger.NewNop()).Process(context.Background(), in, dir, "video/quicktime")
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(dir, "artifact.mp4"), res.ArtifactPath)
	assert.Equal(t, "video/mp4", res.ArtifactContentType)
	assert.FileExists(t, res.ArtifactPath)
	assert.FileExists(t, res.ThumbnailPath)
	require.NotNil(t, res.Duration)
	assert.InDelta(t, 12.48, *res.Duration, 0.001)
	assert.Equal(t, 1920, *res.Width)
	assert.Equal(t, 1080, *res.Height)
	assert.Equal(t, int64(2500000), res.Metadata.Bitrate)

	require.Len(t, r.calls, 3)
	assert.Contains(t, r.calls[0].args, "libx264")
	assert.Contains(t, r.calls[0].args, "+faststart")
	assert.Contains(t, r.calls[1].args, "scale=320:-2")
	assert.Equal(t, testBins.FFprobe, r.calls[2].tool)
}

func TestVideoProcessor_ProbeFailureIsNotFatal(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "input.mp4")
	require.NoError(t, os.WriteFile(in, []byte("mp4"), 0o644))
	r := &fakeRunner{probeErr: errors.New("probe crashed")}

	res, err := NewVideoProcessor(r, testBins, "", 0, logger.NewNop()).Process(context.Background(), in, dir, "video/mp4")
	require.NoError(t, err)
	assert.Nil(t, res.Duration)
	assert.FileExists(t, res.ThumbnailPath)
}

func TestVideoProcessor_ThumbnailFailureIsFatal(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "input.mp4")
	require.NoError(t, os.WriteFile(in, []byte("mp4"), 0o644))
	r := &fakeRunner{probeOut: sampleProbe, failOnMatch: "-frames:v"}

	_, err := NewVideoProcessor(r, testBins, "fast", 320, logger.NewNop()).Process(context.Background(), in, dir, "video/mp4")
	require.Error(t, err)
	var te *ToolError
	assert.ErrorAs(t, err, &te)
}

func TestVideoProcessor_MissingFFmpeg(t *testing.T) {
	_, err := NewVideoProcessor(&fakeRunner{}, Binaries{}, "fast", 320, logger.NewNop()).Process(context.Background(), "in.mp4", t.TempDir(), "video/mp4")
	assert.ErrorIs(t, err, errFFmpegMissing)
}

func TestAudioProcessor_KeepsOriginal(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "input.mp3")
	require.NoError(t, os.WriteFile(in, []byte("ID3"), 0o644))
	r := &fakeRunner{probeOut: `{"format": {"format_name": "mp3", "duration": "61.2", "bit_rate": "128000"}, "streams": [{"codec_type": "audio", "codec_name": "mp3"}]}`}

	res, err := NewAudioProcessor(r, testBins, logger.NewNop()).Process(context.Background(), in, dir, "audio/mpeg")
	require.NoError(t, err)
	assert.Equal(t, in, res.ArtifactPath)
	assert.Equal(t, "audio/mpeg", res.ArtifactContentType)
	assert.Equal(t, ".mp3", res.ArtifactExt)
	assert.Empty(t, res.ThumbnailPath)
	require.NotNil(t, res.Duration)
	assert.InDelta(t, 61.2, *res.Duration, 0.001)
	assert.Equal(t, int64(128000), res.Metadata.Bitrate)
	assert.Equal(t, "mp3", res.Metadata.Codec)
}

func TestAudioProcessor_ProbeFailureIsNotFatal(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "input.ogg")
	require.NoError(t, os.WriteFile(in, []byte("OggS"), 0o644))

	res, err := NewAudioProcessor(&fakeRunner{probeErr: errors.New("nope")}, testBins, logger.NewNop()).Process(context.Background(), in, dir, "audio/ogg")
	require.NoError(t, err)
	assert.Nil(t, res.Duration)
	assert.Equal(t, in, res.ArtifactPath)
}

func TestParseProbe_Malformed(t *testing.T) {
	_, err := parseProbe([]byte("{"))
	assert.Error(t, err)
}

func TestToolError_Message(t *testing.T) {
	err := &ToolError{Tool: "ffmpeg", ExitCode: 1, Stderr: "Invalid data found"}
	assert.Equal(t, "ffmpeg exited with code 1: Invalid data found", err.Error())
}
