package transcoding

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"

	"go.uber.org/zap"

	"github.com/khoahotran/chatmedia/internal/application/service"
	"github.com/khoahotran/chatmedia/internal/domain/multimedia"
	"github.com/khoahotran/chatmedia/pkg/logger"
)

var errFFmpegMissing = errors.New("ffmpeg not available")

// VideoProcessor transcodes to H.264/AAC MP4 and grabs the first frame as
// a thumbnail. A failed probe only loses metadata; a failed thumbnail
// fails the job.
type VideoProcessor struct {
	runner     Runner
	bins       Binaries
	preset     string
	thumbWidth int
	log        logger.Logger
}

func NewVideoProcessor(r Runner, bins Binaries, preset string, thumbWidth int, log logger.Logger) *VideoProcessor {
	if preset == "" {
		preset = "fast"
	}
	if thumbWidth <= 0 {
		thumbWidth = 320
	}
	return &VideoProcessor{runner: r, bins: bins, preset: preset, thumbWidth: thumbWidth, log: log}
}

func (p *VideoProcessor) Process(ctx context.Context, inputPath, workDir, mimeType string) (*service.ProcessResult, error) {
	if p.bins.FFmpeg == "" {
		return nil, errFFmpegMissing
	}

	out := filepath.Join(workDir, "artifact.mp4")
	if _, err := p.runner.Run(ctx, p.bins.FFmpeg,
		"-y", "-hide_banner", "-loglevel", "error",
		"-i", inputPath,
		"-c:v", "libx264", "-preset", p.preset,
		"-c:a", "aac",
		"-movflags", "+faststart",
		out,
	); err != nil {
		return nil, fmt.Errorf("transcode video: %w", err)
	}

	thumb := filepath.Join(workDir, "thumb.jpg")
	if _, err := p.runner.Run(ctx, p.bins.FFmpeg,
		"-y", "-hide_banner", "-loglevel", "error",
		"-ss", "0",
		"-i", out,
		"-frames:v", "1",
		"-vf", "scale="+strconv.Itoa(p.thumbWidth)+":-2",
		thumb,
	); err != nil {
		return nil, fmt.Errorf("extract video thumbnail: %w", err)
	}

	res := &service.ProcessResult{
		ArtifactPath:        out,
		ArtifactContentType: "video/mp4",
		ArtifactExt:         ".mp4",
		ThumbnailPath:       thumb,
		Metadata:            multimedia.Metadata{Format: "mp4", Codec: "h264"},
	}
	if pr, err := probe(ctx, p.runner, p.bins.FFprobe, out); err != nil {
		p.log.Warn("Video probe failed, continuing without metadata", zap.Error(err))
	} else {
		res.Duration, res.Width, res.Height = pr.Duration, pr.Width, pr.Height
		res.Metadata.Bitrate = pr.Bitrate
		if pr.VideoCodec != "" {
			res.Metadata.Codec = pr.VideoCodec
		}
	}
	return res, nil
}
