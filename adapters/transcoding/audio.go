package transcoding

import (
	"context"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/khoahotran/chatmedia/internal/application/service"
	"github.com/khoahotran/chatmedia/pkg/logger"
)

// AudioProcessor publishes the original bytes and only probes them.
type AudioProcessor struct {
	runner Runner
	bins   Binaries
	log    logger.Logger
}

func NewAudioProcessor(r Runner, bins Binaries, log logger.Logger) *AudioProcessor {
	return &AudioProcessor{runner: r, bins: bins, log: log}
}

func (p *AudioProcessor) Process(ctx context.Context, inputPath, workDir, mimeType string) (*service.ProcessResult, error) {
	ext := strings.ToLower(filepath.Ext(inputPath))
	if ext == "" {
		ext = ".bin"
	}
	res := &service.ProcessResult{
		ArtifactPath:        inputPath,
		ArtifactContentType: mimeType,
		ArtifactExt:         ext,
	}
	pr, err := probe(ctx, p.runner, p.bins.FFprobe, inputPath)
	if err != nil {
		p.log.Warn("Audio probe failed, continuing without metadata", zap.Error(err))
		return res, nil
	}
	res.Duration = pr.Duration
	res.Metadata.Bitrate = pr.Bitrate
	res.Metadata.Format = pr.Format
	res.Metadata.Codec = pr.AudioCodec
	return res, nil
}
