package transcoding

import (
	"os"
	"os/exec"

	"go.uber.org/zap"

	"github.com/khoahotran/chatmedia/pkg/logger"
)

// Binaries holds resolved tool paths. An empty path means the tool is not
// available and the processors that need it fail their jobs.
type Binaries struct {
	FFmpeg  string
	FFprobe string
}

// ResolveBinaries runs once at worker start. A configured path wins when it
// exists, otherwise PATH is searched.
func ResolveBinaries(ffmpegPath, ffprobePath string, log logger.Logger) Binaries {
	b := Binaries{
		FFmpeg:  resolve("ffmpeg", ffmpegPath, log),
		FFprobe: resolve("ffprobe", ffprobePath, log),
	}
	return b
}

func resolve(name, configured string, log logger.Logger) string {
	if configured != "" {
		if st, err := os.Stat(configured); err == nil && !st.IsDir() {
			log.Info("Using configured binary", zap.String("tool", name), zap.String("path", configured))
			return configured
		}
		log.Warn("Configured binary not found, searching PATH", zap.String("tool", name), zap.String("path", configured))
	}
	p, err := exec.LookPath(name)
	if err != nil {
		log.Warn("Binary not available", zap.String("tool", name))
		return ""
	}
	log.Info("Using binary from PATH", zap.String("tool", name), zap.String("path", p))
	return p
}
