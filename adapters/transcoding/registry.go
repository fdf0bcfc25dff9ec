package transcoding

import (
	"github.com/khoahotran/chatmedia/internal/application/service"
	"github.com/khoahotran/chatmedia/internal/config"
	"github.com/khoahotran/chatmedia/internal/domain/multimedia"
	"github.com/khoahotran/chatmedia/pkg/logger"
)

// NewProcessors wires one processor per media category.
func NewProcessors(cfg config.Config, r Runner, bins Binaries, log logger.Logger) map[multimedia.Type]service.Processor {
	tc := cfg.Transcoder
	return map[multimedia.Type]service.Processor{
		multimedia.TypeImage: NewImageProcessor(tc.ImageThumbnailWidth),
		multimedia.TypeVideo: NewVideoProcessor(r, bins, tc.Preset, tc.VideoThumbnailWidth, log),
		multimedia.TypeAudio: NewAudioProcessor(r, bins, log),
	}
}
