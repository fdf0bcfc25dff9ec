package transcoding

import (
	"context"
	"fmt"
	"image"
	_ "image/gif"
	"os"
	"path/filepath"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/khoahotran/chatmedia/internal/application/service"
	"github.com/khoahotran/chatmedia/internal/domain/multimedia"
)

const maxImagePixels = 100_000_000

// ImageProcessor re-encodes images, normalizing orientation. JPEG and PNG keep
// their format; every other decodable format becomes JPEG.
type ImageProcessor struct {
	thumbWidth int
}

func NewImageProcessor(thumbWidth int) *ImageProcessor {
	if thumbWidth <= 0 {
		thumbWidth = 200
	}
	return &ImageProcessor{thumbWidth: thumbWidth}
}

func (p *ImageProcessor) Process(ctx context.Context, inputPath, workDir, mimeType string) (*service.ProcessResult, error) {
	if err := checkDimensions(inputPath); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	img, err := imaging.Open(inputPath, imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}

	format, ext, contentType := imaging.JPEG, ".jpg", "image/jpeg"
	if mimeType == "image/png" {
		format, ext, contentType = imaging.PNG, ".png", "image/png"
	}

	artifact := filepath.Join(workDir, "artifact"+ext)
	if err := save(artifact, img, format); err != nil {
		return nil, fmt.Errorf("encode image: %w", err)
	}

	thumb := filepath.Join(workDir, "thumb.jpg")
	if err := save(thumb, imaging.Resize(img, p.thumbWidth, 0, imaging.Lanczos), imaging.JPEG); err != nil {
		return nil, fmt.Errorf("encode thumbnail: %w", err)
	}

	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	return &service.ProcessResult{
		ArtifactPath:        artifact,
		ArtifactContentType: contentType,
		ArtifactExt:         ext,
		ThumbnailPath:       thumb,
		Width:               &w,
		Height:              &h,
		Metadata:            multimedia.Metadata{Format: formatName(format)},
	}, nil
}

// checkDimensions refuses decompression bombs before a full decode.
func checkDimensions(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open image: %w", err)
	}
	defer f.Close()
	cfg, _, err := image.DecodeConfig(f)
	if err != nil {
		return fmt.Errorf("decode image header: %w", err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 || cfg.Width*cfg.Height > maxImagePixels {
		return fmt.Errorf("image dimensions %dx%d are not acceptable", cfg.Width, cfg.Height)
	}
	return nil
}

func save(path string, img image.Image, format imaging.Format) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := imaging.Encode(f, img, format, imaging.JPEGQuality(85)); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func formatName(f imaging.Format) string {
	if f == imaging.PNG {
		return "png"
	}
	return "jpeg"
}
