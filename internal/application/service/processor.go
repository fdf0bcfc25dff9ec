package service

import (
	"context"

	"github.com/khoahotran/chatmedia/internal/domain/multimedia"
)

type ProcessResult struct {
	ArtifactPath        string
	ArtifactContentType string
	ArtifactExt         string
	ThumbnailPath       string
	Duration            *float64
	Width               *int
	Height              *int
	Metadata            multimedia.Metadata
}

// Processor turns a staged input file into an artifact inside workDir.
type Processor interface {
	Process(ctx context.Context, inputPath, workDir, mimeType string) (*ProcessResult, error)
}
