package http

import (
	"time"

	"github.com/khoahotran/chatmedia/internal/domain/multimedia"
)

// Message DTOs

type CreateMessageRequest struct {
	Content      string `json:"content"`
	Type         string `json:"type" binding:"omitempty,oneof=text image video audio"`
	ReceiverID   string `json:"receiverId" binding:"required"`
	MultimediaID string `json:"multimediaId"`
}

// Multimedia DTOs

type MultimediaDTO struct {
	ID           string              `json:"id"`
	Type         string              `json:"type"`
	Status       string              `json:"status"`
	URL          *string             `json:"url"`
	ThumbnailURL *string             `json:"thumbnailUrl"`
	MimeType     string              `json:"mimeType"`
	Size         int64               `json:"size"`
	Duration     *float64            `json:"duration,omitempty"`
	Width        *int                `json:"width,omitempty"`
	Height       *int                `json:"height,omitempty"`
	Metadata     multimedia.Metadata `json:"metadata"`
	MessageID    *string             `json:"messageId"`
	LastError    *string             `json:"lastError,omitempty"`
	CreatedAt    time.Time           `json:"createdAt"`
	UpdatedAt    time.Time           `json:"updatedAt"`
}

func ToMultimediaDTO(m *multimedia.Multimedia) MultimediaDTO {
	dto := MultimediaDTO{
		ID:           m.ID.String(),
		Type:         string(m.Type),
		Status:       string(m.Status),
		URL:          m.URL,
		ThumbnailURL: m.ThumbnailURL,
		MimeType:     m.MimeType,
		Size:         m.Size,
		Duration:     m.Duration,
		Width:        m.Width,
		Height:       m.Height,
		Metadata:     m.Metadata,
		LastError:    m.LastError,
		CreatedAt:    m.CreatedAt,
		UpdatedAt:    m.UpdatedAt,
	}
	if m.MessageID != nil {
		id := m.MessageID.String()
		dto.MessageID = &id
	}
	return dto
}
