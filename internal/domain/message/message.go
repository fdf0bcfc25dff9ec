package message

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/khoahotran/chatmedia/internal/domain/multimedia"
)

type Type string

const (
	TypeText  Type = "text"
	TypeImage Type = "image"
	TypeVideo Type = "video"
	TypeAudio Type = "audio"
)

func (t Type) Valid() bool {
	switch t {
	case TypeText, TypeImage, TypeVideo, TypeAudio:
		return true
	}
	return false
}

type Status string

const (
	StatusSent      Status = "sent"
	StatusDelivered Status = "delivered"
	StatusRead      Status = "read"
)

type Message struct {
	ID               uuid.UUID          `json:"id"`
	Content          string             `json:"content"`
	Type             Type               `json:"type"`
	SenderID         uuid.UUID          `json:"sender_id"`
	ReceiverID       uuid.UUID          `json:"receiver_id"`
	MultimediaID     *uuid.UUID         `json:"multimedia_id"`
	MultimediaStatus *multimedia.Status `json:"multimedia_status"`
	Status           Status             `json:"status"`
	CreatedAt        time.Time          `json:"created_at"`
	UpdatedAt        time.Time          `json:"updated_at"`
}

type Repository interface {
	Save(ctx context.Context, m *Message) error
	FindByID(ctx context.Context, id uuid.UUID) (*Message, error)
	// UpdateMultimediaStatus returns a NotFound error when no message has id.
	UpdateMultimediaStatus(ctx context.Context, id uuid.UUID, status multimedia.Status) (*Message, error)
	ListBySender(ctx context.Context, userID uuid.UUID, limit int) ([]*Message, error)
	ListByReceiver(ctx context.Context, userID uuid.UUID, limit int) ([]*Message, error)
	// ListUnsettled returns messages whose multimedia status is still
	// uploading or processing and that were last updated before olderThan.
	ListUnsettled(ctx context.Context, olderThan time.Time, limit int) ([]*Message, error)
}
