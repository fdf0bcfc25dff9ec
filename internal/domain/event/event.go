package event

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/khoahotran/chatmedia/internal/domain/multimedia"
)

const (
	MessageCreated   = "message.created"
	MessageUpdated   = "message.updated"
	MultimediaReady  = "multimedia.ready"
	MultimediaFailed = "multimedia.failed"
)

// Envelope is what travels on the bus.
type Envelope struct {
	Name       string          `json:"name"`
	OccurredAt time.Time       `json:"occurredAt"`
	Payload    json.RawMessage `json:"payload"`
}

func NewEnvelope(name string, payload any) (Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("encode %s payload: %w", name, err)
	}
	return Envelope{Name: name, OccurredAt: time.Now().UTC(), Payload: raw}, nil
}

func (e Envelope) Decode(dst any) error {
	if err := json.Unmarshal(e.Payload, dst); err != nil {
		return fmt.Errorf("decode %s payload: %w", e.Name, err)
	}
	return nil
}

type MultimediaReadyPayload struct {
	MultimediaID uuid.UUID           `json:"multimediaId"`
	MessageID    *uuid.UUID          `json:"messageId,omitempty"`
	URL          string              `json:"url"`
	ThumbnailURL *string             `json:"thumbnailUrl,omitempty"`
	Width        *int                `json:"width,omitempty"`
	Height       *int                `json:"height,omitempty"`
	Duration     *float64            `json:"duration,omitempty"`
	Metadata     multimedia.Metadata `json:"metadata"`
}

type MultimediaFailedPayload struct {
	MultimediaID uuid.UUID  `json:"multimediaId"`
	MessageID    *uuid.UUID `json:"messageId,omitempty"`
	Error        string     `json:"error"`
}

// MessageSummary is the client facing view of a message.
type MessageSummary struct {
	ID               uuid.UUID          `json:"id"`
	Content          string             `json:"content"`
	Type             string             `json:"type"`
	SenderID         uuid.UUID          `json:"senderId"`
	ReceiverID       uuid.UUID          `json:"receiverId"`
	MultimediaID     *uuid.UUID         `json:"multimediaId,omitempty"`
	MultimediaStatus *multimedia.Status `json:"multimediaStatus,omitempty"`
	MultimediaURL    *string            `json:"multimediaUrl,omitempty"`
	ThumbnailURL     *string            `json:"thumbnailUrl,omitempty"`
	Status           string             `json:"status"`
	CreatedAt        time.Time          `json:"createdAt"`
	UpdatedAt        time.Time          `json:"updatedAt"`
}
