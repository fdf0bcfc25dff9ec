package multimedia

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
)

type Type string

const (
	TypeImage Type = "image"
	TypeVideo Type = "video"
	TypeAudio Type = "audio"
)

func (t Type) Valid() bool {
	switch t {
	case TypeImage, TypeVideo, TypeAudio:
		return true
	}
	return false
}

// TypeFromMIME maps a MIME type onto its media category by the part before
// the slash. ok is false for anything that is not image, video or audio.
func TypeFromMIME(mimeType string) (Type, bool) {
	major, _, _ := strings.Cut(strings.ToLower(strings.TrimSpace(mimeType)), "/")
	t := Type(major)
	return t, t.Valid()
}

type Status string

const (
	StatusUploading  Status = "uploading"
	StatusProcessing Status = "processing"
	StatusReady      Status = "ready"
	StatusFailed     Status = "failed"
)

var transitions = map[Status][]Status{
	StatusUploading:  {StatusProcessing, StatusFailed},
	StatusProcessing: {StatusReady, StatusFailed},
	StatusFailed:     {StatusReady, StatusFailed},
	StatusReady:      {StatusReady},
}

// CanTransition reports whether a record in status from may move to to.
// A ready record never goes back to processing or failed.
func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// SourcesFor lists every status that may move to target.
func SourcesFor(target Status) []Status {
	var out []Status
	for _, from := range []Status{StatusUploading, StatusProcessing, StatusReady, StatusFailed} {
		if CanTransition(from, target) {
			out = append(out, from)
		}
	}
	return out
}

// Terminal reports whether a job has finished with the record.
func (s Status) Terminal() bool {
	return s == StatusReady || s == StatusFailed
}

// Metadata is the probe output kept next to the record.
type Metadata struct {
	Format  string         `json:"format,omitempty"`
	Codec   string         `json:"codec,omitempty"`
	Bitrate int64          `json:"bitrate,omitempty"`
	Extra   map[string]any `json:"extra,omitempty"`
}

type Multimedia struct {
	ID           uuid.UUID  `json:"id"`
	URL          *string    `json:"url"`
	Type         Type       `json:"type"`
	OwnerID      uuid.UUID  `json:"owner_id"`
	Description  string     `json:"description"`
	MessageID    *uuid.UUID `json:"message_id"`
	MimeType     string     `json:"mime_type"`
	Size         int64      `json:"size"`
	Duration     *float64   `json:"duration"`
	Width        *int       `json:"width"`
	Height       *int       `json:"height"`
	ThumbnailURL *string    `json:"thumbnail_url"`
	Status       Status     `json:"status"`
	LastError    *string    `json:"last_error"`
	StagingKey   string     `json:"-"`
	Metadata     Metadata   `json:"metadata"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// ReadyUpdate carries everything a successful job writes in one update.
type ReadyUpdate struct {
	URL          string
	ThumbnailURL *string
	Duration     *float64
	Width        *int
	Height       *int
	Metadata     Metadata
}

type Repository interface {
	Save(ctx context.Context, m *Multimedia) error
	FindByID(ctx context.Context, id uuid.UUID) (*Multimedia, error)
	FindByIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]*Multimedia, error)
	// AttachToMessage sets the message back reference and moves an
	// uploading record to processing.
	AttachToMessage(ctx context.Context, id, messageID uuid.UUID) error
	// MarkReady reports false when the record was not in a state that may
	// become ready.
	MarkReady(ctx context.Context, id uuid.UUID, u ReadyUpdate) (bool, error)
	// MarkFailed never overwrites a ready record; applied is false in that case.
	MarkFailed(ctx context.Context, id uuid.UUID, reason string) (bool, error)
	ListStale(ctx context.Context, olderThan time.Time, limit int) ([]*Multimedia, error)
}
