package message

import (
	"github.com/khoahotran/chatmedia/internal/domain/event"
	"github.com/khoahotran/chatmedia/internal/domain/message"
	"github.com/khoahotran/chatmedia/internal/domain/multimedia"
)

// toSummary builds the client view; mm may be nil.
func toSummary(m *message.Message, mm *multimedia.Multimedia) event.MessageSummary {
	s := event.MessageSummary{
		ID:               m.ID,
		Content:          m.Content,
		Type:             string(m.Type),
		SenderID:         m.SenderID,
		ReceiverID:       m.ReceiverID,
		MultimediaID:     m.MultimediaID,
		MultimediaStatus: m.MultimediaStatus,
		Status:           string(m.Status),
		CreatedAt:        m.CreatedAt,
		UpdatedAt:        m.UpdatedAt,
	}
	if mm != nil {
		status := mm.Status
		s.MultimediaStatus = &status
		s.MultimediaURL = mm.URL
		s.ThumbnailURL = mm.ThumbnailURL
	}
	return s
}
