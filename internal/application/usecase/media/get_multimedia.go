package media

import (
	"context"

	"github.com/google/uuid"

	"github.com/khoahotran/chatmedia/internal/domain/message"
	"github.com/khoahotran/chatmedia/internal/domain/multimedia"
	"github.com/khoahotran/chatmedia/pkg/apperror"
)

type GetMultimediaUseCase struct {
	repo        multimedia.Repository
	messageRepo message.Repository
}

func NewGetMultimediaUseCase(r multimedia.Repository, mr message.Repository) *GetMultimediaUseCase {
	return &GetMultimediaUseCase{repo: r, messageRepo: mr}
}

type GetMultimediaInput struct {
	RequesterID  uuid.UUID
	MultimediaID string
}

// Execute returns the record to its owner or to the receiver of the message
// it is attached to.
func (uc *GetMultimediaUseCase) Execute(ctx context.Context, in GetMultimediaInput) (*multimedia.Multimedia, error) {
	id, err := uuid.Parse(in.MultimediaID)
	if err != nil {
		return nil, apperror.NewInvalidInput("multimedia id must be a uuid", err)
	}
	m, err := uc.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if m.OwnerID == in.RequesterID {
		return m, nil
	}
	if m.MessageID != nil {
		msg, err := uc.messageRepo.FindByID(ctx, *m.MessageID)
		if err == nil && msg.ReceiverID == in.RequesterID {
			return m, nil
		}
	}
	return nil, apperror.NewNotFound("multimedia", in.MultimediaID)
}
