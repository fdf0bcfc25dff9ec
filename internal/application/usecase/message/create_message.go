package message

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/khoahotran/chatmedia/internal/application/service"
	"github.com/khoahotran/chatmedia/internal/domain/event"
	"github.com/khoahotran/chatmedia/internal/domain/message"
	"github.com/khoahotran/chatmedia/internal/domain/multimedia"
	"github.com/khoahotran/chatmedia/internal/domain/user"
	"github.com/khoahotran/chatmedia/pkg/apperror"
	"github.com/khoahotran/chatmedia/pkg/logger"
)

type CreateMessageUseCase struct {
	messageRepo    message.Repository
	multimediaRepo multimedia.Repository
	userRepo       user.Repository
	bus            service.EventBus
	logger         logger.Logger
}

func NewCreateMessageUseCase(msgRepo message.Repository, mr multimedia.Repository, ur user.Repository, b service.EventBus, log logger.Logger) *CreateMessageUseCase {
	return &CreateMessageUseCase{messageRepo: msgRepo, multimediaRepo: mr, userRepo: ur, bus: b, logger: log}
}

type CreateMessageInput struct {
	SenderID     string
	ReceiverID   string
	Content      string
	Type         string
	MultimediaID string
}

func (uc *CreateMessageUseCase) Execute(ctx context.Context, in CreateMessageInput) (*event.MessageSummary, error) {
	ctx, span := tracer.Start(ctx, "CreateMessage")
	defer span.End()

	sender, receiver, err := parseParticipants(ctx, uc.userRepo, in.SenderID, in.ReceiverID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	typ := message.Type(strings.ToLower(strings.TrimSpace(in.Type)))
	if typ == "" {
		typ = message.TypeText
	}
	if !typ.Valid() {
		return nil, apperror.NewInvalidInput(fmt.Sprintf("unknown message type %q", in.Type), nil)
	}

	msg := &message.Message{
		ID:         uuid.New(),
		Content:    in.Content,
		Type:       typ,
		SenderID:   sender,
		ReceiverID: receiver,
		Status:     message.StatusSent,
	}

	var mm *multimedia.Multimedia
	if in.MultimediaID != "" {
		mm, err = uc.reference(ctx, sender, in.MultimediaID)
		if err != nil {
			return nil, err
		}
		if typ == message.TypeText {
			msg.Type = message.Type(mm.Type)
		}
		status := mm.Status
		if status == multimedia.StatusUploading {
			status = multimedia.StatusProcessing
		}
		msg.MultimediaID = &mm.ID
		msg.MultimediaStatus = &status
	} else if typ != message.TypeText {
		return nil, apperror.NewInvalidInput(fmt.Sprintf("a %s message needs a multimedia id or a file", typ), nil)
	} else if strings.TrimSpace(in.Content) == "" {
		return nil, apperror.NewInvalidInput("content is required", nil)
	}

	if err := uc.messageRepo.Save(ctx, msg); err != nil {
		return nil, apperror.NewInternal("failed to save message", err)
	}
	if mm != nil {
		if err := uc.multimediaRepo.AttachToMessage(ctx, mm.ID, msg.ID); err != nil {
			return nil, err
		}
	}

	summary := toSummary(msg, mm)
	uc.bus.Publish(ctx, event.MessageCreated, summary)
	return &summary, nil
}

// reference checks that the sender owns an unattached multimedia record.
func (uc *CreateMessageUseCase) reference(ctx context.Context, sender uuid.UUID, rawID string) (*multimedia.Multimedia, error) {
	id, err := uuid.Parse(rawID)
	if err != nil {
		return nil, apperror.NewInvalidInput("multimedia id must be a uuid", err)
	}
	mm, err := uc.multimediaRepo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if mm.OwnerID != sender {
		return nil, apperror.NewPermissionDenied("multimedia belongs to another user")
	}
	if mm.MessageID != nil {
		return nil, apperror.NewConflict("multimedia", "message", mm.MessageID.String())
	}
	return mm, nil
}
