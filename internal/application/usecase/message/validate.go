package message

import (
	"context"

	"github.com/google/uuid"

	"github.com/khoahotran/chatmedia/internal/domain/user"
	"github.com/khoahotran/chatmedia/pkg/apperror"
)

func parseParticipants(ctx context.Context, users user.Repository, senderID, receiverID string) (uuid.UUID, uuid.UUID, error) {
	sender, err := uuid.Parse(senderID)
	if err != nil {
		return uuid.Nil, uuid.Nil, apperror.NewInvalidInput("sender id must be a uuid", err)
	}
	receiver, err := uuid.Parse(receiverID)
	if err != nil {
		return uuid.Nil, uuid.Nil, apperror.NewInvalidInput("receiver id must be a uuid", err)
	}
	ok, err := users.Exists(ctx, receiver)
	if err != nil {
		return uuid.Nil, uuid.Nil, err
	}
	if !ok {
		return uuid.Nil, uuid.Nil, apperror.NewNotFound("user", receiver.String())
	}
	return sender, receiver, nil
}
