package message

import (
	"context"
	"sort"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/khoahotran/chatmedia/internal/domain/event"
	"github.com/khoahotran/chatmedia/internal/domain/message"
	"github.com/khoahotran/chatmedia/internal/domain/multimedia"
	"github.com/khoahotran/chatmedia/pkg/apperror"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

type ListMessagesUseCase struct {
	messageRepo    message.Repository
	multimediaRepo multimedia.Repository
}

func NewListMessagesUseCase(msgRepo message.Repository, mr multimedia.Repository) *ListMessagesUseCase {
	return &ListMessagesUseCase{messageRepo: msgRepo, multimediaRepo: mr}
}

// Execute returns the user's sent and received messages, newest first, with
// the current multimedia url, thumbnail and status attached.
func (uc *ListMessagesUseCase) Execute(ctx context.Context, userID uuid.UUID, limit int) ([]event.MessageSummary, error) {
	ctx, span := tracer.Start(ctx, "ListMessages")
	defer span.End()

	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}

	var sent, received []*message.Message
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		sent, err = uc.messageRepo.ListBySender(gctx, userID, limit)
		return err
	})
	g.Go(func() (err error) {
		received, err = uc.messageRepo.ListByReceiver(gctx, userID, limit)
		return err
	})
	if err := g.Wait(); err != nil {
		span.RecordError(err)
		return nil, apperror.NewInternal("failed to list messages", err)
	}

	seen := make(map[uuid.UUID]struct{}, len(sent)+len(received))
	merged := make([]*message.Message, 0, len(sent)+len(received))
	for _, list := range [][]*message.Message{sent, received} {
		for _, m := range list {
			if _, dup := seen[m.ID]; dup {
				continue
			}
			seen[m.ID] = struct{}{}
			merged = append(merged, m)
		}
	}
	sort.SliceStable(merged, func(i, j int) bool { return merged[i].CreatedAt.After(merged[j].CreatedAt) })
	if len(merged) > limit {
		merged = merged[:limit]
	}

	var ids []uuid.UUID
	for _, m := range merged {
		if m.MultimediaID != nil {
			ids = append(ids, *m.MultimediaID)
		}
	}
	media, err := uc.multimediaRepo.FindByIDs(ctx, ids)
	if err != nil {
		return nil, apperror.NewInternal("failed to load multimedia", err)
	}

	out := make([]event.MessageSummary, 0, len(merged))
	for _, m := range merged {
		var mm *multimedia.Multimedia
		if m.MultimediaID != nil {
			mm = media[*m.MultimediaID]
		}
		out = append(out, toSummary(m, mm))
	}
	return out, nil
}
