package message

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/khoahotran/chatmedia/internal/application/service"
	"github.com/khoahotran/chatmedia/internal/domain/event"
	"github.com/khoahotran/chatmedia/internal/domain/message"
	"github.com/khoahotran/chatmedia/internal/domain/multimedia"
	"github.com/khoahotran/chatmedia/pkg/apperror"
	"github.com/khoahotran/chatmedia/pkg/logger"
)

// ReconcileUseCase copies the outcome of a transcoding job onto the owning
// message and tells the participants about it.
type ReconcileUseCase struct {
	messageRepo    message.Repository
	multimediaRepo multimedia.Repository
	bus            service.EventBus
	logger         logger.Logger
}

func NewReconcileUseCase(msgRepo message.Repository, mr multimedia.Repository, b service.EventBus, log logger.Logger) *ReconcileUseCase {
	return &ReconcileUseCase{messageRepo: msgRepo, multimediaRepo: mr, bus: b, logger: log}
}

// Start subscribes to multimedia outcomes. The returned func unsubscribes.
func (uc *ReconcileUseCase) Start() (func(), error) {
	cancelReady, err := uc.bus.Subscribe(event.MultimediaReady, uc.onReady)
	if err != nil {
		return nil, err
	}
	cancelFailed, err := uc.bus.Subscribe(event.MultimediaFailed, uc.onFailed)
	if err != nil {
		cancelReady()
		return nil, err
	}
	return func() {
		cancelReady()
		cancelFailed()
	}, nil
}

func (uc *ReconcileUseCase) onReady(ctx context.Context, env event.Envelope) {
	var p event.MultimediaReadyPayload
	if err := env.Decode(&p); err != nil {
		uc.logger.Error("Dropping malformed event", err, zap.String("event", env.Name))
		return
	}
	url := p.URL
	if err := uc.Reconcile(ctx, p.MultimediaID, p.MessageID, multimedia.StatusReady, &url, p.ThumbnailURL); err != nil {
		uc.logger.Error("Failed to reconcile ready multimedia", err, zap.String("multimedia_id", p.MultimediaID.String()))
	}
}

func (uc *ReconcileUseCase) onFailed(ctx context.Context, env event.Envelope) {
	var p event.MultimediaFailedPayload
	if err := env.Decode(&p); err != nil {
		uc.logger.Error("Dropping malformed event", err, zap.String("event", env.Name))
		return
	}
	if err := uc.Reconcile(ctx, p.MultimediaID, p.MessageID, multimedia.StatusFailed, nil, nil); err != nil {
		uc.logger.Error("Failed to reconcile failed multimedia", err, zap.String("multimedia_id", p.MultimediaID.String()))
	}
}

// Reconcile applies one outcome. The multimedia record wins over the event
// when they disagree, so a late failure event cannot hide a ready result.
func (uc *ReconcileUseCase) Reconcile(ctx context.Context, multimediaID uuid.UUID, messageID *uuid.UUID, status multimedia.Status, url, thumbnailURL *string) error {
	l := uc.logger.With(zap.String("multimedia_id", multimediaID.String()))

	mm, err := uc.multimediaRepo.FindByID(ctx, multimediaID)
	switch {
	case err == nil:
		status = mm.Status
		if messageID == nil {
			messageID = mm.MessageID
		}
		if status == multimedia.StatusReady {
			if url == nil {
				url = mm.URL
			}
			if thumbnailURL == nil {
				thumbnailURL = mm.ThumbnailURL
			}
		} else {
			url, thumbnailURL = nil, nil
		}
	case apperror.IsNotFound(err):
		l.Warn("Multimedia record missing, using event status")
	default:
		return err
	}

	if messageID == nil {
		l.Info("Multimedia has no message, nothing to reconcile")
		return nil
	}

	msg, err := uc.messageRepo.UpdateMultimediaStatus(ctx, *messageID, status)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			l.Info("Message gone, nothing to reconcile", zap.String("message_id", messageID.String()))
			return nil
		}
		return err
	}

	summary := toSummary(msg, nil)
	summary.MultimediaURL = url
	summary.ThumbnailURL = thumbnailURL
	uc.bus.Publish(ctx, event.MessageUpdated, summary)
	l.Info("Message multimedia status updated", zap.String("message_id", msg.ID.String()), zap.String("status", string(status)))
	return nil
}

// Resync repairs messages that missed their multimedia outcome event, for
// example because a subscriber buffer was full. It returns how many messages
// it updated.
func (uc *ReconcileUseCase) Resync(ctx context.Context, olderThan time.Time, limit int) (int, error) {
	pending, err := uc.messageRepo.ListUnsettled(ctx, olderThan, limit)
	if err != nil {
		return 0, err
	}
	ids := make([]uuid.UUID, 0, len(pending))
	for _, msg := range pending {
		if msg.MultimediaID != nil {
			ids = append(ids, *msg.MultimediaID)
		}
	}
	if len(ids) == 0 {
		return 0, nil
	}
	records, err := uc.multimediaRepo.FindByIDs(ctx, ids)
	if err != nil {
		return 0, err
	}

	updated := 0
	for _, msg := range pending {
		if msg.MultimediaID == nil {
			continue
		}
		mm, ok := records[*msg.MultimediaID]
		if !ok || !mm.Status.Terminal() {
			continue
		}
		msgID := msg.ID
		if err := uc.Reconcile(ctx, mm.ID, &msgID, mm.Status, nil, nil); err != nil {
			uc.logger.Error("Failed to resync message", err, zap.String("message_id", msg.ID.String()))
			continue
		}
		updated++
	}
	return updated, nil
}
