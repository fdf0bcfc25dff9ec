package media

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/khoahotran/chatmedia/internal/application/service"
	"github.com/khoahotran/chatmedia/internal/domain/event"
	"github.com/khoahotran/chatmedia/internal/domain/multimedia"
	"github.com/khoahotran/chatmedia/pkg/logger"
)

const staleReason = "processing did not complete in time"

// SweepStaleUseCase fails records stuck in uploading or processing, for
// example when the job was never enqueued or was dead-lettered while the
// failure write itself failed. The staged upload is left in place and a fresh
// job is queued for it: a job still waiting in a backlog can move the record
// from failed to ready, and the last attempt of the new job removes the
// staged object either way.
type SweepStaleUseCase struct {
	repo       multimedia.Repository
	queue      service.JobQueue
	bus        service.EventBus
	staleAfter time.Duration
	batchSize  int
	logger     logger.Logger
	now        func() time.Time
}

func NewSweepStaleUseCase(r multimedia.Repository, q service.JobQueue, b service.EventBus, staleAfter time.Duration, batchSize int, log logger.Logger) *SweepStaleUseCase {
	if staleAfter <= 0 {
		staleAfter = time.Hour
	}
	if batchSize <= 0 {
		batchSize = 100
	}
	return &SweepStaleUseCase{repo: r, queue: q, bus: b, staleAfter: staleAfter, batchSize: batchSize, logger: log, now: time.Now}
}

// Execute returns how many records it moved to failed.
func (uc *SweepStaleUseCase) Execute(ctx context.Context) (int, error) {
	ctx, span := tracer.Start(ctx, "SweepStale")
	defer span.End()

	stale, err := uc.repo.ListStale(ctx, uc.now().Add(-uc.staleAfter), uc.batchSize)
	if err != nil {
		span.RecordError(err)
		return 0, err
	}

	failed := 0
	for _, m := range stale {
		l := uc.logger.With(zap.String("multimedia_id", m.ID.String()), zap.String("status", string(m.Status)))
		applied, err := uc.repo.MarkFailed(ctx, m.ID, staleReason)
		if err != nil {
			l.Error("Failed to fail stale multimedia", err)
			continue
		}
		if !applied {
			continue
		}
		failed++
		l.Warn("Stale multimedia marked failed")
		uc.bus.Publish(ctx, event.MultimediaFailed, event.MultimediaFailedPayload{
			MultimediaID: m.ID,
			MessageID:    m.MessageID,
			Error:        staleReason,
		})
		uc.requeue(ctx, l, m)
	}
	return failed, nil
}

func (uc *SweepStaleUseCase) requeue(ctx context.Context, l logger.Logger, m *multimedia.Multimedia) {
	if m.StagingKey == "" {
		return
	}
	job := multimedia.ProcessJob{
		StagingKey:   m.StagingKey,
		MultimediaID: m.ID,
		OwnerID:      m.OwnerID,
		MimeType:     m.MimeType,
	}
	if m.MessageID != nil {
		job.MessageID = *m.MessageID
	}
	jobID, err := uc.queue.Enqueue(ctx, multimedia.JobProcess, job)
	if err != nil {
		l.Error("Failed to requeue stale multimedia", err)
		return
	}
	l.Info("Stale multimedia requeued", zap.String("job_id", jobID))
}
