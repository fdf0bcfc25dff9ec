package media

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/khoahotran/chatmedia/internal/application/service"
	"github.com/khoahotran/chatmedia/internal/domain/event"
	"github.com/khoahotran/chatmedia/internal/domain/multimedia"
	"github.com/khoahotran/chatmedia/pkg/apperror"
	"github.com/khoahotran/chatmedia/pkg/logger"
)

var tracer = otel.Tracer("media_usecase")

const failureWriteTimeout = 10 * time.Second

type ProcessMediaConfig struct {
	TempDir    string
	JobTimeout time.Duration
}

// ProcessMediaUseCase runs one transcoding job from staged upload to ready
// record. It is safe to run the same job more than once, also concurrently.
type ProcessMediaUseCase struct {
	repo       multimedia.Repository
	store      service.BlobStore
	bus        service.EventBus
	processors map[multimedia.Type]service.Processor
	cfg        ProcessMediaConfig
	logger     logger.Logger
	now        func() time.Time
}

func NewProcessMediaUseCase(
	r multimedia.Repository,
	s service.BlobStore,
	b service.EventBus,
	processors map[multimedia.Type]service.Processor,
	cfg ProcessMediaConfig,
	log logger.Logger,
) *ProcessMediaUseCase {
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = 10 * time.Minute
	}
	return &ProcessMediaUseCase{
		repo: r, store: s, bus: b, processors: processors,
		cfg: cfg, logger: log, now: time.Now,
	}
}

// Handle adapts the use case to the job queue.
func (uc *ProcessMediaUseCase) Handle(ctx context.Context, d service.Delivery) error {
	var job multimedia.ProcessJob
	if err := json.Unmarshal(d.Payload, &job); err != nil {
		uc.logger.Error("Dropping undecodable job", err, zap.String("job_id", d.ID))
		return nil
	}
	return uc.Execute(ctx, job, d)
}

func (uc *ProcessMediaUseCase) Execute(ctx context.Context, job multimedia.ProcessJob, d service.Delivery) error {
	ctx, span := tracer.Start(ctx, "ProcessMedia")
	defer span.End()
	span.SetAttributes(
		attribute.String("multimedia_id", job.MultimediaID.String()),
		attribute.Int("attempt", d.Attempt),
	)

	l := uc.logger.With(
		zap.String("multimedia_id", job.MultimediaID.String()),
		zap.String("message_id", job.MessageID.String()),
		zap.String("job_id", d.ID),
		zap.Int("attempt", d.Attempt),
	)

	ctx, cancel := context.WithTimeout(ctx, uc.cfg.JobTimeout)
	defer cancel()

	m, err := uc.repo.FindByID(ctx, job.MultimediaID)
	if err != nil {
		if apperror.IsNotFound(err) {
			l.Warn("Multimedia not found, skipping job")
			return nil
		}
		span.RecordError(err)
		return err
	}

	workDir, err := os.MkdirTemp(uc.cfg.TempDir, fmt.Sprintf("job-%s-*", m.ID))
	if err != nil {
		return uc.fail(ctx, l, m, job, d, fmt.Errorf("create work dir: %w", err))
	}
	defer func() {
		if err := os.RemoveAll(workDir); err != nil {
			l.Warn("Failed to remove work dir", zap.String("dir", workDir), zap.Error(err))
		}
	}()

	input := filepath.Join(workDir, "input"+strings.ToLower(filepath.Ext(job.StagingKey)))
	if err := uc.download(ctx, job.StagingKey, input); err != nil {
		if errors.Is(err, service.ErrObjectNotFound) && uc.alreadyReady(ctx, m.ID) {
			l.Info("Staged object already consumed and record is ready, treating as duplicate delivery")
			return nil
		}
		return uc.fail(ctx, l, m, job, d, fmt.Errorf("download staged upload: %w", err))
	}

	mimeType := job.MimeType
	if mimeType == "" {
		mimeType = m.MimeType
	}
	category, ok := multimedia.TypeFromMIME(mimeType)
	if !ok {
		category = m.Type
	}
	proc, ok := uc.processors[category]
	if !ok {
		return uc.fail(ctx, l, m, job, d, fmt.Errorf("unsupported media type %q", mimeType))
	}

	res, err := proc.Process(ctx, input, workDir, mimeType)
	if err != nil {
		return uc.fail(ctx, l, m, job, d, err)
	}

	now := uc.now()
	artifact, err := uc.upload(ctx, multimedia.FinalKey(m.OwnerID, m.ID, job.StagingKey, res.ArtifactExt, now), res.ArtifactPath, res.ArtifactContentType)
	if err != nil {
		return uc.fail(ctx, l, m, job, d, fmt.Errorf("upload artifact: %w", err))
	}
	uploaded := []string{artifact.Key}

	var thumbURL *string
	if res.ThumbnailPath != "" {
		thumb, err := uc.upload(ctx, multimedia.ThumbnailKey(m.OwnerID, m.ID, job.StagingKey, now), res.ThumbnailPath, "image/jpeg")
		if err != nil {
			uc.discard(l, uploaded)
			return uc.fail(ctx, l, m, job, d, fmt.Errorf("upload thumbnail: %w", err))
		}
		uploaded = append(uploaded, thumb.Key)
		thumbURL = &thumb.URL
	}

	applied, err := uc.repo.MarkReady(ctx, m.ID, multimedia.ReadyUpdate{
		URL:          artifact.URL,
		ThumbnailURL: thumbURL,
		Duration:     res.Duration,
		Width:        res.Width,
		Height:       res.Height,
		Metadata:     res.Metadata,
	})
	if err != nil {
		uc.discard(l, uploaded)
		span.RecordError(err)
		return err
	}
	if !applied {
		l.Warn("Multimedia no longer accepts a result, discarding artifacts")
		uc.discard(l, uploaded)
		return nil
	}

	uc.bus.Publish(ctx, event.MultimediaReady, event.MultimediaReadyPayload{
		MultimediaID: m.ID,
		MessageID:    messageRef(m, job),
		URL:          artifact.URL,
		ThumbnailURL: thumbURL,
		Width:        res.Width,
		Height:       res.Height,
		Duration:     res.Duration,
		Metadata:     res.Metadata,
	})
	uc.deleteStaging(l, job.StagingKey)

	l.Info("Multimedia processed", zap.String("url", artifact.URL))
	return nil
}

// fail records the failure on the record and hands err back so the queue
// retries. The staged upload is kept for the retries and removed with the
// last attempt.
func (uc *ProcessMediaUseCase) fail(ctx context.Context, l logger.Logger, m *multimedia.Multimedia, job multimedia.ProcessJob, d service.Delivery, cause error) error {
	l.Error("Multimedia processing failed", cause)
	span := trace.SpanFromContext(ctx)
	span.RecordError(cause)
	span.SetStatus(codes.Error, cause.Error())

	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), failureWriteTimeout)
	defer cancel()

	applied, err := uc.repo.MarkFailed(fctx, m.ID, cause.Error())
	if err != nil {
		l.Error("Failed to mark multimedia failed", err)
	}
	if applied {
		uc.bus.Publish(fctx, event.MultimediaFailed, event.MultimediaFailedPayload{
			MultimediaID: m.ID,
			MessageID:    messageRef(m, job),
			Error:        cause.Error(),
		})
	}
	if d.Final() {
		uc.deleteStaging(l, job.StagingKey)
	}
	return cause
}

// alreadyReady re-reads the record; another delivery of the same job may
// have finished since this one started.
func (uc *ProcessMediaUseCase) alreadyReady(ctx context.Context, id uuid.UUID) bool {
	m, err := uc.repo.FindByID(ctx, id)
	return err == nil && m.Status == multimedia.StatusReady
}

func (uc *ProcessMediaUseCase) download(ctx context.Context, key, dst string) error {
	f, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer f.Close()

	if ss, ok := uc.store.(service.StreamingBlobStore); ok {
		rc, err := ss.GetStream(ctx, key)
		if err != nil {
			return err
		}
		defer rc.Close()
		if _, err := io.Copy(f, rc); err != nil {
			return err
		}
		return f.Close()
	}

	data, err := uc.store.Get(ctx, key)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		return err
	}
	return f.Close()
}

func (uc *ProcessMediaUseCase) upload(ctx context.Context, key, path, contentType string) (service.PutResult, error) {
	if ss, ok := uc.store.(service.StreamingBlobStore); ok {
		f, err := os.Open(path)
		if err != nil {
			return service.PutResult{}, err
		}
		defer f.Close()
		st, err := f.Stat()
		if err != nil {
			return service.PutResult{}, err
		}
		return ss.PutStream(ctx, key, f, st.Size(), contentType)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return service.PutResult{}, err
	}
	return uc.store.Put(ctx, key, data, contentType)
}

func (uc *ProcessMediaUseCase) deleteStaging(l logger.Logger, key string) {
	deleteObject(uc.store, l, key)
}

func (uc *ProcessMediaUseCase) discard(l logger.Logger, keys []string) {
	for _, k := range keys {
		deleteObject(uc.store, l, k)
	}
}

// deleteObject runs detached from the job context so cleanup still happens
// after a timeout.
func deleteObject(store service.BlobStore, l logger.Logger, key string) {
	if key == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), failureWriteTimeout)
	defer cancel()
	if err := store.Delete(ctx, key); err != nil {
		l.Warn("Failed to delete object", zap.String("key", key), zap.Error(err))
	}
}

func messageRef(m *multimedia.Multimedia, job multimedia.ProcessJob) *uuid.UUID {
	if m.MessageID != nil {
		return m.MessageID
	}
	if job.MessageID != uuid.Nil {
		id := job.MessageID
		return &id
	}
	return nil
}
