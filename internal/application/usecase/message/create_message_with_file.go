package message

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/khoahotran/chatmedia/internal/application/service"
	"github.com/khoahotran/chatmedia/internal/domain/event"
	"github.com/khoahotran/chatmedia/internal/domain/message"
	"github.com/khoahotran/chatmedia/internal/domain/multimedia"
	"github.com/khoahotran/chatmedia/internal/domain/user"
	"github.com/khoahotran/chatmedia/pkg/apperror"
	"github.com/khoahotran/chatmedia/pkg/logger"
)

var tracer = otel.Tracer("message_usecase")

const sniffLen = 3072

type CreateMessageWithFileUseCase struct {
	multimediaRepo multimedia.Repository
	messageRepo    message.Repository
	userRepo       user.Repository
	store          service.BlobStore
	queue          service.JobQueue
	bus            service.EventBus
	logger         logger.Logger
}

func NewCreateMessageWithFileUseCase(
	mr multimedia.Repository,
	msgRepo message.Repository,
	ur user.Repository,
	s service.BlobStore,
	q service.JobQueue,
	b service.EventBus,
	log logger.Logger,
) *CreateMessageWithFileUseCase {
	return &CreateMessageWithFileUseCase{
		multimediaRepo: mr, messageRepo: msgRepo, userRepo: ur,
		store: s, queue: q, bus: b, logger: log,
	}
}

type CreateMessageWithFileInput struct {
	SenderID   string
	ReceiverID string
	Content    string
	Type       string
	File       io.Reader
	Size       int64
	Filename   string
	MimeType   string
}

// Execute stages the upload, records it and queues the transcoding job. The
// returned message reports multimedia status "processing"; the final
// status arrives later as a message.updated event.
func (uc *CreateMessageWithFileUseCase) Execute(ctx context.Context, in CreateMessageWithFileInput) (*event.MessageSummary, error) {
	ctx, span := tracer.Start(ctx, "CreateMessageWithFile")
	defer span.End()

	if in.File == nil {
		return nil, apperror.NewInvalidInput("a file is required", nil)
	}
	sender, receiver, err := parseParticipants(ctx, uc.userRepo, in.SenderID, in.ReceiverID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	file, mimeType, err := detectMIME(in.File, in.MimeType)
	if err != nil {
		return nil, apperror.NewInvalidInput("could not read upload", err)
	}
	category, ok := multimedia.TypeFromMIME(mimeType)
	if !ok {
		return nil, apperror.NewUnsupportedMedia(mimeType)
	}
	declared := multimedia.Type(strings.ToLower(strings.TrimSpace(in.Type)))
	if declared == "" {
		declared = category
	}
	if !declared.Valid() {
		return nil, apperror.NewInvalidInput(fmt.Sprintf("message type %q cannot carry a file", in.Type), nil)
	}
	if declared != category {
		return nil, apperror.NewInvalidInput(fmt.Sprintf("declared type %q does not match file type %q", declared, mimeType), nil)
	}
	span.SetAttributes(attribute.String("mime_type", mimeType), attribute.String("type", string(declared)))

	stagingKey := multimedia.StagingKey(in.Filename)
	put, err := uc.stage(ctx, stagingKey, file, in.Size, mimeType)
	if err != nil {
		span.RecordError(err)
		return nil, apperror.NewInternal("failed to stage upload", err)
	}
	l := uc.logger.With(zap.String("staging_key", stagingKey), zap.String("sender_id", sender.String()))

	mm := &multimedia.Multimedia{
		ID:          uuid.New(),
		Type:        declared,
		OwnerID:     sender,
		Description: in.Content,
		MimeType:    mimeType,
		Size:        put.Size,
		Status:      multimedia.StatusUploading,
		StagingKey:  stagingKey,
	}
	if err := uc.multimediaRepo.Save(ctx, mm); err != nil {
		deleteStaged(uc.store, l, stagingKey)
		return nil, apperror.NewInternal("failed to save multimedia", err)
	}

	processing := multimedia.StatusProcessing
	msg := &message.Message{
		ID:               uuid.New(),
		Content:          in.Content,
		Type:             message.Type(declared),
		SenderID:         sender,
		ReceiverID:       receiver,
		MultimediaID:     &mm.ID,
		MultimediaStatus: &processing,
		Status:           message.StatusSent,
	}
	if err := uc.messageRepo.Save(ctx, msg); err != nil {
		return nil, apperror.NewInternal("failed to save message", err)
	}
	if err := uc.multimediaRepo.AttachToMessage(ctx, mm.ID, msg.ID); err != nil {
		return nil, apperror.NewInternal("failed to attach multimedia to message", err)
	}
	mm.MessageID = &msg.ID
	mm.Status = multimedia.StatusProcessing

	jobID, err := uc.queue.Enqueue(ctx, multimedia.JobProcess, multimedia.ProcessJob{
		StagingKey:   stagingKey,
		MultimediaID: mm.ID,
		MessageID:    msg.ID,
		OwnerID:      sender,
		MimeType:     mimeType,
	})
	if err != nil {
		l.Error("Failed to enqueue processing job", err, zap.String("multimedia_id", mm.ID.String()))
		span.RecordError(err)
		return nil, apperror.NewInternal("failed to enqueue processing job", err)
	}

	summary := toSummary(msg, mm)
	uc.bus.Publish(ctx, event.MessageCreated, summary)

	l.Info("Upload accepted",
		zap.String("multimedia_id", mm.ID.String()),
		zap.String("message_id", msg.ID.String()),
		zap.String("job_id", jobID),
		zap.Int64("size", put.Size),
	)
	return &summary, nil
}

func (uc *CreateMessageWithFileUseCase) stage(ctx context.Context, key string, r io.Reader, size int64, contentType string) (service.PutResult, error) {
	if ss, ok := uc.store.(service.StreamingBlobStore); ok {
		return ss.PutStream(ctx, key, r, size, contentType)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return service.PutResult{}, err
	}
	return uc.store.Put(ctx, key, data, contentType)
}

// detectMIME trusts a specific declared MIME type and sniffs the content
// otherwise. The returned reader still yields the whole upload.
func detectMIME(r io.Reader, declared string) (io.Reader, string, error) {
	declared = normalizeMIME(declared)
	if declared != "" && declared != "application/octet-stream" {
		return r, declared, nil
	}
	br := bufio.NewReaderSize(r, sniffLen)
	head, err := br.Peek(sniffLen)
	if err != nil && err != io.EOF && err != bufio.ErrBufferFull {
		return nil, "", err
	}
	detected := normalizeMIME(mimetype.Detect(bytes.Clone(head)).String())
	return br, detected, nil
}

func normalizeMIME(s string) string {
	s, _, _ = strings.Cut(s, ";")
	return strings.ToLower(strings.TrimSpace(s))
}

func deleteStaged(store service.BlobStore, l logger.Logger, key string) {
	if err := store.Delete(context.Background(), key); err != nil {
		l.Warn("Failed to delete staged upload", zap.Error(err))
	}
}
