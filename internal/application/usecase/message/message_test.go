package message_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image/color"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/disintegration/imaging"
	"github.com/google/uuid"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	eventbus "github.com/khoahotran/chatmedia/adapters/event"
	"github.com/khoahotran/chatmedia/adapters/media_storage"
	"github.com/khoahotran/chatmedia/adapters/persistence/memory"
	"github.com/khoahotran/chatmedia/internal/application/service"
	usecase "github.com/khoahotran/chatmedia/internal/application/usecase/message"
	"github.com/khoahotran/chatmedia/internal/domain/event"
	"github.com/khoahotran/chatmedia/internal/domain/message"
	"github.com/khoahotran/chatmedia/internal/domain/multimedia"
	"github.com/khoahotran/chatmedia/pkg/apperror"
	"github.com/khoahotran/chatmedia/pkg/logger"
)

type fakeQueue struct {
	mu   sync.Mutex
	jobs []multimedia.ProcessJob
	err  error
}

func (q *fakeQueue) Enqueue(ctx context.Context, name string, payload any) (string, error) {
	if q.err != nil {
		return "", q.err
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	var job multimedia.ProcessJob
	if err := json.Unmarshal(raw, &job); err != nil {
		return "", err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.jobs = append(q.jobs, job)
	return "1-0", nil
}

func (q *fakeQueue) Handle(name string, h service.JobHandler) {}
func (q *fakeQueue) Start(ctx context.Context, concurrency int) error { return nil }

type fixture struct {
	media    *memory.MultimediaRepo
	messages *memory.MessageRepo
	users    *memory.UserRepo
	store    *media_storage.LocalStore
	queue    *fakeQueue
	bus      *eventbus.MemoryBus
	sender   uuid.UUID
	receiver uuid.UUID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		media:    memory.NewMultimediaRepo(),
		messages: memory.NewMessageRepo(),
		store:    media_storage.NewLocalStoreFs(afero.NewMemMapFs(), "/uploads/multimedia"),
		queue:    &fakeQueue{},
		bus:      eventbus.NewMemoryBus(logger.NewNop(), 64),
		sender:   uuid.New(),
		receiver: uuid.New(),
	}
	f.users = memory.NewUserRepo(f.sender, f.receiver)
	t.Cleanup(func() { _ = f.bus.Close() })
	return f
}

func (f *fixture) upload() *usecase.CreateMessageWithFileUseCase {
	return usecase.NewCreateMessageWithFileUseCase(f.media, f.messages, f.users, f.store, f.queue, f.bus, logger.NewNop())
}

func (f *fixture) subscribe(t *testing.T, name string) <-chan event.Envelope {
	t.Helper()
	ch := make(chan event.Envelope, 8)
	cancel, err := f.bus.Subscribe(name, func(ctx context.Context, env event.Envelope) { ch <- env })
	require.NoError(t, err)
	t.Cleanup(cancel)
	return ch
}

func receive(t *testing.T, ch <-chan event.Envelope) event.Envelope {
	t.Helper()
	select {
	case env := <-ch:
		return env
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
	return event.Envelope{}
}

func pngBytes(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, imaging.Encode(&buf, imaging.New(4, 4, color.White), imaging.PNG))
	return buf.Bytes()
}

func TestCreateMessageWithFile_AcceptsAndQueues(t *testing.T) {
	f := newFixture(t)
	created := f.subscribe(t, event.MessageCreated)
	data := pngBytes(t)

	out, err := f.upload().Execute(context.Background(), usecase.CreateMessageWithFileInput{
		SenderID:   f.sender.String(),
		ReceiverID: f.receiver.String(),
		Content:    "look",
		File:       bytes.NewReader(data),
		Size:       int64(len(data)),
		Filename:   "dot.png",
		MimeType:   "application/octet-stream",
	})
	require.NoError(t, err)

	require.NotNil(t, out.MultimediaID)
	require.NotNil(t, out.MultimediaStatus)
	assert.Equal(t, multimedia.StatusProcessing, *out.MultimediaStatus)
	assert.Equal(t, "image", out.Type)

	mm, err := f.media.FindByID(context.Background(), *out.MultimediaID)
	require.NoError(t, err)
	assert.Contains(t, []multimedia.Status{multimedia.StatusUploading, multimedia.StatusProcessing}, mm.Status)
	assert.Equal(t, "image/png", mm.MimeType)
	assert.Equal(t, out.ID, *mm.MessageID)
	assert.Equal(t, int64(len(data)), mm.Size)

	require.Len(t, f.queue.jobs, 1)
	job := f.queue.jobs[0]
	assert.Equal(t, mm.ID, job.MultimediaID)
	assert.Equal(t, out.ID, job.MessageID)
	staged, err := f.store.Get(context.Background(), job.StagingKey)
	require.NoError(t, err)
	assert.Equal(t, data, staged)
	assert.True(t, strings.HasSuffix(job.StagingKey, "-dot.png"))

	var summary event.MessageSummary
	require.NoError(t, receive(t, created).Decode(&summary))
	assert.Equal(t, out.ID, summary.ID)
}

// bufferedStore hides the streaming methods of the wrapped store.
type bufferedStore struct{ service.BlobStore }

func TestCreateMessageWithFile_BufferedStore(t *testing.T) {
	f := newFixture(t)
	data := pngBytes(t)
	uc := usecase.NewCreateMessageWithFileUseCase(f.media, f.messages, f.users, bufferedStore{f.store}, f.queue, f.bus, logger.NewNop())

	out, err := uc.Execute(context.Background(), usecase.CreateMessageWithFileInput{
		SenderID:   f.sender.String(),
		ReceiverID: f.receiver.String(),
		File:       bytes.NewReader(data),
		Size:       int64(len(data)),
		Filename:   "dot.png",
		MimeType:   "image/png",
	})
	require.NoError(t, err)
	require.NotNil(t, out.MultimediaID)

	require.Len(t, f.queue.jobs, 1)
	staged, err := f.store.Get(context.Background(), f.queue.jobs[0].StagingKey)
	require.NoError(t, err)
	assert.Equal(t, data, staged)

	mm, err := f.media.FindByID(context.Background(), *out.MultimediaID)
	require.NoError(t, err)
	assert.Equal(t, int64(len(data)), mm.Size)
}

func TestCreateMessageWithFile_Rejections(t *testing.T) {
	f := newFixture(t)
	uc := f.upload()
	base := usecase.CreateMessageWithFileInput{
		SenderID:   f.sender.String(),
		ReceiverID: f.receiver.String(),
		Filename:   "x.bin",
	}

	t.Run("unsupported mime", func(t *testing.T) {
		in := base
		in.File = strings.NewReader("%PDF-1.7 hello")
		in.MimeType = "application/pdf"
		_, err := uc.Execute(context.Background(), in)
		assert.ErrorIs(t, err, apperror.ErrUnsupported)
	})
	t.Run("declared type does not match", func(t *testing.T) {
		in := base
		in.File = bytes.NewReader(pngBytes(t))
		in.MimeType = "image/png"
		in.Type = "video"
		_, err := uc.Execute(context.Background(), in)
		assert.ErrorIs(t, err, apperror.ErrInvalidInput)
	})
	t.Run("unknown receiver", func(t *testing.T) {
		in := base
		in.ReceiverID = uuid.NewString()
		in.File = bytes.NewReader(pngBytes(t))
		_, err := uc.Execute(context.Background(), in)
		assert.True(t, apperror.IsNotFound(err))
	})
	t.Run("missing file", func(t *testing.T) {
		_, err := uc.Execute(context.Background(), base)
		assert.ErrorIs(t, err, apperror.ErrInvalidInput)
	})
	assert.Empty(t, f.queue.jobs)
}

func TestCreateMessageWithFile_EnqueueFailure(t *testing.T) {
	f := newFixture(t)
	f.queue.err = errors.New("redis down")
	data := pngBytes(t)

	_, err := f.upload().Execute(context.Background(), usecase.CreateMessageWithFileInput{
		SenderID:   f.sender.String(),
		ReceiverID: f.receiver.String(),
		File:       bytes.NewReader(data),
		Size:       int64(len(data)),
		Filename:   "dot.png",
		MimeType:   "image/png",
	})
	assert.ErrorIs(t, err, apperror.ErrInternal)
}

func TestCreateMessage_Text(t *testing.T) {
	f := newFixture(t)
	created := f.subscribe(t, event.MessageCreated)
	uc := usecase.NewCreateMessageUseCase(f.messages, f.media, f.users, f.bus, logger.NewNop())

	out, err := uc.Execute(context.Background(), usecase.CreateMessageInput{
		SenderID: f.sender.String(), ReceiverID: f.receiver.String(), Content: "hi",
	})
	require.NoError(t, err)
	assert.Equal(t, "text", out.Type)
	assert.Nil(t, out.MultimediaID)
	receive(t, created)

	_, err = uc.Execute(context.Background(), usecase.CreateMessageInput{
		SenderID: f.sender.String(), ReceiverID: f.receiver.String(), Content: "  ",
	})
	assert.ErrorIs(t, err, apperror.ErrInvalidInput)
}

func TestCreateMessage_ReferencesMultimedia(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	uc := usecase.NewCreateMessageUseCase(f.messages, f.media, f.users, f.bus, logger.NewNop())

	mm := &multimedia.Multimedia{ID: uuid.New(), Type: multimedia.TypeImage, OwnerID: f.sender, Status: multimedia.StatusReady}
	require.NoError(t, f.media.Save(ctx, mm))
	foreign := &multimedia.Multimedia{ID: uuid.New(), Type: multimedia.TypeImage, OwnerID: f.receiver, Status: multimedia.StatusReady}
	require.NoError(t, f.media.Save(ctx, foreign))

	out, err := uc.Execute(ctx, usecase.CreateMessageInput{
		SenderID: f.sender.String(), ReceiverID: f.receiver.String(), MultimediaID: mm.ID.String(),
	})
	require.NoError(t, err)
	assert.Equal(t, "image", out.Type)
	assert.Equal(t, multimedia.StatusReady, *out.MultimediaStatus)

	got, _ := f.media.FindByID(ctx, mm.ID)
	assert.Equal(t, out.ID, *got.MessageID)

	_, err = uc.Execute(ctx, usecase.CreateMessageInput{
		SenderID: f.sender.String(), ReceiverID: f.receiver.String(), MultimediaID: mm.ID.String(),
	})
	assert.ErrorIs(t, err, apperror.ErrConflict)

	_, err = uc.Execute(ctx, usecase.CreateMessageInput{
		SenderID: f.sender.String(), ReceiverID: f.receiver.String(), MultimediaID: foreign.ID.String(),
	})
	assert.ErrorIs(t, err, apperror.ErrPermission)
}

func TestListMessages_MergesAndEnriches(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	me, other := f.sender, f.receiver
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	mm := &multimedia.Multimedia{ID: uuid.New(), Type: multimedia.TypeVideo, OwnerID: other, Status: multimedia.StatusProcessing}
	require.NoError(t, f.media.Save(ctx, mm))
	processing := multimedia.StatusProcessing

	sent := &message.Message{ID: uuid.New(), Type: message.TypeText, SenderID: me, ReceiverID: other, CreatedAt: base}
	received := &message.Message{ID: uuid.New(), Type: message.TypeVideo, SenderID: other, ReceiverID: me,
		MultimediaID: &mm.ID, MultimediaStatus: &processing, CreatedAt: base.Add(time.Minute)}
	self := &message.Message{ID: uuid.New(), Type: message.TypeText, SenderID: me, ReceiverID: me, CreatedAt: base.Add(2 * time.Minute)}
	unrelated := &message.Message{ID: uuid.New(), Type: message.TypeText, SenderID: other, ReceiverID: uuid.New(), CreatedAt: base}
	for _, m := range []*message.Message{sent, received, self, unrelated} {
		require.NoError(t, f.messages.Save(ctx, m))
	}

	// the transcoder finished but the realtime event was missed
	thumb := "/uploads/multimedia/thumbs/t.jpg"
	_, err := f.media.MarkReady(ctx, mm.ID, multimedia.ReadyUpdate{URL: "/uploads/multimedia/final/v.mp4", ThumbnailURL: &thumb})
	require.NoError(t, err)

	out, err := usecase.NewListMessagesUseCase(f.messages, f.media).Execute(ctx, me, 0)
	require.NoError(t, err)
	require.Len(t, out, 3)
	assert.Equal(t, self.ID, out[0].ID)
	assert.Equal(t, received.ID, out[1].ID)
	assert.Equal(t, sent.ID, out[2].ID)

	assert.Equal(t, multimedia.StatusReady, *out[1].MultimediaStatus)
	assert.Equal(t, "/uploads/multimedia/final/v.mp4", *out[1].MultimediaURL)
	assert.Equal(t, thumb, *out[1].ThumbnailURL)

	limited, err := usecase.NewListMessagesUseCase(f.messages, f.media).Execute(ctx, me, 1)
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, self.ID, limited[0].ID)
}

func TestReconcile_ReadyAndFailed(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	updated := f.subscribe(t, event.MessageUpdated)
	uc := usecase.NewReconcileUseCase(f.messages, f.media, f.bus, logger.NewNop())
	stop, err := uc.Start()
	require.NoError(t, err)
	defer stop()

	processing := multimedia.StatusProcessing
	msg := &message.Message{ID: uuid.New(), Type: message.TypeImage, SenderID: f.sender, ReceiverID: f.receiver, MultimediaStatus: &processing}
	require.NoError(t, f.messages.Save(ctx, msg))
	mm := &multimedia.Multimedia{ID: uuid.New(), Type: multimedia.TypeImage, OwnerID: f.sender, Status: multimedia.StatusProcessing, MessageID: &msg.ID}
	require.NoError(t, f.media.Save(ctx, mm))

	thumb := "/t.jpg"
	_, err = f.media.MarkReady(ctx, mm.ID, multimedia.ReadyUpdate{URL: "/a.jpg", ThumbnailURL: &thumb})
	require.NoError(t, err)
	f.bus.Publish(ctx, event.MultimediaReady, event.MultimediaReadyPayload{
		MultimediaID: mm.ID, MessageID: &msg.ID, URL: "/a.jpg", ThumbnailURL: &thumb,
	})

	var summary event.MessageSummary
	require.NoError(t, receive(t, updated).Decode(&summary))
	assert.Equal(t, msg.ID, summary.ID)
	assert.Equal(t, multimedia.StatusReady, *summary.MultimediaStatus)
	assert.Equal(t, "/a.jpg", *summary.MultimediaURL)
	assert.Equal(t, thumb, *summary.ThumbnailURL)

	stored, _ := f.messages.FindByID(ctx, msg.ID)
	assert.Equal(t, multimedia.StatusReady, *stored.MultimediaStatus)

	// a stale failure event does not undo the ready record
	f.bus.Publish(ctx, event.MultimediaFailed, event.MultimediaFailedPayload{MultimediaID: mm.ID, MessageID: &msg.ID, Error: "late"})
	require.NoError(t, receive(t, updated).Decode(&summary))
	assert.Equal(t, multimedia.StatusReady, *summary.MultimediaStatus)
}

func TestReconcile_MissingMessageIsNoop(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	uc := usecase.NewReconcileUseCase(f.messages, f.media, f.bus, logger.NewNop())

	gone := uuid.New()
	err := uc.Reconcile(ctx, uuid.New(), &gone, multimedia.StatusFailed, nil, nil)
	assert.NoError(t, err)

	err = uc.Reconcile(ctx, uuid.New(), nil, multimedia.StatusReady, nil, nil)
	assert.NoError(t, err)
}

func TestReconcile_FailedSetsStatus(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	uc := usecase.NewReconcileUseCase(f.messages, f.media, f.bus, logger.NewNop())

	msg := &message.Message{ID: uuid.New(), Type: message.TypeVideo, SenderID: f.sender, ReceiverID: f.receiver}
	require.NoError(t, f.messages.Save(ctx, msg))
	mm := &multimedia.Multimedia{ID: uuid.New(), Type: multimedia.TypeVideo, OwnerID: f.sender, Status: multimedia.StatusProcessing, MessageID: &msg.ID}
	require.NoError(t, f.media.Save(ctx, mm))
	_, err := f.media.MarkFailed(ctx, mm.ID, "bad video")
	require.NoError(t, err)

	require.NoError(t, uc.Reconcile(ctx, mm.ID, nil, multimedia.StatusFailed, nil, nil))
	stored, _ := f.messages.FindByID(ctx, msg.ID)
	assert.Equal(t, multimedia.StatusFailed, *stored.MultimediaStatus)
}

func TestReconcile_ResyncRepairsMissedEvents(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	updated := f.subscribe(t, event.MessageUpdated)
	uc := usecase.NewReconcileUseCase(f.messages, f.media, f.bus, logger.NewNop())
	processing := multimedia.StatusProcessing

	pair := func(status multimedia.Status) *message.Message {
		mm := &multimedia.Multimedia{ID: uuid.New(), Type: multimedia.TypeImage, OwnerID: f.sender, Status: multimedia.StatusProcessing}
		require.NoError(t, f.media.Save(ctx, mm))
		msg := &message.Message{ID: uuid.New(), Type: message.TypeImage, SenderID: f.sender, ReceiverID: f.receiver, MultimediaID: &mm.ID, MultimediaStatus: &processing}
		require.NoError(t, f.messages.Save(ctx, msg))
		require.NoError(t, f.media.AttachToMessage(ctx, mm.ID, msg.ID))
		switch status {
		case multimedia.StatusReady:
			_, err := f.media.MarkReady(ctx, mm.ID, multimedia.ReadyUpdate{URL: "/done.jpg"})
			require.NoError(t, err)
		case multimedia.StatusFailed:
			_, err := f.media.MarkFailed(ctx, mm.ID, "broken")
			require.NoError(t, err)
		}
		f.messages.Touch(msg.ID, time.Now().Add(-time.Hour))
		return msg
	}
	readyMsg := pair(multimedia.StatusReady)
	failedMsg := pair(multimedia.StatusFailed)
	busyMsg := pair(multimedia.StatusProcessing)

	n, err := uc.Resync(ctx, time.Now().Add(-time.Minute), 10)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	stored, _ := f.messages.FindByID(ctx, readyMsg.ID)
	assert.Equal(t, multimedia.StatusReady, *stored.MultimediaStatus)
	stored, _ = f.messages.FindByID(ctx, failedMsg.ID)
	assert.Equal(t, multimedia.StatusFailed, *stored.MultimediaStatus)
	stored, _ = f.messages.FindByID(ctx, busyMsg.ID)
	assert.Equal(t, multimedia.StatusProcessing, *stored.MultimediaStatus)

	seen := map[uuid.UUID]bool{}
	for i := 0; i < 2; i++ {
		var summary event.MessageSummary
		require.NoError(t, receive(t, updated).Decode(&summary))
		seen[summary.ID] = true
		if summary.ID == readyMsg.ID {
			require.NotNil(t, summary.MultimediaURL)
			assert.Equal(t, "/done.jpg", *summary.MultimediaURL)
		}
	}
	assert.True(t, seen[readyMsg.ID])
	assert.True(t, seen[failedMsg.ID])

	// settled messages drop out of the next pass
	n, err = uc.Resync(ctx, time.Now().Add(time.Minute), 10)
	require.NoError(t, err)
	assert.Zero(t, n)
}
