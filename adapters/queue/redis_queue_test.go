package queue

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/khoahotran/chatmedia/internal/application/service"
	"github.com/khoahotran/chatmedia/pkg/logger"
)

type testJob struct {
	MultimediaID string `json:"multimediaId"`
}

func newTestQueue(t *testing.T, maxRetries int) (*RedisJobQueue, *redis.Client) {
	t.Helper()
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	q, err := NewRedisJobQueue(client, RedisQueueConfig{
		Stream:     "test:jobs",
		Group:      "test-group",
		Consumer:   "consumer",
		MaxRetries: maxRetries,
		RetryDelay: time.Millisecond,
		Block:      20 * time.Millisecond,
	}, logger.NewNop())
	require.NoError(t, err)
	require.NoError(t, q.ensureGroup(context.Background()))
	return q, client
}

func readOne(t *testing.T, q *RedisJobQueue) redis.XMessage {
	t.Helper()
	streams, err := q.client.XReadGroup(context.Background(), &redis.XReadGroupArgs{
		Group:    q.group,
		Consumer: "consumer-1",
		Streams:  []string{q.stream, ">"},
		Count:    1,
		Block:    -1,
	}).Result()
	require.NoError(t, err)
	require.Len(t, streams, 1)
	require.Len(t, streams[0].Messages, 1)
	return streams[0].Messages[0]
}

func TestRedisJobQueue_SuccessAcksAndDeletes(t *testing.T) {
	ctx := context.Background()
	q, client := newTestQueue(t, 3)

	var got service.Delivery
	q.Handle("multimedia.process", func(ctx context.Context, d service.Delivery) error {
		got = d
		return nil
	})
	jobID, err := q.Enqueue(ctx, "multimedia.process", testJob{MultimediaID: "m-1"})
	require.NoError(t, err)

	q.handleMessage(ctx, readOne(t, q))

	assert.Equal(t, jobID, got.ID)
	assert.Equal(t, 1, got.Attempt)
	assert.Equal(t, 3, got.MaxAttempts)
	var job testJob
	require.NoError(t, json.Unmarshal(got.Payload, &job))
	assert.Equal(t, "m-1", job.MultimediaID)

	pending, err := client.XPending(ctx, q.stream, q.group).Result()
	require.NoError(t, err)
	assert.Zero(t, pending.Count)
	n, err := client.XLen(ctx, q.stream).Result()
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRedisJobQueue_FailureRequeuesWithNextAttempt(t *testing.T) {
	ctx := context.Background()
	q, client := newTestQueue(t, 3)

	var attempts []int
	q.Handle("multimedia.process", func(ctx context.Context, d service.Delivery) error {
		attempts = append(attempts, d.Attempt)
		return errors.New("ffmpeg exploded")
	})
	jobID, err := q.Enqueue(ctx, "multimedia.process", testJob{MultimediaID: "m-2"})
	require.NoError(t, err)

	q.handleMessage(ctx, readOne(t, q))

	pending, err := client.XPending(ctx, q.stream, q.group).Result()
	require.NoError(t, err)
	assert.Zero(t, pending.Count)

	msg := readOne(t, q)
	assert.Equal(t, jobID, msg.Values["job_id"])
	q.handleMessage(ctx, msg)
	assert.Equal(t, []int{1, 2}, attempts)
}

func TestRedisJobQueue_FinalFailureDeadLetters(t *testing.T) {
	ctx := context.Background()
	q, client := newTestQueue(t, 1)

	var final bool
	q.Handle("multimedia.process", func(ctx context.Context, d service.Delivery) error {
		final = d.Final()
		return errors.New("corrupt input")
	})
	jobID, err := q.Enqueue(ctx, "multimedia.process", testJob{MultimediaID: "m-3"})
	require.NoError(t, err)

	q.handleMessage(ctx, readOne(t, q))
	assert.True(t, final)

	n, err := client.XLen(ctx, q.stream).Result()
	require.NoError(t, err)
	assert.Zero(t, n)

	dead, err := client.XRange(ctx, q.DeadLetterStream(), "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, dead, 1)
	assert.Equal(t, jobID, dead[0].Values["job_id"])
	assert.Equal(t, "corrupt input", dead[0].Values["error"])
}

func TestRedisJobQueue_PanicCountsAsFailure(t *testing.T) {
	ctx := context.Background()
	q, client := newTestQueue(t, 1)
	q.Handle("boom", func(ctx context.Context, d service.Delivery) error {
		panic("nil map")
	})
	_, err := q.Enqueue(ctx, "boom", struct{}{})
	require.NoError(t, err)

	q.handleMessage(ctx, readOne(t, q))

	dead, err := client.XRange(ctx, q.DeadLetterStream(), "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, dead, 1)
	assert.Contains(t, dead[0].Values["error"], "panic")
}

func TestRedisJobQueue_UnknownJobDeadLetters(t *testing.T) {
	ctx := context.Background()
	q, client := newTestQueue(t, 3)
	_, err := q.Enqueue(ctx, "nobody.listens", struct{}{})
	require.NoError(t, err)

	q.handleMessage(ctx, readOne(t, q))

	dead, err := client.XLen(ctx, q.DeadLetterStream()).Result()
	require.NoError(t, err)
	assert.Equal(t, int64(1), dead)
}

func TestRedisJobQueue_StartRetriesUntilSuccess(t *testing.T) {
	q, _ := newTestQueue(t, 3)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	var attempts []int
	done := make(chan struct{})
	q.Handle("multimedia.process", func(ctx context.Context, d service.Delivery) error {
		mu.Lock()
		defer mu.Unlock()
		attempts = append(attempts, d.Attempt)
		if d.Attempt == 1 {
			return errors.New("transient")
		}
		close(done)
		return nil
	})
	_, err := q.Enqueue(ctx, "multimedia.process", testJob{MultimediaID: "m-4"})
	require.NoError(t, err)

	errCh := make(chan error, 1)
	go func() { errCh <- q.Start(ctx, 2) }()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("job was not retried")
	}
	cancel()
	require.NoError(t, <-errCh)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []int{1, 2}, attempts)
}

func TestRedisJobQueue_Backoff(t *testing.T) {
	q := &RedisJobQueue{retryDelay: 2 * time.Second}
	assert.Equal(t, 2*time.Second, q.backoff(1))
	assert.Equal(t, 4*time.Second, q.backoff(2))
	assert.Equal(t, 8*time.Second, q.backoff(3))
	assert.Equal(t, maxBackoff, q.backoff(10))
}

func TestRedisJobQueue_StartWaitsForInFlightJobs(t *testing.T) {
	q, _ := newTestQueue(t, 3)

	started := make(chan struct{})
	var finished sync.WaitGroup
	finished.Add(1)
	done := false
	q.Handle("multimedia.process", func(ctx context.Context, d service.Delivery) error {
		close(started)
		time.Sleep(150 * time.Millisecond)
		done = true
		finished.Done()
		return nil
	})
	_, err := q.Enqueue(context.Background(), "multimedia.process", testJob{MultimediaID: "m-slow"})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	returned := make(chan error, 1)
	go func() { returned <- q.Start(ctx, 2) }()

	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("job never started")
	}
	cancel()

	select {
	case err := <-returned:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("start did not return after cancel")
	}
	assert.True(t, done, "start returned while a job was still running")
	finished.Wait()
}
