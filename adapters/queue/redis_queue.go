package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/khoahotran/chatmedia/internal/application/service"
	"github.com/khoahotran/chatmedia/pkg/logger"
)

const maxBackoff = time.Minute

type RedisQueueConfig struct {
	Stream     string
	Group      string
	Consumer   string
	MaxRetries int
	RetryDelay time.Duration
	ClaimIdle  time.Duration
	Block      time.Duration
	JobTTL     time.Duration
	MaxLen     int64
	ReadCount  int64
}

// RedisJobQueue is an at-least-once queue on a Redis stream consumer group.
// A failed delivery is re-added with an incremented attempt counter; once
// the attempts are used up the entry moves to "<stream>:dead".
type RedisJobQueue struct {
	client       *redis.Client
	log          logger.Logger
	stream       string
	dead         string
	group        string
	consumerBase string
	maxRetries   int
	retryDelay   time.Duration
	claimIdle    time.Duration
	block        time.Duration
	jobTTL       time.Duration
	maxLen       int64
	readCount    int64

	mu       sync.RWMutex
	handlers map[string]service.JobHandler
	once     sync.Once
	groupErr error
}

var _ service.JobQueue = (*RedisJobQueue)(nil)

func NewRedisJobQueue(client *redis.Client, cfg RedisQueueConfig, log logger.Logger) (*RedisJobQueue, error) {
	if client == nil {
		return nil, errors.New("redis client required")
	}
	stream := strings.TrimSpace(cfg.Stream)
	if stream == "" {
		return nil, errors.New("queue stream required")
	}
	group := strings.TrimSpace(cfg.Group)
	if group == "" {
		group = "default"
	}
	consumer := strings.TrimSpace(cfg.Consumer)
	if consumer == "" {
		consumer = uuid.NewString()
	}
	q := &RedisJobQueue{
		client:       client,
		log:          log.With(zap.String("stream", stream)),
		stream:       stream,
		dead:         stream + ":dead",
		group:        group,
		consumerBase: consumer,
		maxRetries:   orInt(cfg.MaxRetries, 3),
		retryDelay:   orDuration(cfg.RetryDelay, 2*time.Second),
		claimIdle:    orDuration(cfg.ClaimIdle, 15*time.Minute),
		block:        orDuration(cfg.Block, 5*time.Second),
		jobTTL:       orDuration(cfg.JobTTL, 24*time.Hour),
		maxLen:       cfg.MaxLen,
		readCount:    cfg.ReadCount,
		handlers:     make(map[string]service.JobHandler),
	}
	if q.maxLen <= 0 {
		q.maxLen = 10000
	}
	if q.readCount <= 0 {
		q.readCount = 1
	}
	return q, nil
}

func (q *RedisJobQueue) DeadLetterStream() string {
	return q.dead
}

func (q *RedisJobQueue) Enqueue(ctx context.Context, name string, payload any) (string, error) {
	if strings.TrimSpace(name) == "" {
		return "", errors.New("job name required")
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encode job payload: %w", err)
	}
	jobID := uuid.NewString()
	if err := q.client.XAdd(ctx, q.entry(jobID, name, string(raw))).Err(); err != nil {
		return "", fmt.Errorf("enqueue %s: %w", name, err)
	}
	return jobID, nil
}

func (q *RedisJobQueue) Handle(name string, h service.JobHandler) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handlers[name] = h
}

// Start runs concurrency consumers and blocks until ctx is cancelled.
func (q *RedisJobQueue) Start(ctx context.Context, concurrency int) error {
	if concurrency <= 0 {
		concurrency = 1
	}
	if err := q.ensureGroup(ctx); err != nil {
		return err
	}
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < concurrency; i++ {
		consumer := fmt.Sprintf("%s-%d", q.consumerBase, i)
		g.Go(func() error {
			q.consumeLoop(gctx, consumer)
			return nil
		})
	}
	q.log.Info("Job queue consumers started", zap.Int("concurrency", concurrency), zap.String("group", q.group))
	return g.Wait()
}

func (q *RedisJobQueue) ensureGroup(ctx context.Context) error {
	q.once.Do(func() {
		err := q.client.XGroupCreateMkStream(ctx, q.stream, q.group, "0").Err()
		if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
			q.groupErr = fmt.Errorf("create consumer group: %w", err)
		}
	})
	return q.groupErr
}

func (q *RedisJobQueue) consumeLoop(ctx context.Context, consumer string) {
	for {
		if ctx.Err() != nil {
			return
		}

		msgs, err := q.claimPending(ctx, consumer)
		if err != nil && ctx.Err() == nil {
			q.log.Warn("Claim pending failed", zap.Error(err))
		}
		for _, msg := range msgs {
			q.handleMessage(ctx, msg)
		}

		streams, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    q.group,
			Consumer: consumer,
			Streams:  []string{q.stream, ">"},
			Count:    q.readCount,
			Block:    q.block,
		}).Result()
		if err != nil {
			if !errors.Is(err, redis.Nil) && ctx.Err() == nil {
				q.log.Warn("Read group failed", zap.Error(err))
				sleep(ctx, time.Second)
			}
			continue
		}
		for _, stream := range streams {
			for _, msg := range stream.Messages {
				q.handleMessage(ctx, msg)
			}
		}
	}
}

// claimPending takes over entries whose consumer died mid-job.
func (q *RedisJobQueue) claimPending(ctx context.Context, consumer string) ([]redis.XMessage, error) {
	res, _, err := q.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   q.stream,
		Group:    q.group,
		Consumer: consumer,
		MinIdle:  q.claimIdle,
		Start:    "0-0",
		Count:    q.readCount,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	return res, err
}

func (q *RedisJobQueue) handleMessage(ctx context.Context, msg redis.XMessage) {
	jobID, _ := msg.Values["job_id"].(string)
	name, _ := msg.Values["name"].(string)
	payload, _ := msg.Values["payload"].(string)
	log := q.log.With(zap.String("job_id", jobID), zap.String("job", name), zap.String("entry_id", msg.ID))
	if jobID == "" || name == "" {
		log.Warn("Dropping malformed queue entry")
		q.ackAndDel(ctx, msg.ID)
		return
	}

	q.mu.RLock()
	h, ok := q.handlers[name]
	q.mu.RUnlock()
	if !ok {
		q.deadLetter(ctx, msg.ID, jobID, name, payload, 0, "no handler registered")
		return
	}

	attempt, err := q.incrAttempt(ctx, jobID)
	if err != nil {
		// Leave the entry pending so it is claimed again later.
		log.Error("Failed to record attempt", err)
		return
	}

	d := service.Delivery{
		ID:          jobID,
		Name:        name,
		Payload:     json.RawMessage(payload),
		Attempt:     attempt,
		MaxAttempts: q.maxRetries,
	}
	herr := runHandler(ctx, h, d)
	if herr == nil {
		q.ackAndDel(ctx, msg.ID)
		_ = q.client.Del(ctx, q.attemptsKey(jobID)).Err()
		return
	}
	if ctx.Err() != nil {
		// Shutting down; the entry stays pending for the next consumer.
		return
	}
	if d.Final() {
		log.Error("Job failed permanently", herr, zap.Int("attempt", attempt))
		q.deadLetter(ctx, msg.ID, jobID, name, payload, attempt, herr.Error())
		return
	}

	delay := q.backoff(attempt)
	log.Warn("Job failed, retrying", zap.Error(herr), zap.Int("attempt", attempt), zap.Duration("delay", delay))
	if !sleep(ctx, delay) {
		return
	}
	if err := q.requeueAndAck(ctx, msg.ID, jobID, name, payload); err != nil {
		log.Error("Requeue failed, entry stays pending", err)
	}
}

func runHandler(ctx context.Context, h service.JobHandler, d service.Delivery) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job handler panic: %v", r)
		}
	}()
	return h(ctx, d)
}

func (q *RedisJobQueue) backoff(attempt int) time.Duration {
	d := q.retryDelay
	for i := 1; i < attempt && d < maxBackoff; i++ {
		d *= 2
	}
	if d > maxBackoff {
		d = maxBackoff
	}
	return d
}

func (q *RedisJobQueue) incrAttempt(ctx context.Context, jobID string) (int, error) {
	key := q.attemptsKey(jobID)
	pipe := q.client.TxPipeline()
	incr := pipe.HIncrBy(ctx, key, "attempts", 1)
	pipe.Expire(ctx, key, q.jobTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return int(incr.Val()), nil
}

func (q *RedisJobQueue) ackAndDel(ctx context.Context, msgID string) {
	pipe := q.client.TxPipeline()
	pipe.XAck(ctx, q.stream, q.group, msgID)
	pipe.XDel(ctx, q.stream, msgID)
	if _, err := pipe.Exec(ctx); err != nil {
		q.log.Warn("Ack failed", zap.String("entry_id", msgID), zap.Error(err))
	}
}

func (q *RedisJobQueue) requeueAndAck(ctx context.Context, msgID, jobID, name, payload string) error {
	pipe := q.client.TxPipeline()
	pipe.XAdd(ctx, q.entry(jobID, name, payload))
	pipe.XAck(ctx, q.stream, q.group, msgID)
	pipe.XDel(ctx, q.stream, msgID)
	_, err := pipe.Exec(ctx)
	return err
}

func (q *RedisJobQueue) deadLetter(ctx context.Context, msgID, jobID, name, payload string, attempts int, reason string) {
	pipe := q.client.TxPipeline()
	pipe.XAdd(ctx, &redis.XAddArgs{
		Stream: q.dead,
		MaxLen: q.maxLen,
		Approx: true,
		Values: map[string]any{
			"job_id":    jobID,
			"name":      name,
			"payload":   payload,
			"attempts":  strconv.Itoa(attempts),
			"error":     reason,
			"failed_at": time.Now().UTC().Format(time.RFC3339Nano),
		},
	})
	pipe.XAck(ctx, q.stream, q.group, msgID)
	pipe.XDel(ctx, q.stream, msgID)
	pipe.Del(ctx, q.attemptsKey(jobID))
	if _, err := pipe.Exec(ctx); err != nil {
		q.log.Error("Dead letter failed", err, zap.String("job_id", jobID))
	}
}

func (q *RedisJobQueue) entry(jobID, name, payload string) *redis.XAddArgs {
	return &redis.XAddArgs{
		Stream: q.stream,
		MaxLen: q.maxLen,
		Approx: true,
		Values: map[string]any{
			"job_id":  jobID,
			"name":    name,
			"payload": payload,
		},
	}
}

func (q *RedisJobQueue) attemptsKey(jobID string) string {
	return fmt.Sprintf("job:%s:%s", q.stream, jobID)
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func orInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

func orDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}
