package event

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/khoahotran/chatmedia/internal/application/service"
	"github.com/khoahotran/chatmedia/internal/config"
	domainevent "github.com/khoahotran/chatmedia/internal/domain/event"
	"github.com/khoahotran/chatmedia/pkg/logger"
)

type kafkaCore struct {
	brokers []string
	prefix  string
	writer  *kafka.Writer
	log     logger.Logger

	mu      sync.Mutex
	readers map[*kafka.Reader]context.CancelFunc
	wg      sync.WaitGroup
	closed  bool
	once    sync.Once
}

// KafkaBus publishes every event name to its own topic, "<prefix><name>".
// Subscribers of one bus share a consumer group, so each event is handled
// once per group.
type KafkaBus struct {
	core        *kafkaCore
	group       string
	startOffset int64
}

var _ service.EventBus = (*KafkaBus)(nil)

func NewKafkaBus(cfg config.Config, log logger.Logger) (*KafkaBus, error) {
	brokers := cfg.Kafka.Brokers
	if len(brokers) == 0 {
		return nil, fmt.Errorf("config Kafka brokers not found")
	}
	core := &kafkaCore{
		brokers: brokers,
		prefix:  cfg.Kafka.TopicPrefix,
		log:     log,
		readers: map[*kafka.Reader]context.CancelFunc{},
	}
	core.writer = &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Balancer:               &kafka.LeastBytes{},
		Async:                  true,
		AllowAutoTopicCreation: true,
		BatchTimeout:           10 * time.Millisecond,
		Completion: func(messages []kafka.Message, err error) {
			if err != nil {
				for _, m := range messages {
					log.Error("Failed to deliver event", err, zap.String("topic", m.Topic))
				}
			}
		},
	}
	log.Info("Initialize Kafka event bus successfully.", zap.Strings("brokers", brokers))
	return &KafkaBus{core: core, group: cfg.Kafka.GroupID, startOffset: kafka.FirstOffset}, nil
}

// WithGroup returns a bus that shares the writer but consumes in its own
// group, starting from new events only. Every API instance uses a distinct
// group for its realtime hub so all of them see every event.
func (b *KafkaBus) WithGroup(group string) *KafkaBus {
	return &KafkaBus{core: b.core, group: group, startOffset: kafka.LastOffset}
}

func (b *KafkaBus) Topic(name string) string {
	return b.core.prefix + name
}

func (b *KafkaBus) Publish(ctx context.Context, name string, payload any) {
	env, err := domainevent.NewEnvelope(name, payload)
	if err != nil {
		b.core.log.Error("Failed to encode event", err, zap.String("event", name))
		return
	}
	value, err := json.Marshal(env)
	if err != nil {
		b.core.log.Error("Failed to encode envelope", err, zap.String("event", name))
		return
	}
	if err := b.core.writer.WriteMessages(ctx, kafka.Message{Topic: b.Topic(name), Value: value}); err != nil {
		b.core.log.Error("Failed to publish event", err, zap.String("event", name))
	}
}

func (b *KafkaBus) Subscribe(name string, h service.EventHandler) (func(), error) {
	c := b.core
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, errBusClosed
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     c.brokers,
		Topic:       b.Topic(name),
		GroupID:     b.group,
		StartOffset: b.startOffset,
		MinBytes:    1,
		MaxBytes:    10e6,
		MaxWait:     500 * time.Millisecond,
	})
	ctx, cancel := context.WithCancel(context.Background())
	c.readers[reader] = cancel
	c.wg.Add(1)
	go c.consume(ctx, name, reader, h)

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			if cancel, ok := c.readers[reader]; ok {
				cancel()
				delete(c.readers, reader)
			}
			c.mu.Unlock()
		})
	}, nil
}

// Fetch errors back off between these bounds; a fetched message resets it.
var (
	fetchBackoffMin = 500 * time.Millisecond
	fetchBackoffMax = 30 * time.Second
)

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
}

func (c *kafkaCore) consume(ctx context.Context, name string, reader *kafka.Reader, h service.EventHandler) {
	defer c.wg.Done()
	defer reader.Close()
	log := c.log.With(zap.String("topic", reader.Config().Topic), zap.String("group", reader.Config().GroupID))
	log.Info("Event consumer started")
	pump(ctx, log, name, reader, h)
}

func pump(ctx context.Context, log logger.Logger, name string, reader messageReader, h service.EventHandler) {
	backoff := fetchBackoffMin
	for {
		msg, err := reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				return
			}
			log.Error("Failed to read event", err, zap.Duration("retry_in", backoff))
			if !sleep(ctx, backoff) {
				return
			}
			backoff = min(backoff*2, fetchBackoffMax)
			continue
		}
		backoff = fetchBackoffMin

		var env domainevent.Envelope
		if err := json.Unmarshal(msg.Value, &env); err != nil {
			log.Warn("Skipping malformed event", zap.Error(err), zap.Int64("offset", msg.Offset))
		} else {
			dispatch(log, name, h, env)
		}

		if err := reader.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
			log.Error("Failed to commit event", err, zap.Int64("offset", msg.Offset))
		}
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// Close stops every consumer and flushes the writer.
func (b *KafkaBus) Close() error {
	c := b.core
	var err error
	c.once.Do(func() {
		c.mu.Lock()
		c.closed = true
		for r, cancel := range c.readers {
			cancel()
			delete(c.readers, r)
		}
		c.mu.Unlock()
		c.wg.Wait()
		err = c.writer.Close()
		c.log.Info("Closed Kafka event bus")
	})
	return err
}
