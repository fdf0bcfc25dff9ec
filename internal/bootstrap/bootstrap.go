// Package bootstrap builds the adapters selected by configuration. Both
// binaries share it.
package bootstrap

import (
	"context"
	"fmt"
	"os"

	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/khoahotran/chatmedia/adapters/event"
	"github.com/khoahotran/chatmedia/adapters/media_storage"
	"github.com/khoahotran/chatmedia/adapters/persistence"
	"github.com/khoahotran/chatmedia/adapters/persistence/memory"
	"github.com/khoahotran/chatmedia/adapters/queue"
	"github.com/khoahotran/chatmedia/adapters/transcoding"
	"github.com/khoahotran/chatmedia/internal/application/service"
	mediaUC "github.com/khoahotran/chatmedia/internal/application/usecase/media"
	"github.com/khoahotran/chatmedia/internal/config"
	"github.com/khoahotran/chatmedia/internal/domain/message"
	"github.com/khoahotran/chatmedia/internal/domain/multimedia"
	"github.com/khoahotran/chatmedia/internal/domain/user"
	"github.com/khoahotran/chatmedia/pkg/logger"
)

type Repositories struct {
	Multimedia multimedia.Repository
	Messages   message.Repository
	Users      user.Repository
	close      func()
}

func (r Repositories) Close() {
	if r.close != nil {
		r.close()
	}
}

// NewRepositories opens the configured database. With the postgres driver
// and db.auto_migrate it also applies pending migrations.
func NewRepositories(cfg config.Config, log logger.Logger) (Repositories, error) {
	if cfg.DB.Driver == config.DBMemory {
		log.Warn("Using in-memory repositories, data is lost on restart")
		return Repositories{
			Multimedia: memory.NewMultimediaRepo(),
			Messages:   memory.NewMessageRepo(),
			Users:      memory.NewUserRepo(),
		}, nil
	}

	if cfg.DB.AutoMigrate {
		if err := persistence.RunMigrations(cfg.DB.Migrations, cfg.DB.DSN, log); err != nil {
			return Repositories{}, err
		}
	}
	pool, err := persistence.NewPostgresPool(cfg, log)
	if err != nil {
		return Repositories{}, err
	}
	return Repositories{
		Multimedia: persistence.NewPostgresMultimediaRepo(pool, log),
		Messages:   persistence.NewPostgresMessageRepo(pool, log),
		Users:      persistence.NewPostgresUserRepo(pool, log),
		close:      pool.Close,
	}, nil
}

func NewBlobStore(cfg config.Config, log logger.Logger) (service.BlobStore, error) {
	switch cfg.Storage.Driver {
	case config.StorageMinio:
		return media_storage.NewMinioStore(cfg)
	case config.StorageCloudinary:
		return media_storage.NewCloudinaryStore(cfg, log)
	case config.StorageLocal:
		return media_storage.NewLocalStore(cfg.Storage.LocalRoot, cfg.Storage.PublicBaseURL)
	}
	return nil, fmt.Errorf("unknown storage driver %q", cfg.Storage.Driver)
}

// NewEventBus returns the configured bus. For kafka, group names the
// consumer group of this process's subscribers.
func NewEventBus(cfg config.Config, group string, log logger.Logger) (service.EventBus, error) {
	switch cfg.Events.Driver {
	case config.EventsKafka:
		bus, err := event.NewKafkaBus(cfg, log)
		if err != nil {
			return nil, err
		}
		if group != "" {
			bus = bus.WithGroup(group)
		}
		return bus, nil
	case config.EventsMemory:
		return event.NewMemoryBus(log, cfg.Events.Buffer), nil
	}
	return nil, fmt.Errorf("unknown events driver %q", cfg.Events.Driver)
}

func NewJobQueue(cfg config.Config, client *redis.Client, log logger.Logger) (*queue.RedisJobQueue, error) {
	consumer := cfg.Queue.Consumer
	if consumer == "" {
		host, _ := os.Hostname()
		consumer = fmt.Sprintf("%s-%d", host, os.Getpid())
	}
	return queue.NewRedisJobQueue(client, queue.RedisQueueConfig{
		Stream:     cfg.Queue.Stream,
		Group:      cfg.Queue.Group,
		Consumer:   consumer,
		MaxRetries: cfg.Queue.MaxRetries,
		RetryDelay: cfg.Queue.RetryDelay,
		ClaimIdle:  cfg.Queue.ClaimIdle,
	}, log)
}

type Worker struct {
	Queue   *queue.RedisJobQueue
	Process *mediaUC.ProcessMediaUseCase
	Sweep   *mediaUC.SweepStaleUseCase
	cfg     config.Config
	logger  logger.Logger
}

// NewWorker resolves the transcoder binaries and registers the job handler.
func NewWorker(cfg config.Config, q *queue.RedisJobQueue, repo multimedia.Repository, store service.BlobStore, bus service.EventBus, log logger.Logger) *Worker {
	bins := transcoding.ResolveBinaries(cfg.Transcoder.FFmpegPath, cfg.Transcoder.FFprobePath, log)
	processors := transcoding.NewProcessors(cfg, transcoding.NewExecRunner(), bins, log)

	process := mediaUC.NewProcessMediaUseCase(repo, store, bus, processors, mediaUC.ProcessMediaConfig{
		TempDir:    cfg.Worker.TempDir,
		JobTimeout: cfg.Worker.JobTimeout,
	}, log)
	q.Handle(multimedia.JobProcess, process.Handle)

	return &Worker{
		Queue:   q,
		Process: process,
		Sweep:   mediaUC.NewSweepStaleUseCase(repo, q, bus, cfg.Sweep.StaleAfter, cfg.Sweep.BatchSize, log),
		cfg:     cfg,
		logger:  log,
	}
}

// Run consumes jobs and runs the stale sweep until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	c := cron.New()
	if w.cfg.Sweep.Schedule != "" {
		_, err := c.AddFunc(w.cfg.Sweep.Schedule, func() {
			n, err := w.Sweep.Execute(ctx)
			if err != nil {
				w.logger.Error("Stale sweep failed", err)
				return
			}
			if n > 0 {
				w.logger.Info("Stale sweep finished", zap.Int("failed", n))
			}
		})
		if err != nil {
			return fmt.Errorf("schedule sweep: %w", err)
		}
	}
	c.Start()
	defer func() { <-c.Stop().Done() }()

	w.logger.Info("Worker consuming jobs", zap.Int("concurrency", w.cfg.Queue.Concurrency))
	return w.Queue.Start(ctx, w.cfg.Queue.Concurrency)
}

// InstanceBus gives this process its own consumer group on a kafka bus so
// it receives every event. Other buses are returned unchanged.
func InstanceBus(bus service.EventBus, cfg config.Config, role string) service.EventBus {
	kb, ok := bus.(*event.KafkaBus)
	if !ok {
		return bus
	}
	host, _ := os.Hostname()
	return kb.WithGroup(fmt.Sprintf("%s-%s-%s-%d", cfg.Kafka.GroupID, role, host, os.Getpid()))
}
