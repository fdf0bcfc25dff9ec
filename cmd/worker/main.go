package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os/signal"
	"syscall"

	"github.com/khoahotran/chatmedia/adapters/persistence"
	"github.com/khoahotran/chatmedia/internal/bootstrap"
	"github.com/khoahotran/chatmedia/internal/config"
	"github.com/khoahotran/chatmedia/pkg/logger"
	"github.com/khoahotran/chatmedia/pkg/tracing"
)

func main() {
	fmt.Println("Starting Chat Media Worker...")

	// Configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("FATAL: cannot load config: %v", err)
	}
	if cfg.DB.Driver == config.DBMemory {
		log.Fatalf("FATAL: the standalone worker needs a shared database, db.driver=memory only works with worker.embedded")
	}

	appLogger := logger.NewZapLogger(cfg.App.Env)
	defer appLogger.Sync()

	tp, err := tracing.NewTracerProvider(cfg.Jaeger.OTLPEndpoint, appLogger, "chatmedia-worker")
	if err != nil {
		appLogger.Fatal("Cannot init tracer", err)
	}
	defer tp.Shutdown(context.Background())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	repos, err := bootstrap.NewRepositories(cfg, appLogger)
	if err != nil {
		appLogger.Fatal("Cannot open repositories", err)
	}
	defer repos.Close()

	redisClient, err := persistence.NewRedisClient(cfg, appLogger)
	if err != nil {
		appLogger.Fatal("Cannot connect Redis", err)
	}
	defer redisClient.Close()

	store, err := bootstrap.NewBlobStore(cfg, appLogger)
	if err != nil {
		appLogger.Fatal("Cannot init blob store", err)
	}

	bus, err := bootstrap.NewEventBus(cfg, "", appLogger)
	if err != nil {
		appLogger.Fatal("Cannot init event bus", err)
	}
	defer bus.Close()
	if cfg.Events.Driver == config.EventsMemory {
		appLogger.Warn("Memory event bus, results are recorded but not announced to API instances")
	}

	jobs, err := bootstrap.NewJobQueue(cfg, redisClient, appLogger)
	if err != nil {
		appLogger.Fatal("Cannot init job queue", err)
	}

	worker := bootstrap.NewWorker(cfg, jobs, repos.Multimedia, store, bus, appLogger)
	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		appLogger.Fatal("Worker stopped", err)
	}
	appLogger.Info("Worker stopped")
}
