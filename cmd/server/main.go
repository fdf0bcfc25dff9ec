package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	httpAdapter "github.com/khoahotran/chatmedia/adapters/http"
	"github.com/khoahotran/chatmedia/adapters/media_storage"
	"github.com/khoahotran/chatmedia/adapters/persistence"
	"github.com/khoahotran/chatmedia/adapters/realtime"
	mediaUC "github.com/khoahotran/chatmedia/internal/application/usecase/media"
	messageUC "github.com/khoahotran/chatmedia/internal/application/usecase/message"
	"github.com/khoahotran/chatmedia/internal/bootstrap"
	"github.com/khoahotran/chatmedia/internal/config"
	"github.com/khoahotran/chatmedia/pkg/auth"
	"github.com/khoahotran/chatmedia/pkg/logger"
	"github.com/khoahotran/chatmedia/pkg/tracing"
)

// Messages pending longer than this get their multimedia status re-read.
const resyncAfter = time.Minute

func main() {
	fmt.Println("Start Chat Media API Server...")

	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("FATAL: cannot load config: %v", err)
	}

	appLogger := logger.NewZapLogger(cfg.App.Env)
	defer appLogger.Sync()

	if cfg.Events.Driver == config.EventsMemory && !cfg.Worker.Embedded {
		appLogger.Warn("Memory event bus without embedded worker, transcoding results will not reach this process")
	}

	tp, err := tracing.NewTracerProvider(cfg.Jaeger.OTLPEndpoint, appLogger, "chatmedia-api")
	if err != nil {
		appLogger.Fatal("Cannot init tracer", err)
	}
	defer tp.Shutdown(context.Background())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Infrastructure
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

	bus, err := bootstrap.NewEventBus(cfg, cfg.Kafka.GroupID, appLogger)
	if err != nil {
		appLogger.Fatal("Cannot init event bus", err)
	}
	defer bus.Close()

	jobs, err := bootstrap.NewJobQueue(cfg, redisClient, appLogger)
	if err != nil {
		appLogger.Fatal("Cannot init job queue", err)
	}

	// Use Cases
	createMessageUC := messageUC.NewCreateMessageUseCase(repos.Messages, repos.Multimedia, repos.Users, bus, appLogger)
	createWithFileUC := messageUC.NewCreateMessageWithFileUseCase(repos.Multimedia, repos.Messages, repos.Users, store, jobs, bus, appLogger)
	listMessagesUC := messageUC.NewListMessagesUseCase(repos.Messages, repos.Multimedia)
	getMultimediaUC := mediaUC.NewGetMultimediaUseCase(repos.Multimedia, repos.Messages)

	reconcile := messageUC.NewReconcileUseCase(repos.Messages, repos.Multimedia, bus, appLogger)
	stopReconcile, err := reconcile.Start()
	if err != nil {
		appLogger.Fatal("Cannot subscribe lifecycle manager", err)
	}
	defer stopReconcile()

	resync := cron.New()
	if cfg.Sweep.Schedule != "" {
		_, err := resync.AddFunc(cfg.Sweep.Schedule, func() {
			n, err := reconcile.Resync(ctx, time.Now().Add(-resyncAfter), cfg.Sweep.BatchSize)
			if err != nil {
				appLogger.Error("Message resync failed", err)
				return
			}
			if n > 0 {
				appLogger.Info("Message resync finished", zap.Int("updated", n))
			}
		})
		if err != nil {
			appLogger.Fatal("Cannot schedule message resync", err)
		}
	}
	resync.Start()
	defer func() { <-resync.Stop().Done() }()

	hub := realtime.NewHub(appLogger)
	stopHub, err := hub.Start(bootstrap.InstanceBus(bus, cfg, "realtime"))
	if err != nil {
		appLogger.Fatal("Cannot subscribe realtime hub", err)
	}
	defer stopHub()

	var workers sync.WaitGroup
	if cfg.Worker.Embedded {
		worker := bootstrap.NewWorker(cfg, jobs, repos.Multimedia, store, bus, appLogger)
		workers.Add(1)
		go func() {
			defer workers.Done()
			if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				appLogger.Error("Embedded worker stopped", err)
			}
		}()
	}

	// Services
	jwtSvc := auth.NewJWTService(cfg.Auth.JWTSecret, cfg.Auth.TokenLifespan)

	// HTTP
	if cfg.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	deps := httpAdapter.RouterDeps{
		JWT:        jwtSvc,
		Logger:     appLogger,
		Messages:   httpAdapter.NewMessageHandler(createMessageUC, createWithFileUC, listMessagesUC, cfg.Upload.MaxBytes, appLogger),
		Multimedia: httpAdapter.NewMultimediaHandler(getMultimediaUC),
		WS:         httpAdapter.NewWSHandler(hub, jwtSvc, appLogger),
	}
	if local, ok := store.(*media_storage.LocalStore); ok {
		deps.LocalFs = local.Fs()
		deps.PublicBaseURL = cfg.Storage.PublicBaseURL
	}
	router := httpAdapter.NewRouter(deps)

	srv := &http.Server{
		Addr:              ":" + cfg.App.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		appLogger.Info("Server running", zap.String("port", cfg.App.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			appLogger.Fatal("Cannot run server", err)
		}
	}()

	<-ctx.Done()
	appLogger.Info("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLogger.Error("Server forced to shutdown", err)
	}
	// in-flight jobs finish before the repositories and the bus close
	workers.Wait()
}
