package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"

	"stayops/internal/config"
	"stayops/internal/database"
	"stayops/internal/logging"
	"stayops/internal/metrics"
	"stayops/internal/queue"
	"stayops/internal/syncer"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

func run() error {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	baseLogger, closer, err := logging.New(cfg.Logging, cfg.App)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	if closer != nil {
		defer func() { _ = closer.Close() }()
	}

	workerID := fmt.Sprintf("worker-%s", uuid.NewString()[:8])
	logger := baseLogger.With().Str("component", "worker-main").Str("worker_id", workerID).Logger()

	metrics.Register()

	// Reset-on-start: a worker never inherits a parent's pool handle or
	// in-flight construction. All database access below goes through
	// short-lived task-owned connections instead of this pool.
	pool := database.NewManager(cfg.Database, logging.Component(baseLogger, "pool"))
	pool.Reset()
	defer pool.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	redisClient := queue.NewRedisClient(cfg.Redis)
	defer redisClient.Close()
	taskQueue := queue.New(redisClient, cfg.Sync, logging.Component(baseLogger, "queue"))

	openStore := func(ctx context.Context) (*database.Store, error) {
		return database.OpenDirectStore(ctx, cfg.Database, logging.Component(baseLogger, "store"))
	}

	preflight := database.NewPreflight(cfg.Database, cfg.Sync.PreflightTimeout(), logging.Component(baseLogger, "preflight"))

	policy := syncer.RetryPolicy{
		MaxRetries: cfg.Sync.MaxRetries,
		BaseDelay:  cfg.Sync.BaseDelay(),
		MaxDelay:   time.Minute,
	}
	engine := syncer.NewEngine(
		policy,
		preflight,
		openStore,
		syncer.NewHTTPChannelClient(30*time.Second, logging.Component(baseLogger, "channel")),
		logging.Component(baseLogger, "engine"),
	)
	worker := syncer.NewWorker(
		engine,
		taskQueue,
		openStore,
		cfg.Sync.PollInterval(),
		cfg.Sync.BatchSize,
		logging.Component(baseLogger, "worker"),
	)

	heartbeat := queue.NewHeartbeat(redisClient, workerID, cfg.Sync.HeartbeatInterval(), logging.Component(baseLogger, "heartbeat"))

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		heartbeat.Run(ctx)
	}()

	logger.Info().Msg("sync worker process started")
	worker.Start(ctx)

	wg.Wait()
	logger.Info().Msg("sync worker process stopped")
	return nil
}
