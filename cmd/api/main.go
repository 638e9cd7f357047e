package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v2"

	"stayops/internal/api"
	"stayops/internal/config"
	"stayops/internal/database"
	"stayops/internal/idempotency"
	"stayops/internal/logging"
	"stayops/internal/metrics"
	"stayops/internal/models"
	"stayops/internal/queue"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

func run() error {
	cfg, logger, closer, err := loadConfigAndLogger()
	if err != nil {
		return err
	}
	if closer != nil {
		defer func() { _ = closer.Close() }()
	}

	metrics.Register()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool := database.NewManager(cfg.Database, logging.Component(logger, "pool"))
	defer pool.Close()

	// Startup tolerates a slow database: a failed first EnsurePool only
	// means degraded mode, the reconnector heals it without a restart.
	if db, err := pool.EnsurePool(ctx); err != nil {
		logger.Warn().Err(err).Msg("starting degraded: database pool not ready")
	} else {
		if err := seedChannelConnections(ctx, cfg, database.NewStore(db, *logger), logger); err != nil {
			logger.Warn().Err(err).Msg("seed channel connections failed")
		}
	}

	redisClient := queue.NewRedisClient(cfg.Redis)
	defer redisClient.Close()
	taskQueue := queue.New(redisClient, cfg.Sync, logging.Component(logger, "queue"))

	idem := idempotency.NewFailoverStore(
		idempotency.NewRedisStore(redisClient, cfg.Idempotency.TTL()),
		idempotency.NewMemoryStore(cfg.Idempotency.TTL()),
		logging.Component(logger, "idempotency"),
	)

	httpServer := api.NewHTTPServer(cfg, pool, taskQueue, idem, logging.Component(logger, "http"))

	startMetrics(ctx, cfg, logger)

	errCh := make(chan error, 1)
	go func() { errCh <- httpServer.Start() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("http shutdown")
	}
	logger.Info().Msg("api stopped")
	return nil
}

func loadConfigAndLogger() (*config.Config, *zerolog.Logger, io.Closer, error) {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load config: %w", err)
	}

	baseLogger, closer, err := logging.New(cfg.Logging, cfg.App)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("init logger: %w", err)
	}
	logger := logging.Component(baseLogger, "api-main")

	return cfg, &logger, closer, nil
}

// seedChannelConnections loads the channel registry from YAML when the
// table is empty, so a fresh deployment has integrations to sync.
func seedChannelConnections(ctx context.Context, cfg *config.Config, store *database.Store, logger *zerolog.Logger) error {
	existing, err := store.ListActiveChannelConnections(ctx)
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		return nil
	}

	channelsPath := os.Getenv("CHANNELS_PATH")
	if channelsPath == "" {
		channelsPath = "configs/channels.yaml"
	}
	data, err := os.ReadFile(channelsPath)
	if err != nil {
		if os.IsNotExist(err) {
			logger.Info().Str("channels_path", channelsPath).Msg("no channel seed file, skipping")
			return nil
		}
		return err
	}

	var seed struct {
		Properties  []models.Property          `yaml:"properties"`
		Connections []models.ChannelConnection `yaml:"connections"`
	}
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return fmt.Errorf("parse channel seed: %w", err)
	}

	for i := range seed.Properties {
		if err := store.CreateProperty(ctx, &seed.Properties[i]); err != nil {
			return err
		}
	}
	for i := range seed.Connections {
		if err := store.CreateChannelConnection(ctx, &seed.Connections[i]); err != nil {
			return err
		}
	}
	logger.Info().
		Int("properties", len(seed.Properties)).
		Int("connections", len(seed.Connections)).
		Msg("channel registry seeded")
	return nil
}

func startMetrics(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) {
	if !cfg.Monitoring.PrometheusEnabled {
		return
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Monitoring.PrometheusPort),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", server.Addr).Msg("metrics listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("metrics server")
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()
}
