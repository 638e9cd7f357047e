package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"stayops/internal/config"
	"stayops/internal/database"
	"stayops/internal/idempotency"
	"stayops/internal/queue"
)

// HTTPServer is the external surface of the system: health, sync trigger,
// sync log queries and the idempotent booking endpoint.
type HTTPServer struct {
	cfg    *config.Config
	pool   *database.Manager
	queue  *queue.Queue
	idem   idempotency.Store
	logger zerolog.Logger
	server *http.Server
	auth   *HTTPAuth
}

func NewHTTPServer(cfg *config.Config, pool *database.Manager, q *queue.Queue, idem idempotency.Store, logger zerolog.Logger) *HTTPServer {
	mux := http.NewServeMux()
	srv := &HTTPServer{
		cfg:    cfg,
		pool:   pool,
		queue:  q,
		idem:   idem,
		logger: logger,
	}
	srv.auth = NewHTTPAuth(cfg.API)

	mux.HandleFunc("/healthz", srv.handleHealth)
	mux.HandleFunc("/api/v1/sync", srv.handleSyncTrigger)
	mux.HandleFunc("/api/v1/sync/log", srv.handleSyncLog)
	mux.HandleFunc("/api/v1/sync/log/export", srv.handleSyncLogExport)
	mux.HandleFunc("/api/v1/bookings", srv.handleCreateBooking)
	mux.HandleFunc("/api/v1/availability/", srv.handleAvailability)

	handler := srv.loggingMiddleware(srv.auth.Wrap(mux))

	srv.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.API.Port),
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
	}

	return srv
}

func (s *HTTPServer) Start() error {
	if s.server == nil {
		return fmt.Errorf("http server is not initialized")
	}
	s.logger.Info().Str("addr", s.server.Addr).Msg("HTTP API listening")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *HTTPServer) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// store resolves the shared pool into the query surface. An unavailable
// pool maps to 503: the caller retries the outer request, never waits here.
func (s *HTTPServer) store(ctx context.Context) (*database.Store, error) {
	db, err := s.pool.EnsurePool(ctx)
	if err != nil {
		return nil, err
	}
	return database.NewStore(db, s.logger), nil
}

// Handler exposes the routed handler for tests.
func (s *HTTPServer) Handler() http.Handler {
	return s.server.Handler
}
