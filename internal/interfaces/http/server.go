// Package http exposes a local debug surface for a running bridge:
// health, status snapshot, recent logs and the turn journal.
package http

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/clawlink/clawlink/internal/bridge"
	"github.com/clawlink/clawlink/internal/journal"
)

// DefaultAddr is where the debug server listens when the config leaves it unset.
const DefaultAddr = "127.0.0.1:18791"

// SnapshotFunc returns the current bridge snapshot. Injected by the host
// so the server never holds a reference to a disposed bridge.
type SnapshotFunc func() bridge.Snapshot

// Server serves the local debug endpoints.
type Server struct {
	router    *gin.Engine
	addr      string
	version   string
	logger    *slog.Logger
	logBuffer *LogBuffer
	journal   *journal.Journal
	snapshot  SnapshotFunc
	startedAt time.Time
}

// Options configures the debug server.
type Options struct {
	Addr      string
	Version   string
	Logger    *slog.Logger
	LogBuffer *LogBuffer
	Journal   *journal.Journal
	Snapshot  SnapshotFunc
}

// NewServer builds the debug server and registers its routes.
func NewServer(opts Options) *Server {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery())
	if opts.Logger != nil {
		router.Use(loggerMiddleware(opts.Logger))
	}

	addr := opts.Addr
	if addr == "" {
		addr = DefaultAddr
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		router:    router,
		addr:      addr,
		version:   opts.Version,
		logger:    logger,
		logBuffer: opts.LogBuffer,
		journal:   opts.Journal,
		snapshot:  opts.Snapshot,
		startedAt: time.Now(),
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handleHealth)
	s.router.GET("/api/health", s.handleHealth)

	api := s.router.Group("/api")
	api.Use(localhostOnlyMiddleware())
	{
		api.GET("/status", s.handleStatus)
		api.GET("/logs", s.handleLogs)
		api.GET("/journal", s.handleJournal)
	}
}

// Start runs the server until ctx is cancelled, then shuts it down.
func (s *Server) Start(ctx context.Context) error {
	s.logger.Info("starting debug server", "address", s.addr)

	srv := &http.Server{
		Addr:         s.addr,
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	listenErr := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			listenErr <- err
		}
	}()

	select {
	case err := <-listenErr:
		return fmt.Errorf("debug server failed to start on %s: %w", s.addr, err)
	case <-time.After(200 * time.Millisecond):
	}

	select {
	case err := <-listenErr:
		return fmt.Errorf("debug server error: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	s.logger.Info("shutting down debug server")
	return srv.Shutdown(shutdownCtx)
}
