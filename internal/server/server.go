// Package server exposes the sync trigger surface over HTTP: batch and
// single-entity sync triggers, the per-record status read used by the UI
// badge, and a health check.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tonimelisma/acctsync/internal/store"
	isync "github.com/tonimelisma/acctsync/internal/sync"
)

// Defaults for Config fields left zero.
const (
	DefaultAddr            = "127.0.0.1:8780"
	DefaultReadTimeout     = 30 * time.Second
	DefaultWriteTimeout    = 5 * time.Minute
	DefaultShutdownTimeout = 10 * time.Second
	DefaultMaxBatch        = 100
)

// Syncer is the orchestrator surface the handlers drive.
// *sync.Orchestrator satisfies it.
type Syncer interface {
	Key(t store.EntityType, id string) store.Key
	Sync(ctx context.Context, actorID string, key store.Key) (isync.Outcome, error)
	SyncNext(ctx context.Context, actorID string, entityType store.EntityType) (isync.Outcome, bool, error)
}

// RecordReader reads sync records for the status endpoint.
type RecordReader interface {
	GetRecord(ctx context.Context, key store.Key) (*store.SyncRecord, error)
}

// Config holds the inputs for creating a Server.
type Config struct {
	Addr            string
	JWTSecret       []byte
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	MaxBatch        int
	Logger          *slog.Logger
}

// Server serves the trigger surface.
type Server struct {
	cfg     Config
	secret  []byte
	syncer  Syncer
	records RecordReader
	engine  *gin.Engine
	logger  *slog.Logger
	nowFunc func() time.Time
}

// New builds the router. A missing JWT secret is an error: the trigger
// surface is never served unauthenticated.
func New(cfg Config, syncer Syncer, records RecordReader) (*Server, error) {
	if len(cfg.JWTSecret) == 0 {
		return nil, errors.New("server: jwt secret is required")
	}

	if cfg.Addr == "" {
		cfg.Addr = DefaultAddr
	}

	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = DefaultReadTimeout
	}

	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = DefaultWriteTimeout
	}

	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = DefaultShutdownTimeout
	}

	if cfg.MaxBatch <= 0 {
		cfg.MaxBatch = DefaultMaxBatch
	}

	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	s := &Server{
		cfg:     cfg,
		secret:  cfg.JWTSecret,
		syncer:  syncer,
		records: records,
		logger:  cfg.Logger,
		nowFunc: time.Now,
	}

	s.engine = s.routes()

	return s, nil
}

// Handler returns the HTTP handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) routes() *gin.Engine {
	r := gin.New()
	r.Use(s.requestLogger(), gin.Recovery())

	api := r.Group("/api")
	{
		api.GET("/health", s.health)

		syncGroup := api.Group("/sync")
		syncGroup.Use(s.authMiddleware())
		{
			syncGroup.POST("/:entityType", s.syncBatch)
			syncGroup.POST("/:entityType/:id/retry", s.retryOne)
			syncGroup.GET("/:entityType/:id", s.status)
		}
	}

	return r
}

// Run serves until ctx is canceled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("server: listening on %s: %w", s.cfg.Addr, err)
	}

	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is canceled.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.engine,
		ReadHeaderTimeout: s.cfg.ReadTimeout,
		ReadTimeout:       s.cfg.ReadTimeout,
		WriteTimeout:      s.cfg.WriteTimeout,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)

	go func() {
		s.logger.Info("trigger surface listening", slog.String("addr", ln.Addr().String()))
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server: serving: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}

	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: serving: %w", err)
	}

	s.logger.Info("trigger surface stopped")

	return nil
}

// requestLogger logs one line per request through slog.
func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := s.nowFunc()

		c.Next()

		s.logger.Debug("http request",
			slog.String("method", c.Request.Method),
			slog.String("path", c.FullPath()),
			slog.Int("status", c.Writer.Status()),
			slog.String("actor", c.GetString(actorKey)),
			slog.Duration("elapsed", s.nowFunc().Sub(start)),
		)
	}
}
