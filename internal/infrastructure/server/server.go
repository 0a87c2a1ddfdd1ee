package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	apihttp "github.com/GriffinCanCode/AgentOS/webfetch/internal/api/http"
	"github.com/GriffinCanCode/AgentOS/webfetch/internal/api/middleware"
	"github.com/GriffinCanCode/AgentOS/webfetch/internal/api/ws"
	"github.com/GriffinCanCode/AgentOS/webfetch/internal/app"
	"github.com/GriffinCanCode/AgentOS/webfetch/internal/infrastructure/config"
	"github.com/GriffinCanCode/AgentOS/webfetch/internal/infrastructure/logging"
	"github.com/GriffinCanCode/AgentOS/webfetch/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/AgentOS/webfetch/internal/infrastructure/tracing"
)

const shutdownTimeout = 15 * time.Second

// Server wraps the HTTP server and dependencies
type Server struct {
	router *gin.Engine
	app    *app.App
	tracer *tracing.Tracer
	logger *logging.Logger
	config *config.Config
}

// NewServer creates a new server instance. opts are passed to app.New.
func NewServer(cfg *config.Config, logger *logging.Logger, opts ...app.Option) (*Server, error) {
	logger.Info("Initializing webfetch server",
		zap.String("port", cfg.Server.Port),
		zap.Bool("browser", cfg.Browser.Enabled),
		zap.Bool("cache", cfg.Cache.Enabled),
	)

	metrics := monitoring.NewMetrics()
	a, err := app.New(cfg, logger, metrics, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to assemble fetch service: %w", err)
	}

	tracer := tracing.New("webfetch", logger.Named("trace").Logger)

	if !cfg.Logging.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(tracing.HTTPMiddleware(tracer))
	router.Use(monitoring.Middleware(metrics))

	cors := middleware.DefaultCORSConfig()
	cors.AllowOrigins = cfg.Server.CORSOrigins
	router.Use(middleware.CORS(cors))

	if cfg.RateLimit.Enabled {
		logger.Info("Rate limiting enabled",
			zap.Int("rps", cfg.RateLimit.RequestsPerSecond),
			zap.Int("burst", cfg.RateLimit.Burst),
		)
		router.Use(middleware.RateLimit(middleware.RateLimitConfig{
			RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
			Burst:             cfg.RateLimit.Burst,
		}))
	}

	handlers := apihttp.NewHandlers(a.Pipeline, a.Registry, func() interface{} { return a.Health() }, tracer, logger.Named("api"))
	handlers.Register(router)

	wsHandler := ws.NewHandler(a.Pipeline, tracer, metrics, logger.Named("ws"), cfg.Server.CORSOrigins)
	router.GET("/ws", wsHandler.HandleConnection)
	router.GET("/metrics", monitoring.Handler(metrics))

	logger.Info("Server initialized successfully")

	return &Server{
		router: router,
		app:    a,
		tracer: tracer,
		logger: logger,
		config: cfg,
	}, nil
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.router }

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	addr := net.JoinHostPort(s.config.Server.Host, s.config.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Starting HTTP server", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down HTTP server: %w", err)
	}
	return nil
}

// Close releases the fetch service and flushes logs.
func (s *Server) Close() error {
	s.logger.Info("Shutting down server...")

	err := s.app.Close()
	if err != nil {
		s.logger.Error("Failed to close fetch service", zap.Error(err))
	}
	s.tracer.Close()
	s.logger.Sync()
	return err
}
