// =============================================================================
// Report Kapp - HTTP Service
// =============================================================================
//
// This module serves the transformation over HTTP so stations can upload a
// purchase sheet and download the Loading and Buying tables.
//
// ROUTES:
//   GET  /healthz            - liveness probe, never authenticated
//   POST /api/v1/transform   - multipart upload, see handleTransform
//
// =============================================================================

package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	echoMiddleware "github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/ginjaninja78/report-kapp/internal/auth"
	"github.com/ginjaninja78/report-kapp/internal/config"
	"github.com/ginjaninja78/report-kapp/internal/transform"
)

// shutdownTimeout bounds graceful shutdown.
const shutdownTimeout = 10 * time.Second

// Server is the HTTP upload service.
type Server struct {
	echo     *echo.Echo
	config   *config.MainConfig
	stations map[string]*config.StationConfig
	engine   *transform.Engine
	logger   *zap.Logger

	// Now returns the current time. Defaults to time.Now.
	Now func() time.Time
}

// New builds the service and registers its routes. stations may be nil; a
// nil verifier disables authentication.
func New(cfg *config.MainConfig, stations map[string]*config.StationConfig, verifier auth.Verifier, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{
		echo:     e,
		config:   cfg,
		stations: stations,
		engine:   transform.New(cfg.Columns),
		logger:   logger,
		Now:      time.Now,
	}

	e.Use(echoMiddleware.Recover())
	e.Use(echoMiddleware.RequestLoggerWithConfig(echoMiddleware.RequestLoggerConfig{
		LogMethod:  true,
		LogURIPath: true,
		LogStatus:  true,
		LogLatency: true,
		LogError:   true,
		LogValuesFunc: func(c echo.Context, v echoMiddleware.RequestLoggerValues) error {
			fields := []zap.Field{
				zap.String("method", v.Method),
				zap.String("path", v.URIPath),
				zap.Int("status", v.Status),
				zap.Duration("latency", v.Latency),
			}
			if p, ok := auth.PrincipalFrom(c); ok {
				fields = append(fields, zap.String("user", p.Username))
			}
			if v.Error != nil {
				fields = append(fields, zap.Error(v.Error))
			}
			logger.Info("request", fields...)
			return nil
		},
	}))

	e.GET("/healthz", s.handleHealth)

	api := e.Group("/api/v1",
		echoMiddleware.BodyLimit(fmt.Sprintf("%dM", cfg.Server.MaxUploadMB)),
		auth.Middleware(verifier),
	)
	api.POST("/transform", s.handleTransform)

	return s
}

// Handler returns the service as an http.Handler.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// ListenAndServe listens on addr and serves until ctx is canceled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is canceled, then shuts down
// gracefully. It returns nil after a clean shutdown.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.echo.Listener = ln

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.echo.Start(ln.Addr().String())
	}()
	s.logger.Info("server listening", zap.String("addr", ln.Addr().String()))

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

	s.logger.Info("server shutting down")
	if err := s.echo.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, echo.Map{"status": "ok"})
}

func (s *Server) now() time.Time {
	if s.Now == nil {
		return time.Now()
	}
	return s.Now()
}
