// Package server exposes the streaming query endpoint over HTTP.
package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/alexschlessinger/pollyquery/datastore"
	"github.com/alexschlessinger/pollyquery/orchestrator"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const defaultShutdownTimeout = 10 * time.Second

// Tables is the read-only catalog behind the table endpoints
type Tables interface {
	ListTables(ctx context.Context) ([]string, error)
	CountRows(ctx context.Context, table string) (int64, error)
	Preview(ctx context.Context, table string, limit int) (*datastore.Result, error)
}

// Config configures the HTTP server
type Config struct {
	Addr            string
	CORSOrigins     []string // default: "*"
	ShutdownTimeout time.Duration
}

// Server is the echo application
type Server struct {
	echo   *echo.Echo
	orch   *orchestrator.Orchestrator
	tables Tables
	cfg    Config
}

// New wires the routes and middleware. tables may be nil, which disables
// the table endpoints.
func New(orch *orchestrator.Orchestrator, tables Tables, cfg Config) *Server {
	if len(cfg.CORSOrigins) == 0 {
		cfg.CORSOrigins = []string{"*"}
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = defaultShutdownTimeout
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:    true,
		LogURI:       true,
		LogStatus:    true,
		LogLatency:   true,
		LogRequestID: true,
		LogError:     true,
		HandleError:  true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			fields := []any{
				"method", v.Method,
				"uri", v.URI,
				"status", v.Status,
				"latency", v.Latency,
				"request_id", v.RequestID,
			}
			if v.Error != nil {
				zap.S().Warnw("http_request", append(fields, "error", v.Error)...)
				return nil
			}
			zap.S().Infow("http_request", fields...)
			return nil
		},
	}))
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowHeaders: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
	}))

	s := &Server{echo: e, orch: orch, tables: tables, cfg: cfg}
	s.RegisterRoutes(e)
	return s
}

// RegisterRoutes registers the API routes
func (s *Server) RegisterRoutes(e *echo.Echo) {
	e.GET("/", s.Health)
	e.POST("/ask-data-agent-streaming", s.AskStreaming)
	if s.tables != nil {
		e.GET("/list-tables", s.ListTables)
		e.GET("/table-preview", s.TablePreview)
	}
}

// Handler returns the server as an http.Handler
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Serve accepts connections on ln until ctx is done, then shuts down
// gracefully, letting in-flight streams finish within ShutdownTimeout
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.echo.Listener = ln

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		zap.S().Infow("server_started", "addr", ln.Addr().String())
		if err := s.echo.Start(""); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		zap.S().Infow("server_stopping")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		return s.echo.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// ListenAndServe listens on Config.Addr and serves until ctx is done
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}
