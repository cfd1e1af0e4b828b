package api

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"github.com/forge3d/forge3d/pkg/assets"
	"github.com/forge3d/forge3d/pkg/bridge"
	"github.com/forge3d/forge3d/pkg/health"
	"github.com/forge3d/forge3d/pkg/log"
	"github.com/forge3d/forge3d/pkg/metrics"
	"github.com/forge3d/forge3d/pkg/scheduler"
	"github.com/forge3d/forge3d/pkg/store"
	"github.com/forge3d/forge3d/pkg/telemetry"
)

const (
	// MaxJSONBody caps JSON request bodies.
	MaxJSONBody = 1 << 20

	// MaxImageBody caps raw image uploads.
	MaxImageBody = 20 << 20

	// basePath prefixes every orchestrator endpoint.
	basePath = "/api/forge3d"
)

// Bridge is the supervisor surface the API reads.
type Bridge interface {
	State() bridge.State
	Port() int
	LastHealth() health.Result
	StderrTail() string
}

// Deps wires the server to the rest of the host.
type Deps struct {
	Store     *store.Store
	Assets    *assets.Store
	Scheduler *scheduler.Scheduler
	Bridge    Bridge
	Hub       *telemetry.Hub
	Errors    *log.ErrorSink
}

// Server is the localhost HTTP surface.
type Server struct {
	echo   *echo.Echo
	deps   Deps
	logger zerolog.Logger
	port   int
}

// New assembles the server with routes and middleware registered.
func New(port int, deps Deps) *Server {
	s := &Server{
		deps:   deps,
		logger: log.WithComponent("api"),
		port:   port,
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = s.errorHandler
	e.Use(middleware.Recover())
	e.Use(s.observe)

	e.GET("/healthz", s.handleHealthz)
	e.GET("/metrics", echo.WrapHandler(metrics.Handler()))

	g := e.Group(basePath)
	g.POST("/generate", s.handleGenerate)
	g.GET("/status/:id", s.handleStatus)
	g.GET("/download/:id", s.handleDownload)
	g.GET("/sessions", s.handleSessions)

	g.GET("/projects", s.handleListProjects)
	g.POST("/projects", s.handleCreateProject)
	g.GET("/projects/:id", s.handleGetProject)
	g.DELETE("/projects/:id", s.handleDeleteProject)
	g.GET("/projects/:id/assets", s.handleListProjectAssets)
	g.DELETE("/assets/:id", s.handleDeleteAsset)

	g.GET("/history", s.handleHistory)
	g.GET("/stats", s.handleStats)
	g.GET("/bridge", s.handleBridge)

	g.GET("/queue", s.handleQueue)
	g.POST("/queue/pause", s.handleQueuePause)
	g.POST("/queue/resume", s.handleQueueResume)
	g.DELETE("/queue/:id", s.handleQueueCancel)

	g.GET("/metrics/stream", s.handleMetricsStream)

	s.echo = e
	return s
}

// Start binds the listener on localhost and serves until Shutdown.
func (s *Server) Start() error {
	addr := fmt.Sprintf("127.0.0.1:%d", s.port)
	s.logger.Info().Str("addr", addr).Msg("api listening")
	if err := s.echo.Start(addr); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("api server failed: %w", err)
	}
	return nil
}

// Shutdown stops accepting requests and drains in-flight handlers.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

// Handler exposes the routing tree for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// observe records request metrics.
func (s *Server) observe(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		start := time.Now()
		err := next(c)
		if err != nil {
			// Let the error handler commit the status first.
			c.Error(err)
		}
		status := c.Response().Status
		method := c.Request().Method
		metrics.APIRequestsTotal.WithLabelValues(method, strconv.Itoa(status)).Inc()
		metrics.APIRequestDuration.WithLabelValues(method).Observe(time.Since(start).Seconds())
		return nil
	}
}

func (s *Server) handleHealthz(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}
