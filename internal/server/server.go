// Package server exposes the checkchef HTTP API.
package server

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"

	"github.com/mr-karan/checkchef/internal/backends"
	"github.com/mr-karan/checkchef/internal/config"
	"github.com/mr-karan/checkchef/internal/snapshot"
	"github.com/mr-karan/checkchef/pkg/models"
)

// Store is the read side of the check and service history.
type Store interface {
	ListChecks(ctx context.Context) ([]models.CheckDefinition, error)
	CountChecks(ctx context.Context) (int, error)
	GetCheck(ctx context.Context, id string) (*models.CheckDefinition, error)
	RecentResults(ctx context.Context, checkID string, limit int) ([]models.CheckResult, error)
	ListServices(ctx context.Context) ([]models.ServiceState, error)
	GetService(ctx context.Context, id string) (*models.ServiceState, error)
	Ping() error
}

// Runner evaluates checks on demand and reports their debounced state.
type Runner interface {
	RunNow(ctx context.Context, checkID string) (models.CheckResult, error)
	Recompute(ctx context.Context, checkID string) (models.CheckState, error)
}

// SourceHealth reports metrics-store connectivity.
type SourceHealth interface {
	SourceNames() []string
	Health(ctx context.Context) []backends.Health
}

// ServerOptions holds the dependencies of a Server.
type ServerOptions struct {
	Config  config.ServerConfig
	Engine  config.EngineConfig
	Store   Store
	Runner  Runner
	Sources SourceHealth
	Codec   *snapshot.Codec
	Logger  *slog.Logger
	Version string
}

// Server wraps the fiber app and its dependencies.
type Server struct {
	app     *fiber.App
	addr    string
	engine  config.EngineConfig
	store   Store
	runner  Runner
	sources SourceHealth
	codec   *snapshot.Codec
	log     *slog.Logger
	version string
}

// New builds a server and registers its routes.
func New(opts ServerOptions) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		addr:    opts.Config.Address,
		engine:  opts.Engine,
		store:   opts.Store,
		runner:  opts.Runner,
		sources: opts.Sources,
		codec:   opts.Codec,
		log:     logger.With("component", "server"),
		version: opts.Version,
	}

	s.app = fiber.New(fiber.Config{
		AppName:               "checkchef",
		ReadTimeout:           opts.Config.ReadTimeout,
		WriteTimeout:          opts.Config.WriteTimeout,
		DisableStartupMessage: true,
		ErrorHandler:          s.errorHandler,
	})
	s.app.Use(recover.New())
	s.app.Use(requestid.New())
	s.app.Use(s.requestLogger)
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.app.Get("/metrics", s.handleMetrics)

	api := s.app.Group("/api/v1")
	api.Get("/health", s.handleHealth)
	api.Get("/meta", s.handleGetMeta)
	api.Get("/sources", s.handleListSources)

	api.Post("/queries/build", s.handleBuildQuery)
	api.Post("/queries/validate", s.handleValidateQuery)

	api.Get("/checks", s.handleListChecks)
	api.Get("/checks/:checkID", s.handleGetCheck)
	api.Get("/checks/:checkID/status", s.handleCheckStatus)
	api.Get("/checks/:checkID/results", s.handleCheckResults)
	api.Get("/checks/:checkID/series", s.handleCheckSeries)
	api.Post("/checks/:checkID/run", s.handleRunCheck)

	api.Get("/services", s.handleListServices)
	api.Get("/services/:serviceID/status", s.handleServiceStatus)
}

// App returns the underlying fiber app.
func (s *Server) App() *fiber.App {
	return s.app
}

// Start listens on the configured address. It blocks until the server stops.
func (s *Server) Start() error {
	s.log.Info("http server listening", "address", s.addr)
	return s.app.Listen(s.addr)
}

// Shutdown stops accepting connections and waits for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}

func (s *Server) requestLogger(c *fiber.Ctx) error {
	start := time.Now()
	err := c.Next()
	s.log.Debug("request handled",
		"method", c.Method(),
		"path", c.Path(),
		"status", c.Response().StatusCode(),
		"duration", time.Since(start),
		"request_id", c.GetRespHeader(fiber.HeaderXRequestID))
	return err
}

func (s *Server) errorHandler(c *fiber.Ctx, err error) error {
	var fe *fiber.Error
	if errors.As(err, &fe) {
		if fe.Code == fiber.StatusNotFound {
			return SendErrorWithType(c, fe.Code, fe.Message, NotFoundErrorType)
		}
		return SendError(c, fe.Code, fe.Message)
	}
	s.log.Error("unhandled request error", "path", c.Path(), "error", err)
	return SendError(c, fiber.StatusInternalServerError, "Internal server error")
}
