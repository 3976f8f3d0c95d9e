// Package server exposes the cropper over HTTP.
package server

import (
	"context"
	"log/slog"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/google/uuid"

	productcrop "github.com/menta2k/product-crop"
	"github.com/menta2k/product-crop/internal/log"
)

// RequestIDHeader carries the request id in both directions.
const RequestIDHeader = "X-Request-ID"

// Processor runs one crop request.
type Processor interface {
	Process(ctx context.Context, req productcrop.Request) (productcrop.Response, error)
}

// Server is the HTTP front of a Processor
type Server struct {
	app    *fiber.App
	addr   string
	proc   Processor
	logger *slog.Logger
}

// New creates a server listening on addr once started
func New(addr string, proc Processor, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{addr: addr, proc: proc, logger: logger}

	app := fiber.New(fiber.Config{
		AppName:               "productcrop",
		DisableStartupMessage: true,
	})
	app.Use(recover.New())

	app.Get("/healthz", s.handleHealth)
	v1 := app.Group("/v1")
	v1.Post("/crop", s.handleCrop)

	s.app = app
	return s
}

// App returns the underlying fiber app
func (s *Server) App() *fiber.App {
	return s.app
}

// Start serves until Shutdown is called
func (s *Server) Start() error {
	s.logger.Info("listening", "addr", s.addr, "version", productcrop.Version)
	return s.app.Listen(s.addr)
}

// Shutdown stops accepting requests and waits for in-flight ones
func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}

func (s *Server) handleHealth(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "ok", "version": productcrop.Version})
}

func (s *Server) handleCrop(c *fiber.Ctx) error {
	id := c.Get(RequestIDHeader)
	if id == "" {
		id = uuid.NewString()
	}
	c.Set(RequestIDHeader, id)
	logger := s.logger.With("request_id", id)

	var req productcrop.Request
	if err := c.BodyParser(&req); err != nil {
		logger.Warn("bad request body", "error", err)
		return c.Status(fiber.StatusBadRequest).JSON(productcrop.Failure())
	}

	ctx := log.NewContext(c.UserContext(), logger)
	resp, err := s.proc.Process(ctx, req)
	if err != nil {
		logger.Error("crop failed",
			"stage", productcrop.StageName(err),
			"image_path", req.ImagePath,
			"s3_path", req.S3Path,
			"error", err)
		return c.Status(fiber.StatusUnprocessableEntity).JSON(productcrop.Failure())
	}
	return c.Status(fiber.StatusOK).JSON(resp)
}
