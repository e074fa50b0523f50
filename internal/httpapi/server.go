package httpapi

import (
	"context"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewApp builds the fiber app with all routes. A nil gatherer disables /metrics.
func NewApp(svc QAService, gatherer prometheus.Gatherer, logger *slog.Logger) *fiber.App {
	if logger == nil {
		logger = slog.Default()
	}
	var (
		app     = fiber.New(fiber.Config{ErrorHandler: NewErrorHandler(logger), DisableStartupMessage: true})
		handler = NewHandler(svc)
		check   = app.Group("/check")
		apiv1   = app.Group("/api/v1")
	)

	check.Get("/healthy", handler.HandleHealthy)
	apiv1.Get("/status", handler.HandleStatus)
	apiv1.Post("/documents", handler.HandleDocuments)
	apiv1.Post("/query", handler.HandleQuery)
	apiv1.Post("/reset", handler.HandleReset)
	if gatherer != nil {
		app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}
	return app
}

const ShutdownTimeout = 10 * time.Second

type Server struct {
	listenAddr string
	app        *fiber.App
	logger     *slog.Logger
}

func NewServer(addr string, app *fiber.App, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{listenAddr: addr, app: app, logger: logger}
}

// Run serves until ctx is done, then shuts the app down.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server started", "addr", s.listenAddr)
		errCh <- s.app.Listen(s.listenAddr)
	}()
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer cancel()
	if err := s.app.ShutdownWithContext(shutdownCtx); err != nil {
		return err
	}
	s.logger.Info("server stopped")
	return <-errCh
}
