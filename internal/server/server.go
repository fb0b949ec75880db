// Пакет server — HTTP-сервер Transmute с graceful shutdown.
// Без TLS — сервис рассчитан на работу за reverse proxy.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"

	"github.com/bigkaa/transmute/internal/api/handlers"
	"github.com/bigkaa/transmute/internal/api/middleware"
	"github.com/bigkaa/transmute/internal/config"
)

// Handlers — набор обработчиков API, монтируемых на роутер.
type Handlers struct {
	Files       *handlers.FilesHandler
	Conversions *handlers.ConversionsHandler
	Settings    *handlers.SettingsHandler
	Health      *handlers.HealthHandler
}

// Server — HTTP-сервер Transmute.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
	cfg        *config.Config
}

// New создаёт новый HTTP-сервер с настроенными routes и middleware.
func New(cfg *config.Config, logger *slog.Logger, h *Handlers) *Server {
	router := chi.NewRouter()

	router.Use(middleware.MetricsMiddleware())
	router.Use(middleware.RequestLogger(logger))

	router.Route("/api", func(r chi.Router) {
		r.Route("/files", func(r chi.Router) {
			r.Post("/", h.Files.Upload)
			r.Get("/", h.Files.List)
			// Статические маршруты идут раньше параметризованных
			r.Delete("/all", h.Files.DeleteAll)
			r.Post("/batch", h.Files.Batch)
			r.Get("/{fileID}", h.Files.Download)
			r.Delete("/{fileID}", h.Files.Delete)
		})

		r.Route("/conversions", func(r chi.Router) {
			r.Post("/", h.Conversions.Create)
			r.Get("/complete", h.Conversions.ListComplete)
			r.Delete("/all", h.Conversions.DeleteAll)
			r.Get("/{jobID}", h.Conversions.Get)
			r.Delete("/{jobID}", h.Conversions.Delete)
		})

		r.Get("/jobs", h.Conversions.ListJobs)

		r.Route("/settings", func(r chi.Router) {
			r.Get("/", h.Settings.Get)
			r.Patch("/", h.Settings.Patch)
		})

		r.Route("/health", func(r chi.Router) {
			r.Get("/info", h.Health.Info)
			r.Get("/live", h.Health.HealthLive)
			r.Get("/ready", h.Health.HealthReady)
		})
	})

	router.Get("/metrics", h.Health.GetMetrics)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  cfg.HTTPReadTimeout,
		WriteTimeout: cfg.HTTPWriteTimeout,
		IdleTimeout:  cfg.HTTPIdleTimeout,
	}

	return &Server{
		httpServer: srv,
		logger:     logger,
		cfg:        cfg,
	}
}

// Run запускает сервер и ожидает сигнала завершения (SIGINT, SIGTERM).
// При получении сигнала выполняется graceful shutdown.
func (s *Server) Run() error {
	// Канал для ошибок сервера
	errCh := make(chan error, 1)

	go func() {
		s.logger.Info("HTTP-сервер запущен",
			slog.String("addr", s.httpServer.Addr),
		)

		err := s.httpServer.ListenAndServe()
		if err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	// Ожидание сигнала завершения
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		s.logger.Info("Получен сигнал завершения", slog.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("ошибка HTTP-сервера: %w", err)
		}
	}

	// Graceful shutdown
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	s.logger.Info("Выполняется graceful shutdown...")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("ошибка при graceful shutdown: %w", err)
	}

	s.logger.Info("HTTP-сервер остановлен")
	return nil
}
