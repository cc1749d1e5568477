// Пакет server — HTTP-сервер dms-submission с graceful shutdown.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/burns238/dms-submission/internal/api/handlers"
	"github.com/burns238/dms-submission/internal/api/middleware"
	"github.com/burns238/dms-submission/internal/config"
)

// Handlers — набор обработчиков для маршрутизации.
type Handlers struct {
	Submissions  *handlers.SubmissionsHandler
	SdesCallback *handlers.SdesCallbackHandler
	Health       *handlers.HealthHandler
}

// Server — HTTP-сервер dms-submission.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
	cfg        *config.Config
}

// New создаёт HTTP-сервер с настроенными routes и middleware.
// jwtAuth защищает клиентские endpoints, internal-токен — /sdes-callback.
func New(cfg *config.Config, logger *slog.Logger, h Handlers, jwtAuth *middleware.JWTAuth) *Server {
	router := chi.NewRouter()

	// Middleware
	router.Use(middleware.RequestLogger(logger))
	router.Use(middleware.MetricsMiddleware())

	// Публичные endpoints
	router.Get("/health/live", h.Health.HealthLive)
	router.Get("/health/ready", h.Health.HealthReady)
	router.Method(http.MethodGet, "/metrics", promhttp.Handler())

	// Клиентские endpoints — JWT
	router.Group(func(r chi.Router) {
		r.Use(jwtAuth.Middleware())
		r.Post("/dms-submission/submit", h.Submissions.Submit)
		r.Get("/dms-submission/submissions", h.Submissions.ListSubmissions)
		r.Get("/dms-submission/submissions/{id}", h.Submissions.GetSubmission)
	})

	// Входящие уведомления SDES — internal-токен
	router.Group(func(r chi.Router) {
		r.Use(middleware.InternalAuth(cfg.InternalAuthToken, logger))
		r.Post("/sdes-callback", h.SdesCallback.HandleCallback)
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return &Server{
		httpServer: srv,
		logger:     logger,
		cfg:        cfg,
	}
}

// Run запускает сервер и ожидает сигнала завершения (SIGINT, SIGTERM).
// При получении сигнала выполняется graceful shutdown с таймаутом
// из конфигурации.
func (s *Server) Run() error {
	errCh := make(chan error, 1)

	go func() {
		s.logger.Info("HTTP-сервер запущен", slog.String("addr", s.httpServer.Addr))

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

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	s.logger.Info("Выполняется graceful shutdown...")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("ошибка при graceful shutdown: %w", err)
	}

	s.logger.Info("HTTP-сервер остановлен")
	return nil
}
