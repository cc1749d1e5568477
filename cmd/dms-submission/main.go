// Точка входа dms-submission — сервиса приёма и пересылки документов.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/jackc/pgx/v5/stdlib"

	"github.com/burns238/dms-submission/internal/api/handlers"
	"github.com/burns238/dms-submission/internal/api/middleware"
	"github.com/burns238/dms-submission/internal/callback"
	"github.com/burns238/dms-submission/internal/config"
	"github.com/burns238/dms-submission/internal/database"
	"github.com/burns238/dms-submission/internal/objectstore"
	"github.com/burns238/dms-submission/internal/repository"
	"github.com/burns238/dms-submission/internal/sdes"
	"github.com/burns238/dms-submission/internal/server"
	"github.com/burns238/dms-submission/internal/service"
)

func main() {
	// Загрузка конфигурации из переменных окружения
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Ошибка конфигурации: %v\n", err)
		os.Exit(1)
	}

	// Настройка логгера
	logger := config.SetupLogger(cfg)
	logger.Info("dms-submission запускается",
		slog.String("version", config.Version),
		slog.Int("port", cfg.Port),
		slog.String("lock_ttl", cfg.LockTTL.String()),
	)

	ctx := context.Background()

	// --- Инициализация компонентов ---

	// 1. База данных: миграции + пул подключений
	if err := database.Migrate(cfg, logger); err != nil {
		logger.Error("Ошибка миграций", slog.String("error", err.Error()))
		os.Exit(1)
	}
	pool, err := database.Connect(ctx, cfg, logger)
	if err != nil {
		logger.Error("Ошибка подключения к PostgreSQL", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer pool.Close()

	// 2. Object store
	store, err := objectstore.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("Ошибка инициализации object store", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 3. Репозиторий заявок
	repo := repository.NewSubmissionRepository(pool, cfg.LockTTL)

	// 4. Внешние клиенты
	sdesClient := sdes.New(cfg, logger)
	callbackClient := callback.New(cfg.CallbackTimeout, logger)

	// 5. Сервис заявок
	submissionSvc := service.NewSubmissionService(
		cfg,
		repo,
		service.NewTxRepoRunner(pool, cfg.LockTTL),
		store,
		logger,
	)

	// 6. Воркеры
	sdesWorker := service.NewSdesWorker(repo, sdesClient,
		cfg.WorkerInitialDelay, cfg.SdesWorkerInterval, logger)
	callbackWorker := service.NewCallbackWorker(repo, callbackClient,
		cfg.WorkerInitialDelay, cfg.ProcessedWorkerInterval, logger)
	failureWorker := service.NewFailureWorker(repo, cfg.CallbackMaxFailures,
		cfg.WorkerInitialDelay, cfg.FailedWorkerInterval, logger)

	sdesWorker.Start(ctx)
	callbackWorker.Start(ctx)
	failureWorker.Start(ctx)

	// 7. topologymetrics — мониторинг зависимостей
	objectStoreURL := "http://" + cfg.S3Endpoint
	if cfg.S3UseSSL {
		objectStoreURL = "https://" + cfg.S3Endpoint
	}
	dephealthSvc, dephealthErr := service.NewDephealthService(
		cfg.DephealthGroup,
		stdlib.OpenDBFromPool(pool),
		cfg.DatabaseDSN(),
		cfg.SdesURL,
		objectStoreURL,
		cfg.DephealthCheckInterval,
		logger,
	)
	if dephealthErr != nil {
		logger.Warn("topologymetrics недоступен, запуск без мониторинга зависимостей",
			slog.String("error", dephealthErr.Error()),
		)
	} else {
		if startErr := dephealthSvc.Start(ctx); startErr != nil {
			logger.Warn("Ошибка запуска topologymetrics", slog.String("error", startErr.Error()))
		}
	}

	// 8. JWT middleware
	jwtAuth, err := middleware.NewJWTAuth(middleware.JWTAuthConfig{
		JWKSURL:         cfg.JWKSUrl,
		CACertPath:      cfg.JWKSCACert,
		ClientTimeout:   cfg.JWKSClientTimeout,
		RefreshInterval: cfg.JWKSRefreshInterval,
		JWTLeeway:       cfg.JWTLeeway,
	}, logger)
	if err != nil {
		logger.Error("Ошибка инициализации JWT middleware", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 9. Handlers и сервер
	h := server.Handlers{
		Submissions:  handlers.NewSubmissionsHandler(submissionSvc, cfg, logger),
		SdesCallback: handlers.NewSdesCallbackHandler(submissionSvc, logger),
		Health:       handlers.NewHealthHandler(database.NewReadinessChecker(pool)),
	}
	srv := server.New(cfg, logger, h, jwtAuth)

	// Сервер блокирует до сигнала завершения
	runErr := srv.Run()

	// Воркеры останавливаются после сервера: текущим тикам даётся
	// deadline, новые lease не берутся
	sdesWorker.Stop(cfg.ShutdownTimeout)
	callbackWorker.Stop(cfg.ShutdownTimeout)
	failureWorker.Stop(cfg.ShutdownTimeout)
	if dephealthErr == nil {
		dephealthSvc.Stop()
	}

	if runErr != nil {
		logger.Error("Сервер завершился с ошибкой", slog.String("error", runErr.Error()))
		os.Exit(1)
	}
	logger.Info("dms-submission остановлен")
}
