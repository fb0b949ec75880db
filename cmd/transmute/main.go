// Точка входа Transmute — сервиса конвертации файлов.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/jackc/pgx/v5/stdlib"

	"github.com/bigkaa/transmute/internal/api/handlers"
	"github.com/bigkaa/transmute/internal/config"
	"github.com/bigkaa/transmute/internal/converter"
	"github.com/bigkaa/transmute/internal/database"
	"github.com/bigkaa/transmute/internal/engine"
	"github.com/bigkaa/transmute/internal/registry"
	"github.com/bigkaa/transmute/internal/repository"
	"github.com/bigkaa/transmute/internal/server"
	"github.com/bigkaa/transmute/internal/service"
	"github.com/bigkaa/transmute/internal/storage/filestore"
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
	logger.Info("Transmute запускается",
		slog.String("version", config.Version),
		slog.Int("port", cfg.Port),
		slog.Int("workers", cfg.Workers),
	)

	// --- Инициализация компонентов ---

	// 1. Миграции схемы PostgreSQL
	if err := database.Migrate(cfg, logger); err != nil {
		logger.Error("Ошибка применения миграций", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 2. Пул подключений к PostgreSQL
	ctx := context.Background()
	pool, err := database.Connect(ctx, cfg, logger)
	if err != nil {
		logger.Error("Ошибка подключения к PostgreSQL", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer pool.Close()

	// 3. Репозитории
	fileRepo := repository.NewFileRepository(pool)
	jobRepo := repository.NewJobRepository(pool)
	settingsRepo := repository.NewSettingsRepository(pool)
	txRunner := repository.NewTxRunner(pool)

	// 4. Файловое хранилище
	store, err := filestore.New(cfg.DataDir)
	if err != nil {
		logger.Error("Ошибка инициализации FileStore", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 5. Реестр конвертеров
	reg := registry.New()
	reg.Register(converter.NewImageConverter(), 10)
	reg.Register(converter.NewDatasetConverter(), 10)

	// ffmpeg опционален: без него изображения и датасеты работают,
	// аудио и видео недоступны.
	if ff, ffErr := converter.NewFFmpegConverter(cfg.FFmpegPath); ffErr != nil {
		logger.Warn("ffmpeg не найден, конвертация аудио и видео отключена",
			slog.String("error", ffErr.Error()),
		)
	} else {
		reg.Register(ff, 20)
		logger.Info("ffmpeg подключён", slog.String("path", ff.BinPath()))
	}

	// CLI drawio тоже опционален: без него недоступен экспорт диаграмм.
	if dw, dwErr := converter.NewDrawioConverter(cfg.DrawioPath); dwErr != nil {
		logger.Warn("drawio не найден, экспорт диаграмм отключён",
			slog.String("error", dwErr.Error()),
		)
	} else {
		reg.Register(dw, 20)
		logger.Info("drawio подключён", slog.String("path", dw.BinPath()))
	}

	// 6. Движок конвертации
	eng := engine.New(fileRepo, jobRepo, settingsRepo, txRunner, store, reg,
		cfg.Workers, cfg.ConvertTimeout, logger)
	eng.Start(ctx)

	// 7. Фоновая TTL-очистка
	cleanupSvc := service.NewCleanupService(fileRepo, settingsRepo, store,
		cfg.CleanupInterval, logger)
	cleanupSvc.Start(ctx)

	// 8. topologymetrics — мониторинг зависимостей
	sqlDB := stdlib.OpenDBFromPool(pool)
	dephealthSvc, dephealthErr := service.NewDephealthService(
		config.AppName,
		cfg.DephealthGroup,
		sqlDB,
		cfg.DatabaseDSN(),
		cfg.DephealthCheckInterval,
		logger,
	)
	if dephealthErr != nil {
		logger.Warn("topologymetrics недоступен, запуск без мониторинга зависимостей",
			slog.String("error", dephealthErr.Error()),
		)
	} else {
		if startErr := dephealthSvc.Start(ctx); startErr != nil {
			logger.Warn("Ошибка запуска topologymetrics",
				slog.String("error", startErr.Error()),
			)
		} else {
			logger.Info("topologymetrics запущен",
				slog.String("check_interval", cfg.DephealthCheckInterval.String()),
			)
		}
	}

	// 9. Handlers
	h := &server.Handlers{
		Files:       handlers.NewFilesHandler(fileRepo, store, reg, cfg.MaxFileSize, logger),
		Conversions: handlers.NewConversionsHandler(eng, jobRepo, fileRepo, store, logger),
		Settings:    handlers.NewSettingsHandler(settingsRepo, logger),
		Health:      handlers.NewHealthHandler(database.NewReadinessChecker(pool), store.DataDir()),
	}

	// 10. Создание и запуск HTTP-сервера
	srv := server.New(cfg, logger, h)

	if err := srv.Run(); err != nil {
		logger.Error("Ошибка сервера", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// --- Graceful shutdown фоновых процессов ---
	logger.Info("Остановка фоновых процессов...")

	eng.Stop()
	cleanupSvc.Stop()
	if dephealthErr == nil {
		dephealthSvc.Stop()
	}

	logger.Info("Transmute остановлен")
}
