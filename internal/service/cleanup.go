// cleanup.go — сервис фоновой очистки устаревших файлов.
//
// Каждый запуск читает cleanup_ttl_minutes из настроек и удаляет
// файлы старше TTL: записи из БД (задания уходят каскадом) и байты
// с диска. Запускается как горутина с периодическим тикером
// (TM_CLEANUP_INTERVAL).
package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/transmute/internal/repository"
	"github.com/bigkaa/transmute/internal/storage/filestore"
)

// Prometheus метрики очистки
var (
	// cleanupRunsTotal — количество запусков очистки.
	cleanupRunsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tm_cleanup_runs_total",
		Help: "Общее количество запусков фоновой очистки",
	})

	// cleanupFilesDeletedTotal — количество удалённых файлов.
	cleanupFilesDeletedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tm_cleanup_files_deleted_total",
		Help: "Общее количество файлов, удалённых очисткой",
	})

	// cleanupDurationSeconds — длительность выполнения очистки.
	cleanupDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "tm_cleanup_duration_seconds",
		Help:    "Длительность выполнения очистки в секундах",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
	})
)

// tmpMaxAge — возраст, после которого файл в tmp/ считается
// остатком прерванной записи.
const tmpMaxAge = time.Hour

// CleanupResult — результат одного запуска очистки.
type CleanupResult struct {
	// DeletedCount — количество удалённых файлов
	DeletedCount int
	// Errors — количество ошибок при удалении байтов с диска
	Errors int
	// Duration — длительность выполнения
	Duration time.Duration
}

// CleanupService — сервис фоновой очистки файлов по TTL.
type CleanupService struct {
	files    repository.FileRepository
	settings repository.SettingsRepository
	store    *filestore.FileStore
	interval time.Duration
	logger   *slog.Logger

	mu     sync.Mutex // защита от параллельного запуска RunOnce
	cancel context.CancelFunc
}

// NewCleanupService создаёт сервис очистки.
func NewCleanupService(
	files repository.FileRepository,
	settings repository.SettingsRepository,
	store *filestore.FileStore,
	interval time.Duration,
	logger *slog.Logger,
) *CleanupService {
	return &CleanupService{
		files:    files,
		settings: settings,
		store:    store,
		interval: interval,
		logger:   logger.With(slog.String("component", "cleanup")),
	}
}

// Start запускает фоновую горутину очистки с периодическим тикером.
// Вызывается один раз при старте приложения.
func (c *CleanupService) Start(ctx context.Context) {
	cctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	go c.run(cctx)

	c.logger.Info("очистка запущена",
		slog.String("interval", c.interval.String()),
	)
}

// Stop останавливает фоновый процесс очистки.
func (c *CleanupService) Stop() {
	if c.cancel != nil {
		c.cancel()
	}
	c.logger.Info("очистка остановлена")
}

// run — основной цикл фоновой горутины.
func (c *CleanupService) run(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.RunOnce(ctx)
		}
	}
}

// RunOnce выполняет один цикл очистки.
// Потокобезопасен: использует mutex для защиты от параллельного запуска.
//
// TTL читается из настроек при каждом запуске: изменение
// cleanup_ttl_minutes действует без перезапуска сервиса.
// Нулевой или отрицательный TTL отключает очистку.
func (c *CleanupService) RunOnce(ctx context.Context) *CleanupResult {
	c.mu.Lock()
	defer c.mu.Unlock()

	start := time.Now()
	result := &CleanupResult{}

	// Остатки прерванных записей в tmp/ убираются независимо от TTL
	if swept, err := c.store.SweepTmp(tmpMaxAge); err != nil {
		c.logger.Warn("очистка: ошибка уборки tmp",
			slog.String("error", err.Error()),
		)
	} else if swept > 0 {
		c.logger.Info("очистка: удалены прерванные временные файлы",
			slog.Int("count", swept),
		)
	}

	settings, err := c.settings.Get(ctx)
	if err != nil {
		c.logger.Error("очистка: ошибка чтения настроек",
			slog.String("error", err.Error()),
		)
		return result
	}
	if settings.CleanupTTLMinutes <= 0 {
		c.logger.Debug("очистка отключена (cleanup_ttl_minutes <= 0)")
		return result
	}

	cutoff := time.Now().UTC().Add(-time.Duration(settings.CleanupTTLMinutes) * time.Minute)

	paths, err := c.files.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		c.logger.Error("очистка: ошибка удаления записей",
			slog.String("error", err.Error()),
		)
		return result
	}

	for _, path := range paths {
		if err := c.store.Delete(path); err != nil {
			c.logger.Error("очистка: ошибка удаления байтов",
				slog.String("storage_path", path),
				slog.String("error", err.Error()),
			)
			result.Errors++
			continue
		}
		result.DeletedCount++
	}

	result.Duration = time.Since(start)

	cleanupRunsTotal.Inc()
	cleanupFilesDeletedTotal.Add(float64(result.DeletedCount))
	cleanupDurationSeconds.Observe(result.Duration.Seconds())

	if result.DeletedCount > 0 || result.Errors > 0 {
		c.logger.Info("очистка завершена",
			slog.Int("deleted", result.DeletedCount),
			slog.Int("errors", result.Errors),
			slog.Duration("duration", result.Duration),
		)
	}

	return result
}
