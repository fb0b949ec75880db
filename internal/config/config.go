// Пакет config — загрузка и валидация конфигурации Transmute
// из переменных окружения.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// AppName — имя приложения, отдаётся в /api/health/info.
const AppName = "transmute"

// Версия приложения, задаётся при сборке через -ldflags.
var Version = "dev"

// Config содержит все параметры конфигурации Transmute.
type Config struct {
	// Порт HTTP-сервера
	Port int
	// Корневая директория данных (uploads, outputs, tmp)
	DataDir string

	// Параметры подключения к PostgreSQL
	DBHost     string
	DBPort     int
	DBName     string
	DBUser     string
	DBPassword string
	DBSSLMode  string

	// Количество воркеров движка конвертации
	Workers int
	// Таймаут одной конвертации
	ConvertTimeout time.Duration
	// Максимальный размер загружаемого файла в байтах
	MaxFileSize int64
	// Интервал запуска TTL-очистки
	CleanupInterval time.Duration

	// Путь к бинарнику ffmpeg (пустой — искать в PATH)
	FFmpegPath string

	// Путь к CLI drawio (пустой — искать в PATH)
	DrawioPath string

	// Интервал проверки зависимостей topologymetrics
	DephealthCheckInterval time.Duration
	// Имя группы в метриках topologymetrics
	DephealthGroup string

	// Уровень логирования (debug, info, warn, error)
	LogLevel slog.Level
	// Формат логов (json, text)
	LogFormat string

	// Таймауты HTTP-сервера. Чтение и запись — с запасом
	// под загрузку и скачивание больших файлов.
	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration

	// Таймаут graceful shutdown HTTP-сервера
	ShutdownTimeout time.Duration
}

// Load загружает конфигурацию из переменных окружения, валидирует
// обязательные поля и возвращает Config или ошибку.
func Load() (*Config, error) {
	cfg := &Config{}

	// TM_PORT — порт HTTP-сервера (по умолчанию 3313)
	port, err := getEnvInt("TM_PORT", 3313)
	if err != nil {
		return nil, fmt.Errorf("TM_PORT: %w", err)
	}
	if port < 1 || port > 65535 {
		return nil, fmt.Errorf("TM_PORT: значение %d вне диапазона 1-65535", port)
	}
	cfg.Port = port

	// TM_DATA_DIR — корневая директория данных (по умолчанию ./data)
	cfg.DataDir = getEnvDefault("TM_DATA_DIR", "data")

	// TM_DB_HOST — обязательный
	cfg.DBHost, err = getEnvRequired("TM_DB_HOST")
	if err != nil {
		return nil, err
	}

	// TM_DB_PORT — порт PostgreSQL (по умолчанию 5432)
	cfg.DBPort, err = getEnvInt("TM_DB_PORT", 5432)
	if err != nil {
		return nil, fmt.Errorf("TM_DB_PORT: %w", err)
	}

	// TM_DB_NAME — обязательный
	cfg.DBName, err = getEnvRequired("TM_DB_NAME")
	if err != nil {
		return nil, err
	}

	// TM_DB_USER — обязательный
	cfg.DBUser, err = getEnvRequired("TM_DB_USER")
	if err != nil {
		return nil, err
	}

	// TM_DB_PASSWORD — обязательный
	cfg.DBPassword, err = getEnvRequired("TM_DB_PASSWORD")
	if err != nil {
		return nil, err
	}

	// TM_DB_SSL_MODE — режим SSL (по умолчанию disable)
	cfg.DBSSLMode = getEnvDefault("TM_DB_SSL_MODE", "disable")

	// TM_WORKERS — потолок одновременных конвертаций (по умолчанию 4)
	cfg.Workers, err = getEnvInt("TM_WORKERS", 4)
	if err != nil {
		return nil, fmt.Errorf("TM_WORKERS: %w", err)
	}
	if cfg.Workers < 1 {
		return nil, fmt.Errorf("TM_WORKERS: значение должно быть положительным, получено %d", cfg.Workers)
	}

	// TM_CONVERT_TIMEOUT — таймаут одной конвертации (по умолчанию 5m)
	cfg.ConvertTimeout, err = getEnvDuration("TM_CONVERT_TIMEOUT", 5*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("TM_CONVERT_TIMEOUT: %w", err)
	}

	// TM_MAX_FILE_SIZE — максимальный размер файла (по умолчанию 1 GB)
	maxFileSize, err := getEnvInt64("TM_MAX_FILE_SIZE", 1073741824)
	if err != nil {
		return nil, fmt.Errorf("TM_MAX_FILE_SIZE: %w", err)
	}
	if maxFileSize <= 0 {
		return nil, fmt.Errorf("TM_MAX_FILE_SIZE: значение должно быть положительным")
	}
	cfg.MaxFileSize = maxFileSize

	// TM_CLEANUP_INTERVAL — интервал TTL-очистки (по умолчанию 1m).
	// TTL самих файлов хранится в настройках приложения (cleanup_ttl_minutes).
	cfg.CleanupInterval, err = getEnvDuration("TM_CLEANUP_INTERVAL", time.Minute)
	if err != nil {
		return nil, fmt.Errorf("TM_CLEANUP_INTERVAL: %w", err)
	}

	// TM_FFMPEG_PATH — путь к ffmpeg (по умолчанию ищется в PATH)
	cfg.FFmpegPath = getEnvDefault("TM_FFMPEG_PATH", "")

	// TM_DRAWIO_PATH — путь к CLI drawio (по умолчанию ищется в PATH)
	cfg.DrawioPath = getEnvDefault("TM_DRAWIO_PATH", "")

	// TM_DEPHEALTH_CHECK_INTERVAL — интервал проверки зависимостей (по умолчанию 15s)
	cfg.DephealthCheckInterval, err = getEnvDuration("TM_DEPHEALTH_CHECK_INTERVAL", 15*time.Second)
	if err != nil {
		return nil, fmt.Errorf("TM_DEPHEALTH_CHECK_INTERVAL: %w", err)
	}

	// TM_DEPHEALTH_GROUP — имя группы в метриках topologymetrics
	cfg.DephealthGroup = getEnvDefault("TM_DEPHEALTH_GROUP", "transmute")

	// TM_LOG_LEVEL — уровень логирования (по умолчанию info)
	cfg.LogLevel, err = parseLogLevel(getEnvDefault("TM_LOG_LEVEL", "info"))
	if err != nil {
		return nil, fmt.Errorf("TM_LOG_LEVEL: %w", err)
	}

	// TM_LOG_FORMAT — формат логов (по умолчанию json)
	cfg.LogFormat = getEnvDefault("TM_LOG_FORMAT", "json")
	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return nil, fmt.Errorf("TM_LOG_FORMAT: недопустимое значение %q, допустимые: json, text", cfg.LogFormat)
	}

	// TM_HTTP_READ_TIMEOUT — таймаут чтения запроса (по умолчанию 10m)
	cfg.HTTPReadTimeout, err = getEnvDuration("TM_HTTP_READ_TIMEOUT", 10*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("TM_HTTP_READ_TIMEOUT: %w", err)
	}

	// TM_HTTP_WRITE_TIMEOUT — таймаут записи ответа (по умолчанию 10m)
	cfg.HTTPWriteTimeout, err = getEnvDuration("TM_HTTP_WRITE_TIMEOUT", 10*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("TM_HTTP_WRITE_TIMEOUT: %w", err)
	}

	// TM_HTTP_IDLE_TIMEOUT — таймаут idle-соединений (по умолчанию 2m)
	cfg.HTTPIdleTimeout, err = getEnvDuration("TM_HTTP_IDLE_TIMEOUT", 2*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("TM_HTTP_IDLE_TIMEOUT: %w", err)
	}

	// TM_SHUTDOWN_TIMEOUT — таймаут graceful shutdown (по умолчанию 10s)
	cfg.ShutdownTimeout, err = getEnvDuration("TM_SHUTDOWN_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("TM_SHUTDOWN_TIMEOUT: %w", err)
	}

	return cfg, nil
}

// DatabaseDSN возвращает строку подключения к PostgreSQL.
func (c *Config) DatabaseDSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.DBUser, c.DBPassword, c.DBHost, c.DBPort, c.DBName, c.DBSSLMode)
}

// SetupLogger настраивает глобальный slog-логгер на основе конфигурации.
func SetupLogger(cfg *Config) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}

	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// --- Вспомогательные функции ---

// getEnvRequired возвращает значение переменной окружения или ошибку, если она не задана.
func getEnvRequired(key string) (string, error) {
	val := os.Getenv(key)
	if val == "" {
		return "", fmt.Errorf("%s: обязательная переменная окружения не задана", key)
	}
	return val, nil
}

// getEnvDefault возвращает значение переменной окружения или значение по умолчанию.
func getEnvDefault(key, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val
}

// getEnvInt возвращает целочисленное значение переменной окружения или значение по умолчанию.
func getEnvInt(key string, defaultVal int) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("некорректное целое число: %q", val)
	}
	return n, nil
}

// getEnvInt64 возвращает int64 значение переменной окружения или значение по умолчанию.
func getEnvInt64(key string, defaultVal int64) (int64, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("некорректное целое число: %q", val)
	}
	return n, nil
}

// getEnvDuration возвращает time.Duration из переменной окружения или значение по умолчанию.
func getEnvDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("некорректная длительность: %q (используйте формат Go: 30s, 5m, 1h)", val)
	}
	return d, nil
}

// parseLogLevel преобразует строку уровня логирования в slog.Level.
func parseLogLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("недопустимый уровень %q, допустимые: debug, info, warn, error", level)
	}
}
