// Пакет config — загрузка и валидация конфигурации сервиса dms-submission
// из переменных окружения.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"
)

// Версия приложения, задаётся при сборке через -ldflags.
var Version = "dev"

// Config содержит все параметры конфигурации сервиса.
type Config struct {
	// Порт HTTP-сервера
	Port int
	// Уровень логирования (debug, info, warn, error)
	LogLevel slog.Level
	// Формат логов (json, text)
	LogFormat string

	// PostgreSQL
	DBHost     string
	DBPort     int
	DBName     string
	DBUser     string
	DBPassword string
	DBSSLMode  string

	// Object store (S3-совместимый)
	S3Endpoint  string
	S3AccessKey string
	S3SecretKey string
	S3Bucket    string
	S3UseSSL    bool

	// Максимальный размер принимаемого PDF в байтах
	MaxFileSize int64
	// Разрешить callback URL на localhost (для локальной разработки)
	AllowLocalhostCallbacks bool

	// TTL lease на заявку: по истечении другой воркер может перехватить lock
	LockTTL time.Duration
	// Задержка первого тика всех воркеров после старта
	WorkerInitialDelay time.Duration
	// Интервал SDES-воркера (Submitted → Forwarded)
	SdesWorkerInterval time.Duration
	// Интервал callback-воркера (Processed/Failed → Completed)
	ProcessedWorkerInterval time.Duration
	// Интервал failure-воркера (→ CallbackFailed)
	FailedWorkerInterval time.Duration
	// Максимум неудачных попыток callback до перевода в CallbackFailed
	CallbackMaxFailures int

	// SDES
	SdesURL               string
	SdesClientID          string
	SdesInformationType   string
	SdesRecipientOrSender string
	// Префикс location объекта в уведомлении SDES
	SdesLocationPrefix string
	SdesTimeout        time.Duration

	// Таймаут одного callback-запроса клиенту
	CallbackTimeout time.Duration

	// Статический токен для входящего endpoint /sdes-callback
	InternalAuthToken string

	// URL JWKS endpoint для проверки клиентских токенов
	JWKSUrl string
	// Путь к CA-сертификату для TLS JWKS endpoint (опционально)
	JWKSCACert string
	// Таймаут HTTP-клиента JWKS
	JWKSClientTimeout time.Duration
	// Интервал обновления JWKS-ключей
	JWKSRefreshInterval time.Duration
	// Допустимое отклонение времени при проверке JWT
	JWTLeeway time.Duration

	// Таймаут graceful shutdown HTTP-сервера и воркеров
	ShutdownTimeout time.Duration

	// Интервал проверки зависимостей topologymetrics
	DephealthCheckInterval time.Duration
	// Имя группы в метриках topologymetrics
	DephealthGroup string
}

// Load загружает конфигурацию из переменных окружения, валидирует
// обязательные поля и возвращает Config или ошибку.
func Load() (*Config, error) {
	cfg := &Config{}

	// DMS_PORT — порт HTTP-сервера (по умолчанию 8080)
	port, err := getEnvInt("DMS_PORT", 8080)
	if err != nil {
		return nil, fmt.Errorf("DMS_PORT: %w", err)
	}
	if port <= 0 || port > 65535 {
		return nil, fmt.Errorf("DMS_PORT: значение %d вне допустимого диапазона", port)
	}
	cfg.Port = port

	// --- PostgreSQL ---
	cfg.DBHost, err = getEnvRequired("DMS_DB_HOST")
	if err != nil {
		return nil, err
	}
	cfg.DBPort, err = getEnvInt("DMS_DB_PORT", 5432)
	if err != nil {
		return nil, fmt.Errorf("DMS_DB_PORT: %w", err)
	}
	cfg.DBName, err = getEnvRequired("DMS_DB_NAME")
	if err != nil {
		return nil, err
	}
	cfg.DBUser, err = getEnvRequired("DMS_DB_USER")
	if err != nil {
		return nil, err
	}
	cfg.DBPassword, err = getEnvRequired("DMS_DB_PASSWORD")
	if err != nil {
		return nil, err
	}
	cfg.DBSSLMode = getEnvDefault("DMS_DB_SSL_MODE", "disable")

	// --- Object store ---
	cfg.S3Endpoint, err = getEnvRequired("DMS_S3_ENDPOINT")
	if err != nil {
		return nil, err
	}
	cfg.S3AccessKey, err = getEnvRequired("DMS_S3_ACCESS_KEY")
	if err != nil {
		return nil, err
	}
	cfg.S3SecretKey, err = getEnvRequired("DMS_S3_SECRET_KEY")
	if err != nil {
		return nil, err
	}
	cfg.S3Bucket, err = getEnvRequired("DMS_S3_BUCKET")
	if err != nil {
		return nil, err
	}
	cfg.S3UseSSL, err = getEnvBool("DMS_S3_USE_SSL", false)
	if err != nil {
		return nil, fmt.Errorf("DMS_S3_USE_SSL: %w", err)
	}

	// DMS_MAX_FILE_SIZE — максимальный размер PDF (по умолчанию 100 MB)
	cfg.MaxFileSize, err = getEnvInt64("DMS_MAX_FILE_SIZE", 104857600)
	if err != nil {
		return nil, fmt.Errorf("DMS_MAX_FILE_SIZE: %w", err)
	}
	if cfg.MaxFileSize <= 0 {
		return nil, fmt.Errorf("DMS_MAX_FILE_SIZE: значение должно быть положительным")
	}

	cfg.AllowLocalhostCallbacks, err = getEnvBool("DMS_ALLOW_LOCALHOST_CALLBACKS", false)
	if err != nil {
		return nil, fmt.Errorf("DMS_ALLOW_LOCALHOST_CALLBACKS: %w", err)
	}

	// --- Воркеры ---
	cfg.LockTTL, err = getEnvDuration("DMS_LOCK_TTL", 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("DMS_LOCK_TTL: %w", err)
	}
	if cfg.LockTTL <= 0 {
		return nil, fmt.Errorf("DMS_LOCK_TTL: значение должно быть положительным")
	}
	cfg.WorkerInitialDelay, err = getEnvDuration("DMS_WORKER_INITIAL_DELAY", time.Minute)
	if err != nil {
		return nil, fmt.Errorf("DMS_WORKER_INITIAL_DELAY: %w", err)
	}
	cfg.SdesWorkerInterval, err = getEnvDuration("DMS_SDES_WORKER_INTERVAL", 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("DMS_SDES_WORKER_INTERVAL: %w", err)
	}
	cfg.ProcessedWorkerInterval, err = getEnvDuration("DMS_PROCESSED_WORKER_INTERVAL", 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("DMS_PROCESSED_WORKER_INTERVAL: %w", err)
	}
	cfg.FailedWorkerInterval, err = getEnvDuration("DMS_FAILED_WORKER_INTERVAL", time.Minute)
	if err != nil {
		return nil, fmt.Errorf("DMS_FAILED_WORKER_INTERVAL: %w", err)
	}
	cfg.CallbackMaxFailures, err = getEnvInt("DMS_CALLBACK_MAX_FAILURES", 10)
	if err != nil {
		return nil, fmt.Errorf("DMS_CALLBACK_MAX_FAILURES: %w", err)
	}
	if cfg.CallbackMaxFailures <= 0 {
		return nil, fmt.Errorf("DMS_CALLBACK_MAX_FAILURES: значение должно быть положительным")
	}

	// --- SDES ---
	cfg.SdesURL, err = getEnvRequired("DMS_SDES_URL")
	if err != nil {
		return nil, err
	}
	cfg.SdesClientID = getEnvDefault("DMS_SDES_CLIENT_ID", "")
	cfg.SdesInformationType, err = getEnvRequired("DMS_SDES_INFORMATION_TYPE")
	if err != nil {
		return nil, err
	}
	cfg.SdesRecipientOrSender, err = getEnvRequired("DMS_SDES_RECIPIENT_OR_SENDER")
	if err != nil {
		return nil, err
	}
	cfg.SdesLocationPrefix = getEnvDefault("DMS_SDES_LOCATION_PREFIX", "")
	cfg.SdesTimeout, err = getEnvDuration("DMS_SDES_TIMEOUT", 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("DMS_SDES_TIMEOUT: %w", err)
	}

	cfg.CallbackTimeout, err = getEnvDuration("DMS_CALLBACK_TIMEOUT", 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("DMS_CALLBACK_TIMEOUT: %w", err)
	}

	cfg.InternalAuthToken, err = getEnvRequired("DMS_INTERNAL_AUTH_TOKEN")
	if err != nil {
		return nil, err
	}

	// --- JWKS ---
	cfg.JWKSUrl, err = getEnvRequired("DMS_JWKS_URL")
	if err != nil {
		return nil, err
	}
	cfg.JWKSCACert = getEnvDefault("DMS_JWKS_CA_CERT", "")
	cfg.JWKSClientTimeout, err = getEnvDuration("DMS_JWKS_CLIENT_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("DMS_JWKS_CLIENT_TIMEOUT: %w", err)
	}
	cfg.JWKSRefreshInterval, err = getEnvDuration("DMS_JWKS_REFRESH_INTERVAL", time.Hour)
	if err != nil {
		return nil, fmt.Errorf("DMS_JWKS_REFRESH_INTERVAL: %w", err)
	}
	cfg.JWTLeeway, err = getEnvDuration("DMS_JWT_LEEWAY", 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("DMS_JWT_LEEWAY: %w", err)
	}

	cfg.ShutdownTimeout, err = getEnvDuration("DMS_SHUTDOWN_TIMEOUT", 25*time.Second)
	if err != nil {
		return nil, fmt.Errorf("DMS_SHUTDOWN_TIMEOUT: %w", err)
	}

	cfg.DephealthCheckInterval, err = getEnvDuration("DMS_DEPHEALTH_CHECK_INTERVAL", 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("DMS_DEPHEALTH_CHECK_INTERVAL: %w", err)
	}
	cfg.DephealthGroup = getEnvDefault("DMS_DEPHEALTH_GROUP", "dms")

	// DMS_LOG_LEVEL — уровень логирования (по умолчанию info)
	levelStr := getEnvDefault("DMS_LOG_LEVEL", "info")
	level, err := parseLogLevel(levelStr)
	if err != nil {
		return nil, fmt.Errorf("DMS_LOG_LEVEL: %w", err)
	}
	cfg.LogLevel = level

	// DMS_LOG_FORMAT — формат логов (по умолчанию json)
	cfg.LogFormat = getEnvDefault("DMS_LOG_FORMAT", "json")
	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return nil, fmt.Errorf("DMS_LOG_FORMAT: недопустимое значение %q, допустимые: json, text", cfg.LogFormat)
	}

	return cfg, nil
}

// DatabaseDSN возвращает строку подключения к PostgreSQL.
func (c *Config) DatabaseDSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.DBUser, c.DBPassword, c.DBHost, c.DBPort, c.DBName, c.DBSSLMode,
	)
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

// parseLogLevel преобразует строку в slog.Level.
func parseLogLevel(s string) (slog.Level, error) {
	switch s {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("недопустимый уровень %q, допустимые: debug, info, warn, error", s)
	}
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

// getEnvBool возвращает булево значение переменной окружения или значение по умолчанию.
func getEnvBool(key string, defaultVal bool) (bool, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return false, fmt.Errorf("некорректное булево значение: %q", val)
	}
	return b, nil
}

// getEnvDuration возвращает time.Duration из переменной окружения или значение по умолчанию.
func getEnvDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("некорректная длительность: %q (используйте формат Go: 30s, 1m, 1h)", val)
	}
	return d, nil
}
