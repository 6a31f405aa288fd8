// Пакет config — загрузка и валидация конфигурации Trail Module
// из переменных окружения.
package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/bigkaa/goartstore/trail-module/internal/domain/lifecycle"
)

// Версия приложения, задаётся при сборке через -ldflags.
var Version = "dev"

// Бэкенды хранилища черновиков.
const (
	BackendFile     = "file"
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
)

// Режимы проверки внешних токенов.
const (
	ExternalModeJWKS  = "jwks"
	ExternalModeHMAC  = "hmac"
	ExternalModeTrust = "trust"
)

// Config содержит все параметры конфигурации Trail Module.
type Config struct {
	// --- Сервер ---

	// Порт HTTP-сервера (по умолчанию 8040)
	Port int
	// Уровень логирования (debug, info, warn, error)
	LogLevel slog.Level
	// Формат логов (json, text)
	LogFormat string

	// --- HTTP Server Timeouts ---

	// Таймаут чтения HTTP-сервера (по умолчанию 30s)
	HTTPReadTimeout time.Duration
	// Таймаут записи HTTP-сервера (по умолчанию 60s)
	HTTPWriteTimeout time.Duration
	// Таймаут простоя HTTP-сервера (по умолчанию 120s)
	HTTPIdleTimeout time.Duration
	// Дедлайн обработки одного запроса (по умолчанию 10s)
	RequestTimeout time.Duration

	// --- Graceful shutdown ---

	// Таймаут graceful shutdown (по умолчанию 5s)
	ShutdownTimeout time.Duration

	// --- Самоподписанные токены ---

	// Секрет HMAC-SHA256 (обязательный, без значения по умолчанию)
	TokenSecret string
	// Максимальный возраст самоподписанного токена (0 = без ограничения)
	SelfTokenMaxAge time.Duration

	// --- Черновики ---

	// Время жизни черновика (по умолчанию 168h)
	DraftTTL time.Duration
	// Режим проверки переходов статусов (strict, freeform)
	StatusMode lifecycle.Mode

	// --- Хранилище ---

	// Бэкенд хранилища (file, memory, postgres)
	StoreBackend string
	// Путь к файлу коллекции для бэкенда file
	DataFile string

	// --- PostgreSQL (только для бэкенда postgres) ---

	DBHost     string
	DBPort     int
	DBName     string
	DBUser     string
	DBPassword string
	DBSSLMode  string

	// --- Внешние токены ---

	// Режим проверки подписи (jwks, hmac, trust)
	ExternalTokenMode string
	// Общий секрет HS256 для режима hmac
	ExternalHMACSecret string
	// URL JWKS endpoint для режима jwks
	JWKSURL string
	// Таймаут HTTP-клиента JWKS (по умолчанию 30s)
	JWKSClientTimeout time.Duration
	// Интервал обновления JWKS (по умолчанию 15s)
	JWKSRefreshInterval time.Duration
	// Допустимое расхождение часов для exp/nbf (по умолчанию 5s)
	JWTLeeway time.Duration

	// --- Кэш ---

	// Размер LRU-кэша черновиков (0 = кэш отключён)
	CacheSize int
	// TTL записи кэша (по умолчанию 30s)
	CacheTTL time.Duration

	// --- Фоновые задачи ---

	// Интервал фоновой очистки истёкших черновиков (0 = отключена)
	SweepInterval time.Duration

	// --- Отладка ---

	// Включает GET /api/v1/debug/drafts
	DebugRoutes bool

	// --- Мониторинг зависимостей ---

	// Группа в метриках topologymetrics
	DephealthGroup string
	// Интервал проверки зависимостей (по умолчанию 15s)
	DephealthCheckInterval time.Duration
	// Лейбл isentry=yes для всех зависимостей
	DephealthIsEntry bool
}

// Load загружает конфигурацию из переменных окружения.
// Возвращает ошибку, если обязательные переменные не заданы
// или значения некорректны.
func Load() (*Config, error) {
	cfg := &Config{}
	var err error

	// --- Сервер ---

	// TM_PORT — порт HTTP-сервера (по умолчанию 8040)
	cfg.Port, err = getEnvInt("TM_PORT", 8040)
	if err != nil {
		return nil, fmt.Errorf("TM_PORT: %w", err)
	}
	if cfg.Port < 1 || cfg.Port > 65535 {
		return nil, fmt.Errorf("TM_PORT: порт %d вне диапазона 1-65535", cfg.Port)
	}

	// TM_LOG_LEVEL — уровень логирования (по умолчанию info)
	cfg.LogLevel, err = parseLogLevel(getEnvDefault("TM_LOG_LEVEL", "info"))
	if err != nil {
		return nil, fmt.Errorf("TM_LOG_LEVEL: %w", err)
	}

	// TM_LOG_FORMAT — формат логов (по умолчанию json)
	cfg.LogFormat = getEnvDefault("TM_LOG_FORMAT", "json")
	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return nil, fmt.Errorf("TM_LOG_FORMAT: недопустимый формат %q, допустимые: json, text", cfg.LogFormat)
	}

	// --- HTTP Server Timeouts ---

	cfg.HTTPReadTimeout, err = getEnvDuration("TM_HTTP_READ_TIMEOUT", 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("TM_HTTP_READ_TIMEOUT: %w", err)
	}

	cfg.HTTPWriteTimeout, err = getEnvDuration("TM_HTTP_WRITE_TIMEOUT", 60*time.Second)
	if err != nil {
		return nil, fmt.Errorf("TM_HTTP_WRITE_TIMEOUT: %w", err)
	}

	cfg.HTTPIdleTimeout, err = getEnvDuration("TM_HTTP_IDLE_TIMEOUT", 120*time.Second)
	if err != nil {
		return nil, fmt.Errorf("TM_HTTP_IDLE_TIMEOUT: %w", err)
	}

	// TM_REQUEST_TIMEOUT — дедлайн запроса, передаётся в хранилище через context
	cfg.RequestTimeout, err = getEnvPositiveDuration("TM_REQUEST_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("TM_REQUEST_TIMEOUT: %w", err)
	}

	cfg.ShutdownTimeout, err = getEnvDuration("TM_SHUTDOWN_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("TM_SHUTDOWN_TIMEOUT: %w", err)
	}

	// --- Самоподписанные токены ---

	// TM_TOKEN_SECRET — обязательный. Значения по умолчанию нет:
	// без секрета сервис не стартует.
	cfg.TokenSecret, err = getEnvRequired("TM_TOKEN_SECRET")
	if err != nil {
		return nil, err
	}

	cfg.SelfTokenMaxAge, err = getEnvDuration("TM_SELF_TOKEN_MAX_AGE", 0)
	if err != nil {
		return nil, fmt.Errorf("TM_SELF_TOKEN_MAX_AGE: %w", err)
	}
	if cfg.SelfTokenMaxAge < 0 {
		return nil, fmt.Errorf("TM_SELF_TOKEN_MAX_AGE: значение должно быть >= 0")
	}

	// --- Черновики ---

	cfg.DraftTTL, err = getEnvPositiveDuration("TM_DRAFT_TTL", 168*time.Hour)
	if err != nil {
		return nil, fmt.Errorf("TM_DRAFT_TTL: %w", err)
	}

	cfg.StatusMode, err = lifecycle.ParseMode(getEnvDefault("TM_STATUS_MODE", string(lifecycle.ModeStrict)))
	if err != nil {
		return nil, fmt.Errorf("TM_STATUS_MODE: %w", err)
	}

	// --- Хранилище ---

	cfg.StoreBackend = strings.ToLower(getEnvDefault("TM_STORE_BACKEND", BackendFile))
	switch cfg.StoreBackend {
	case BackendFile:
		cfg.DataFile = getEnvDefault("TM_DATA_FILE", "./data/trails.json")
	case BackendMemory:
	case BackendPostgres:
		if err := loadDatabase(cfg); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("TM_STORE_BACKEND: недопустимое значение %q, допустимые: file, memory, postgres", cfg.StoreBackend)
	}

	// --- Внешние токены ---

	if err := loadExternalToken(cfg); err != nil {
		return nil, err
	}

	// --- Кэш ---

	cfg.CacheSize, err = getEnvInt("TM_CACHE_SIZE", 1024)
	if err != nil {
		return nil, fmt.Errorf("TM_CACHE_SIZE: %w", err)
	}
	if cfg.CacheSize < 0 {
		return nil, fmt.Errorf("TM_CACHE_SIZE: значение должно быть >= 0")
	}

	cfg.CacheTTL, err = getEnvDuration("TM_CACHE_TTL", 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("TM_CACHE_TTL: %w", err)
	}

	// --- Фоновые задачи ---

	cfg.SweepInterval, err = getEnvDuration("TM_SWEEP_INTERVAL", 0)
	if err != nil {
		return nil, fmt.Errorf("TM_SWEEP_INTERVAL: %w", err)
	}
	if cfg.SweepInterval < 0 {
		return nil, fmt.Errorf("TM_SWEEP_INTERVAL: значение должно быть >= 0")
	}

	cfg.DebugRoutes, err = getEnvBool("TM_DEBUG_ROUTES", false)
	if err != nil {
		return nil, fmt.Errorf("TM_DEBUG_ROUTES: %w", err)
	}

	// --- Мониторинг зависимостей ---

	cfg.DephealthGroup = getEnvDefault("TM_DEPHEALTH_GROUP", "artstore")

	cfg.DephealthCheckInterval, err = getEnvPositiveDuration("TM_DEPHEALTH_CHECK_INTERVAL", 15*time.Second)
	if err != nil {
		return nil, fmt.Errorf("TM_DEPHEALTH_CHECK_INTERVAL: %w", err)
	}

	cfg.DephealthIsEntry, err = getEnvBool("DEPHEALTH_ISENTRY", false)
	if err != nil {
		return nil, fmt.Errorf("DEPHEALTH_ISENTRY: %w", err)
	}

	return cfg, nil
}

// loadDatabase читает параметры PostgreSQL.
func loadDatabase(cfg *Config) error {
	var err error

	if cfg.DBHost, err = getEnvRequired("TM_DB_HOST"); err != nil {
		return err
	}
	if cfg.DBPort, err = getEnvInt("TM_DB_PORT", 5432); err != nil {
		return fmt.Errorf("TM_DB_PORT: %w", err)
	}
	if cfg.DBName, err = getEnvRequired("TM_DB_NAME"); err != nil {
		return err
	}
	if cfg.DBUser, err = getEnvRequired("TM_DB_USER"); err != nil {
		return err
	}
	if cfg.DBPassword, err = getEnvRequired("TM_DB_PASSWORD"); err != nil {
		return err
	}

	cfg.DBSSLMode = getEnvDefault("TM_DB_SSL_MODE", "disable")
	validSSLModes := map[string]bool{
		"disable": true, "require": true, "verify-ca": true, "verify-full": true,
	}
	if !validSSLModes[cfg.DBSSLMode] {
		return fmt.Errorf("TM_DB_SSL_MODE: недопустимое значение %q, допустимые: disable, require, verify-ca, verify-full", cfg.DBSSLMode)
	}
	return nil
}

// loadExternalToken читает параметры проверки внешних токенов.
func loadExternalToken(cfg *Config) error {
	var err error

	cfg.ExternalTokenMode = strings.ToLower(getEnvDefault("TM_EXTERNAL_TOKEN_MODE", ExternalModeJWKS))
	switch cfg.ExternalTokenMode {
	case ExternalModeJWKS:
		if cfg.JWKSURL, err = getEnvRequired("TM_JWKS_URL"); err != nil {
			return err
		}
		if _, err := url.ParseRequestURI(cfg.JWKSURL); err != nil {
			return fmt.Errorf("TM_JWKS_URL: некорректный URL %q", cfg.JWKSURL)
		}
	case ExternalModeHMAC:
		if cfg.ExternalHMACSecret, err = getEnvRequired("TM_EXTERNAL_HMAC_SECRET"); err != nil {
			return err
		}
	case ExternalModeTrust:
	default:
		return fmt.Errorf("TM_EXTERNAL_TOKEN_MODE: недопустимое значение %q, допустимые: jwks, hmac, trust", cfg.ExternalTokenMode)
	}

	if cfg.JWKSClientTimeout, err = getEnvPositiveDuration("TM_JWKS_CLIENT_TIMEOUT", 30*time.Second); err != nil {
		return fmt.Errorf("TM_JWKS_CLIENT_TIMEOUT: %w", err)
	}
	if cfg.JWKSRefreshInterval, err = getEnvPositiveDuration("TM_JWKS_REFRESH_INTERVAL", 15*time.Second); err != nil {
		return fmt.Errorf("TM_JWKS_REFRESH_INTERVAL: %w", err)
	}
	if cfg.JWTLeeway, err = getEnvDuration("TM_JWT_LEEWAY", 5*time.Second); err != nil {
		return fmt.Errorf("TM_JWT_LEEWAY: %w", err)
	}
	return nil
}

// DatabaseDSN возвращает строку подключения к PostgreSQL.
func (c *Config) DatabaseDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
		c.DBHost, c.DBPort, c.DBName, c.DBUser, c.DBPassword, c.DBSSLMode,
	)
}

// DatabaseURL возвращает URL подключения (pgx5:// для golang-migrate,
// postgres:// для лейблов topologymetrics).
func (c *Config) DatabaseURL(scheme string) string {
	u := url.URL{
		Scheme:   scheme,
		User:     url.UserPassword(c.DBUser, c.DBPassword),
		Host:     fmt.Sprintf("%s:%d", c.DBHost, c.DBPort),
		Path:     "/" + c.DBName,
		RawQuery: "sslmode=" + c.DBSSLMode,
	}
	return u.String()
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

// getEnvDuration возвращает time.Duration из переменной окружения или значение по умолчанию.
func getEnvDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("некорректная длительность: %q (используйте формат Go: 30s, 1h, 15m)", val)
	}
	return d, nil
}

// getEnvPositiveDuration — как getEnvDuration, но значение должно быть > 0.
func getEnvPositiveDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	d, err := getEnvDuration(key, defaultVal)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return 0, fmt.Errorf("значение должно быть > 0")
	}
	return d, nil
}

// getEnvBool возвращает булево значение переменной окружения или значение по умолчанию.
func getEnvBool(key string, defaultVal bool) (bool, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return false, fmt.Errorf("некорректное булево значение: %q (допустимые: true, false, 1, 0)", val)
	}
	return b, nil
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
