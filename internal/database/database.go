// Пакет database — пул подключений PostgreSQL, миграции схемы
// draft_trails и проверка готовности бэкенда postgres.
//
// Миграции ведутся в собственной таблице trail_schema_migrations,
// поэтому база может быть общей с другими сервисами.
package database

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bigkaa/goartstore/trail-module/internal/config"
)

const (
	// ApplicationName — application_name подключений в pg_stat_activity.
	ApplicationName = "trail-module"
	// MigrationsTable — таблица версий схемы golang-migrate.
	MigrationsTable = "trail_schema_migrations"

	pingTimeout  = 5 * time.Second
	readyTimeout = 3 * time.Second
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Connect создаёт пул подключений и проверяет доступность сервера ping.
func Connect(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DatabaseDSN())
	if err != nil {
		return nil, fmt.Errorf("ошибка парсинга DSN: %w", err)
	}
	poolCfg.ConnConfig.RuntimeParams["application_name"] = ApplicationName

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("ошибка создания пула подключений: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("PostgreSQL %s:%d недоступен: %w", cfg.DBHost, cfg.DBPort, err)
	}

	logger.Info("Хранилище черновиков: PostgreSQL",
		slog.String("host", cfg.DBHost),
		slog.Int("port", cfg.DBPort),
		slog.String("database", cfg.DBName),
		slog.Int("max_conns", int(poolCfg.MaxConns)),
	)
	return pool, nil
}

// migrationURL — URL golang-migrate (драйвер pgx5) с таблицей версий сервиса.
func migrationURL(cfg *config.Config) (string, error) {
	u, err := url.Parse(cfg.DatabaseURL("pgx5"))
	if err != nil {
		return "", fmt.Errorf("некорректный URL базы: %w", err)
	}
	q := u.Query()
	q.Set("x-migrations-table", MigrationsTable)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Migrate приводит схему draft_trails к последней версии.
// Схема в состоянии dirty (прерванная миграция) — ошибка старта.
func Migrate(cfg *config.Config, logger *slog.Logger) error {
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("ошибка создания источника миграций: %w", err)
	}

	dbURL, err := migrationURL(cfg)
	if err != nil {
		return err
	}
	m, err := migrate.NewWithSourceInstance("iofs", source, dbURL)
	if err != nil {
		return fmt.Errorf("ошибка инициализации миграций: %w", err)
	}
	defer m.Close()

	before, dirty, err := m.Version()
	switch {
	case errors.Is(err, migrate.ErrNilVersion):
		before = 0
	case err != nil:
		return fmt.Errorf("ошибка чтения версии схемы: %w", err)
	case dirty:
		return fmt.Errorf("схема draft_trails в состоянии dirty (версия %d): нужна ручная правка %s", before, MigrationsTable)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("ошибка применения миграций: %w", err)
	}

	after, _, _ := m.Version()
	logger.Info("Схема draft_trails актуальна",
		slog.Uint64("from_version", uint64(before)),
		slog.Uint64("version", uint64(after)),
	)
	return nil
}

// ReadinessChecker — готовность бэкенда postgres: таблица draft_trails читается.
type ReadinessChecker struct {
	pool *pgxpool.Pool
}

// NewReadinessChecker создаёт проверку готовности PostgreSQL.
func NewReadinessChecker(pool *pgxpool.Pool) *ReadinessChecker {
	return &ReadinessChecker{pool: pool}
}

// CheckReady считает записи draft_trails (включая ещё не удалённые истёкшие).
func (c *ReadinessChecker) CheckReady() (status string, message string) {
	ctx, cancel := context.WithTimeout(context.Background(), readyTimeout)
	defer cancel()

	var n int64
	if err := c.pool.QueryRow(ctx, `SELECT count(*) FROM draft_trails`).Scan(&n); err != nil {
		return "fail", fmt.Sprintf("таблица draft_trails недоступна: %v", err)
	}
	return "ok", fmt.Sprintf("%d записей", n)
}
