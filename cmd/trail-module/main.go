// main.go — точка входа Trail Module.
//
// Порядок запуска: .env (если есть) → конфигурация → логгер →
// проверка внешних токенов → хранилище (file | memory | postgres) →
// мониторинг зависимостей → сервис черновиков → фоновая очистка →
// HTTP-сервер с graceful shutdown.
package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"

	"github.com/bigkaa/goartstore/trail-module/internal/api/handlers"
	"github.com/bigkaa/goartstore/trail-module/internal/api/openapi"
	"github.com/bigkaa/goartstore/trail-module/internal/authz"
	"github.com/bigkaa/goartstore/trail-module/internal/config"
	"github.com/bigkaa/goartstore/trail-module/internal/database"
	"github.com/bigkaa/goartstore/trail-module/internal/domain/lifecycle"
	"github.com/bigkaa/goartstore/trail-module/internal/domain/ttl"
	"github.com/bigkaa/goartstore/trail-module/internal/repository"
	"github.com/bigkaa/goartstore/trail-module/internal/server"
	"github.com/bigkaa/goartstore/trail-module/internal/service"
	"github.com/bigkaa/goartstore/trail-module/internal/storage/filestore"
	"github.com/bigkaa/goartstore/trail-module/internal/storage/memstore"
	"github.com/bigkaa/goartstore/trail-module/internal/token"
)

func main() {
	// 0. Локальный .env — необязателен, переменные окружения имеют приоритет
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Printf("Ошибка чтения .env: %v", err)
	}

	// 1. Загрузка конфигурации из переменных окружения
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Ошибка загрузки конфигурации: %v", err)
	}

	// 2. Настройка логгера
	logger := config.SetupLogger(cfg)
	logger.Info("Trail Module запускается",
		slog.String("version", config.Version),
		slog.Int("port", cfg.Port),
		slog.String("store_backend", cfg.StoreBackend),
		slog.String("external_token_mode", cfg.ExternalTokenMode),
		slog.String("status_mode", string(cfg.StatusMode)),
	)

	if err := run(cfg, logger); err != nil {
		logger.Error("Ошибка сервера", slog.String("error", err.Error()))
		log.Fatalf("Сервер завершился с ошибкой: %v", err)
	}

	logger.Info("Trail Module остановлен")
}

// run собирает зависимости и блокируется до завершения HTTP-сервера.
func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	clock := ttl.SystemClock{}

	// 3. Проверка подписи внешних токенов
	verifier, err := newVerifier(ctx, cfg, logger)
	if err != nil {
		return err
	}
	tokens, err := token.New(token.Options{
		Secret:          cfg.TokenSecret,
		SelfTokenMaxAge: cfg.SelfTokenMaxAge,
		Verifier:        verifier,
		Leeway:          cfg.JWTLeeway,
		Clock:           clock,
	})
	if err != nil {
		return fmt.Errorf("сервис токенов: %w", err)
	}

	// 4. Хранилище черновиков
	repo, checker, pool, err := openStore(ctx, cfg, clock, logger)
	if err != nil {
		return err
	}
	if pool != nil {
		defer pool.Close()
	}

	// 5. Мониторинг зависимостей (PostgreSQL и/или JWKS)
	if dh, err := newDephealth(cfg, pool, logger); err != nil {
		logger.Warn("Мониторинг зависимостей не запущен", slog.String("error", err.Error()))
	} else if dh != nil {
		if err := dh.Start(ctx); err != nil {
			logger.Warn("Ошибка запуска мониторинга зависимостей", slog.String("error", err.Error()))
		} else {
			defer dh.Stop()
		}
	}

	// 6. Сервис черновиков
	machine, err := lifecycle.NewMachine(cfg.StatusMode)
	if err != nil {
		return err
	}
	policy, err := ttl.NewPolicy(cfg.DraftTTL)
	if err != nil {
		return err
	}
	cache := service.NewCacheService(cfg.CacheSize, cfg.CacheTTL)
	drafts := service.NewDraftService(repo, machine, policy, clock, tokens, cache, logger)

	// 7. Фоновая очистка истёкших черновиков
	sweeper := service.NewSweeper(repo, cfg.SweepInterval, logger)
	sweeper.Start(ctx)
	defer sweeper.Stop()

	// 8. OpenAPI контракт (валидируется при старте)
	contract, err := openapi.JSON(ctx)
	if err != nil {
		return err
	}

	// 9. HTTP
	health := handlers.NewHealthHandler(handlers.NamedChecker{Name: "store", Checker: checker})
	router := server.NewRouter(server.RouterConfig{
		Handler:        handlers.NewAPIHandler(drafts, health, contract, logger),
		Gate:           authz.NewGate(tokens, logger),
		Logger:         logger,
		RequestTimeout: cfg.RequestTimeout,
		DebugRoutes:    cfg.DebugRoutes,
	})

	return server.New(cfg, logger, router).Run(ctx)
}

// newVerifier выбирает проверку подписи внешних токенов по TM_EXTERNAL_TOKEN_MODE.
func newVerifier(ctx context.Context, cfg *config.Config, logger *slog.Logger) (token.Verifier, error) {
	switch cfg.ExternalTokenMode {
	case config.ExternalModeJWKS:
		v, err := token.NewJWKSVerifier(ctx, token.JWKSConfig{
			URL:             cfg.JWKSURL,
			ClientTimeout:   cfg.JWKSClientTimeout,
			RefreshInterval: cfg.JWKSRefreshInterval,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("JWKS: %w", err)
		}
		return v, nil
	case config.ExternalModeHMAC:
		v, err := token.NewHMACVerifier(cfg.ExternalHMACSecret)
		if err != nil {
			return nil, err
		}
		logger.Info("Проверка внешних токенов по общему секрету HS256")
		return v, nil
	case config.ExternalModeTrust:
		return token.NewTrustVerifier(logger), nil
	default:
		return nil, fmt.Errorf("неизвестный режим внешних токенов: %q", cfg.ExternalTokenMode)
	}
}

// openStore открывает хранилище по TM_STORE_BACKEND.
// Для postgres применяет миграции и возвращает пул (закрывает вызывающий).
func openStore(
	ctx context.Context,
	cfg *config.Config,
	clock ttl.Clock,
	logger *slog.Logger,
) (repository.DraftRepository, handlers.ReadinessChecker, *pgxpool.Pool, error) {
	switch cfg.StoreBackend {
	case config.BackendFile:
		store, err := filestore.Open(cfg.DataFile, clock, logger)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("файловое хранилище: %w", err)
		}
		return store, filestore.NewReadinessChecker(store), nil, nil

	case config.BackendMemory:
		store := memstore.New(clock, logger)
		logger.Warn("Используется in-memory хранилище: черновики не переживут рестарт")
		return store, memstore.NewReadinessChecker(store), nil, nil

	case config.BackendPostgres:
		if err := database.Migrate(cfg, logger); err != nil {
			return nil, nil, nil, fmt.Errorf("миграции: %w", err)
		}
		pool, err := database.Connect(ctx, cfg, logger)
		if err != nil {
			return nil, nil, nil, err
		}
		repo := repository.NewPostgresDraftRepository(pool, clock)
		return repo, database.NewReadinessChecker(pool), pool, nil

	default:
		return nil, nil, nil, fmt.Errorf("неизвестный бэкенд хранилища: %q", cfg.StoreBackend)
	}
}

// newDephealth создаёт мониторинг зависимостей. Возвращает nil,
// если мониторить нечего (файловое хранилище без JWKS).
func newDephealth(cfg *config.Config, pool *pgxpool.Pool, logger *slog.Logger) (*service.DephealthService, error) {
	dcfg := service.DephealthConfig{
		ServiceID:     "trail-module",
		Group:         cfg.DephealthGroup,
		CheckInterval: cfg.DephealthCheckInterval,
		IsEntry:       cfg.DephealthIsEntry,
	}
	if pool != nil {
		dcfg.DB = stdlib.OpenDBFromPool(pool)
		dcfg.PgConnURL = cfg.DatabaseURL("postgres")
	}
	if cfg.ExternalTokenMode == config.ExternalModeJWKS {
		dcfg.JWKSURL = cfg.JWKSURL
	}
	if dcfg.DB == nil && dcfg.JWKSURL == "" {
		return nil, nil
	}
	return service.NewDephealthService(dcfg, logger)
}
