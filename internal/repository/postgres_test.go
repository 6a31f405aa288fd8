package repository

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/bigkaa/goartstore/trail-module/internal/config"
	"github.com/bigkaa/goartstore/trail-module/internal/database"
	"github.com/bigkaa/goartstore/trail-module/internal/domain/lifecycle"
	"github.com/bigkaa/goartstore/trail-module/internal/domain/model"
	"github.com/bigkaa/goartstore/trail-module/internal/domain/ttl"
)

// setupTestDB запускает PostgreSQL контейнер и применяет миграции.
func setupTestDB(t *testing.T) *pgxpool.Pool {
	t.Helper()

	if os.Getenv("TEST_INTEGRATION") == "" {
		t.Skip("Пропуск интеграционного теста: TEST_INTEGRATION не установлена")
	}

	ctx := context.Background()

	container, err := postgres.Run(ctx,
		"docker.io/postgres:17-alpine",
		postgres.WithDatabase("trails_test"),
		postgres.WithUsername("trails"),
		postgres.WithPassword("test-password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("Не удалось запустить PostgreSQL контейнер: %v", err)
	}
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("Ошибка остановки контейнера: %v", err)
		}
	})

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("Не удалось получить host контейнера: %v", err)
	}
	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatalf("Не удалось получить port контейнера: %v", err)
	}
	portNum, _ := strconv.Atoi(port.Port())

	cfg := &config.Config{
		DBHost:     host,
		DBPort:     portNum,
		DBName:     "trails_test",
		DBUser:     "trails",
		DBPassword: "test-password",
		DBSSLMode:  "disable",
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

	if err := database.Migrate(cfg, logger); err != nil {
		t.Fatalf("Ошибка миграций: %v", err)
	}

	pool, err := database.Connect(ctx, cfg, logger)
	if err != nil {
		t.Fatalf("Ошибка подключения: %v", err)
	}
	t.Cleanup(pool.Close)

	return pool
}

// TestPostgresDraftRepository_PayloadVerbatim — колонка json хранит
// payload без нормализации: пробелы и порядок ключей сохраняются.
func TestPostgresDraftRepository_PayloadVerbatim(t *testing.T) {
	pool := setupTestDB(t)
	ctx := context.Background()

	start := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	repo := NewPostgresDraftRepository(pool, ttl.NewManualClock(start))

	payload := `{"step": 2,  "items": ["b", "a"], "a": null}`
	if _, err := repo.Create(ctx, &model.DraftTrail{
		ReferenceCode: "TRAIL-1",
		OwnerID:       "owner-1",
		OwnerEmail:    "a@x.io",
		Payload:       json.RawMessage(payload),
		Status:        lifecycle.StatusDraft,
		CreatedAt:     start,
		ExpiresAt:     start.Add(7 * 24 * time.Hour),
	}); err != nil {
		t.Fatalf("Create: %v", err)
	}

	got, err := repo.Get(ctx, "TRAIL-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(got.Payload) != payload {
		t.Errorf("Payload изменён: ожидалось %s, получено %s", payload, got.Payload)
	}

	if _, err := repo.Create(ctx, &model.DraftTrail{
		ReferenceCode: "TRAIL-2",
		OwnerID:       "owner-2",
		OwnerEmail:    "a@x.io",
		Status:        lifecycle.StatusDraft,
		CreatedAt:     start,
		ExpiresAt:     start.Add(time.Hour),
	}); err != nil {
		t.Fatalf("Create без payload: %v", err)
	}
	empty, err := repo.Get(ctx, "TRAIL-2")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if empty.Payload != nil {
		t.Errorf("ожидался пустой payload (NULL), получено %s", empty.Payload)
	}
}
