package repository_test

import (
	"context"
	"testing"

	"github.com/bigkaa/goartstore/trail-module/internal/domain/ttl"
	"github.com/bigkaa/goartstore/trail-module/internal/repository"
	"github.com/bigkaa/goartstore/trail-module/internal/storage/storetest"
)

// TestPostgresDraftRepository_Contract — общий контракт хранилища
// на PostgreSQL. Каждая проверка начинает с пустой таблицы.
func TestPostgresDraftRepository_Contract(t *testing.T) {
	pool := repository.SetupTestDB(t)

	storetest.Run(t, func(t *testing.T, clock ttl.Clock) repository.DraftRepository {
		if _, err := pool.Exec(context.Background(), `TRUNCATE draft_trails`); err != nil {
			t.Fatalf("Очистка таблицы: %v", err)
		}
		return repository.NewPostgresDraftRepository(pool, clock)
	})
}
