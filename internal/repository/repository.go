// Пакет repository — контракт хранилища черновиков и реализация на PostgreSQL.
// Файловая и in-memory реализации находятся в internal/storage.
package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/bigkaa/goartstore/trail-module/internal/domain/lifecycle"
	"github.com/bigkaa/goartstore/trail-module/internal/domain/model"
)

// Ошибки слоя хранилища.
var (
	// ErrNotFound — черновик не найден.
	ErrNotFound = errors.New("черновик не найден")
	// ErrGone — черновик существовал, но срок его хранения истёк.
	ErrGone = errors.New("срок хранения черновика истёк")
	// ErrConflict — версия записи изменилась между чтением и записью.
	ErrConflict = errors.New("конфликт версий черновика")
	// ErrStorage — сбой чтения или записи хранилища.
	ErrStorage = errors.New("сбой хранилища")
)

// DraftRepository — хранилище черновиков с ленивым истечением.
//
// Истёкшие записи никогда не возвращаются: Get удаляет найденную
// истёкшую запись и возвращает ErrGone, List/ListByOwner перед чтением
// удаляют все истёкшие записи за одну запись коллекции.
// Любая успешная запись увеличивает Version.
type DraftRepository interface {
	// Create вставляет черновик или заменяет существующий с тем же кодом.
	Create(ctx context.Context, d *model.DraftTrail) (*model.DraftTrail, error)
	// Get возвращает актуальный черновик по коду.
	Get(ctx context.Context, code string) (*model.DraftTrail, error)
	// List возвращает все актуальные черновики.
	List(ctx context.Context) ([]*model.DraftTrail, error)
	// ListByOwner возвращает актуальные черновики владельца (email без учёта регистра).
	ListByOwner(ctx context.Context, ownerEmail string) ([]*model.DraftTrail, error)
	// ListByOwnerID возвращает актуальные черновики по ownerId.
	ListByOwnerID(ctx context.Context, ownerID string) ([]*model.DraftTrail, error)
	// UpdateStatus перезаписывает статус. expectedVersion > 0 включает
	// проверку версии: при расхождении возвращается ErrConflict.
	UpdateStatus(ctx context.Context, code string, status lifecycle.Status, expectedVersion int64) (*model.DraftTrail, error)
	// UpdatePaid устанавливает флаг оплаты и paidAt (now или nil).
	UpdatePaid(ctx context.Context, code string, isPaid bool, expectedVersion int64) (*model.DraftTrail, error)
	// Delete удаляет черновик. Возвращает true, если запись существовала.
	Delete(ctx context.Context, code string) (bool, error)
	// Sweep удаляет все истёкшие черновики, возвращает их количество.
	Sweep(ctx context.Context) (int, error)
}

// DBTX — интерфейс для выполнения SQL-запросов.
// Реализуется как *pgxpool.Pool, так и pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}
