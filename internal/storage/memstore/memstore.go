// Пакет memstore — потокобезопасное in-memory хранилище черновиков.
//
// Не персистентное: при рестарте коллекция пуста. Используется
// для локальной разработки и тестов сервисного слоя.
package memstore

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bigkaa/goartstore/trail-module/internal/domain/lifecycle"
	"github.com/bigkaa/goartstore/trail-module/internal/domain/model"
	"github.com/bigkaa/goartstore/trail-module/internal/domain/ttl"
	"github.com/bigkaa/goartstore/trail-module/internal/repository"
)

// Store — in-memory реализация repository.DraftRepository.
// Записи хранятся и возвращаются копиями.
type Store struct {
	mu     sync.RWMutex
	trails map[string]*model.DraftTrail // referenceCode → черновик
	clock  ttl.Clock
	logger *slog.Logger
}

// New создаёт пустое хранилище.
func New(clock ttl.Clock, logger *slog.Logger) *Store {
	return &Store{
		trails: make(map[string]*model.DraftTrail),
		clock:  clock,
		logger: logger.With(slog.String("component", "memstore")),
	}
}

// Count возвращает количество записей, включая ещё не удалённые истёкшие.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.trails)
}

// Create вставляет или заменяет черновик.
func (s *Store) Create(ctx context.Context, d *model.DraftTrail) (*model.DraftTrail, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	stored := d.Clone()
	stored.Version = 1
	if prev, ok := s.trails[d.ReferenceCode]; ok {
		stored.Version = prev.Version + 1
	}
	s.trails[stored.ReferenceCode] = stored
	return stored.WithDaysRemaining(s.clock.Now()), nil
}

// Get возвращает актуальный черновик. Истёкший удаляется.
func (s *Store) Get(ctx context.Context, code string) (*model.DraftTrail, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	now := s.clock.Now()

	s.mu.RLock()
	d, ok := s.trails[code]
	if ok && !d.IsExpired(now) {
		result := d.WithDaysRemaining(now)
		s.mu.RUnlock()
		return result, nil
	}
	s.mu.RUnlock()

	if !ok {
		return nil, repository.ErrNotFound
	}

	// Истёкшая запись: повторная проверка под эксклюзивной блокировкой
	s.mu.Lock()
	defer s.mu.Unlock()
	live, err := s.liveLocked(code, now)
	if err != nil {
		return nil, err
	}
	return live.WithDaysRemaining(now), nil
}

// List удаляет истёкшие записи и возвращает остальные.
func (s *Store) List(ctx context.Context) ([]*model.DraftTrail, error) {
	return s.list(ctx, func(*model.DraftTrail) bool { return true })
}

// ListByOwner — List с фильтром по email владельца (без учёта регистра).
func (s *Store) ListByOwner(ctx context.Context, ownerEmail string) ([]*model.DraftTrail, error) {
	email := normalizeEmail(ownerEmail)
	return s.list(ctx, func(d *model.DraftTrail) bool {
		return normalizeEmail(d.OwnerEmail) == email
	})
}

// ListByOwnerID — List с фильтром по ownerId.
func (s *Store) ListByOwnerID(ctx context.Context, ownerID string) ([]*model.DraftTrail, error) {
	return s.list(ctx, func(d *model.DraftTrail) bool {
		return d.OwnerID == ownerID
	})
}

// UpdateStatus перезаписывает статус.
func (s *Store) UpdateStatus(ctx context.Context, code string, status lifecycle.Status, expectedVersion int64) (*model.DraftTrail, error) {
	return s.update(ctx, code, expectedVersion, func(d *model.DraftTrail, _ time.Time) {
		d.Status = status
	})
}

// UpdatePaid устанавливает флаг оплаты.
func (s *Store) UpdatePaid(ctx context.Context, code string, isPaid bool, expectedVersion int64) (*model.DraftTrail, error) {
	return s.update(ctx, code, expectedVersion, func(d *model.DraftTrail, now time.Time) {
		d.IsPaid = isPaid
		if isPaid {
			t := now
			d.PaidAt = &t
		} else {
			d.PaidAt = nil
		}
	})
}

// Delete удаляет черновик. Возвращает true, если запись существовала.
func (s *Store) Delete(ctx context.Context, code string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.trails[code]; !ok {
		return false, nil
	}
	delete(s.trails, code)
	return true, nil
}

// Sweep удаляет все истёкшие черновики.
func (s *Store) Sweep(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sweepLocked(s.clock.Now()), nil
}

func (s *Store) update(ctx context.Context, code string, expectedVersion int64, apply func(*model.DraftTrail, time.Time)) (*model.DraftTrail, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	current, err := s.liveLocked(code, now)
	if err != nil {
		return nil, err
	}
	if expectedVersion > 0 && current.Version != expectedVersion {
		return nil, repository.ErrConflict
	}

	updated := current.Clone()
	apply(updated, now)
	updated.Version++
	s.trails[code] = updated
	return updated.WithDaysRemaining(now), nil
}

func (s *Store) list(ctx context.Context, keep func(*model.DraftTrail) bool) ([]*model.DraftTrail, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	s.sweepLocked(now)

	result := make([]*model.DraftTrail, 0, len(s.trails))
	for _, d := range s.trails {
		if keep(d) {
			result = append(result, d.WithDaysRemaining(now))
		}
	}

	// Сортируем по дате создания (старые первые)
	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.Before(result[j].CreatedAt)
		}
		return result[i].ReferenceCode < result[j].ReferenceCode
	})
	return result, nil
}

// liveLocked возвращает неистёкшую запись. Вызывать под s.mu.Lock.
func (s *Store) liveLocked(code string, now time.Time) (*model.DraftTrail, error) {
	d, ok := s.trails[code]
	if !ok {
		return nil, repository.ErrNotFound
	}
	if d.IsExpired(now) {
		delete(s.trails, code)
		s.logger.Debug("Истёкший черновик удалён при чтении",
			slog.String("reference_code", code))
		return nil, repository.ErrGone
	}
	return d, nil
}

func (s *Store) sweepLocked(now time.Time) int {
	removed := 0
	for code, d := range s.trails {
		if d.IsExpired(now) {
			delete(s.trails, code)
			removed++
		}
	}
	return removed
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// ReadinessChecker — проверка готовности in-memory хранилища.
type ReadinessChecker struct {
	store *Store
}

// NewReadinessChecker создаёт проверку готовности.
func NewReadinessChecker(store *Store) *ReadinessChecker {
	return &ReadinessChecker{store: store}
}

// CheckReady всегда "ok": хранилище в памяти процесса.
func (c *ReadinessChecker) CheckReady() (status string, message string) {
	return "ok", fmt.Sprintf("in-memory, %d записей", c.store.Count())
}
