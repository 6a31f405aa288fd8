// Пакет filestore — файловое хранилище черновиков.
//
// Вся коллекция хранится в одном JSON-документе
// {"schemaVersion":1,"trails":[...]} и перезаписывается целиком.
// Перезапись атомарна: temp → fsync → rename. Любая операция
// чтение-изменение-запись выполняется под одним мьютексом, поэтому
// параллельные изменения не теряются.
//
// Изменения применяются к копии коллекции; in-memory состояние
// заменяется только после успешной записи файла.
package filestore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bigkaa/goartstore/trail-module/internal/domain/lifecycle"
	"github.com/bigkaa/goartstore/trail-module/internal/domain/model"
	"github.com/bigkaa/goartstore/trail-module/internal/domain/ttl"
	"github.com/bigkaa/goartstore/trail-module/internal/repository"
)

// SchemaVersion — текущая версия формата файла коллекции.
const SchemaVersion = 1

// document — формат файла коллекции на диске.
type document struct {
	SchemaVersion int                 `json:"schemaVersion"`
	Trails        []*model.DraftTrail `json:"trails"`
}

// Store — файловая реализация repository.DraftRepository.
type Store struct {
	mu     sync.Mutex
	path   string
	clock  ttl.Clock
	trails map[string]*model.DraftTrail // referenceCode → черновик
	logger *slog.Logger

	// writeFile — запись документа на диск (подменяется в тестах).
	writeFile func(path string, data []byte) error
}

// Open открывает файл коллекции. Отсутствующий файл — пустая коллекция.
// Неизвестная schemaVersion, запись без кода или повтор кода — ошибка.
func Open(path string, clock ttl.Clock, logger *slog.Logger) (*Store, error) {
	s := &Store{
		path:      path,
		clock:     clock,
		trails:    make(map[string]*model.DraftTrail),
		logger:    logger.With(slog.String("component", "filestore")),
		writeFile: atomicWrite,
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("не удалось создать директорию коллекции: %w", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			s.logger.Info("Файл коллекции не найден, начинаем с пустой коллекции",
				slog.String("path", path))
			return s, nil
		}
		return nil, fmt.Errorf("ошибка чтения файла коллекции %s: %w", path, err)
	}

	trails, err := decode(data)
	if err != nil {
		return nil, fmt.Errorf("файл коллекции %s: %w", path, err)
	}
	for _, d := range trails {
		s.trails[d.ReferenceCode] = d
	}

	s.logger.Info("Коллекция черновиков загружена",
		slog.String("path", path),
		slog.Int("trails", len(s.trails)),
	)
	return s, nil
}

// decode разбирает файл коллекции. Документ без обёртки (JSON-массив)
// читается как формат до введения schemaVersion.
func decode(data []byte) ([]*model.DraftTrail, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, nil
	}

	var trails []*model.DraftTrail
	if trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &trails); err != nil {
			return nil, fmt.Errorf("ошибка десериализации: %w", err)
		}
	} else {
		var doc document
		if err := json.Unmarshal(trimmed, &doc); err != nil {
			return nil, fmt.Errorf("ошибка десериализации: %w", err)
		}
		if doc.SchemaVersion != SchemaVersion {
			return nil, fmt.Errorf("неподдерживаемая schemaVersion %d (ожидалась %d)", doc.SchemaVersion, SchemaVersion)
		}
		trails = doc.Trails
	}

	if err := checkTrails(trails); err != nil {
		return nil, err
	}
	return trails, nil
}

// checkTrails отклоняет записи без referenceCode и повторяющиеся коды.
func checkTrails(trails []*model.DraftTrail) error {
	seen := make(map[string]int, len(trails))
	for i, d := range trails {
		if d == nil || d.ReferenceCode == "" {
			return fmt.Errorf("запись #%d без referenceCode", i)
		}
		if prev, ok := seen[d.ReferenceCode]; ok {
			return fmt.Errorf("referenceCode %q повторяется (записи #%d и #%d)", d.ReferenceCode, prev, i)
		}
		seen[d.ReferenceCode] = i
	}
	return nil
}

// Count возвращает количество записей, включая ещё не удалённые истёкшие.
func (s *Store) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
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

	next := s.copyTrails()
	next[stored.ReferenceCode] = stored
	if err := s.commit(next); err != nil {
		return nil, err
	}
	return stored.WithDaysRemaining(s.clock.Now()), nil
}

// Get возвращает актуальный черновик. Истёкший удаляется с диска.
func (s *Store) Get(ctx context.Context, code string) (*model.DraftTrail, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	d, err := s.liveLocked(code)
	if err != nil {
		return nil, err
	}
	return d.WithDaysRemaining(s.clock.Now()), nil
}

// List удаляет истёкшие записи одной перезаписью и возвращает остальные.
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

// Delete удаляет черновик. Удаление отсутствующего — не ошибка.
func (s *Store) Delete(ctx context.Context, code string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.trails[code]; !ok {
		return false, nil
	}
	next := s.copyTrails()
	delete(next, code)
	if err := s.commit(next); err != nil {
		return false, err
	}
	return true, nil
}

// Sweep удаляет все истёкшие черновики.
func (s *Store) Sweep(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.sweepLocked(s.clock.Now())
}

// update — общий путь изменения одной записи.
func (s *Store) update(ctx context.Context, code string, expectedVersion int64, apply func(*model.DraftTrail, time.Time)) (*model.DraftTrail, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.liveLocked(code)
	if err != nil {
		return nil, err
	}
	if expectedVersion > 0 && current.Version != expectedVersion {
		return nil, repository.ErrConflict
	}

	now := s.clock.Now()
	updated := current.Clone()
	apply(updated, now)
	updated.Version++

	next := s.copyTrails()
	next[code] = updated
	if err := s.commit(next); err != nil {
		return nil, err
	}
	return updated.WithDaysRemaining(now), nil
}

// list выполняет очистку и возвращает отфильтрованные записи,
// отсортированные по createdAt, затем по referenceCode.
func (s *Store) list(ctx context.Context, keep func(*model.DraftTrail) bool) ([]*model.DraftTrail, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	if _, err := s.sweepLocked(now); err != nil {
		return nil, err
	}

	result := make([]*model.DraftTrail, 0, len(s.trails))
	for _, d := range s.trails {
		if keep(d) {
			result = append(result, d.WithDaysRemaining(now))
		}
	}
	sortTrails(result)
	return result, nil
}

// liveLocked возвращает неистёкшую запись (без копирования).
// Истёкшая запись удаляется, возвращается ErrGone.
func (s *Store) liveLocked(code string) (*model.DraftTrail, error) {
	d, ok := s.trails[code]
	if !ok {
		return nil, repository.ErrNotFound
	}
	if d.IsExpired(s.clock.Now()) {
		next := s.copyTrails()
		delete(next, code)
		if err := s.commit(next); err != nil {
			return nil, err
		}
		s.logger.Debug("Истёкший черновик удалён при чтении",
			slog.String("reference_code", code))
		return nil, repository.ErrGone
	}
	return d, nil
}

// sweepLocked удаляет все записи, истёкшие к моменту now, одной перезаписью.
func (s *Store) sweepLocked(now time.Time) (int, error) {
	next := s.copyTrails()
	removed := 0
	for code, d := range next {
		if d.IsExpired(now) {
			delete(next, code)
			removed++
		}
	}
	if removed == 0 {
		return 0, nil
	}
	if err := s.commit(next); err != nil {
		return 0, err
	}
	return removed, nil
}

// commit записывает коллекцию на диск и при успехе заменяет in-memory состояние.
func (s *Store) commit(next map[string]*model.DraftTrail) error {
	doc := document{
		SchemaVersion: SchemaVersion,
		Trails:        make([]*model.DraftTrail, 0, len(next)),
	}
	for _, d := range next {
		c := d.Clone()
		c.DaysRemaining = 0
		doc.Trails = append(doc.Trails, c)
	}
	sortTrails(doc.Trails)

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: ошибка сериализации коллекции: %w", repository.ErrStorage, err)
	}
	if err := s.writeFile(s.path, data); err != nil {
		s.logger.Error("Ошибка записи файла коллекции",
			slog.String("path", s.path),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("%w: %w", repository.ErrStorage, err)
	}

	s.trails = next
	return nil
}

// copyTrails возвращает поверхностную копию карты. Записи не изменяются
// на месте: update заменяет запись клоном.
func (s *Store) copyTrails() map[string]*model.DraftTrail {
	next := make(map[string]*model.DraftTrail, len(s.trails))
	for k, v := range s.trails {
		next[k] = v
	}
	return next
}

// atomicWrite записывает data в path: temp файл → fsync → rename.
func atomicWrite(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("не удалось создать директорию %s: %w", dir, err)
	}

	f, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("ошибка создания временного файла: %w", err)
	}
	tmpPath := f.Name()

	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("ошибка записи: %w", err)
	}

	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("ошибка fsync: %w", err)
	}

	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("ошибка закрытия файла: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("ошибка атомарного переименования: %w", err)
	}

	return nil
}

func sortTrails(trails []*model.DraftTrail) {
	sort.Slice(trails, func(i, j int) bool {
		if !trails[i].CreatedAt.Equal(trails[j].CreatedAt) {
			return trails[i].CreatedAt.Before(trails[j].CreatedAt)
		}
		return trails[i].ReferenceCode < trails[j].ReferenceCode
	})
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// ReadinessChecker — проверка доступности директории файла коллекции.
type ReadinessChecker struct {
	store *Store
}

// NewReadinessChecker создаёт проверку готовности файлового хранилища.
func NewReadinessChecker(store *Store) *ReadinessChecker {
	return &ReadinessChecker{store: store}
}

// CheckReady проверяет, что директория коллекции существует.
func (c *ReadinessChecker) CheckReady() (status string, message string) {
	dir := filepath.Dir(c.store.path)
	info, err := os.Stat(dir)
	if err != nil {
		return "fail", fmt.Sprintf("директория %s недоступна: %v", dir, err)
	}
	if !info.IsDir() {
		return "fail", fmt.Sprintf("%s не является директорией", dir)
	}
	return "ok", fmt.Sprintf("%d записей", c.store.Count())
}
