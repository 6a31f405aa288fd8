// Пакет storetest — общий набор проверок контракта repository.DraftRepository.
// Используется тестами файлового, in-memory и PostgreSQL хранилищ.
package storetest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/bigkaa/goartstore/trail-module/internal/domain/lifecycle"
	"github.com/bigkaa/goartstore/trail-module/internal/domain/model"
	"github.com/bigkaa/goartstore/trail-module/internal/domain/ttl"
	"github.com/bigkaa/goartstore/trail-module/internal/repository"
)

// Week — TTL черновиков в проверках.
const Week = 7 * 24 * time.Hour

// Start — момент создания черновиков в проверках.
var Start = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

// Factory создаёт пустое хранилище, читающее время из clock.
type Factory func(t *testing.T, clock ttl.Clock) repository.DraftRepository

// NewDraft создаёт черновик, созданный в момент created, с TTL в одну неделю.
func NewDraft(code, email string, created time.Time) *model.DraftTrail {
	return &model.DraftTrail{
		ReferenceCode: code,
		OwnerID:       "owner-" + code,
		OwnerEmail:    email,
		Payload:       json.RawMessage(`{"step":1,"title":"Тропа"}`),
		Status:        lifecycle.StatusDraft,
		CreatedAt:     created,
		ExpiresAt:     created.Add(Week),
	}
}

// Run запускает все проверки контракта.
func Run(t *testing.T, factory Factory) {
	t.Helper()

	t.Run("RoundTrip", func(t *testing.T) { testRoundTrip(t, factory) })
	t.Run("Upsert", func(t *testing.T) { testUpsert(t, factory) })
	t.Run("ExpiryBoundary", func(t *testing.T) { testExpiryBoundary(t, factory) })
	t.Run("ListSweepsExpired", func(t *testing.T) { testListSweepsExpired(t, factory) })
	t.Run("UpdateStatus", func(t *testing.T) { testUpdateStatus(t, factory) })
	t.Run("UpdatePaid", func(t *testing.T) { testUpdatePaid(t, factory) })
	t.Run("VersionConflict", func(t *testing.T) { testVersionConflict(t, factory) })
	t.Run("Delete", func(t *testing.T) { testDelete(t, factory) })
	t.Run("ListByOwner", func(t *testing.T) { testListByOwner(t, factory) })
	t.Run("ConcurrentUpdates", func(t *testing.T) { testConcurrentUpdates(t, factory) })
	t.Run("CanceledContext", func(t *testing.T) { testCanceledContext(t, factory) })
}

func testRoundTrip(t *testing.T, factory Factory) {
	clock := ttl.NewManualClock(Start)
	repo := factory(t, clock)
	ctx := context.Background()

	in := NewDraft("TRAIL-1", "owner@example.com", Start)
	created, err := repo.Create(ctx, in)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if created.Version != 1 {
		t.Errorf("Version: ожидалось 1, получено %d", created.Version)
	}

	got, err := repo.Get(ctx, "TRAIL-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.OwnerEmail != in.OwnerEmail || got.OwnerID != in.OwnerID || got.Status != lifecycle.StatusDraft {
		t.Errorf("поля не совпадают: %+v", got)
	}
	if string(got.Payload) != string(in.Payload) {
		t.Errorf("Payload: ожидалось %s, получено %s", in.Payload, got.Payload)
	}
	if !got.CreatedAt.Equal(Start) || !got.ExpiresAt.Equal(Start.Add(Week)) {
		t.Errorf("даты: createdAt=%v expiresAt=%v", got.CreatedAt, got.ExpiresAt)
	}
	if got.DaysRemaining != 7 {
		t.Errorf("DaysRemaining: ожидалось 7, получено %d", got.DaysRemaining)
	}

	// Изменение возвращённой копии не влияет на хранилище
	got.Status = lifecycle.StatusCompleted
	again, _ := repo.Get(ctx, "TRAIL-1")
	if again.Status != lifecycle.StatusDraft {
		t.Error("хранилище должно возвращать копии")
	}
}

func testUpsert(t *testing.T, factory Factory) {
	clock := ttl.NewManualClock(Start)
	repo := factory(t, clock)
	ctx := context.Background()

	if _, err := repo.Create(ctx, NewDraft("TRAIL-1", "a@example.com", Start)); err != nil {
		t.Fatalf("Create: %v", err)
	}
	replacement := NewDraft("TRAIL-1", "b@example.com", Start.Add(time.Hour))
	replacement.Payload = json.RawMessage(`{"step":2}`)

	stored, err := repo.Create(ctx, replacement)
	if err != nil {
		t.Fatalf("повторный Create: %v", err)
	}
	if stored.Version != 2 {
		t.Errorf("Version после замены: ожидалось 2, получено %d", stored.Version)
	}

	all, err := repo.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("размер хранилища после замены: ожидалось 1, получено %d", len(all))
	}
	if all[0].OwnerEmail != "b@example.com" || string(all[0].Payload) != `{"step":2}` {
		t.Errorf("ожидалась запись второго Create, получено %+v", all[0])
	}
}

func testExpiryBoundary(t *testing.T, factory Factory) {
	clock := ttl.NewManualClock(Start)
	repo := factory(t, clock)
	ctx := context.Background()

	if _, err := repo.Create(ctx, NewDraft("TRAIL-1", "a@example.com", Start)); err != nil {
		t.Fatalf("Create: %v", err)
	}

	clock.Set(Start.Add(Week - time.Millisecond))
	got, err := repo.Get(ctx, "TRAIL-1")
	if err != nil {
		t.Fatalf("Get за 1ms до истечения: %v", err)
	}
	if got.DaysRemaining != 1 {
		t.Errorf("DaysRemaining: ожидалось 1, получено %d", got.DaysRemaining)
	}

	clock.Set(Start.Add(Week + time.Millisecond))
	if _, err := repo.Get(ctx, "TRAIL-1"); !errors.Is(err, repository.ErrGone) {
		t.Fatalf("Get через 1ms после истечения: ожидался ErrGone, получено %v", err)
	}
	if _, err := repo.Get(ctx, "TRAIL-1"); !errors.Is(err, repository.ErrNotFound) {
		t.Errorf("повторный Get: ожидался ErrNotFound, получено %v", err)
	}
}

func testListSweepsExpired(t *testing.T, factory Factory) {
	clock := ttl.NewManualClock(Start)
	repo := factory(t, clock)
	ctx := context.Background()

	for i, offset := range []time.Duration{0, time.Hour, 3 * 24 * time.Hour} {
		code := fmt.Sprintf("TRAIL-%d", i)
		if _, err := repo.Create(ctx, NewDraft(code, "a@example.com", Start.Add(offset))); err != nil {
			t.Fatalf("Create %s: %v", code, err)
		}
	}

	// Истекают первые два черновика
	clock.Set(Start.Add(Week + 2*time.Hour))
	all, err := repo.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(all) != 1 || all[0].ReferenceCode != "TRAIL-2" {
		t.Fatalf("ожидался только TRAIL-2, получено %d записей", len(all))
	}
	if all[0].DaysRemaining != 3 {
		t.Errorf("DaysRemaining: ожидалось 3, получено %d", all[0].DaysRemaining)
	}

	if _, err := repo.Get(ctx, "TRAIL-0"); !errors.Is(err, repository.ErrNotFound) {
		t.Errorf("после List истёкшая запись должна быть удалена, получено %v", err)
	}
	removed, err := repo.Sweep(ctx)
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if removed != 0 {
		t.Errorf("Sweep после List: ожидалось 0, получено %d", removed)
	}
}

func testUpdateStatus(t *testing.T, factory Factory) {
	clock := ttl.NewManualClock(Start)
	repo := factory(t, clock)
	ctx := context.Background()

	if _, err := repo.UpdateStatus(ctx, "MISSING", lifecycle.StatusSubmitted, 0); !errors.Is(err, repository.ErrNotFound) {
		t.Errorf("UpdateStatus несуществующего: ожидался ErrNotFound, получено %v", err)
	}

	if _, err := repo.Create(ctx, NewDraft("TRAIL-1", "a@example.com", Start)); err != nil {
		t.Fatalf("Create: %v", err)
	}
	clock.Advance(time.Hour)

	updated, err := repo.UpdateStatus(ctx, "TRAIL-1", lifecycle.StatusSubmitted, 0)
	if err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}
	if updated.Status != lifecycle.StatusSubmitted || updated.Version != 2 {
		t.Errorf("ожидался submitted/2, получено %s/%d", updated.Status, updated.Version)
	}
	if !updated.ExpiresAt.Equal(Start.Add(Week)) || !updated.CreatedAt.Equal(Start) {
		t.Error("обновление не должно менять createdAt/expiresAt")
	}

	clock.Set(Start.Add(Week + time.Second))
	if _, err := repo.UpdateStatus(ctx, "TRAIL-1", lifecycle.StatusCompleted, 0); !errors.Is(err, repository.ErrGone) {
		t.Errorf("UpdateStatus истёкшего: ожидался ErrGone, получено %v", err)
	}
}

func testUpdatePaid(t *testing.T, factory Factory) {
	clock := ttl.NewManualClock(Start)
	repo := factory(t, clock)
	ctx := context.Background()

	if _, err := repo.Create(ctx, NewDraft("TRAIL-1", "a@example.com", Start)); err != nil {
		t.Fatalf("Create: %v", err)
	}
	paidMoment := Start.Add(2 * time.Hour)
	clock.Set(paidMoment)

	paid, err := repo.UpdatePaid(ctx, "TRAIL-1", true, 0)
	if err != nil {
		t.Fatalf("UpdatePaid(true): %v", err)
	}
	if !paid.IsPaid || paid.PaidAt == nil || !paid.PaidAt.Equal(paidMoment) {
		t.Errorf("ожидалось isPaid=true и paidAt=%v, получено %v/%v", paidMoment, paid.IsPaid, paid.PaidAt)
	}
	if paid.Status != lifecycle.StatusDraft {
		t.Error("UpdatePaid не должен менять статус")
	}

	unpaid, err := repo.UpdatePaid(ctx, "TRAIL-1", false, 0)
	if err != nil {
		t.Fatalf("UpdatePaid(false): %v", err)
	}
	if unpaid.IsPaid || unpaid.PaidAt != nil {
		t.Errorf("ожидалось isPaid=false и paidAt=nil, получено %v/%v", unpaid.IsPaid, unpaid.PaidAt)
	}
}

func testVersionConflict(t *testing.T, factory Factory) {
	clock := ttl.NewManualClock(Start)
	repo := factory(t, clock)
	ctx := context.Background()

	created, err := repo.Create(ctx, NewDraft("TRAIL-1", "a@example.com", Start))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := repo.UpdateStatus(ctx, "TRAIL-1", lifecycle.StatusSubmitted, created.Version); err != nil {
		t.Fatalf("UpdateStatus с актуальной версией: %v", err)
	}
	if _, err := repo.UpdatePaid(ctx, "TRAIL-1", true, created.Version); !errors.Is(err, repository.ErrConflict) {
		t.Errorf("ожидался ErrConflict для устаревшей версии, получено %v", err)
	}
}

func testDelete(t *testing.T, factory Factory) {
	clock := ttl.NewManualClock(Start)
	repo := factory(t, clock)
	ctx := context.Background()

	if _, err := repo.Create(ctx, NewDraft("TRAIL-1", "a@example.com", Start)); err != nil {
		t.Fatalf("Create: %v", err)
	}

	existed, err := repo.Delete(ctx, "TRAIL-1")
	if err != nil || !existed {
		t.Fatalf("Delete: existed=%v, err=%v", existed, err)
	}
	existed, err = repo.Delete(ctx, "TRAIL-1")
	if err != nil || existed {
		t.Errorf("повторный Delete: existed=%v, err=%v", existed, err)
	}
	if _, err := repo.Get(ctx, "TRAIL-1"); !errors.Is(err, repository.ErrNotFound) {
		t.Errorf("Get после Delete: ожидался ErrNotFound, получено %v", err)
	}
}

func testListByOwner(t *testing.T, factory Factory) {
	clock := ttl.NewManualClock(Start)
	repo := factory(t, clock)
	ctx := context.Background()

	drafts := []*model.DraftTrail{
		NewDraft("A-1", "alice@example.com", Start),
		NewDraft("B-1", "bob@example.com", Start.Add(time.Minute)),
		NewDraft("A-2", "Alice@Example.com", Start.Add(2*time.Minute)),
	}
	for _, d := range drafts {
		if _, err := repo.Create(ctx, d); err != nil {
			t.Fatalf("Create %s: %v", d.ReferenceCode, err)
		}
	}

	own, err := repo.ListByOwner(ctx, "alice@example.com")
	if err != nil {
		t.Fatalf("ListByOwner: %v", err)
	}
	if len(own) != 2 || own[0].ReferenceCode != "A-1" || own[1].ReferenceCode != "A-2" {
		t.Errorf("ожидались A-1, A-2, получено %d записей", len(own))
	}

	byID, err := repo.ListByOwnerID(ctx, "owner-B-1")
	if err != nil {
		t.Fatalf("ListByOwnerID: %v", err)
	}
	if len(byID) != 1 || byID[0].ReferenceCode != "B-1" {
		t.Errorf("ожидался B-1, получено %d записей", len(byID))
	}

	none, err := repo.ListByOwner(ctx, "carol@example.com")
	if err != nil {
		t.Fatalf("ListByOwner: %v", err)
	}
	if none == nil || len(none) != 0 {
		t.Errorf("ожидался пустой срез (не nil), получено %v", none)
	}
}

// testConcurrentUpdates проверяет, что параллельные UpdateStatus и UpdatePaid
// одного черновика не теряют изменения друг друга.
func testConcurrentUpdates(t *testing.T, factory Factory) {
	clock := ttl.NewManualClock(Start)
	repo := factory(t, clock)
	ctx := context.Background()

	if _, err := repo.Create(ctx, NewDraft("TRAIL-1", "a@example.com", Start)); err != nil {
		t.Fatalf("Create: %v", err)
	}

	const rounds = 20
	var wg sync.WaitGroup
	errs := make(chan error, 2*rounds)
	for i := 0; i < rounds; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			if _, err := repo.UpdateStatus(ctx, "TRAIL-1", lifecycle.StatusPaymentPending, 0); err != nil {
				errs <- err
			}
		}()
		go func() {
			defer wg.Done()
			if _, err := repo.UpdatePaid(ctx, "TRAIL-1", true, 0); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("параллельное обновление: %v", err)
	}

	got, err := repo.Get(ctx, "TRAIL-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != lifecycle.StatusPaymentPending || !got.IsPaid {
		t.Errorf("изменение потеряно: status=%s isPaid=%v", got.Status, got.IsPaid)
	}
	if got.Version != 1+2*rounds {
		t.Errorf("Version: ожидалось %d, получено %d", 1+2*rounds, got.Version)
	}
}

func testCanceledContext(t *testing.T, factory Factory) {
	clock := ttl.NewManualClock(Start)
	repo := factory(t, clock)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := repo.Create(ctx, NewDraft("TRAIL-1", "a@example.com", Start)); !errors.Is(err, context.Canceled) {
		t.Errorf("Create с отменённым контекстом: ожидался context.Canceled, получено %v", err)
	}
	if _, err := repo.Get(ctx, "TRAIL-1"); !errors.Is(err, context.Canceled) {
		t.Errorf("Get с отменённым контекстом: ожидался context.Canceled, получено %v", err)
	}
}
