package memstore

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/bigkaa/goartstore/trail-module/internal/domain/ttl"
	"github.com/bigkaa/goartstore/trail-module/internal/repository"
	"github.com/bigkaa/goartstore/trail-module/internal/storage/storetest"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// TestContract прогоняет общий набор проверок хранилища.
func TestContract(t *testing.T) {
	storetest.Run(t, func(_ *testing.T, clock ttl.Clock) repository.DraftRepository {
		return New(clock, testLogger())
	})
}

// TestSweep проверяет явную очистку истёкших записей.
func TestSweep(t *testing.T) {
	clock := ttl.NewManualClock(storetest.Start)
	s := New(clock, testLogger())
	ctx := context.Background()

	if _, err := s.Create(ctx, storetest.NewDraft("A", "a@example.com", storetest.Start)); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Create(ctx, storetest.NewDraft("B", "a@example.com", storetest.Start.Add(2*24*time.Hour))); err != nil {
		t.Fatal(err)
	}

	clock.Set(storetest.Start.Add(storetest.Week + time.Hour))
	removed, err := s.Sweep(ctx)
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if removed != 1 {
		t.Errorf("Sweep: ожидалось 1, получено %d", removed)
	}
	if s.Count() != 1 {
		t.Errorf("Count: ожидалось 1, получено %d", s.Count())
	}
}

func TestReadinessChecker(t *testing.T) {
	s := New(ttl.NewManualClock(storetest.Start), testLogger())
	if _, err := s.Create(context.Background(), storetest.NewDraft("A", "a@example.com", storetest.Start)); err != nil {
		t.Fatal(err)
	}

	status, msg := NewReadinessChecker(s).CheckReady()
	if status != "ok" {
		t.Errorf("ожидался ok, получено %s (%s)", status, msg)
	}
}
