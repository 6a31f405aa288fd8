package service

import (
	"context"
	"testing"
	"time"

	"github.com/bigkaa/goartstore/trail-module/internal/domain/lifecycle"
	"github.com/bigkaa/goartstore/trail-module/internal/domain/ttl"
)

func TestSweeperRunOnce(t *testing.T) {
	env := newTestEnv(t, lifecycle.ModeStrict, 0)
	env.create(t, "OLD-1", "a@x.com")
	env.create(t, "OLD-2", "a@x.com")

	env.clock.Advance(24 * time.Hour)
	env.create(t, "NEW-1", "a@x.com")

	sw := NewSweeper(env.store, time.Hour, testLogger())

	result, err := sw.RunOnce(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if result.Removed != 0 {
		t.Errorf("до истечения ничего не должно удаляться, удалено %d", result.Removed)
	}

	env.clock.Set(testStart.Add(ttl.DefaultTTL + time.Minute))
	result, err = sw.RunOnce(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if result.Removed != 2 {
		t.Errorf("Removed: ожидалось 2, получено %d", result.Removed)
	}
	if env.store.Count() != 1 {
		t.Errorf("в хранилище должен остаться 1 черновик, осталось %d", env.store.Count())
	}
}

func TestSweeperStartStop(t *testing.T) {
	env := newTestEnv(t, lifecycle.ModeStrict, 0)
	env.create(t, "OLD-1", "a@x.com")
	env.clock.Advance(ttl.DefaultTTL + time.Minute)

	sw := NewSweeper(env.store, 10*time.Millisecond, testLogger())
	sw.Start(context.Background())

	deadline := time.Now().Add(2 * time.Second)
	for env.store.Count() != 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	sw.Stop()

	if env.store.Count() != 0 {
		t.Errorf("фоновая очистка не удалила истёкший черновик")
	}
}

func TestSweeperDisabled(t *testing.T) {
	env := newTestEnv(t, lifecycle.ModeStrict, 0)
	env.create(t, "OLD-1", "a@x.com")
	env.clock.Advance(ttl.DefaultTTL + time.Minute)

	sw := NewSweeper(env.store, 0, testLogger())
	sw.Start(context.Background())
	time.Sleep(20 * time.Millisecond)
	sw.Stop()

	if env.store.Count() != 1 {
		t.Errorf("при интервале 0 фоновая очистка не должна запускаться")
	}
}
