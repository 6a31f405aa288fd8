package service

import (
	"testing"
	"time"

	"github.com/bigkaa/goartstore/trail-module/internal/domain/lifecycle"
	"github.com/bigkaa/goartstore/trail-module/internal/domain/model"
)

func TestCacheService_Disabled(t *testing.T) {
	c := NewCacheService(0, time.Minute)
	if c != nil {
		t.Fatal("размер 0 должен отключать кэш")
	}

	c.Set(&model.DraftTrail{ReferenceCode: "R"})
	if _, ok := c.Get("R"); ok {
		t.Error("отключённый кэш не должен возвращать записи")
	}
	c.Delete("R")
	if c.Len() != 0 {
		t.Error("Len отключённого кэша должен быть 0")
	}
}

func TestCacheService_ReturnsCopies(t *testing.T) {
	c := NewCacheService(4, time.Minute)
	d := &model.DraftTrail{ReferenceCode: "R", Status: lifecycle.StatusDraft}
	c.Set(d)

	d.Status = lifecycle.StatusCompleted // изменение исходника не влияет на кэш

	got, ok := c.Get("R")
	if !ok {
		t.Fatal("ожидалось попадание")
	}
	if got.Status != lifecycle.StatusDraft {
		t.Errorf("кэш хранит ссылку на исходную запись: %s", got.Status)
	}

	got.Status = lifecycle.StatusSubmitted
	again, _ := c.Get("R")
	if again.Status != lifecycle.StatusDraft {
		t.Errorf("кэш отдаёт ссылку на внутреннюю запись: %s", again.Status)
	}

	c.Delete("R")
	if _, ok := c.Get("R"); ok {
		t.Error("после Delete запись не должна находиться")
	}
}

func TestCacheService_TTL(t *testing.T) {
	c := NewCacheService(4, 20*time.Millisecond)
	c.Set(&model.DraftTrail{ReferenceCode: "R"})

	time.Sleep(60 * time.Millisecond)
	if _, ok := c.Get("R"); ok {
		t.Error("запись должна устареть по TTL кэша")
	}
}
