// Пакет model — доменные модели Trail Module.
// DraftTrail — единая структура черновика, используется как in-memory
// представление, как формат файла коллекции и как тело API-ответа.
package model

import (
	"encoding/json"
	"time"

	"github.com/bigkaa/goartstore/trail-module/internal/domain/lifecycle"
	"github.com/bigkaa/goartstore/trail-module/internal/domain/ttl"
)

// DraftTrail — черновик, адресуемый клиентским referenceCode.
type DraftTrail struct {
	// ReferenceCode — клиентский ключ черновика (уникален в хранилище)
	ReferenceCode string `json:"referenceCode"`

	// OwnerID — идентификатор владельца, subject самоподписанного токена
	OwnerID string `json:"ownerId"`

	// OwnerEmail — email владельца, сравнивается с email из внешнего токена
	OwnerEmail string `json:"ownerEmail"`

	// Payload — произвольный JSON, возвращается без изменений
	Payload json.RawMessage `json:"payload,omitempty"`

	// Status — текущий статус жизненного цикла
	Status lifecycle.Status `json:"status"`

	// IsPaid — флаг оплаты
	IsPaid bool `json:"isPaid"`

	// PaidAt — момент установки флага оплаты (nil, если не оплачен)
	PaidAt *time.Time `json:"paidAt"`

	// CreatedAt — момент создания (UTC)
	CreatedAt time.Time `json:"createdAt"`

	// ExpiresAt — момент истечения, фиксируется при создании
	ExpiresAt time.Time `json:"expiresAt"`

	// DaysRemaining — вычисляется при каждом чтении, не является источником истины
	DaysRemaining int `json:"daysRemaining"`

	// Version — счётчик записей, увеличивается при каждом изменении
	Version int64 `json:"version"`
}

// Clone возвращает глубокую копию черновика.
func (d *DraftTrail) Clone() *DraftTrail {
	if d == nil {
		return nil
	}
	c := *d
	if d.Payload != nil {
		c.Payload = append(json.RawMessage(nil), d.Payload...)
	}
	if d.PaidAt != nil {
		t := *d.PaidAt
		c.PaidAt = &t
	}
	return &c
}

// IsExpired проверяет истечение черновика на момент now.
func (d *DraftTrail) IsExpired(now time.Time) bool {
	return ttl.IsExpired(d.ExpiresAt, now)
}

// WithDaysRemaining возвращает копию с рассчитанным daysRemaining.
func (d *DraftTrail) WithDaysRemaining(now time.Time) *DraftTrail {
	c := d.Clone()
	c.DaysRemaining = ttl.DaysRemaining(c.ExpiresAt, now)
	return c
}
