// Пакет ttl — политика времени жизни черновиков и источник времени.
//
// Срок истечения фиксируется один раз при создании (createdAt + TTL)
// и никогда не пересчитывается. daysRemaining — производная величина,
// вычисляется только при чтении.
package ttl

import (
	"fmt"
	"math"
	"sync"
	"time"
)

// DefaultTTL — время жизни черновика по умолчанию (7 суток).
const DefaultTTL = 7 * 24 * time.Hour

// day — длительность суток для расчёта daysRemaining.
const day = 24 * time.Hour

// Clock — источник текущего времени.
// Все операции хранилища и токенов получают время только через Clock.
type Clock interface {
	Now() time.Time
}

// SystemClock — системные часы (UTC).
type SystemClock struct{}

// Now возвращает текущее время в UTC.
func (SystemClock) Now() time.Time {
	return time.Now().UTC()
}

// ManualClock — управляемые часы для тестов.
type ManualClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewManualClock создаёт часы, остановленные на моменте t.
func NewManualClock(t time.Time) *ManualClock {
	return &ManualClock{now: t}
}

// Now возвращает установленное время.
func (c *ManualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Set устанавливает текущее время.
func (c *ManualClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

// Advance сдвигает часы вперёд на d.
func (c *ManualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Policy — политика TTL.
type Policy struct {
	ttl time.Duration
}

// NewPolicy создаёт политику с указанным TTL.
// TTL должен быть положительным.
func NewPolicy(d time.Duration) (Policy, error) {
	if d <= 0 {
		return Policy{}, fmt.Errorf("TTL должен быть > 0, получено %s", d)
	}
	return Policy{ttl: d}, nil
}

// TTL возвращает время жизни.
func (p Policy) TTL() time.Duration {
	return p.ttl
}

// ExpiresAt вычисляет момент истечения для записи, созданной в createdAt.
func (p Policy) ExpiresAt(createdAt time.Time) time.Time {
	return createdAt.Add(p.ttl)
}

// IsExpired возвращает true, если now строго позже expiresAt.
// Ровно в момент expiresAt запись ещё доступна.
func IsExpired(expiresAt, now time.Time) bool {
	return now.After(expiresAt)
}

// DaysRemaining — ceil((expiresAt - now) / 1 сутки), не меньше 0.
func DaysRemaining(expiresAt, now time.Time) int {
	left := expiresAt.Sub(now)
	if left <= 0 {
		return 0
	}
	return int(math.Ceil(float64(left) / float64(day)))
}
