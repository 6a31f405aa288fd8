package ttl

import (
	"testing"
	"time"
)

// TestNewPolicy_Invalid проверяет отказ для неположительного TTL.
func TestNewPolicy_Invalid(t *testing.T) {
	for _, d := range []time.Duration{0, -time.Second} {
		if _, err := NewPolicy(d); err == nil {
			t.Errorf("NewPolicy(%s): ожидалась ошибка", d)
		}
	}
}

// TestExpiresAt проверяет расчёт момента истечения.
func TestExpiresAt(t *testing.T) {
	p, err := NewPolicy(DefaultTTL)
	if err != nil {
		t.Fatal(err)
	}
	created := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	got := p.ExpiresAt(created)
	want := time.Date(2026, 1, 8, 12, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("ExpiresAt = %v, ожидалось %v", got, want)
	}
}

// TestIsExpired_Boundary проверяет границу истечения с точностью до миллисекунды.
func TestIsExpired_Boundary(t *testing.T) {
	expires := time.Date(2026, 1, 8, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		now  time.Time
		want bool
	}{
		{"за 1ms до истечения", expires.Add(-time.Millisecond), false},
		{"ровно в момент истечения", expires, false},
		{"через 1ms после истечения", expires.Add(time.Millisecond), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsExpired(expires, tt.now); got != tt.want {
				t.Errorf("IsExpired = %v, ожидалось %v", got, tt.want)
			}
		})
	}
}

// TestDaysRemaining проверяет округление вверх и нижнюю границу 0.
func TestDaysRemaining(t *testing.T) {
	expires := time.Date(2026, 1, 8, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		now  time.Time
		want int
	}{
		{"ровно 7 суток", expires.Add(-7 * 24 * time.Hour), 7},
		{"6 суток и 1 секунда", expires.Add(-6*24*time.Hour - time.Second), 7},
		{"ровно 6 суток", expires.Add(-6 * 24 * time.Hour), 6},
		{"1 минута", expires.Add(-time.Minute), 1},
		{"истекла", expires.Add(time.Hour), 0},
		{"в момент истечения", expires, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DaysRemaining(expires, tt.now); got != tt.want {
				t.Errorf("DaysRemaining = %d, ожидалось %d", got, tt.want)
			}
		})
	}
}

// TestManualClock проверяет управляемые часы.
func TestManualClock(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewManualClock(start)

	c.Advance(time.Hour)
	if got := c.Now(); !got.Equal(start.Add(time.Hour)) {
		t.Errorf("Now = %v после Advance", got)
	}

	c.Set(start)
	if got := c.Now(); !got.Equal(start) {
		t.Errorf("Now = %v после Set", got)
	}
}
