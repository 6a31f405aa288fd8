package lifecycle

import (
	"errors"
	"testing"
)

// TestStrictTransitions проверяет таблицу переходов в строгом режиме.
func TestStrictTransitions(t *testing.T) {
	m, err := NewMachine(ModeStrict)
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		from, to Status
		want     bool
	}{
		{StatusDraft, StatusPaymentPending, true},
		{StatusDraft, StatusPaymentCompleted, true},
		{StatusDraft, StatusSubmitted, true},
		{StatusPaymentPending, StatusPaymentCompleted, true},
		{StatusPaymentPending, StatusPaymentFailed, true},
		{StatusPaymentFailed, StatusDraft, true},
		{StatusSubmitted, StatusCompleted, true},
		{StatusDraft, StatusCompleted, false},
		{StatusPaymentCompleted, StatusDraft, false},
		{StatusCompleted, StatusPaymentPending, false},
		{StatusPaymentPending, StatusDraft, false},
		{StatusDraft, StatusExpired, false},
		{StatusCompleted, StatusCompleted, true},
		{StatusExpired, StatusExpired, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			if got := m.CanTransition(tt.from, tt.to); got != tt.want {
				t.Errorf("CanTransition(%s, %s) = %v, ожидалось %v", tt.from, tt.to, got, tt.want)
			}
		})
	}
}

// TestFreeformTransitions проверяет свободный режим.
func TestFreeformTransitions(t *testing.T) {
	m, err := NewMachine(ModeFreeform)
	if err != nil {
		t.Fatal(err)
	}

	if !m.CanTransition(StatusCompleted, StatusDraft) {
		t.Error("freeform: completed → draft должен быть разрешён")
	}
	if m.CanTransition(StatusDraft, StatusExpired) {
		t.Error("freeform: явный переход в expired должен быть запрещён")
	}
	if m.CanTransition(StatusDraft, Status("archived")) {
		t.Error("freeform: неизвестный статус должен быть запрещён")
	}
}

// TestCheck_TransitionError проверяет тип и код ошибки.
func TestCheck_TransitionError(t *testing.T) {
	m, _ := NewMachine(ModeStrict)

	err := m.Check(StatusCompleted, StatusDraft)
	var te *TransitionError
	if !errors.As(err, &te) {
		t.Fatalf("ожидалась *TransitionError, получено %T", err)
	}
	if te.Code != "INVALID_TRANSITION" {
		t.Errorf("Code = %q, ожидалось INVALID_TRANSITION", te.Code)
	}
	if te.Error() == "" {
		t.Error("Error() не должен быть пустым")
	}
}

// TestNewMachine_InvalidMode проверяет отказ для неизвестного режима.
func TestNewMachine_InvalidMode(t *testing.T) {
	if _, err := NewMachine(Mode("loose")); err == nil {
		t.Error("ожидалась ошибка для режима loose")
	}
}

// TestParseStatus проверяет разбор статусов.
func TestParseStatus(t *testing.T) {
	for _, s := range []string{"draft", "payment_pending", "payment_completed", "payment_failed", "submitted", "completed", "expired"} {
		if _, err := ParseStatus(s); err != nil {
			t.Errorf("ParseStatus(%q): неожиданная ошибка %v", s, err)
		}
	}
	for _, s := range []string{"", "Draft", "paid", "archived"} {
		if _, err := ParseStatus(s); err == nil {
			t.Errorf("ParseStatus(%q): ожидалась ошибка", s)
		}
	}
}

// TestParseMode проверяет разбор режима.
func TestParseMode(t *testing.T) {
	if m, err := ParseMode("FREEFORM"); err != nil || m != ModeFreeform {
		t.Errorf("ParseMode(FREEFORM) = %q, %v", m, err)
	}
	if _, err := ParseMode("x"); err == nil {
		t.Error("ParseMode(x): ожидалась ошибка")
	}
}
