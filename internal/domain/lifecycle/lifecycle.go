// Пакет lifecycle — статусы черновика и таблица допустимых переходов.
//
// Жизненный цикл:
//   - draft → payment_pending | payment_completed | payment_failed | submitted
//   - payment_pending → payment_completed | payment_failed
//   - payment_failed → payment_pending | draft
//   - submitted → payment_pending | completed
//   - payment_completed, completed, expired — конечные
//
// Статус expired выставляется только по TTL, явный переход в него запрещён.
// Режим freeform разрешает любой допустимый статус поверх любого.
package lifecycle

import (
	"fmt"
	"strings"
)

// Status — статус черновика.
type Status string

const (
	StatusDraft            Status = "draft"
	StatusPaymentPending   Status = "payment_pending"
	StatusPaymentCompleted Status = "payment_completed"
	StatusPaymentFailed    Status = "payment_failed"
	StatusSubmitted        Status = "submitted"
	StatusCompleted        Status = "completed"
	StatusExpired          Status = "expired"
)

// Mode — режим проверки переходов.
type Mode string

const (
	// ModeStrict — переходы только по таблице validTransitions
	ModeStrict Mode = "strict"
	// ModeFreeform — любой допустимый статус, кроме expired
	ModeFreeform Mode = "freeform"
)

// validTransitions — матрица допустимых переходов.
// Ключ — текущий статус, значение — набор допустимых целевых статусов.
var validTransitions = map[Status]map[Status]bool{
	StatusDraft: {
		StatusPaymentPending:   true,
		StatusPaymentCompleted: true,
		StatusPaymentFailed:    true,
		StatusSubmitted:        true,
	},
	StatusPaymentPending:   {StatusPaymentCompleted: true, StatusPaymentFailed: true},
	StatusPaymentFailed:    {StatusPaymentPending: true, StatusDraft: true},
	StatusSubmitted:        {StatusPaymentPending: true, StatusCompleted: true},
	StatusPaymentCompleted: {},
	StatusCompleted:        {},
	StatusExpired:          {}, // Только по TTL
}

// Machine проверяет переходы в заданном режиме. Не хранит состояние:
// текущий статус принадлежит записи в хранилище.
type Machine struct {
	mode Mode
}

// NewMachine создаёт проверку переходов для режима m.
func NewMachine(m Mode) (*Machine, error) {
	if m != ModeStrict && m != ModeFreeform {
		return nil, fmt.Errorf("недопустимый режим статусов: %q, допустимые: strict, freeform", m)
	}
	return &Machine{mode: m}, nil
}

// Mode возвращает режим проверки.
func (m *Machine) Mode() Mode {
	return m.mode
}

// CanTransition проверяет допустимость перехода from → to.
func (m *Machine) CanTransition(from, to Status) bool {
	return m.Check(from, to) == nil
}

// Check возвращает *TransitionError, если переход from → to недопустим.
// Запись того же статуса всегда разрешена.
func (m *Machine) Check(from, to Status) error {
	if !IsValid(to) {
		return &TransitionError{
			Code:    "INVALID_TRANSITION",
			Message: fmt.Sprintf("недопустимый целевой статус: %q", to),
		}
	}
	if from == to {
		return nil
	}
	if to == StatusExpired {
		return &TransitionError{
			Code:    "INVALID_TRANSITION",
			Message: "статус expired выставляется только по истечении TTL",
		}
	}
	if m.mode == ModeFreeform {
		return nil
	}

	if !validTransitions[from][to] {
		return &TransitionError{
			Code:    "INVALID_TRANSITION",
			Message: fmt.Sprintf("переход %s → %s недопустим", from, to),
		}
	}
	return nil
}

// TransitionError — ошибка перехода между статусами.
type TransitionError struct {
	Code    string // Машиночитаемый код (INVALID_TRANSITION)
	Message string // Человекочитаемое описание
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// IsValid проверяет, является ли значение известным статусом.
func IsValid(s Status) bool {
	switch s {
	case StatusDraft, StatusPaymentPending, StatusPaymentCompleted, StatusPaymentFailed,
		StatusSubmitted, StatusCompleted, StatusExpired:
		return true
	default:
		return false
	}
}

// ParseStatus преобразует строку в Status.
func ParseStatus(s string) (Status, error) {
	st := Status(strings.TrimSpace(s))
	if !IsValid(st) {
		return "", fmt.Errorf("недопустимый статус: %q", s)
	}
	return st, nil
}

// ParseMode преобразует строку в Mode.
func ParseMode(s string) (Mode, error) {
	m := Mode(strings.ToLower(strings.TrimSpace(s)))
	switch m {
	case ModeStrict, ModeFreeform:
		return m, nil
	default:
		return "", fmt.Errorf("недопустимый режим статусов: %q, допустимые: strict, freeform", s)
	}
}
