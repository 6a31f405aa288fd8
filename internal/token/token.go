// Пакет token — самоподписанные токены сессии и извлечение
// идентичности из внешних токенов (JWT).
//
// Самоподписанный токен: base64(subject:timestampMillis:hexHMAC),
// HMAC-SHA256 над "subject:timestampMillis" с секретом сервиса.
// Внешний токен: JWT из трёх сегментов, claims sub и email обязательны.
// Проверка подписи внешнего токена делегируется Verifier.
package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/bigkaa/goartstore/trail-module/internal/domain/ttl"
)

// Причины отказа в токене.
var (
	// ErrMalformed — токен не разбирается (base64, число сегментов, timestamp, JSON).
	ErrMalformed = errors.New("токен повреждён")
	// ErrSignatureMismatch — подпись не совпадает.
	ErrSignatureMismatch = errors.New("подпись токена не совпадает")
	// ErrExpired — срок действия токена истёк.
	ErrExpired = errors.New("срок действия токена истёк")
	// ErrMissingClaims — во внешнем токене нет sub или email.
	ErrMissingClaims = errors.New("в токене нет обязательных claims")
	// ErrInvalidSubject — subject пуст или содержит ':'.
	ErrInvalidSubject = errors.New("недопустимый subject токена")
)

// Options — параметры Service.
type Options struct {
	// Secret — секрет HMAC для самоподписанных токенов (обязательный).
	Secret string
	// SelfTokenMaxAge — максимальный возраст самоподписанного токена (0 = без ограничения).
	SelfTokenMaxAge time.Duration
	// Verifier — проверка подписи внешних токенов (обязательный).
	Verifier Verifier
	// Leeway — допустимое расхождение часов при проверке exp внешнего токена.
	Leeway time.Duration
	// Clock — источник времени (по умолчанию ttl.SystemClock).
	Clock ttl.Clock
}

// Service выпускает и проверяет самоподписанные токены,
// извлекает идентичность из внешних токенов.
type Service struct {
	secret   []byte
	maxAge   time.Duration
	verifier Verifier
	leeway   time.Duration
	clock    ttl.Clock
}

// New создаёт Service. Пустой секрет — ошибка конфигурации.
func New(opts Options) (*Service, error) {
	if opts.Secret == "" {
		return nil, fmt.Errorf("секрет токенов не задан")
	}
	if opts.Verifier == nil {
		return nil, fmt.Errorf("не задана проверка подписи внешних токенов")
	}
	if opts.SelfTokenMaxAge < 0 {
		return nil, fmt.Errorf("максимальный возраст токена должен быть >= 0")
	}
	clock := opts.Clock
	if clock == nil {
		clock = ttl.SystemClock{}
	}

	return &Service{
		secret:   []byte(opts.Secret),
		maxAge:   opts.SelfTokenMaxAge,
		verifier: opts.Verifier,
		leeway:   opts.Leeway,
		clock:    clock,
	}, nil
}
