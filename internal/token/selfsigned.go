package token

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// SelfIdentity — идентичность из самоподписанного токена.
type SelfIdentity struct {
	Subject  string
	IssuedAt time.Time
}

// IssueSelfSignedToken выпускает токен для subject на текущий момент.
func (s *Service) IssueSelfSignedToken(subject string) (string, error) {
	if subject == "" || strings.Contains(subject, ":") {
		return "", ErrInvalidSubject
	}

	ts := strconv.FormatInt(s.clock.Now().UnixMilli(), 10)
	payload := subject + ":" + ts
	raw := payload + ":" + s.sign(payload)
	return base64.StdEncoding.EncodeToString([]byte(raw)), nil
}

// VerifySelfSignedToken проверяет токен и возвращает subject.
//
// Ошибки:
//   - ErrMalformed — не base64, меньше трёх полей, некорректный timestamp
//   - ErrSignatureMismatch — HMAC не совпадает
//   - ErrExpired — токен старше SelfTokenMaxAge (если задан)
func (s *Service) VerifySelfSignedToken(tok string) (*SelfIdentity, error) {
	decoded, err := base64.StdEncoding.DecodeString(strings.TrimSpace(tok))
	if err != nil {
		return nil, fmt.Errorf("%w: некорректный base64", ErrMalformed)
	}

	// subject не содержит ':', timestamp — только цифры: всё после
	// второго ':' считается подписью и проверяется HMAC.
	fields := strings.SplitN(string(decoded), ":", 3)
	if len(fields) != 3 {
		return nil, fmt.Errorf("%w: ожидалось 3 поля, получено %d", ErrMalformed, len(fields))
	}
	subject, ts, sig := fields[0], fields[1], fields[2]
	if subject == "" {
		return nil, fmt.Errorf("%w: пустой subject", ErrMalformed)
	}

	millis, err := strconv.ParseInt(ts, 10, 64)
	if err != nil || millis < 0 {
		return nil, fmt.Errorf("%w: некорректный timestamp", ErrMalformed)
	}

	expected := s.sign(subject + ":" + ts)
	if !hmac.Equal([]byte(expected), []byte(sig)) {
		return nil, ErrSignatureMismatch
	}

	issuedAt := time.UnixMilli(millis).UTC()
	if s.maxAge > 0 && s.clock.Now().Sub(issuedAt) > s.maxAge {
		return nil, ErrExpired
	}

	return &SelfIdentity{Subject: subject, IssuedAt: issuedAt}, nil
}

// sign возвращает hex(HMAC-SHA256(secret, payload)).
func (s *Service) sign(payload string) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}
