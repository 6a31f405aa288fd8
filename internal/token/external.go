package token

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Identity — идентичность из внешнего токена.
type Identity struct {
	Subject   string
	Email     string
	ExpiresAt *time.Time
}

// externalClaims — claims внешнего токена, используемые сервисом.
type externalClaims struct {
	Subject   string           `json:"sub"`
	Email     string           `json:"email"`
	ExpiresAt *jwt.NumericDate `json:"exp"`
}

// ExtractExternalIdentity разбирает внешний токен и возвращает идентичность.
//
// Порядок проверок:
//  1. ровно три сегмента через '.', payload — base64url JSON (ErrMalformed)
//  2. подпись через Verifier (ErrSignatureMismatch)
//  3. наличие sub и email (ErrMissingClaims)
//  4. exp, если задан, не в прошлом с учётом leeway (ErrExpired)
func (s *Service) ExtractExternalIdentity(ctx context.Context, tok string) (*Identity, error) {
	segments := strings.Split(strings.TrimSpace(tok), ".")
	if len(segments) != 3 {
		return nil, fmt.Errorf("%w: ожидалось 3 сегмента, получено %d", ErrMalformed, len(segments))
	}

	payload, err := decodeSegment(segments[1])
	if err != nil {
		return nil, fmt.Errorf("%w: payload не base64url", ErrMalformed)
	}

	var claims externalClaims
	if err := json.Unmarshal(payload, &claims); err != nil {
		return nil, fmt.Errorf("%w: payload не JSON", ErrMalformed)
	}

	if err := s.verifier.Verify(ctx, tok); err != nil {
		return nil, err
	}

	if strings.TrimSpace(claims.Subject) == "" || strings.TrimSpace(claims.Email) == "" {
		return nil, ErrMissingClaims
	}

	id := &Identity{
		Subject: claims.Subject,
		Email:   strings.TrimSpace(claims.Email),
	}
	if claims.ExpiresAt != nil {
		exp := claims.ExpiresAt.UTC()
		if s.clock.Now().After(exp.Add(s.leeway)) {
			return nil, ErrExpired
		}
		id.ExpiresAt = &exp
	}
	return id, nil
}

// decodeSegment декодирует сегмент JWT (base64url, с выравниванием или без).
func decodeSegment(seg string) ([]byte, error) {
	if data, err := base64.RawURLEncoding.DecodeString(seg); err == nil {
		return data, nil
	}
	return base64.URLEncoding.DecodeString(seg)
}
