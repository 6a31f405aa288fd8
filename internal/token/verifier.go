package token

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/MicahParks/jwkset"
	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"
)

// Verifier проверяет подпись внешнего токена.
// Claims (exp, sub, email) проверяет Service, не Verifier.
type Verifier interface {
	Verify(ctx context.Context, tok string) error
}

// --- trust ---

// TrustVerifier не проверяет подпись. Допустим только за шлюзом,
// который сам проверяет токены.
type TrustVerifier struct{}

// NewTrustVerifier создаёт TrustVerifier и предупреждает об этом в логе.
func NewTrustVerifier(logger *slog.Logger) *TrustVerifier {
	logger.Warn("Подпись внешних токенов НЕ проверяется (TM_EXTERNAL_TOKEN_MODE=trust)")
	return &TrustVerifier{}
}

// Verify всегда успешен.
func (TrustVerifier) Verify(context.Context, string) error {
	return nil
}

// --- hmac ---

// HMACVerifier проверяет подпись HS256 общим секретом.
type HMACVerifier struct {
	secret []byte
}

// NewHMACVerifier создаёт HMACVerifier. Пустой секрет — ошибка.
func NewHMACVerifier(secret string) (*HMACVerifier, error) {
	if secret == "" {
		return nil, fmt.Errorf("общий секрет внешних токенов не задан")
	}
	return &HMACVerifier{secret: []byte(secret)}, nil
}

// Verify проверяет подпись HS256.
func (v *HMACVerifier) Verify(_ context.Context, tok string) error {
	_, err := jwt.Parse(tok, func(*jwt.Token) (any, error) {
		return v.secret, nil
	},
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithoutClaimsValidation(),
	)
	return classifyJWTError(err)
}

// --- jwks ---

// JWKSConfig — параметры JWKSVerifier.
type JWKSConfig struct {
	// URL JWKS endpoint
	URL string
	// Таймаут HTTP-клиента JWKS
	ClientTimeout time.Duration
	// Интервал обновления ключей
	RefreshInterval time.Duration
}

// JWKSVerifier проверяет подпись RS256 ключами из JWKS.
type JWKSVerifier struct {
	jwks keyfunc.Keyfunc
}

// NewJWKSVerifier создаёт JWKSVerifier с фоновым обновлением ключей.
// Недоступность JWKS при старте не является ошибкой:
// ключи будут получены при следующем обновлении.
func NewJWKSVerifier(ctx context.Context, cfg JWKSConfig, logger *slog.Logger) (*JWKSVerifier, error) {
	storage, err := jwkset.NewStorageFromHTTP(cfg.URL, jwkset.HTTPClientStorageOptions{
		Client:                    &http.Client{Timeout: cfg.ClientTimeout},
		Ctx:                       ctx,
		NoErrorReturnFirstHTTPReq: true,
		RefreshInterval:           cfg.RefreshInterval,
		RefreshErrorHandler: func(_ context.Context, err error) {
			logger.Error("Ошибка обновления JWKS",
				slog.String("error", err.Error()),
				slog.String("url", cfg.URL),
			)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("создание JWKS storage: %w", err)
	}

	k, err := keyfunc.New(keyfunc.Options{
		Ctx:     ctx,
		Storage: storage,
	})
	if err != nil {
		return nil, fmt.Errorf("создание keyfunc: %w", err)
	}

	logger.Info("Проверка внешних токенов через JWKS",
		slog.String("url", cfg.URL),
		slog.Duration("refresh_interval", cfg.RefreshInterval),
	)
	return &JWKSVerifier{jwks: k}, nil
}

// NewJWKSVerifierWithKeyfunc создаёт JWKSVerifier с готовой keyfunc.
// Используется в тестах для подстановки JWKS.
func NewJWKSVerifierWithKeyfunc(kf keyfunc.Keyfunc) *JWKSVerifier {
	return &JWKSVerifier{jwks: kf}
}

// Verify проверяет подпись RS256.
func (v *JWKSVerifier) Verify(ctx context.Context, tok string) error {
	_, err := jwt.Parse(tok, v.jwks.KeyfuncCtx(ctx),
		jwt.WithValidMethods([]string{"RS256"}),
		jwt.WithoutClaimsValidation(),
	)
	return classifyJWTError(err)
}

// classifyJWTError приводит ошибку jwt к причинам отказа пакета.
func classifyJWTError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, jwt.ErrTokenMalformed):
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	default:
		// Неверная подпись, неизвестный kid, недопустимый алгоритм
		return fmt.Errorf("%w: %v", ErrSignatureMismatch, err)
	}
}
