// Пакет authz — аутентификация по внешнему токену и проверка владения.
//
// Изменение черновика (статус, оплата, удаление) разрешено только
// владельцу: email из токена должен совпасть с ownerEmail записи.
// Создание и анонимное чтение по коду проверки не требуют.
package authz

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/bigkaa/goartstore/trail-module/internal/domain/model"
	"github.com/bigkaa/goartstore/trail-module/internal/token"
)

// ErrForbidden — идентичность не является владельцем черновика.
// Сообщение не раскрывает владельца.
var ErrForbidden = errors.New("изменение черновика разрешено только его владельцу")

// AuthError — отказ в аутентификации с причиной для диагностики.
type AuthError struct {
	Reason string // Причина отказа (для логов)
	Err    error  // Исходная ошибка (token.ErrMalformed и т.д.)
}

func (e *AuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("не аутентифицирован: %s: %v", e.Reason, e.Err)
	}
	return "не аутентифицирован: " + e.Reason
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

// IdentityExtractor — источник идентичности из внешнего токена.
type IdentityExtractor interface {
	ExtractExternalIdentity(ctx context.Context, tok string) (*token.Identity, error)
}

// Gate — проверка аутентификации и владения.
type Gate struct {
	extractor IdentityExtractor
	logger    *slog.Logger
}

// NewGate создаёт Gate.
func NewGate(extractor IdentityExtractor, logger *slog.Logger) *Gate {
	return &Gate{
		extractor: extractor,
		logger:    logger.With(slog.String("component", "authz")),
	}
}

// Authenticate извлекает идентичность из заголовка Authorization: Bearer <token>.
func (g *Gate) Authenticate(r *http.Request) (*token.Identity, error) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return nil, &AuthError{Reason: "отсутствует заголовок Authorization"}
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return nil, &AuthError{Reason: "неверный формат Authorization: ожидается Bearer <token>"}
	}

	tok := strings.TrimSpace(parts[1])
	if tok == "" {
		return nil, &AuthError{Reason: "пустой Bearer token"}
	}

	id, err := g.extractor.ExtractExternalIdentity(r.Context(), tok)
	if err != nil {
		return nil, &AuthError{Reason: reasonOf(err), Err: err}
	}
	return id, nil
}

// AuthorizeMutation проверяет, что identity — владелец записи.
// Email сравнивается без учёта регистра и пробелов по краям.
func AuthorizeMutation(id *token.Identity, d *model.DraftTrail) error {
	if id == nil || d == nil {
		return ErrForbidden
	}
	if !strings.EqualFold(strings.TrimSpace(id.Email), strings.TrimSpace(d.OwnerEmail)) {
		return ErrForbidden
	}
	return nil
}

// reasonOf возвращает краткую причину отказа по ошибке токена.
func reasonOf(err error) string {
	switch {
	case errors.Is(err, token.ErrMalformed):
		return "токен повреждён"
	case errors.Is(err, token.ErrSignatureMismatch):
		return "подпись не совпадает"
	case errors.Is(err, token.ErrExpired):
		return "срок действия истёк"
	case errors.Is(err, token.ErrMissingClaims):
		return "нет sub или email"
	default:
		return "токен отклонён"
	}
}

// --- контекст запроса ---

// contextKey — тип для ключей контекста (избегаем коллизий).
type contextKey string

// ContextKeyIdentity — ключ идентичности в контексте запроса.
const ContextKeyIdentity contextKey = "trail_identity"

// WithIdentity возвращает контекст с идентичностью.
func WithIdentity(ctx context.Context, id *token.Identity) context.Context {
	return context.WithValue(ctx, ContextKeyIdentity, id)
}

// IdentityFromContext извлекает идентичность из контекста.
// Возвращает nil, если запрос не прошёл RequireIdentity.
func IdentityFromContext(ctx context.Context) *token.Identity {
	id, _ := ctx.Value(ContextKeyIdentity).(*token.Identity)
	return id
}

// RequireIdentity — HTTP middleware: аутентифицирует запрос и кладёт
// идентичность в контекст. При отказе вызывает reject.
func (g *Gate) RequireIdentity(reject func(w http.ResponseWriter, r *http.Request, err *AuthError)) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, err := g.Authenticate(r)
			if err != nil {
				var authErr *AuthError
				errors.As(err, &authErr)
				g.logger.Debug("Аутентификация не пройдена",
					slog.String("reason", authErr.Reason),
					slog.String("path", r.URL.Path),
					slog.String("remote_addr", r.RemoteAddr),
				)
				reject(w, r, authErr)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
		})
	}
}
