// handler.go — основной обработчик API Trail Module.
// Объединяет health, OpenAPI контракт и обработчики черновиков.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/oapi-codegen/runtime"

	apierrors "github.com/bigkaa/goartstore/trail-module/internal/api/errors"
	"github.com/bigkaa/goartstore/trail-module/internal/authz"
	"github.com/bigkaa/goartstore/trail-module/internal/domain/lifecycle"
	"github.com/bigkaa/goartstore/trail-module/internal/domain/model"
	"github.com/bigkaa/goartstore/trail-module/internal/repository"
	"github.com/bigkaa/goartstore/trail-module/internal/service"
	"github.com/bigkaa/goartstore/trail-module/internal/token"
)

// maxBodyBytes — предел размера тела запроса.
const maxBodyBytes = 1 << 20

// DraftService — операции над черновиками, используемые обработчиками.
type DraftService interface {
	Create(ctx context.Context, in service.CreateDraftInput) (*service.CreateDraftResult, error)
	Get(ctx context.Context, code string) (*model.DraftTrail, error)
	ListOwn(ctx context.Context, id *token.Identity) ([]*model.DraftTrail, error)
	ListAll(ctx context.Context) ([]*model.DraftTrail, error)
	UpdateStatus(ctx context.Context, id *token.Identity, code, status string) (*model.DraftTrail, error)
	UpdatePaid(ctx context.Context, id *token.Identity, code string, isPaid bool) (*model.DraftTrail, error)
	Delete(ctx context.Context, id *token.Identity, code string) error
	Session(ctx context.Context, selfToken string) (*service.Session, error)
}

// APIHandler — основной обработчик API Trail Module.
type APIHandler struct {
	drafts  DraftService
	health  *HealthHandler
	openAPI []byte
	logger  *slog.Logger
}

// NewAPIHandler создаёт основной обработчик API.
// openAPI — контракт в JSON для GET /api/v1/openapi.json.
func NewAPIHandler(
	drafts DraftService,
	health *HealthHandler,
	openAPI []byte,
	logger *slog.Logger,
) *APIHandler {
	return &APIHandler{
		drafts:  drafts,
		health:  health,
		openAPI: openAPI,
		logger:  logger.With(slog.String("component", "api_handler")),
	}
}

// --- Health endpoints (делегируются в HealthHandler) ---

// HealthLive — liveness probe.
func (h *APIHandler) HealthLive(w http.ResponseWriter, r *http.Request) {
	h.health.HealthLive(w, r)
}

// HealthReady — readiness probe.
func (h *APIHandler) HealthReady(w http.ResponseWriter, r *http.Request) {
	h.health.HealthReady(w, r)
}

// GetMetrics — Prometheus метрики.
func (h *APIHandler) GetMetrics(w http.ResponseWriter, r *http.Request) {
	h.health.GetMetrics(w, r)
}

// GetOpenAPI — контракт API.
func (h *APIHandler) GetOpenAPI(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(h.openAPI)
}

// RejectUnauthorized — ответ 401 для authz.Gate.RequireIdentity.
func RejectUnauthorized(w http.ResponseWriter, _ *http.Request, err *authz.AuthError) {
	msg := "Требуется аутентификация"
	if err != nil && err.Reason != "" {
		msg += ": " + err.Reason
	}
	apierrors.Unauthorized(w, msg)
}

// --- Path параметры ---

// CodeHandlerFunc — обработчик с разобранным параметром {code}.
type CodeHandlerFunc func(w http.ResponseWriter, r *http.Request, code string)

// WithCode разбирает path-параметр {code} и передаёт его обработчику.
func WithCode(fn CodeHandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var code string
		err := runtime.BindStyledParameterWithOptions("simple", "code", chi.URLParam(r, "code"), &code,
			runtime.BindStyledParameterOptions{ParamLocation: runtime.ParamLocationPath, Explode: false, Required: true})
		if err != nil {
			apierrors.ValidationError(w, fmt.Sprintf("Некорректный параметр code: %s", err))
			return
		}
		fn(w, r, code)
	}
}

// --- Вспомогательные функции ---

// writeJSON записывает JSON-ответ с указанным статусом.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// decodeBody разбирает JSON-тело запроса в dst.
// При ошибке пишет ответ 400 и возвращает false.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			apierrors.ValidationError(w, fmt.Sprintf("Тело запроса больше %d байт", maxErr.Limit))
			return false
		}
		apierrors.ValidationError(w, "Некорректный JSON: "+err.Error())
		return false
	}
	return true
}

// writeServiceError переводит ошибку сервиса в HTTP-ответ.
// op — описание операции для лога и сообщения 500.
func (h *APIHandler) writeServiceError(w http.ResponseWriter, r *http.Request, err error, op, code string) {
	var terr *lifecycle.TransitionError

	switch {
	case errors.Is(err, service.ErrValidation):
		apierrors.ValidationError(w, err.Error())
	case errors.Is(err, authz.ErrForbidden):
		apierrors.Forbidden(w, authz.ErrForbidden.Error())
	case errors.Is(err, repository.ErrNotFound):
		apierrors.NotFound(w, fmt.Sprintf("Черновик %s не найден", code))
	case errors.Is(err, repository.ErrGone):
		apierrors.Gone(w, fmt.Sprintf("Срок хранения черновика %s истёк", code))
	case errors.As(err, &terr):
		apierrors.InvalidTransition(w, terr.Message)
	case errors.Is(err, repository.ErrConflict):
		apierrors.Conflict(w, "Черновик изменён параллельным запросом, повторите операцию")
	case errors.Is(err, token.ErrMalformed),
		errors.Is(err, token.ErrSignatureMismatch),
		errors.Is(err, token.ErrExpired):
		apierrors.Unauthorized(w, "Токен сессии отклонён: "+err.Error())
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		h.logger.Warn("Запрос прерван по дедлайну",
			slog.String("op", op),
			slog.String("reference_code", code),
			slog.String("path", r.URL.Path),
		)
		apierrors.Timeout(w, "Запрос не уложился в отведённое время")
	case errors.Is(err, repository.ErrStorage):
		h.logger.Error("Сбой хранилища",
			slog.String("op", op),
			slog.String("reference_code", code),
			slog.String("error", err.Error()),
		)
		apierrors.StorageFailure(w, "Сбой хранилища: "+op)
	default:
		h.logger.Error("Внутренняя ошибка",
			slog.String("op", op),
			slog.String("reference_code", code),
			slog.String("error", err.Error()),
		)
		apierrors.InternalError(w, "Внутренняя ошибка: "+op)
	}
}
