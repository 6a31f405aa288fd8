// routes.go — маршруты Trail Module.
//
// Приоритет совпадения под /api/v1/drafts:
//  1. литеральный хвост: /mine
//  2. литеральный хвост после кода: /{code}/status, /{code}/paid
//  3. один динамический сегмент: /{code}
//
// chi проверяет статические сегменты раньше параметров, поэтому
// /drafts/mine никогда не попадает в /{code}. Код "mine" отклоняется
// при создании, и литеральный путь не может совпасть с записью.
package server

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	apierrors "github.com/bigkaa/goartstore/trail-module/internal/api/errors"
	"github.com/bigkaa/goartstore/trail-module/internal/api/handlers"
	"github.com/bigkaa/goartstore/trail-module/internal/api/middleware"
	"github.com/bigkaa/goartstore/trail-module/internal/authz"
)

// RouterConfig — зависимости роутера.
type RouterConfig struct {
	Handler *handlers.APIHandler
	Gate    *authz.Gate
	Logger  *slog.Logger
	// RequestTimeout — дедлайн обработки запроса API (0 — без дедлайна)
	RequestTimeout time.Duration
	// DebugRoutes — включить GET /api/v1/debug/drafts
	DebugRoutes bool
}

// NewRouter собирает chi-роутер со всеми маршрутами и middleware.
func NewRouter(rc RouterConfig) chi.Router {
	h := rc.Handler
	requireID := rc.Gate.RequireIdentity(handlers.RejectUnauthorized)

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(middleware.RequestLogger(rc.Logger))
	r.Use(middleware.MetricsMiddleware())
	r.Use(chimw.Recoverer)

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		apierrors.NotFound(w, "Маршрут не найден")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		apierrors.WriteError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Метод не поддерживается")
	})

	r.Get("/health/live", h.HealthLive)
	r.Get("/health/ready", h.HealthReady)
	r.Get("/metrics", h.GetMetrics)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Deadline(rc.RequestTimeout))

		r.Get("/openapi.json", h.GetOpenAPI)
		r.Get("/session", h.GetSession)

		r.Route("/drafts", func(r chi.Router) {
			r.Post("/", h.CreateDraft)
			r.With(requireID).Get("/mine", h.ListMyDrafts)

			r.With(requireID).Put("/{code}/status", handlers.WithCode(h.UpdateDraftStatus))
			r.With(requireID).Put("/{code}/paid", handlers.WithCode(h.UpdateDraftPaid))

			r.Get("/{code}", handlers.WithCode(h.GetDraft))
			r.With(requireID).Delete("/{code}", handlers.WithCode(h.DeleteDraft))
		})

		if rc.DebugRoutes {
			rc.Logger.Warn("Отладочный маршрут /api/v1/debug/drafts включён")
			r.Get("/debug/drafts", h.DebugListDrafts)
		}
	})

	return r
}
