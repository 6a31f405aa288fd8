package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/bigkaa/goartstore/trail-module/internal/authz"
	"github.com/bigkaa/goartstore/trail-module/internal/domain/lifecycle"
	"github.com/bigkaa/goartstore/trail-module/internal/repository"
	"github.com/bigkaa/goartstore/trail-module/internal/service"
	"github.com/bigkaa/goartstore/trail-module/internal/token"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// staticChecker — проверка готовности с фиксированным результатом.
type staticChecker struct {
	status, message string
}

func (c staticChecker) CheckReady() (string, string) {
	return c.status, c.message
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) (code, message string) {
	t.Helper()
	var body struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("тело ошибки не JSON: %v (%s)", err, rec.Body.String())
	}
	return body.Error.Code, body.Error.Message
}

func TestWriteServiceError(t *testing.T) {
	h := NewAPIHandler(nil, NewHealthHandler(), nil, testLogger())

	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"валидация", fmt.Errorf("%w: ownerEmail обязателен", service.ErrValidation), http.StatusBadRequest, "VALIDATION_ERROR"},
		{"чужой черновик", authz.ErrForbidden, http.StatusForbidden, "FORBIDDEN"},
		{"не найден", repository.ErrNotFound, http.StatusNotFound, "NOT_FOUND"},
		{"истёк", repository.ErrGone, http.StatusGone, "GONE"},
		{"переход", &lifecycle.TransitionError{Code: "INVALID_TRANSITION", Message: "draft → completed"}, http.StatusConflict, "INVALID_TRANSITION"},
		{"конфликт версий", repository.ErrConflict, http.StatusConflict, "CONFLICT"},
		{"токен сессии", token.ErrSignatureMismatch, http.StatusUnauthorized, "UNAUTHORIZED"},
		{"дедлайн", fmt.Errorf("чтение: %w", context.DeadlineExceeded), http.StatusServiceUnavailable, "TIMEOUT"},
		{"хранилище", fmt.Errorf("%w: %w", repository.ErrStorage, errors.New("disk full")), http.StatusInternalServerError, "STORAGE_FAILURE"},
		{"прочее", errors.New("boom"), http.StatusInternalServerError, "INTERNAL_ERROR"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.writeServiceError(rec, httptest.NewRequest(http.MethodGet, "/", nil), tt.err, "операция", "REF-1")

			if rec.Code != tt.wantStatus {
				t.Errorf("статус: ожидался %d, получено %d", tt.wantStatus, rec.Code)
			}
			code, msg := decodeError(t, rec)
			if code != tt.wantCode {
				t.Errorf("код: ожидался %s, получено %s", tt.wantCode, code)
			}
			if strings.Contains(msg, "disk full") {
				t.Error("детали сбоя хранилища не должны попадать в ответ")
			}
		})
	}
}

func TestWithCode(t *testing.T) {
	var got string
	r := chi.NewRouter()
	r.Get("/drafts/{code}", WithCode(func(w http.ResponseWriter, _ *http.Request, code string) {
		got = code
		w.WriteHeader(http.StatusOK)
	}))

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/drafts/REF%201", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("ожидался 200, получено %d", rec.Code)
	}
	if got != "REF 1" {
		t.Errorf("code: ожидался %q, получено %q", "REF 1", got)
	}
}

func TestHealthReady(t *testing.T) {
	tests := []struct {
		name       string
		checkers   []NamedChecker
		wantStatus int
		wantResult string
	}{
		{"без проверок", nil, http.StatusServiceUnavailable, "fail"},
		{"ok", []NamedChecker{{Name: "store", Checker: staticChecker{"ok", "доступно"}}}, http.StatusOK, "ok"},
		{"degraded", []NamedChecker{
			{Name: "store", Checker: staticChecker{"ok", ""}},
			{Name: "jwks", Checker: staticChecker{"degraded", "нет ключей"}},
		}, http.StatusOK, "degraded"},
		{"fail", []NamedChecker{{Name: "store", Checker: staticChecker{"fail", "недоступно"}}}, http.StatusServiceUnavailable, "fail"},
		{"nil checker", []NamedChecker{{Name: "store"}}, http.StatusServiceUnavailable, "fail"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHealthHandler(tt.checkers...)
			rec := httptest.NewRecorder()
			h.HealthReady(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))

			if rec.Code != tt.wantStatus {
				t.Errorf("статус: ожидался %d, получено %d", tt.wantStatus, rec.Code)
			}
			var resp healthReadyResponse
			if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
				t.Fatal(err)
			}
			if resp.Status != tt.wantResult {
				t.Errorf("итог: ожидался %s, получено %s", tt.wantResult, resp.Status)
			}
			if resp.Service != "trail-module" {
				t.Errorf("service: получено %q", resp.Service)
			}
			for _, c := range tt.checkers {
				if _, ok := resp.Checks[c.Name]; !ok {
					t.Errorf("нет результата проверки %s", c.Name)
				}
			}
		})
	}
}

func TestCreateDraft_BadBody(t *testing.T) {
	h := NewAPIHandler(nil, NewHealthHandler(), nil, testLogger())

	rec := httptest.NewRecorder()
	h.CreateDraft(rec, httptest.NewRequest(http.MethodPost, "/api/v1/drafts", strings.NewReader("{not json")))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("ожидался 400, получено %d", rec.Code)
	}

	big := `{"referenceCode":"R","ownerEmail":"a@x.com","payload":"` + strings.Repeat("x", maxBodyBytes) + `"}`
	rec = httptest.NewRecorder()
	h.CreateDraft(rec, httptest.NewRequest(http.MethodPost, "/api/v1/drafts", strings.NewReader(big)))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("большое тело: ожидался 400, получено %d", rec.Code)
	}
}
