package server

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/bigkaa/goartstore/trail-module/internal/api/handlers"
	"github.com/bigkaa/goartstore/trail-module/internal/api/openapi"
	"github.com/bigkaa/goartstore/trail-module/internal/authz"
	"github.com/bigkaa/goartstore/trail-module/internal/domain/lifecycle"
	"github.com/bigkaa/goartstore/trail-module/internal/domain/ttl"
	"github.com/bigkaa/goartstore/trail-module/internal/service"
	"github.com/bigkaa/goartstore/trail-module/internal/storage/memstore"
	"github.com/bigkaa/goartstore/trail-module/internal/token"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

var testStart = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// testAPI — полный стек поверх memstore с управляемыми часами.
type testAPI struct {
	srv   *httptest.Server
	clock *ttl.ManualClock
}

func newTestAPI(t *testing.T, debug bool) *testAPI {
	t.Helper()
	logger := testLogger()
	clock := ttl.NewManualClock(testStart)

	tokens, err := token.New(token.Options{Secret: "test-secret", Verifier: token.TrustVerifier{}, Clock: clock})
	if err != nil {
		t.Fatal(err)
	}
	machine, _ := lifecycle.NewMachine(lifecycle.ModeStrict)
	policy, _ := ttl.NewPolicy(ttl.DefaultTTL)
	store := memstore.New(clock, logger)
	drafts := service.NewDraftService(store, machine, policy, clock, tokens, service.NewCacheService(16, time.Minute), logger)

	contract, err := openapi.JSON(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	router := NewRouter(RouterConfig{
		Handler:        handlers.NewAPIHandler(drafts, handlers.NewHealthHandler(), contract, logger),
		Gate:           authz.NewGate(tokens, logger),
		Logger:         logger,
		RequestTimeout: 5 * time.Second,
		DebugRoutes:    debug,
	})

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return &testAPI{srv: srv, clock: clock}
}

// bearer собирает неподписанный JWT (режим trust) для email.
func bearer(email string) string {
	header := base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"none"}`))
	payload, _ := json.Marshal(map[string]any{"sub": email, "email": email})
	return "Bearer " + header + "." + base64.RawURLEncoding.EncodeToString(payload) + ".sig"
}

func (a *testAPI) do(t *testing.T, method, path, auth string, body any) (int, map[string]any) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, a.srv.URL+path, reader)
	if err != nil {
		t.Fatal(err)
	}
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := a.srv.Client().Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)
	var decoded map[string]any
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &decoded)
	}
	return resp.StatusCode, decoded
}

func errorCode(body map[string]any) string {
	e, _ := body["error"].(map[string]any)
	code, _ := e["code"].(string)
	return code
}

func createBody(code, email string) map[string]any {
	return map[string]any{
		"referenceCode": code,
		"ownerEmail":    email,
		"payload":       map[string]any{"title": "t"},
	}
}

func TestExampleScenario(t *testing.T) {
	api := newTestAPI(t, false)
	owner := bearer("a@x.com")
	other := bearer("b@x.com")

	status, body := api.do(t, http.MethodPost, "/api/v1/drafts", "", createBody("REF-1", "a@x.com"))
	if status != http.StatusCreated {
		t.Fatalf("create: ожидался 201, получено %d (%v)", status, body)
	}
	if body["token"] == "" || body["token"] == nil {
		t.Error("ответ create должен содержать токен сессии")
	}
	expiresAt, _ := time.Parse(time.RFC3339Nano, body["expiresAt"].(string))
	if !expiresAt.Equal(testStart.Add(7 * 24 * time.Hour)) {
		t.Errorf("TTL: ожидалось 7 дней, expiresAt=%v", expiresAt)
	}

	status, body = api.do(t, http.MethodGet, "/api/v1/drafts/REF-1", "", nil)
	if status != http.StatusOK {
		t.Fatalf("get: ожидался 200, получено %d", status)
	}
	if body["status"] != "draft" || body["daysRemaining"] != float64(7) {
		t.Errorf("get: получено status=%v daysRemaining=%v", body["status"], body["daysRemaining"])
	}
	payload, _ := body["payload"].(map[string]any)
	if payload["title"] != "t" {
		t.Errorf("payload должен возвращаться без изменений: %v", body["payload"])
	}

	status, _ = api.do(t, http.MethodPut, "/api/v1/drafts/REF-1/status", owner, map[string]any{"status": "payment_completed"})
	if status != http.StatusOK {
		t.Fatalf("update status владельцем: ожидался 200, получено %d", status)
	}

	status, body = api.do(t, http.MethodPut, "/api/v1/drafts/REF-1/status", other, map[string]any{"status": "payment_completed"})
	if status != http.StatusForbidden || errorCode(body) != "FORBIDDEN" {
		t.Fatalf("update status чужим: ожидался 403 FORBIDDEN, получено %d %v", status, body)
	}
	if strings.Contains(body["error"].(map[string]any)["message"].(string), "a@x.com") {
		t.Error("сообщение 403 не должно раскрывать владельца")
	}

	status, body = api.do(t, http.MethodDelete, "/api/v1/drafts/REF-1", owner, nil)
	if status != http.StatusOK || body["deleted"] != true {
		t.Fatalf("delete владельцем: ожидался 200, получено %d %v", status, body)
	}

	status, body = api.do(t, http.MethodGet, "/api/v1/drafts/REF-1", "", nil)
	if status != http.StatusNotFound || errorCode(body) != "NOT_FOUND" {
		t.Fatalf("get после удаления: ожидался 404, получено %d %v", status, body)
	}
}

func TestRouterPrecedence(t *testing.T) {
	api := newTestAPI(t, false)
	owner := bearer("a@x.com")

	if status, _ := api.do(t, http.MethodPost, "/api/v1/drafts", "", createBody("REF-1", "a@x.com")); status != http.StatusCreated {
		t.Fatalf("create: %d", status)
	}

	// /drafts/mine — литеральный маршрут с аутентификацией, а не /{code}
	status, body := api.do(t, http.MethodGet, "/api/v1/drafts/mine", "", nil)
	if status != http.StatusUnauthorized {
		t.Errorf("GET /drafts/mine без токена: ожидался 401, получено %d", status)
	}
	status, body = api.do(t, http.MethodGet, "/api/v1/drafts/mine", owner, nil)
	if status != http.StatusOK || body["total"] != float64(1) {
		t.Errorf("GET /drafts/mine: ожидался 200 и total=1, получено %d %v", status, body)
	}

	// /{code}/status и /{code}/paid — подресурсы, не /{code}
	status, body = api.do(t, http.MethodPut, "/api/v1/drafts/REF-1/paid", owner, map[string]any{"isPaid": true})
	if status != http.StatusOK || body["isPaid"] != true {
		t.Errorf("PUT /{code}/paid: получено %d %v", status, body)
	}
	status, body = api.do(t, http.MethodPut, "/api/v1/drafts/REF-1/status", owner, map[string]any{"status": "submitted"})
	if status != http.StatusOK || body["status"] != "submitted" {
		t.Errorf("PUT /{code}/status: получено %d %v", status, body)
	}

	// /{code} — один динамический сегмент
	status, body = api.do(t, http.MethodGet, "/api/v1/drafts/REF-1", "", nil)
	if status != http.StatusOK || body["referenceCode"] != "REF-1" {
		t.Errorf("GET /{code}: получено %d %v", status, body)
	}

	// Код, совпадающий с литералом, не может быть создан
	status, body = api.do(t, http.MethodPost, "/api/v1/drafts", "", createBody("mine", "a@x.com"))
	if status != http.StatusBadRequest || errorCode(body) != "VALIDATION_ERROR" {
		t.Errorf("POST code=mine: ожидался 400, получено %d %v", status, body)
	}

	// Неизвестный подресурс
	if status, _ := api.do(t, http.MethodPut, "/api/v1/drafts/REF-1/archive", owner, map[string]any{}); status != http.StatusNotFound {
		t.Errorf("PUT /{code}/archive: ожидался 404, получено %d", status)
	}
}

func TestMutationsRequireBearer(t *testing.T) {
	api := newTestAPI(t, false)
	api.do(t, http.MethodPost, "/api/v1/drafts", "", createBody("REF-1", "a@x.com"))

	tests := []struct {
		method string
		path   string
		body   any
	}{
		{http.MethodPut, "/api/v1/drafts/REF-1/status", map[string]any{"status": "submitted"}},
		{http.MethodPut, "/api/v1/drafts/REF-1/paid", map[string]any{"isPaid": true}},
		{http.MethodDelete, "/api/v1/drafts/REF-1", nil},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			status, body := api.do(t, tt.method, tt.path, "", tt.body)
			if status != http.StatusUnauthorized || errorCode(body) != "UNAUTHORIZED" {
				t.Errorf("без токена: ожидался 401, получено %d %v", status, body)
			}
			status, _ = api.do(t, tt.method, tt.path, "Bearer a.b", tt.body)
			if status != http.StatusUnauthorized {
				t.Errorf("повреждённый токен: ожидался 401, получено %d", status)
			}
		})
	}
}

func TestExpiredDraftIsGone(t *testing.T) {
	api := newTestAPI(t, false)
	api.do(t, http.MethodPost, "/api/v1/drafts", "", createBody("REF-1", "a@x.com"))

	api.clock.Advance(ttl.DefaultTTL + time.Millisecond)

	status, body := api.do(t, http.MethodGet, "/api/v1/drafts/REF-1", "", nil)
	if status != http.StatusGone || errorCode(body) != "GONE" {
		t.Fatalf("ожидался 410 GONE, получено %d %v", status, body)
	}
	if status, _ := api.do(t, http.MethodGet, "/api/v1/drafts/REF-1", "", nil); status != http.StatusNotFound {
		t.Errorf("после удаления истёкшего ожидался 404, получено %d", status)
	}
}

func TestInvalidTransition(t *testing.T) {
	api := newTestAPI(t, false)
	owner := bearer("a@x.com")
	api.do(t, http.MethodPost, "/api/v1/drafts", "", createBody("REF-1", "a@x.com"))

	status, body := api.do(t, http.MethodPut, "/api/v1/drafts/REF-1/status", owner, map[string]any{"status": "completed"})
	if status != http.StatusConflict || errorCode(body) != "INVALID_TRANSITION" {
		t.Errorf("draft → completed: ожидался 409 INVALID_TRANSITION, получено %d %v", status, body)
	}

	status, body = api.do(t, http.MethodPut, "/api/v1/drafts/REF-1/status", owner, map[string]any{"status": "bogus"})
	if status != http.StatusBadRequest || errorCode(body) != "VALIDATION_ERROR" {
		t.Errorf("неизвестный статус: ожидался 400, получено %d %v", status, body)
	}

	status, _ = api.do(t, http.MethodPut, "/api/v1/drafts/REF-1/paid", owner, map[string]any{})
	if status != http.StatusBadRequest {
		t.Errorf("paid без isPaid: ожидался 400, получено %d", status)
	}
}

func TestSessionResume(t *testing.T) {
	api := newTestAPI(t, false)

	_, created := api.do(t, http.MethodPost, "/api/v1/drafts", "", map[string]any{
		"referenceCode": "REF-1", "ownerId": "user-1", "ownerEmail": "a@x.com",
	})
	tok, _ := created["token"].(string)

	req, _ := http.NewRequest(http.MethodGet, api.srv.URL+"/api/v1/session", nil)
	req.Header.Set(handlers.HeaderTrailToken, tok)
	resp, err := api.srv.Client().Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var body struct {
		Subject string `json:"subject"`
		Items   []struct {
			ReferenceCode string `json:"referenceCode"`
		} `json:"items"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusOK || body.Subject != "user-1" || len(body.Items) != 1 {
		t.Errorf("session: получено %d %+v", resp.StatusCode, body)
	}

	if status, _ := api.do(t, http.MethodGet, "/api/v1/session", "", nil); status != http.StatusUnauthorized {
		t.Errorf("session без токена: ожидался 401, получено %d", status)
	}
}

func TestDebugRoutes(t *testing.T) {
	off := newTestAPI(t, false)
	if status, _ := off.do(t, http.MethodGet, "/api/v1/debug/drafts", "", nil); status != http.StatusNotFound {
		t.Errorf("debug выключен: ожидался 404, получено %d", status)
	}

	on := newTestAPI(t, true)
	on.do(t, http.MethodPost, "/api/v1/drafts", "", createBody("A", "a@x.com"))
	on.do(t, http.MethodPost, "/api/v1/drafts", "", createBody("B", "b@x.com"))
	status, body := on.do(t, http.MethodGet, "/api/v1/debug/drafts", "", nil)
	if status != http.StatusOK || body["total"] != float64(2) {
		t.Errorf("debug: ожидался 200 и total=2, получено %d %v", status, body)
	}
}

func TestAmbientRoutes(t *testing.T) {
	api := newTestAPI(t, false)

	status, body := api.do(t, http.MethodGet, "/api/v1/openapi.json", "", nil)
	if status != http.StatusOK || body["openapi"] != "3.0.3" {
		t.Errorf("openapi.json: получено %d", status)
	}

	if status, _ := api.do(t, http.MethodGet, "/health/live", "", nil); status != http.StatusOK {
		t.Errorf("/health/live: получено %d", status)
	}
	if status, _ := api.do(t, http.MethodGet, "/metrics", "", nil); status != http.StatusOK {
		t.Errorf("/metrics: получено %d", status)
	}
	if status, _ := api.do(t, http.MethodPatch, "/api/v1/drafts/REF-1", "", nil); status != http.StatusMethodNotAllowed {
		t.Errorf("PATCH: ожидался 405, получено %d", status)
	}
}
