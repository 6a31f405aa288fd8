package middleware

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestRequestLogger_LevelByStatus(t *testing.T) {
	tests := []struct {
		name      string
		path      string
		status    int
		wantLevel string
	}{
		{"успех", "/api/v1/drafts/REF-1", http.StatusOK, "INFO"},
		{"ошибка клиента", "/api/v1/drafts/REF-1", http.StatusNotFound, "WARN"},
		{"ошибка сервера", "/api/v1/drafts", http.StatusInternalServerError, "ERROR"},
		{"probe", "/health/live", http.StatusOK, "DEBUG"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

			handler := RequestLogger(logger)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte("ok"))
			}))
			handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, tt.path, nil))

			var entry map[string]any
			if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
				t.Fatalf("запись лога не JSON: %v (%s)", err, buf.String())
			}
			if entry["level"] != tt.wantLevel {
				t.Errorf("level: ожидался %s, получено %v", tt.wantLevel, entry["level"])
			}
			if int(entry["status"].(float64)) != tt.status {
				t.Errorf("status: получено %v", entry["status"])
			}
			if int(entry["bytes"].(float64)) != 2 {
				t.Errorf("bytes: ожидалось 2, получено %v", entry["bytes"])
			}
		})
	}
}
