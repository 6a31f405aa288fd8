// metrics.go — Prometheus HTTP метрики для Trail Module.
// Регистрирует метрики: tm_http_requests_total, tm_http_request_duration_seconds.
// Нормализация путей предотвращает взрывной рост кардинальности.
package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP метрики Trail Module
var (
	// httpRequestsTotal — общее количество HTTP-запросов.
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tm_http_requests_total",
			Help: "Общее количество HTTP-запросов к Trail Module",
		},
		[]string{"method", "path", "status"},
	)

	// httpRequestDuration — гистограмма длительности HTTP-запросов.
	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tm_http_request_duration_seconds",
			Help:    "Длительность HTTP-запросов к Trail Module в секундах",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
)

// MetricsMiddleware возвращает HTTP middleware для сбора Prometheus метрик.
// Записывает количество запросов и длительность для каждого endpoint.
func MetricsMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			// Коды черновиков заменяются на {code}
			normalizedPath := normalizePath(r.URL.Path)

			wrapped := newMetricsResponseWriter(w)
			next.ServeHTTP(wrapped, r)

			duration := time.Since(start).Seconds()
			status := strconv.Itoa(wrapped.statusCode)

			httpRequestsTotal.WithLabelValues(r.Method, normalizedPath, status).Inc()
			httpRequestDuration.WithLabelValues(r.Method, normalizedPath).Observe(duration)
		})
	}
}

// metricsResponseWriter — обёртка для перехвата статус-кода.
type metricsResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func newMetricsResponseWriter(w http.ResponseWriter) *metricsResponseWriter {
	return &metricsResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}
}

func (rw *metricsResponseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Unwrap позволяет http.ResponseController получить доступ к оригинальному ResponseWriter.
func (rw *metricsResponseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// normalizePath заменяет referenceCode в пути на {code}.
// /api/v1/drafts/REF-1 → /api/v1/drafts/{code}
// /api/v1/drafts/REF-1/status → /api/v1/drafts/{code}/status
// Литеральный /api/v1/drafts/mine не нормализуется.
func normalizePath(path string) string {
	switch path {
	case "/health/live", "/health/ready", "/metrics",
		"/api/v1/drafts", "/api/v1/drafts/mine", "/api/v1/session",
		"/api/v1/debug/drafts", "/api/v1/openapi.json":
		return path
	}

	const draftsPrefix = "/api/v1/drafts/"
	if rest, ok := strings.CutPrefix(path, draftsPrefix); ok && rest != "" {
		_, suffix, hasSuffix := strings.Cut(rest, "/")
		if !hasSuffix {
			return "/api/v1/drafts/{code}"
		}
		switch suffix {
		case "status", "paid":
			return "/api/v1/drafts/{code}/" + suffix
		}
		return "/api/v1/drafts/{code}/other"
	}

	return "other"
}
