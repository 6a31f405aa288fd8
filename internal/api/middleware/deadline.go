// deadline.go — дедлайн обработки запроса (TM_REQUEST_TIMEOUT).
package middleware

import (
	"context"
	"net/http"
	"time"
)

// Deadline ограничивает контекст запроса временем d.
// Ответ по истечению дедлайна формирует обработчик: операции хранилища
// возвращают context.DeadlineExceeded, и он переводится в ошибку API.
// d <= 0 отключает ограничение.
func Deadline(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if d <= 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), d)
			defer cancel()
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
