package api

import (
	"net/http"
	"time"

	"go.uber.org/zap"
)

// withLogging logs every request once it has been served. The writer is
// passed through untouched so streaming handlers keep their http.Flusher.
func (h *Handler) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		next.ServeHTTP(w, r)

		h.logger.Debug("Served request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Duration("duration", time.Since(start)))
	})
}
