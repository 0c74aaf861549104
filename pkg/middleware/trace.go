package middleware

import (
	"net/http"
	"time"

	"github.com/Adithya-Monish-Kumar-K/search-index-reader/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/search-index-reader/pkg/tracing"
)

// Trace starts a root span per request, keyed by the request id, and logs
// the finished span tree when the request took at least slow. It must run
// inside RequestID.
func Trace(slow time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, span := tracing.Start(r.Context(), r.Method+" "+r.URL.Path, GetRequestID(r.Context()))
			next.ServeHTTP(w, r.WithContext(ctx))
			span.End()
			span.LogIfSlower(logger.FromContext(ctx), slow)
		})
	}
}
