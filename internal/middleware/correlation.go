package middleware

import (
	"context"
	"net/http"

	"github.com/google/uuid"
)

// CorrelationHeader carries the correlation id between services
const CorrelationHeader = "x-correlation-id"

// CorrelationIDFromContext returns the request's correlation id
func CorrelationIDFromContext(ctx context.Context) string {
	cid, _ := ctx.Value(correlationIDKey).(string)
	return cid
}

// CorrelationID reuses the incoming correlation id or generates one, and
// echoes it in the response
func CorrelationID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cid := r.Header.Get(CorrelationHeader)
		if cid == "" {
			cid = uuid.NewString()
		}
		w.Header().Set(CorrelationHeader, cid)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), correlationIDKey, cid)))
	})
}
