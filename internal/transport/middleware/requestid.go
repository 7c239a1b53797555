package middleware

import (
	"context"
	"net/http"

	"github.com/frahmantamala/facilities-console/pkg/logger"
	"github.com/go-chi/chi/middleware"
	"github.com/google/uuid"
)

const TraceIDHeader = "X-Trace-ID"

func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		traceID := r.Header.Get(TraceIDHeader)
		if traceID == "" {
			traceID = uuid.NewString()
		}

		// chi's GetReqID and the request logger both see the same id
		ctx := context.WithValue(r.Context(), middleware.RequestIDKey, traceID)
		ctx = logger.With(ctx, "traceID", traceID)

		w.Header().Set(TraceIDHeader, traceID)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
