package middleware

import (
	"net/http"

	"github.com/AbhinavNivaan/Rythmiq-One-sub004/pkg/requestid"
	"github.com/go-chi/chi/v5/middleware"
)

// RequestID takes the correlation id from the X-Correlation-ID header, falls
// back to chi's request id or a fresh uuid, stores it in the request context
// and echoes it on the response.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get(requestid.Header)
		if requestID == "" {
			requestID = middleware.GetReqID(r.Context())
		}
		if requestID == "" {
			requestID = requestid.Generate()
		}

		w.Header().Set(requestid.Header, requestID)
		next.ServeHTTP(w, r.WithContext(requestid.ToContext(r.Context(), requestID)))
	})
}
