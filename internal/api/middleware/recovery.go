package middleware

import (
	"log/slog"
	"net/http"
	"runtime/debug"

	"github.com/kiranshivaraju/vodwatch/internal/api/response"
)

// PanicRecorder counts handler panics by route.
type PanicRecorder interface {
	RecordHandlerPanic(route string)
}

// Recovery turns a handler panic into a 500 and reports it to panics, which
// may be nil. http.ErrAbortHandler is re-raised so net/http can drop the
// connection.
func Recovery(panics PanicRecorder) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					if err == http.ErrAbortHandler {
						panic(err)
					}
					route := routePattern(r)
					if panics != nil {
						panics.RecordHandlerPanic(route)
					}
					requestID, _ := GetRequestID(r)
					slog.Error("panic recovered",
						"error", err,
						"stack", string(debug.Stack()),
						"method", r.Method,
						"route", route,
						"request_id", requestID,
					)
					response.Error(w, http.StatusInternalServerError,
						"INTERNAL_ERROR", "An unexpected error occurred", nil)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}
