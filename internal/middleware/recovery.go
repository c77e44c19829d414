package middleware

import (
	"net/http"
	"runtime/debug"

	"github.com/josh-kwaku/customer-ledger/internal/handler"
	"github.com/josh-kwaku/customer-ledger/internal/logging"
)

// Recovery turns a handler panic into a 500. http.ErrAbortHandler is passed
// through so net/http can drop the connection.
func Recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer recoverPanic(w, r)
		next.ServeHTTP(w, r)
	})
}

func recoverPanic(w http.ResponseWriter, r *http.Request) {
	v := recover()
	if v == nil {
		return
	}
	if v == http.ErrAbortHandler {
		panic(v)
	}

	logging.FromContext(r.Context()).Error("panic recovered",
		"panic", v,
		"method", r.Method,
		"path", r.URL.Path,
		"request_id", TraceIDFromContext(r.Context()),
		"stack", string(debug.Stack()),
	)
	handler.RespondAppError(w, handler.ErrInternalError, nil)
}
