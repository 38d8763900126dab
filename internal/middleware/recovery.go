package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/getsentry/sentry-go"

	"github.com/onnwee/imgclassify/internal/apierr"
	"github.com/onnwee/imgclassify/internal/errorreporting"
	"github.com/onnwee/imgclassify/internal/logger"
)

// RecoverWithSentry recovers from panics, reports them to Sentry and
// answers with a SYSTEM_INTERNAL error. http.ErrAbortHandler is re-raised
// so net/http can abort the connection as intended.
func RecoverWithSentry(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if e, ok := rec.(error); ok && errors.Is(e, http.ErrAbortHandler) {
				panic(rec)
			}

			stack := debug.Stack()
			logger.ErrorContext(r.Context(), "Panic recovered",
				"error", rec,
				"stack", string(stack),
				"method", r.Method,
				"path", r.URL.Path,
			)

			if errorreporting.IsSentryEnabled() {
				hub := sentry.CurrentHub().Clone()
				hub.Scope().SetRequest(r)
				hub.Scope().SetLevel(sentry.LevelError)
				hub.Scope().SetTag("method", r.Method)
				hub.Scope().SetTag("path", r.URL.Path)
				if reqID := logger.RequestIDFromContext(r.Context()); reqID != "" {
					hub.Scope().SetTag("request_id", reqID)
				}

				if e, ok := rec.(error); ok {
					hub.CaptureException(e)
				} else {
					hub.CaptureException(fmt.Errorf("panic: %v", rec))
				}
			}

			apierr.WriteErrorWithContext(w, r, apierr.SystemInternal(""))
		}()

		next.ServeHTTP(w, r)
	})
}
