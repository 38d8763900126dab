package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/onnwee/imgclassify/internal/apierr"
	"github.com/onnwee/imgclassify/internal/logger"
)

// AdminAuth gates admin endpoints behind a static bearer token.
// An empty token disables the admin surface entirely (503).
func AdminAuth(token string) func(http.Handler) http.Handler {
	want := []byte(token)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(want) == 0 {
				apierr.WriteErrorWithContext(w, r, apierr.SystemUnavailable("admin token not configured"))
				return
			}
			auth := r.Header.Get("Authorization")
			if auth == "" {
				apierr.WriteErrorWithContext(w, r, apierr.AuthMissing(""))
				return
			}
			got, ok := strings.CutPrefix(auth, "Bearer ")
			if !ok || got == "" || subtle.ConstantTimeCompare([]byte(got), want) != 1 {
				logger.WarnContext(r.Context(), "Rejected admin request", "path", r.URL.Path, "remote_addr", getClientIP(r))
				apierr.WriteErrorWithContext(w, r, apierr.AuthInvalid(""))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
