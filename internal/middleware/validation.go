package middleware

import (
	"fmt"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"unicode/utf8"

	"github.com/onnwee/imgclassify/internal/apierr"
)

const (
	// MaxRequestBodySize bounds JSON request bodies. A classify request carries
	// a single URL, so 64KB is generous.
	MaxRequestBodySize = 64 * 1024
	// MaxImageURLLength is the longest image_url accepted by /classify-image.
	MaxImageURLLength = 2048
)

// ValidateRequestBody limits request bodies to MaxRequestBodySize.
func ValidateRequestBody(next http.Handler) http.Handler {
	return LimitRequestBody(MaxRequestBodySize)(next)
}

// LimitRequestBody returns a middleware that caps POST, PUT and PATCH bodies at max bytes.
// Reads past the limit fail with *http.MaxBytesError.
func LimitRequestBody(max int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch r.Method {
			case http.MethodPost, http.MethodPut, http.MethodPatch:
				r.Body = http.MaxBytesReader(w, r.Body, max)
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireJSON rejects bodies that declare a non-JSON Content-Type.
// A missing Content-Type is accepted so curl-style clients keep working.
func RequireJSON(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ct := r.Header.Get("Content-Type"); ct != "" && r.Method != http.MethodGet {
			mt, _, err := mime.ParseMediaType(ct)
			if err != nil || (mt != "application/json" && !strings.HasSuffix(mt, "+json")) {
				apierr.WriteErrorWithContext(w, r, apierr.ValidationInvalidFormat("Content-Type must be application/json"))
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

// SanitizeInput provides input sanitization utilities.
type SanitizeInput struct{}

// SanitizeString trims whitespace, drops invalid UTF-8 and limits the result to maxLength bytes
// without splitting a rune.
func (s *SanitizeInput) SanitizeString(input string, maxLength int) string {
	input = strings.TrimSpace(input)
	if !utf8.ValidString(input) {
		input = strings.ToValidUTF8(input, "")
	}
	if len(input) > maxLength {
		cut := maxLength
		for cut > 0 && !utf8.RuneStart(input[cut]) {
			cut--
		}
		input = input[:cut]
	}
	return input
}

// ValidateImageURL checks that raw is an absolute http(s) URL with a host.
func (s *SanitizeInput) ValidateImageURL(raw string) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fmt.Errorf("image_url cannot be empty")
	}
	if len(raw) > MaxImageURLLength {
		return fmt.Errorf("image_url too long (max %d characters)", MaxImageURLLength)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("image_url is not a valid URL")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("image_url must use http or https")
	}
	if u.Host == "" {
		return fmt.Errorf("image_url must include a host")
	}
	return nil
}
