package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/onnwee/imgclassify/internal/logger"
)

func TestGenerateRequestID(t *testing.T) {
	id1 := generateRequestID()
	id2 := generateRequestID()

	if id1 == "" {
		t.Error("generateRequestID should not return empty string")
	}
	if id1 == id2 {
		t.Error("generateRequestID should return unique IDs")
	}
	if len(id1) != 32 { // 16 bytes = 32 hex chars
		t.Errorf("Request ID length should be 32, got %d", len(id1))
	}
}

func TestRequestIDMiddleware(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := logger.RequestIDFromContext(r.Context())
		if reqID == "" {
			t.Error("Request ID not found in context")
		}
		if responseID := w.Header().Get(RequestIDHeader); reqID != responseID {
			t.Errorf("context ID %q doesn't match response header %q", reqID, responseID)
		}
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest("GET", "/report", nil)
	w := httptest.NewRecorder()
	RequestID(handler).ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}
}

func TestRequestIDMiddleware_IncomingID(t *testing.T) {
	tests := []struct {
		name     string
		incoming string
		keep     bool
	}{
		{"well formed", "existing-request-id", true},
		{"uuid", "6f1c2a9e-55d3-4c6b-9a2e-1b2c3d4e5f60", true},
		{"too long", strings.Repeat("a", maxRequestIDLength+1), false},
		{"log injection", "abc\ninjected=1", false},
		{"spaces", "has spaces", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var seen string
			handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				seen = logger.RequestIDFromContext(r.Context())
			})

			req := httptest.NewRequest("GET", "/report", nil)
			req.Header.Set(RequestIDHeader, tt.incoming)
			w := httptest.NewRecorder()
			RequestID(handler).ServeHTTP(w, req)

			if (seen == tt.incoming) != tt.keep {
				t.Errorf("incoming %q kept=%v, want %v (got %q)", tt.incoming, seen == tt.incoming, tt.keep, seen)
			}
			if w.Header().Get(RequestIDHeader) != seen {
				t.Errorf("response header %q != context %q", w.Header().Get(RequestIDHeader), seen)
			}
		})
	}
}
