package middleware

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/onnwee/imgclassify/internal/apierr"
)

func TestRecoverWithSentry_NoPanic(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	req := httptest.NewRequest("GET", "/health", nil)
	w := httptest.NewRecorder()
	RecoverWithSentry(handler).ServeHTTP(w, req)

	if w.Code != http.StatusOK || w.Body.String() != "OK" {
		t.Errorf("unexpected response %d %q", w.Code, w.Body.String())
	}
}

func TestRecoverWithSentry_WithPanic(t *testing.T) {
	tests := []struct {
		name  string
		value interface{}
	}{
		{"string panic", "test panic"},
		{"error panic", errors.New("boom")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				panic(tt.value)
			})

			req := httptest.NewRequest("POST", "/classify-image", nil)
			w := httptest.NewRecorder()
			RequestID(RecoverWithSentry(handler)).ServeHTTP(w, req)

			if w.Code != http.StatusInternalServerError {
				t.Fatalf("Expected status 500, got %d", w.Code)
			}
			var resp apierr.ErrorResponse
			if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if resp.Error.Code != apierr.ErrSystemInternal {
				t.Errorf("code = %s", resp.Error.Code)
			}
			if resp.Error.RequestID == "" || resp.Error.RequestID != w.Header().Get(RequestIDHeader) {
				t.Errorf("request_id = %q, header %q", resp.Error.RequestID, w.Header().Get(RequestIDHeader))
			}
		})
	}
}

func TestRecoverWithSentry_RepanicsAbortHandler(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic(http.ErrAbortHandler)
	})

	defer func() {
		if rec := recover(); rec != http.ErrAbortHandler {
			t.Errorf("expected ErrAbortHandler to propagate, got %v", rec)
		}
	}()
	RecoverWithSentry(handler).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/", nil))
}
