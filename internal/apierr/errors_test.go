package apierr

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/onnwee/imgclassify/internal/logger"
)

func TestNew(t *testing.T) {
	err := New(ErrClassifyNoResult, "no result", http.StatusInternalServerError)
	if err.Code != ErrClassifyNoResult {
		t.Errorf("expected code %s, got %s", ErrClassifyNoResult, err.Code)
	}
	if err.Message != "no result" {
		t.Errorf("expected message 'no result', got '%s'", err.Message)
	}
	if err.Status() != http.StatusInternalServerError {
		t.Errorf("expected status %d, got %d", http.StatusInternalServerError, err.Status())
	}
}

func TestErrorInterface(t *testing.T) {
	err := New(ErrAuthInvalid, "invalid token", http.StatusUnauthorized)
	expected := "AUTH_INVALID: invalid token"
	if err.Error() != expected {
		t.Errorf("expected error string %s, got %s", expected, err.Error())
	}
}

func TestWriteError(t *testing.T) {
	w := httptest.NewRecorder()
	err := ClassifyNoResult("https://example.com/cat.jpg").WithRequestID("req-123")

	writeError(w, err)

	if w.Code != http.StatusInternalServerError {
		t.Errorf("expected status %d, got %d", http.StatusInternalServerError, w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("expected Content-Type application/json, got %s", ct)
	}

	var resp ErrorResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Error == nil {
		t.Fatal("expected error in response")
	}
	if resp.Error.Code != ErrClassifyNoResult {
		t.Errorf("expected code %s, got %s", ErrClassifyNoResult, resp.Error.Code)
	}
	if resp.Error.RequestID != "req-123" {
		t.Errorf("expected request ID 'req-123', got '%s'", resp.Error.RequestID)
	}
	if resp.Error.Details["image_url"] != "https://example.com/cat.jpg" {
		t.Errorf("expected image_url detail, got %v", resp.Error.Details)
	}
}

func TestWriteErrorWithContext(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/classify-image", nil)
	req = req.WithContext(logger.ContextWithRequestID(context.Background(), "abc"))
	w := httptest.NewRecorder()

	WriteErrorWithContext(w, req, ValidationMissingField("image_url"))

	var resp ErrorResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Error.RequestID != "abc" {
		t.Errorf("request_id = %q, want abc", resp.Error.RequestID)
	}
	if resp.Error.Details["field"] != "image_url" {
		t.Errorf("field detail = %v", resp.Error.Details["field"])
	}
}

func TestHelperFunctions(t *testing.T) {
	tests := []struct {
		name       string
		createErr  func() *Error
		wantCode   ErrorCode
		wantStatus int
	}{
		{"AuthMissing", func() *Error { return AuthMissing("") }, ErrAuthMissing, http.StatusUnauthorized},
		{"AuthInvalid", func() *Error { return AuthInvalid("") }, ErrAuthInvalid, http.StatusUnauthorized},
		{"ClassifyNoResult", func() *Error { return ClassifyNoResult("") }, ErrClassifyNoResult, http.StatusInternalServerError},
		{"ClassifyTimeout", func() *Error { return ClassifyTimeout() }, ErrClassifyTimeout, http.StatusGatewayTimeout},
		{"SystemInternal", func() *Error { return SystemInternal("") }, ErrSystemInternal, http.StatusInternalServerError},
		{"SystemUnavailable", func() *Error { return SystemUnavailable("") }, ErrSystemUnavailable, http.StatusServiceUnavailable},
		{"ValidationInvalidJSON", func() *Error { return ValidationInvalidJSON() }, ErrValidationInvalidJSON, http.StatusBadRequest},
		{"ValidationInvalidFormat", func() *Error { return ValidationInvalidFormat("") }, ErrValidationInvalidFormat, http.StatusBadRequest},
		{"ValidationMissingField", func() *Error { return ValidationMissingField("image_url") }, ErrValidationMissingField, http.StatusBadRequest},
		{"ValidationInvalidValue", func() *Error { return ValidationInvalidValue("image_url", "") }, ErrValidationInvalidValue, http.StatusBadRequest},
		{"ValidationTooLarge", func() *Error { return ValidationTooLarge(1024) }, ErrValidationTooLarge, http.StatusRequestEntityTooLarge},
		{"ResourceNotFound", func() *Error { return ResourceNotFound("cache entry") }, ErrResourceNotFound, http.StatusNotFound},
		{"RateLimitGlobal", func() *Error { return RateLimitGlobal() }, ErrRateLimitGlobal, http.StatusTooManyRequests},
		{"RateLimitIP", func() *Error { return RateLimitIP() }, ErrRateLimitIP, http.StatusTooManyRequests},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.createErr()
			if err.Code != tt.wantCode {
				t.Errorf("expected code %s, got %s", tt.wantCode, err.Code)
			}
			if err.Status() != tt.wantStatus {
				t.Errorf("expected status %d, got %d", tt.wantStatus, err.Status())
			}
			if err.Message == "" {
				t.Error("expected non-empty message")
			}
		})
	}
}

func TestClassifyNoResultOmitsEmptyURL(t *testing.T) {
	if err := ClassifyNoResult(""); err.Details != nil {
		t.Errorf("expected no details, got %v", err.Details)
	}
}
