package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
})

func TestCORS_ClassifyOrigins(t *testing.T) {
	handler := CORS(CORSConfigForOrigins([]string{"https://app.example.com", "*.tools.example.com"}))(okHandler)

	tests := []struct {
		name       string
		origin     string
		wantOrigin string
		wantVary   string
	}{
		{"exact match", "https://app.example.com", "https://app.example.com", "Origin"},
		{"wildcard subdomain", "https://ops.tools.example.com", "https://ops.tools.example.com", "Origin"},
		{"unlisted origin", "https://evil.example.net", "", "Origin"},
		{"lookalike suffix", "https://app.example.com.evil.net", "", "Origin"},
		{"no origin", "", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("POST", "/classify-image", nil)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, req)

			if rr.Code != http.StatusOK {
				t.Fatalf("status = %d, want 200", rr.Code)
			}
			if got := rr.Header().Get("Access-Control-Allow-Origin"); got != tt.wantOrigin {
				t.Errorf("Access-Control-Allow-Origin = %q, want %q", got, tt.wantOrigin)
			}
			if got := rr.Header().Get("Vary"); got != tt.wantVary {
				t.Errorf("Vary = %q, want %q", got, tt.wantVary)
			}
			if got := rr.Header().Get("Access-Control-Allow-Credentials"); got != "" {
				t.Errorf("credentials must not be allowed, got %q", got)
			}
		})
	}
}

func TestCORS_ClassifyPreflight(t *testing.T) {
	called := false
	handler := CORS(CORSConfigForOrigins([]string{"https://app.example.com"}))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))

	req := httptest.NewRequest("OPTIONS", "/classify-image", nil)
	req.Header.Set("Origin", "https://app.example.com")
	req.Header.Set("Access-Control-Request-Method", "POST")
	req.Header.Set("Access-Control-Request-Headers", "Content-Type")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if called {
		t.Error("preflight must not reach the classify handler")
	}
	if rr.Code != http.StatusNoContent {
		t.Errorf("status = %d, want 204", rr.Code)
	}
	want := map[string]string{
		"Access-Control-Allow-Origin":  "https://app.example.com",
		"Access-Control-Allow-Methods": "GET, POST, OPTIONS",
		"Access-Control-Allow-Headers": "Accept, Authorization, Content-Type, X-Request-ID",
		"Access-Control-Max-Age":       "300",
	}
	for h, v := range want {
		if got := rr.Header().Get(h); got != v {
			t.Errorf("%s = %q, want %q", h, got, v)
		}
	}
}

func TestCORS_ReportExposesRequestID(t *testing.T) {
	handler := CORS(CORSConfigForOrigins([]string{"https://app.example.com"}))(okHandler)

	req := httptest.NewRequest("GET", "/report", nil)
	req.Header.Set("Origin", "https://app.example.com")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if got := rr.Header().Get("Access-Control-Expose-Headers"); got != "X-Request-ID" {
		t.Errorf("Access-Control-Expose-Headers = %q, want X-Request-ID", got)
	}
}

func TestCORS_NilConfigUsesDefaults(t *testing.T) {
	handler := CORS(nil)(okHandler)

	req := httptest.NewRequest("GET", "/report", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
		t.Errorf("Access-Control-Allow-Origin = %q", got)
	}
}

func TestCORSConfigForOrigins(t *testing.T) {
	if got := CORSConfigForOrigins(nil).AllowedOrigins; len(got) != len(DefaultCORSConfig().AllowedOrigins) {
		t.Errorf("empty list should keep defaults, got %v", got)
	}
	got := CORSConfigForOrigins([]string{"https://app.example.com"})
	if len(got.AllowedOrigins) != 1 || got.AllowedOrigins[0] != "https://app.example.com" {
		t.Errorf("AllowedOrigins = %v", got.AllowedOrigins)
	}
	if got.AllowCredentials {
		t.Error("credentials should stay disabled")
	}
}

func TestCORSConfig_CheckOriginForReportStream(t *testing.T) {
	c := CORSConfigForOrigins([]string{"https://app.example.com"})
	tests := []struct {
		origin string
		want   bool
	}{
		{"", true},
		{"https://app.example.com", true},
		{"https://evil.example.net", false},
	}
	for _, tt := range tests {
		req := httptest.NewRequest("GET", "/report/stream", nil)
		req.Header.Set("Connection", "Upgrade")
		req.Header.Set("Upgrade", "websocket")
		if tt.origin != "" {
			req.Header.Set("Origin", tt.origin)
		}
		if got := c.CheckOrigin(req); got != tt.want {
			t.Errorf("CheckOrigin(%q) = %v, want %v", tt.origin, got, tt.want)
		}
	}
}
