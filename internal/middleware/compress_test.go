package middleware

import (
	"compress/gzip"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/andybalholm/brotli"
)

// reportPayload resembles a large /report response.
func reportPayload(n int) string {
	var b strings.Builder
	b.WriteString("{")
	for i := 0; i < n; i++ {
		if i > 0 {
			b.WriteString(",")
		}
		fmt.Fprintf(&b, `"https://images.example.com/photos/%06d.jpg":{"count":%d,"min":0.012,"max":0.345,"mean":0.101}`, i, n-i)
	}
	b.WriteString("}")
	return b.String()
}

func TestCompressionRatio(t *testing.T) {
	payload := reportPayload(500)

	tests := []struct {
		name             string
		acceptEncoding   string
		expectedEncoding string
		maxRatio         float64
	}{
		{"gzip compression", "gzip", "gzip", 0.30},
		{"brotli compression", "br", "br", 0.25},
		{"brotli preferred", "gzip, deflate, br", "br", 0.25},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := Compress(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusOK)
				w.Write([]byte(payload))
			}))

			req := httptest.NewRequest(http.MethodGet, "/report", nil)
			req.Header.Set("Accept-Encoding", tt.acceptEncoding)
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, req)

			if rr.Code != http.StatusOK {
				t.Fatalf("expected status 200, got %d", rr.Code)
			}
			if got := rr.Header().Get("Content-Encoding"); got != tt.expectedEncoding {
				t.Fatalf("expected Content-Encoding: %s, got %s", tt.expectedEncoding, got)
			}
			if got := rr.Header().Get("Vary"); got != "Accept-Encoding" {
				t.Errorf("Vary = %q", got)
			}

			ratio := float64(rr.Body.Len()) / float64(len(payload))
			if ratio > tt.maxRatio {
				t.Errorf("compression ratio %.2f exceeds maximum %.2f", ratio, tt.maxRatio)
			}

			var r io.Reader
			if tt.expectedEncoding == "gzip" {
				gr, err := gzip.NewReader(rr.Body)
				if err != nil {
					t.Fatalf("failed to create gzip reader: %v", err)
				}
				defer gr.Close()
				r = gr
			} else {
				r = brotli.NewReader(rr.Body)
			}
			body, err := io.ReadAll(r)
			if err != nil {
				t.Fatalf("failed to decompress: %v", err)
			}
			if string(body) != payload {
				t.Error("decompressed body doesn't match original payload")
			}
		})
	}
}

func TestCompressPassthrough(t *testing.T) {
	tests := []struct {
		name           string
		method         string
		acceptEncoding string
		upgrade        string
		status         int
	}{
		{"no accept-encoding", http.MethodGet, "", "", http.StatusOK},
		{"unsupported encoding", http.MethodGet, "deflate", "", http.StatusOK},
		{"refused with q=0", http.MethodGet, "gzip;q=0, br;q=0", "", http.StatusOK},
		{"websocket upgrade", http.MethodGet, "gzip", "websocket", http.StatusOK},
		{"head request", http.MethodHead, "gzip", "", http.StatusOK},
		{"not modified", http.MethodGet, "gzip", "", http.StatusNotModified},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := Compress(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				if tt.status == http.StatusOK && r.Method != http.MethodHead {
					w.Write([]byte("plain"))
				}
			}))
			req := httptest.NewRequest(tt.method, "/report", nil)
			if tt.acceptEncoding != "" {
				req.Header.Set("Accept-Encoding", tt.acceptEncoding)
			}
			if tt.upgrade != "" {
				req.Header.Set("Upgrade", tt.upgrade)
			}
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, req)

			if enc := rr.Header().Get("Content-Encoding"); enc != "" {
				t.Errorf("unexpected Content-Encoding %q", enc)
			}
			if rr.Code != tt.status {
				t.Errorf("status = %d, want %d", rr.Code, tt.status)
			}
			if tt.status == http.StatusOK && tt.method == http.MethodGet && rr.Body.String() != "plain" {
				t.Errorf("body = %q", rr.Body.String())
			}
		})
	}
}

func TestCompressImplicitHeader(t *testing.T) {
	handler := Compress(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"status":"ok"}`)
	}))
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Accept-Encoding", "gzip")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Header().Get("Content-Encoding") != "gzip" {
		t.Fatalf("expected gzip, got %q", rr.Header().Get("Content-Encoding"))
	}
	gr, err := gzip.NewReader(rr.Body)
	if err != nil {
		t.Fatalf("gzip reader: %v", err)
	}
	body, _ := io.ReadAll(gr)
	if string(body) != `{"status":"ok"}` {
		t.Errorf("body = %q", body)
	}
}

func TestNegotiateEncoding(t *testing.T) {
	tests := map[string]string{
		"":                   "",
		"gzip":               "gzip",
		"br":                 "br",
		"gzip, br":           "br",
		"br;q=0, gzip":       "gzip",
		"GZIP;q=0.5":         "gzip",
		"identity, deflate":  "",
		"gzip;q=0.0, br;q=0": "",
	}
	for in, want := range tests {
		if got := negotiateEncoding(in); got != want {
			t.Errorf("negotiateEncoding(%q) = %q, want %q", in, got, want)
		}
	}
}

func BenchmarkGzipCompression(b *testing.B) {
	benchmarkCompress(b, "gzip")
}

func BenchmarkBrotliCompression(b *testing.B) {
	benchmarkCompress(b, "br")
}

func benchmarkCompress(b *testing.B, encoding string) {
	payload := []byte(reportPayload(5000))
	handler := Compress(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write(payload)
	}))

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		req := httptest.NewRequest(http.MethodGet, "/report", nil)
		req.Header.Set("Accept-Encoding", encoding)
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
	}
}
