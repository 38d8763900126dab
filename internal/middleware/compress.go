package middleware

import (
	"compress/gzip"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/andybalholm/brotli"
)

var (
	gzipPool = sync.Pool{
		New: func() interface{} { return gzip.NewWriter(io.Discard) },
	}
	brotliPool = sync.Pool{
		New: func() interface{} { return brotli.NewWriterLevel(io.Discard, brotli.DefaultCompression) },
	}
)

// compressWriter picks its encoding lazily so handlers that answer
// 204/304 or nothing at all are never wrapped in an empty stream.
type compressWriter struct {
	http.ResponseWriter
	encoding    string
	w           io.WriteCloser
	wroteHeader bool
	passthrough bool
}

func (cw *compressWriter) WriteHeader(status int) {
	if cw.wroteHeader {
		return
	}
	cw.wroteHeader = true
	h := cw.Header()
	if status == http.StatusNoContent || status == http.StatusNotModified || h.Get("Content-Encoding") != "" {
		cw.passthrough = true
		cw.ResponseWriter.WriteHeader(status)
		return
	}
	h.Set("Content-Encoding", cw.encoding)
	h.Del("Content-Length") // Length will change after compression
	cw.ResponseWriter.WriteHeader(status)
}

func (cw *compressWriter) Write(b []byte) (int, error) {
	if !cw.wroteHeader {
		cw.WriteHeader(http.StatusOK)
	}
	if cw.passthrough {
		return cw.ResponseWriter.Write(b)
	}
	if cw.w == nil {
		switch cw.encoding {
		case "br":
			bw := brotliPool.Get().(*brotli.Writer)
			bw.Reset(cw.ResponseWriter)
			cw.w = bw
		default:
			gz := gzipPool.Get().(*gzip.Writer)
			gz.Reset(cw.ResponseWriter)
			cw.w = gz
		}
	}
	return cw.w.Write(b)
}

// Flush lets streaming handlers push compressed data early.
func (cw *compressWriter) Flush() {
	if f, ok := cw.w.(interface{ Flush() error }); ok {
		_ = f.Flush()
	}
	if f, ok := cw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (cw *compressWriter) close() {
	if cw.w == nil {
		return
	}
	_ = cw.w.Close()
	switch w := cw.w.(type) {
	case *brotli.Writer:
		brotliPool.Put(w)
	case *gzip.Writer:
		gzipPool.Put(w)
	}
	cw.w = nil
}

// negotiateEncoding prefers brotli over gzip when the client accepts both.
// Codings listed with q=0 are refused.
func negotiateEncoding(acceptEncoding string) string {
	var gzipOK, brOK bool
	for _, part := range strings.Split(acceptEncoding, ",") {
		name, params, _ := strings.Cut(strings.TrimSpace(part), ";")
		if q, ok := strings.CutPrefix(strings.TrimSpace(params), "q="); ok {
			if v, err := strconv.ParseFloat(q, 64); err == nil && v <= 0 {
				continue
			}
		}
		switch strings.ToLower(strings.TrimSpace(name)) {
		case "br":
			brOK = true
		case "gzip":
			gzipOK = true
		}
	}
	switch {
	case brOK:
		return "br"
	case gzipOK:
		return "gzip"
	}
	return ""
}

// Compress returns a middleware that compresses responses with brotli or
// gzip according to the client's Accept-Encoding. WebSocket upgrades pass
// through untouched.
func Compress(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Add("Vary", "Accept-Encoding")

		if r.Method == http.MethodHead || strings.EqualFold(r.Header.Get("Upgrade"), "websocket") {
			next.ServeHTTP(w, r)
			return
		}
		encoding := negotiateEncoding(r.Header.Get("Accept-Encoding"))
		if encoding == "" {
			next.ServeHTTP(w, r)
			return
		}

		cw := &compressWriter{ResponseWriter: w, encoding: encoding}
		defer cw.close()
		next.ServeHTTP(cw, r)
	})
}
