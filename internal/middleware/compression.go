package middleware

import (
	"compress/gzip"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/andybalholm/brotli"
)

// encoder is the shared surface of *brotli.Writer and *gzip.Writer.
type encoder interface {
	io.WriteCloser
	Flush() error
	Reset(io.Writer)
}

var (
	brotliPool = sync.Pool{New: func() interface{} { return brotli.NewWriterLevel(io.Discard, brotli.DefaultCompression) }}
	gzipPool   = sync.Pool{New: func() interface{} { return gzip.NewWriter(io.Discard) }}
)

// compressWriter defers choosing between compressed and raw output until the
// status is known, so 204/304 and pre-encoded responses pass through untouched.
type compressWriter struct {
	http.ResponseWriter
	encoding    string
	enc         encoder
	wroteHeader bool
	bypass      bool
}

func (w *compressWriter) WriteHeader(status int) {
	if w.wroteHeader {
		return
	}
	w.wroteHeader = true
	h := w.Header()
	if status < 200 || status == http.StatusNoContent || status == http.StatusNotModified || h.Get("Content-Encoding") != "" {
		w.bypass = true
	} else {
		h.Set("Content-Encoding", w.encoding)
		h.Del("Content-Length") // Length will change after compression
	}
	w.ResponseWriter.WriteHeader(status)
}

func (w *compressWriter) Write(b []byte) (int, error) {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}
	if w.bypass {
		return w.ResponseWriter.Write(b)
	}
	if w.enc == nil {
		if w.encoding == "br" {
			w.enc = brotliPool.Get().(*brotli.Writer)
		} else {
			w.enc = gzipPool.Get().(*gzip.Writer)
		}
		w.enc.Reset(w.ResponseWriter)
	}
	return w.enc.Write(b)
}

func (w *compressWriter) Flush() {
	if w.enc != nil {
		_ = w.enc.Flush()
	}
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (w *compressWriter) close() {
	if w.enc == nil {
		return
	}
	_ = w.enc.Close()
	w.enc.Reset(io.Discard)
	if w.encoding == "br" {
		brotliPool.Put(w.enc)
	} else {
		gzipPool.Put(w.enc)
	}
	w.enc = nil
}

// Compress returns a middleware that compresses responses with brotli or gzip
// according to Accept-Encoding, preferring brotli. Vary is always set so shared
// caches key on the encoding. Websocket upgrades are passed through.
func Compress(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Add("Vary", "Accept-Encoding")

		encoding := negotiateEncoding(r.Header.Get("Accept-Encoding"))
		if encoding == "" || r.Method == http.MethodHead || r.Header.Get("Upgrade") != "" {
			next.ServeHTTP(w, r)
			return
		}

		cw := &compressWriter{ResponseWriter: w, encoding: encoding}
		defer cw.close()
		next.ServeHTTP(cw, r)
	})
}

// negotiateEncoding picks "br" or "gzip" from an Accept-Encoding header,
// ignoring codings with q=0. It returns "" when neither is acceptable.
func negotiateEncoding(header string) string {
	var br, gz bool
	for _, part := range strings.Split(header, ",") {
		name, params, _ := strings.Cut(strings.TrimSpace(part), ";")
		if q := strings.TrimSpace(params); strings.HasPrefix(q, "q=") && strings.Trim(strings.TrimPrefix(q, "q="), "0.") == "" {
			continue
		}
		switch strings.ToLower(strings.TrimSpace(name)) {
		case "br":
			br = true
		case "gzip":
			gz = true
		case "*":
			br = true
		}
	}
	switch {
	case br:
		return "br"
	case gz:
		return "gzip"
	}
	return ""
}
