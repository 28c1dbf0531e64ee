package server

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/ternarybob/agentstream/internal/handlers"
	"github.com/ternarybob/agentstream/internal/metrics"
)

// withMiddleware wraps the router; the first entry runs outermost.
func (s *Server) withMiddleware(handler http.Handler) http.Handler {
	chain := []func(http.Handler) http.Handler{
		s.accessLog,
		cors,
		s.recoverPanics,
	}
	for i := len(chain) - 1; i >= 0; i-- {
		handler = chain[i](handler)
	}
	return handler
}

func isUpgrade(r *http.Request) bool {
	return strings.EqualFold(r.Header.Get("Upgrade"), "websocket")
}

func isStream(r *http.Request) bool {
	return isUpgrade(r) ||
		strings.HasSuffix(r.URL.Path, "/stream") ||
		r.URL.Path == "/api/run-browser-task"
}

// routeTemplate collapses session ids out of a path so it can be used as a
// metric label.
func routeTemplate(path string) string {
	for _, prefix := range []string{"/api/agent/", "/ws/session/"} {
		sessionID, action, ok := splitSessionPath(path, prefix)
		if !ok {
			continue
		}
		switch sessionID {
		case "start", "control", "details":
			if action == "" {
				return path
			}
		}
		if action == "" {
			return prefix + "{id}"
		}
		return prefix + "{id}/" + action
	}
	if strings.HasPrefix(path, "/ws/session/") {
		return "/ws/session/{id}/logs"
	}
	return path
}

// accessLog writes one line per completed request and records HTTP metrics.
// WebSocket upgrades are only counted; their lifetime is logged by the feed.
func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rw, r)

		elapsed := time.Since(start)
		route := routeTemplate(r.URL.Path)
		if rw.statusCode == http.StatusNotFound && route == r.URL.Path {
			route = "unmatched"
		}
		metrics.RecordHTTPRequest(route, rw.statusCode, elapsed.Seconds(), isStream(r))
		if isUpgrade(r) {
			return
		}

		event := s.app.Logger.Debug()
		if rw.statusCode >= http.StatusInternalServerError {
			event = s.app.Logger.Warn()
		}
		event = event.
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rw.statusCode).
			Int64("bytes", rw.written).
			Dur("duration", elapsed)
		if r.URL.RawQuery != "" {
			event = event.Str("query", r.URL.RawQuery)
		}
		event.Msg("HTTP " + r.Method + " " + route)
	})
}

// cors allows any origin; the API carries no cookies.
func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// recoverPanics turns a handler panic into a 500 envelope. http.ErrAbortHandler
// is re-raised so net/http can abort the connection silently.
func (s *Server) recoverPanics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler {
				panic(rec)
			}
			s.app.Logger.Error().
				Str("panic", fmt.Sprint(rec)).
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Msg("Handler panicked")
			handlers.WriteError(w, http.StatusInternalServerError, handlers.CodeUnexpectedError, "internal server error")
		}()
		next.ServeHTTP(w, r)
	})
}

// responseWriter records the status and body size. It unwraps for
// http.ResponseController and hijacks for WebSocket upgrades.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
	written    int64
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.written += int64(n)
	return n, err
}

func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := rw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("%T does not support hijacking", rw.ResponseWriter)
	}
	rw.statusCode = http.StatusSwitchingProtocols
	return hijacker.Hijack()
}
