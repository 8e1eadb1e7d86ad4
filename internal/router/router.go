package router

import (
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/qnbridge/feelfit-bridge/internal/auth"
	"github.com/qnbridge/feelfit-bridge/internal/snapshot"
	"github.com/qnbridge/feelfit-bridge/pkg/utilities"
)

// loggingResponseWriter wraps http.ResponseWriter to capture status and size.
type loggingResponseWriter struct {
	http.ResponseWriter
	status int
	size   int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.status = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Write(b []byte) (int, error) {
	if lrw.status == 0 {
		lrw.status = http.StatusOK
	}
	n, err := lrw.ResponseWriter.Write(b)
	lrw.size += n
	return n, err
}

// LoggingMiddleware logs requests at debug level using the provided sugared logger.
func LoggingMiddleware(logger *zap.SugaredLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			lrw := &loggingResponseWriter{ResponseWriter: w}
			next.ServeHTTP(lrw, r)
			dur := time.Since(start)
			status := lrw.status
			if status == 0 {
				status = http.StatusOK
			}
			logger.Debugw("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"remote", r.RemoteAddr,
				"status", status,
				"duration_ms", float64(dur.Microseconds())/1000.0,
				"size", lrw.size,
				"request_id", w.Header().Get("X-Request-Id"),
			)
		})
	}
}

// RequestIDMiddleware tags every response with a snowflake request id
// for log correlation.
func RequestIDMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Request-Id", utilities.NewRequestID())
			next.ServeHTTP(w, r)
		})
	}
}

// SecurityHeadersMiddleware sets common HTTP security headers.
func SecurityHeadersMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			w.Header().Set("X-Frame-Options", "DENY")
			w.Header().Set("Referrer-Policy", "no-referrer-when-downgrade")
			next.ServeHTTP(w, r)
		})
	}
}

// AuthMiddleware verifies the Bearer token on protected routes. When
// the auth service is disabled (no secret configured) requests pass
// through, which is the trusted-LAN default.
func AuthMiddleware(authSvc *auth.Service) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !authSvc.Enabled() {
				next.ServeHTTP(w, r)
				return
			}
			raw := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
			if raw == "" || raw == r.Header.Get("Authorization") {
				http.Error(w, "missing bearer token", http.StatusUnauthorized)
				return
			}
			if _, err := authSvc.VerifyToken(raw); err != nil {
				http.Error(w, "invalid token", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RegisterRoutes mounts HTTP handlers using the standard library's http.ServeMux.
func RegisterRoutes(logger *zap.SugaredLogger, snapHandler *snapshot.Handler, authSvc *auth.Service, authHandler *auth.Handler) http.Handler {
	mux := http.NewServeMux()

	// health and token endpoints stay unauthenticated
	mux.HandleFunc("GET /feelfit-bridge/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("POST /feelfit-bridge/auth/token", authHandler.Token)

	protected := AuthMiddleware(authSvc)
	mux.Handle("GET /feelfit-bridge/snapshot", protected(http.HandlerFunc(snapHandler.Snapshot)))
	mux.Handle("GET /feelfit-bridge/snapshot/profiles", protected(http.HandlerFunc(snapHandler.Profiles)))
	mux.Handle("GET /feelfit-bridge/snapshot/devices", protected(http.HandlerFunc(snapHandler.Devices)))
	mux.Handle("GET /feelfit-bridge/snapshot/status", protected(http.HandlerFunc(snapHandler.Status)))
	mux.Handle("POST /feelfit-bridge/refresh", protected(http.HandlerFunc(snapHandler.Refresh)))

	handler := LoggingMiddleware(logger)(RequestIDMiddleware()(SecurityHeadersMiddleware()(mux)))
	return handler
}
