package middleware

import (
	"log/slog"
	"net"
	"net/http"
	"strings"

	"github.com/go-chi/render"

	apperrors "casevault/internal/errors"
)

// SecurityHeaders adds security-related headers
func SecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Referrer-Policy", "no-referrer")
		h.Set("Cache-Control", "no-store")
		h.Set("Content-Security-Policy", "default-src 'self'; connect-src 'self' ws://localhost:* ws://127.0.0.1:*; frame-ancestors 'none'")
		next.ServeHTTP(w, r)
	})
}

// LoopbackHost rejects requests whose Host header names anything other than
// a loopback address or localhost, so a page on another origin cannot reach
// the API through DNS rebinding.
func LoopbackHost(logger *slog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if isLoopbackHost(r.Host) {
				next.ServeHTTP(w, r)
				return
			}
			logger.WarnContext(r.Context(), "request for non-loopback host rejected",
				slog.String("host", r.Host),
				slog.String("path", r.URL.Path))
			render.Render(w, r, apperrors.NewProblemDetails(http.StatusMisdirectedRequest,
				"/errors/host", "Misdirected Request", "host not allowed", r.URL.Path))
		})
	}
}

func isLoopbackHost(hostport string) bool {
	host := hostport
	if h, _, err := net.SplitHostPort(hostport); err == nil {
		host = h
	}
	host = strings.Trim(host, "[]")
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
