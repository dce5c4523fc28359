package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	apperrors "casevault/internal/errors"
)

// ActivationChecker reports whether the installation holds a valid license.
type ActivationChecker interface {
	IsActivated(ctx context.Context) bool
}

// LicenseGate rejects requests under the guarded prefixes with 403 until
// the license is activated. Everything else passes through.
type LicenseGate struct {
	checker ActivationChecker
	guarded []string
	errors  *apperrors.ErrorHandler
	logger  *slog.Logger
}

// DefaultGuardedPrefixes are the routes that need an activated license.
var DefaultGuardedPrefixes = []string{"/api/vault", "/api/session"}

// NewLicenseGate guards prefixes, or DefaultGuardedPrefixes when none are
// given.
func NewLicenseGate(checker ActivationChecker, errs *apperrors.ErrorHandler, logger *slog.Logger, prefixes ...string) *LicenseGate {
	if len(prefixes) == 0 {
		prefixes = DefaultGuardedPrefixes
	}
	return &LicenseGate{
		checker: checker,
		guarded: prefixes,
		errors:  errs,
		logger:  logger.With(slog.String("component", "license_gate")),
	}
}

func (g *LicenseGate) guards(path string) bool {
	for _, p := range g.guarded {
		if path == p || strings.HasPrefix(path, p+"/") {
			return true
		}
	}
	return false
}

// Handler implements the middleware.
func (g *LicenseGate) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !g.guards(r.URL.Path) || g.checker.IsActivated(r.Context()) {
			next.ServeHTTP(w, r)
			return
		}
		g.logger.WarnContext(r.Context(), "request blocked until license activation",
			slog.String("action", "license_gate"),
			slog.String("result", "blocked"),
			slog.String("path", r.URL.Path))
		g.errors.HandleError(w, r, apperrors.ErrLicenseRequired)
	})
}
