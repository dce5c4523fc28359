package license

import (
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"casevault/internal/infrastructure"
)

// logAction logs a license action with the standard component, action and
// result attributes plus the active trace id.
func (a *Activator) logAction(ctx context.Context, level slog.Level, action, result string, attrs ...slog.Attr) {
	logger := infrastructure.LoggerWithContext(ctx, a.logger)

	if span := trace.SpanFromContext(ctx); span.IsRecording() {
		infrastructure.AddSpanEvent(ctx, "license."+action,
			attribute.String("action", action),
			attribute.String("result", result))
	}

	all := []slog.Attr{
		slog.String("action", action),
		slog.String("result", result),
	}
	if traceID := infrastructure.TraceIDFromContext(ctx); traceID != "" {
		all = append(all, slog.String("otel_trace_id", traceID))
	}
	all = append(all, attrs...)

	logger.LogAttrs(ctx, level, result, all...)
}

// logTokenAction adds masked token attributes. The raw token is never
// logged.
func (a *Activator) logTokenAction(ctx context.Context, level slog.Level, action, result, token string, attrs ...slog.Attr) {
	tokenAttrs := []slog.Attr{
		slog.String("license_key_masked", maskToken(token)),
		slog.String("license_key_hash", hashToken(token)),
		slog.String("audit_category", "license_security"),
	}
	a.logAction(ctx, level, action, result, append(tokenAttrs, attrs...)...)
}

// maskToken keeps the first and last four characters.
func maskToken(token string) string {
	if len(token) <= 12 {
		return "****"
	}
	return token[:4] + "****" + token[len(token)-4:]
}

// hashToken is a short correlation hash for audit trails.
func hashToken(token string) string {
	if token == "" {
		return ""
	}
	h := sha256.Sum256([]byte(token))
	return fmt.Sprintf("%x", h)[:16]
}

func (a *Activator) logInfo(ctx context.Context, action, result string, attrs ...slog.Attr) {
	a.logAction(ctx, slog.LevelInfo, action, result, attrs...)
}

func (a *Activator) logWarn(ctx context.Context, action, result string, attrs ...slog.Attr) {
	a.logAction(ctx, slog.LevelWarn, action, result, attrs...)
}

func (a *Activator) logError(ctx context.Context, action, result string, attrs ...slog.Attr) {
	a.logAction(ctx, slog.LevelError, action, result, attrs...)
}
