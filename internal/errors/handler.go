package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"net/http"
	"runtime"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
)

// Problem type URIs
const (
	TypeMalformedInput  = "/errors/malformed-input"
	TypeInvalidKey      = "/errors/license/invalid-key"
	TypeAlreadyConsumed = "/errors/license/already-consumed"
	TypeLicenseRequired = "/errors/license/required"
	TypeLocked          = "/errors/lockout"
	TypeTampered        = "/errors/tampered"
	TypeUnavailable     = "/errors/unavailable"
	TypeInvalidSecret   = "/errors/vault/invalid-secret"
	TypeVaultLocked     = "/errors/vault/locked"
	TypeWeakPassword    = "/errors/vault/weak-password"
	TypeBackupRejected  = "/errors/backup/rejected"
	TypeValidation      = "/errors/validation"
	TypeNotFound        = "/errors/not-found"
	TypeTimeout         = "/errors/timeout"
	TypeInternal        = "/errors/internal"
)

// ErrorHandler provides centralized error handling
type ErrorHandler struct {
	logger       *slog.Logger
	includeStack bool
}

// NewErrorHandler creates a new error handler
func NewErrorHandler(logger *slog.Logger, includeStack bool) *ErrorHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ErrorHandler{
		logger:       logger.With(slog.String("component", "error_handler")),
		includeStack: includeStack,
	}
}

// HandleError converts any error to RFC 7807 format and responds
func (h *ErrorHandler) HandleError(w http.ResponseWriter, r *http.Request, err error) {
	if err == nil {
		return
	}

	reqID := middleware.GetReqID(r.Context())
	problem := h.ErrorToProblem(err, r)
	problem.WithExtension("trace_id", reqID)

	level := slog.LevelWarn
	if problem.Status >= http.StatusInternalServerError {
		level = slog.LevelError
	}
	h.logger.Log(r.Context(), level, "request failed",
		slog.String("error", err.Error()),
		slog.String("error_type", string(TypeOf(err))),
		slog.Int("status", problem.Status),
		slog.String("request_id", reqID),
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
	)

	if h.includeStack && problem.Status >= http.StatusInternalServerError {
		problem.WithExtension("stack", getStackTrace())
	}

	render.Render(w, r, problem)
}

// ErrorToProblem converts an error to RFC 7807 Problem Details. Details shown
// to the client come from UserMessage, never from the wrapped cause.
func (h *ErrorHandler) ErrorToProblem(err error, r *http.Request) *ProblemDetails {
	if stderrors.Is(err, context.DeadlineExceeded) || stderrors.Is(err, context.Canceled) {
		return NewProblemDetails(
			http.StatusGatewayTimeout,
			TypeTimeout,
			"Request Timeout",
			"The request took too long to process and was cancelled",
			r.URL.Path,
		)
	}

	var appErr *AppError
	if !stderrors.As(err, &appErr) {
		return NewProblemDetails(
			http.StatusInternalServerError,
			TypeInternal,
			"Internal Server Error",
			"An unexpected error occurred while processing your request",
			r.URL.Path,
		)
	}

	status, problemType := statusFor(appErr.Type)
	problem := NewProblemDetails(status, problemType, http.StatusText(status), UserMessage(appErr), r.URL.Path).
		WithExtension("error_code", string(appErr.Type))

	if appErr.Type == ErrTypeLocked {
		remaining := RemainingSeconds(appErr.Remaining)
		problem.WithExtension("locked", true).
			WithExtension("remaining", remaining).
			WithExtension("retry_after", remaining)
	}

	return problem
}

// StatusCode returns the HTTP status err is rendered with.
func StatusCode(err error) int {
	if stderrors.Is(err, context.DeadlineExceeded) || stderrors.Is(err, context.Canceled) {
		return http.StatusGatewayTimeout
	}
	var appErr *AppError
	if !stderrors.As(err, &appErr) {
		return http.StatusInternalServerError
	}
	status, _ := statusFor(appErr.Type)
	return status
}

// statusFor maps an error type to its HTTP status and problem type URI.
func statusFor(t ErrorType) (int, string) {
	switch t {
	case ErrTypeMalformedInput:
		return http.StatusBadRequest, TypeMalformedInput
	case ErrTypeValidation:
		return http.StatusBadRequest, TypeValidation
	case ErrTypeCryptoVerificationFailed, ErrTypeExpired:
		return http.StatusUnauthorized, TypeInvalidKey
	case ErrTypeInvalidSecret:
		return http.StatusUnauthorized, TypeInvalidSecret
	case ErrTypeAlreadyConsumed:
		return http.StatusConflict, TypeAlreadyConsumed
	case ErrTypeLocked:
		return http.StatusTooManyRequests, TypeLocked
	case ErrTypeTampered:
		return http.StatusForbidden, TypeTampered
	case ErrTypeLicenseRequired:
		return http.StatusForbidden, TypeLicenseRequired
	case ErrTypeVaultLocked:
		return http.StatusLocked, TypeVaultLocked
	case ErrTypeWeakPassword:
		return http.StatusUnprocessableEntity, TypeWeakPassword
	case ErrTypeWrongPasswordOrCorrupt:
		return http.StatusUnprocessableEntity, TypeBackupRejected
	case ErrTypeUnavailable:
		return http.StatusServiceUnavailable, TypeUnavailable
	default:
		return http.StatusInternalServerError, TypeInternal
	}
}

// HandlePanic recovers from panics and returns RFC 7807 error
func (h *ErrorHandler) HandlePanic(w http.ResponseWriter, r *http.Request, recovered interface{}) {
	reqID := middleware.GetReqID(r.Context())

	h.logger.ErrorContext(r.Context(), "panic recovered",
		slog.Any("panic", recovered),
		slog.String("request_id", reqID),
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
	)

	problem := NewProblemDetails(
		http.StatusInternalServerError,
		TypeInternal,
		"Internal Server Error",
		"An unexpected error occurred",
		r.URL.Path,
	).WithExtension("trace_id", reqID)

	if h.includeStack {
		problem.WithExtension("panic", fmt.Sprintf("%v", recovered))
		problem.WithExtension("stack", getStackTrace())
	}

	render.Render(w, r, problem)
}

// NotFound returns a standard 404 error
func (h *ErrorHandler) NotFound(w http.ResponseWriter, r *http.Request) {
	problem := NewProblemDetails(
		http.StatusNotFound,
		TypeNotFound,
		"Not Found",
		"The requested resource was not found",
		r.URL.Path,
	).WithExtension("trace_id", middleware.GetReqID(r.Context()))

	render.Render(w, r, problem)
}

// MethodNotAllowed returns a standard 405 error
func (h *ErrorHandler) MethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	problem := NewProblemDetails(
		http.StatusMethodNotAllowed,
		TypeNotFound,
		"Method Not Allowed",
		fmt.Sprintf("Method %s is not allowed for this endpoint", r.Method),
		r.URL.Path,
	).WithExtension("trace_id", middleware.GetReqID(r.Context()))

	render.Render(w, r, problem)
}

// getStackTrace returns the current stack trace
func getStackTrace() string {
	buf := make([]byte, 1024*8)
	n := runtime.Stack(buf, false)
	return string(buf[:n])
}
