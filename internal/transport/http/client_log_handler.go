package http

import (
	"log/slog"
	"net/http"
	"strings"

	apperrors "casevault/internal/errors"
	mw "casevault/internal/middleware"
)

const maxClientLogBody = 16 << 10

// ClientLogHandler forwards UI log lines into the service log.
type ClientLogHandler struct {
	validate *mw.Validator
	errors   *apperrors.ErrorHandler
	logger   *slog.Logger
}

// NewClientLogHandler creates a new client log handler
func NewClientLogHandler(validate *mw.Validator, errs *apperrors.ErrorHandler, logger *slog.Logger) *ClientLogHandler {
	return &ClientLogHandler{
		validate: validate,
		errors:   errs,
		logger:   logger.With(slog.String("handler", "client_log")),
	}
}

// LogRequest is one UI log entry. Free-form data is not accepted, so a
// page cannot push secrets into the log by accident.
type LogRequest struct {
	Level   string `json:"level" validate:"omitempty,oneof=debug info warn error"`
	Message string `json:"message" validate:"required,max=2048"`
	Source  string `json:"source,omitempty" validate:"max=256"`
}

// Handle handles POST /api/client-log.
func (h *ClientLogHandler) Handle(w http.ResponseWriter, r *http.Request) {
	var req LogRequest
	if err := h.validate.Decode(r, &req, maxClientLogBody); err != nil {
		h.errors.HandleError(w, r, err)
		return
	}

	h.logger.LogAttrs(r.Context(), clientLevel(req.Level), req.Message,
		slog.String("client_source", req.Source),
		slog.String("request_id", mw.GetReqID(r.Context())))

	w.WriteHeader(http.StatusNoContent)
}

func clientLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
