package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	apperrors "casevault/internal/errors"
	mw "casevault/internal/middleware"
)

// SessionHandler serves /api/session: activity reports and the auto-lock
// setting.
type SessionHandler struct {
	service  VaultService
	validate *mw.Validator
	errors   *apperrors.ErrorHandler
	logger   *slog.Logger
}

// NewSessionHandler creates a SessionHandler.
func NewSessionHandler(service VaultService, validate *mw.Validator, errs *apperrors.ErrorHandler, logger *slog.Logger) *SessionHandler {
	return &SessionHandler{
		service:  service,
		validate: validate,
		errors:   errs,
		logger:   logger.With(slog.String("handler", "session")),
	}
}

// AutolockRequest sets the idle timeout; 0 disables auto-lock.
type AutolockRequest struct {
	Minutes *int `json:"minutes" validate:"required,gte=0,lte=1440"`
}

// AutolockResponse reports the idle timeout.
type AutolockResponse struct {
	Minutes int `json:"minutes"`
}

// Routes returns the session router.
func (h *SessionHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/activity", h.Activity)
	r.Get("/autolock", h.GetAutolock)
	r.Put("/autolock", h.SetAutolock)
	return r
}

// Activity handles POST /api/session/activity.
func (h *SessionHandler) Activity(w http.ResponseWriter, r *http.Request) {
	h.service.Touch()
	w.WriteHeader(http.StatusNoContent)
}

// GetAutolock handles GET /api/session/autolock.
func (h *SessionHandler) GetAutolock(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, AutolockResponse{Minutes: h.service.AutolockMinutes()})
}

// SetAutolock handles PUT /api/session/autolock.
func (h *SessionHandler) SetAutolock(w http.ResponseWriter, r *http.Request) {
	var req AutolockRequest
	if err := h.validate.Decode(r, &req, 0); err != nil {
		h.errors.HandleError(w, r, err)
		return
	}
	if err := h.service.SetAutolockMinutes(*req.Minutes); err != nil {
		h.errors.HandleError(w, r, err)
		return
	}
	h.logger.InfoContext(r.Context(), "autolock changed", slog.Int("minutes", *req.Minutes))
	render.JSON(w, r, AutolockResponse{Minutes: h.service.AutolockMinutes()})
}
