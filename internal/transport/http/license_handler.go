package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"

	apperrors "casevault/internal/errors"
	"casevault/internal/infrastructure"
	mw "casevault/internal/middleware"
	"casevault/internal/services"
)

// maxTokenLength bounds the license key accepted by the activate route.
const maxTokenLength = 4096

// LicenseHandler serves /api/license.
type LicenseHandler struct {
	service  services.LicenseService
	validate *mw.Validator
	errors   *apperrors.ErrorHandler
	logger   *slog.Logger
}

// NewLicenseHandler creates a LicenseHandler.
func NewLicenseHandler(service services.LicenseService, validate *mw.Validator, errs *apperrors.ErrorHandler, logger *slog.Logger) *LicenseHandler {
	return &LicenseHandler{
		service:  service,
		validate: validate,
		errors:   errs,
		logger:   logger.With(slog.String("handler", "license")),
	}
}

// ActivateRequest is the body of POST /api/license/activate.
type ActivateRequest struct {
	Token string `json:"token" validate:"required,max=4096"`
}

// ResetRequest is the body of POST /api/license/reset.
type ResetRequest struct {
	Confirm bool `json:"confirm"`
}

// Routes returns the license router.
func (h *LicenseHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/status", h.Status)
	r.Post("/activate", h.Activate)
	r.Post("/reset", h.Reset)
	return r
}

// Status handles GET /api/license/status.
func (h *LicenseHandler) Status(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, h.service.Status(r.Context()))
}

// Activate handles POST /api/license/activate. The token is never logged.
func (h *LicenseHandler) Activate(w http.ResponseWriter, r *http.Request) {
	var req ActivateRequest
	if err := h.validate.Decode(r, &req, 2*maxTokenLength); err != nil {
		respondInline(w, r, err, services.ActivationResponse{Error: apperrors.UserMessage(err)})
		return
	}

	resp, err := h.service.Activate(r.Context(), req.Token)
	if err != nil {
		h.logger.WarnContext(r.Context(), "license activation rejected",
			slog.String("request_id", mw.GetReqID(r.Context())),
			slog.String("error_type", string(apperrors.TypeOf(err))))
		if rejectedToken(err) {
			infrastructure.RecordError(r.Context(), err)
			render.Status(r, http.StatusUnauthorized)
			render.JSON(w, r, resp)
			return
		}
		respondInline(w, r, err, resp)
		return
	}
	render.JSON(w, r, resp)
}

// Reset handles POST /api/license/reset. It requires {"confirm": true}.
func (h *LicenseHandler) Reset(w http.ResponseWriter, r *http.Request) {
	var req ResetRequest
	if err := h.validate.Decode(r, &req, 0); err != nil {
		h.errors.HandleError(w, r, err)
		return
	}
	if !req.Confirm {
		h.errors.HandleError(w, r, apperrors.NewValidationError("confirm must be true"))
		return
	}
	if err := h.service.FactoryReset(r.Context()); err != nil {
		h.errors.HandleError(w, r, err)
		return
	}
	ok(w, r)
}

// rejectedToken reports whether err is a judgment on the token itself.
// Format, signature and expiry failures share one status so a caller cannot
// tell them apart.
func rejectedToken(err error) bool {
	switch apperrors.TypeOf(err) {
	case apperrors.ErrTypeMalformedInput, apperrors.ErrTypeCryptoVerificationFailed, apperrors.ErrTypeExpired:
		return true
	}
	return false
}
