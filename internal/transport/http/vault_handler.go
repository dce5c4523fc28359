package http

import (
	"encoding/base64"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	apperrors "casevault/internal/errors"
	mw "casevault/internal/middleware"
	"casevault/internal/services"
	"casevault/internal/vault"
)

// VaultHandler serves /api/vault.
type VaultHandler struct {
	service  VaultService
	validate *mw.Validator
	errors   *apperrors.ErrorHandler
	logger   *slog.Logger
}

// NewVaultHandler creates a VaultHandler.
func NewVaultHandler(service VaultService, validate *mw.Validator, errs *apperrors.ErrorHandler, logger *slog.Logger) *VaultHandler {
	return &VaultHandler{
		service:  service,
		validate: validate,
		errors:   errs,
		logger:   logger.With(slog.String("handler", "vault")),
	}
}

// PasswordRequest carries a single password.
type PasswordRequest struct {
	Password string `json:"password" validate:"required,max=1024"`
}

// ChangePasswordRequest is the body of POST /api/vault/password.
type ChangePasswordRequest struct {
	CurrentPassword string `json:"current_password" validate:"required,max=1024"`
	NewPassword     string `json:"new_password" validate:"required,max=1024"`
}

// ResetVaultRequest is the body of POST /api/vault/reset.
type ResetVaultRequest struct {
	Password string `json:"password" validate:"max=1024"`
	Confirm  bool   `json:"confirm"`
}

// ImportRequest is the body of POST /api/vault/backup/import.
type ImportRequest struct {
	Backup   json.RawMessage `json:"backup" validate:"required"`
	Password string          `json:"password" validate:"required,max=1024"`
}

// ImportResponse carries the decrypted backup, base64 encoded.
type ImportResponse struct {
	Data string `json:"data"`
}

// RestoreRequest is the body of POST /api/vault/backup/restore. An empty
// NewPassword keeps the backup password as the vault password.
type RestoreRequest struct {
	Backup      json.RawMessage `json:"backup" validate:"required"`
	Password    string          `json:"password" validate:"required,max=1024"`
	NewPassword string          `json:"new_password,omitempty" validate:"max=1024"`
	Confirm     bool            `json:"confirm"`
}

// AuditResponse is the body of GET /api/vault/audit.
type AuditResponse struct {
	Entries []vault.AuditEntry `json:"entries"`
}

// Routes returns the vault router.
func (h *VaultHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/status", h.Status)
	r.Post("/unlock", h.Unlock)
	r.Post("/unlock/biometric", h.UnlockBiometric)
	r.Post("/lock", h.Lock)
	r.Post("/biometric", h.EnableBiometric)
	r.Delete("/biometric", h.DisableBiometric)
	r.Post("/password", h.ChangePassword)
	r.Post("/verify", h.VerifyPassword)
	r.Post("/reset", h.Reset)
	r.Get("/audit", h.Audit)

	r.Route("/backup", func(r chi.Router) {
		r.Post("/export", h.ExportBackup)
		r.Post("/import", h.ImportBackup)
		r.Post("/restore", h.RestoreBackup)
	})
	return r
}

// Status handles GET /api/vault/status.
func (h *VaultHandler) Status(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, h.service.Status())
}

// Unlock handles POST /api/vault/unlock. The first unlock creates the vault.
func (h *VaultHandler) Unlock(w http.ResponseWriter, r *http.Request) {
	var req PasswordRequest
	if err := h.validate.Decode(r, &req, 0); err != nil {
		respondInline(w, r, err, services.UnlockResponse{Error: apperrors.UserMessage(err)})
		return
	}
	resp, err := h.service.Unlock(r.Context(), req.Password)
	h.unlockResult(w, r, resp, err)
}

// UnlockBiometric handles POST /api/vault/unlock/biometric.
func (h *VaultHandler) UnlockBiometric(w http.ResponseWriter, r *http.Request) {
	resp, err := h.service.UnlockBiometric(r.Context())
	h.unlockResult(w, r, resp, err)
}

func (h *VaultHandler) unlockResult(w http.ResponseWriter, r *http.Request, resp services.UnlockResponse, err error) {
	if err != nil {
		respondInline(w, r, err, resp)
		return
	}
	if resp.IsNew {
		render.Status(r, http.StatusCreated)
	}
	render.JSON(w, r, resp)
}

// Lock handles POST /api/vault/lock.
func (h *VaultHandler) Lock(w http.ResponseWriter, r *http.Request) {
	h.service.Lock(r.Context())
	ok(w, r)
}

// EnableBiometric handles POST /api/vault/biometric.
func (h *VaultHandler) EnableBiometric(w http.ResponseWriter, r *http.Request) {
	var req PasswordRequest
	if err := h.validate.Decode(r, &req, 0); err != nil {
		h.errors.HandleError(w, r, err)
		return
	}
	if err := h.service.EnableBiometric(r.Context(), req.Password); err != nil {
		failure(w, r, h.errors, err)
		return
	}
	ok(w, r)
}

// DisableBiometric handles DELETE /api/vault/biometric.
func (h *VaultHandler) DisableBiometric(w http.ResponseWriter, r *http.Request) {
	if err := h.service.DisableBiometric(r.Context()); err != nil {
		failure(w, r, h.errors, err)
		return
	}
	ok(w, r)
}

// ChangePassword handles POST /api/vault/password.
func (h *VaultHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	var req ChangePasswordRequest
	if err := h.validate.Decode(r, &req, 0); err != nil {
		h.errors.HandleError(w, r, err)
		return
	}
	if err := h.service.ChangePassword(r.Context(), req.CurrentPassword, req.NewPassword); err != nil {
		failure(w, r, h.errors, err)
		return
	}
	ok(w, r)
}

// VerifyPassword handles POST /api/vault/verify.
func (h *VaultHandler) VerifyPassword(w http.ResponseWriter, r *http.Request) {
	var req PasswordRequest
	if err := h.validate.Decode(r, &req, 0); err != nil {
		h.errors.HandleError(w, r, err)
		return
	}
	if err := h.service.VerifyPassword(r.Context(), req.Password); err != nil {
		failure(w, r, h.errors, err)
		return
	}
	ok(w, r)
}

// Reset handles POST /api/vault/reset. It requires {"confirm": true}.
func (h *VaultHandler) Reset(w http.ResponseWriter, r *http.Request) {
	var req ResetVaultRequest
	if err := h.validate.Decode(r, &req, 0); err != nil {
		h.errors.HandleError(w, r, err)
		return
	}
	if !req.Confirm {
		h.errors.HandleError(w, r, apperrors.NewValidationError("confirm must be true"))
		return
	}
	if err := h.service.Reset(r.Context(), req.Password); err != nil {
		failure(w, r, h.errors, err)
		return
	}
	h.logger.WarnContext(r.Context(), "vault reset through api",
		slog.String("request_id", mw.GetReqID(r.Context())))
	ok(w, r)
}

// Audit handles GET /api/vault/audit.
func (h *VaultHandler) Audit(w http.ResponseWriter, r *http.Request) {
	entries, err := h.service.AuditLog(r.Context())
	if err != nil {
		failure(w, r, h.errors, err)
		return
	}
	if entries == nil {
		entries = []vault.AuditEntry{}
	}
	render.JSON(w, r, AuditResponse{Entries: entries})
}

// ExportBackup handles POST /api/vault/backup/export and returns the
// envelope as the backup file body.
func (h *VaultHandler) ExportBackup(w http.ResponseWriter, r *http.Request) {
	var req PasswordRequest
	if err := h.validate.Decode(r, &req, 0); err != nil {
		h.errors.HandleError(w, r, err)
		return
	}
	env, err := h.service.ExportBackup(r.Context(), req.Password)
	if err != nil {
		failure(w, r, h.errors, err)
		return
	}
	w.Header().Set("Content-Disposition", `attachment; filename="casevault-backup.json"`)
	render.JSON(w, r, env)
}

// ImportBackup handles POST /api/vault/backup/import. It decrypts the
// backup without touching the live vault.
func (h *VaultHandler) ImportBackup(w http.ResponseWriter, r *http.Request) {
	var req ImportRequest
	if err := h.validate.Decode(r, &req, h.bodyLimit()); err != nil {
		h.errors.HandleError(w, r, err)
		return
	}
	env, err := h.service.DecodeBackup(req.Backup)
	if err != nil {
		h.errors.HandleError(w, r, err)
		return
	}
	plain, err := h.service.ImportBackup(r.Context(), env, req.Password)
	if err != nil {
		failure(w, r, h.errors, err)
		return
	}
	render.JSON(w, r, ImportResponse{Data: base64.StdEncoding.EncodeToString(plain)})
}

// RestoreBackup handles POST /api/vault/backup/restore. It replaces the
// vault contents and requires {"confirm": true}.
func (h *VaultHandler) RestoreBackup(w http.ResponseWriter, r *http.Request) {
	var req RestoreRequest
	if err := h.validate.Decode(r, &req, h.bodyLimit()); err != nil {
		h.errors.HandleError(w, r, err)
		return
	}
	if !req.Confirm {
		h.errors.HandleError(w, r, apperrors.NewValidationError("confirm must be true"))
		return
	}
	env, err := h.service.DecodeBackup(req.Backup)
	if err != nil {
		h.errors.HandleError(w, r, err)
		return
	}
	if err := h.service.RestoreBackup(r.Context(), env, req.Password, req.NewPassword); err != nil {
		failure(w, r, h.errors, err)
		return
	}
	ok(w, r)
}

// bodyLimit leaves room for the request fields around the backup.
func (h *VaultHandler) bodyLimit() int64 {
	return h.service.MaxBackupSize() + mw.DefaultMaxBodySize
}
