package services

import (
	"context"
	"log/slog"
	"strings"

	apperrors "casevault/internal/errors"
	"casevault/internal/license"
	"casevault/internal/vault"
	"casevault/internal/websocket"
)

// LicenseService exposes license status and activation to the API.
type LicenseService interface {
	Status(ctx context.Context) license.Status
	IsActivated(ctx context.Context) bool
	Activate(ctx context.Context, token string) (ActivationResponse, error)
	FactoryReset(ctx context.Context) error
}

// ActivationResponse is the body of POST /api/license/activate. A locked
// activation carries Locked and Remaining.
type ActivationResponse struct {
	Success   bool   `json:"success"`
	Client    string `json:"client,omitempty"`
	Error     string `json:"error,omitempty"`
	Locked    bool   `json:"locked,omitempty"`
	Remaining int64  `json:"remaining,omitempty"`
}

// LicenseEvent is the payload of license.* events.
type LicenseEvent struct {
	Subject string `json:"subject,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

type licenseService struct {
	activator LicenseActivator
	vault     VaultLocker
	events    EventPublisher
	logger    *slog.Logger
}

// NewLicenseService wires the activator to the vault and the event stream.
// vault and events may be nil.
func NewLicenseService(activator LicenseActivator, vault VaultLocker, events EventPublisher, logger *slog.Logger) LicenseService {
	if logger == nil {
		logger = slog.Default()
	}
	if events == nil {
		events = discardEvents{}
	}
	return &licenseService{
		activator: activator,
		vault:     vault,
		events:    events,
		logger:    logger.With(slog.String("component", "license_service")),
	}
}

// Status reports the activation state. A tampered license locks the vault.
func (s *licenseService) Status(ctx context.Context) license.Status {
	st := s.activator.CheckStatus(ctx)
	if st.Tampered {
		s.lockVault(ctx, st.Reason)
	}
	return st
}

func (s *licenseService) lockVault(ctx context.Context, reason string) {
	if s.vault != nil {
		s.vault.LockWithReason(vault.LockReasonTamper)
	}
	s.logger.WarnContext(ctx, "license tampered, vault locked",
		slog.String("action", "status_check"),
		slog.String("result", "tampered"),
		slog.String("reason", reason))
	s.events.PublishContext(ctx, websocket.TypeLicenseTampered, LicenseEvent{Reason: reason})
}

// IsActivated reports whether a valid activation exists.
func (s *licenseService) IsActivated(ctx context.Context) bool {
	st := s.Status(ctx)
	return st.Activated && !st.Tampered
}

// Activate redeems token. Rejections are reported in the response with a
// user-safe message; the error carries the type for the HTTP status.
func (s *licenseService) Activate(ctx context.Context, token string) (ActivationResponse, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		err := apperrors.NewValidationError("license key is required")
		return ActivationResponse{Error: apperrors.UserMessage(err)}, err
	}

	res, err := s.activator.Activate(ctx, token)
	if err != nil {
		resp := ActivationResponse{Error: apperrors.UserMessage(err)}
		if remaining, ok := apperrors.RemainingOf(err); ok {
			resp.Locked = true
			resp.Remaining = apperrors.RemainingSeconds(remaining)
		}
		if apperrors.TypeOf(err) == apperrors.ErrTypeTampered {
			s.lockVault(ctx, err.Error())
		}
		return resp, err
	}

	s.events.PublishContext(ctx, websocket.TypeLicenseActivated, LicenseEvent{Subject: res.Subject})
	return ActivationResponse{Success: true, Client: res.Subject}, nil
}

// FactoryReset clears the activation and locks the vault.
func (s *licenseService) FactoryReset(ctx context.Context) error {
	if err := s.activator.FactoryReset(ctx); err != nil {
		return err
	}
	if s.vault != nil {
		s.vault.LockWithReason(vault.LockReasonReset)
	}
	s.events.PublishContext(ctx, websocket.TypeLicenseReset, nil)
	return nil
}
