package services

import (
	"context"
	"log/slog"

	"casevault/internal/backup"
	apperrors "casevault/internal/errors"
	"casevault/internal/security"
	"casevault/internal/vault"
)

// UnlockResponse is the body of the unlock routes. A locked unlock carries
// Locked and Remaining; Fallback tells the UI to stop offering biometrics.
type UnlockResponse struct {
	Success   bool   `json:"success"`
	Error     string `json:"error,omitempty"`
	Locked    bool   `json:"locked,omitempty"`
	Remaining int64  `json:"remaining,omitempty"`
	IsNew     bool   `json:"is_new,omitempty"`
	Fallback  bool   `json:"fallback,omitempty"`
}

// VaultService exposes the vault manager and the backup codec to the API.
type VaultService struct {
	vault  *vault.Manager
	codec  *backup.Codec
	logger *slog.Logger
}

// NewVaultService creates a VaultService.
func NewVaultService(m *vault.Manager, codec *backup.Codec, logger *slog.Logger) *VaultService {
	if logger == nil {
		logger = slog.Default()
	}
	return &VaultService{
		vault:  m,
		codec:  codec,
		logger: logger.With(slog.String("component", "vault_service")),
	}
}

// Status reports the vault state.
func (s *VaultService) Status() vault.Status {
	return s.vault.Status()
}

// Unlock unlocks with password, creating the vault on first use.
func (s *VaultService) Unlock(ctx context.Context, password string) (UnlockResponse, error) {
	pw := []byte(password)
	defer security.Zero(pw)

	res, err := s.vault.Unlock(ctx, pw)
	if err != nil {
		return unlockFailure(err), err
	}
	return UnlockResponse{Success: true, IsNew: res.IsNew}, nil
}

// UnlockBiometric unlocks through the platform prompt.
func (s *VaultService) UnlockBiometric(ctx context.Context) (UnlockResponse, error) {
	if _, err := s.vault.UnlockBiometric(ctx); err != nil {
		return unlockFailure(err), err
	}
	return UnlockResponse{Success: true}, nil
}

func unlockFailure(err error) UnlockResponse {
	resp := UnlockResponse{
		Error:    apperrors.UserMessage(err),
		Fallback: vault.FallbackRequired(err),
	}
	if remaining, ok := apperrors.RemainingOf(err); ok {
		resp.Locked = true
		resp.Remaining = apperrors.RemainingSeconds(remaining)
	}
	return resp
}

// Lock drops the key. It is idempotent.
func (s *VaultService) Lock(ctx context.Context) {
	s.vault.LockWithReason(vault.LockReasonManual)
	s.logger.InfoContext(ctx, "vault locked on request", slog.String("action", "lock"))
}

// EnableBiometric enrolls biometric unlock for the held key.
func (s *VaultService) EnableBiometric(ctx context.Context, password string) error {
	pw := []byte(password)
	defer security.Zero(pw)
	return s.vault.SaveBiometric(ctx, pw)
}

// DisableBiometric removes the enrollment.
func (s *VaultService) DisableBiometric(ctx context.Context) error {
	return s.vault.ClearBiometric(ctx)
}

// ChangePassword re-keys the vault.
func (s *VaultService) ChangePassword(ctx context.Context, current, next string) error {
	cur, nxt := []byte(current), []byte(next)
	defer security.Zero(cur)
	defer security.Zero(nxt)
	return s.vault.ChangePassword(ctx, cur, nxt)
}

// VerifyPassword checks password behind the lockout.
func (s *VaultService) VerifyPassword(ctx context.Context, password string) error {
	pw := []byte(password)
	defer security.Zero(pw)
	return s.vault.VerifyPassword(ctx, pw)
}

// Reset destroys the vault after checking password.
func (s *VaultService) Reset(ctx context.Context, password string) error {
	pw := []byte(password)
	defer security.Zero(pw)
	return s.vault.Reset(ctx, pw)
}

// ExportBackup encrypts the current data store under password. The vault
// must be unlocked.
func (s *VaultService) ExportBackup(ctx context.Context, password string) (*backup.Envelope, error) {
	if password == "" {
		return nil, apperrors.NewValidationError("backup password is required")
	}
	plain, err := s.vault.ReadData(ctx)
	if err != nil {
		return nil, err
	}
	defer security.Zero(plain)

	pw := []byte(password)
	defer security.Zero(pw)
	return s.codec.Export(ctx, plain, pw)
}

// ImportBackup decrypts env and returns its plaintext. The live vault is not
// touched.
func (s *VaultService) ImportBackup(ctx context.Context, env *backup.Envelope, password string) ([]byte, error) {
	pw := []byte(password)
	defer security.Zero(pw)
	return s.codec.Import(ctx, env, pw)
}

// RestoreBackup decrypts env with backupPassword and replaces the vault with
// its contents under vaultPassword. An empty vaultPassword reuses the backup
// password.
func (s *VaultService) RestoreBackup(ctx context.Context, env *backup.Envelope, backupPassword, vaultPassword string) error {
	plain, err := s.ImportBackup(ctx, env, backupPassword)
	if err != nil {
		return err
	}
	defer security.Zero(plain)

	if vaultPassword == "" {
		vaultPassword = backupPassword
	}
	pw := []byte(vaultPassword)
	defer security.Zero(pw)
	return s.vault.Restore(ctx, plain, pw)
}

// AuditLog returns the decrypted audit entries.
func (s *VaultService) AuditLog(ctx context.Context) ([]vault.AuditEntry, error) {
	return s.vault.AuditLog(ctx)
}

// Touch records user activity.
func (s *VaultService) Touch() {
	s.vault.Touch()
}

// AutolockMinutes returns the idle timeout.
func (s *VaultService) AutolockMinutes() int {
	return s.vault.AutolockMinutes()
}

// SetAutolockMinutes changes the idle timeout. Zero disables auto-lock.
func (s *VaultService) SetAutolockMinutes(minutes int) error {
	if minutes < 0 || minutes > 24*60 {
		return apperrors.NewValidationError("autolock minutes must be between 0 and 1440")
	}
	s.vault.SetAutolockMinutes(minutes)
	return nil
}

// DecodeBackup parses backup file text within the codec's size limit.
func (s *VaultService) DecodeBackup(data []byte) (*backup.Envelope, error) {
	return s.codec.Decode(data)
}

// MaxBackupSize is the largest backup the codec accepts.
func (s *VaultService) MaxBackupSize() int64 {
	return s.codec.MaxSize()
}
