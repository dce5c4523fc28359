package vault

import (
	"context"
	"errors"
	"log/slog"

	apperrors "casevault/internal/errors"
	"casevault/internal/files"
	"casevault/internal/lockout"
	"casevault/internal/security"
)

const biometricReason = "Unlock Casevault"

// fallbackKey marks an UNAVAILABLE error after which the UI must use the
// password.
const fallbackKey = "fallback"

// FallbackRequired reports whether err tells the caller to stop offering
// biometric unlock until the next password unlock.
func FallbackRequired(err error) bool {
	var appErr *apperrors.AppError
	if !errors.As(err, &appErr) || appErr.Type != apperrors.ErrTypeUnavailable {
		return false
	}
	v, _ := appErr.Context[fallbackKey].(bool)
	return v
}

func fallbackError() error {
	return apperrors.NewUnavailableError("biometric unlock disabled until the next password unlock", nil).
		WithContext(fallbackKey, true)
}

func (m *Manager) biometricConfigured() bool {
	return m.bio.Enabled && m.secrets != nil && m.auth != nil
}

// HasBiometric reports whether biometric unlock is enrolled. It only checks
// the marker file and never prompts.
func (m *Manager) HasBiometric() bool {
	return m.biometricConfigured() && files.Exists(m.files.Biometric)
}

// SaveBiometric enrolls biometric unlock. The vault must be unlocked and
// password must derive the key currently held. A random wrap key goes to
// platform secure storage; the password wrapped under it goes to the marker
// file.
func (m *Manager) SaveBiometric(ctx context.Context, password []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.biometricConfigured() {
		return apperrors.NewUnavailableError("biometric unlock is not available", nil)
	}
	if m.key == nil {
		return apperrors.ErrVaultLocked
	}

	candidate, err := m.authenticate(ctx, password)
	if err != nil {
		return err
	}
	defer security.Zero(candidate)

	matches := false
	if err := m.withKey(func(key []byte) error {
		matches = security.SecureCompare(candidate, key)
		return nil
	}); err != nil {
		return err
	}
	if !matches {
		return apperrors.NewAppError(apperrors.ErrTypeInvalidSecret, "password does not match the unlocked vault", nil)
	}

	if err := m.wrapPassword(password); err != nil {
		m.clearBiometricLocked(ctx)
		return apperrors.NewUnavailableError("failed to store biometric secret", err)
	}

	m.bioFailures = 0
	m.bioFallback = false
	m.appendAudit(ctx, AuditBiometricEnabled)
	m.logInfo(ctx, "biometric_enroll", "biometric unlock enabled")
	return nil
}

// wrapPassword stores a fresh wrap key and writes the wrapped password.
func (m *Manager) wrapPassword(password []byte) error {
	wrapKey, err := security.RandomBytes(security.KeySize)
	if err != nil {
		return err
	}
	defer security.Zero(wrapKey)

	blob, err := security.Seal(wrapKey, password, []byte(biometricLabel))
	if err != nil {
		return err
	}
	if err := m.secrets.Store(wrapKey); err != nil {
		return err
	}
	return files.WriteAtomic(m.files.Biometric, blob)
}

// unwrapPassword reverses wrapPassword.
func (m *Manager) unwrapPassword() ([]byte, error) {
	blob, err := files.ReadLimited(m.files.Biometric, maxCheckFileSize)
	if err != nil {
		return nil, err
	}
	wrapKey, err := m.secrets.Load()
	if err != nil {
		return nil, err
	}
	defer security.Zero(wrapKey)
	return security.Open(wrapKey, blob, []byte(biometricLabel))
}

// ClearBiometric removes the enrollment from secure storage and disk.
func (m *Manager) ClearBiometric(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.clearBiometricLocked(ctx); err != nil {
		return apperrors.NewStorageError("failed to clear biometric enrollment", err)
	}
	m.appendAudit(ctx, AuditBiometricCleared)
	return nil
}

func (m *Manager) clearBiometricLocked(ctx context.Context) error {
	var errs []error
	if m.secrets != nil {
		errs = append(errs, m.secrets.Delete())
	}
	errs = append(errs, files.Remove(m.files.Biometric))
	m.bioFailures = 0
	m.bioFallback = false

	err := errors.Join(errs...)
	if err != nil {
		m.logWarn(ctx, "biometric_clear", "failed to clear biometric enrollment", slog.String("error", err.Error()))
	}
	return err
}

// UnlockBiometric unlocks with the password released by the platform
// biometric prompt. Prompt failures never count toward the lockout; after
// MaxFailures of them the call keeps returning an UNAVAILABLE error with
// FallbackRequired set until a password unlock succeeds.
func (m *Manager) UnlockBiometric(ctx context.Context) (UnlockResult, error) {
	ctx, span := m.startSpan(ctx, "vault.unlock", "biometric")
	defer span.End()

	m.mu.Lock()
	defer m.mu.Unlock()

	const method = "biometric"
	m.metrics.UnlockAttempts.Add(ctx, 1, methodAttr(method))

	if !m.biometricConfigured() {
		return UnlockResult{}, m.unlockFailed(ctx, span, method,
			apperrors.NewUnavailableError("biometric unlock is not available", nil))
	}
	if !files.Exists(m.files.Biometric) || !m.Initialized() {
		return UnlockResult{}, m.unlockFailed(ctx, span, method,
			apperrors.NewUnavailableError("biometric unlock is not set up", nil))
	}
	if m.bioFallback {
		return UnlockResult{}, m.unlockFailed(ctx, span, method, fallbackError())
	}
	if err := m.gate.Check(lockout.OpVault); err != nil {
		return UnlockResult{}, m.unlockFailed(ctx, span, method, err)
	}

	promptCtx, cancel := context.WithTimeout(ctx, m.bio.Timeout)
	err := m.auth.Authenticate(promptCtx, biometricReason)
	cancel()
	if err != nil {
		return UnlockResult{}, m.unlockFailed(ctx, span, method, m.biometricFailed(ctx, err))
	}

	password, err := m.unwrapPassword()
	if err != nil {
		m.logWarn(ctx, "biometric_unlock", "biometric secret unusable, clearing enrollment", slog.String("error", err.Error()))
		m.clearBiometricLocked(ctx)
		return UnlockResult{}, m.unlockFailed(ctx, span, method,
			apperrors.NewUnavailableError("biometric enrollment is no longer valid, unlock with your password", nil))
	}
	defer security.Zero(password)

	key, err := m.authenticate(ctx, password)
	if errors.Is(err, apperrors.ErrInvalidSecret) {
		m.logWarn(ctx, "biometric_unlock", "stored password is stale, clearing enrollment")
		m.clearBiometricLocked(ctx)
		return UnlockResult{}, m.unlockFailed(ctx, span, method,
			apperrors.NewAppError(apperrors.ErrTypeInvalidSecret,
				"biometric password is out of date, unlock with your password and enroll again", nil))
	}
	if err != nil {
		return UnlockResult{}, m.unlockFailed(ctx, span, method, err)
	}

	if err := m.holdKey(key); err != nil {
		return UnlockResult{}, m.unlockFailed(ctx, span, method, err)
	}
	if lerr := m.gate.RecordSuccess(ctx, lockout.OpVault); lerr != nil {
		m.logError(ctx, "lockout", "failed to reset lockout", slog.String("error", lerr.Error()))
	}
	m.bioFailures = 0
	m.afterUnlock(ctx, method, AuditUnlockedBio)
	return UnlockResult{}, nil
}

// biometricFailed counts a failed or cancelled prompt.
func (m *Manager) biometricFailed(ctx context.Context, cause error) error {
	if errors.Is(cause, ErrBiometricUnsupported) {
		return apperrors.NewUnavailableError("biometric authentication is not supported on this device", cause).
			WithContext(fallbackKey, true)
	}

	m.bioFailures++
	m.metrics.BiometricFailures.Add(ctx, 1)
	m.logWarn(ctx, "biometric_unlock", "biometric prompt failed",
		slog.Int("failures", m.bioFailures),
		slog.String("error", cause.Error()))

	if m.bioFailures >= m.bio.MaxFailures {
		m.bioFallback = true
		return fallbackError()
	}
	return apperrors.NewUnavailableError("biometric authentication failed", cause)
}
