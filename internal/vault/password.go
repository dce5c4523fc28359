package vault

import (
	"context"
	"errors"
	"log/slog"

	apperrors "casevault/internal/errors"
	"casevault/internal/files"
	"casevault/internal/security"
)

// VerifyPassword checks password against the vault behind the lockout.
func (m *Manager) VerifyPassword(ctx context.Context, password []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.Initialized() {
		return apperrors.NewUnavailableError("no vault exists yet", nil)
	}
	key, err := m.checkPassword(ctx, password)
	if err != nil {
		return err
	}
	security.Zero(key)
	return nil
}

// ChangePassword re-keys the vault under next after checking current. The
// data store and audit log are re-encrypted and a biometric enrollment is
// refreshed with the new password.
func (m *Manager) ChangePassword(ctx context.Context, current, next []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.Initialized() {
		return apperrors.NewUnavailableError("no vault exists yet", nil)
	}
	if problem, msg := security.CheckPasswordStrength(next); problem != security.PasswordAcceptable {
		return apperrors.NewWeakPasswordError(msg)
	}

	oldKey, err := m.checkPassword(ctx, current)
	if err != nil {
		return err
	}
	defer security.Zero(oldKey)

	plain, err := readData(m.files.Data, oldKey)
	if err != nil {
		if errors.Is(err, security.ErrDecrypt) {
			return m.tampered(ctx, "vault data store failed authentication", err)
		}
		return apperrors.NewStorageError("failed to read vault data", err)
	}
	defer security.Zero(plain)

	entries, auditErr := m.audit.read(oldKey)

	salt, err := security.RandomBytes(security.SaltSize)
	if err != nil {
		return apperrors.NewStorageError("failed to change password", err)
	}
	newKey, err := m.deriveAsync(ctx, next, salt, m.params)
	if err != nil {
		return err
	}
	if err := m.rekey(newKey, salt, m.params, plain); err != nil {
		security.Zero(newKey)
		return apperrors.NewStorageError("failed to change password", err)
	}

	if auditErr == nil && entries != nil {
		if err := m.audit.write(newKey, entries); err != nil {
			m.logWarn(ctx, "change_password", "failed to re-encrypt audit log", slog.String("error", err.Error()))
		}
	} else if auditErr != nil {
		m.logWarn(ctx, "change_password", "audit log unreadable, starting a new one", slog.String("error", auditErr.Error()))
	}

	if err := m.holdKey(newKey); err != nil {
		return err
	}

	if m.HasBiometric() {
		if err := m.wrapPassword(next); err != nil {
			m.logWarn(ctx, "change_password", "failed to refresh biometric enrollment", slog.String("error", err.Error()))
			m.clearBiometricLocked(ctx)
		}
	}

	m.appendAudit(ctx, AuditPasswordChanged)
	m.logInfo(ctx, "change_password", "vault password changed")
	return nil
}

// Reset destroys the vault after checking password. Files are overwritten
// before removal and the key is dropped.
func (m *Manager) Reset(ctx context.Context, password []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.Initialized() {
		key, err := m.checkPassword(ctx, password)
		if err != nil {
			return err
		}
		security.Zero(key)
	}

	if err := m.wipeLocked(ctx); err != nil {
		return err
	}
	m.logWarn(ctx, "reset", "vault reset")
	return nil
}

func (m *Manager) wipeLocked(ctx context.Context) error {
	m.lockLocked(ctx, LockReasonReset)
	if m.secrets != nil {
		if err := m.secrets.Delete(); err != nil {
			m.logWarn(ctx, "reset", "failed to delete biometric secret", slog.String("error", err.Error()))
		}
	}

	var errs []error
	for _, path := range m.files.all() {
		errs = append(errs, files.Wipe(path))
	}
	m.bioFailures = 0
	m.bioFallback = false

	if err := errors.Join(errs...); err != nil {
		return apperrors.NewStorageError("failed to wipe vault files", err)
	}
	return nil
}

// Restore replaces the vault with plaintext, re-keyed under password with a
// fresh salt. It works on a locked vault so a forgotten password can be
// recovered from a backup; the audit history is carried over only when the
// vault was unlocked. Biometric enrollment is cleared.
func (m *Manager) Restore(ctx context.Context, plaintext, password []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if problem, msg := security.CheckPasswordStrength(password); problem != security.PasswordAcceptable {
		return apperrors.NewWeakPasswordError(msg)
	}

	var history []AuditEntry
	if m.key != nil {
		_ = m.withKey(func(key []byte) error {
			var err error
			history, err = m.audit.read(key)
			return err
		})
	}

	salt, err := security.RandomBytes(security.SaltSize)
	if err != nil {
		return apperrors.NewStorageError("failed to restore vault", err)
	}
	key, err := m.deriveAsync(ctx, password, salt, m.params)
	if err != nil {
		return err
	}
	if err := m.rekey(key, salt, m.params, plaintext); err != nil {
		security.Zero(key)
		return apperrors.NewStorageError("failed to restore vault", err)
	}

	if history != nil {
		if err := m.audit.write(key, history); err != nil {
			m.logWarn(ctx, "restore", "failed to carry over audit log", slog.String("error", err.Error()))
		}
	} else if err := files.Remove(m.files.Audit); err != nil {
		m.logWarn(ctx, "restore", "failed to remove stale audit log", slog.String("error", err.Error()))
	}

	if err := m.holdKey(key); err != nil {
		return err
	}
	m.clearBiometricLocked(ctx)
	m.appendAudit(ctx, AuditRestored)
	m.logWarn(ctx, "restore", "vault restored from backup")
	m.emit(Event{Type: EventUnlocked, Method: "restore"})
	return nil
}
