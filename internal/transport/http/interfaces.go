package http

import (
	"context"

	"casevault/internal/backup"
	"casevault/internal/services"
	"casevault/internal/vault"
)

// VaultService is the vault surface the handlers use.
type VaultService interface {
	Status() vault.Status
	Unlock(ctx context.Context, password string) (services.UnlockResponse, error)
	UnlockBiometric(ctx context.Context) (services.UnlockResponse, error)
	Lock(ctx context.Context)
	EnableBiometric(ctx context.Context, password string) error
	DisableBiometric(ctx context.Context) error
	ChangePassword(ctx context.Context, current, next string) error
	VerifyPassword(ctx context.Context, password string) error
	Reset(ctx context.Context, password string) error
	ExportBackup(ctx context.Context, password string) (*backup.Envelope, error)
	ImportBackup(ctx context.Context, env *backup.Envelope, password string) ([]byte, error)
	RestoreBackup(ctx context.Context, env *backup.Envelope, backupPassword, vaultPassword string) error
	DecodeBackup(data []byte) (*backup.Envelope, error)
	MaxBackupSize() int64
	AuditLog(ctx context.Context) ([]vault.AuditEntry, error)
	Touch()
	AutolockMinutes() int
	SetAutolockMinutes(minutes int) error
}

var _ VaultService = (*services.VaultService)(nil)
