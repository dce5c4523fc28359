package services

import (
	"context"

	"casevault/internal/license"
)

// LicenseActivator is the license component as seen by the services.
type LicenseActivator interface {
	CheckStatus(ctx context.Context) license.Status
	Activate(ctx context.Context, token string) (license.Result, error)
	FactoryReset(ctx context.Context) error
}

// VaultLocker locks the vault with a reason.
type VaultLocker interface {
	LockWithReason(reason string)
}

// EventPublisher pushes events to connected clients.
type EventPublisher interface {
	PublishContext(ctx context.Context, msgType string, data interface{})
}

type discardEvents struct{}

func (discardEvents) PublishContext(context.Context, string, interface{}) {}
