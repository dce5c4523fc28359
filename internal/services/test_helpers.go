package services

import (
	"context"

	"github.com/stretchr/testify/mock"

	"casevault/internal/license"
)

// MockActivator is a testify mock of LicenseActivator.
type MockActivator struct {
	mock.Mock
}

func (m *MockActivator) CheckStatus(ctx context.Context) license.Status {
	return m.Called(ctx).Get(0).(license.Status)
}

func (m *MockActivator) Activate(ctx context.Context, token string) (license.Result, error) {
	args := m.Called(ctx, token)
	return args.Get(0).(license.Result), args.Error(1)
}

func (m *MockActivator) FactoryReset(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

// MockEvents records published events.
type MockEvents struct {
	mock.Mock
}

func (m *MockEvents) PublishContext(ctx context.Context, msgType string, data interface{}) {
	m.Called(ctx, msgType, data)
}

// MockLocker records lock requests.
type MockLocker struct {
	mock.Mock
}

func (m *MockLocker) LockWithReason(reason string) {
	m.Called(reason)
}
