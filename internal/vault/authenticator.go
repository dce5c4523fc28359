package vault

import (
	"context"
	"errors"
)

// ErrBiometricUnsupported is returned by the platform authenticator on
// systems without a biometric prompt.
var ErrBiometricUnsupported = errors.New("biometric authentication is not supported on this platform")

// ErrBiometricRejected means the user failed or dismissed the prompt.
var ErrBiometricRejected = errors.New("biometric authentication failed")

// Authenticator shows the platform biometric prompt and blocks until the
// user answers or ctx ends.
type Authenticator interface {
	Authenticate(ctx context.Context, reason string) error
}

// AuthenticatorFunc adapts a function to Authenticator.
type AuthenticatorFunc func(ctx context.Context, reason string) error

// Authenticate implements Authenticator.
func (f AuthenticatorFunc) Authenticate(ctx context.Context, reason string) error {
	return f(ctx, reason)
}

// PlatformAuthenticator returns the prompt for the current OS.
func PlatformAuthenticator() Authenticator {
	return platformAuthenticator{}
}

type platformAuthenticator struct{}
