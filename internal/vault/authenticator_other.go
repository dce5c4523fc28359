//go:build !darwin && !windows

package vault

import "context"

func (platformAuthenticator) Authenticate(context.Context, string) error {
	return ErrBiometricUnsupported
}
