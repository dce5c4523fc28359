package vault_test

import (
	"context"
	"errors"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zalando/go-keyring"

	"casevault/internal/config"
	apperrors "casevault/internal/errors"
	"casevault/internal/lockout"
	"casevault/internal/vault"
)

type prompt struct {
	calls atomic.Int32
	err   error
	block bool
}

func (p *prompt) Authenticate(ctx context.Context, _ string) error {
	p.calls.Add(1)
	if p.block {
		<-ctx.Done()
		return ctx.Err()
	}
	return p.err
}

func bioConfig() config.BiometricConfig {
	return config.BiometricConfig{
		Enabled:     true,
		Service:     "casevault-test",
		Timeout:     50 * time.Millisecond,
		MaxFailures: 3,
	}
}

func newBiometricFixture(t *testing.T, p *prompt) *fixture {
	t.Helper()
	keyring.MockInit()
	cfg := bioConfig()
	f := newFixture(t, vault.WithBiometric(cfg, vault.NewKeychain(cfg.Service), p))
	f.create(t)
	require.NoError(t, f.mgr.SaveBiometric(context.Background(), []byte(goodPassword)))
	return f
}

func TestBiometricRoundTrip(t *testing.T) {
	p := &prompt{}
	f := newBiometricFixture(t, p)
	ctx := context.Background()

	assert.True(t, f.mgr.HasBiometric())
	blob, err := os.ReadFile(f.files.Biometric)
	require.NoError(t, err)
	assert.NotContains(t, string(blob), goodPassword)

	f.mgr.Lock()
	_, err = f.mgr.UnlockBiometric(ctx)
	require.NoError(t, err)
	assert.True(t, f.mgr.Unlocked())
	assert.Equal(t, int32(1), p.calls.Load())

	require.NoError(t, f.mgr.ClearBiometric(ctx))
	assert.False(t, f.mgr.HasBiometric())

	f.mgr.Lock()
	_, err = f.mgr.UnlockBiometric(ctx)
	assert.ErrorIs(t, err, apperrors.ErrUnavailable)
	assert.False(t, vault.FallbackRequired(err))
}

func TestSaveBiometricNeedsMatchingPassword(t *testing.T) {
	keyring.MockInit()
	cfg := bioConfig()
	f := newFixture(t, vault.WithBiometric(cfg, vault.NewKeychain(cfg.Service), &prompt{}))
	ctx := context.Background()

	assert.ErrorIs(t, f.mgr.SaveBiometric(ctx, []byte(goodPassword)), apperrors.ErrVaultLocked)

	f.create(t)
	assert.ErrorIs(t, f.mgr.SaveBiometric(ctx, []byte(otherPassword)), apperrors.ErrInvalidSecret)
	assert.False(t, f.mgr.HasBiometric())
}

func TestBiometricFailuresFallBackToPassword(t *testing.T) {
	p := &prompt{}
	f := newBiometricFixture(t, p)
	ctx := context.Background()
	f.mgr.Lock()
	p.err = vault.ErrBiometricRejected

	for i := 1; i <= 3; i++ {
		_, err := f.mgr.UnlockBiometric(ctx)
		require.ErrorIs(t, err, apperrors.ErrUnavailable)
		assert.Equal(t, i == 3, vault.FallbackRequired(err), "attempt %d", i)
	}
	assert.Zero(t, f.gate.Status(lockout.OpVault).Failures)

	p.err = nil
	_, err := f.mgr.UnlockBiometric(ctx)
	assert.True(t, vault.FallbackRequired(err))
	assert.Equal(t, int32(3), p.calls.Load())
	assert.True(t, f.mgr.Status().BiometricFallback)

	_, err = f.mgr.Unlock(ctx, []byte(goodPassword))
	require.NoError(t, err)
	f.mgr.Lock()

	_, err = f.mgr.UnlockBiometric(ctx)
	require.NoError(t, err)
}

func TestBiometricPromptTimesOut(t *testing.T) {
	p := &prompt{}
	f := newBiometricFixture(t, p)
	f.mgr.Lock()
	p.block = true

	start := time.Now()
	_, err := f.mgr.UnlockBiometric(context.Background())
	assert.ErrorIs(t, err, apperrors.ErrUnavailable)
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.False(t, f.mgr.Unlocked())
}

func TestBiometricBlockedByLockout(t *testing.T) {
	p := &prompt{}
	f := newBiometricFixture(t, p)
	ctx := context.Background()
	f.mgr.Lock()

	for i := 0; i < 5; i++ {
		_, err := f.mgr.Unlock(ctx, []byte(otherPassword))
		require.ErrorIs(t, err, apperrors.ErrInvalidSecret)
	}

	_, err := f.mgr.UnlockBiometric(ctx)
	assert.ErrorIs(t, err, apperrors.ErrLocked)
	assert.Zero(t, p.calls.Load())
}

func TestStaleBiometricPasswordClearsEnrollment(t *testing.T) {
	p := &prompt{}
	f := newBiometricFixture(t, p)
	ctx := context.Background()

	// A manager without biometric support cannot refresh the enrollment.
	plain := f.build(t)
	f.mgr.Lock()
	_, err := plain.Unlock(ctx, []byte(goodPassword))
	require.NoError(t, err)
	require.NoError(t, plain.ChangePassword(ctx, []byte(goodPassword), []byte(otherPassword)))
	plain.Lock()

	_, err = f.mgr.UnlockBiometric(ctx)
	assert.ErrorIs(t, err, apperrors.ErrInvalidSecret)
	assert.False(t, f.mgr.HasBiometric())
	assert.Zero(t, f.gate.Status(lockout.OpVault).Failures)

	_, err = keyring.Get(bioConfig().Service, vault.NewKeychain(bioConfig().Service).Account())
	assert.True(t, errors.Is(err, keyring.ErrNotFound))
}

func TestChangePasswordRefreshesBiometric(t *testing.T) {
	p := &prompt{}
	f := newBiometricFixture(t, p)
	ctx := context.Background()

	require.NoError(t, f.mgr.ChangePassword(ctx, []byte(goodPassword), []byte(otherPassword)))
	f.mgr.Lock()

	_, err := f.mgr.UnlockBiometric(ctx)
	require.NoError(t, err)
}

func TestMissingWrapKeyClearsEnrollment(t *testing.T) {
	p := &prompt{}
	f := newBiometricFixture(t, p)
	f.mgr.Lock()
	require.NoError(t, keyring.Delete(bioConfig().Service, vault.NewKeychain(bioConfig().Service).Account()))

	_, err := f.mgr.UnlockBiometric(context.Background())
	assert.ErrorIs(t, err, apperrors.ErrUnavailable)
	assert.False(t, f.mgr.HasBiometric())
}
