package vault_test

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "casevault/internal/errors"
	"casevault/internal/lockout"
	"casevault/internal/security"
	"casevault/internal/vault"
)

const (
	goodPassword  = "Correct-Horse-42"
	otherPassword = "Another-Battery-7"
)

var fastParams = security.Argon2Params{MemoryKiB: 64, Iterations: 1, Parallelism: 1}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type events struct {
	mu   sync.Mutex
	list []vault.Event
}

func (e *events) sink(ev vault.Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.list = append(e.list, ev)
}

func (e *events) types() []vault.EventType {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]vault.EventType, 0, len(e.list))
	for _, ev := range e.list {
		out = append(out, ev.Type)
	}
	return out
}

type fixture struct {
	dir     string
	files   vault.Files
	clock   *clock
	gate    *lockout.Controller
	derives atomic.Int32
	events  *events
	mgr     *vault.Manager
}

func quiet() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newFixture(t *testing.T, opts ...vault.Option) *fixture {
	t.Helper()
	dir := t.TempDir()

	f := &fixture{
		dir: dir,
		files: vault.Files{
			Salt:      filepath.Join(dir, "vault.salt"),
			Check:     filepath.Join(dir, "vault.check"),
			Data:      filepath.Join(dir, "vault.dat"),
			Audit:     filepath.Join(dir, "vault.audit"),
			Biometric: filepath.Join(dir, ".bio-enabled"),
		},
		clock:  &clock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)},
		events: &events{},
	}

	gate, err := lockout.New(lockout.NewMemoryStore(), lockout.WithClock(f.clock.Now), lockout.WithLogger(quiet()))
	require.NoError(t, err)
	f.gate = gate

	f.mgr = f.build(t, opts...)
	return f
}

// build returns another manager over the same files and lockout.
func (f *fixture) build(t *testing.T, opts ...vault.Option) *vault.Manager {
	t.Helper()
	base := []vault.Option{
		vault.WithKDFParams(fastParams),
		vault.WithDeriveFunc(func(pw, salt []byte, p security.Argon2Params) ([]byte, error) {
			f.derives.Add(1)
			return security.DeriveKey(pw, salt, p)
		}),
		vault.WithClock(f.clock.Now),
		vault.WithLogger(quiet()),
		vault.WithEventSink(f.events.sink),
	}
	m, err := vault.NewManager(f.files, f.gate, append(base, opts...)...)
	require.NoError(t, err)
	return m
}

func (f *fixture) create(t *testing.T) {
	t.Helper()
	res, err := f.mgr.Unlock(context.Background(), []byte(goodPassword))
	require.NoError(t, err)
	require.True(t, res.IsNew)
}

func TestUnlockCreatesVault(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.mgr.Unlock(ctx, []byte("short"))
	assert.ErrorIs(t, err, apperrors.ErrWeakPassword)
	assert.False(t, f.mgr.Initialized())
	assert.Zero(t, f.gate.Status(lockout.OpVault).Failures)

	f.create(t)
	assert.True(t, f.mgr.Unlocked())

	for _, path := range []string{f.files.Salt, f.files.Check, f.files.Data, f.files.Audit} {
		info, err := os.Stat(path)
		require.NoError(t, err, path)
		assert.Equal(t, os.FileMode(0o600), info.Mode().Perm(), path)
	}

	data, err := f.mgr.ReadData(ctx)
	require.NoError(t, err)
	assert.JSONEq(t, `{"cases":[],"agenda":[]}`, string(data))

	res, err := f.mgr.Unlock(ctx, []byte(goodPassword))
	require.NoError(t, err)
	assert.False(t, res.IsNew)
}

func TestWrongPasswordCountsOneFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.create(t)
	f.mgr.Lock()

	_, err := f.mgr.Unlock(ctx, []byte(goodPassword+"x"))
	assert.ErrorIs(t, err, apperrors.ErrInvalidSecret)
	assert.False(t, f.mgr.Unlocked())
	assert.Equal(t, uint32(1), f.gate.Status(lockout.OpVault).Failures)

	_, err = f.mgr.Unlock(ctx, []byte(goodPassword))
	require.NoError(t, err)
	assert.Zero(t, f.gate.Status(lockout.OpVault).Failures)
}

func TestLockoutStopsKeyDerivation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.create(t)
	f.mgr.Lock()

	for i := 0; i < 5; i++ {
		_, err := f.mgr.Unlock(ctx, []byte(otherPassword))
		require.ErrorIs(t, err, apperrors.ErrInvalidSecret)
	}
	before := f.derives.Load()

	_, err := f.mgr.Unlock(ctx, []byte(goodPassword))
	require.ErrorIs(t, err, apperrors.ErrLocked)
	remaining, ok := apperrors.RemainingOf(err)
	require.True(t, ok)
	assert.Equal(t, 5*time.Minute, remaining)
	assert.Equal(t, before, f.derives.Load())

	assert.ErrorIs(t, f.mgr.VerifyPassword(ctx, []byte(goodPassword)), apperrors.ErrLocked)
	assert.Equal(t, before, f.derives.Load())

	f.clock.Advance(5 * time.Minute)
	_, err = f.mgr.Unlock(ctx, []byte(goodPassword))
	require.NoError(t, err)
}

func TestLockIsIdempotent(t *testing.T) {
	f := newFixture(t)
	f.create(t)

	f.mgr.Lock()
	f.mgr.Lock()
	assert.False(t, f.mgr.Unlocked())
	assert.Equal(t, []vault.EventType{vault.EventUnlocked, vault.EventLocked}, f.events.types())

	_, err := f.mgr.ReadData(context.Background())
	assert.ErrorIs(t, err, apperrors.ErrVaultLocked)
}

func TestDataRoundTripAndTamper(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.create(t)

	payload := []byte(`{"cases":[{"id":1,"title":"Rossi v. Bianchi"}]}`)
	require.NoError(t, f.mgr.WriteData(ctx, payload))

	got, err := f.mgr.ReadData(ctx)
	require.NoError(t, err)
	assert.Equal(t, payload, got)

	raw, err := os.ReadFile(f.files.Data)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "Rossi")

	raw[len(raw)-1] ^= 0x01
	require.NoError(t, os.WriteFile(f.files.Data, raw, 0o600))

	_, err = f.mgr.ReadData(ctx)
	assert.ErrorIs(t, err, apperrors.ErrTampered)
	assert.False(t, f.mgr.Unlocked())
}

func TestMissingCheckBlockIsTampering(t *testing.T) {
	f := newFixture(t)
	f.create(t)
	f.mgr.Lock()
	require.NoError(t, os.Remove(f.files.Check))

	_, err := f.mgr.Unlock(context.Background(), []byte(goodPassword))
	assert.ErrorIs(t, err, apperrors.ErrTampered)
	assert.Zero(t, f.gate.Status(lockout.OpVault).Failures)
}

func TestChangePassword(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.create(t)
	payload := []byte(`{"cases":[{"id":7}]}`)
	require.NoError(t, f.mgr.WriteData(ctx, payload))

	err := f.mgr.ChangePassword(ctx, []byte(goodPassword), []byte("weak"))
	assert.ErrorIs(t, err, apperrors.ErrWeakPassword)

	err = f.mgr.ChangePassword(ctx, []byte(otherPassword), []byte(otherPassword))
	assert.ErrorIs(t, err, apperrors.ErrInvalidSecret)
	assert.Equal(t, uint32(1), f.gate.Status(lockout.OpVault).Failures)

	require.NoError(t, f.mgr.ChangePassword(ctx, []byte(goodPassword), []byte(otherPassword)))
	f.mgr.Lock()

	_, err = f.mgr.Unlock(ctx, []byte(goodPassword))
	assert.ErrorIs(t, err, apperrors.ErrInvalidSecret)

	_, err = f.mgr.Unlock(ctx, []byte(otherPassword))
	require.NoError(t, err)
	got, err := f.mgr.ReadData(ctx)
	require.NoError(t, err)
	assert.Equal(t, payload, got)

	entries, err := f.mgr.AuditLog(ctx)
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Event)
	}
	assert.Contains(t, names, vault.AuditVaultCreated)
	assert.Contains(t, names, vault.AuditPasswordChanged)

	for _, leftover := range []string{".tmp", ".bak"} {
		_, err := os.Stat(f.files.Data + leftover)
		assert.True(t, os.IsNotExist(err))
	}
}

func TestAuditLogTamperIsPreserved(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.create(t)

	require.NoError(t, os.WriteFile(f.files.Audit, []byte("garbage"), 0o600))
	f.mgr.Lock()
	_, err := f.mgr.Unlock(ctx, []byte(goodPassword))
	require.NoError(t, err)

	corrupt, err := os.ReadFile(f.files.Audit + ".corrupt")
	require.NoError(t, err)
	assert.Equal(t, "garbage", string(corrupt))

	entries, err := f.mgr.AuditLog(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, vault.AuditTamperDetected, entries[0].Event)
	assert.Equal(t, vault.AuditUnlocked, entries[1].Event)
}

func TestCancelledUnlockDoesNotCount(t *testing.T) {
	f := newFixture(t)
	f.create(t)
	f.mgr.Lock()

	release := make(chan struct{})
	started := make(chan struct{}, 1)
	slow := f.build(t, vault.WithDeriveFunc(func(pw, salt []byte, p security.Argon2Params) ([]byte, error) {
		started <- struct{}{}
		<-release
		return security.DeriveKey(pw, salt, p)
	}))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := slow.Unlock(ctx, []byte(goodPassword))
		done <- err
	}()

	<-started
	cancel()
	err := <-done
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, slow.Unlocked())
	assert.Zero(t, f.gate.Status(lockout.OpVault).Failures)
	close(release)
}

func TestResetRequiresPassword(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.create(t)

	assert.ErrorIs(t, f.mgr.Reset(ctx, []byte(otherPassword)), apperrors.ErrInvalidSecret)
	assert.True(t, f.mgr.Initialized())

	require.NoError(t, f.mgr.Reset(ctx, []byte(goodPassword)))
	assert.False(t, f.mgr.Initialized())
	assert.False(t, f.mgr.Unlocked())
	for _, path := range []string{f.files.Salt, f.files.Check, f.files.Data, f.files.Audit} {
		_, err := os.Stat(path)
		assert.True(t, os.IsNotExist(err), path)
	}
}

func TestRestoreRekeysVault(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.create(t)
	restored := []byte(`{"cases":[{"id":99}]}`)

	assert.ErrorIs(t, f.mgr.Restore(ctx, restored, []byte("weak")), apperrors.ErrWeakPassword)
	require.NoError(t, f.mgr.Restore(ctx, restored, []byte(otherPassword)))

	f.mgr.Lock()
	_, err := f.mgr.Unlock(ctx, []byte(otherPassword))
	require.NoError(t, err)
	got, err := f.mgr.ReadData(ctx)
	require.NoError(t, err)
	assert.Equal(t, restored, got)

	entries, err := f.mgr.AuditLog(ctx)
	require.NoError(t, err)
	assert.Equal(t, vault.AuditVaultCreated, entries[0].Event)
}

func TestRestoreWhileLockedStartsNewAuditLog(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.create(t)
	f.mgr.Lock()

	require.NoError(t, f.mgr.Restore(ctx, []byte(`{"cases":[]}`), []byte(otherPassword)))
	assert.True(t, f.mgr.Unlocked())

	entries, err := f.mgr.AuditLog(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, vault.AuditRestored, entries[0].Event)
}

func TestAutolock(t *testing.T) {
	f := newFixture(t)
	f.create(t)
	f.mgr.SetAutolockMinutes(1)
	assert.Equal(t, 1, f.mgr.AutolockMinutes())

	f.clock.Advance(29 * time.Second)
	f.mgr.CheckIdle()
	assert.Equal(t, []vault.EventType{vault.EventUnlocked}, f.events.types())

	f.clock.Advance(2 * time.Second)
	f.mgr.CheckIdle()
	f.mgr.CheckIdle()
	assert.Equal(t, []vault.EventType{vault.EventUnlocked, vault.EventWarning}, f.events.types())
	assert.True(t, f.mgr.Unlocked())

	f.mgr.Touch()
	f.clock.Advance(59 * time.Second)
	f.mgr.CheckIdle()
	assert.True(t, f.mgr.Unlocked())

	f.clock.Advance(time.Second)
	f.mgr.CheckIdle()
	assert.False(t, f.mgr.Unlocked())

	types := f.events.types()
	assert.Equal(t, vault.EventLocked, types[len(types)-1])

	f.mgr.SetAutolockMinutes(0)
	assert.Equal(t, 0, f.mgr.AutolockMinutes())
}

func TestStatus(t *testing.T) {
	f := newFixture(t)
	st := f.mgr.Status()
	assert.False(t, st.Initialized)
	assert.False(t, st.Unlocked)
	assert.False(t, st.BiometricAvailable)

	f.create(t)
	st = f.mgr.Status()
	assert.True(t, st.Initialized)
	assert.True(t, st.Unlocked)
	assert.False(t, st.Locked)
}
