package vault

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"casevault/internal/config"
	apperrors "casevault/internal/errors"
	"casevault/internal/files"
	"casevault/internal/infrastructure"
	"casevault/internal/lockout"
	"casevault/internal/security"
)

const maxDataSize = 512 << 20

// Lockout is the subset of the lockout controller the manager uses.
type Lockout interface {
	Check(op lockout.Operation) error
	Status(op lockout.Operation) lockout.Status
	RecordFailure(ctx context.Context, op lockout.Operation) (lockout.Status, error)
	RecordSuccess(ctx context.Context, op lockout.Operation) error
}

// UnlockResult describes a successful unlock.
type UnlockResult struct {
	IsNew bool
}

// Status is the vault state exposed to the rest of the application. It never
// carries key material.
type Status struct {
	Initialized        bool  `json:"initialized"`
	Unlocked           bool  `json:"unlocked"`
	BiometricAvailable bool  `json:"biometric_available"`
	BiometricEnrolled  bool  `json:"biometric_enrolled"`
	BiometricFallback  bool  `json:"biometric_fallback"`
	AutolockMinutes    int   `json:"autolock_minutes"`
	Locked             bool  `json:"locked"`
	Remaining          int64 `json:"remaining,omitempty"`
}

// Manager owns the vault key. Every operation that reads or changes the key
// holds mu, so a lockout check and the work it guards are atomic.
type Manager struct {
	mu    sync.Mutex
	files Files
	gate  Lockout
	key   *security.SecretBuffer

	params security.Argon2Params
	derive DeriveFunc
	audit  *auditLog

	secrets     SecretStore
	auth        Authenticator
	bio         config.BiometricConfig
	bioFailures int
	bioFallback bool

	lastActivity atomic.Int64
	autolock     atomic.Int64
	warningLead  time.Duration
	warnedFor    int64

	now     func() time.Time
	logger  *slog.Logger
	metrics *Metrics
	tracer  trace.Tracer
	sink    EventSink
}

// Option configures a Manager.
type Option func(*Manager)

// WithKDFParams sets the Argon2id cost used for new vaults and password
// changes. Existing vaults keep the parameters stored in their check block.
func WithKDFParams(p security.Argon2Params) Option {
	return func(m *Manager) { m.params = p }
}

// WithDeriveFunc replaces security.DeriveKey.
func WithDeriveFunc(fn DeriveFunc) Option {
	return func(m *Manager) { m.derive = fn }
}

// WithBiometric enables the biometric path with the given secure storage and
// prompt.
func WithBiometric(cfg config.BiometricConfig, secrets SecretStore, auth Authenticator) Option {
	return func(m *Manager) {
		m.bio = cfg
		m.secrets = secrets
		m.auth = auth
	}
}

// WithSession applies the auto-lock settings.
func WithSession(cfg config.SessionConfig) Option {
	return func(m *Manager) {
		m.autolock.Store(int64(time.Duration(cfg.AutolockMinutes) * time.Minute))
		m.warningLead = cfg.WarningLead
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) { m.logger = logger }
}

// WithMetrics sets the metric instruments.
func WithMetrics(metrics *Metrics) Option {
	return func(m *Manager) { m.metrics = metrics }
}

// WithTracer sets the tracer.
func WithTracer(t trace.Tracer) Option {
	return func(m *Manager) { m.tracer = t }
}

// WithEventSink receives lock, unlock and warning events.
func WithEventSink(sink EventSink) Option {
	return func(m *Manager) { m.sink = sink }
}

// NewManager builds a locked Manager over f.
func NewManager(f Files, gate Lockout, opts ...Option) (*Manager, error) {
	if gate == nil {
		return nil, errors.New("lockout controller is required")
	}
	if f.Salt == "" || f.Check == "" || f.Data == "" || f.Audit == "" || f.Biometric == "" {
		return nil, errors.New("vault file paths are required")
	}

	m := &Manager{
		files:       f,
		gate:        gate,
		params:      security.DefaultArgon2Params(),
		derive:      security.DeriveKey,
		warningLead: 30 * time.Second,
		now:         time.Now,
		logger:      slog.Default(),
	}
	m.autolock.Store(int64(5 * time.Minute))
	for _, opt := range opts {
		opt(m)
	}

	if err := m.params.Validate(); err != nil {
		return nil, apperrors.NewConfigError("invalid vault kdf parameters", err)
	}
	if m.bio.Enabled && m.bio.Timeout <= 0 {
		return nil, apperrors.NewConfigError("biometric timeout is mandatory", nil)
	}
	if m.bio.MaxFailures <= 0 {
		m.bio.MaxFailures = 3
	}
	if m.metrics == nil {
		m.metrics = noopMetrics()
	}
	if m.tracer == nil {
		m.tracer = otel.Tracer(TracerName)
	}
	m.logger = m.logger.With("component", "vault")
	m.audit = &auditLog{path: f.Audit, now: m.now}
	m.lastActivity.Store(m.now().UnixNano())

	return m, nil
}

// Initialized reports whether a vault exists on disk.
func (m *Manager) Initialized() bool {
	return files.Exists(m.files.Salt)
}

// Unlocked reports whether the key is held.
func (m *Manager) Unlocked() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.key != nil
}

// Status reports the vault state.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	lock := m.gate.Status(lockout.OpVault)
	return Status{
		Initialized:        m.Initialized(),
		Unlocked:           m.key != nil,
		BiometricAvailable: m.biometricConfigured(),
		BiometricEnrolled:  m.biometricConfigured() && files.Exists(m.files.Biometric),
		BiometricFallback:  m.bioFallback,
		AutolockMinutes:    m.AutolockMinutes(),
		Locked:             lock.Locked,
		Remaining:          lock.RemainingSeconds(),
	}
}

// Unlock derives the key from password and holds it. When no vault exists
// yet a new one is created, which requires a strong password.
func (m *Manager) Unlock(ctx context.Context, password []byte) (UnlockResult, error) {
	ctx, span := m.startSpan(ctx, "vault.unlock", "password")
	defer span.End()

	m.mu.Lock()
	defer m.mu.Unlock()

	m.metrics.UnlockAttempts.Add(ctx, 1, methodAttr("password"))

	if !m.Initialized() {
		if err := m.gate.Check(lockout.OpVault); err != nil {
			return UnlockResult{}, m.unlockFailed(ctx, span, "password", err)
		}
		if err := m.create(ctx, password); err != nil {
			return UnlockResult{}, m.unlockFailed(ctx, span, "password", err)
		}
		m.afterUnlock(ctx, "password", AuditVaultCreated)
		return UnlockResult{IsNew: true}, nil
	}

	key, err := m.checkPassword(ctx, password)
	if err != nil {
		return UnlockResult{}, m.unlockFailed(ctx, span, "password", err)
	}
	if err := m.holdKey(key); err != nil {
		return UnlockResult{}, m.unlockFailed(ctx, span, "password", err)
	}
	m.bioFailures = 0
	m.bioFallback = false
	m.afterUnlock(ctx, "password", AuditUnlocked)
	return UnlockResult{}, nil
}

// create initializes a new vault under password and holds its key.
func (m *Manager) create(ctx context.Context, password []byte) error {
	if problem, msg := security.CheckPasswordStrength(password); problem != security.PasswordAcceptable {
		return apperrors.NewWeakPasswordError(msg)
	}

	salt, err := security.RandomBytes(security.SaltSize)
	if err != nil {
		return apperrors.NewStorageError("failed to create vault", err)
	}
	key, err := m.deriveAsync(ctx, password, salt, m.params)
	if err != nil {
		return err
	}

	if err := m.rekey(key, salt, m.params, emptyDataStore); err != nil {
		security.Zero(key)
		return apperrors.NewStorageError("failed to create vault", err)
	}
	if err := m.holdKey(key); err != nil {
		return err
	}
	m.logInfo(ctx, "create", "vault created")
	return nil
}

// rekey writes data, salt and check block for key as one transaction.
func (m *Manager) rekey(key, salt []byte, params security.Argon2Params, plaintext []byte) error {
	check, err := newCheckBlock(key, params)
	if err != nil {
		return err
	}
	data, err := sealData(key, plaintext)
	if err != nil {
		return err
	}

	tx := &files.Transaction{}
	if err := (keyMaterial{salt: salt, check: check, data: data}).stage(tx, m.files); err != nil {
		tx.Abort()
		return err
	}
	return tx.Commit()
}

// authenticate derives the key for password and proves it against the check
// block. The returned key is owned by the caller.
func (m *Manager) authenticate(ctx context.Context, password []byte) ([]byte, error) {
	salt, err := loadSalt(m.files.Salt)
	if err != nil {
		return nil, m.tampered(ctx, "vault salt is unreadable", err)
	}
	cb, err := loadCheckBlock(m.files.Check)
	if err != nil {
		return nil, m.tampered(ctx, "vault check block is unreadable", err)
	}

	key, err := m.deriveAsync(ctx, password, salt, cb.params())
	if err != nil {
		return nil, err
	}
	if !cb.opens(key) {
		security.Zero(key)
		return nil, apperrors.NewAppError(apperrors.ErrTypeInvalidSecret, "incorrect password", nil)
	}
	return key, nil
}

// checkPassword is authenticate behind the vault lockout. Only a wrong
// password counts as a failure.
func (m *Manager) checkPassword(ctx context.Context, password []byte) ([]byte, error) {
	if err := m.gate.Check(lockout.OpVault); err != nil {
		return nil, err
	}

	key, err := m.authenticate(ctx, password)
	switch {
	case err == nil:
		if lerr := m.gate.RecordSuccess(ctx, lockout.OpVault); lerr != nil {
			m.logError(ctx, "lockout", "failed to reset lockout", slog.String("error", lerr.Error()))
		}
	case errors.Is(err, apperrors.ErrInvalidSecret):
		st, lerr := m.gate.RecordFailure(ctx, lockout.OpVault)
		if lerr != nil {
			m.logError(ctx, "lockout", "failed to persist lockout state", slog.String("error", lerr.Error()))
		}
		m.logWarn(ctx, "authenticate", "wrong vault password",
			slog.Uint64("consecutive_failures", uint64(st.Failures)),
			slog.Bool("locked", st.Locked))
	}
	return key, err
}

// tampered drops the held key and returns a TAMPERED error.
func (m *Manager) tampered(ctx context.Context, msg string, cause error) error {
	m.logError(ctx, "integrity", msg, slog.String("error", fmt.Sprint(cause)))
	m.lockLocked(ctx, LockReasonTamper)
	return apperrors.NewTamperedError(msg)
}

// holdKey moves key into protected memory, zeroing the source, and replaces
// any key already held.
func (m *Manager) holdKey(key []byte) error {
	buf, err := security.NewSecretFromBytes(key)
	if err != nil {
		return err
	}
	if m.key != nil {
		m.key.Close()
	}
	m.key = buf
	m.warnedFor = 0
	m.lastActivity.Store(m.now().UnixNano())
	return nil
}

// withKey runs fn with the held key, or returns VAULT_LOCKED.
func (m *Manager) withKey(fn func(key []byte) error) error {
	if m.key == nil {
		return apperrors.ErrVaultLocked
	}
	err := m.key.Use(fn)
	if errors.Is(err, security.ErrSecretClosed) {
		return apperrors.ErrVaultLocked
	}
	return err
}

func (m *Manager) afterUnlock(ctx context.Context, method, auditEvent string) {
	m.appendAudit(ctx, auditEvent)
	m.logInfo(ctx, "unlock", "vault unlocked", slog.String("method", method))
	m.emit(Event{Type: EventUnlocked, Method: method})
}

func (m *Manager) unlockFailed(ctx context.Context, span trace.Span, method string, err error) error {
	reason := classifyVaultError(err)
	m.metrics.UnlockFailures.Add(ctx, 1, metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("reason", reason)))
	span.RecordError(err)
	span.SetStatus(codes.Error, reason)
	return err
}

// Lock zeroes the key. Locking a locked vault does nothing.
func (m *Manager) Lock() {
	m.LockWithReason(LockReasonManual)
}

// LockWithReason is Lock with the reason reported in the vault.locked event.
func (m *Manager) LockWithReason(reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lockLocked(context.Background(), reason)
}

func (m *Manager) lockLocked(ctx context.Context, reason string) {
	if m.key == nil {
		return
	}
	if err := m.key.Close(); err != nil {
		m.logWarn(ctx, "lock", "failed to release key memory", slog.String("error", err.Error()))
	}
	m.key = nil
	m.warnedFor = 0

	m.metrics.Locks.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
	m.logInfo(ctx, "lock", "vault locked", slog.String("reason", reason))
	m.emit(Event{Type: EventLocked, Reason: reason})
}

// ReadData returns the decrypted data store.
func (m *Manager) ReadData(ctx context.Context) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []byte
	err := m.withKey(func(key []byte) error {
		plain, err := readData(m.files.Data, key)
		out = plain
		return err
	})
	switch {
	case errors.Is(err, security.ErrDecrypt):
		return nil, m.tampered(ctx, "vault data store failed authentication", err)
	case apperrors.TypeOf(err) != "":
		return nil, err
	case err != nil:
		return nil, apperrors.NewStorageError("failed to read vault data", err)
	}
	m.Touch()
	return out, nil
}

// WriteData replaces the data store with plaintext.
func (m *Manager) WriteData(ctx context.Context, plaintext []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	err := m.withKey(func(key []byte) error {
		sealed, err := sealData(key, plaintext)
		if err != nil {
			return err
		}
		return files.WriteAtomic(m.files.Data, sealed)
	})
	if apperrors.TypeOf(err) != "" {
		return err
	}
	if err != nil {
		return apperrors.NewStorageError("failed to write vault data", err)
	}
	m.Touch()
	return nil
}

// AuditLog returns the decrypted audit entries, oldest first.
func (m *Manager) AuditLog(ctx context.Context) ([]AuditEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var entries []AuditEntry
	err := m.withKey(func(key []byte) error {
		var err error
		entries, err = m.audit.read(key)
		return err
	})
	switch {
	case errors.Is(err, security.ErrDecrypt):
		return nil, apperrors.NewTamperedError("audit log failed authentication")
	case apperrors.TypeOf(err) != "":
		return nil, err
	case err != nil:
		return nil, apperrors.NewStorageError("failed to read audit log", err)
	}
	if entries == nil {
		entries = []AuditEntry{}
	}
	return entries, nil
}

// appendAudit records event. Audit failures are logged and never fail the
// operation being audited.
func (m *Manager) appendAudit(ctx context.Context, event string) {
	var tampered bool
	err := m.withKey(func(key []byte) error {
		var err error
		tampered, err = m.audit.append(key, event)
		return err
	})
	if tampered {
		m.logError(ctx, "audit", "audit log failed authentication, preserved as .corrupt")
	}
	if err != nil && !errors.Is(err, apperrors.ErrVaultLocked) {
		m.logWarn(ctx, "audit", "failed to append audit entry", slog.String("error", err.Error()))
	}
}

// Close locks the vault for shutdown.
func (m *Manager) Close() error {
	m.LockWithReason(LockReasonShutdown)
	return nil
}

func (m *Manager) emit(e Event) {
	if m.sink == nil {
		return
	}
	if e.At.IsZero() {
		e.At = m.now().UTC()
	}
	m.sink(e)
}

func (m *Manager) startSpan(ctx context.Context, name, method string) (context.Context, trace.Span) {
	return m.tracer.Start(ctx, name, trace.WithAttributes(attribute.String("vault.method", method)))
}

func methodAttr(method string) metric.MeasurementOption {
	return metric.WithAttributes(attribute.String("method", method))
}

// classifyVaultError names the failure for logs and metric labels.
func classifyVaultError(err error) string {
	switch apperrors.TypeOf(err) {
	case "":
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return "cancelled"
		}
		if errors.Is(err, fs.ErrNotExist) {
			return "missing"
		}
		return "internal"
	case apperrors.ErrTypeInvalidSecret:
		return "invalid_secret"
	case apperrors.ErrTypeLocked:
		return "locked"
	case apperrors.ErrTypeTampered:
		return "tampered"
	case apperrors.ErrTypeUnavailable:
		return "unavailable"
	case apperrors.ErrTypeWeakPassword:
		return "weak_password"
	default:
		return "internal"
	}
}

func (m *Manager) logAction(ctx context.Context, level slog.Level, action, result string, attrs ...slog.Attr) {
	logger := infrastructure.LoggerWithContext(ctx, m.logger)
	all := append([]slog.Attr{
		slog.String("action", action),
		slog.String("result", result),
	}, attrs...)
	logger.LogAttrs(ctx, level, result, all...)
}

func (m *Manager) logInfo(ctx context.Context, action, result string, attrs ...slog.Attr) {
	m.logAction(ctx, slog.LevelInfo, action, result, attrs...)
}

func (m *Manager) logWarn(ctx context.Context, action, result string, attrs ...slog.Attr) {
	m.logAction(ctx, slog.LevelWarn, action, result, attrs...)
}

func (m *Manager) logError(ctx context.Context, action, result string, attrs ...slog.Attr) {
	m.logAction(ctx, slog.LevelError, action, result, attrs...)
}
