package license

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"

	apperrors "casevault/internal/errors"
	"casevault/internal/files"
	"casevault/internal/lockout"
	"casevault/internal/security"
)

// Lockout is the subset of the lockout controller the activator uses.
type Lockout interface {
	Check(op lockout.Operation) error
	RecordFailure(ctx context.Context, op lockout.Operation) (lockout.Status, error)
	RecordSuccess(ctx context.Context, op lockout.Operation) error
}

// Status is the activation state reported to the rest of the application.
type Status struct {
	Activated   bool       `json:"activated"`
	Tampered    bool       `json:"tampered"`
	Reason      string     `json:"reason,omitempty"`
	Expired     bool       `json:"expired,omitempty"`
	Subject     string     `json:"subject,omitempty"`
	ActivatedAt *time.Time `json:"activated_at,omitempty"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
}

// Result describes a successful activation.
type Result struct {
	Subject   string
	KeyID     string
	ExpiresAt *time.Time
}

const (
	reasonRecordMissing  = "license record is missing but this installation was previously activated"
	reasonRecordInvalid  = "license record is not valid for this device"
	reasonMarkerMismatch = "license integrity marker does not match the activation record"
)

// Activator verifies license tokens and owns the on-disk activation state.
// Activations are serialized; status checks are read-only and may run
// concurrently with each other.
type Activator struct {
	sem      *semaphore.Weighted
	gate     Lockout
	verifier Verifier
	store    *stateStore
	tag      string

	now     func() time.Time
	logger  *slog.Logger
	metrics *LicenseMetrics
	tracer  trace.Tracer
}

// Option configures an Activator.
type Option func(*Activator)

// WithVerifier replaces the verifier built from the embedded public key.
func WithVerifier(v Verifier) Option {
	return func(a *Activator) { a.verifier = v }
}

// WithProductTag sets the accepted token prefix.
func WithProductTag(tag string) Option {
	return func(a *Activator) { a.tag = tag }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(a *Activator) { a.now = now }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(a *Activator) { a.logger = logger }
}

// WithMetrics sets the metric instruments.
func WithMetrics(m *LicenseMetrics) Option {
	return func(a *Activator) { a.metrics = m }
}

// WithTracer sets the tracer.
func WithTracer(t trace.Tracer) Option {
	return func(a *Activator) { a.tracer = t }
}

// NewActivator builds an Activator over the given files. Without
// WithVerifier the embedded public key must be present.
func NewActivator(device *security.DeviceKey, f Files, gate Lockout, opts ...Option) (*Activator, error) {
	if device == nil {
		return nil, errors.New("device key is required")
	}
	if gate == nil {
		return nil, errors.New("lockout controller is required")
	}
	if f.Record == "" || f.Sentinel == "" || f.Registry == "" {
		return nil, errors.New("license file paths are required")
	}

	a := &Activator{
		sem:    semaphore.NewWeighted(1),
		gate:   gate,
		store:  &stateStore{files: f, device: device},
		tag:    DefaultProductTag,
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}

	if a.verifier == nil {
		pub, err := EmbeddedPublicKey()
		if err != nil {
			return nil, err
		}
		v, err := NewEd25519Verifier(pub)
		if err != nil {
			return nil, err
		}
		a.verifier = v
	}
	if a.metrics == nil {
		a.metrics = noopLicenseMetrics()
	}
	a.logger = a.logger.With("component", "license")

	return a, nil
}

// CheckStatus reports the activation state. It never writes.
func (a *Activator) CheckStatus(ctx context.Context) Status {
	st := a.checkStatus()

	outcome := "not_activated"
	switch {
	case st.Tampered:
		outcome = "tampered"
		a.metrics.TamperDetections.Add(ctx, 1)
		a.logWarn(ctx, "status_check", "license state tampered", slog.String("reason", st.Reason))
	case st.Expired:
		outcome = "expired"
	case st.Activated:
		outcome = "activated"
	}
	a.metrics.StatusChecks.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))

	return st
}

func (a *Activator) checkStatus() Status {
	sentinel := a.store.sentinelExists()
	rec, err := a.store.loadRecord()

	switch {
	case err != nil:
		if sentinel {
			return Status{Tampered: true, Reason: reasonRecordInvalid}
		}
		return Status{Reason: reasonRecordInvalid}
	case rec == nil:
		if sentinel {
			return Status{Tampered: true, Reason: reasonRecordMissing}
		}
		return Status{}
	}

	if sentinel && !a.store.sentinelMatches(rec) {
		return Status{Tampered: true, Reason: reasonMarkerMismatch}
	}

	activatedAt := rec.ActivatedAt
	st := Status{
		Subject:     rec.Subject,
		ActivatedAt: &activatedAt,
		ExpiresAt:   rec.ExpiresAt,
	}
	if rec.ExpiredAt(a.now()) {
		st.Expired = true
		st.Reason = "license has expired"
		return st
	}
	st.Activated = true
	return st
}

// Activate verifies token and, on success, records the activation. Calls
// are queued; cancelling ctx while queued returns ctx.Err() without
// touching the lockout counter.
func (a *Activator) Activate(ctx context.Context, token string) (Result, error) {
	if err := a.sem.Acquire(ctx, 1); err != nil {
		return Result{}, err
	}
	defer a.sem.Release(1)

	if err := a.gate.Check(lockout.OpActivation); err != nil {
		a.logWarn(ctx, "activation", "activation refused while locked")
		a.recordActivationMetrics(ctx, 0, err)
		return Result{}, err
	}

	return a.traceActivation(ctx, token, func(ctx context.Context) (Result, error) {
		res, err := a.activate(ctx, token)
		if err == nil {
			if lerr := a.gate.RecordSuccess(ctx, lockout.OpActivation); lerr != nil {
				a.logError(ctx, "activation", "failed to reset lockout", slog.String("error", lerr.Error()))
			}
			return res, nil
		}

		if countsAsFailure(err) {
			st, lerr := a.gate.RecordFailure(ctx, lockout.OpActivation)
			if lerr != nil {
				a.logError(ctx, "activation", "failed to persist lockout state", slog.String("error", lerr.Error()))
			}
			a.logTokenAction(ctx, slog.LevelWarn, "activation", "activation rejected", token,
				slog.String("reason", classifyLicenseError(err)),
				slog.Uint64("consecutive_failures", uint64(st.Failures)),
				slog.Bool("locked", st.Locked))
		} else {
			a.logTokenAction(ctx, slog.LevelError, "activation", "activation failed", token,
				slog.String("error", err.Error()))
		}
		return Result{}, err
	})
}

// countsAsFailure reports whether err came from judging the token rather
// than from storage or cancellation.
func countsAsFailure(err error) bool {
	switch apperrors.TypeOf(err) {
	case apperrors.ErrTypeMalformedInput,
		apperrors.ErrTypeCryptoVerificationFailed,
		apperrors.ErrTypeExpired,
		apperrors.ErrTypeAlreadyConsumed,
		apperrors.ErrTypeTampered:
		return true
	}
	return false
}

func (a *Activator) activate(ctx context.Context, raw string) (Result, error) {
	tok, err := Parse(raw, a.tag)
	if err != nil {
		return Result{}, err
	}
	if err := a.verifier.Verify(tok); err != nil {
		return Result{}, err
	}

	now := a.now().UTC()
	if tok.Claims.ExpiredAt(now) {
		exp, _ := tok.Claims.Expiry()
		return Result{}, apperrors.NewExpiredError(exp)
	}

	fingerprint := Fingerprint(tok.Raw)
	sentinel := a.store.sentinelExists()

	registry, registryExists, err := a.store.loadRegistry()
	if err != nil {
		if sentinel {
			return Result{}, apperrors.NewTamperedError("consumed-token registry is unreadable")
		}
		a.logWarn(ctx, "activation", "discarding unreadable consumed-token registry", slog.String("error", err.Error()))
		registry = nil
	}
	if slices.Contains(registry, fingerprint) {
		return Result{}, apperrors.NewAlreadyConsumedError("this key has already been used")
	}
	if sentinel && !registryExists {
		return Result{}, apperrors.NewTamperedError("consumed-token registry is missing")
	}

	rec, recErr := a.store.loadRecord()
	switch {
	case recErr == nil && rec != nil:
		if !rec.ExpiredAt(now) && rec.KeyID != tok.Claims.KeyID {
			return Result{}, apperrors.NewAlreadyConsumedError("a valid license is already active")
		}
	case sentinel:
		keyID, ok := a.store.sentinelKeyID()
		if !ok || keyID != tok.Claims.KeyID {
			return Result{}, apperrors.NewTamperedError("this installation already has a registered license")
		}
	}

	var expiresAt *time.Time
	if exp, ok := tok.Claims.Expiry(); ok {
		expiresAt = &exp
	}
	newRec := &Record{
		Activated:        true,
		Subject:          tok.Claims.Subject,
		ActivatedAt:      now,
		TokenFingerprint: fingerprint,
		KeyID:            tok.Claims.KeyID,
		ExpiresAt:        expiresAt,
		MachineID:        a.store.device.MachineID(),
	}
	if err := a.commit(newRec, append(registry, fingerprint)); err != nil {
		return Result{}, apperrors.NewStorageError("failed to save activation", err)
	}

	a.logInfo(ctx, "activation", "license activated",
		slog.String("key_id", newRec.KeyID),
		slog.Bool("perpetual", expiresAt == nil))

	return Result{Subject: newRec.Subject, KeyID: newRec.KeyID, ExpiresAt: expiresAt}, nil
}

// commit writes registry, record and marker as one transaction.
func (a *Activator) commit(rec *Record, registry []string) error {
	sealedRegistry, err := a.store.sealRegistry(registry)
	if err != nil {
		return err
	}
	sealedRecord, err := a.store.sealRecord(rec)
	if err != nil {
		return err
	}
	sentinel, err := a.store.buildSentinel(rec.KeyID, rec.ActivatedAt)
	if err != nil {
		return err
	}

	tx := &files.Transaction{}
	for _, f := range []struct {
		path string
		data []byte
	}{
		{a.store.files.Registry, sealedRegistry},
		{a.store.files.Record, sealedRecord},
		{a.store.files.Sentinel, sentinel},
	} {
		if err := tx.Stage(f.path, f.data); err != nil {
			tx.Abort()
			return err
		}
	}
	return tx.Commit()
}

// FactoryReset removes the activation record and marker. The consumed-token
// registry is kept, so a token used before the reset stays unusable.
func (a *Activator) FactoryReset(ctx context.Context) error {
	if err := a.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer a.sem.Release(1)

	for _, path := range []string{a.store.files.Record, a.store.files.Sentinel} {
		if err := files.Remove(path); err != nil {
			a.logError(ctx, "factory_reset", "failed to remove license state", slog.String("error", err.Error()))
			return apperrors.NewStorageError("failed to reset license state", err)
		}
	}

	a.metrics.FactoryResets.Add(ctx, 1)
	a.logWarn(ctx, "factory_reset", "license state reset")
	return nil
}
