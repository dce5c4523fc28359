package lockout

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"

	"casevault/internal/config"
	apperrors "casevault/internal/errors"
)

// Operation names an independently counted gate.
type Operation string

const (
	OpActivation Operation = "activation"
	OpVault      Operation = "vault"
)

// Status is the observable state of one operation.
type Status struct {
	Locked      bool
	Remaining   time.Duration
	Failures    uint32
	LockedUntil time.Time
}

// RemainingSeconds rounds Remaining up to whole seconds.
func (s Status) RemainingSeconds() int64 {
	return apperrors.RemainingSeconds(s.Remaining)
}

// Notifier is called after every state change, outside the controller lock.
type Notifier func(op Operation, status Status)

// Controller counts consecutive failures per operation and enforces an
// escalating, capped backoff once the threshold is reached. All methods are
// serialized by a single mutex and every change is written to the Store
// before the method returns.
type Controller struct {
	mu      sync.Mutex
	store   Store
	records map[Operation]Record

	threshold uint32
	baseDelay time.Duration
	maxDelay  time.Duration

	now      func() time.Time
	logger   *slog.Logger
	notifier Notifier

	engagements metric.Int64Counter
	failures    metric.Int64Counter
}

// Option configures a Controller.
type Option func(*Controller)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) {
		c.now = now
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Controller) {
		c.logger = logger
	}
}

// WithConfig applies threshold and delays from configuration.
func WithConfig(cfg config.LockoutConfig) Option {
	return func(c *Controller) {
		c.threshold = cfg.Threshold
		c.baseDelay = cfg.BaseDelay
		c.maxDelay = cfg.MaxDelay
	}
}

// WithNotifier registers a callback for state changes.
func WithNotifier(n Notifier) Option {
	return func(c *Controller) {
		c.notifier = n
	}
}

// WithMeter records failures and lockout engagements on meter.
func WithMeter(meter metric.Meter) Option {
	return func(c *Controller) {
		if meter == nil {
			return
		}
		if counter, err := meter.Int64Counter("lockout_engagements_total",
			metric.WithDescription("Number of times an operation entered the locked state")); err == nil {
			c.engagements = counter
		}
		if counter, err := meter.Int64Counter("lockout_failures_total",
			metric.WithDescription("Failed attempts recorded by the lockout controller")); err == nil {
			c.failures = counter
		}
	}
}

// New loads persisted state from store and returns a Controller. A state
// file that cannot be parsed is quarantined when the store supports it and
// every operation starts locked at the threshold, so damaging the file never
// yields a fresh attempt budget.
func New(store Store, opts ...Option) (*Controller, error) {
	if store == nil {
		return nil, errors.New("lockout store is required")
	}

	defaults := config.Default().Lockout
	noopMeter := noop.NewMeterProvider().Meter("lockout")
	engagements, _ := noopMeter.Int64Counter("lockout_engagements_total")
	failures, _ := noopMeter.Int64Counter("lockout_failures_total")

	c := &Controller{
		store:       store,
		threshold:   defaults.Threshold,
		baseDelay:   defaults.BaseDelay,
		maxDelay:    defaults.MaxDelay,
		now:         time.Now,
		logger:      slog.Default(),
		engagements: engagements,
		failures:    failures,
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.threshold == 0 || c.baseDelay <= 0 || c.maxDelay < c.baseDelay {
		return nil, errors.New("invalid lockout configuration")
	}
	c.logger = c.logger.With("component", "lockout")

	records, err := store.Load()
	if err != nil {
		c.logger.Warn("lockout state unreadable, starting locked",
			slog.String("action", "load"),
			slog.String("result", "locked"),
			slog.String("error", err.Error()))
		if q, ok := store.(interface{ Quarantine() error }); ok {
			if qerr := q.Quarantine(); qerr != nil {
				return nil, qerr
			}
		}
		c.records = c.lockedRecords()
		if err := c.persistLocked(); err != nil {
			c.logger.Error("failed to persist lockout state", slog.String("error", err.Error()))
		}
		return c, nil
	}
	c.records = records

	return c, nil
}

func (c *Controller) lockedRecords() map[Operation]Record {
	now := c.now()
	until := now.Add(c.baseDelay)
	records := make(map[Operation]Record, 2)
	for _, op := range []Operation{OpActivation, OpVault} {
		failedAt, lockedUntil := now, until
		records[op] = Record{
			ConsecutiveFailures: c.threshold,
			LastFailureAt:       &failedAt,
			LockedUntil:         &lockedUntil,
		}
	}
	return records
}

// Backoff returns the lock duration after failures consecutive failures.
// It is zero below the threshold, base at the threshold, and doubles per
// additional failure up to ceiling.
func Backoff(failures, threshold uint32, base, ceiling time.Duration) time.Duration {
	if failures < threshold {
		return 0
	}
	d := base
	for i := failures - threshold; i > 0; i-- {
		d *= 2
		if d >= ceiling || d <= 0 {
			return ceiling
		}
	}
	return min(d, ceiling)
}

// Status reports the current state of op, clearing an expired lock.
func (c *Controller) Status(op Operation) Status {
	c.mu.Lock()
	st, changed := c.observeLocked(op)
	var err error
	if changed {
		err = c.persistLocked()
	}
	c.mu.Unlock()

	if err != nil {
		c.logger.Error("failed to persist lockout expiry", slog.String("operation", string(op)), slog.String("error", err.Error()))
	}
	if changed {
		c.notify(op, st)
	}
	return st
}

// Check returns a LOCKED AppError carrying the remaining time when op is
// locked.
func (c *Controller) Check(op Operation) error {
	st := c.Status(op)
	if st.Locked {
		return apperrors.NewLockedError(st.Remaining)
	}
	return nil
}

// RecordFailure counts one failed attempt. The returned status reflects the
// new count even when persisting fails; the error is then non-nil.
func (c *Controller) RecordFailure(ctx context.Context, op Operation) (Status, error) {
	c.mu.Lock()
	before, _ := c.observeLocked(op)

	now := c.now()
	rec := c.records[op]
	rec.ConsecutiveFailures++
	rec.LastFailureAt = &now

	if delay := Backoff(rec.ConsecutiveFailures, c.threshold, c.baseDelay, c.maxDelay); delay > 0 {
		until := now.Add(delay)
		if rec.LockedUntil == nil || until.After(*rec.LockedUntil) {
			rec.LockedUntil = &until
		}
	}
	c.records[op] = rec

	st := c.statusLocked(op, now)
	err := c.persistLocked()
	c.mu.Unlock()

	attrs := metric.WithAttributes(attribute.String("operation", string(op)))
	c.failures.Add(ctx, 1, attrs)

	logger := c.logger.With(
		slog.String("operation", string(op)),
		slog.Uint64("failures", uint64(st.Failures)))
	if st.Locked && !before.Locked {
		c.engagements.Add(ctx, 1, attrs)
		logger.WarnContext(ctx, "lockout engaged",
			slog.String("action", "record_failure"),
			slog.String("result", "locked"),
			slog.Int64("remaining_seconds", st.RemainingSeconds()))
	} else {
		logger.InfoContext(ctx, "failure recorded",
			slog.String("action", "record_failure"),
			slog.String("result", "counted"))
	}
	if err != nil {
		logger.ErrorContext(ctx, "failed to persist lockout state", slog.String("error", err.Error()))
	}

	c.notify(op, st)
	return st, err
}

// RecordSuccess clears the counter and any lock for op.
func (c *Controller) RecordSuccess(ctx context.Context, op Operation) error {
	return c.clear(ctx, op, "record_success")
}

// Reset clears op unconditionally. It is an operator and test helper.
func (c *Controller) Reset(ctx context.Context, op Operation) error {
	return c.clear(ctx, op, "reset")
}

func (c *Controller) clear(ctx context.Context, op Operation, action string) error {
	c.mu.Lock()
	rec, ok := c.records[op]
	if !ok || (rec.ConsecutiveFailures == 0 && rec.LockedUntil == nil) {
		c.mu.Unlock()
		return nil
	}
	delete(c.records, op)
	err := c.persistLocked()
	c.mu.Unlock()

	c.logger.InfoContext(ctx, "lockout cleared",
		slog.String("operation", string(op)),
		slog.String("action", action),
		slog.String("result", "cleared"))
	if err != nil {
		c.logger.ErrorContext(ctx, "failed to persist lockout state", slog.String("error", err.Error()))
	}
	c.notify(op, Status{})
	return err
}

// observeLocked returns the status of op and reports whether an expired
// lock was cleared. Caller holds c.mu.
func (c *Controller) observeLocked(op Operation) (Status, bool) {
	now := c.now()
	rec, ok := c.records[op]
	changed := false
	if ok && rec.LockedUntil != nil && !now.Before(*rec.LockedUntil) {
		rec.LockedUntil = nil
		c.records[op] = rec
		changed = true
	}
	return c.statusLocked(op, now), changed
}

func (c *Controller) statusLocked(op Operation, now time.Time) Status {
	rec := c.records[op]
	st := Status{Failures: rec.ConsecutiveFailures}
	if rec.LockedUntil != nil && now.Before(*rec.LockedUntil) {
		st.Locked = true
		st.Remaining = rec.LockedUntil.Sub(now)
		st.LockedUntil = *rec.LockedUntil
	}
	return st
}

func (c *Controller) persistLocked() error {
	return c.store.Save(copyRecords(c.records))
}

func (c *Controller) notify(op Operation, st Status) {
	if c.notifier != nil {
		c.notifier(op, st)
	}
}
