package license

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"

	apperrors "casevault/internal/errors"
	"casevault/internal/infrastructure"
)

const (
	TracerName = "casevault/license"
	MeterName  = "casevault/license"
)

// LicenseMetrics holds the activator's OpenTelemetry instruments.
type LicenseMetrics struct {
	ActivationAttempts metric.Int64Counter
	ActivationSuccess  metric.Int64Counter
	ActivationFailures metric.Int64Counter
	ActivationDuration metric.Float64Histogram

	StatusChecks     metric.Int64Counter
	TamperDetections metric.Int64Counter
	FactoryResets    metric.Int64Counter
}

// InitializeLicenseMetrics creates the instruments on meter.
func InitializeLicenseMetrics(meter metric.Meter) (*LicenseMetrics, error) {
	m := &LicenseMetrics{}
	var err error

	if m.ActivationAttempts, err = meter.Int64Counter(
		"license_activation_attempts_total",
		metric.WithDescription("Total number of license activation attempts"),
	); err != nil {
		return nil, fmt.Errorf("failed to create activation attempts counter: %w", err)
	}

	if m.ActivationSuccess, err = meter.Int64Counter(
		"license_activation_success_total",
		metric.WithDescription("Total number of successful license activations"),
	); err != nil {
		return nil, fmt.Errorf("failed to create activation success counter: %w", err)
	}

	if m.ActivationFailures, err = meter.Int64Counter(
		"license_activation_failures_total",
		metric.WithDescription("Failed license activations by reason"),
	); err != nil {
		return nil, fmt.Errorf("failed to create activation failures counter: %w", err)
	}

	if m.ActivationDuration, err = meter.Float64Histogram(
		"license_activation_duration_seconds",
		metric.WithDescription("License activation duration in seconds"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, fmt.Errorf("failed to create activation duration histogram: %w", err)
	}

	if m.StatusChecks, err = meter.Int64Counter(
		"license_status_checks_total",
		metric.WithDescription("License status checks by outcome"),
	); err != nil {
		return nil, fmt.Errorf("failed to create status checks counter: %w", err)
	}

	if m.TamperDetections, err = meter.Int64Counter(
		"license_tamper_detections_total",
		metric.WithDescription("Tampered license state observations"),
	); err != nil {
		return nil, fmt.Errorf("failed to create tamper counter: %w", err)
	}

	if m.FactoryResets, err = meter.Int64Counter(
		"license_factory_resets_total",
		metric.WithDescription("Factory resets of the activation state"),
	); err != nil {
		return nil, fmt.Errorf("failed to create factory reset counter: %w", err)
	}

	return m, nil
}

func noopLicenseMetrics() *LicenseMetrics {
	m, _ := InitializeLicenseMetrics(noop.NewMeterProvider().Meter(MeterName))
	return m
}

// traceActivation wraps an activation attempt in a span and records metrics.
func (a *Activator) traceActivation(ctx context.Context, token string, fn func(context.Context) (Result, error)) (Result, error) {
	tracer := a.tracer
	if tracer == nil {
		tracer = otel.Tracer(TracerName)
	}

	ctx, span := tracer.Start(ctx, "license.activation",
		trace.WithAttributes(
			attribute.String("license.operation", "activation"),
			attribute.String("license.key_prefix", maskToken(token)),
		),
	)
	defer span.End()

	start := time.Now()
	res, err := fn(ctx)
	duration := time.Since(start)

	a.recordActivationMetrics(ctx, duration, err)

	span.SetAttributes(
		attribute.Float64("license.duration_ms", float64(duration.Milliseconds())),
		attribute.Bool("license.success", err == nil),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(apperrors.TypeOf(err)))
		span.SetAttributes(attribute.String("license.error_type", classifyLicenseError(err)))
	} else {
		span.SetStatus(codes.Ok, "license activated")
		infrastructure.AddSpanEvent(ctx, "license.activation.success",
			attribute.String("license_key_hash", hashToken(token)))
	}

	return res, err
}

func (a *Activator) recordActivationMetrics(ctx context.Context, duration time.Duration, err error) {
	labels := metric.WithAttributes(attribute.String("operation", "activation"))

	a.metrics.ActivationAttempts.Add(ctx, 1, labels)
	a.metrics.ActivationDuration.Record(ctx, duration.Seconds(), labels)

	if err == nil {
		a.metrics.ActivationSuccess.Add(ctx, 1, labels)
		return
	}
	a.metrics.ActivationFailures.Add(ctx, 1, metric.WithAttributes(
		attribute.String("operation", "activation"),
		attribute.String("reason", classifyLicenseError(err)),
	))
	if apperrors.TypeOf(err) == apperrors.ErrTypeTampered {
		a.metrics.TamperDetections.Add(ctx, 1)
	}
}

// classifyLicenseError names the failure for logs and metric labels.
func classifyLicenseError(err error) string {
	switch apperrors.TypeOf(err) {
	case "":
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return "cancelled"
		}
		return "internal"
	case apperrors.ErrTypeMalformedInput:
		return "malformed"
	case apperrors.ErrTypeCryptoVerificationFailed:
		return "bad_signature"
	case apperrors.ErrTypeExpired:
		return "expired"
	case apperrors.ErrTypeAlreadyConsumed:
		return "already_consumed"
	case apperrors.ErrTypeLocked:
		return "locked"
	case apperrors.ErrTypeTampered:
		return "tampered"
	default:
		return "internal"
	}
}
