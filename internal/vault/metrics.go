package vault

import (
	"fmt"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

const (
	TracerName = "casevault/vault"
	MeterName  = "casevault/vault"
)

// Metrics holds the vault's OpenTelemetry instruments.
type Metrics struct {
	UnlockAttempts    metric.Int64Counter
	UnlockFailures    metric.Int64Counter
	Locks             metric.Int64Counter
	BiometricFailures metric.Int64Counter
	KDFDuration       metric.Float64Histogram
}

// InitializeMetrics creates the instruments on meter.
func InitializeMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	if m.UnlockAttempts, err = meter.Int64Counter(
		"vault_unlock_attempts_total",
		metric.WithDescription("Vault unlock attempts by method"),
	); err != nil {
		return nil, fmt.Errorf("failed to create unlock attempts counter: %w", err)
	}

	if m.UnlockFailures, err = meter.Int64Counter(
		"vault_unlock_failures_total",
		metric.WithDescription("Failed vault unlocks by method and reason"),
	); err != nil {
		return nil, fmt.Errorf("failed to create unlock failures counter: %w", err)
	}

	if m.Locks, err = meter.Int64Counter(
		"vault_locks_total",
		metric.WithDescription("Vault locks by reason"),
	); err != nil {
		return nil, fmt.Errorf("failed to create locks counter: %w", err)
	}

	if m.BiometricFailures, err = meter.Int64Counter(
		"vault_biometric_failures_total",
		metric.WithDescription("Failed or cancelled biometric prompts"),
	); err != nil {
		return nil, fmt.Errorf("failed to create biometric failures counter: %w", err)
	}

	if m.KDFDuration, err = meter.Float64Histogram(
		"vault_kdf_duration_seconds",
		metric.WithDescription("Argon2id key derivation time"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, fmt.Errorf("failed to create kdf duration histogram: %w", err)
	}

	return m, nil
}

func noopMetrics() *Metrics {
	m, _ := InitializeMetrics(noop.NewMeterProvider().Meter(MeterName))
	return m
}
