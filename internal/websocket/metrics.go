package websocket

import (
	"fmt"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

// MeterName is the instrumentation scope for hub metrics.
const MeterName = "casevault/websocket"

// Metrics holds the hub's OpenTelemetry instruments.
type Metrics struct {
	Connections     metric.Int64UpDownCounter
	MessagesSent    metric.Int64Counter
	DroppedMessages metric.Int64Counter
}

// InitializeMetrics creates the hub instruments on meter.
func InitializeMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	m.Connections, err = meter.Int64UpDownCounter("websocket_connections_active",
		metric.WithDescription("Number of connected event stream clients"))
	if err != nil {
		return nil, fmt.Errorf("failed to create connections counter: %w", err)
	}
	m.MessagesSent, err = meter.Int64Counter("websocket_messages_total",
		metric.WithDescription("Events delivered to clients"))
	if err != nil {
		return nil, fmt.Errorf("failed to create messages counter: %w", err)
	}
	m.DroppedMessages, err = meter.Int64Counter("websocket_dropped_messages_total",
		metric.WithDescription("Events dropped because a queue was full"))
	if err != nil {
		return nil, fmt.Errorf("failed to create dropped counter: %w", err)
	}
	return m, nil
}

func noopMetrics() *Metrics {
	m, _ := InitializeMetrics(noop.NewMeterProvider().Meter(MeterName))
	return m
}
