// Package telemetry records kernel activity as OpenTelemetry metrics.
package telemetry

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/lguibr/twothread/bollywood"
)

// Config configures the metrics observer.
type Config struct {
	// MeterName is the name of the meter (default: "github.com/lguibr/twothread").
	MeterName string
	// MeterVersion is the version of the meter.
	MeterVersion string
	// Provider supplies the meter. Defaults to the global provider.
	Provider metric.MeterProvider
}

// DefaultConfig returns a default metrics configuration.
func DefaultConfig() Config {
	return Config{
		MeterName:    "github.com/lguibr/twothread",
		MeterVersion: "1.0.0",
	}
}

// Metrics is a bollywood.Observer that counts transitions, deliveries, rejections and faults.
type Metrics struct {
	transitions metric.Int64Counter
	delivered   metric.Int64Counter
	rejected    metric.Int64Counter
	faults      metric.Int64Counter

	handlerDuration metric.Float64Histogram

	running metric.Int64UpDownCounter
}

var _ bollywood.Observer = (*Metrics)(nil)

// NewMetrics creates the instruments on the configured meter.
func NewMetrics(config Config) (*Metrics, error) {
	defaults := DefaultConfig()
	if config.MeterName == "" {
		config.MeterName = defaults.MeterName
	}
	if config.MeterVersion == "" {
		config.MeterVersion = defaults.MeterVersion
	}
	provider := config.Provider
	if provider == nil {
		provider = otel.GetMeterProvider()
	}
	meter := provider.Meter(config.MeterName, metric.WithInstrumentationVersion(config.MeterVersion))

	m := &Metrics{}
	var err error

	m.transitions, err = meter.Int64Counter(
		"twothread.agent.transitions",
		metric.WithDescription("Number of agent lifecycle transitions"),
		metric.WithUnit("{transition}"),
	)
	if err != nil {
		return nil, err
	}

	m.delivered, err = meter.Int64Counter(
		"twothread.messages.delivered",
		metric.WithDescription("Number of messages handled successfully"),
		metric.WithUnit("{message}"),
	)
	if err != nil {
		return nil, err
	}

	m.rejected, err = meter.Int64Counter(
		"twothread.messages.rejected",
		metric.WithDescription("Number of sends refused by the target mailbox"),
		metric.WithUnit("{message}"),
	)
	if err != nil {
		return nil, err
	}

	m.faults, err = meter.Int64Counter(
		"twothread.handler.faults",
		metric.WithDescription("Number of handler faults that quarantined an agent"),
		metric.WithUnit("{fault}"),
	)
	if err != nil {
		return nil, err
	}

	m.handlerDuration, err = meter.Float64Histogram(
		"twothread.handler.duration",
		metric.WithDescription("Handler run time"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	m.running, err = meter.Int64UpDownCounter(
		"twothread.agents.running",
		metric.WithDescription("Agents currently in the running state"),
		metric.WithUnit("{agent}"),
	)
	if err != nil {
		return nil, err
	}

	return m, nil
}

// AgentTransition counts the transition and tracks the running gauge.
func (m *Metrics) AgentTransition(_ *bollywood.PID, dispatcher string, from, to bollywood.State) {
	ctx := context.Background()
	m.transitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("dispatcher", dispatcher),
		attribute.String("to_state", string(to)),
	))
	switch {
	case to == bollywood.StateRunning:
		m.running.Add(ctx, 1, metric.WithAttributes(attribute.String("dispatcher", dispatcher)))
	case from == bollywood.StateRunning:
		m.running.Add(ctx, -1, metric.WithAttributes(attribute.String("dispatcher", dispatcher)))
	}
}

// MessageDelivered counts a handled message and records its run time.
func (m *Metrics) MessageDelivered(_ *bollywood.PID, dispatcher string, took time.Duration) {
	ctx := context.Background()
	attrs := metric.WithAttributes(attribute.String("dispatcher", dispatcher))
	m.delivered.Add(ctx, 1, attrs)
	m.handlerDuration.Record(ctx, float64(took.Microseconds())/1000, attrs)
}

// DeliveryRejected counts a refused send, labelled by cause.
func (m *Metrics) DeliveryRejected(_, _ *bollywood.PID, reason error) {
	m.rejected.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("reason", rejectionReason(reason)),
	))
}

// HandlerFault counts a quarantine.
func (m *Metrics) HandlerFault(f bollywood.Failure) {
	m.faults.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("dispatcher", f.Dispatcher),
	))
}

func rejectionReason(err error) string {
	switch {
	case errors.Is(err, bollywood.ErrDeliveryRejected):
		return "stopped"
	case errors.Is(err, bollywood.ErrMailboxFull):
		return "mailbox_full"
	case errors.Is(err, bollywood.ErrUnknownAgent):
		return "unknown_agent"
	default:
		return "other"
	}
}
