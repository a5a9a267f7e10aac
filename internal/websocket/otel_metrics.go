package websocket

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "idylle.websocket"

// OTelMetrics records websocket activity. A nil *OTelMetrics records nothing.
type OTelMetrics struct {
	connectionsTotal   metric.Int64Counter
	connectionsActive  metric.Int64UpDownCounter
	connectionDuration metric.Float64Histogram
	errorsTotal        metric.Int64Counter

	messagesTotal   metric.Int64Counter
	messageBytes    metric.Int64Counter
	droppedMessages metric.Int64Counter

	dispatchDuration metric.Float64Histogram
}

// NewOTelMetrics creates the instruments on the global meter provider
func NewOTelMetrics() (*OTelMetrics, error) {
	meter := otel.Meter(meterName)
	m := &OTelMetrics{}
	var err error

	if m.connectionsTotal, err = meter.Int64Counter(
		"websocket_connections_total",
		metric.WithDescription("Total number of WebSocket connections"),
	); err != nil {
		return nil, err
	}
	if m.connectionsActive, err = meter.Int64UpDownCounter(
		"websocket_connections_active",
		metric.WithDescription("Number of active WebSocket connections"),
	); err != nil {
		return nil, err
	}
	if m.connectionDuration, err = meter.Float64Histogram(
		"websocket_connection_duration_seconds",
		metric.WithDescription("Duration of WebSocket connections"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}
	if m.errorsTotal, err = meter.Int64Counter(
		"websocket_errors_total",
		metric.WithDescription("Total number of WebSocket connection errors"),
	); err != nil {
		return nil, err
	}
	if m.messagesTotal, err = meter.Int64Counter(
		"websocket_messages_total",
		metric.WithDescription("Total number of WebSocket messages"),
	); err != nil {
		return nil, err
	}
	if m.messageBytes, err = meter.Int64Counter(
		"websocket_message_bytes_total",
		metric.WithDescription("Total bytes of WebSocket messages"),
		metric.WithUnit("By"),
	); err != nil {
		return nil, err
	}
	if m.droppedMessages, err = meter.Int64Counter(
		"websocket_dropped_clients_total",
		metric.WithDescription("Clients disconnected because their send buffer was full"),
	); err != nil {
		return nil, err
	}
	if m.dispatchDuration, err = meter.Float64Histogram(
		"websocket_dispatch_duration_seconds",
		metric.WithDescription("Time spent handling one inbound frame"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return m, nil
}

// RecordConnection records a new connection
func (m *OTelMetrics) RecordConnection(ctx context.Context) {
	if m == nil {
		return
	}
	m.connectionsTotal.Add(ctx, 1)
	m.connectionsActive.Add(ctx, 1)
}

// RecordDisconnection records a closed connection and how long it lived
func (m *OTelMetrics) RecordDisconnection(ctx context.Context, duration time.Duration) {
	if m == nil {
		return
	}
	m.connectionsActive.Add(ctx, -1)
	m.connectionDuration.Record(ctx, duration.Seconds())
}

// RecordError records a connection-level error of kind
func (m *OTelMetrics) RecordError(ctx context.Context, kind string) {
	if m == nil {
		return
	}
	m.errorsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

// RecordMessage records one frame in direction "in" or "out"
func (m *OTelMetrics) RecordMessage(ctx context.Context, direction string, size int) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("direction", direction))
	m.messagesTotal.Add(ctx, 1, attrs)
	m.messageBytes.Add(ctx, int64(size), attrs)
}

// RecordDropped records a client dropped for being too slow
func (m *OTelMetrics) RecordDropped(ctx context.Context) {
	if m == nil {
		return
	}
	m.droppedMessages.Add(ctx, 1)
}

// RecordDispatch records how long the handler for event took
func (m *OTelMetrics) RecordDispatch(ctx context.Context, event string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.dispatchDuration.Record(ctx, elapsed.Seconds(),
		metric.WithAttributes(attribute.String("event", event)))
}
