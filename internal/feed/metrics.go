package feed

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// feedMetrics instruments the manager. All record methods are safe on a
// nil receiver and when an instrument failed to initialize, so the manager
// never branches on whether telemetry is wired up.
type feedMetrics struct {
	received    metric.Int64Counter
	dispatched  metric.Int64Counter
	parseErrors metric.Int64Counter
	unknown     metric.Int64Counter
	dropped     metric.Int64Counter
	sent        metric.Int64Counter
	directives  metric.Int64Counter
	reconnects  metric.Int64Counter
	dispatchDur metric.Float64Histogram

	queueDepth    metric.Int64ObservableGauge
	subscriptions metric.Int64ObservableGauge
	connState     metric.Int64ObservableGauge
}

func newFeedMetrics(m *manager) *feedMetrics {
	if m == nil {
		return nil
	}

	meter := otel.Meter("marketfeed/feed")
	fm := &feedMetrics{}

	fm.received, _ = meter.Int64Counter("marketfeed_feed_messages_received",
		metric.WithDescription("Frames received from the streaming gateway"),
		metric.WithUnit("{message}"))

	fm.dispatched, _ = meter.Int64Counter("marketfeed_feed_messages_dispatched",
		metric.WithDescription("Messages delivered to a registered handler"),
		metric.WithUnit("{message}"))

	fm.parseErrors, _ = meter.Int64Counter("marketfeed_feed_parse_errors",
		metric.WithDescription("Inbound frames dropped as malformed"),
		metric.WithUnit("{message}"))

	fm.unknown, _ = meter.Int64Counter("marketfeed_feed_unknown_types",
		metric.WithDescription("Inbound messages with no registered handler"),
		metric.WithUnit("{message}"))

	fm.dropped, _ = meter.Int64Counter("marketfeed_feed_inbound_dropped",
		metric.WithDescription("Inbound frames dropped because the message buffer was full"),
		metric.WithUnit("{message}"))

	fm.sent, _ = meter.Int64Counter("marketfeed_feed_messages_sent",
		metric.WithDescription("Outbound messages written to the gateway"),
		metric.WithUnit("{message}"))

	fm.directives, _ = meter.Int64Counter("marketfeed_feed_directives_sent",
		metric.WithDescription("Subscribe/unsubscribe directives written during drains and replays"),
		metric.WithUnit("{message}"))

	fm.reconnects, _ = meter.Int64Counter("marketfeed_feed_reconnects",
		metric.WithDescription("Reconnection cycles entered after a connection failure"),
		metric.WithUnit("{reconnect}"))

	fm.dispatchDur, _ = meter.Float64Histogram("marketfeed_feed_dispatch_duration",
		metric.WithDescription("Handler execution time per dispatched message"),
		metric.WithUnit("ms"))

	fm.queueDepth, _ = meter.Int64ObservableGauge("marketfeed_feed_queue_depth",
		metric.WithDescription("Outbound messages waiting for a live connection"),
		metric.WithUnit("{message}"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(int64(m.queue.Len()))
			return nil
		}))

	fm.subscriptions, _ = meter.Int64ObservableGauge("marketfeed_feed_subscriptions",
		metric.WithDescription("Channels in the subscription set"),
		metric.WithUnit("{channel}"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			m.mu.Lock()
			n := len(m.subs)
			m.mu.Unlock()
			o.Observe(int64(n))
			return nil
		}))

	fm.connState, _ = meter.Int64ObservableGauge("marketfeed_feed_connection_state",
		metric.WithDescription("Connection state ordinal (0 disconnected through 4 error)"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(stateOrdinal(m.State()))
			return nil
		}))

	return fm
}

// stateOrdinal maps states onto a stable numeric scale for gauges.
func stateOrdinal(s State) int64 {
	switch s {
	case StateDisconnected:
		return 0
	case StateConnecting:
		return 1
	case StateConnected:
		return 2
	case StateReconnecting:
		return 3
	case StateError:
		return 4
	default:
		return -1
	}
}

func (fm *feedMetrics) recordReceived() {
	if fm == nil || fm.received == nil {
		return
	}
	fm.received.Add(context.Background(), 1)
}

func (fm *feedMetrics) recordDispatch(msgType string, d time.Duration) {
	if fm == nil {
		return
	}
	ctx := context.Background()
	attrs := metric.WithAttributes(attribute.String("type", msgType))
	if fm.dispatched != nil {
		fm.dispatched.Add(ctx, 1, attrs)
	}
	if fm.dispatchDur != nil {
		fm.dispatchDur.Record(ctx, float64(d.Microseconds())/1000.0, attrs)
	}
}

func (fm *feedMetrics) recordParseError() {
	if fm == nil || fm.parseErrors == nil {
		return
	}
	fm.parseErrors.Add(context.Background(), 1)
}

func (fm *feedMetrics) recordUnknownType(msgType string) {
	if fm == nil || fm.unknown == nil {
		return
	}
	fm.unknown.Add(context.Background(), 1,
		metric.WithAttributes(attribute.String("type", msgType)))
}

func (fm *feedMetrics) recordInboundDrop() {
	if fm == nil || fm.dropped == nil {
		return
	}
	fm.dropped.Add(context.Background(), 1)
}

func (fm *feedMetrics) recordSent(msgType string) {
	if fm == nil || fm.sent == nil {
		return
	}
	fm.sent.Add(context.Background(), 1,
		metric.WithAttributes(attribute.String("type", msgType)))
}

func (fm *feedMetrics) recordDirective(msgType string) {
	if fm == nil || fm.directives == nil {
		return
	}
	fm.directives.Add(context.Background(), 1,
		metric.WithAttributes(attribute.String("type", msgType)))
}

func (fm *feedMetrics) recordReconnect() {
	if fm == nil || fm.reconnects == nil {
		return
	}
	fm.reconnects.Add(context.Background(), 1)
}
