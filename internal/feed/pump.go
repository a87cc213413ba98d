// Package feed forwards broadcaster subscriptions to live-feed transports.
package feed

import (
	"context"
	"strings"

	"aerosense-sim/internal/broadcast"
	"aerosense-sim/internal/logging"
	"aerosense-sim/internal/observability"
	"aerosense-sim/internal/telemetry"
)

// Sink delivers events to one external transport.
type Sink interface {
	Name() string
	Send(ctx context.Context, ev telemetry.Event) error
}

// Pump drains sub into sink until ctx is canceled or the subscription closes.
// Delivery errors are logged and counted; they never stop the pump, and the
// hub's bounded queue keeps a slow sink from reaching the simulator.
func Pump(ctx context.Context, sub *broadcast.Subscription, sink Sink, m *observability.Metrics) {
	log := logging.FromContext(ctx).With("transport", sink.Name(), "subscriber", sub.ID)
	log.Info("feed pump started")
	defer log.Info("feed pump stopped")

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.C:
			if !ok {
				return
			}
			err := sink.Send(ctx, ev)
			outcome := "success"
			if err != nil {
				outcome = "error"
				log.Warn("feed delivery failed", "event", ev.Kind, "site_id", ev.SiteID(), "err", err)
			}
			if m != nil {
				m.FeedDeliveries.WithLabelValues(sink.Name(), outcome).Inc()
			}
		}
	}
}

// Transport returns the transport part of a subscriber id: "ws-<uuid>" maps to
// "ws", and ids without a dash are returned unchanged.
func Transport(subscriberID string) string {
	if i := strings.IndexByte(subscriberID, '-'); i > 0 {
		return subscriberID[:i]
	}
	return subscriberID
}

// CountDrops returns a hub drop hook that counts dropped events per transport,
// keeping the metric's label set bounded however many subscribers come and go.
func CountDrops(m *observability.Metrics) broadcast.DropFunc {
	return func(subscriberID string) {
		m.EventsDropped.WithLabelValues(Transport(subscriberID)).Inc()
	}
}
