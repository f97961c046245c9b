package signal

import (
	"go.opentelemetry.io/otel/metric"

	intotel "github.com/castlab/studio/internal/otel"
)

var (
	// WebSocket connection metrics
	wsConnectionsActive metric.Int64UpDownCounter
	wsConnectionsTotal  metric.Int64Counter
	wsDisconnectsTotal  metric.Int64Counter

	// Room membership metrics
	joinsTotal    metric.Int64Counter
	joinsRejected metric.Int64Counter
	leavesTotal   metric.Int64Counter

	// Negotiation relay metrics
	relaysTotal   metric.Int64Counter
	relaysDropped metric.Int64Counter

	// Chat metrics
	chatMessagesTotal   metric.Int64Counter
	chatMessagesDropped metric.Int64Counter

	// Fan-out and persistence metrics
	broadcastsFailed   metric.Int64Counter
	rosterWritesFailed metric.Int64Counter
	roomsDeactivated   metric.Int64Counter
)

func init() {
	f := intotel.NewFactory("gateway.signal", intotel.PrefixGateway)

	f.Int64UpDownCounter(&wsConnectionsActive, "connections.active",
		metric.WithDescription("Number of active WebSocket connections"))

	f.Int64Counter(&wsConnectionsTotal, "connections.total",
		metric.WithDescription("Total WebSocket connections established"))

	f.Int64Counter(&wsDisconnectsTotal, "disconnects.total",
		metric.WithDescription("Total WebSocket disconnections"))

	f.Int64Counter(&joinsTotal, "joins.total",
		metric.WithDescription("Total successful room joins"))

	f.Int64Counter(&joinsRejected, "joins.rejected",
		metric.WithDescription("Total rejected room join attempts"))

	f.Int64Counter(&leavesTotal, "leaves.total",
		metric.WithDescription("Total room departures"))

	f.Int64Counter(&relaysTotal, "relays.total",
		metric.WithDescription("Total negotiation messages relayed"))

	f.Int64Counter(&relaysDropped, "relays.dropped",
		metric.WithDescription("Total negotiation messages dropped for a missing target"))

	f.Int64Counter(&chatMessagesTotal, "chat.messages.total",
		metric.WithDescription("Total chat messages broadcast"))

	f.Int64Counter(&chatMessagesDropped, "chat.messages.dropped",
		metric.WithDescription("Total chat messages dropped by rate limiting"))

	f.Int64Counter(&broadcastsFailed, "broadcasts.failed",
		metric.WithDescription("Total failed per-member event deliveries"))

	f.Int64Counter(&rosterWritesFailed, "roster.writes.failed",
		metric.WithDescription("Total failed roster persistence writes"))

	f.Int64Counter(&roomsDeactivated, "rooms.deactivated",
		metric.WithDescription("Total rooms marked inactive after emptying"))
}
