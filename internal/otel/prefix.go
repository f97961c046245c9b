package otel

// Metric prefixes per service area.
const (
	PrefixGateway = "gateway"
	PrefixRooms   = "rooms"
	PrefixUsers   = "users"
)
