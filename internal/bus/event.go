package bus

import "time"

// Event represents a domain event published on the bus.
//
// Kinds are dot-separated names grouped by namespace: "transport." for
// connection lifecycle, "message." and "friend." for store changes,
// "notify." for inbound chat notifications and "session." for
// controller status changes.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}
