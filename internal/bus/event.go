package bus

import "time"

// Event is a domain event published on the bus.
//
// Gateway event kinds by namespace:
//
//	session.phase_changed — connection manager phase transitions
//	session.pairing_code  — a new pairing code is available for scanning
//	session.logged_out    — credentials rejected by the network
//	dispatch.sent         — one message accepted by the transport
//	dispatch.failed       — one message rejected or errored
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}
