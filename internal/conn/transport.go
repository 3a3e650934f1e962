package conn

import "context"

// Transport is the gateway's view of one live session handle to the
// messaging network. The whatsmeow adapter in internal/wa implements it;
// tests substitute fakes so the manager's state machine runs without a
// network.
type Transport interface {
	// IsLoggedIn reports whether stored credentials exist for this handle.
	IsLoggedIn() bool

	// Connect opens the connection. For an unpaired handle,
	// PairingEvents must be called first.
	Connect() error

	// Disconnect closes the connection without touching credentials.
	Disconnect()

	// Logout invalidates the session on the network and wipes local
	// credentials.
	Logout(ctx context.Context) error

	// Subscribe registers a handler for lifecycle events. Must be called
	// before Connect.
	Subscribe(handler func(LifecycleEvent))

	// PairingEvents returns the stream of pairing codes and outcomes for
	// an unpaired handle. Must be called before Connect; the channel
	// closes when pairing concludes.
	PairingEvents(ctx context.Context) (<-chan PairingEvent, error)

	// SendText sends a text message to a fully qualified recipient
	// address. Returns the server-assigned message ID.
	SendText(ctx context.Context, address, body string) (string, error)

	// SetTyping toggles the composing indicator for a recipient.
	SetTyping(address string, typing bool) error

	// CheckRegistered reports whether a normalized number is registered
	// on the network.
	CheckRegistered(ctx context.Context, number string) (bool, error)

	// PhoneNumber returns the authenticated account's number, or empty.
	PhoneNumber() string
}

// TransportFactory constructs a fresh transport handle bound to the
// persistent credential store. The manager calls it on initialize and
// again after logout.
type TransportFactory func(ctx context.Context) (Transport, error)

// LifecycleKind tags a transport lifecycle event.
type LifecycleKind int

const (
	// LifecycleReady: the session is authenticated and online.
	LifecycleReady LifecycleKind = iota
	// LifecycleClosed: the connection dropped.
	LifecycleClosed
	// LifecycleLoggedOut: the network rejected our credentials.
	LifecycleLoggedOut
)

// LifecycleEvent is a transport lifecycle notification.
type LifecycleEvent struct {
	Kind   LifecycleKind
	Phone  string // set on LifecycleReady
	Detail string // human-readable reason, if any
}

// PairingEvent is one step of the pairing-code exchange.
type PairingEvent struct {
	// Kind is one of "code", "success", "timeout", "error".
	Kind string
	Code string
	Err  error
}
