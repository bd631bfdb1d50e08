package transport

import "context"

// Transport opens messaging sessions against the upstream provider. The
// gateway core never touches the wire protocol; it consumes the event stream
// a Handle exposes and issues the two commands the lifecycle needs.
type Transport interface {
	// Open dials a new session for the tenant. priorCreds is the last
	// credential state persisted for the tenant (nil for a first pairing);
	// implementations use it to resume authentication without a fresh QR
	// scan. Open returns once the session is dialing; authentication
	// progress arrives as events.
	Open(ctx context.Context, tenantID string, priorCreds []byte) (Handle, error)
}

// Handle is one live transport session, exclusively owned by the session
// entry it was opened for.
type Handle interface {
	// Events returns the session's event stream. The channel is closed when
	// the underlying session is torn down; events for a single handle are
	// delivered in emission order.
	Events() <-chan Event

	// Logout asks the provider to invalidate the pairing. The transport
	// follows up with a terminal Closed event.
	Logout(ctx context.Context) error
}

// Event is a tagged union; exactly one concrete type below is carried per
// value.
type Event interface {
	isEvent()
}

// QR carries a freshly issued pairing code. The transport may emit several
// per attempt as codes expire; each supersedes the previous one.
type QR struct {
	Value string
}

// Opened signals the session is authenticated and ready.
type Opened struct{}

// Closed signals the session dropped. Terminal closes (explicit logout,
// pairing revoked) must not be retried; anything else is transient.
type Closed struct {
	Code     int
	Terminal bool
}

// CredsChanged carries the updated credential state blob. The core persists
// it so a later Open can resume the pairing.
type CredsChanged struct {
	State []byte
}

// Message carries one inbound message.
type Message struct {
	Raw RawMessage
}

func (QR) isEvent()           {}
func (Opened) isEvent()       {}
func (Closed) isEvent()       {}
func (CredsChanged) isEvent() {}
func (Message) isEvent()      {}

// RawMessage is the provider-shaped inbound payload before normalization.
// Content maps provider content keys (conversation, imageMessage, ...) to
// their raw values; the forwarder picks the first key it recognizes.
type RawMessage struct {
	ID       string
	Sender   string
	FromSelf bool
	UnixTime int64
	Content  map[string]any
}
