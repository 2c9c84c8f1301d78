package transport

import "errors"

// ErrNotOpen is returned when you try to send on a transport whose
// connection is not in the Open state. Named errors like this let callers
// check the exact cause with errors.Is() instead of comparing raw strings.
var ErrNotOpen = errors.New("transport: connection is not open")

// Close-validation errors. The WebSocket protocol only permits applications
// to close with code 1000 or a code in the 3000-4999 range, and caps the
// close reason at 123 UTF-8 bytes (it has to fit a control frame together
// with the two code bytes).
var (
	ErrInvalidCloseCode   = errors.New("transport: close code must be 1000 or in range 3000-4999")
	ErrCloseReasonTooLong = errors.New("transport: close reason exceeds 123 bytes")
)

// Ready states, mirroring the classic WebSocket numeric readyState values.
// Every Transport reports exactly one of these from ReadyState().
const (
	StateConnecting = 0 // handshake in flight, no events delivered yet
	StateOpen       = 1 // connection established, sends permitted
	StateClosing    = 2 // close initiated, waiting for the handshake to finish
	StateClosed     = 3 // fully closed, terminal
)

// CloseEvent carries the payload of a transport close notification.
// Code and Reason come from the close frame (or 1006 with no reason when
// the connection died without one); WasClean reports whether the close
// handshake completed properly.
type CloseEvent struct {
	Code     uint16
	Reason   string
	WasClean bool
}

// Transport is the contract every duplex message transport must satisfy.
// The adapter core only ever talks to this interface — it never imports
// nhws, gorilla, or anything concrete.
//
// Lifecycle: Dial (via a Dialer) returns an inert Transport in the
// Connecting state. The consumer calls SetBinaryMode, registers all four
// callbacks, and then calls Start. No event is delivered before Start.
//
// Event delivery contract: callbacks are invoked sequentially from a
// single event-loop goroutine, never concurrently with each other. The
// invocation order is the order events occurred on the wire — consumers
// build their ordering guarantees on top of this one.
type Transport interface {
	// SetBinaryMode requires the transport to deliver message payloads
	// fully materialized — binary frames as []byte, text frames as string —
	// before the message callback runs. Any asynchronous payload
	// materialization would risk reordering relative to adjacent events.
	// Must be called before Start.
	SetBinaryMode()

	// Callback registration. Must happen before Start; a nil callback
	// means the consumer does not care about that event.
	OnOpen(fn func())
	// OnMessage delivers the payload as either a string (text frame) or a
	// []byte (binary frame). No other payload type is ever passed.
	OnMessage(fn func(payload any))
	OnError(fn func(err error))
	OnClose(fn func(ev CloseEvent))

	// Start begins connecting and delivering events. A connect failure
	// after Start surfaces as an error event followed by a close event
	// (code 1006, not clean) — Start itself does not report it.
	Start()

	// Sends. Rejected with an error (ErrNotOpen or a backend error) when
	// the connection is not Open — callers are not expected to pre-check.
	SendText(s string) error
	SendBytes(b []byte) error

	// Closes. Close performs a default graceful close; the code/reason
	// variants validate their arguments (see ValidateClose) before
	// touching the connection. Safe to call while still Connecting —
	// the connect is aborted and the close event follows.
	Close() error
	CloseWithCode(code uint16) error
	CloseWithStatus(code uint16, reason string) error

	// Live state queries. ReadyState returns one of the State* constants
	// above; Extensions and Protocol report the negotiated extensions and
	// sub-protocol, empty until the connection is Open.
	ReadyState() int
	Extensions() string
	Protocol() string
}

// Dialer opens transports. Dial validates the URL synchronously and
// returns a construction error without side effects; the returned
// Transport has not started connecting yet.
type Dialer interface {
	Dial(url string, protocols []string) (Transport, error)
}

// ValidateClose checks a close code/reason pair against the limits the
// protocol imposes on application-initiated closes. Reserved codes
// (including 1005, "no status") are rejected — only 1000 and the
// application range 3000-4999 may be sent explicitly.
func ValidateClose(code uint16, reason string) error {
	if code != 1000 && (code < 3000 || code > 4999) {
		return ErrInvalidCloseCode
	}
	if len(reason) > 123 {
		return ErrCloseReasonTooLong
	}
	return nil
}
