package websocket

import (
	"fmt"

	"github.com/b0xtch/gloo/transport"
)

// State is the connection state as the transport reports it right now.
// It is never cached — every query re-reads the transport, so two
// consecutive calls can legitimately disagree.
type State int

const (
	StateConnecting State = iota // handshake in flight, sends would block
	StateOpen                    // live, messages flowing both ways
	StateClosing                 // close handshake started, not yet done
	StateClosed                  // terminal
)

// String returns a readable name for logs and test output.
func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// stateOf maps a transport ready-state value onto State. The transport
// contract guarantees the value is one of {0,1,2,3}; anything else is a
// broken backend, not a runtime condition, so it panics.
func stateOf(readyState int) State {
	switch readyState {
	case transport.StateConnecting:
		return StateConnecting
	case transport.StateOpen:
		return StateOpen
	case transport.StateClosing:
		return StateClosing
	case transport.StateClosed:
		return StateClosed
	default:
		panic(fmt.Sprintf("websocket: transport reported ready state %d, outside 0-3", readyState))
	}
}
