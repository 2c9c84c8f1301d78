package websocket

import (
	"errors"
	"fmt"
)

// ErrConnection is yielded by Reader.Next when the transport fired an
// error event. It is not terminal — the connection may still deliver
// messages and will eventually deliver a close. When the transport
// attached a cause, Next wraps it so errors.Is(err, ErrConnection) still
// matches.
var ErrConnection = errors.New("websocket: connection error")

// CloseError is yielded by Reader.Next exactly once when the connection
// saw a close event, and always strictly before Next starts returning
// io.EOF. It carries the close frame's payload.
type CloseError struct {
	Code     uint16
	Reason   string
	WasClean bool
}

func (e *CloseError) Error() string {
	return fmt.Sprintf("websocket: connection closed: code %d, reason %q, clean %t", e.Code, e.Reason, e.WasClean)
}

// DialError wraps a transport construction failure: malformed URL,
// unsupported scheme, or whatever else the backend rejects synchronously.
type DialError struct {
	Err error
}

func (e *DialError) Error() string {
	return fmt.Sprintf("websocket: dial: %v", e.Err)
}

func (e *DialError) Unwrap() error { return e.Err }

// SendError wraps a transport send rejection — not open, payload too
// large, connection torn down mid-write. The transport's diagnostic is
// preserved for errors.Is/As.
type SendError struct {
	Err error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("websocket: send: %v", e.Err)
}

func (e *SendError) Unwrap() error { return e.Err }
