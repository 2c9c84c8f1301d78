// Package websocket adapts an event-driven, callback-based duplex
// transport into two cooperating halves: a Writer that accepts messages
// for transmission once the connection is ready, and a Reader that yields
// received messages in event order until the connection terminates.
//
// The core guarantee is ordering: every transport event becomes exactly
// one observation on the Reader (or a wake-up on the Writer), in exactly
// the order the transport emitted it, and a close event's payload is
// always observed before the stream ends.
//
//	conn, err := websocket.Open(&nhws.Dialer{}, "wss://echo.example.org")
//	if err != nil {
//		// handle err
//	}
//	w, r := conn.Split()
//
//	go func() {
//		w.Ready(ctx)
//		w.Send(websocket.Text("hello"))
//		w.Release()
//	}()
//
//	for {
//		msg, err := r.Next(ctx)
//		if err == io.EOF {
//			break
//		}
//		// handle msg / err
//	}
//	r.Release()
package websocket

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/b0xtch/gloo/transport"
)

// Conn is the adapter over a single transport connection. It owns the
// transport handle, the pending-sender wake-up slot, and the consumer end
// of the notification queue. Exactly one Conn exists per connection.
//
// A Conn is both halves in one: it carries the full Writer and Reader
// method sets. Split hands out separable halves sharing this Conn.
type Conn struct {
	tr    transport.Transport
	ready readySlot
	queue *notifyQueue

	// streamDone latches once Next has returned io.EOF. Only the single
	// stream consumer touches it.
	streamDone bool

	// handles counts live owning handles: 1 for an unsplit Conn, 2 after
	// Split. The last release tears the transport down.
	handles atomic.Int32
	split   atomic.Bool

	// closeCalled records an explicit Close/CloseWithStatus the transport
	// accepted, so the implicit close-on-release doesn't issue a second
	// one. A rejected close does not count: the connection is still live
	// and release must still close it.
	closeCalled atomic.Bool
	releaseOnce sync.Once
}

// Open establishes a connection to url via the given dialer and returns
// the adapter. Errors the dialer reports synchronously (malformed URL,
// unsupported scheme) come back as *DialError, with no callbacks ever
// registered against the transport. A successful return does not mean the
// connection is open yet — it is Connecting until the transport reports
// otherwise; Writer.Ready waits for that.
func Open(d transport.Dialer, url string) (*Conn, error) {
	return open(d, url, nil)
}

// OpenWithProtocol is Open with a single sub-protocol offered during the
// handshake. The negotiated result is available from Protocol once open.
func OpenWithProtocol(d transport.Dialer, url, protocol string) (*Conn, error) {
	return open(d, url, []string{protocol})
}

// OpenWithProtocols is Open offering several sub-protocols; the server
// picks one (or none).
func OpenWithProtocols(d transport.Dialer, url string, protocols []string) (*Conn, error) {
	return open(d, url, protocols)
}

func open(d transport.Dialer, url string, protocols []string) (*Conn, error) {
	tr, err := d.Dial(url, protocols)
	if err != nil {
		return nil, &DialError{Err: err}
	}
	return New(tr), nil
}

// New wraps an already-dialed (but not yet started) transport. Most
// callers want Open; New exists for custom transports and for tests.
// New configures binary mode, registers the event relay, and starts the
// transport — the transport must not have delivered any event yet.
func New(tr transport.Transport) *Conn {
	c := &Conn{
		tr:    tr,
		queue: newNotifyQueue(),
	}
	c.handles.Store(1)

	// Binary mode first: payloads must be materialized synchronously so
	// that decoding a message cannot reorder it past a neighboring event.
	tr.SetBinaryMode()
	tr.OnOpen(c.onOpen)
	tr.OnMessage(c.onMessage)
	tr.OnError(c.onError)
	tr.OnClose(c.onClose)
	tr.Start()

	return c
}

// Split separates the Conn into an outbound-only and an inbound-only
// handle over the same connection. After Split, lifetime is owned by the
// halves: each half's Release drops one reference and the last one closes
// the transport (see Writer.Release). The Conn's own Release becomes a
// no-op.
//
// Split may be called at most once; a second call would hand out handles
// over references the first pair already owns, so it panics.
func (c *Conn) Split() (*Writer, *Reader) {
	if !c.split.CompareAndSwap(false, true) {
		panic("websocket: connection split twice")
	}
	c.handles.Store(2)
	return &Writer{c: c}, &Reader{c: c}
}

// State reports the connection state as the transport sees it right now.
// Nothing is cached; the transport is authoritative.
func (c *Conn) State() State {
	return stateOf(c.tr.ReadyState())
}

// Extensions reports the negotiated extensions, empty until Open.
func (c *Conn) Extensions() string {
	return c.tr.Extensions()
}

// Protocol reports the negotiated sub-protocol, empty until Open.
func (c *Conn) Protocol() string {
	return c.tr.Protocol()
}

// Close performs a default graceful close. The adapter is spent after a
// Close call: drain the Reader for the close event and io.EOF, then
// Release any halves.
func (c *Conn) Close() error {
	err := c.tr.Close()
	if err == nil {
		c.closeCalled.Store(true)
	}
	return err
}

// CloseWithStatus closes with an explicit code and/or reason:
//
//   - code 0, reason ""    — same as Close
//   - code set, reason ""   — close with code only
//   - code set, reason set  — close with code and reason
//   - code 0, reason set    — close with the protocol's "no status" code
//     (1005) paired with the reason; transports reject 1005 as an
//     explicit code, so this combination surfaces the transport's error
//
// The transport validates the code range and reason length; its error is
// returned unchanged. A rejected close leaves the connection live, and
// the implicit close-on-release still applies to it.
func (c *Conn) CloseWithStatus(code uint16, reason string) error {
	var err error
	switch {
	case code == 0 && reason == "":
		err = c.tr.Close()
	case reason == "":
		err = c.tr.CloseWithCode(code)
	case code == 0:
		err = c.tr.CloseWithStatus(noStatusCode, reason)
	default:
		err = c.tr.CloseWithStatus(code, reason)
	}
	if err == nil {
		c.closeCalled.Store(true)
	}
	return err
}

// noStatusCode is the reserved "no status received" close code, used when
// a close specifies a reason but no code.
const noStatusCode uint16 = 1005

// Release drops an unsplit Conn's single reference, closing the transport
// if no explicit close happened (fire-and-forget: a failure here has no
// caller to report to). After Split the halves own the references and
// this is a no-op.
func (c *Conn) Release() {
	if c.split.Load() {
		return
	}
	c.releaseOnce.Do(c.teardown)
}

// release drops one reference from a split half.
func (c *Conn) release() {
	if c.handles.Add(-1) == 0 {
		c.teardown()
	}
}

// teardown runs when the last owning handle goes away: stop accepting
// notifications and close the transport, unless someone already closed it
// explicitly or the connection is already fully Closed.
func (c *Conn) teardown() {
	c.queue.close()
	if c.closeCalled.Load() || c.State() == StateClosed {
		return
	}
	// Fire and forget — teardown has no caller to report failure to.
	_ = c.tr.Close()
}

// Event relay: the four callbacks the transport invokes from its event
// loop. They forward into the notification queue (or wake a pending
// sender) and return immediately — anything slow here would stall the
// transport and break event ordering.

func (c *Conn) onOpen() {
	// Readiness is observed by live state query, not as a stream item, so
	// nothing is pushed — just wake whoever is waiting to send.
	c.ready.wake()
}

func (c *Conn) onMessage(payload any) {
	switch p := payload.(type) {
	case string:
		c.queue.push(notification{kind: notifyMessage, msg: Text(p)})
	case []byte:
		c.queue.push(notification{kind: notifyMessage, msg: Bytes(p)})
	default:
		// The transport contract admits exactly two payload shapes. A
		// third is a broken backend, not a runtime condition.
		panic(fmt.Sprintf("websocket: transport delivered message payload of type %T", payload))
	}
}

func (c *Conn) onError(err error) {
	c.queue.push(notification{kind: notifyError, err: err})
}

func (c *Conn) onClose(ev transport.CloseEvent) {
	// The close payload goes in first, the terminal marker right behind
	// it, in the same push sequence — this is what lets the stream
	// guarantee the close reason is observed before end-of-stream.
	c.queue.push(notification{kind: notifyClose, close: ev})
	c.queue.push(notification{kind: notifyClosed})
}
