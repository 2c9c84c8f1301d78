// Package nhws implements the transport contract over nhooyr.io/websocket.
// It is the primary backend: Dial validates the URL synchronously and
// returns an inert transport; Start spawns the event loop that dials,
// fires the open callback, and pumps received messages into the message
// callback until the connection dies.
package nhws

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
	"gopkg.in/tomb.v2"
	"nhooyr.io/websocket"

	"github.com/b0xtch/gloo/transport"
)

// Options configures a dial. The zero value works: no extra headers, the
// default HTTP client, and logging disabled.
type Options struct {
	Header     http.Header
	HTTPClient *http.Client
	Logger     *zerolog.Logger // nil disables logging
}

// Dialer adapts Dial to the transport.Dialer interface.
type Dialer struct {
	Options Options
}

var _ transport.Dialer = (*Dialer)(nil)

func (d *Dialer) Dial(rawURL string, protocols []string) (transport.Transport, error) {
	return Dial(rawURL, protocols, d.Options)
}

// Transport is a single websocket connection driven by a tomb-managed
// event loop. Callbacks must be registered before Start and are invoked
// sequentially from the loop goroutine.
type Transport struct {
	url       string
	protocols []string
	opts      Options
	log       zerolog.Logger

	tmb   tomb.Tomb
	state atomic.Int32 // one of the transport.State* values

	// Registered before Start, read only by the loop goroutine after.
	onOpen    func()
	onMessage func(payload any)
	onError   func(err error)
	onClose   func(ev transport.CloseEvent)
	binary    bool
	started   bool

	mu              sync.Mutex // guards everything below
	conn            *websocket.Conn
	subprotocol     string
	extensions      string
	closeRequested  bool
	requestedCode   uint16
	requestedReason string
}

var _ transport.Transport = (*Transport)(nil)

// Dial validates rawURL and returns a transport in the Connecting state.
// It does not touch the network — that happens after Start. Validation
// failures (unparseable URL, non-ws scheme) are the only errors returned
// here; connect failures surface later as error+close events.
func Dial(rawURL string, protocols []string, opts Options) (*Transport, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("nhws: invalid url: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return nil, fmt.Errorf("nhws: unsupported scheme %q, want ws or wss", u.Scheme)
	}

	log := zerolog.Nop()
	if opts.Logger != nil {
		log = *opts.Logger
	}

	t := &Transport{
		url:       rawURL,
		protocols: protocols,
		opts:      opts,
		log:       log,
	}
	t.state.Store(transport.StateConnecting)
	return t, nil
}

// SetBinaryMode records the materialized-payload requirement. This
// backend always reads whole messages into memory before invoking the
// message callback, so the mode is inherently satisfied; the method
// exists so consumers can rely on the contract regardless of backend.
func (t *Transport) SetBinaryMode() { t.binary = true }

func (t *Transport) OnOpen(fn func())                         { t.onOpen = fn }
func (t *Transport) OnMessage(fn func(payload any))           { t.onMessage = fn }
func (t *Transport) OnError(fn func(err error))               { t.onError = fn }
func (t *Transport) OnClose(fn func(ev transport.CloseEvent)) { t.onClose = fn }

// Start launches the event loop. Call exactly once, after registration.
func (t *Transport) Start() {
	t.started = true
	t.tmb.Go(t.run)
}

func (t *Transport) run() error {
	ctx := t.tmb.Context(nil)

	conn, resp, err := websocket.Dial(ctx, t.url, &websocket.DialOptions{
		Subprotocols: t.protocols,
		HTTPHeader:   t.opts.Header,
		HTTPClient:   t.opts.HTTPClient,
	})
	if err != nil {
		if resp != nil && resp.Body != nil {
			resp.Body.Close()
		}
		t.log.Error().Err(err).Str("url", t.url).Msg("websocket dial failed")
		t.state.Store(transport.StateClosed)
		if t.onError != nil {
			t.onError(err)
		}
		if t.onClose != nil {
			t.onClose(transport.CloseEvent{Code: 1006})
		}
		return nil
	}

	t.mu.Lock()
	t.conn = conn
	t.subprotocol = conn.Subprotocol()
	if resp != nil {
		t.extensions = resp.Header.Get("Sec-WebSocket-Extensions")
	}
	t.mu.Unlock()

	t.state.Store(transport.StateOpen)
	t.log.Info().Str("url", t.url).Str("subprotocol", conn.Subprotocol()).Msg("websocket connected")
	if t.onOpen != nil {
		t.onOpen()
	}

	// A close requested while the dial was in flight lands here once the
	// connection exists; honor it now so the read loop can report it.
	t.mu.Lock()
	requested := t.closeRequested
	code, reason := t.requestedCode, t.requestedReason
	t.mu.Unlock()
	if requested {
		t.state.Store(transport.StateClosing)
		_ = conn.Close(websocket.StatusCode(code), reason)
	}

	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			t.finish(err)
			return nil
		}
		switch typ {
		case websocket.MessageText:
			if t.onMessage != nil {
				t.onMessage(string(data))
			}
		case websocket.MessageBinary:
			if t.onMessage != nil {
				t.onMessage(data)
			}
		}
	}
}

// finish maps the read-loop exit error onto a close event. A close frame
// from the peer carries its own code and reason; a locally requested
// close that died without one reports the requested pair. Anything else
// is an abnormal closure: error event first, then close 1006.
func (t *Transport) finish(err error) {
	t.mu.Lock()
	requested := t.closeRequested
	code, reason := t.requestedCode, t.requestedReason
	t.mu.Unlock()

	clean := requested
	if !requested {
		code, reason = 1006, ""
	}
	var ce websocket.CloseError
	if errors.As(err, &ce) {
		code, reason = uint16(ce.Code), ce.Reason
		clean = true
	}

	t.state.Store(transport.StateClosed)
	t.log.Info().Uint16("code", code).Str("reason", reason).Bool("clean", clean).Msg("websocket closed")

	if !clean && t.onError != nil {
		t.onError(err)
	}
	if t.onClose != nil {
		t.onClose(transport.CloseEvent{Code: code, Reason: reason, WasClean: clean})
	}
}

func (t *Transport) SendText(s string) error {
	return t.send(websocket.MessageText, []byte(s))
}

func (t *Transport) SendBytes(b []byte) error {
	return t.send(websocket.MessageBinary, b)
}

func (t *Transport) send(typ websocket.MessageType, data []byte) error {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()
	if conn == nil || t.state.Load() != transport.StateOpen {
		return transport.ErrNotOpen
	}
	return conn.Write(t.tmb.Context(nil), typ, data)
}

// Close performs a default graceful close. The wire protocol requires a
// code on an explicit close frame, so the default maps to 1000.
func (t *Transport) Close() error {
	return t.close(websocket.StatusNormalClosure, "")
}

func (t *Transport) CloseWithCode(code uint16) error {
	if err := transport.ValidateClose(code, ""); err != nil {
		return err
	}
	return t.close(websocket.StatusCode(code), "")
}

func (t *Transport) CloseWithStatus(code uint16, reason string) error {
	if err := transport.ValidateClose(code, reason); err != nil {
		return err
	}
	return t.close(websocket.StatusCode(code), reason)
}

func (t *Transport) close(code websocket.StatusCode, reason string) error {
	t.mu.Lock()
	conn := t.conn
	t.closeRequested = true
	t.requestedCode, t.requestedReason = uint16(code), reason
	t.mu.Unlock()

	if conn == nil {
		if !t.started {
			// never connected, nothing on the wire to close
			t.state.Store(transport.StateClosed)
			return nil
		}
		// still connecting: abort the dial, the loop reports the close
		t.state.Store(transport.StateClosing)
		t.tmb.Kill(nil)
		return nil
	}

	if t.state.Load() == transport.StateClosed {
		return nil
	}
	t.state.Store(transport.StateClosing)
	return conn.Close(code, reason)
}

func (t *Transport) ReadyState() int {
	return int(t.state.Load())
}

func (t *Transport) Extensions() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.extensions
}

func (t *Transport) Protocol() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.subprotocol
}
